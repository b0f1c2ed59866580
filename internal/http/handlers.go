package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/jmehdipour/webhook-gateway/internal/http/middleware"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/service/admin"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

type handlers struct {
	svc *admin.Service
}

// writeError maps domain errors onto status codes; anything unknown is a 500.
func writeError(c echo.Context, err error) error {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": "not found"})
	case errors.Is(err, model.ErrNotRetryable):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	case admin.IsClientError(err):
		return c.JSON(http.StatusBadRequest, map[string]string{"error": err.Error()})
	}
	logger.Log.Error("request failed",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Path()),
		zap.Error(err))
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func queryInt(c echo.Context, name string, def, min, max int) int {
	v := c.QueryParam(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < min || n > max {
		return def
	}
	return n
}

// ---- event types / events ----

func (h *handlers) listEventTypes(c echo.Context) error {
	types := h.svc.ListSupportedEventTypes()
	return c.JSON(http.StatusOK, map[string]any{"event_types": types, "total": len(types)})
}

func (h *handlers) listEvents(c echo.Context) error {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	limit := queryInt(c, "limit", 50, 1, 1000)
	events, err := h.svc.ListEvents(c.Request().Context(), tenantID, strings.TrimSpace(c.QueryParam("type")), limit)
	if err != nil {
		return writeError(c, err)
	}
	if events == nil {
		events = []model.Event{}
	}
	return c.JSON(http.StatusOK, map[string]any{"items": events, "limit": limit})
}

func (h *handlers) getEvent(c echo.Context) error {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	e, err := h.svc.GetEvent(c.Request().Context(), tenantID, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *handlers) eventStats(c echo.Context) error {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	st, err := h.svc.EventStats(c.Request().Context(), tenantID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

// ---- webhooks ----

type createWebhookReq struct {
	Name     string   `json:"name"`
	URL      string   `json:"url"`
	Events   []string `json:"events"`
	IsActive *bool    `json:"is_active"`
}

type updateWebhookReq struct {
	Name     *string  `json:"name"`
	URL      *string  `json:"url"`
	Events   []string `json:"events"`
	IsActive *bool    `json:"is_active"`
}

// webhookView never carries the secret, only a masked hint.
type webhookView struct {
	model.Webhook
	SecretHint string `json:"secret_hint"`
}

func viewOf(w model.Webhook) webhookView {
	return webhookView{Webhook: w, SecretHint: w.SecretHint()}
}

func (h *handlers) createWebhook(c echo.Context) error {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	var req createWebhookReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
	}

	w, err := h.svc.CreateWebhook(c.Request().Context(), tenantID, admin.CreateWebhookInput{
		Name:     req.Name,
		URL:      req.URL,
		Events:   req.Events,
		IsActive: req.IsActive,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *handlers) listWebhooks(c echo.Context) error {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	var active *bool
	if v := c.QueryParam("active"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid active filter"})
		}
		active = &b
	}

	hooks, err := h.svc.ListWebhooks(c.Request().Context(), tenantID, active)
	if err != nil {
		return writeError(c, err)
	}
	items := make([]webhookView, 0, len(hooks))
	for _, w := range hooks {
		items = append(items, viewOf(w))
	}
	return c.JSON(http.StatusOK, map[string]any{"items": items, "total": len(items)})
}

func (h *handlers) getWebhook(c echo.Context) error {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	w, err := h.svc.GetWebhook(c.Request().Context(), tenantID, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(*w))
}

func (h *handlers) updateWebhook(c echo.Context) error {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	var req updateWebhookReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "bad request"})
	}

	w, err := h.svc.UpdateWebhook(c.Request().Context(), tenantID, c.Param("id"), admin.UpdateWebhookInput{
		Name:     req.Name,
		URL:      req.URL,
		Events:   req.Events,
		IsActive: req.IsActive,
	})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, viewOf(*w))
}

func (h *handlers) deleteWebhook(c echo.Context) error {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	if err := h.svc.DeleteWebhook(c.Request().Context(), tenantID, c.Param("id")); err != nil {
		return writeError(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// ---- deliveries ----

func (h *handlers) listDeliveries(c echo.Context) error {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}

	f := model.DeliveryFilter{
		Limit:  queryInt(c, "limit", 50, 1, 1000),
		Offset: queryInt(c, "offset", 0, 0, 1<<30),
	}
	if raw := strings.TrimSpace(c.QueryParam("status")); raw != "" {
		st := model.DeliveryStatus(raw)
		if !st.Valid() {
			return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid status"})
		}
		f.Status = st
	}

	rows, err := h.svc.ListDeliveries(c.Request().Context(), tenantID, c.Param("id"), f)
	if err != nil {
		return writeError(c, err)
	}
	if rows == nil {
		rows = []model.Delivery{}
	}
	return c.JSON(http.StatusOK, map[string]any{
		"items":  rows,
		"limit":  f.Limit,
		"offset": f.Offset,
	})
}

func (h *handlers) retryDelivery(c echo.Context) error {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	d, err := h.svc.RetryDelivery(c.Request().Context(), tenantID, c.Param("id"), c.Param("delivery_id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusAccepted, d)
}

// ---- stats ----

func (h *handlers) webhookStats(c echo.Context) error {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	st, err := h.svc.GetStats(c.Request().Context(), tenantID, c.Param("id"))
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, st)
}

func (h *handlers) tenantSummary(c echo.Context) error {
	tenantID, ok := middleware.TenantIDFromCtx(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
	}
	sum, err := h.svc.TenantSummary(c.Request().Context(), tenantID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(http.StatusOK, sum)
}
