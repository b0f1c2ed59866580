package middleware

import (
	"net/http"
	"strings"

	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	echo "github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

const (
	APIKeyHeader = "X-API-Key"

	ctxTenantID  = "tenant_id"
	ctxTenantRPS = "tenant_rps"
)

// TenantIDFromCtx extracts the authenticated tenant set by APIKeyMiddleware.
func TenantIDFromCtx(c echo.Context) (string, bool) {
	id, ok := c.Get(ctxTenantID).(string)
	return id, ok && id != ""
}

// APIKeyMiddleware authenticates requests using the X-API-Key header and
// rejects suspended tenants.
func APIKeyMiddleware(tenants repository.TenantsRepository) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := strings.TrimSpace(c.Request().Header.Get(APIKeyHeader))
			if key == "" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing api key"})
			}
			t, err := tenants.GetByAPIKey(c.Request().Context(), key)
			if err != nil {
				logger.Log.Error("tenant lookup failed", zap.Error(err))
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "auth error"})
			}
			if t == nil || t.Status != "active" {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid api key"})
			}
			c.Set(ctxTenantID, t.ID)
			if t.RateLimitRPS != nil {
				c.Set(ctxTenantRPS, *t.RateLimitRPS)
			}
			return next(c)
		}
	}
}
