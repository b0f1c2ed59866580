package http

import (
	"context"
	"net/http"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/config"
	"github.com/jmehdipour/webhook-gateway/internal/http/middleware"
	"github.com/jmehdipour/webhook-gateway/internal/logger"
	"github.com/jmehdipour/webhook-gateway/internal/repository"
	"github.com/jmehdipour/webhook-gateway/internal/service/admin"
	"github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Deps are the collaborators the admin API needs.
type Deps struct {
	Admin   *admin.Service
	Tenants repository.TenantsRepository
	Redis   redis.Cmdable // optional; nil disables rate limiting
	// Ready reports whether backing stores are reachable; nil means always ready.
	Ready func(ctx context.Context) error
}

type Server struct{ e *echo.Echo }

func NewServer(cfg config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Logger.SetLevel(log.ERROR)
	e.Use(echoMid.Recover(), echoMid.RequestLoggerWithConfig(echoMid.RequestLoggerConfig{
		LogMethod:  true,
		LogURI:     true,
		LogStatus:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v echoMid.RequestLoggerValues) error {
			logger.Log.Info("http request",
				zap.String("method", v.Method),
				zap.String("uri", v.URI),
				zap.Int("status", v.Status),
				zap.Duration("latency", v.Latency))
			return nil
		},
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error {
		if deps.Ready != nil {
			ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
			defer cancel()
			if err := deps.Ready(ctx); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	// middlewares
	authMW := middleware.APIKeyMiddleware(deps.Tenants)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          deps.Redis,
		DefaultRPS:     cfg.RateLimit.RPS,
		KeyPrefix:      "rl:tenant:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	h := &handlers{svc: deps.Admin}

	// routes
	v1 := e.Group("/v1", authMW, rlMW)
	v1.GET("/event-types", h.listEventTypes)
	v1.GET("/events", h.listEvents)
	v1.GET("/events/stats", h.eventStats)
	v1.GET("/events/:id", h.getEvent)

	v1.POST("/webhooks", h.createWebhook)
	v1.GET("/webhooks", h.listWebhooks)
	v1.GET("/webhooks/stats", h.tenantSummary)
	v1.GET("/webhooks/:id", h.getWebhook)
	v1.PATCH("/webhooks/:id", h.updateWebhook)
	v1.DELETE("/webhooks/:id", h.deleteWebhook)
	v1.GET("/webhooks/:id/deliveries", h.listDeliveries)
	v1.POST("/webhooks/:id/deliveries/:delivery_id/retry", h.retryDelivery)
	v1.GET("/webhooks/:id/stats", h.webhookStats)

	return &Server{e: e}
}

// Handler exposes the router, mainly for httptest.
func (s *Server) Handler() http.Handler { return s.e }

func (s *Server) Start(addr string) error {
	logger.Log.Info("http: listening", zap.String("addr", addr))
	err := s.e.Start(addr)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
