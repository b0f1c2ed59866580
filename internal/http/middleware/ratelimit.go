package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/jmehdipour/webhook-gateway/internal/logger"
	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RateLimitConfig config for Redis-based RPS limiter.
type RateLimitConfig struct {
	Redis          redis.Cmdable
	DefaultRPS     int           // fallback if the tenant has no own limit
	KeyPrefix      string        // e.g. "rl:tenant:"
	Window         time.Duration // usually 1s
	RetryAfterHint bool          // set Retry-After header when limited
	Now            func() time.Time
}

// RateLimitMiddleware applies a fixed-window per-tenant request limit.
// It expects tenant_id in echo.Context (set by APIKeyMiddleware). When Redis is
// unreachable requests are let through.
func RateLimitMiddleware(cfg RateLimitConfig) echo.MiddlewareFunc {
	if cfg.Window <= 0 {
		cfg.Window = time.Second
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "rl:tenant:"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID, ok := TenantIDFromCtx(c)
			if !ok {
				return next(c)
			}

			max := cfg.DefaultRPS
			if m, ok := c.Get(ctxTenantRPS).(int); ok && m > 0 {
				max = m
			}
			if max <= 0 || cfg.Redis == nil {
				return next(c)
			}

			// fixed-window key: rl:tenant:{id}:{window index}
			now := cfg.Now()
			window := now.UnixNano() / int64(cfg.Window)
			key := cfg.KeyPrefix + tenantID + ":" + strconv.FormatInt(window, 10)

			ctx := c.Request().Context()
			pipe := cfg.Redis.Pipeline()
			cnt := pipe.Incr(ctx, key)
			pipe.Expire(ctx, key, cfg.Window*2)
			if _, err := pipe.Exec(ctx); err != nil {
				logger.Log.Warn("rate limiter unavailable", zap.Error(err))
				return next(c)
			}

			if cnt.Val() > int64(max) {
				if cfg.RetryAfterHint {
					remain := cfg.Window - time.Duration(now.UnixNano()%int64(cfg.Window))
					secs := int((remain + time.Second - 1) / time.Second)
					c.Response().Header().Set("Retry-After", strconv.Itoa(secs))
				}
				return c.JSON(http.StatusTooManyRequests, map[string]string{"error": "rate limited"})
			}
			return next(c)
		}
	}
}
