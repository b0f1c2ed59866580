package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jmehdipour/webhook-gateway/internal/model"
	"github.com/jmehdipour/webhook-gateway/internal/repository/memory"
	echo "github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLimitedEcho(t *testing.T, rdb redis.Cmdable, now func() time.Time) *echo.Echo {
	t.Helper()
	limit := 1
	tenants := memory.NewTenants(
		model.Tenant{ID: "t1", APIKey: "k1", Status: "active"},
		model.Tenant{ID: "t2", APIKey: "k2", Status: "active", RateLimitRPS: &limit},
	)
	e := echo.New()
	g := e.Group("", APIKeyMiddleware(tenants), RateLimitMiddleware(RateLimitConfig{
		Redis:          rdb,
		DefaultRPS:     2,
		RetryAfterHint: true,
		Now:            now,
	}))
	g.GET("/ping", func(c echo.Context) error {
		id, _ := TenantIDFromCtx(c)
		return c.String(http.StatusOK, id)
	})
	return e
}

func hit(e *echo.Echo, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set(APIKeyHeader, key)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRateLimitPerTenantWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2026, 1, 1, 0, 0, 0, 100*int(time.Millisecond), time.UTC)
	e := newLimitedEcho(t, rdb, func() time.Time { return now })

	assert.Equal(t, http.StatusOK, hit(e, "k1").Code)
	assert.Equal(t, "t1", hit(e, "k1").Body.String())
	rec := hit(e, "k1")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))

	// tenant override is stricter and counted separately
	assert.Equal(t, http.StatusOK, hit(e, "k2").Code)
	assert.Equal(t, http.StatusTooManyRequests, hit(e, "k2").Code)

	now = now.Add(time.Second)
	assert.Equal(t, http.StatusOK, hit(e, "k1").Code)
}

func TestRateLimitFailsOpenWithoutRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })
	mr.Close()

	e := newLimitedEcho(t, rdb, time.Now)
	for i := 0; i < 5; i++ {
		require.Equal(t, http.StatusOK, hit(e, "k1").Code)
	}
}
