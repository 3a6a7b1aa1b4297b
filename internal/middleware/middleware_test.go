package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/seat-reservation-engine/internal/config"
	"github.com/iliyamo/seat-reservation-engine/internal/logger"
	"github.com/iliyamo/seat-reservation-engine/internal/utils"
)

func ok(c echo.Context) error {
	return c.JSON(http.StatusOK, echo.Map{"user": currentUserID(c), "role": c.Get("role")})
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthAndRoles(t *testing.T) {
	e := echo.New()
	e.GET("/me", ok, JWTAuth("secret"), RequireRole(RoleOperator, RoleAdmin))

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)

	req.Header.Set("Authorization", "Bearer not-a-token")
	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)

	wrong, err := utils.NewAccessToken("other", 7, RoleOperator, time.Minute)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+wrong.Token)
	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)

	customer, err := utils.NewAccessToken("secret", 7, RoleCustomer, time.Minute)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+customer.Token)
	assert.Equal(t, http.StatusForbidden, serve(e, req).Code)

	operator, err := utils.NewAccessToken("secret", 9, RoleOperator, time.Minute)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+operator.Token)
	rec := serve(e, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"user":"9","role":"OPERATOR"}`, rec.Body.String())

	expired, err := utils.NewAccessToken("secret", 9, RoleOperator, -time.Minute)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+expired.Token)
	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)
}

func TestInternalKey(t *testing.T) {
	e := echo.New()
	e.PUT("/status", ok, InternalKey("k-123"))

	req := httptest.NewRequest(http.MethodPut, "/status", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)
	req.Header.Set("X-Internal-Key", "wrong")
	assert.Equal(t, http.StatusUnauthorized, serve(e, req).Code)
	req.Header.Set("X-Internal-Key", "k-123")
	assert.Equal(t, http.StatusOK, serve(e, req).Code)

	open := echo.New()
	open.PUT("/status", ok, InternalKey(""))
	req.Header.Set("X-Internal-Key", "")
	assert.Equal(t, http.StatusUnauthorized, serve(open, req).Code, "an unset key locks the route")
}

func TestRequestLogger_SetsRequestID(t *testing.T) {
	e := echo.New()
	e.Use(RequestLogger(logger.Discard()))
	e.GET("/x", ok)

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.NotEmpty(t, rec.Header().Get(echo.HeaderXRequestID))

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(echo.HeaderXRequestID, "abc")
	assert.Equal(t, "abc", serve(e, req).Header().Get(echo.HeaderXRequestID))
}

func TestRequestLogger_ScopesHandlerLogger(t *testing.T) {
	log, hook := logtest.NewNullLogger()
	e := echo.New()
	e.Use(RequestLogger(log))
	e.GET("/x", func(c echo.Context) error {
		Logger(c).Error("inside")
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(echo.HeaderXRequestID, "rid-1")
	serve(e, req)

	entries := hook.AllEntries()
	require.Len(t, entries, 2)
	assert.Equal(t, "inside", entries[0].Message)
	assert.Equal(t, logrus.ErrorLevel, entries[0].Level)
	assert.Equal(t, "rid-1", entries[0].Data["request_id"])
	assert.Equal(t, "request", entries[1].Message)
}

func TestLogger_FallsBackToStandardLogger(t *testing.T) {
	c := echo.New().NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	assert.Same(t, logrus.StandardLogger(), Logger(c))
}

func limitCfg() config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            time.Hour,
		KeyStrategy:    "ip",
		Prefix:         "rl",
		LocalRPS:       0.001,
		LocalBurst:     2,
	}
}

func TestTokenBucket_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	e := echo.New()
	e.POST("/seats/hold", ok, NewTokenBucket(limitCfg(), rdb))

	for i := 0; i < 2; i++ {
		rec := serve(e, httptest.NewRequest(http.MethodPost, "/seats/hold", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}
	rec := serve(e, httptest.NewRequest(http.MethodPost, "/seats/hold", nil))
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.True(t, mr.Exists("rl:ip:192.0.2.1"))
}

func TestTokenBucket_LocalFallback(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	for name, scripter := range map[string]redis.Scripter{"no redis": nil, "redis down": rdb} {
		t.Run(name, func(t *testing.T) {
			e := echo.New()
			e.POST("/seats/hold", ok, NewTokenBucket(limitCfg(), scripter))

			for i := 0; i < 2; i++ {
				assert.Equal(t, http.StatusOK, serve(e, httptest.NewRequest(http.MethodPost, "/seats/hold", nil)).Code)
			}
			assert.Equal(t, http.StatusTooManyRequests, serve(e, httptest.NewRequest(http.MethodPost, "/seats/hold", nil)).Code)
		})
	}
}

func TestTokenBucket_Disabled(t *testing.T) {
	cfg := limitCfg()
	cfg.Enabled = false
	e := echo.New()
	e.POST("/seats/hold", ok, NewTokenBucket(cfg, nil))
	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, serve(e, httptest.NewRequest(http.MethodPost, "/seats/hold", nil)).Code)
	}
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodPost, "/seats/hold", nil), httptest.NewRecorder())
	c.SetPath("/seats/hold")
	c.Set("user_id", float64(7))

	cfg := limitCfg()
	cfg.KeyStrategy = "user_route"
	assert.Equal(t, "rl:user:7:route:POST /seats/hold", buildRateKey(cfg, c))
	cfg.KeyStrategy = ""
	assert.Equal(t, "rl:ip:192.0.2.1:user:7:route:POST /seats/hold", buildRateKey(cfg, c))
}
