package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

func TestRateLimiterAllow(t *testing.T) {
	rl := NewRateLimiter(time.Hour, 2)

	require.True(t, rl.Allow("alice"))
	require.True(t, rl.Allow("alice"))
	require.False(t, rl.Allow("alice"))

	// Each key has its own bucket.
	require.True(t, rl.Allow("bob"))
}

func TestRateLimitMiddleware(t *testing.T) {
	e := echo.New()
	rl := NewRateLimiter(time.Hour, 1)
	handler := RateLimitMiddleware(rl, func(echo.Context) string { return "alice" })(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Contains(t, rec.Body.String(), "retry_after")
}
