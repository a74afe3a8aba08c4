package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

func TestNonceRoundTrip(t *testing.T) {
	a := NewAuthenticator("secret")

	nonce := a.MintNonce("alice")
	require.True(t, a.VerifyNonce("alice", nonce))
	require.False(t, a.VerifyNonce("bob", nonce))
	require.False(t, a.VerifyNonce("alice", "forged"))

	// A different secret yields different nonces.
	require.False(t, NewAuthenticator("other").VerifyNonce("alice", nonce))
}

func TestMiddleware(t *testing.T) {
	e := echo.New()
	a := NewAuthenticator("secret")
	handler := Middleware(a)(func(c echo.Context) error {
		return c.String(http.StatusOK, Principal(c))
	})

	// Anonymous request passes with no nonce.
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "", rec.Body.String())
	require.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	// Claimed principal needs a valid nonce.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(PrincipalHeader, "alice")
	req.Header.Set(NonceHeader, a.MintNonce("alice"))
	rec = httptest.NewRecorder()
	require.NoError(t, handler(e.NewContext(req, rec)))
	require.Equal(t, "alice", rec.Body.String())

	// Bad nonce is rejected.
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(PrincipalHeader, "alice")
	req.Header.Set(NonceHeader, "forged")
	rec = httptest.NewRecorder()
	err := handler(e.NewContext(req, rec))
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusUnauthorized, httpErr.Code)
}
