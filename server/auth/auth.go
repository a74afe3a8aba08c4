// Package auth holds the authentication boundary primitives. The host
// application owns real authentication; handlers only consume the principal
// and nonce decision extracted here.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

const (
	// PrincipalHeader names the authenticated caller. Empty means anonymous.
	PrincipalHeader = "X-Parley-Principal"
	// NonceHeader carries the per-principal request nonce.
	NonceHeader = "X-Parley-Nonce"
	// RequestIDHeader carries the request id echoed back to the client.
	RequestIDHeader = "X-Request-Id"

	principalContextKey = "parley.principal"
)

// Authenticator mints and verifies principal nonces from a shared secret.
type Authenticator struct {
	secret []byte
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// MintNonce derives the nonce for a principal. Anonymous callers share the
// empty-principal nonce.
func (a *Authenticator) MintNonce(principal string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(principal))
	return hex.EncodeToString(mac.Sum(nil)[:16])
}

// VerifyNonce checks a presented nonce in constant time.
func (a *Authenticator) VerifyNonce(principal, nonce string) bool {
	expected := a.MintNonce(principal)
	return hmac.Equal([]byte(expected), []byte(nonce))
}

// Principal returns the caller bound to the request, or "" for anonymous.
func Principal(c echo.Context) string {
	if principal, ok := c.Get(principalContextKey).(string); ok {
		return principal
	}
	return ""
}

// Middleware resolves the principal header, verifies the nonce when a
// principal is claimed, and tags the request with an id for log correlation.
func Middleware(authenticator *Authenticator) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			requestID := c.Request().Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			c.Response().Header().Set(RequestIDHeader, requestID)

			principal := c.Request().Header.Get(PrincipalHeader)
			if principal != "" {
				nonce := c.Request().Header.Get(NonceHeader)
				if !authenticator.VerifyNonce(principal, nonce) {
					return echo.NewHTTPError(http.StatusUnauthorized, "invalid nonce")
				}
			}
			c.Set(principalContextKey, principal)

			return next(c)
		}
	}
}
