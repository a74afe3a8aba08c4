package generation

import (
	"fmt"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/sashabaranov/go-openai"
)

// ErrNotConfigured is returned when no API key is configured.
var ErrNotConfigured = errors.New("generation backend is not configured, set PARLEY_AI_API_KEY")

// defaultRetryAfter is the retry hint used when the backend rate limits a
// request without saying how long to wait.
const defaultRetryAfter = 15 * time.Second

// RateLimitError carries the backend's retry hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by backend, retry after %s", e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return e.Err
}

// wrapBackendError classifies a backend failure. HTTP 429 responses become
// a RateLimitError so callers can surface the retry hint; everything else
// passes through unchanged.
func wrapBackendError(err error) error {
	if err == nil {
		return nil
	}
	var rateLimit *RateLimitError
	if errors.As(err, &rateLimit) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429 {
		return &RateLimitError{RetryAfter: defaultRetryAfter, Err: err}
	}
	return err
}

// IsRetriable reports whether a request may be retried: rate limits,
// server-side failures, and network errors qualify. Auth and request
// errors do not.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}

	var rateLimit *RateLimitError
	if errors.As(err, &rateLimit) {
		return true
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// RetryAfterHint extracts a backend retry hint when the error carries one.
func RetryAfterHint(err error) (time.Duration, bool) {
	var rateLimit *RateLimitError
	if errors.As(err, &rateLimit) && rateLimit.RetryAfter > 0 {
		return rateLimit.RetryAfter, true
	}
	return 0, false
}

// IsRateLimited reports whether the error is a backend rate limit.
func IsRateLimited(err error) bool {
	var rateLimit *RateLimitError
	if errors.As(err, &rateLimit) {
		return true
	}
	var apiErr *openai.APIError
	return errors.As(err, &apiErr) && apiErr.HTTPStatusCode == 429
}
