package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/parleyhq/parley/plugin/streamcodec"
)

// RetryPolicy bounds request retries. Server errors retry up to MaxAttempts
// with exponential backoff capped at MaxDelay; a rate limit waits the hinted
// delay (capped at RateLimitWait) and retries exactly once.
type RetryPolicy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	MaxDelay      time.Duration
	RateLimitWait time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:   3,
		BaseDelay:     300 * time.Millisecond,
		MaxDelay:      1200 * time.Millisecond,
		RateLimitWait: 30 * time.Second,
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	delay := p.BaseDelay << attempt
	if delay > p.MaxDelay {
		delay = p.MaxDelay
	}
	return delay
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	RetryAfter int
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
}

// API talks to the conversation endpoints.
type API struct {
	baseURL    string
	httpClient *http.Client
	principal  string
	nonce      string
	policy     RetryPolicy
	sleep      func(time.Duration)
}

type APIOption func(*API)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(httpClient *http.Client) APIOption {
	return func(a *API) { a.httpClient = httpClient }
}

// WithPrincipal attaches principal and nonce headers to every request.
func WithPrincipal(principal, nonce string) APIOption {
	return func(a *API) { a.principal, a.nonce = principal, nonce }
}

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(policy RetryPolicy) APIOption {
	return func(a *API) { a.policy = policy }
}

func NewAPI(baseURL string, opts ...APIOption) *API {
	api := &API{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		policy:     DefaultRetryPolicy(),
		sleep:      time.Sleep,
	}
	for _, opt := range opts {
		opt(api)
	}
	return api
}

func (a *API) newRequest(ctx context.Context, method, path string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, errors.Wrap(err, "failed to encode request body")
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if a.principal != "" {
		req.Header.Set("X-Parley-Principal", a.principal)
		req.Header.Set("X-Parley-Nonce", a.nonce)
	}
	return req, nil
}

// doJSON executes a request under the retry policy and decodes the response
// into out when it is non-nil.
func (a *API) doJSON(ctx context.Context, method, path string, body, out any) error {
	rateLimitRetried := false
	attempt := 0

	for {
		req, err := a.newRequest(ctx, method, path, body)
		if err != nil {
			return err
		}

		resp, err := a.httpClient.Do(req)
		if err != nil {
			if attempt+1 < a.policy.MaxAttempts {
				a.sleep(a.policy.backoff(attempt))
				attempt++
				continue
			}
			return errors.Wrap(err, "request failed")
		}

		apiErr := a.checkResponse(resp, out)
		if apiErr == nil {
			return nil
		}

		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests && !rateLimitRetried:
			rateLimitRetried = true
			wait := time.Duration(apiErr.RetryAfter) * time.Second
			if wait <= 0 || wait > a.policy.RateLimitWait {
				wait = a.policy.RateLimitWait
			}
			a.sleep(wait)
		case apiErr.StatusCode >= 500 && attempt+1 < a.policy.MaxAttempts:
			a.sleep(a.policy.backoff(attempt))
			attempt++
		default:
			return apiErr
		}
	}
}

// checkResponse decodes a success body into out, or builds an APIError.
func (a *API) checkResponse(resp *http.Response, out any) *APIError {
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out != nil {
			if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
				return &APIError{StatusCode: resp.StatusCode, Message: "undecodable response body"}
			}
		}
		return nil
	}

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: resp.Status}
	var body struct {
		Code       string `json:"code"`
		Message    any    `json:"message"`
		RetryAfter int    `json:"retry_after"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Code = body.Code
		apiErr.RetryAfter = body.RetryAfter
		if text, ok := body.Message.(string); ok && text != "" {
			apiErr.Message = text
		}
	}
	return apiErr
}

// StreamRequest is one turn submission.
type StreamRequest struct {
	SessionUID         string `json:"session_uid,omitempty"`
	ClientMsgID        string `json:"client_msg_id"`
	Message            string `json:"message"`
	Mode               string `json:"mode,omitempty"`
	WebSearch          bool   `json:"web_search,omitempty"`
	RegenerateTargetID int32  `json:"regenerate_target_id,omitempty"`
	SuppressUserInsert bool   `json:"suppress_user_insert,omitempty"`
}

// SubmitResponse is the blocking-turn result.
type SubmitResponse struct {
	SessionUID      string                 `json:"session_uid"`
	ClientMsgID     string                 `json:"client_msg_id"`
	UserTurnID      int32                  `json:"user_turn_id"`
	BotTurnID       int32                  `json:"bot_turn_id"`
	ExistingMessage bool                   `json:"existing_message"`
	Content         string                 `json:"content"`
	Citations       []streamcodec.Citation `json:"citations"`
}

// Submit runs a blocking turn.
func (a *API) Submit(ctx context.Context, req *StreamRequest) (*SubmitResponse, error) {
	out := &SubmitResponse{}
	if err := a.doJSON(ctx, http.MethodPost, "/api/v1/chat/submit", req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Stream runs a streaming turn, invoking handler for every decoded frame.
// The response may be NDJSON or proxied SSE; both feed the same event type.
func (a *API) Stream(ctx context.Context, req *StreamRequest, handler func(*streamcodec.Event) error) error {
	httpReq, err := a.newRequest(ctx, http.MethodPost, "/api/v1/chat/stream", req)
	if err != nil {
		return err
	}

	resp, err := a.httpClient.Do(httpReq)
	if err != nil {
		return errors.Wrap(err, "stream request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		if apiErr := a.checkResponse(resp, nil); apiErr != nil {
			return apiErr
		}
		return errors.Errorf("unexpected stream status %d", resp.StatusCode)
	}

	decoder := newStreamDecoder(resp.Body, resp.Header.Get("Content-Type"))
	for {
		event, err := decoder.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "failed to decode stream")
		}
		if err := handler(event); err != nil {
			return err
		}
	}
}

// eventDecoder is satisfied by both streamcodec decoders.
type eventDecoder interface {
	Next() (*streamcodec.Event, error)
}

func newStreamDecoder(r io.Reader, contentType string) eventDecoder {
	if strings.Contains(contentType, "text/event-stream") {
		return streamcodec.NewSSEDecoder(r)
	}
	return streamcodec.NewDecoder(r)
}

// TurnInfo mirrors the server's turn payload.
type TurnInfo struct {
	ID           int32  `json:"id"`
	UID          string `json:"uid"`
	Sender       string `json:"sender"`
	Content      string `json:"content"`
	ClientMsgID  string `json:"client_msg_id"`
	ReplyToID    string `json:"reply_to_id"`
	Reaction     string `json:"reaction"`
	ReactionNote string `json:"reaction_note"`
	CreatedTs    int64  `json:"created_ts"`
}

// SessionInfo mirrors the server's session payload.
type SessionInfo struct {
	UID       string `json:"uid"`
	Mode      string `json:"mode"`
	Title     string `json:"title"`
	Pinned    bool   `json:"pinned"`
	UpdatedTs int64  `json:"updated_ts"`
}

// HistoryResponse is a session transcript.
type HistoryResponse struct {
	Session *SessionInfo `json:"session"`
	Turns   []*TurnInfo  `json:"turns"`
}

// History loads the session transcript.
func (a *API) History(ctx context.Context, sessionUID string) (*HistoryResponse, error) {
	out := &HistoryResponse{}
	path := "/api/v1/history?session_uid=" + sessionUID
	if err := a.doJSON(ctx, http.MethodGet, path, nil, out); err != nil {
		return nil, err
	}
	return out, nil
}

// AppendHistory is the safety persist after a stream ends or dies.
func (a *API) AppendHistory(ctx context.Context, sessionUID, clientMsgID, userMessage, content string) error {
	body := map[string]string{
		"session_uid":   sessionUID,
		"client_msg_id": clientMsgID,
		"user_message":  userMessage,
		"content":       content,
	}
	return a.doJSON(ctx, http.MethodPost, "/api/v1/history/append", body, nil)
}

// EditUserTurn replaces the text of a user turn.
func (a *API) EditUserTurn(ctx context.Context, sessionUID, clientMsgID, content string) error {
	body := map[string]string{
		"session_uid":   sessionUID,
		"client_msg_id": clientMsgID,
		"content":       content,
	}
	return a.doJSON(ctx, http.MethodPost, "/api/v1/history/edit", body, nil)
}

// DeleteTurn removes a turn.
func (a *API) DeleteTurn(ctx context.Context, sessionUID string, turnID int32) error {
	body := map[string]any{"session_uid": sessionUID, "turn_id": turnID}
	return a.doJSON(ctx, http.MethodPost, "/api/v1/history/delete", body, nil)
}

// React records a reaction.
func (a *API) React(ctx context.Context, sessionUID string, turnID int32, reaction, note string) error {
	body := map[string]any{
		"session_uid": sessionUID,
		"turn_id":     turnID,
		"reaction":    reaction,
		"note":        note,
	}
	return a.doJSON(ctx, http.MethodPost, "/api/v1/history/react", body, nil)
}

// Sessions lists the caller's sessions.
func (a *API) Sessions(ctx context.Context) ([]*SessionInfo, error) {
	out := []*SessionInfo{}
	if err := a.doJSON(ctx, http.MethodGet, "/api/v1/sessions", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteSession removes a session and its turns.
func (a *API) DeleteSession(ctx context.Context, sessionUID string) error {
	body := map[string]string{"session_uid": sessionUID}
	return a.doJSON(ctx, http.MethodPost, "/api/v1/sessions/delete", body, nil)
}
