package v1

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"
)

func newTestService() *APIV1Service {
	// Handlers validate input before touching the orchestrator, so the
	// rejection paths need no backing store.
	return &APIV1Service{}
}

func post(t *testing.T, handler echo.HandlerFunc, body string) (*httptest.ResponseRecorder, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	return rec, handler(e.NewContext(req, rec))
}

func requireBadRequest(t *testing.T, err error) {
	t.Helper()
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusBadRequest, httpErr.Code)
}

func TestChatSubmitValidation(t *testing.T) {
	s := newTestService()

	_, err := post(t, s.ChatSubmit, `{"client_msg_id":"m1","message":"   "}`)
	requireBadRequest(t, err)

	_, err = post(t, s.ChatSubmit, `{"message":"hello"}`)
	requireBadRequest(t, err)

	_, err = post(t, s.ChatSubmit, `not json`)
	requireBadRequest(t, err)
}

func TestHistoryValidation(t *testing.T) {
	s := newTestService()

	_, err := post(t, s.AppendHistory, `{"client_msg_id":"m1"}`)
	requireBadRequest(t, err)

	_, err = post(t, s.EditHistory, `{"session_uid":"s1","client_msg_id":"m1","content":" "}`)
	requireBadRequest(t, err)

	_, err = post(t, s.DeleteHistoryTurn, `{"session_uid":"s1"}`)
	requireBadRequest(t, err)

	_, err = post(t, s.ReactHistory, `{"session_uid":"s1","turn_id":2,"reaction":"meh"}`)
	requireBadRequest(t, err)
}

func TestSessionValidation(t *testing.T) {
	s := newTestService()

	_, err := post(t, s.RenameSession, `{"session_uid":"s1","title":"  "}`)
	requireBadRequest(t, err)

	_, err = post(t, s.DeleteSession, `{}`)
	requireBadRequest(t, err)

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?q=", nil)
	rec := httptest.NewRecorder()
	err = s.SearchSessions(e.NewContext(req, rec))
	requireBadRequest(t, err)
}

func TestKnowledgeUnavailableWithoutBackend(t *testing.T) {
	s := newTestService()

	_, err := post(t, s.IndexKnowledge, `{"source":"docs","content":"text"}`)
	var httpErr *echo.HTTPError
	require.ErrorAs(t, err, &httpErr)
	require.Equal(t, http.StatusServiceUnavailable, httpErr.Code)
}
