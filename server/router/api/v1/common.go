package v1

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/parleyhq/parley/plugin/generation"
	"github.com/parleyhq/parley/server/chat"
	"github.com/parleyhq/parley/store"
)

type sessionResponse struct {
	UID       string `json:"uid"`
	Mode      string `json:"mode"`
	Title     string `json:"title"`
	Pinned    bool   `json:"pinned"`
	CreatedTs int64  `json:"created_ts"`
	UpdatedTs int64  `json:"updated_ts"`
	RowStatus string `json:"row_status"`
}

type turnResponse struct {
	ID           int32  `json:"id"`
	UID          string `json:"uid"`
	Sender       string `json:"sender"`
	Content      string `json:"content"`
	ClientMsgID  string `json:"client_msg_id,omitempty"`
	ReplyToID    string `json:"reply_to_id,omitempty"`
	Reaction     string `json:"reaction,omitempty"`
	ReactionNote string `json:"reaction_note,omitempty"`
	CreatedTs    int64  `json:"created_ts"`
}

func convertSession(session *store.ChatSession) *sessionResponse {
	return &sessionResponse{
		UID:       session.UID,
		Mode:      session.Mode,
		Title:     session.Title,
		Pinned:    session.Pinned,
		CreatedTs: session.CreatedTs,
		UpdatedTs: session.UpdatedTs,
		RowStatus: session.RowStatus.String(),
	}
}

func convertTurn(turn *store.Turn) *turnResponse {
	return &turnResponse{
		ID:           turn.ID,
		UID:          turn.UID,
		Sender:       string(turn.Sender),
		Content:      turn.Content,
		ClientMsgID:  turn.ClientMsgID,
		ReplyToID:    turn.ReplyToID,
		Reaction:     turn.Reaction,
		ReactionNote: turn.ReactionNote,
		CreatedTs:    turn.CreatedTs,
	}
}

func convertTurns(turns []*store.Turn) []*turnResponse {
	list := make([]*turnResponse, 0, len(turns))
	for _, turn := range turns {
		list = append(list, convertTurn(turn))
	}
	return list
}

func convertSessions(sessions []*store.ChatSession) []*sessionResponse {
	list := make([]*sessionResponse, 0, len(sessions))
	for _, session := range sessions {
		list = append(list, convertSession(session))
	}
	return list
}

// apiError maps orchestrator and backend failures to HTTP status codes.
func apiError(err error) error {
	switch {
	case errors.Is(err, chat.ErrSessionNotFound), errors.Is(err, chat.ErrTurnNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, generation.ErrNotConfigured):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "generation backend is not configured")
	case generation.IsRateLimited(err):
		body := map[string]any{"code": chat.CodeRateLimited, "message": "generation backend is rate limited"}
		if hint, ok := generation.RetryAfterHint(err); ok {
			body["retry_after"] = int(hint.Seconds())
		}
		return echo.NewHTTPError(http.StatusTooManyRequests, body)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
