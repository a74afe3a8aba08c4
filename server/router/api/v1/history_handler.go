package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/parleyhq/parley/server/auth"
	"github.com/parleyhq/parley/server/chat"
)

// GetHistory returns the ordered transcript of a session.
func (s *APIV1Service) GetHistory(c echo.Context) error {
	sessionUID := c.QueryParam("session_uid")
	if sessionUID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_uid is required")
	}

	session, turns, err := s.Orchestrator.ListHistory(c.Request().Context(), sessionUID, auth.Principal(c))
	if err != nil {
		return apiError(err)
	}

	return c.JSON(http.StatusOK, map[string]any{
		"session": convertSession(session),
		"turns":   convertTurns(turns),
	})
}

type appendHistoryRequest struct {
	SessionUID  string `json:"session_uid"`
	ClientMsgID string `json:"client_msg_id"`
	UserMessage string `json:"user_message"`
	Content     string `json:"content"`
}

// AppendHistory is the client-side safety persist after a stream ends or
// dies. Assistant writes are grow-only; user writes insert only if absent.
func (s *APIV1Service) AppendHistory(c echo.Context) error {
	req := &appendHistoryRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.SessionUID == "" || req.ClientMsgID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_uid and client_msg_id are required")
	}

	turn, err := s.Orchestrator.AppendAssistantContent(c.Request().Context(), req.SessionUID, auth.Principal(c), req.ClientMsgID, req.UserMessage, req.Content)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, convertTurn(turn))
}

type editHistoryRequest struct {
	SessionUID  string `json:"session_uid"`
	ClientMsgID string `json:"client_msg_id"`
	TurnID      int32  `json:"turn_id"`
	Content     string `json:"content"`
}

// EditHistory replaces the content of a user turn and discards the stale
// answer so a resubmit regenerates.
func (s *APIV1Service) EditHistory(c echo.Context) error {
	req := &editHistoryRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.SessionUID == "" || req.ClientMsgID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_uid and client_msg_id are required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "content is required")
	}

	turn, err := s.Orchestrator.EditUserTurn(c.Request().Context(), req.SessionUID, auth.Principal(c), req.ClientMsgID, req.Content)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, convertTurn(turn))
}

// EditAssistantHistory overwrites an assistant row in place.
func (s *APIV1Service) EditAssistantHistory(c echo.Context) error {
	req := &editHistoryRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.SessionUID == "" || req.TurnID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "session_uid and turn_id are required")
	}

	turn, err := s.Orchestrator.EditAssistantTurn(c.Request().Context(), req.SessionUID, auth.Principal(c), req.TurnID, req.Content)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, convertTurn(turn))
}

type deleteTurnRequest struct {
	SessionUID string `json:"session_uid"`
	TurnID     int32  `json:"turn_id"`
}

// DeleteHistoryTurn removes one turn. Deleting a user turn also removes the
// assistant turn answering it.
func (s *APIV1Service) DeleteHistoryTurn(c echo.Context) error {
	req := &deleteTurnRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.SessionUID == "" || req.TurnID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "session_uid and turn_id are required")
	}

	if err := s.Orchestrator.DeleteTurn(c.Request().Context(), req.SessionUID, auth.Principal(c), req.TurnID); err != nil {
		return apiError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

type reactRequest struct {
	SessionUID string `json:"session_uid"`
	TurnID     int32  `json:"turn_id"`
	Reaction   string `json:"reaction"`
	Note       string `json:"note"`
}

// ReactHistory records an up/down reaction with an optional note.
func (s *APIV1Service) ReactHistory(c echo.Context) error {
	req := &reactRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.SessionUID == "" || req.TurnID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "session_uid and turn_id are required")
	}
	if req.Reaction != chat.ReactionUp && req.Reaction != chat.ReactionDown && req.Reaction != chat.ReactionNone {
		return echo.NewHTTPError(http.StatusBadRequest, "reaction must be up, down, or empty")
	}

	turn, err := s.Orchestrator.React(c.Request().Context(), req.SessionUID, auth.Principal(c), req.TurnID, req.Reaction, req.Note)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, convertTurn(turn))
}
