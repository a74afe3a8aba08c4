package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/parleyhq/parley/plugin/streamcodec"
	"github.com/parleyhq/parley/server/auth"
	"github.com/parleyhq/parley/server/chat"
)

type chatRequest struct {
	SessionUID         string `json:"session_uid"`
	ClientMsgID        string `json:"client_msg_id"`
	Message            string `json:"message"`
	Mode               string `json:"mode"`
	WebSearch          bool   `json:"web_search"`
	RegenerateTargetID int32  `json:"regenerate_target_id"`
	SuppressUserInsert bool   `json:"suppress_user_insert"`
}

type chatResponse struct {
	SessionUID      string                 `json:"session_uid"`
	ClientMsgID     string                 `json:"client_msg_id"`
	UserTurnID      int32                  `json:"user_turn_id"`
	BotTurnID       int32                  `json:"bot_turn_id"`
	ExistingMessage bool                   `json:"existing_message"`
	Content         string                 `json:"content"`
	Citations       []streamcodec.Citation `json:"citations,omitempty"`
}

func (req *chatRequest) toTurnRequest(principal string) *chat.TurnRequest {
	return &chat.TurnRequest{
		SessionUID:         req.SessionUID,
		Principal:          principal,
		ClientMsgID:        req.ClientMsgID,
		Message:            req.Message,
		Mode:               req.Mode,
		WebSearch:          req.WebSearch,
		RegenerateTargetID: req.RegenerateTargetID,
		SuppressUserInsert: req.SuppressUserInsert,
	}
}

func (req *chatRequest) validate() error {
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	if req.ClientMsgID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "client_msg_id is required")
	}
	return nil
}

// ChatSubmit answers a turn in one blocking response.
func (s *APIV1Service) ChatSubmit(c echo.Context) error {
	req := &chatRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := req.validate(); err != nil {
		return err
	}

	result, err := s.Orchestrator.ChatBlocking(c.Request().Context(), req.toTurnRequest(auth.Principal(c)))
	if err != nil {
		return apiError(err)
	}

	return c.JSON(http.StatusOK, &chatResponse{
		SessionUID:      result.Session.UID,
		ClientMsgID:     result.UserTurn.ClientMsgID,
		UserTurnID:      result.UserTurn.ID,
		BotTurnID:       result.BotTurn.ID,
		ExistingMessage: result.Replayed,
		Content:         result.Content,
		Citations:       result.Citations,
	})
}

// ChatStream answers a turn as NDJSON frames. The response is flushed per
// frame so the client renders deltas as they arrive.
func (s *APIV1Service) ChatStream(c echo.Context) error {
	req := &chatRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if err := req.validate(); err != nil {
		return err
	}

	result, err := s.Orchestrator.HandleTurn(c.Request().Context(), req.toTurnRequest(auth.Principal(c)))
	if err != nil {
		return apiError(err)
	}

	response := c.Response()
	response.Header().Set(echo.HeaderContentType, "application/x-ndjson")
	response.Header().Set("Cache-Control", "no-cache")
	// Tells buffering reverse proxies to pass frames through immediately.
	response.Header().Set("X-Accel-Buffering", "no")
	response.WriteHeader(http.StatusOK)

	return s.relay.Stream(c.Request().Context(), response, result)
}
