package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/parleyhq/parley/server/auth"
)

// ListSessions lists the caller's sessions, pinned first then most recent.
func (s *APIV1Service) ListSessions(c echo.Context) error {
	sessions, err := s.Orchestrator.ListSessions(c.Request().Context(), auth.Principal(c))
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, convertSessions(sessions))
}

// SearchSessions filters the caller's sessions by title.
func (s *APIV1Service) SearchSessions(c echo.Context) error {
	query := strings.TrimSpace(c.QueryParam("q"))
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "q is required")
	}

	sessions, err := s.Orchestrator.SearchSessions(c.Request().Context(), auth.Principal(c), query)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, convertSessions(sessions))
}

type renameSessionRequest struct {
	SessionUID string `json:"session_uid"`
	Title      string `json:"title"`
}

func (s *APIV1Service) RenameSession(c echo.Context) error {
	req := &renameSessionRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.SessionUID == "" || strings.TrimSpace(req.Title) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_uid and title are required")
	}

	session, err := s.Orchestrator.RenameSession(c.Request().Context(), req.SessionUID, auth.Principal(c), req.Title)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, convertSession(session))
}

type deleteSessionRequest struct {
	SessionUID string `json:"session_uid"`
}

// DeleteSession removes a session and all its turns.
func (s *APIV1Service) DeleteSession(c echo.Context) error {
	req := &deleteSessionRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if req.SessionUID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_uid is required")
	}

	if err := s.Orchestrator.DeleteSession(c.Request().Context(), req.SessionUID, auth.Principal(c)); err != nil {
		return apiError(err)
	}
	return c.NoContent(http.StatusNoContent)
}
