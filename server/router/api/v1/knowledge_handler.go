package v1

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

type indexKnowledgeRequest struct {
	Source  string `json:"source"`
	Content string `json:"content"`
}

// IndexKnowledge chunks, embeds, and stores a source document, replacing any
// previous fragments from the same source.
func (s *APIV1Service) IndexKnowledge(c echo.Context) error {
	if s.Indexer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "generation backend is not configured")
	}

	req := &indexKnowledgeRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if strings.TrimSpace(req.Source) == "" || strings.TrimSpace(req.Content) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source and content are required")
	}

	count, err := s.Indexer.Index(c.Request().Context(), req.Source, req.Content)
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"source": req.Source, "fragments": count})
}

type removeKnowledgeRequest struct {
	Source string `json:"source"`
}

func (s *APIV1Service) RemoveKnowledge(c echo.Context) error {
	if s.Indexer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "generation backend is not configured")
	}

	req := &removeKnowledgeRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "malformed request body")
	}
	if strings.TrimSpace(req.Source) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source is required")
	}

	if err := s.Indexer.Remove(c.Request().Context(), req.Source); err != nil {
		return apiError(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *APIV1Service) ListKnowledgeSources(c echo.Context) error {
	if s.Indexer == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "generation backend is not configured")
	}

	sources, err := s.Indexer.Sources(c.Request().Context())
	if err != nil {
		return apiError(err)
	}
	return c.JSON(http.StatusOK, map[string]any{"sources": sources})
}
