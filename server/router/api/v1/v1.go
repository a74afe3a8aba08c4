// Package v1 exposes the HTTP API.
package v1

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/parleyhq/parley/internal/profile"
	"github.com/parleyhq/parley/plugin/knowledge"
	"github.com/parleyhq/parley/server/auth"
	"github.com/parleyhq/parley/server/chat"
	"github.com/parleyhq/parley/server/middleware"
	"github.com/parleyhq/parley/store"
)

type APIV1Service struct {
	Profile      *profile.Profile
	Store        *store.Store
	Orchestrator *chat.Orchestrator
	Indexer      *knowledge.Indexer

	relay         *chat.Relay
	authenticator *auth.Authenticator
	limiter       *middleware.RateLimiter
}

// NewAPIV1Service wires the API service. indexer may be nil when the
// generation backend is not configured.
func NewAPIV1Service(secret string, prof *profile.Profile, st *store.Store, orchestrator *chat.Orchestrator, indexer *knowledge.Indexer) *APIV1Service {
	return &APIV1Service{
		Profile:       prof,
		Store:         st,
		Orchestrator:  orchestrator,
		Indexer:       indexer,
		relay:         chat.NewRelay(prof.StreamIdleTimeout),
		authenticator: auth.NewAuthenticator(secret),
		limiter:       middleware.NewRateLimiter(time.Second/10, 20),
	}
}

// Register mounts all routes on the echo server.
func (s *APIV1Service) Register(echoServer *echo.Echo) {
	g := echoServer.Group("/api/v1")
	g.Use(auth.Middleware(s.authenticator))
	g.Use(middleware.RateLimitMiddleware(s.limiter, func(c echo.Context) string {
		if principal := auth.Principal(c); principal != "" {
			return principal
		}
		return c.RealIP()
	}))

	g.POST("/chat/submit", s.ChatSubmit)
	g.POST("/chat/stream", s.ChatStream)

	g.GET("/history", s.GetHistory)
	g.POST("/history/append", s.AppendHistory)
	g.POST("/history/edit", s.EditHistory)
	g.POST("/history/edit-assistant", s.EditAssistantHistory)
	g.POST("/history/delete", s.DeleteHistoryTurn)
	g.POST("/history/react", s.ReactHistory)

	g.GET("/sessions", s.ListSessions)
	g.GET("/sessions/search", s.SearchSessions)
	g.POST("/sessions/rename", s.RenameSession)
	g.POST("/sessions/delete", s.DeleteSession)

	g.POST("/knowledge/index", s.IndexKnowledge)
	g.POST("/knowledge/remove", s.RemoveKnowledge)
	g.GET("/knowledge/sources", s.ListKnowledgeSources)
}
