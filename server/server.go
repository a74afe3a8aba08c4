// Package server assembles the HTTP server around the store and the
// generation backend.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/parleyhq/parley/internal/profile"
	"github.com/parleyhq/parley/plugin/generation"
	"github.com/parleyhq/parley/plugin/knowledge"
	"github.com/parleyhq/parley/plugin/websearch"
	"github.com/parleyhq/parley/server/chat"
	"github.com/parleyhq/parley/server/retrieval"
	apiv1 "github.com/parleyhq/parley/server/router/api/v1"
	"github.com/parleyhq/parley/store"
)

const (
	// authSecretSettingName keys the instance secret in system_setting.
	authSecretSettingName = "auth_secret"

	// sweepInterval is how often idle sessions are checked for archiving.
	sweepInterval = 5 * time.Minute
)

type Server struct {
	Profile *profile.Profile
	Store   *store.Store

	echoServer   *echo.Echo
	apiService   *apiv1.APIV1Service
	orchestrator *chat.Orchestrator
}

// NewServer builds the echo server with all routes registered. The
// generation-backed services stay nil when no API key is configured; the
// API then answers chat routes with a configuration error.
func NewServer(ctx context.Context, prof *profile.Profile, st *store.Store) (*Server, error) {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(echomw.Recover())
	e.Use(echomw.CORS())

	secret, err := loadInstanceSecret(ctx, st)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load instance secret")
	}

	var generator chat.Generator
	var retriever chat.Retriever
	var searcher chat.Searcher
	var indexer *knowledge.Indexer

	if prof.IsAIEnabled() {
		client, err := generation.NewClient(generation.ConfigFromProfile(prof))
		if err != nil {
			return nil, errors.Wrap(err, "failed to create generation client")
		}
		generator = client
		retriever = retrieval.New(st, client, prof.RetrievalTopK)
		indexer = knowledge.NewIndexer(st, client, 4)
	} else {
		slog.Warn("generation backend is not configured, chat endpoints will refuse requests")
	}
	if prof.WebSearchEnabled {
		searcher = websearch.NewClient()
	}

	orchestrator := chat.NewOrchestrator(st, generator, retriever, searcher, prof.WebSearchResults)
	apiService := apiv1.NewAPIV1Service(secret, prof, st, orchestrator, indexer)
	apiService.Register(e)

	e.GET("/healthz", func(c echo.Context) error {
		return c.String(http.StatusOK, "Service ready.")
	})

	return &Server{
		Profile:      prof,
		Store:        st,
		echoServer:   e,
		apiService:   apiService,
		orchestrator: orchestrator,
	}, nil
}

// Start serves HTTP and runs the idle-session sweeper until ctx ends.
func (s *Server) Start(ctx context.Context) error {
	go s.sweepIdleSessions(ctx)

	address := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	slog.Info("server started", slog.String("address", address), slog.String("mode", s.Profile.Mode))
	if err := s.echoServer.Start(address); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := s.echoServer.Shutdown(ctx); err != nil {
		slog.Error("failed to shut down server", slog.String("error", err.Error()))
	}
	if err := s.Store.Close(); err != nil {
		slog.Error("failed to close store", slog.String("error", err.Error()))
	}
	slog.Info("server stopped")
}

// sweepIdleSessions periodically archives sessions past the inactivity
// window.
func (s *Server) sweepIdleSessions(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			count, err := s.orchestrator.ArchiveIdleSessions(ctx)
			if err != nil {
				slog.Warn("idle session sweep failed", slog.String("error", err.Error()))
				continue
			}
			if count > 0 {
				slog.Info("archived idle sessions", slog.Int("count", count))
			}
		case <-ctx.Done():
			return
		}
	}
}

// loadInstanceSecret returns the persisted instance secret, minting one on
// first boot so nonces stay valid across restarts.
func loadInstanceSecret(ctx context.Context, st *store.Store) (string, error) {
	driver := st.GetDriver()
	secret, err := driver.GetSystemSetting(ctx, authSecretSettingName)
	if err != nil {
		return "", err
	}
	if secret != "" {
		return secret, nil
	}

	secret = uuid.NewString()
	if err := driver.UpsertSystemSetting(ctx, authSecretSettingName, secret); err != nil {
		return "", err
	}
	return secret, nil
}
