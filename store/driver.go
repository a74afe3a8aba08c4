package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// ChatSession model related methods.
	CreateChatSession(ctx context.Context, create *ChatSession) (*ChatSession, error)
	ListChatSessions(ctx context.Context, find *FindChatSession) ([]*ChatSession, error)
	UpdateChatSession(ctx context.Context, update *UpdateChatSession) (*ChatSession, error)
	DeleteChatSession(ctx context.Context, delete *DeleteChatSession) error

	// Turn model related methods.
	CreateTurn(ctx context.Context, create *Turn) (*Turn, error)
	ListTurns(ctx context.Context, find *FindTurn) ([]*Turn, error)
	UpdateTurn(ctx context.Context, update *UpdateTurn) (*Turn, error)
	DeleteTurn(ctx context.Context, delete *DeleteTurn) error

	// GrowTurnContent replaces a turn's content only when the new content is
	// strictly longer than what is stored. Returns whether a write happened.
	GrowTurnContent(ctx context.Context, id int32, content string, updatedTs int64) (bool, error)

	// Fragment model related methods.
	CreateFragment(ctx context.Context, create *Fragment) (*Fragment, error)
	ListFragments(ctx context.Context, find *FindFragment) ([]*Fragment, error)
	DeleteFragment(ctx context.Context, delete *DeleteFragment) error

	// SearchFragmentsByVector performs semantic search using vector similarity.
	// Returns fragments and their similarity scores ordered best first.
	SearchFragmentsByVector(ctx context.Context, embedding []float32, limit int) ([]*Fragment, []float32, error)

	// SystemSetting model related methods.
	UpsertSystemSetting(ctx context.Context, name, value string) error
	GetSystemSetting(ctx context.Context, name string) (string, error)
}
