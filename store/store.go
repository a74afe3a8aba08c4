package store

import (
	"context"
	"time"

	"github.com/parleyhq/parley/internal/profile"
	"github.com/parleyhq/parley/store/cache"
)

// Store provides database access to all raw objects.
type Store struct {
	profile *profile.Profile
	driver  Driver

	// Cache settings
	cacheConfig cache.Config

	// Caches
	sessionCache *cache.Cache // cache for chat sessions keyed by UID
}

// New creates a new instance of Store.
func New(driver Driver, profile *profile.Profile) *Store {
	// Default cache settings
	cacheConfig := cache.Config{
		DefaultTTL:      10 * time.Minute,
		CleanupInterval: 5 * time.Minute,
		MaxItems:        1000,
		OnEviction:      nil,
	}

	store := &Store{
		driver:       driver,
		profile:      profile,
		cacheConfig:  cacheConfig,
		sessionCache: cache.New(cacheConfig),
	}

	return store
}

func (s *Store) GetDriver() Driver {
	return s.driver
}

func (s *Store) Close() error {
	s.sessionCache.Close()

	return s.driver.Close()
}

func (s *Store) CreateChatSession(ctx context.Context, create *ChatSession) (*ChatSession, error) {
	session, err := s.driver.CreateChatSession(ctx, create)
	if err != nil {
		return nil, err
	}
	s.sessionCache.Set(ctx, session.UID, session)
	return session, nil
}

func (s *Store) ListChatSessions(ctx context.Context, find *FindChatSession) ([]*ChatSession, error) {
	return s.driver.ListChatSessions(ctx, find)
}

// GetChatSessionByUID returns the session with the given UID, or nil if it
// does not exist.
func (s *Store) GetChatSessionByUID(ctx context.Context, uid string) (*ChatSession, error) {
	if cached, ok := s.sessionCache.Get(ctx, uid); ok {
		if session, ok := cached.(*ChatSession); ok {
			return session, nil
		}
	}

	list, err := s.driver.ListChatSessions(ctx, &FindChatSession{UID: &uid})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	session := list[0]
	s.sessionCache.Set(ctx, session.UID, session)
	return session, nil
}

func (s *Store) UpdateChatSession(ctx context.Context, update *UpdateChatSession) (*ChatSession, error) {
	session, err := s.driver.UpdateChatSession(ctx, update)
	if err != nil {
		return nil, err
	}
	s.sessionCache.Set(ctx, session.UID, session)
	return session, nil
}

// DeleteChatSession removes the session and every turn belonging to it.
func (s *Store) DeleteChatSession(ctx context.Context, delete *DeleteChatSession) error {
	sessions, err := s.driver.ListChatSessions(ctx, &FindChatSession{ID: &delete.ID})
	if err != nil {
		return err
	}
	if err := s.driver.DeleteTurn(ctx, &DeleteTurn{SessionID: &delete.ID}); err != nil {
		return err
	}
	if err := s.driver.DeleteChatSession(ctx, delete); err != nil {
		return err
	}
	for _, session := range sessions {
		s.sessionCache.Delete(ctx, session.UID)
	}
	return nil
}

func (s *Store) CreateTurn(ctx context.Context, create *Turn) (*Turn, error) {
	return s.driver.CreateTurn(ctx, create)
}

func (s *Store) ListTurns(ctx context.Context, find *FindTurn) ([]*Turn, error) {
	return s.driver.ListTurns(ctx, find)
}

func (s *Store) GetTurn(ctx context.Context, find *FindTurn) (*Turn, error) {
	list, err := s.driver.ListTurns(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// FindUserTurn locates the user turn in a session carrying the given client
// message id, or nil when no such turn exists.
func (s *Store) FindUserTurn(ctx context.Context, sessionID int32, clientMsgID string) (*Turn, error) {
	sender := SenderUser
	return s.GetTurn(ctx, &FindTurn{
		SessionID:   &sessionID,
		Sender:      &sender,
		ClientMsgID: &clientMsgID,
	})
}

// FindAssistantTurn locates the assistant turn answering the given client
// message id. When several rows exist the one with the highest row id wins.
func (s *Store) FindAssistantTurn(ctx context.Context, sessionID int32, replyToID string) (*Turn, error) {
	sender := SenderAssistant
	list, err := s.driver.ListTurns(ctx, &FindTurn{
		SessionID: &sessionID,
		Sender:    &sender,
		ReplyToID: &replyToID,
	})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	best := list[0]
	for _, turn := range list[1:] {
		if turn.ID > best.ID {
			best = turn
		}
	}
	return best, nil
}

func (s *Store) UpdateTurn(ctx context.Context, update *UpdateTurn) (*Turn, error) {
	return s.driver.UpdateTurn(ctx, update)
}

func (s *Store) GrowTurnContent(ctx context.Context, id int32, content string, updatedTs int64) (bool, error) {
	return s.driver.GrowTurnContent(ctx, id, content, updatedTs)
}

func (s *Store) DeleteTurn(ctx context.Context, delete *DeleteTurn) error {
	return s.driver.DeleteTurn(ctx, delete)
}

func (s *Store) CreateFragment(ctx context.Context, create *Fragment) (*Fragment, error) {
	return s.driver.CreateFragment(ctx, create)
}

func (s *Store) ListFragments(ctx context.Context, find *FindFragment) ([]*Fragment, error) {
	return s.driver.ListFragments(ctx, find)
}

func (s *Store) DeleteFragment(ctx context.Context, delete *DeleteFragment) error {
	return s.driver.DeleteFragment(ctx, delete)
}

func (s *Store) SearchFragmentsByVector(ctx context.Context, embedding []float32, limit int) ([]*Fragment, []float32, error) {
	return s.driver.SearchFragmentsByVector(ctx, embedding, limit)
}
