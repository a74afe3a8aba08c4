package chat

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/plugin/generation"
	"github.com/parleyhq/parley/plugin/websearch"
	"github.com/parleyhq/parley/server/retrieval"
	"github.com/parleyhq/parley/store"
)

// memStore is an in-memory ChatStore for orchestrator tests.
type memStore struct {
	mu       sync.Mutex
	sessions map[int32]*store.ChatSession
	turns    map[int32]*store.Turn
	nextID   int32
}

func newMemStore() *memStore {
	return &memStore{
		sessions: map[int32]*store.ChatSession{},
		turns:    map[int32]*store.Turn{},
	}
}

func (m *memStore) CreateChatSession(_ context.Context, create *store.ChatSession) (*store.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	create.ID = m.nextID
	if create.RowStatus == "" {
		create.RowStatus = store.Normal
	}
	if create.UpdatedTs == 0 {
		create.UpdatedTs = time.Now().Unix()
	}
	copied := *create
	m.sessions[create.ID] = &copied
	return create, nil
}

func (m *memStore) ListChatSessions(_ context.Context, find *store.FindChatSession) ([]*store.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := []*store.ChatSession{}
	for _, session := range m.sessions {
		if find.ID != nil && session.ID != *find.ID {
			continue
		}
		if find.UID != nil && session.UID != *find.UID {
			continue
		}
		if find.Principal != nil && session.Principal != *find.Principal {
			continue
		}
		if find.RowStatus != nil && session.RowStatus != *find.RowStatus {
			continue
		}
		if find.Pinned != nil && session.Pinned != *find.Pinned {
			continue
		}
		if find.TitleQuery != nil && !strings.Contains(session.Title, *find.TitleQuery) {
			continue
		}
		if find.UpdatedTsBefore != nil && session.UpdatedTs >= *find.UpdatedTsBefore {
			continue
		}
		copied := *session
		list = append(list, &copied)
	}
	return list, nil
}

func (m *memStore) GetChatSessionByUID(ctx context.Context, uid string) (*store.ChatSession, error) {
	list, err := m.ListChatSessions(ctx, &store.FindChatSession{UID: &uid})
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

func (m *memStore) UpdateChatSession(_ context.Context, update *store.UpdateChatSession) (*store.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[update.ID]
	if !ok {
		return nil, fmt.Errorf("chat_session not found")
	}
	if update.Title != nil {
		session.Title = *update.Title
	}
	if update.Pinned != nil {
		session.Pinned = *update.Pinned
	}
	if update.RowStatus != nil {
		session.RowStatus = *update.RowStatus
	}
	if update.UpdatedTs != nil {
		session.UpdatedTs = *update.UpdatedTs
	}
	copied := *session
	return &copied, nil
}

func (m *memStore) DeleteChatSession(_ context.Context, del *store.DeleteChatSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[del.ID]; !ok {
		return fmt.Errorf("chat_session not found")
	}
	for id, turn := range m.turns {
		if turn.SessionID == del.ID {
			delete(m.turns, id)
		}
	}
	delete(m.sessions, del.ID)
	return nil
}

func (m *memStore) CreateTurn(_ context.Context, create *store.Turn) (*store.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	create.ID = m.nextID
	if create.CreatedTs == 0 {
		create.CreatedTs = time.Now().Unix()
	}
	copied := *create
	m.turns[create.ID] = &copied
	return create, nil
}

func (m *memStore) ListTurns(_ context.Context, find *store.FindTurn) ([]*store.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := []*store.Turn{}
	for id := int32(1); id <= m.nextID; id++ {
		turn, ok := m.turns[id]
		if !ok {
			continue
		}
		if find.ID != nil && turn.ID != *find.ID {
			continue
		}
		if find.SessionID != nil && turn.SessionID != *find.SessionID {
			continue
		}
		if find.Sender != nil && turn.Sender != *find.Sender {
			continue
		}
		if find.ClientMsgID != nil && turn.ClientMsgID != *find.ClientMsgID {
			continue
		}
		if find.ReplyToID != nil && turn.ReplyToID != *find.ReplyToID {
			continue
		}
		copied := *turn
		list = append(list, &copied)
	}
	return list, nil
}

func (m *memStore) GetTurn(ctx context.Context, find *store.FindTurn) (*store.Turn, error) {
	list, err := m.ListTurns(ctx, find)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return list[0], nil
}

func (m *memStore) UpdateTurn(_ context.Context, update *store.UpdateTurn) (*store.Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	turn, ok := m.turns[update.ID]
	if !ok {
		return nil, fmt.Errorf("turn not found")
	}
	if update.Content != nil {
		turn.Content = *update.Content
	}
	if update.Reaction != nil {
		turn.Reaction = *update.Reaction
	}
	if update.ReactionNote != nil {
		turn.ReactionNote = *update.ReactionNote
	}
	if update.UpdatedTs != nil {
		turn.UpdatedTs = *update.UpdatedTs
	}
	copied := *turn
	return &copied, nil
}

func (m *memStore) GrowTurnContent(_ context.Context, id int32, content string, updatedTs int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	turn, ok := m.turns[id]
	if !ok {
		return false, fmt.Errorf("turn not found")
	}
	if len(content) <= len(turn.Content) {
		return false, nil
	}
	turn.Content = content
	turn.UpdatedTs = updatedTs
	return true, nil
}

func (m *memStore) DeleteTurn(_ context.Context, del *store.DeleteTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, turn := range m.turns {
		if del.ID != nil && turn.ID != *del.ID {
			continue
		}
		if del.SessionID != nil && turn.SessionID != *del.SessionID {
			continue
		}
		delete(m.turns, id)
	}
	return nil
}

func (m *memStore) FindUserTurn(ctx context.Context, sessionID int32, clientMsgID string) (*store.Turn, error) {
	sender := store.SenderUser
	return m.GetTurn(ctx, &store.FindTurn{SessionID: &sessionID, Sender: &sender, ClientMsgID: &clientMsgID})
}

func (m *memStore) FindAssistantTurn(ctx context.Context, sessionID int32, replyToID string) (*store.Turn, error) {
	sender := store.SenderAssistant
	list, err := m.ListTurns(ctx, &store.FindTurn{SessionID: &sessionID, Sender: &sender, ReplyToID: &replyToID})
	if err != nil || len(list) == 0 {
		return nil, err
	}
	best := list[0]
	for _, turn := range list[1:] {
		if turn.ID > best.ID {
			best = turn
		}
	}
	return best, nil
}

// fakeGenerator streams fixed deltas. err, if set, arrives after the deltas;
// fallbackText and chatErr drive the blocking path.
type fakeGenerator struct {
	deltas       []string
	err          error
	fallbackText string
	chatErr      error
	calls        int
	prompts      [][]generation.Message
	mu           sync.Mutex
}

func (f *fakeGenerator) Chat(_ context.Context, messages []generation.Message) (string, error) {
	f.mu.Lock()
	f.prompts = append(f.prompts, messages)
	f.mu.Unlock()
	if f.chatErr != nil {
		return "", f.chatErr
	}
	if f.fallbackText != "" {
		return f.fallbackText, nil
	}
	return strings.Join(f.deltas, ""), nil
}

func (f *fakeGenerator) ChatStream(ctx context.Context, messages []generation.Message) (<-chan string, <-chan error) {
	f.mu.Lock()
	f.calls++
	f.prompts = append(f.prompts, messages)
	f.mu.Unlock()

	contentChan := make(chan string)
	errChan := make(chan error, 1)
	go func() {
		defer close(contentChan)
		defer close(errChan)
		for _, delta := range f.deltas {
			select {
			case contentChan <- delta:
			case <-ctx.Done():
				errChan <- ctx.Err()
				return
			}
		}
		if f.err != nil {
			errChan <- f.err
		}
	}()
	return contentChan, errChan
}

func (f *fakeGenerator) streamCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeGenerator) lastPrompt() []generation.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.prompts) == 0 {
		return nil
	}
	return f.prompts[len(f.prompts)-1]
}

// failingRetriever simulates a broken knowledge index.
type failingRetriever struct{}

func (failingRetriever) Retrieve(context.Context, string) ([]retrieval.Passage, error) {
	return nil, fmt.Errorf("index unavailable")
}

// fakeSearcher returns canned web results or an error.
type fakeSearcher struct {
	results []websearch.Result
	err     error
}

func (f *fakeSearcher) Search(context.Context, string, int) ([]websearch.Result, error) {
	return f.results, f.err
}

func collect(t *testing.T, result *TurnResult) string {
	t.Helper()
	var answer strings.Builder
	for delta := range result.Deltas {
		answer.WriteString(delta)
	}
	require.NoError(t, <-result.Errs)
	return answer.String()
}

func TestHandleTurnCreatesSessionAndStreams(t *testing.T) {
	chatStore := newMemStore()
	gen := &fakeGenerator{deltas: []string{"Hello", " there"}}
	o := NewOrchestrator(chatStore, gen, nil, nil, 3)

	result, err := o.HandleTurn(context.Background(), &TurnRequest{
		Principal:   "alice",
		ClientMsgID: "m1",
		Message:     "Tell me about resumable streams please and thanks",
	})
	require.NoError(t, err)
	require.False(t, result.Replayed)
	require.Equal(t, "Tell me about resumable streams please", result.Session.Title)

	answer := collect(t, result)
	require.Equal(t, "Hello there", answer)

	// The answer must be persisted on the placeholder row.
	require.Eventually(t, func() bool {
		turn, _ := chatStore.GetTurn(context.Background(), &store.FindTurn{ID: &result.BotTurn.ID})
		return turn != nil && turn.Content == "Hello there"
	}, time.Second, 10*time.Millisecond)
}

func TestHandleTurnReplaysFinishedAnswer(t *testing.T) {
	chatStore := newMemStore()
	gen := &fakeGenerator{deltas: []string{"The answer."}}
	o := NewOrchestrator(chatStore, gen, nil, nil, 3)

	first, err := o.HandleTurn(context.Background(), &TurnRequest{
		Principal:   "alice",
		ClientMsgID: "m1",
		Message:     "question",
	})
	require.NoError(t, err)
	collect(t, first)

	require.Eventually(t, func() bool {
		turn, _ := chatStore.GetTurn(context.Background(), &store.FindTurn{ID: &first.BotTurn.ID})
		return turn != nil && turn.Content != ""
	}, time.Second, 10*time.Millisecond)

	second, err := o.HandleTurn(context.Background(), &TurnRequest{
		SessionUID:  first.Session.UID,
		Principal:   "alice",
		ClientMsgID: "m1",
		Message:     "question",
	})
	require.NoError(t, err)
	require.True(t, second.Replayed)
	require.Equal(t, "The answer.", second.Content)
	require.Equal(t, first.UserTurn.ID, second.UserTurn.ID)
	require.Equal(t, 1, gen.streamCalls())

	// No duplicate rows were created.
	turns, err := chatStore.ListTurns(context.Background(), &store.FindTurn{SessionID: &first.Session.ID})
	require.NoError(t, err)
	require.Len(t, turns, 2)
}

func TestHandleTurnResumesEmptyPlaceholder(t *testing.T) {
	chatStore := newMemStore()
	gen := &fakeGenerator{deltas: []string{"Recovered."}}
	o := NewOrchestrator(chatStore, gen, nil, nil, 3)

	session, err := chatStore.CreateChatSession(context.Background(), &store.ChatSession{UID: "s1", Principal: "alice"})
	require.NoError(t, err)
	_, err = chatStore.CreateTurn(context.Background(), &store.Turn{UID: "u1", SessionID: session.ID, Sender: store.SenderUser, Content: "question", ClientMsgID: "m1"})
	require.NoError(t, err)
	placeholder, err := chatStore.CreateTurn(context.Background(), &store.Turn{UID: "b1", SessionID: session.ID, Sender: store.SenderAssistant, ReplyToID: "m1"})
	require.NoError(t, err)

	result, err := o.HandleTurn(context.Background(), &TurnRequest{
		SessionUID:  "s1",
		Principal:   "alice",
		ClientMsgID: "m1",
		Message:     "question",
	})
	require.NoError(t, err)
	require.False(t, result.Replayed)
	require.Equal(t, placeholder.ID, result.BotTurn.ID)
	require.Equal(t, "Recovered.", collect(t, result))
}

func TestHandleTurnRegeneratesInPlace(t *testing.T) {
	chatStore := newMemStore()
	gen := &fakeGenerator{deltas: []string{"Second answer."}}
	o := NewOrchestrator(chatStore, gen, nil, nil, 3)

	session, err := chatStore.CreateChatSession(context.Background(), &store.ChatSession{UID: "s1", Principal: "alice"})
	require.NoError(t, err)
	_, err = chatStore.CreateTurn(context.Background(), &store.Turn{UID: "u1", SessionID: session.ID, Sender: store.SenderUser, Content: "question", ClientMsgID: "m1"})
	require.NoError(t, err)
	old, err := chatStore.CreateTurn(context.Background(), &store.Turn{UID: "b1", SessionID: session.ID, Sender: store.SenderAssistant, ReplyToID: "m1", Content: "First answer, quite a bit longer than the second."})
	require.NoError(t, err)

	result, err := o.HandleTurn(context.Background(), &TurnRequest{
		SessionUID:         "s1",
		Principal:          "alice",
		ClientMsgID:        "m1",
		Message:            "question",
		RegenerateTargetID: old.ID,
	})
	require.NoError(t, err)
	require.False(t, result.Replayed)
	require.Equal(t, old.ID, result.BotTurn.ID)
	require.Equal(t, "Second answer.", collect(t, result))

	// Same row id, new content, no extra assistant rows.
	require.Eventually(t, func() bool {
		turn, _ := chatStore.GetTurn(context.Background(), &store.FindTurn{ID: &old.ID})
		return turn != nil && turn.Content == "Second answer."
	}, time.Second, 10*time.Millisecond)
	sender := store.SenderAssistant
	bots, err := chatStore.ListTurns(context.Background(), &store.FindTurn{SessionID: &session.ID, Sender: &sender})
	require.NoError(t, err)
	require.Len(t, bots, 1)
}

func TestHandleTurnBlockingFallback(t *testing.T) {
	chatStore := newMemStore()
	gen := &fakeGenerator{
		deltas:       []string{"partial "},
		err:          fmt.Errorf("stream broke"),
		fallbackText: "partial but recovered in full",
	}
	o := NewOrchestrator(chatStore, gen, nil, nil, 3)

	result, err := o.HandleTurn(context.Background(), &TurnRequest{
		Principal:   "alice",
		ClientMsgID: "m1",
		Message:     "question",
	})
	require.NoError(t, err)
	require.Equal(t, "partial but recovered in full", collect(t, result))

	require.Eventually(t, func() bool {
		turn, _ := chatStore.GetTurn(context.Background(), &store.FindTurn{ID: &result.BotTurn.ID})
		return turn != nil && turn.Content == "partial but recovered in full"
	}, time.Second, 10*time.Millisecond)
}

func TestHandleTurnFallbackAlsoFails(t *testing.T) {
	chatStore := newMemStore()
	gen := &fakeGenerator{
		err:     fmt.Errorf("stream broke"),
		chatErr: fmt.Errorf("blocking broke too"),
	}
	o := NewOrchestrator(chatStore, gen, nil, nil, 3)

	result, err := o.HandleTurn(context.Background(), &TurnRequest{
		Principal:   "alice",
		ClientMsgID: "m1",
		Message:     "question",
	})
	require.NoError(t, err)

	for range result.Deltas {
	}
	require.Error(t, <-result.Errs)
}

func TestHandleTurnUnknownSession(t *testing.T) {
	o := NewOrchestrator(newMemStore(), &fakeGenerator{}, nil, nil, 3)
	_, err := o.HandleTurn(context.Background(), &TurnRequest{
		SessionUID:  "missing",
		ClientMsgID: "m1",
		Message:     "hi",
	})
	require.ErrorIs(t, err, ErrSessionNotFound)
}

func TestHandleTurnValidation(t *testing.T) {
	o := NewOrchestrator(newMemStore(), &fakeGenerator{}, nil, nil, 3)

	_, err := o.HandleTurn(context.Background(), &TurnRequest{ClientMsgID: "m1", Message: "  "})
	require.Error(t, err)

	_, err = o.HandleTurn(context.Background(), &TurnRequest{Message: "hi"})
	require.Error(t, err)
}

func TestChatBlocking(t *testing.T) {
	chatStore := newMemStore()
	gen := &fakeGenerator{deltas: []string{"Blocking", " answer"}}
	o := NewOrchestrator(chatStore, gen, nil, nil, 3)

	result, err := o.ChatBlocking(context.Background(), &TurnRequest{
		Principal:   "alice",
		ClientMsgID: "m1",
		Message:     "hello",
	})
	require.NoError(t, err)
	require.Equal(t, "Blocking answer", result.Content)
}

func TestAppendAssistantContentGrowOnly(t *testing.T) {
	chatStore := newMemStore()
	o := NewOrchestrator(chatStore, &fakeGenerator{}, nil, nil, 3)

	session, err := chatStore.CreateChatSession(context.Background(), &store.ChatSession{UID: "s1", Principal: "alice"})
	require.NoError(t, err)
	_, err = chatStore.CreateTurn(context.Background(), &store.Turn{UID: "u1", SessionID: session.ID, Sender: store.SenderUser, Content: "q", ClientMsgID: "m1"})
	require.NoError(t, err)
	bot, err := chatStore.CreateTurn(context.Background(), &store.Turn{UID: "b1", SessionID: session.ID, Sender: store.SenderAssistant, ReplyToID: "m1", Content: "a longer answer"})
	require.NoError(t, err)

	// Shorter content must not shrink the stored answer.
	turn, err := o.AppendAssistantContent(context.Background(), "s1", "alice", "m1", "", "short")
	require.NoError(t, err)
	require.Equal(t, "a longer answer", turn.Content)

	// Longer content wins.
	turn, err = o.AppendAssistantContent(context.Background(), "s1", "alice", "m1", "", "an even longer answer than before")
	require.NoError(t, err)
	require.Equal(t, "an even longer answer than before", turn.Content)
	require.Equal(t, bot.ID, turn.ID)
}

func TestAppendAssistantContentCreatesMissingRows(t *testing.T) {
	chatStore := newMemStore()
	o := NewOrchestrator(chatStore, &fakeGenerator{}, nil, nil, 3)

	session, err := chatStore.CreateChatSession(context.Background(), &store.ChatSession{UID: "s1", Principal: "alice"})
	require.NoError(t, err)

	turn, err := o.AppendAssistantContent(context.Background(), "s1", "alice", "m1", "the question", "the rescued answer")
	require.NoError(t, err)
	require.Equal(t, "the rescued answer", turn.Content)

	turns, err := chatStore.ListTurns(context.Background(), &store.FindTurn{SessionID: &session.ID})
	require.NoError(t, err)
	require.Len(t, turns, 2)
}

func TestEditUserTurnClearsAnswer(t *testing.T) {
	chatStore := newMemStore()
	gen := &fakeGenerator{deltas: []string{"Regenerated."}}
	o := NewOrchestrator(chatStore, gen, nil, nil, 3)

	first, err := o.HandleTurn(context.Background(), &TurnRequest{
		Principal:   "alice",
		ClientMsgID: "m1",
		Message:     "original question",
	})
	require.NoError(t, err)
	collect(t, first)
	require.Eventually(t, func() bool {
		turn, _ := chatStore.GetTurn(context.Background(), &store.FindTurn{ID: &first.BotTurn.ID})
		return turn != nil && turn.Content != ""
	}, time.Second, 10*time.Millisecond)

	edited, err := o.EditUserTurn(context.Background(), first.Session.UID, "alice", "m1", "edited question")
	require.NoError(t, err)
	require.Equal(t, "edited question", edited.Content)
	require.Equal(t, first.UserTurn.ID, edited.ID)

	// Resubmission regenerates instead of replaying the stale answer.
	second, err := o.HandleTurn(context.Background(), &TurnRequest{
		SessionUID:  first.Session.UID,
		Principal:   "alice",
		ClientMsgID: "m1",
		Message:     "edited question",
	})
	require.NoError(t, err)
	require.False(t, second.Replayed)
	require.Equal(t, "Regenerated.", collect(t, second))

	// The answer row survived the edit and was reused, not replaced.
	require.Equal(t, first.BotTurn.ID, second.BotTurn.ID)

	// Still exactly one user row for the client message id.
	sender := store.SenderUser
	users, err := chatStore.ListTurns(context.Background(), &store.FindTurn{SessionID: &first.Session.ID, Sender: &sender})
	require.NoError(t, err)
	require.Len(t, users, 1)
}

func TestEditThenRegenerateTargetsSameRow(t *testing.T) {
	chatStore := newMemStore()
	gen := &fakeGenerator{deltas: []string{"Fresh answer."}}
	o := NewOrchestrator(chatStore, gen, nil, nil, 3)

	first, err := o.HandleTurn(context.Background(), &TurnRequest{
		Principal:   "alice",
		ClientMsgID: "m1",
		Message:     "original question",
	})
	require.NoError(t, err)
	collect(t, first)
	require.Eventually(t, func() bool {
		turn, _ := chatStore.GetTurn(context.Background(), &store.FindTurn{ID: &first.BotTurn.ID})
		return turn != nil && turn.Content != ""
	}, time.Second, 10*time.Millisecond)

	_, err = o.EditUserTurn(context.Background(), first.Session.UID, "alice", "m1", "edited question")
	require.NoError(t, err)

	// The edit must blank the answer, not delete it, so the client can
	// regenerate directly onto the row it already renders.
	cleared, err := chatStore.GetTurn(context.Background(), &store.FindTurn{ID: &first.BotTurn.ID})
	require.NoError(t, err)
	require.NotNil(t, cleared)
	require.Equal(t, "", cleared.Content)

	second, err := o.HandleTurn(context.Background(), &TurnRequest{
		SessionUID:         first.Session.UID,
		Principal:          "alice",
		ClientMsgID:        "m1",
		Message:            "edited question",
		RegenerateTargetID: first.BotTurn.ID,
	})
	require.NoError(t, err)
	require.Equal(t, first.BotTurn.ID, second.BotTurn.ID)
	require.Equal(t, "Fresh answer.", collect(t, second))
}

func TestHandleTurnRetrieverFailureStillAnswers(t *testing.T) {
	chatStore := newMemStore()
	gen := &fakeGenerator{deltas: []string{"Ungrounded answer."}}
	o := NewOrchestrator(chatStore, gen, failingRetriever{}, nil, 3)

	result, err := o.HandleTurn(context.Background(), &TurnRequest{
		Principal:   "alice",
		ClientMsgID: "m1",
		Message:     "question",
	})
	require.NoError(t, err)
	require.Equal(t, "Ungrounded answer.", collect(t, result))

	// The model is told context is missing instead of the turn failing.
	prompt := gen.lastPrompt()
	require.NotEmpty(t, prompt)
	require.Contains(t, prompt[0].Content, "No additional context is available")
}

func TestHandleTurnSearchFailureGetsNeutralInstruction(t *testing.T) {
	chatStore := newMemStore()
	gen := &fakeGenerator{deltas: []string{"Plain answer."}}
	searcher := &fakeSearcher{err: fmt.Errorf("search down")}
	o := NewOrchestrator(chatStore, gen, nil, searcher, 3)

	result, err := o.HandleTurn(context.Background(), &TurnRequest{
		Principal:   "alice",
		ClientMsgID: "m1",
		Message:     "question",
		WebSearch:   true,
	})
	require.NoError(t, err)
	require.Equal(t, "Plain answer.", collect(t, result))
	require.Empty(t, result.Citations)

	prompt := gen.lastPrompt()
	require.NotEmpty(t, prompt)
	require.Contains(t, prompt[0].Content, "No additional context is available")
}

func TestHandleTurnClientGonePersistsFullAnswer(t *testing.T) {
	chatStore := newMemStore()
	gen := &fakeGenerator{deltas: []string{"part one, ", "part two, ", "part three."}}
	o := NewOrchestrator(chatStore, gen, nil, nil, 3)

	ctx, cancel := context.WithCancel(context.Background())
	result, err := o.HandleTurn(ctx, &TurnRequest{
		Principal:   "alice",
		ClientMsgID: "m1",
		Message:     "question",
	})
	require.NoError(t, err)

	// Read one delta, then the client disconnects mid-stream.
	require.Equal(t, "part one, ", <-result.Deltas)
	cancel()

	// The backend keeps generating and the full answer still lands.
	require.Eventually(t, func() bool {
		turn, _ := chatStore.GetTurn(context.Background(), &store.FindTurn{ID: &result.BotTurn.ID})
		return turn != nil && turn.Content == "part one, part two, part three."
	}, time.Second, 10*time.Millisecond)
}

func TestSessionOwnership(t *testing.T) {
	chatStore := newMemStore()
	gen := &fakeGenerator{deltas: []string{"mine."}}
	o := NewOrchestrator(chatStore, gen, nil, nil, 3)

	first, err := o.HandleTurn(context.Background(), &TurnRequest{
		Principal:   "alice",
		ClientMsgID: "m1",
		Message:     "question",
	})
	require.NoError(t, err)
	collect(t, first)
	uid := first.Session.UID

	// Another caller cannot read or mutate alice's session.
	_, _, err = o.ListHistory(context.Background(), uid, "mallory")
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = o.EditUserTurn(context.Background(), uid, "mallory", "m1", "hijacked")
	require.ErrorIs(t, err, ErrSessionNotFound)
	err = o.DeleteSession(context.Background(), uid, "mallory")
	require.ErrorIs(t, err, ErrSessionNotFound)
	_, err = o.HandleTurn(context.Background(), &TurnRequest{
		SessionUID:  uid,
		Principal:   "mallory",
		ClientMsgID: "m2",
		Message:     "question",
	})
	require.ErrorIs(t, err, ErrSessionNotFound)

	// The owner still gets through.
	_, turns, err := o.ListHistory(context.Background(), uid, "alice")
	require.NoError(t, err)
	require.NotEmpty(t, turns)

	// Sessions created without a principal stay open to everyone.
	_, err = chatStore.CreateChatSession(context.Background(), &store.ChatSession{UID: "open"})
	require.NoError(t, err)
	_, _, err = o.ListHistory(context.Background(), "open", "anyone")
	require.NoError(t, err)
}

func TestPartialPersistOmitsFootnotes(t *testing.T) {
	chatStore := newMemStore()
	gen := &fakeGenerator{
		deltas:  []string{"See [1] for details"},
		err:     fmt.Errorf("stream broke"),
		chatErr: fmt.Errorf("blocking broke too"),
	}
	searcher := &fakeSearcher{results: []websearch.Result{{Title: "Doc", URL: "https://example.com"}}}
	o := NewOrchestrator(chatStore, gen, nil, searcher, 3)

	result, err := o.HandleTurn(context.Background(), &TurnRequest{
		Principal:   "alice",
		ClientMsgID: "m1",
		Message:     "question",
		WebSearch:   true,
	})
	require.NoError(t, err)
	for range result.Deltas {
	}
	require.Error(t, <-result.Errs)

	// A partial answer stays a plain prefix so a later retry can grow past
	// it; footnotes belong only on the finished answer.
	require.Eventually(t, func() bool {
		turn, _ := chatStore.GetTurn(context.Background(), &store.FindTurn{ID: &result.BotTurn.ID})
		return turn != nil && turn.Content == "See [1] for details"
	}, time.Second, 10*time.Millisecond)
}

func TestFinalPersistAppendsFootnotes(t *testing.T) {
	chatStore := newMemStore()
	gen := &fakeGenerator{deltas: []string{"See [1]."}}
	searcher := &fakeSearcher{results: []websearch.Result{{Title: "Doc", URL: "https://example.com"}}}
	o := NewOrchestrator(chatStore, gen, nil, searcher, 3)

	result, err := o.HandleTurn(context.Background(), &TurnRequest{
		Principal:   "alice",
		ClientMsgID: "m1",
		Message:     "question",
		WebSearch:   true,
	})
	require.NoError(t, err)
	require.Equal(t, "See [1].", collect(t, result))

	require.Eventually(t, func() bool {
		turn, _ := chatStore.GetTurn(context.Background(), &store.FindTurn{ID: &result.BotTurn.ID})
		return turn != nil && turn.Content == "See [1].\n\n[1]: Doc (https://example.com)"
	}, time.Second, 10*time.Millisecond)
}

func TestDeleteUserTurnRemovesAnswer(t *testing.T) {
	chatStore := newMemStore()
	gen := &fakeGenerator{deltas: []string{"A."}}
	o := NewOrchestrator(chatStore, gen, nil, nil, 3)

	result, err := o.HandleTurn(context.Background(), &TurnRequest{
		Principal:   "alice",
		ClientMsgID: "m1",
		Message:     "q",
	})
	require.NoError(t, err)
	collect(t, result)

	require.NoError(t, o.DeleteTurn(context.Background(), result.Session.UID, "alice", result.UserTurn.ID))

	turns, err := chatStore.ListTurns(context.Background(), &store.FindTurn{SessionID: &result.Session.ID})
	require.NoError(t, err)
	require.Empty(t, turns)
}

func TestReact(t *testing.T) {
	chatStore := newMemStore()
	o := NewOrchestrator(chatStore, &fakeGenerator{}, nil, nil, 3)

	session, err := chatStore.CreateChatSession(context.Background(), &store.ChatSession{UID: "s1", Principal: "alice"})
	require.NoError(t, err)
	bot, err := chatStore.CreateTurn(context.Background(), &store.Turn{UID: "b1", SessionID: session.ID, Sender: store.SenderAssistant, Content: "a", ReplyToID: "m1"})
	require.NoError(t, err)

	turn, err := o.React(context.Background(), "s1", "alice", bot.ID, ReactionUp, "helpful")
	require.NoError(t, err)
	require.Equal(t, ReactionUp, turn.Reaction)
	require.Equal(t, "helpful", turn.ReactionNote)

	turn, err = o.React(context.Background(), "s1", "alice", bot.ID, ReactionNone, "leftover")
	require.NoError(t, err)
	require.Equal(t, "", turn.Reaction)
	require.Equal(t, "", turn.ReactionNote)

	_, err = o.React(context.Background(), "s1", "alice", bot.ID, "meh", "")
	require.Error(t, err)
}

func TestArchiveIdleSessions(t *testing.T) {
	chatStore := newMemStore()
	o := NewOrchestrator(chatStore, &fakeGenerator{}, nil, nil, 3)

	stale := time.Now().Add(-time.Hour).Unix()
	_, err := chatStore.CreateChatSession(context.Background(), &store.ChatSession{UID: "old", Principal: "alice", UpdatedTs: stale})
	require.NoError(t, err)
	_, err = chatStore.CreateChatSession(context.Background(), &store.ChatSession{UID: "fresh", Principal: "alice"})
	require.NoError(t, err)
	_, err = chatStore.CreateChatSession(context.Background(), &store.ChatSession{UID: "pinned", Principal: "alice", Pinned: true, UpdatedTs: stale})
	require.NoError(t, err)

	count, err := o.ArchiveIdleSessions(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, count)

	archived, err := chatStore.GetChatSessionByUID(context.Background(), "old")
	require.NoError(t, err)
	require.Equal(t, store.Archived, archived.RowStatus)

	fresh, err := chatStore.GetChatSessionByUID(context.Background(), "fresh")
	require.NoError(t, err)
	require.Equal(t, store.Normal, fresh.RowStatus)
}

func TestDeriveTitle(t *testing.T) {
	require.Equal(t, "one two three four five six", deriveTitle("one two three four five six seven eight"))
	require.Equal(t, "short", deriveTitle("short"))

	long := strings.Repeat("verylongword ", 6)
	require.LessOrEqual(t, len([]rune(deriveTitle(long))), 50)
}
