// Package chat orchestrates a conversation turn: idempotent persistence of
// the user message, grounding, generation, and grow-only persistence of the
// streamed answer.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/parleyhq/parley/plugin/generation"
	"github.com/parleyhq/parley/plugin/streamcodec"
	"github.com/parleyhq/parley/plugin/websearch"
	"github.com/parleyhq/parley/server/retrieval"
	"github.com/parleyhq/parley/store"
)

const (
	// titleWordLimit and titleMaxLen bound session titles derived from the
	// first user message.
	titleWordLimit = 6
	titleMaxLen    = 50

	// historyWindow is how many prior turns are replayed into the prompt.
	historyWindow = 20

	// sessionIdleTimeout is how long a session may sit untouched before the
	// sweeper archives it.
	sessionIdleTimeout = 30 * time.Minute
)

// ErrSessionNotFound is returned when a session UID resolves to nothing.
var ErrSessionNotFound = errors.New("session not found")

// ErrTurnNotFound is returned when a turn lookup resolves to nothing.
var ErrTurnNotFound = errors.New("turn not found")

// ChatStore is the slice of the store the orchestrator needs.
type ChatStore interface {
	CreateChatSession(ctx context.Context, create *store.ChatSession) (*store.ChatSession, error)
	ListChatSessions(ctx context.Context, find *store.FindChatSession) ([]*store.ChatSession, error)
	GetChatSessionByUID(ctx context.Context, uid string) (*store.ChatSession, error)
	UpdateChatSession(ctx context.Context, update *store.UpdateChatSession) (*store.ChatSession, error)
	DeleteChatSession(ctx context.Context, delete *store.DeleteChatSession) error

	CreateTurn(ctx context.Context, create *store.Turn) (*store.Turn, error)
	ListTurns(ctx context.Context, find *store.FindTurn) ([]*store.Turn, error)
	GetTurn(ctx context.Context, find *store.FindTurn) (*store.Turn, error)
	UpdateTurn(ctx context.Context, update *store.UpdateTurn) (*store.Turn, error)
	GrowTurnContent(ctx context.Context, id int32, content string, updatedTs int64) (bool, error)
	DeleteTurn(ctx context.Context, delete *store.DeleteTurn) error
	FindUserTurn(ctx context.Context, sessionID int32, clientMsgID string) (*store.Turn, error)
	FindAssistantTurn(ctx context.Context, sessionID int32, replyToID string) (*store.Turn, error)
}

// Generator is the generation backend surface the orchestrator needs.
type Generator interface {
	Chat(ctx context.Context, messages []generation.Message) (string, error)
	ChatStream(ctx context.Context, messages []generation.Message) (<-chan string, <-chan error)
}

// Retriever grounds a query in indexed knowledge.
type Retriever interface {
	Retrieve(ctx context.Context, query string) ([]retrieval.Passage, error)
}

// Searcher fetches web results for citation grounding.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]websearch.Result, error)
}

// Orchestrator drives conversation turns end to end.
type Orchestrator struct {
	store     ChatStore
	generator Generator
	retriever Retriever
	searcher  Searcher

	webSearchResults int
}

// NewOrchestrator wires the orchestrator. retriever and searcher may be nil
// when grounding or web search is disabled.
func NewOrchestrator(chatStore ChatStore, generator Generator, retriever Retriever, searcher Searcher, webSearchResults int) *Orchestrator {
	if webSearchResults <= 0 {
		webSearchResults = 3
	}
	return &Orchestrator{
		store:            chatStore,
		generator:        generator,
		retriever:        retriever,
		searcher:         searcher,
		webSearchResults: webSearchResults,
	}
}

// TurnRequest is one submitted user message.
type TurnRequest struct {
	SessionUID  string
	Principal   string
	ClientMsgID string
	Message     string
	Mode        string
	WebSearch   bool

	// RegenerateTargetID names an assistant row to regenerate in place. The
	// row's content is cleared and the new answer lands on the same id.
	RegenerateTargetID int32

	// SuppressUserInsert skips creating a user row when none exists, for
	// edit flows that already persisted the user text through another path.
	SuppressUserInsert bool
}

// TurnResult describes an accepted turn. For a replayed turn Content holds
// the finished answer and Deltas is nil; otherwise Deltas streams the answer
// and Errs delivers at most one failure.
type TurnResult struct {
	Session   *store.ChatSession
	UserTurn  *store.Turn
	BotTurn   *store.Turn
	Replayed  bool
	Content   string
	Citations []streamcodec.Citation

	Deltas <-chan string
	Errs   <-chan error
}

// HandleTurn accepts a user message and starts (or replays) the answer.
//
// The same (session, client message id) pair always lands on the same user
// row, and a finished answer is replayed without calling the backend, so
// client retries are safe.
func (o *Orchestrator) HandleTurn(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, errors.New("message is empty")
	}
	if req.ClientMsgID == "" {
		return nil, errors.New("client message id is required")
	}
	if o.generator == nil {
		return nil, generation.ErrNotConfigured
	}

	session, err := o.resolveSession(ctx, req)
	if err != nil {
		return nil, err
	}

	userTurn, err := o.store.FindUserTurn(ctx, session.ID, req.ClientMsgID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up user turn")
	}

	if req.RegenerateTargetID != 0 {
		if userTurn == nil {
			return nil, ErrTurnNotFound
		}
		botTurn, err := o.resetRegenerateTarget(ctx, session.ID, req.RegenerateTargetID)
		if err != nil {
			return nil, err
		}
		return o.generate(ctx, session, userTurn, botTurn, req)
	}

	if userTurn != nil {
		botTurn, err := o.store.FindAssistantTurn(ctx, session.ID, req.ClientMsgID)
		if err != nil {
			return nil, errors.Wrap(err, "failed to look up assistant turn")
		}
		if botTurn != nil && botTurn.Content != "" {
			// The answer already exists. Replay it instead of generating twice.
			return &TurnResult{
				Session:  session,
				UserTurn: userTurn,
				BotTurn:  botTurn,
				Replayed: true,
				Content:  botTurn.Content,
			}, nil
		}
		if botTurn != nil {
			// A placeholder exists but the previous stream never landed
			// content. Resume generation onto the same row.
			return o.generate(ctx, session, userTurn, botTurn, req)
		}
	}

	if userTurn == nil && !req.SuppressUserInsert {
		userTurn, err = o.store.CreateTurn(ctx, &store.Turn{
			UID:         shortuuid.New(),
			SessionID:   session.ID,
			Sender:      store.SenderUser,
			Content:     req.Message,
			ClientMsgID: req.ClientMsgID,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to persist user turn")
		}
	}
	if userTurn == nil {
		// Insert suppressed and no stored row. Carry an unsaved turn so the
		// relay can still frame the client message id; the zero row id tells
		// the client nothing was persisted.
		userTurn = &store.Turn{
			SessionID:   session.ID,
			Sender:      store.SenderUser,
			Content:     req.Message,
			ClientMsgID: req.ClientMsgID,
		}
	}

	// The placeholder row exists before generation starts, so a crash or
	// disconnect still leaves a resumable anchor keyed by reply_to.
	botTurn, err := o.store.CreateTurn(ctx, &store.Turn{
		UID:       shortuuid.New(),
		SessionID: session.ID,
		Sender:    store.SenderAssistant,
		Content:   "",
		ReplyToID: req.ClientMsgID,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to persist assistant placeholder")
	}

	return o.generate(ctx, session, userTurn, botTurn, req)
}

// resetRegenerateTarget clears the targeted assistant row so the new answer
// replaces it in place instead of appending a second row.
func (o *Orchestrator) resetRegenerateTarget(ctx context.Context, sessionID, targetID int32) (*store.Turn, error) {
	turn, err := o.store.GetTurn(ctx, &store.FindTurn{ID: &targetID, SessionID: &sessionID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up regenerate target")
	}
	if turn == nil || turn.Sender != store.SenderAssistant {
		return nil, ErrTurnNotFound
	}

	empty := ""
	cleared, err := o.store.UpdateTurn(ctx, &store.UpdateTurn{ID: turn.ID, Content: &empty})
	if err != nil {
		return nil, errors.Wrap(err, "failed to clear regenerate target")
	}
	return cleared, nil
}

// generate grounds the prompt, starts streaming, and persists content as it
// accumulates. Persistence uses a detached context so a dropped client does
// not lose what the backend already produced.
func (o *Orchestrator) generate(ctx context.Context, session *store.ChatSession, userTurn, botTurn *store.Turn, req *TurnRequest) (*TurnResult, error) {
	prompt, citations, err := o.buildPrompt(ctx, session, req)
	if err != nil {
		return nil, err
	}

	// Generation and persistence run on a detached context: the client
	// dropping must not cancel the backend mid-answer.
	persistCtx := context.WithoutCancel(ctx)
	upstream, upstreamErrs := o.generator.ChatStream(persistCtx, prompt)

	deltas := make(chan string)
	errs := make(chan error, 1)

	go func() {
		defer close(deltas)
		defer close(errs)

		var answer strings.Builder
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

		// Footnotes only go on the final write. An incremental flush is a
		// prefix the next flush must grow past, and a footnote block in the
		// middle would poison every snapshot after it.
		persist := func(final bool) {
			if answer.Len() == 0 {
				return
			}
			content := answer.String()
			if final && len(citations) > 0 {
				content = appendFootnotes(content, citations)
			}
			if _, err := o.store.GrowTurnContent(persistCtx, botTurn.ID, content, time.Now().Unix()); err != nil {
				slog.Error("failed to persist assistant content", slog.Int("turn", int(botTurn.ID)), slog.String("error", err.Error()))
			}
		}

		// fail runs one blocking call on the same prompt before surfacing
		// the stream failure. A successful fallback replaces the partial
		// answer and the client never sees the transport error.
		fail := func(streamErr error) {
			text, fallbackErr := o.generator.Chat(persistCtx, prompt)
			if fallbackErr != nil || text == "" {
				persist(false)
				errs <- streamErr
				return
			}

			streamed := answer.String()
			answer.Reset()
			answer.WriteString(text)
			remainder := text
			if strings.HasPrefix(text, streamed) {
				remainder = text[len(streamed):]
			}
			if remainder != "" {
				select {
				case deltas <- remainder:
				case <-ctx.Done():
				}
			}
			persist(true)
			o.touchSession(persistCtx, session.ID)
		}

		for {
			select {
			case delta, ok := <-upstream:
				if !ok {
					// A failure can race the channel close; check for one
					// before treating this as clean completion.
					if upstreamErrs != nil {
						if err := <-upstreamErrs; err != nil {
							fail(err)
							return
						}
					}
					persist(true)
					o.touchSession(persistCtx, session.ID)
					return
				}
				answer.WriteString(delta)
				select {
				case deltas <- delta:
				case <-ctx.Done():
					// Client is gone. Drain the backend so the full answer
					// still lands in the store.
					for rest := range upstream {
						answer.WriteString(rest)
					}
					persist(true)
					o.touchSession(persistCtx, session.ID)
					return
				}
			case err := <-upstreamErrs:
				if err != nil {
					fail(err)
					return
				}
				upstreamErrs = nil
			case <-ticker.C:
				persist(false)
			}
		}
	}()

	return &TurnResult{
		Session:   session,
		UserTurn:  userTurn,
		BotTurn:   botTurn,
		Citations: citations,
		Deltas:    deltas,
		Errs:      errs,
	}, nil
}

// ChatBlocking answers without streaming, for clients that cannot consume
// NDJSON. The same idempotency rules apply.
func (o *Orchestrator) ChatBlocking(ctx context.Context, req *TurnRequest) (*TurnResult, error) {
	result, err := o.HandleTurn(ctx, req)
	if err != nil {
		return nil, err
	}
	if result.Replayed {
		return result, nil
	}

	var answer strings.Builder
	for delta := range result.Deltas {
		answer.WriteString(delta)
	}
	if err := <-result.Errs; err != nil && answer.Len() == 0 {
		return nil, err
	}
	result.Content = answer.String()
	if len(result.Citations) > 0 {
		result.Content = appendFootnotes(result.Content, result.Citations)
	}
	result.Deltas = nil
	result.Errs = nil
	return result, nil
}

// resolveSession loads the requested session, checking ownership, or creates
// a new one titled from the first words of the message.
func (o *Orchestrator) resolveSession(ctx context.Context, req *TurnRequest) (*store.ChatSession, error) {
	if req.SessionUID != "" {
		return o.getOwnedSession(ctx, req.SessionUID, req.Principal)
	}

	mode := req.Mode
	if mode != store.SessionModeFreeForm {
		mode = store.SessionModeGrounded
	}
	session, err := o.store.CreateChatSession(ctx, &store.ChatSession{
		UID:       shortuuid.New(),
		Principal: req.Principal,
		Mode:      mode,
		Title:     deriveTitle(req.Message),
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create session")
	}
	return session, nil
}

func (o *Orchestrator) touchSession(ctx context.Context, sessionID int32) {
	now := time.Now().Unix()
	if _, err := o.store.UpdateChatSession(ctx, &store.UpdateChatSession{ID: sessionID, UpdatedTs: &now}); err != nil {
		slog.Warn("failed to touch session", slog.Int("session", int(sessionID)), slog.String("error", err.Error()))
	}
}

// ArchiveIdleSessions archives sessions with no activity for the idle
// window. Pinned sessions are left alone.
func (o *Orchestrator) ArchiveIdleSessions(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-sessionIdleTimeout).Unix()
	normal := store.Normal
	pinned := false
	sessions, err := o.store.ListChatSessions(ctx, &store.FindChatSession{
		RowStatus:       &normal,
		Pinned:          &pinned,
		UpdatedTsBefore: &cutoff,
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to list idle sessions")
	}

	archived := store.Archived
	count := 0
	for _, session := range sessions {
		if _, err := o.store.UpdateChatSession(ctx, &store.UpdateChatSession{ID: session.ID, RowStatus: &archived}); err != nil {
			slog.Warn("failed to archive session", slog.String("uid", session.UID), slog.String("error", err.Error()))
			continue
		}
		count++
	}
	return count, nil
}

// deriveTitle takes the first words of the message, capped in length.
func deriveTitle(message string) string {
	words := strings.Fields(message)
	if len(words) > titleWordLimit {
		words = words[:titleWordLimit]
	}
	title := strings.Join(words, " ")
	runes := []rune(title)
	if len(runes) > titleMaxLen {
		title = string(runes[:titleMaxLen])
	}
	return title
}
