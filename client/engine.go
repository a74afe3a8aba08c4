package client

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/parleyhq/parley/plugin/streamcodec"
)

// State is the engine's position in the turn lifecycle.
type State string

const (
	StateIdle       State = "idle"
	StateSent       State = "sent"
	StateStreaming  State = "streaming"
	StateFinalizing State = "finalizing"
	StateSettled    State = "settled"
	StateErrored    State = "errored"
)

// Lifecycle events emitted around session activity.
const (
	LifecycleSessionStart = "session-start"
	LifecycleSessionEnd   = "session-end"
)

const defaultIdleTimeout = 30 * time.Minute

const apologyText = "Sorry, something went wrong while answering. Please try again."

// Callbacks notify the embedding application. All may be nil.
type Callbacks struct {
	// OnTranscript fires after every mutation batch with the current turns.
	OnTranscript func(turns []*Turn)
	// OnLifecycle fires for session-start and session-end events.
	OnLifecycle func(event string)
}

// Engine drives one visible conversation: optimistic sends, stream
// consumption, history reconciliation, and the edit/regenerate/delete flows.
// One Engine per conversation container; no shared globals.
type Engine struct {
	mu         sync.Mutex
	api        *API
	transcript *Transcript
	callbacks  Callbacks

	state      State
	sessionUID string
	mode       string
	webSearch  bool

	typewriter *Typewriter
	cps        int

	loadSeq     int
	idleTimeout time.Duration
	idleTimer   *time.Timer
	started     bool

	newClientMsgID func() string
}

type EngineOption func(*Engine)

// WithMode sets the conversation mode for new sessions.
func WithMode(mode string) EngineOption {
	return func(e *Engine) { e.mode = mode }
}

// WithWebSearch enables the web-search augmentation on every turn.
func WithWebSearch(enabled bool) EngineOption {
	return func(e *Engine) { e.webSearch = enabled }
}

// WithSession resumes an existing session.
func WithSession(sessionUID string) EngineOption {
	return func(e *Engine) { e.sessionUID = sessionUID }
}

// WithIdleTimeout overrides the session-end inactivity window.
func WithIdleTimeout(timeout time.Duration) EngineOption {
	return func(e *Engine) { e.idleTimeout = timeout }
}

// WithTypewriterRate overrides the reveal pacing in characters per second.
func WithTypewriterRate(cps int) EngineOption {
	return func(e *Engine) { e.cps = cps }
}

func NewEngine(api *API, callbacks Callbacks, opts ...EngineOption) *Engine {
	e := &Engine{
		api:            api,
		transcript:     NewTranscript(),
		callbacks:      callbacks,
		state:          StateIdle,
		cps:            defaultCharsPerSecond,
		idleTimeout:    defaultIdleTimeout,
		newClientMsgID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// State returns the engine's current lifecycle state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// SessionUID returns the active session id, empty before the first turn.
func (e *Engine) SessionUID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessionUID
}

// Turns returns the rendered transcript.
func (e *Engine) Turns() []*Turn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transcript.Turns()
}

// Send submits a new user message: the user turn renders immediately, the
// assistant turn fills as deltas arrive.
func (e *Engine) Send(ctx context.Context, text string) error {
	if text == "" {
		return errors.New("message is empty")
	}

	e.mu.Lock()
	clientMsgID := e.newClientMsgID()
	userTurn := &Turn{Role: RoleUser, ClientMsgID: clientMsgID, Text: text}
	e.transcript.Append(userTurn)
	e.state = StateSent
	e.touchLocked()
	e.mu.Unlock()
	e.notify()

	return e.stream(ctx, &StreamRequest{
		SessionUID:  e.SessionUID(),
		ClientMsgID: clientMsgID,
		Message:     text,
		Mode:        e.mode,
		WebSearch:   e.webSearch,
	}, userTurn)
}

// EditLastUserTurn replaces the newest user turn's text, then regenerates
// the answer in place when one exists, or requests a fresh answer without
// re-inserting the user turn when none does.
func (e *Engine) EditLastUserTurn(ctx context.Context, text string) error {
	if text == "" {
		return errors.New("message is empty")
	}

	e.mu.Lock()
	userTurn := e.transcript.LastUserTurn()
	if userTurn == nil {
		e.mu.Unlock()
		return errors.New("no user turn to edit")
	}
	sessionUID := e.sessionUID
	e.mu.Unlock()

	if err := e.api.EditUserTurn(ctx, sessionUID, userTurn.ClientMsgID, text); err != nil {
		return err
	}

	e.mu.Lock()
	userTurn.Text = text
	answer := e.transcript.AnswerFor(userTurn.ClientMsgID)
	e.pruneExtraAnswersLocked(userTurn)
	e.mu.Unlock()
	e.notify()

	req := &StreamRequest{
		SessionUID:  sessionUID,
		ClientMsgID: userTurn.ClientMsgID,
		Message:     text,
		Mode:        e.mode,
		WebSearch:   e.webSearch,
	}
	if answer != nil && answer.RowID != 0 {
		req.RegenerateTargetID = answer.RowID
	} else {
		req.SuppressUserInsert = true
	}
	return e.stream(ctx, req, userTurn)
}

// Regenerate replaces an assistant turn's content in place, reusing the
// text of the user turn it answers.
func (e *Engine) Regenerate(ctx context.Context, answer *Turn) error {
	if answer == nil || answer.Role != RoleAssistant {
		return errors.New("regenerate requires an assistant turn")
	}

	e.mu.Lock()
	userTurn := e.transcript.FindByClientMsgID(answer.ReplyToID)
	sessionUID := e.sessionUID
	e.mu.Unlock()
	if userTurn == nil {
		return errors.New("no user turn for this answer")
	}

	req := &StreamRequest{
		SessionUID:         sessionUID,
		ClientMsgID:        userTurn.ClientMsgID,
		Message:            userTurn.Text,
		Mode:               e.mode,
		WebSearch:          e.webSearch,
		RegenerateTargetID: answer.RowID,
	}
	return e.stream(ctx, req, userTurn)
}

// Delete removes a turn. Deleting a user turn also removes its answer.
func (e *Engine) Delete(ctx context.Context, turn *Turn) error {
	e.mu.Lock()
	sessionUID := e.sessionUID
	e.mu.Unlock()

	if turn.RowID != 0 {
		if err := e.api.DeleteTurn(ctx, sessionUID, turn.RowID); err != nil {
			return err
		}
	}

	e.mu.Lock()
	if turn.Role == RoleUser {
		if answer := e.transcript.AnswerFor(turn.ClientMsgID); answer != nil {
			e.transcript.Remove(answer)
		}
	}
	e.transcript.Remove(turn)
	e.transcript.Normalize()
	e.mu.Unlock()
	e.notify()
	return nil
}

// React records a reaction on an assistant turn.
func (e *Engine) React(ctx context.Context, turn *Turn, reaction, note string) error {
	if turn.Role != RoleAssistant || turn.RowID == 0 {
		return errors.New("reaction requires a persisted assistant turn")
	}

	if err := e.api.React(ctx, e.SessionUID(), turn.RowID, reaction, note); err != nil {
		return err
	}

	e.mu.Lock()
	turn.Reaction = reaction
	e.mu.Unlock()
	e.notify()
	return nil
}

// LoadHistory reloads the transcript from the server and merges it with
// what is on screen. Only the most recently requested load renders; stale
// responses are discarded.
func (e *Engine) LoadHistory(ctx context.Context) error {
	e.mu.Lock()
	sessionUID := e.sessionUID
	e.loadSeq++
	seq := e.loadSeq
	e.mu.Unlock()

	if sessionUID == "" {
		return nil
	}

	history, err := e.api.History(ctx, sessionUID)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if seq < e.loadSeq {
		// A newer load is in flight or already rendered.
		e.mu.Unlock()
		return nil
	}

	loaded := make([]*Turn, 0, len(history.Turns))
	for _, info := range history.Turns {
		loaded = append(loaded, &Turn{
			Role:        roleFromSender(info.Sender),
			RowID:       info.ID,
			ClientMsgID: info.ClientMsgID,
			ReplyToID:   info.ReplyToID,
			Text:        info.Content,
			Reaction:    info.Reaction,
		})
	}
	e.transcript.Merge(loaded)
	e.transcript.Normalize()
	e.mu.Unlock()
	e.notify()
	return nil
}

// ActionsFor exposes the per-turn affordances for rendering.
func (e *Engine) ActionsFor(turn *Turn) []Action {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.transcript.ActionsFor(turn)
}

// AdvanceReveal releases typewriter characters for the active stream and
// returns the revealed text. The embedding application drives this from its
// own ticker.
func (e *Engine) AdvanceReveal(elapsed time.Duration) string {
	e.mu.Lock()
	tw := e.typewriter
	e.mu.Unlock()
	if tw == nil {
		return ""
	}
	return tw.Advance(elapsed)
}

// stream drives one generation stream into the transcript.
func (e *Engine) stream(ctx context.Context, req *StreamRequest, userTurn *Turn) error {
	e.mu.Lock()
	e.state = StateSent
	e.typewriter = NewTypewriter(e.cps)
	e.startSessionLocked()
	e.mu.Unlock()

	var botTurn *Turn
	var streamErrCode string

	err := e.api.Stream(ctx, req, func(event *streamcodec.Event) error {
		e.mu.Lock()
		defer e.mu.Unlock()

		switch event.Type {
		case streamcodec.TypeMeta:
			if event.SessionUID != "" {
				e.sessionUID = event.SessionUID
			}
			if userTurn.RowID == 0 {
				userTurn.RowID = event.UserTurnID
			}
			botTurn = e.adoptAnswerLocked(req, event.BotTurnID)
		case streamcodec.TypeDelta:
			e.state = StateStreaming
			if botTurn == nil {
				botTurn = e.adoptAnswerLocked(req, 0)
			}
			botTurn.Text += event.Text
			e.typewriter.Enqueue(event.Text)
		case streamcodec.TypeError:
			streamErrCode = event.Code
		case streamcodec.TypeDone:
			e.state = StateFinalizing
		}
		return nil
	})

	failed := err != nil || streamErrCode != ""
	e.mu.Lock()
	if e.typewriter != nil {
		e.typewriter.Flush()
	}
	usable := botTurn != nil && botTurn.Text != ""
	e.mu.Unlock()

	if failed && !usable {
		// The stream produced nothing. One blocking attempt on the same
		// request; idempotency makes the resubmit safe.
		if resp, submitErr := e.api.Submit(ctx, req); submitErr == nil && resp.Content != "" {
			e.mu.Lock()
			if resp.SessionUID != "" {
				e.sessionUID = resp.SessionUID
			}
			if userTurn.RowID == 0 {
				userTurn.RowID = resp.UserTurnID
			}
			if botTurn == nil {
				botTurn = e.adoptAnswerLocked(req, resp.BotTurnID)
			}
			if botTurn.RowID == 0 {
				botTurn.RowID = resp.BotTurnID
			}
			botTurn.Text = resp.Content
			e.typewriter.Enqueue(resp.Content)
			e.typewriter.Flush()
			e.mu.Unlock()
			err = nil
			streamErrCode = ""
		}
	}

	e.mu.Lock()
	sessionUID := e.sessionUID

	switch {
	case err != nil || (streamErrCode != "" && (botTurn == nil || botTurn.Text == "")):
		// Nothing usable came back. The transcript shows an apology
		// instead of a transport error.
		if botTurn == nil {
			botTurn = e.adoptAnswerLocked(req, 0)
		}
		if botTurn.Text == "" {
			botTurn.Text = apologyText
		}
		e.state = StateErrored
	case streamErrCode != "":
		// Partial answer then a failure; keep what arrived.
		e.state = StateErrored
	default:
		e.state = StateSettled
	}
	finalText := ""
	if botTurn != nil && e.state == StateSettled {
		finalText = botTurn.Text
	}
	clientMsgID := req.ClientMsgID
	userText := req.Message
	e.transcript.Normalize()
	e.touchLocked()
	e.mu.Unlock()
	e.notify()

	if err != nil {
		return err
	}

	// Safety persist: hand the accumulated text back so the server keeps
	// whichever copy is fuller, even if its own write was interrupted.
	if finalText != "" {
		if persistErr := e.api.AppendHistory(ctx, sessionUID, clientMsgID, userText, finalText); persistErr != nil {
			return persistErr
		}
	}
	return nil
}

// adoptAnswerLocked finds or creates the assistant turn for the request.
func (e *Engine) adoptAnswerLocked(req *StreamRequest, rowID int32) *Turn {
	if req.RegenerateTargetID != 0 {
		for _, turn := range e.transcript.Turns() {
			if turn.RowID == req.RegenerateTargetID {
				turn.Text = ""
				return turn
			}
		}
	}
	if existing := e.transcript.AnswerFor(req.ClientMsgID); existing != nil {
		if rowID != 0 {
			existing.RowID = rowID
		}
		return existing
	}
	turn := &Turn{Role: RoleAssistant, RowID: rowID, ReplyToID: req.ClientMsgID}
	e.transcript.Append(turn)
	return turn
}

// pruneExtraAnswersLocked removes stray assistant turns that follow the
// given user turn, keeping at most the primary answer.
func (e *Engine) pruneExtraAnswersLocked(userTurn *Turn) {
	primary := e.transcript.AnswerFor(userTurn.ClientMsgID)
	var strays []*Turn
	seen := false
	for _, turn := range e.transcript.Turns() {
		if turn == userTurn {
			seen = true
			continue
		}
		if !seen {
			continue
		}
		if turn.Role == RoleUser {
			break
		}
		if turn != primary {
			strays = append(strays, turn)
		}
	}
	for _, stray := range strays {
		e.transcript.Remove(stray)
	}
}

// startSessionLocked emits session-start once and arms the idle timer.
func (e *Engine) startSessionLocked() {
	if !e.started {
		e.started = true
		if e.callbacks.OnLifecycle != nil {
			go e.callbacks.OnLifecycle(LifecycleSessionStart)
		}
	}
	e.touchLocked()
}

// touchLocked re-arms the inactivity timer.
func (e *Engine) touchLocked() {
	if e.idleTimer != nil {
		e.idleTimer.Stop()
	}
	e.idleTimer = time.AfterFunc(e.idleTimeout, func() {
		e.mu.Lock()
		e.started = false
		e.mu.Unlock()
		if e.callbacks.OnLifecycle != nil {
			e.callbacks.OnLifecycle(LifecycleSessionEnd)
		}
	})
}

func (e *Engine) notify() {
	if e.callbacks.OnTranscript != nil {
		e.callbacks.OnTranscript(e.Turns())
	}
}

func roleFromSender(sender string) Role {
	if sender == "ASSISTANT" {
		return RoleAssistant
	}
	return RoleUser
}
