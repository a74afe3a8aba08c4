package chat

import (
	"context"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/parleyhq/parley/store"
)

// Reaction values accepted on assistant turns.
const (
	ReactionUp   = "up"
	ReactionDown = "down"
	ReactionNone = ""
)

// getOwnedSession loads a session and checks the caller owns it. Sessions
// created without a principal stay open to everyone; for owned sessions a
// mismatched caller gets a not-found, never a hint the session exists.
func (o *Orchestrator) getOwnedSession(ctx context.Context, sessionUID, principal string) (*store.ChatSession, error) {
	session, err := o.store.GetChatSessionByUID(ctx, sessionUID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load session")
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.Principal != "" && session.Principal != principal {
		return nil, ErrSessionNotFound
	}
	return session, nil
}

// ListHistory returns the turns of a session in insertion order. Assistant
// placeholders that never received content are filtered out.
func (o *Orchestrator) ListHistory(ctx context.Context, sessionUID, principal string) (*store.ChatSession, []*store.Turn, error) {
	session, err := o.getOwnedSession(ctx, sessionUID, principal)
	if err != nil {
		return nil, nil, err
	}

	turns, err := o.store.ListTurns(ctx, &store.FindTurn{SessionID: &session.ID})
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to list turns")
	}

	filtered := make([]*store.Turn, 0, len(turns))
	for _, turn := range turns {
		if turn.Sender == store.SenderAssistant && turn.Content == "" {
			continue
		}
		filtered = append(filtered, turn)
	}
	return session, filtered, nil
}

// AppendAssistantContent is the client's safety persist: after a stream
// finishes (or dies) the client posts the text it accumulated, and the
// grow-only rule keeps whichever copy is fuller. Missing rows are created
// so a crashed stream still leaves a complete transcript.
func (o *Orchestrator) AppendAssistantContent(ctx context.Context, sessionUID, principal, clientMsgID, userMessage, content string) (*store.Turn, error) {
	session, err := o.getOwnedSession(ctx, sessionUID, principal)
	if err != nil {
		return nil, err
	}

	userTurn, err := o.store.FindUserTurn(ctx, session.ID, clientMsgID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up user turn")
	}
	if userTurn == nil && userMessage != "" {
		if _, err := o.store.CreateTurn(ctx, &store.Turn{
			UID:         shortuuid.New(),
			SessionID:   session.ID,
			Sender:      store.SenderUser,
			Content:     userMessage,
			ClientMsgID: clientMsgID,
		}); err != nil {
			return nil, errors.Wrap(err, "failed to persist user turn")
		}
	}

	botTurn, err := o.store.FindAssistantTurn(ctx, session.ID, clientMsgID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up assistant turn")
	}
	if botTurn == nil {
		botTurn, err = o.store.CreateTurn(ctx, &store.Turn{
			UID:       shortuuid.New(),
			SessionID: session.ID,
			Sender:    store.SenderAssistant,
			Content:   content,
			ReplyToID: clientMsgID,
		})
		if err != nil {
			return nil, errors.Wrap(err, "failed to persist assistant turn")
		}
		return botTurn, nil
	}

	if _, err := o.store.GrowTurnContent(ctx, botTurn.ID, content, time.Now().Unix()); err != nil {
		return nil, errors.Wrap(err, "failed to grow assistant content")
	}
	return o.store.GetTurn(ctx, &store.FindTurn{ID: &botTurn.ID})
}

// EditUserTurn replaces the content of a user turn and blanks the answer
// keyed to it. The answer row keeps its id so a follow-up regeneration can
// target it; blank rows are hidden from history until they fill back in.
func (o *Orchestrator) EditUserTurn(ctx context.Context, sessionUID, principal, clientMsgID, content string) (*store.Turn, error) {
	if strings.TrimSpace(content) == "" {
		return nil, errors.New("content is empty")
	}

	session, err := o.getOwnedSession(ctx, sessionUID, principal)
	if err != nil {
		return nil, err
	}

	userTurn, err := o.store.FindUserTurn(ctx, session.ID, clientMsgID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up user turn")
	}
	if userTurn == nil {
		return nil, ErrTurnNotFound
	}

	updated, err := o.store.UpdateTurn(ctx, &store.UpdateTurn{ID: userTurn.ID, Content: &content})
	if err != nil {
		return nil, errors.Wrap(err, "failed to update user turn")
	}

	botTurn, err := o.store.FindAssistantTurn(ctx, session.ID, clientMsgID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up assistant turn")
	}
	if botTurn != nil {
		empty := ""
		if _, err := o.store.UpdateTurn(ctx, &store.UpdateTurn{ID: botTurn.ID, Content: &empty}); err != nil {
			return nil, errors.Wrap(err, "failed to clear stale answer")
		}
	}
	return updated, nil
}

// EditAssistantTurn directly replaces assistant content, for manual fixes.
func (o *Orchestrator) EditAssistantTurn(ctx context.Context, sessionUID, principal string, turnID int32, content string) (*store.Turn, error) {
	session, err := o.getOwnedSession(ctx, sessionUID, principal)
	if err != nil {
		return nil, err
	}

	turn, err := o.store.GetTurn(ctx, &store.FindTurn{ID: &turnID, SessionID: &session.ID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up turn")
	}
	if turn == nil || turn.Sender != store.SenderAssistant {
		return nil, ErrTurnNotFound
	}

	return o.store.UpdateTurn(ctx, &store.UpdateTurn{ID: turn.ID, Content: &content})
}

// DeleteTurn removes a turn. Deleting a user turn also removes the answers
// keyed to its client message id.
func (o *Orchestrator) DeleteTurn(ctx context.Context, sessionUID, principal string, turnID int32) error {
	session, err := o.getOwnedSession(ctx, sessionUID, principal)
	if err != nil {
		return err
	}

	turn, err := o.store.GetTurn(ctx, &store.FindTurn{ID: &turnID, SessionID: &session.ID})
	if err != nil {
		return errors.Wrap(err, "failed to look up turn")
	}
	if turn == nil {
		return ErrTurnNotFound
	}

	if turn.Sender == store.SenderUser && turn.ClientMsgID != "" {
		botTurn, err := o.store.FindAssistantTurn(ctx, session.ID, turn.ClientMsgID)
		if err != nil {
			return errors.Wrap(err, "failed to look up assistant turn")
		}
		if botTurn != nil {
			if err := o.store.DeleteTurn(ctx, &store.DeleteTurn{ID: &botTurn.ID}); err != nil {
				return errors.Wrap(err, "failed to delete answer")
			}
		}
	}
	return o.store.DeleteTurn(ctx, &store.DeleteTurn{ID: &turn.ID})
}

// React records a reaction on an assistant turn, with an optional free-text
// note. An empty reaction clears both.
func (o *Orchestrator) React(ctx context.Context, sessionUID, principal string, turnID int32, reaction, note string) (*store.Turn, error) {
	if reaction != ReactionUp && reaction != ReactionDown && reaction != ReactionNone {
		return nil, errors.Errorf("invalid reaction: %q", reaction)
	}

	session, err := o.getOwnedSession(ctx, sessionUID, principal)
	if err != nil {
		return nil, err
	}

	turn, err := o.store.GetTurn(ctx, &store.FindTurn{ID: &turnID, SessionID: &session.ID})
	if err != nil {
		return nil, errors.Wrap(err, "failed to look up turn")
	}
	if turn == nil || turn.Sender != store.SenderAssistant {
		return nil, ErrTurnNotFound
	}

	if reaction == ReactionNone {
		note = ""
	}
	return o.store.UpdateTurn(ctx, &store.UpdateTurn{ID: turn.ID, Reaction: &reaction, ReactionNote: &note})
}

// ListSessions lists a principal's sessions, pinned first.
func (o *Orchestrator) ListSessions(ctx context.Context, principal string) ([]*store.ChatSession, error) {
	normal := store.Normal
	return o.store.ListChatSessions(ctx, &store.FindChatSession{
		Principal: &principal,
		RowStatus: &normal,
	})
}

// SearchSessions filters a principal's sessions by title substring.
func (o *Orchestrator) SearchSessions(ctx context.Context, principal, query string) ([]*store.ChatSession, error) {
	normal := store.Normal
	return o.store.ListChatSessions(ctx, &store.FindChatSession{
		Principal:  &principal,
		RowStatus:  &normal,
		TitleQuery: &query,
	})
}

// RenameSession sets a session title.
func (o *Orchestrator) RenameSession(ctx context.Context, sessionUID, principal, title string) (*store.ChatSession, error) {
	if strings.TrimSpace(title) == "" {
		return nil, errors.New("title is empty")
	}

	session, err := o.getOwnedSession(ctx, sessionUID, principal)
	if err != nil {
		return nil, err
	}
	return o.store.UpdateChatSession(ctx, &store.UpdateChatSession{ID: session.ID, Title: &title})
}

// DeleteSession removes a session and its turns.
func (o *Orchestrator) DeleteSession(ctx context.Context, sessionUID, principal string) error {
	session, err := o.getOwnedSession(ctx, sessionUID, principal)
	if err != nil {
		return err
	}
	return o.store.DeleteChatSession(ctx, &store.DeleteChatSession{ID: session.ID})
}
