package client

import "sort"

// Transcript is the ordered list of turns currently rendered.
type Transcript struct {
	turns []*Turn
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

// Turns returns the rendered turns in order.
func (t *Transcript) Turns() []*Turn {
	return t.turns
}

// Append adds a turn at the end.
func (t *Transcript) Append(turn *Turn) {
	t.turns = append(t.turns, turn)
}

// Last returns the final turn, or nil when empty.
func (t *Transcript) Last() *Turn {
	if len(t.turns) == 0 {
		return nil
	}
	return t.turns[len(t.turns)-1]
}

// LastUserTurn returns the most recent user turn, or nil.
func (t *Transcript) LastUserTurn() *Turn {
	for i := len(t.turns) - 1; i >= 0; i-- {
		if t.turns[i].Role == RoleUser {
			return t.turns[i]
		}
	}
	return nil
}

// FindByClientMsgID returns the user turn carrying the given id, or nil.
func (t *Transcript) FindByClientMsgID(clientMsgID string) *Turn {
	for _, turn := range t.turns {
		if turn.Role == RoleUser && turn.ClientMsgID == clientMsgID {
			return turn
		}
	}
	return nil
}

// AnswerFor returns the assistant turn replying to the given client message
// id. When several exist it keeps the one with the highest row id, matching
// the server's regenerate semantics.
func (t *Transcript) AnswerFor(clientMsgID string) *Turn {
	var best *Turn
	for _, turn := range t.turns {
		if turn.Role != RoleAssistant || turn.ReplyToID != clientMsgID {
			continue
		}
		if best == nil || turn.RowID > best.RowID {
			best = turn
		}
	}
	return best
}

// Remove deletes a turn from the transcript.
func (t *Transcript) Remove(target *Turn) {
	kept := t.turns[:0]
	for _, turn := range t.turns {
		if turn != target {
			kept = append(kept, turn)
		}
	}
	t.turns = kept
}

// Merge reconciles reloaded history into the transcript. The rendered
// transcript stays authoritative: existing turns keep their identity (and
// pointer), adopting row ids and fuller text from the load, and loaded rows
// nobody renders yet are inserted. A lagging load never clobbers a turn that
// is still streaming.
//
// Match priority: row id, then user client message id, then assistant
// reply-to, then adjacent identical text from the same sender (legacy rows
// carry no keys at all).
func (t *Transcript) Merge(loaded []*Turn) {
	for _, turn := range loaded {
		if turn.Role == RoleAssistant && turn.Text == "" {
			continue
		}
		if turn.ReplyToID == "0" {
			continue
		}

		if existing := t.findRendered(turn); existing != nil {
			existing.adopt(turn)
			continue
		}

		// Legacy rows have no keys; identical adjacent text is the only
		// dedup signal left.
		if prev := t.Last(); prev != nil && prev.Role == turn.Role && prev.Text == turn.Text &&
			turn.RowID == 0 && turn.ClientMsgID == "" && turn.ReplyToID == "" {
			continue
		}
		t.turns = append(t.turns, turn)
	}

	// Persisted rows in row order, local optimistic turns after them in the
	// order they were rendered.
	sort.SliceStable(t.turns, func(i, j int) bool {
		a, b := t.turns[i], t.turns[j]
		if a.RowID != 0 && b.RowID != 0 {
			return a.RowID < b.RowID
		}
		return a.RowID != 0 && b.RowID == 0
	})
}

// findRendered locates the rendered turn a loaded row corresponds to.
func (t *Transcript) findRendered(loaded *Turn) *Turn {
	if loaded.RowID != 0 {
		for _, turn := range t.turns {
			if turn.RowID == loaded.RowID && turn.Role == loaded.Role {
				return turn
			}
		}
	}
	if loaded.Role == RoleUser && loaded.ClientMsgID != "" {
		return t.FindByClientMsgID(loaded.ClientMsgID)
	}
	if loaded.Role == RoleAssistant && loaded.ReplyToID != "" {
		return t.AnswerFor(loaded.ReplyToID)
	}
	return nil
}

// adopt folds a loaded row into the turn it matches. A higher assistant row
// id means the server regenerated the answer and its text wins; on the same
// row the longer text wins, so a mid-stream turn is never truncated by a
// stale load.
func (turn *Turn) adopt(loaded *Turn) {
	switch {
	case turn.RowID == 0:
		turn.RowID = loaded.RowID
		turn.Text = loaded.Text
	case turn.Role == RoleAssistant && loaded.RowID > turn.RowID:
		turn.RowID = loaded.RowID
		turn.Text = loaded.Text
	case loaded.RowID == turn.RowID && len(loaded.Text) > len(turn.Text):
		turn.Text = loaded.Text
	}
	if turn.ClientMsgID == "" {
		turn.ClientMsgID = loaded.ClientMsgID
	}
	if turn.ReplyToID == "" {
		turn.ReplyToID = loaded.ReplyToID
	}
	if turn.Reaction == "" {
		turn.Reaction = loaded.Reaction
	}
}

// Normalize prunes empty assistant turns. It runs after every mutation
// batch so a crashed stream never leaves a hollow row rendered.
func (t *Transcript) Normalize() {
	kept := t.turns[:0]
	for _, turn := range t.turns {
		if turn.Role == RoleAssistant && turn.Text == "" {
			continue
		}
		kept = append(kept, turn)
	}
	t.turns = kept
}

// ActionsFor returns the affordances a turn should currently expose: copy on
// everything, edit only on the newest user turn, regenerate/react on
// assistant turns, delete on both.
func (t *Transcript) ActionsFor(turn *Turn) []Action {
	if turn.Text == "" {
		return nil
	}

	actions := []Action{ActionCopy}
	switch turn.Role {
	case RoleUser:
		if turn == t.LastUserTurn() {
			actions = append(actions, ActionEdit)
		}
		actions = append(actions, ActionDelete)
	case RoleAssistant:
		actions = append(actions, ActionRegenerate, ActionReact, ActionDelete)
	}
	return actions
}
