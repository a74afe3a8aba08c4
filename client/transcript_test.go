package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMergeDedupByRowID(t *testing.T) {
	tr := NewTranscript()
	tr.Merge([]*Turn{
		{Role: RoleUser, RowID: 1, ClientMsgID: "a", Text: "hello"},
		{Role: RoleUser, RowID: 1, ClientMsgID: "a", Text: "hello"},
		{Role: RoleAssistant, RowID: 2, ReplyToID: "a", Text: "hi"},
	})

	turns := tr.Turns()
	require.Len(t, turns, 2)
	require.Equal(t, "hello", turns[0].Text)
	require.Equal(t, "hi", turns[1].Text)
}

func TestMergeDedupByClientMsgID(t *testing.T) {
	tr := NewTranscript()
	tr.Merge([]*Turn{
		{Role: RoleUser, RowID: 1, ClientMsgID: "a", Text: "hello"},
		{Role: RoleUser, RowID: 3, ClientMsgID: "a", Text: "hello"},
	})

	turns := tr.Turns()
	require.Len(t, turns, 1)
	require.Equal(t, int32(1), turns[0].RowID)
}

func TestMergeKeepsHighestRowAnswer(t *testing.T) {
	tr := NewTranscript()
	tr.Merge([]*Turn{
		{Role: RoleUser, RowID: 1, ClientMsgID: "a", Text: "question"},
		{Role: RoleAssistant, RowID: 2, ReplyToID: "a", Text: "first answer"},
		{Role: RoleAssistant, RowID: 4, ReplyToID: "a", Text: "regenerated answer"},
	})

	turns := tr.Turns()
	require.Len(t, turns, 2)
	require.Equal(t, "regenerated answer", turns[1].Text)
	require.Equal(t, int32(4), turns[1].RowID)
}

func TestMergeSkipsAdjacentLegacyDuplicates(t *testing.T) {
	// Rows imported from before client message ids existed carry no keys;
	// the only dedup signal left is identical adjacent text.
	tr := NewTranscript()
	tr.Merge([]*Turn{
		{Role: RoleUser, RowID: 1, Text: "old question"},
		{Role: RoleUser, Text: "old question"},
		{Role: RoleAssistant, RowID: 2, Text: "old answer"},
	})

	turns := tr.Turns()
	require.Len(t, turns, 2)
}

func TestMergeDropsHollowRows(t *testing.T) {
	tr := NewTranscript()
	tr.Merge([]*Turn{
		{Role: RoleUser, RowID: 1, ClientMsgID: "a", Text: "question"},
		{Role: RoleAssistant, RowID: 2, ReplyToID: "a", Text: ""},
		{Role: RoleAssistant, RowID: 3, ReplyToID: "0", Text: "orphan"},
	})

	turns := tr.Turns()
	require.Len(t, turns, 1)
	require.Equal(t, RoleUser, turns[0].Role)
}

func TestMergePreservesOptimisticTurns(t *testing.T) {
	tr := NewTranscript()
	tr.Append(&Turn{Role: RoleUser, ClientMsgID: "pending", Text: "not saved yet"})
	tr.Append(&Turn{Role: RoleAssistant, ReplyToID: "pending", Text: "partial"})

	tr.Merge([]*Turn{
		{Role: RoleUser, RowID: 1, ClientMsgID: "a", Text: "question"},
		{Role: RoleAssistant, RowID: 2, ReplyToID: "a", Text: "answer"},
	})

	turns := tr.Turns()
	require.Len(t, turns, 4)
	require.Equal(t, "not saved yet", turns[2].Text)
	require.Equal(t, "partial", turns[3].Text)
}

func TestMergeDropsOptimisticTurnOncePersisted(t *testing.T) {
	tr := NewTranscript()
	tr.Append(&Turn{Role: RoleUser, ClientMsgID: "a", Text: "question"})

	tr.Merge([]*Turn{
		{Role: RoleUser, RowID: 1, ClientMsgID: "a", Text: "question"},
	})

	turns := tr.Turns()
	require.Len(t, turns, 1)
	require.Equal(t, int32(1), turns[0].RowID)
}

func TestMergeKeepsStreamingAnswer(t *testing.T) {
	// A history load that raced a live stream carries a stale snapshot of
	// the answer. The rendered turn must keep its accumulated text and its
	// identity; the renderer holds a pointer to it.
	tr := NewTranscript()
	question := &Turn{Role: RoleUser, RowID: 1, ClientMsgID: "a", Text: "question"}
	streaming := &Turn{Role: RoleAssistant, RowID: 2, ReplyToID: "a", Text: "a long answer still growing on screen"}
	tr.Append(question)
	tr.Append(streaming)

	tr.Merge([]*Turn{
		{Role: RoleUser, RowID: 1, ClientMsgID: "a", Text: "question"},
		{Role: RoleAssistant, RowID: 2, ReplyToID: "a", Text: "a long"},
	})

	turns := tr.Turns()
	require.Len(t, turns, 2)
	require.Same(t, streaming, turns[1])
	require.Equal(t, "a long answer still growing on screen", turns[1].Text)
}

func TestMergeLaggingLoadKeepsUnlistedStreamingTurn(t *testing.T) {
	// The load snapshot predates the turn in flight entirely; merging it
	// must not drop what is rendering.
	tr := NewTranscript()
	tr.Append(&Turn{Role: RoleUser, RowID: 1, ClientMsgID: "a", Text: "old question"})
	tr.Append(&Turn{Role: RoleAssistant, RowID: 2, ReplyToID: "a", Text: "old answer"})
	streamingUser := &Turn{Role: RoleUser, RowID: 3, ClientMsgID: "b", Text: "new question"}
	streamingBot := &Turn{Role: RoleAssistant, RowID: 4, ReplyToID: "b", Text: "partial ans"}
	tr.Append(streamingUser)
	tr.Append(streamingBot)

	tr.Merge([]*Turn{
		{Role: RoleUser, RowID: 1, ClientMsgID: "a", Text: "old question"},
		{Role: RoleAssistant, RowID: 2, ReplyToID: "a", Text: "old answer"},
	})

	turns := tr.Turns()
	require.Len(t, turns, 4)
	require.Same(t, streamingUser, turns[2])
	require.Same(t, streamingBot, turns[3])
	require.Equal(t, "partial ans", turns[3].Text)
}

func TestMergeAdoptsFullerPersistedText(t *testing.T) {
	// The server may hold more of the answer than the client received
	// before its stream died; the fuller copy wins on the same row.
	tr := NewTranscript()
	answer := &Turn{Role: RoleAssistant, RowID: 2, ReplyToID: "a", Text: "partial"}
	tr.Append(&Turn{Role: RoleUser, RowID: 1, ClientMsgID: "a", Text: "question"})
	tr.Append(answer)

	tr.Merge([]*Turn{
		{Role: RoleUser, RowID: 1, ClientMsgID: "a", Text: "question"},
		{Role: RoleAssistant, RowID: 2, ReplyToID: "a", Text: "partial but completed server side"},
	})

	require.Same(t, answer, tr.Turns()[1])
	require.Equal(t, "partial but completed server side", answer.Text)
}

func TestNormalizePrunesEmptyAssistantTurns(t *testing.T) {
	tr := NewTranscript()
	tr.Append(&Turn{Role: RoleUser, ClientMsgID: "a", Text: "question"})
	tr.Append(&Turn{Role: RoleAssistant, ReplyToID: "a", Text: ""})
	tr.Normalize()

	require.Len(t, tr.Turns(), 1)
}

func TestAnswerForPicksHighestRow(t *testing.T) {
	tr := NewTranscript()
	first := &Turn{Role: RoleAssistant, RowID: 2, ReplyToID: "a", Text: "one"}
	second := &Turn{Role: RoleAssistant, RowID: 5, ReplyToID: "a", Text: "two"}
	tr.Append(first)
	tr.Append(second)

	require.Same(t, second, tr.AnswerFor("a"))
}

func TestActionsFor(t *testing.T) {
	tr := NewTranscript()
	older := &Turn{Role: RoleUser, ClientMsgID: "a", Text: "first"}
	answer := &Turn{Role: RoleAssistant, ReplyToID: "a", RowID: 2, Text: "reply"}
	newest := &Turn{Role: RoleUser, ClientMsgID: "b", Text: "second"}
	tr.Append(older)
	tr.Append(answer)
	tr.Append(newest)

	require.Equal(t, []Action{ActionCopy, ActionDelete}, tr.ActionsFor(older))
	require.Equal(t, []Action{ActionCopy, ActionEdit, ActionDelete}, tr.ActionsFor(newest))
	require.Equal(t, []Action{ActionCopy, ActionRegenerate, ActionReact, ActionDelete}, tr.ActionsFor(answer))

	require.Nil(t, tr.ActionsFor(&Turn{Role: RoleAssistant}))
}
