package chat

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/plugin/generation"
	"github.com/parleyhq/parley/plugin/streamcodec"
	"github.com/parleyhq/parley/store"
)

func decodeAll(t *testing.T, buf *bytes.Buffer) []*streamcodec.Event {
	t.Helper()
	decoder := streamcodec.NewDecoder(buf)
	events := []*streamcodec.Event{}
	for {
		event, err := decoder.Next()
		if err == io.EOF {
			return events
		}
		require.NoError(t, err)
		events = append(events, event)
	}
}

func relayResult(deltas chan string, errs chan error) *TurnResult {
	return &TurnResult{
		Session:  &store.ChatSession{ID: 1, UID: "s1"},
		UserTurn: &store.Turn{ID: 2, ClientMsgID: "m1"},
		BotTurn:  &store.Turn{ID: 3},
		Deltas:   deltas,
		Errs:     errs,
	}
}

func TestRelayStreamsMetaFirst(t *testing.T) {
	deltas := make(chan string, 2)
	errs := make(chan error, 1)
	deltas <- "Hel"
	deltas <- "lo"
	close(deltas)
	close(errs)

	var buf bytes.Buffer
	err := NewRelay(time.Second).Stream(context.Background(), &buf, relayResult(deltas, errs))
	require.NoError(t, err)

	events := decodeAll(t, &buf)
	require.Len(t, events, 4)
	require.Equal(t, streamcodec.TypeMeta, events[0].Type)
	require.Equal(t, "s1", events[0].SessionUID)
	require.Equal(t, "m1", events[0].ClientMsgID)
	require.Equal(t, int32(3), events[0].BotTurnID)
	require.Equal(t, streamcodec.TypeDelta, events[1].Type)
	require.Equal(t, "Hel", events[1].Text)
	require.Equal(t, streamcodec.TypeDelta, events[2].Type)
	require.Equal(t, streamcodec.TypeDone, events[3].Type)
}

func TestRelayReplaysInOneDelta(t *testing.T) {
	result := relayResult(nil, nil)
	result.Replayed = true
	result.Content = "full answer"

	var buf bytes.Buffer
	err := NewRelay(time.Second).Stream(context.Background(), &buf, result)
	require.NoError(t, err)

	events := decodeAll(t, &buf)
	require.Len(t, events, 3)
	require.Equal(t, streamcodec.TypeMeta, events[0].Type)
	require.True(t, events[0].Replayed)
	require.Equal(t, "full answer", events[1].Text)
	require.Equal(t, streamcodec.TypeDone, events[2].Type)
}

func TestRelayMapsRateLimit(t *testing.T) {
	deltas := make(chan string)
	errs := make(chan error, 1)
	errs <- &generation.RateLimitError{RetryAfter: 7 * time.Second}
	close(errs)
	close(deltas)

	var buf bytes.Buffer
	err := NewRelay(time.Second).Stream(context.Background(), &buf, relayResult(deltas, errs))
	require.NoError(t, err)

	events := decodeAll(t, &buf)
	require.GreaterOrEqual(t, len(events), 3)
	errEvent := events[len(events)-2]
	require.Equal(t, streamcodec.TypeError, errEvent.Type)
	require.Equal(t, CodeRateLimited, errEvent.Code)
	require.Equal(t, 7, errEvent.RetryAfter)
	require.Equal(t, streamcodec.TypeDone, events[len(events)-1].Type)
}

func TestRelayErrorStillEndsWithDone(t *testing.T) {
	deltas := make(chan string, 1)
	errs := make(chan error, 1)
	deltas <- "partial"
	errs <- io.ErrUnexpectedEOF
	close(deltas)
	close(errs)

	var buf bytes.Buffer
	err := NewRelay(time.Second).Stream(context.Background(), &buf, relayResult(deltas, errs))
	require.NoError(t, err)

	events := decodeAll(t, &buf)
	require.Equal(t, streamcodec.TypeError, events[len(events)-2].Type)
	require.Equal(t, CodeUpstreamError, events[len(events)-2].Code)
	require.Equal(t, streamcodec.TypeDone, events[len(events)-1].Type)
}

func TestRelayWatchdogFires(t *testing.T) {
	// Channels stay open and silent, the watchdog must cut the stream.
	deltas := make(chan string)
	errs := make(chan error, 1)

	var buf bytes.Buffer
	err := NewRelay(30 * time.Millisecond).Stream(context.Background(), &buf, relayResult(deltas, errs))
	require.NoError(t, err)

	events := decodeAll(t, &buf)
	require.Equal(t, streamcodec.TypeError, events[len(events)-2].Type)
	require.Equal(t, CodeStreamStalled, events[len(events)-2].Code)
	require.Equal(t, streamcodec.TypeDone, events[len(events)-1].Type)
}

func TestRelayClientCancel(t *testing.T) {
	deltas := make(chan string)
	errs := make(chan error, 1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	err := NewRelay(time.Second).Stream(ctx, &buf, relayResult(deltas, errs))
	require.ErrorIs(t, err, context.Canceled)
}
