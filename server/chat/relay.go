package chat

import (
	"context"
	"io"
	"time"

	"github.com/parleyhq/parley/plugin/generation"
	"github.com/parleyhq/parley/plugin/streamcodec"
)

// Stream error codes surfaced to clients.
const (
	CodeRateLimited   = "rate_limited"
	CodeUpstreamError = "upstream_error"
	CodeStreamStalled = "stream_stalled"
	CodeNotConfigured = "not_configured"
)

// Relay writes a turn to the wire as NDJSON frames. A watchdog bounds how
// long the stream may go without a delta before the client is told to retry.
type Relay struct {
	idleTimeout time.Duration
}

// NewRelay creates a relay with the given idle timeout.
func NewRelay(idleTimeout time.Duration) *Relay {
	if idleTimeout <= 0 {
		idleTimeout = 25 * time.Second
	}
	return &Relay{idleTimeout: idleTimeout}
}

// Stream frames the turn. The meta frame always comes first so the client
// can reconcile row identity before any content arrives.
func (r *Relay) Stream(ctx context.Context, w io.Writer, result *TurnResult) error {
	writer := streamcodec.NewWriter(w)

	meta := &streamcodec.Event{
		Type:        streamcodec.TypeMeta,
		SessionUID:  result.Session.UID,
		ClientMsgID: result.UserTurn.ClientMsgID,
		UserTurnID:  result.UserTurn.ID,
		BotTurnID:   result.BotTurn.ID,
		Replayed:    result.Replayed,
	}
	if err := writer.Write(meta); err != nil {
		return err
	}

	if result.Replayed {
		if err := writer.Write(&streamcodec.Event{Type: streamcodec.TypeDelta, Text: result.Content}); err != nil {
			return err
		}
		return writer.Write(&streamcodec.Event{Type: streamcodec.TypeDone, Citations: result.Citations})
	}

	watchdog := time.NewTimer(r.idleTimeout)
	defer watchdog.Stop()

	// Every stream ends with a done frame, error or not, so decoders can
	// treat done as the single terminal marker.
	finish := func(failure error) error {
		if failure != nil {
			if err := writer.Write(errorEvent(failure)); err != nil {
				return err
			}
		}
		return writer.Write(&streamcodec.Event{Type: streamcodec.TypeDone, Citations: result.Citations})
	}

	deltas, errs := result.Deltas, result.Errs
	for {
		select {
		case delta, ok := <-deltas:
			if !ok {
				// Drain the error channel; a late failure after partial
				// content still gets reported.
				if errs != nil {
					if err := <-errs; err != nil {
						return finish(err)
					}
				}
				return finish(nil)
			}
			if err := writer.Write(&streamcodec.Event{Type: streamcodec.TypeDelta, Text: delta}); err != nil {
				return err
			}
			if !watchdog.Stop() {
				<-watchdog.C
			}
			watchdog.Reset(r.idleTimeout)
		case err := <-errs:
			if err != nil {
				return finish(err)
			}
			errs = nil
		case <-watchdog.C:
			if err := writer.Write(&streamcodec.Event{
				Type:    streamcodec.TypeError,
				Code:    CodeStreamStalled,
				Message: "no output from backend, please retry",
			}); err != nil {
				return err
			}
			return writer.Write(&streamcodec.Event{Type: streamcodec.TypeDone, Citations: result.Citations})
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func errorEvent(err error) *streamcodec.Event {
	event := &streamcodec.Event{
		Type:    streamcodec.TypeError,
		Code:    CodeUpstreamError,
		Message: err.Error(),
	}
	if generation.IsRateLimited(err) {
		event.Code = CodeRateLimited
		if hint, ok := generation.RetryAfterHint(err); ok {
			event.RetryAfter = int(hint.Seconds())
		}
	}
	return event
}
