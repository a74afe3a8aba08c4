// Package streamcodec frames chat stream events as NDJSON lines and decodes
// both NDJSON and SSE renditions of the same event stream.
package streamcodec

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Event types carried on a chat stream.
const (
	TypeMeta  = "meta"
	TypeDelta = "delta"
	TypeError = "error"
	TypeDone  = "done"
)

// Citation points a bracketed reference in the answer at its source.
type Citation struct {
	Index int    `json:"index"`
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
}

// Event is a single frame on a chat stream. The zero values of unused
// fields are omitted on the wire, so a delta frame is just type and text.
type Event struct {
	Type string `json:"type"`

	// meta
	SessionUID  string `json:"session_uid,omitempty"`
	ClientMsgID string `json:"client_msg_id,omitempty"`
	UserTurnID  int32  `json:"user_turn_id,omitempty"`
	BotTurnID   int32  `json:"bot_turn_id,omitempty"`
	Replayed    bool   `json:"replayed,omitempty"`

	// delta and done
	Text      string     `json:"text,omitempty"`
	Citations []Citation `json:"citations,omitempty"`

	// error
	Code       string `json:"code,omitempty"`
	Message    string `json:"message,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// Writer emits NDJSON frames, flushing after every event so deltas reach
// the client without buffering.
type Writer struct {
	w       io.Writer
	flusher interface{ Flush() }
}

// NewWriter wraps w. If w implements Flush (http.Flusher does), every
// event is flushed as it is written.
func NewWriter(w io.Writer) *Writer {
	writer := &Writer{w: w}
	if f, ok := w.(interface{ Flush() }); ok {
		writer.flusher = f
	}
	return writer
}

// Write frames one event as a JSON line.
func (w *Writer) Write(event *Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return errors.Wrap(err, "failed to marshal event")
	}
	data = append(data, '\n')
	if _, err := w.w.Write(data); err != nil {
		return errors.Wrap(err, "failed to write event")
	}
	if w.flusher != nil {
		w.flusher.Flush()
	}
	return nil
}

// Decoder reads NDJSON events. Lines that are not valid JSON objects are
// skipped rather than treated as fatal, since proxies occasionally inject
// keep-alive noise.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps r for NDJSON decoding.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Decoder{scanner: scanner}
}

// Next returns the next event, or io.EOF when the stream ends.
func (d *Decoder) Next() (*Event, error) {
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if line == "" {
			continue
		}
		event := &Event{}
		if err := json.Unmarshal([]byte(line), event); err != nil {
			continue
		}
		if event.Type == "" {
			continue
		}
		return event, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// SSEDecoder reads the same events framed as server-sent events, where each
// frame is carried in a "data:" field and "[DONE]" terminates the stream.
type SSEDecoder struct {
	scanner *bufio.Scanner
	done    bool
}

// NewSSEDecoder wraps r for SSE decoding.
func NewSSEDecoder(r io.Reader) *SSEDecoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &SSEDecoder{scanner: scanner}
}

// Next returns the next event, or io.EOF when the stream ends.
func (d *SSEDecoder) Next() (*Event, error) {
	if d.done {
		return nil, io.EOF
	}
	for d.scanner.Scan() {
		line := strings.TrimSpace(d.scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		if payload == "[DONE]" {
			d.done = true
			return nil, io.EOF
		}
		event := &Event{}
		if err := json.Unmarshal([]byte(payload), event); err != nil {
			continue
		}
		if event.Type == "" {
			continue
		}
		return event, nil
	}
	if err := d.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}
