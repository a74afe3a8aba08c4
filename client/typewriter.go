package client

import (
	"strings"
	"sync"
	"time"
)

const defaultCharsPerSecond = 60

// Typewriter paces the reveal of streamed text. Deltas enqueue as they
// arrive; Advance releases characters at the configured rate and Flush
// releases everything at once when the stream completes.
type Typewriter struct {
	mu       sync.Mutex
	pending  strings.Builder
	revealed strings.Builder
	cursor   int
	cps      float64
	carry    float64
}

func NewTypewriter(charsPerSecond int) *Typewriter {
	if charsPerSecond <= 0 {
		charsPerSecond = defaultCharsPerSecond
	}
	return &Typewriter{cps: float64(charsPerSecond)}
}

// Enqueue appends streamed text to the reveal queue.
func (tw *Typewriter) Enqueue(delta string) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.pending.WriteString(delta)
}

// Advance releases the characters earned by the elapsed time and returns
// the full revealed text. Fractional characters carry over between calls.
func (tw *Typewriter) Advance(elapsed time.Duration) string {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	earned := tw.carry + elapsed.Seconds()*tw.cps
	count := int(earned)
	tw.carry = earned - float64(count)

	tw.reveal(count)
	return tw.revealed.String()
}

// Flush reveals all queued text immediately.
func (tw *Typewriter) Flush() string {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	tw.reveal(len([]rune(tw.pending.String())) - tw.cursor)
	return tw.revealed.String()
}

// Revealed returns the text released so far.
func (tw *Typewriter) Revealed() string {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.revealed.String()
}

// Done reports whether everything enqueued has been revealed.
func (tw *Typewriter) Done() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.cursor >= len([]rune(tw.pending.String()))
}

func (tw *Typewriter) reveal(count int) {
	if count <= 0 {
		return
	}
	runes := []rune(tw.pending.String())
	end := tw.cursor + count
	if end > len(runes) {
		end = len(runes)
	}
	tw.revealed.WriteString(string(runes[tw.cursor:end]))
	tw.cursor = end
}
