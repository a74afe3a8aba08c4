package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTypewriterAdvance(t *testing.T) {
	tw := NewTypewriter(10)
	tw.Enqueue("hello world")

	require.Equal(t, "hello", tw.Advance(500*time.Millisecond))
	require.Equal(t, "hello worl", tw.Advance(500*time.Millisecond))
	require.False(t, tw.Done())
	require.Equal(t, "hello world", tw.Advance(time.Second))
	require.True(t, tw.Done())
}

func TestTypewriterCarriesFractions(t *testing.T) {
	tw := NewTypewriter(10)
	tw.Enqueue("ab")

	// 50ms at 10 cps earns half a character; two calls earn one.
	require.Equal(t, "", tw.Advance(50*time.Millisecond))
	require.Equal(t, "a", tw.Advance(50*time.Millisecond))
}

func TestTypewriterFlush(t *testing.T) {
	tw := NewTypewriter(10)
	tw.Enqueue("streamed ")
	tw.Advance(300 * time.Millisecond)
	tw.Enqueue("text")

	require.Equal(t, "streamed text", tw.Flush())
	require.True(t, tw.Done())
}

func TestTypewriterHandlesMultibyteRunes(t *testing.T) {
	tw := NewTypewriter(10)
	tw.Enqueue("héllo")

	require.Equal(t, "hé", tw.Advance(200*time.Millisecond))
	require.Equal(t, "héllo", tw.Flush())
}
