package profile

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func clearEnvVars(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PARLEY_AI_BASE_URL",
		"PARLEY_AI_API_KEY",
		"PARLEY_AI_CHAT_MODEL",
		"PARLEY_AI_EMBEDDING_MODEL",
		"PARLEY_AI_MAX_TOKENS",
		"PARLEY_AI_TEMPERATURE",
		"PARLEY_RETRIEVAL_TOP_K",
		"PARLEY_WEB_SEARCH_ENABLED",
		"PARLEY_WEB_SEARCH_RESULTS",
		"PARLEY_STREAM_IDLE_TIMEOUT",
	} {
		os.Unsetenv(key)
	}
}

func TestProfileDefaults(t *testing.T) {
	clearEnvVars(t)

	profile := &Profile{}
	profile.FromEnv()

	require.Equal(t, "https://api.openai.com/v1", profile.AIBaseURL)
	require.Equal(t, "gpt-4o-mini", profile.AIChatModel)
	require.Equal(t, "text-embedding-3-small", profile.AIEmbeddingModel)
	require.Equal(t, 1024, profile.AIMaxTokens)
	require.InDelta(t, 0.7, profile.AITemperature, 0.001)
	require.Equal(t, 3, profile.RetrievalTopK)
	require.False(t, profile.WebSearchEnabled)
	require.Equal(t, 3, profile.WebSearchResults)
	require.Equal(t, 25*time.Second, profile.StreamIdleTimeout)
	require.False(t, profile.IsAIEnabled())
}

func TestProfileFromEnv(t *testing.T) {
	clearEnvVars(t)

	t.Setenv("PARLEY_AI_API_KEY", "sk-test")
	t.Setenv("PARLEY_AI_CHAT_MODEL", "gpt-4o")
	t.Setenv("PARLEY_AI_MAX_TOKENS", "2048")
	t.Setenv("PARLEY_RETRIEVAL_TOP_K", "5")
	t.Setenv("PARLEY_WEB_SEARCH_ENABLED", "true")
	t.Setenv("PARLEY_STREAM_IDLE_TIMEOUT", "10s")

	profile := &Profile{}
	profile.FromEnv()

	require.Equal(t, "sk-test", profile.AIAPIKey)
	require.Equal(t, "gpt-4o", profile.AIChatModel)
	require.Equal(t, 2048, profile.AIMaxTokens)
	require.Equal(t, 5, profile.RetrievalTopK)
	require.True(t, profile.WebSearchEnabled)
	require.Equal(t, 10*time.Second, profile.StreamIdleTimeout)
	require.True(t, profile.IsAIEnabled())
}

func TestValidateDefaultsDSN(t *testing.T) {
	clearEnvVars(t)

	profile := &Profile{
		Mode:   "dev",
		Driver: "sqlite",
		Data:   t.TempDir(),
	}
	require.NoError(t, profile.Validate())
	require.NotEmpty(t, profile.DSN)
	require.Contains(t, profile.DSN, "parley_dev.db")
}

func TestValidateNormalizesMode(t *testing.T) {
	clearEnvVars(t)

	profile := &Profile{
		Mode: "bogus",
		Data: t.TempDir(),
	}
	require.NoError(t, profile.Validate())
	require.Equal(t, "demo", profile.Mode)
}
