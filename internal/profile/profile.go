package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// Profile is the configuration to start main server.
type Profile struct {
	// Mode can be "prod" or "dev" or "demo"
	Mode string
	// Addr is the binding address for server
	Addr string
	// Port is the binding port for server
	Port int
	// Data is the data directory
	Data string
	// DSN points to where parley stores its own data
	DSN string
	// Driver is the database driver (sqlite or postgres)
	Driver string
	// Version is the current version of server
	Version string

	// Generation backend configuration
	AIBaseURL        string  // PARLEY_AI_BASE_URL (default: https://api.openai.com/v1)
	AIAPIKey         string  // PARLEY_AI_API_KEY
	AIChatModel      string  // PARLEY_AI_CHAT_MODEL (default: gpt-4o-mini)
	AIEmbeddingModel string  // PARLEY_AI_EMBEDDING_MODEL (default: text-embedding-3-small)
	AIMaxTokens      int     // PARLEY_AI_MAX_TOKENS (default: 1024)
	AITemperature    float32 // PARLEY_AI_TEMPERATURE (default: 0.7)

	// Grounding configuration
	RetrievalTopK    int  // PARLEY_RETRIEVAL_TOP_K (default: 3)
	WebSearchEnabled bool // PARLEY_WEB_SEARCH_ENABLED (default: false)
	WebSearchResults int  // PARLEY_WEB_SEARCH_RESULTS (default: 3)

	// StreamIdleTimeout bounds how long a relayed stream may go without a
	// delta before it is abandoned and the client told to retry.
	StreamIdleTimeout time.Duration // PARLEY_STREAM_IDLE_TIMEOUT (default: 25s)
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if a generation backend is configured.
func (p *Profile) IsAIEnabled() bool {
	return p.AIAPIKey != ""
}

// getEnvOrDefault returns the environment variable value or the default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// FromEnv loads configuration from PARLEY_* environment variables.
func (p *Profile) FromEnv() {
	getIntEnv := func(key string, defaultValue int) int {
		if val := os.Getenv(key); val != "" {
			if n, err := strconv.Atoi(val); err == nil {
				return n
			}
		}
		return defaultValue
	}

	p.AIBaseURL = getEnvOrDefault("PARLEY_AI_BASE_URL", "https://api.openai.com/v1")
	p.AIAPIKey = os.Getenv("PARLEY_AI_API_KEY")
	p.AIChatModel = getEnvOrDefault("PARLEY_AI_CHAT_MODEL", "gpt-4o-mini")
	p.AIEmbeddingModel = getEnvOrDefault("PARLEY_AI_EMBEDDING_MODEL", "text-embedding-3-small")
	p.AIMaxTokens = getIntEnv("PARLEY_AI_MAX_TOKENS", 1024)
	if val := os.Getenv("PARLEY_AI_TEMPERATURE"); val != "" {
		if f, err := strconv.ParseFloat(val, 32); err == nil {
			p.AITemperature = float32(f)
		}
	}
	if p.AITemperature == 0 {
		p.AITemperature = 0.7
	}

	p.RetrievalTopK = getIntEnv("PARLEY_RETRIEVAL_TOP_K", 3)
	p.WebSearchEnabled = os.Getenv("PARLEY_WEB_SEARCH_ENABLED") == "true"
	p.WebSearchResults = getIntEnv("PARLEY_WEB_SEARCH_RESULTS", 3)

	if val := os.Getenv("PARLEY_STREAM_IDLE_TIMEOUT"); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			p.StreamIdleTimeout = d
		}
	}
	if p.StreamIdleTimeout <= 0 {
		p.StreamIdleTimeout = 25 * time.Second
	}
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "parley")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/parley"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check dsn", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}

	p.Data = dataDir
	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("parley_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}

	if p.RetrievalTopK <= 0 {
		p.RetrievalTopK = 3
	}
	if p.WebSearchResults <= 0 {
		p.WebSearchResults = 3
	}
	if p.StreamIdleTimeout <= 0 {
		p.StreamIdleTimeout = 25 * time.Second
	}

	return nil
}
