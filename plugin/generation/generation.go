package generation

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/parleyhq/parley/internal/profile"
)

// Config holds the generation backend configuration.
type Config struct {
	BaseURL        string
	APIKey         string
	EmbeddingModel string
	ChatModel      string
	MaxTokens      int
	Temperature    float32
	MaxRetries     int
	Timeout        time.Duration
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:        "https://api.openai.com/v1",
		APIKey:         "",
		EmbeddingModel: "text-embedding-3-small",
		ChatModel:      "gpt-4o-mini",
		MaxTokens:      1024,
		Temperature:    0.7,
		MaxRetries:     3,
		Timeout:        30 * time.Second,
	}
}

// ConfigFromProfile builds a Config from the server profile.
func ConfigFromProfile(p *profile.Profile) *Config {
	cfg := DefaultConfig()
	cfg.BaseURL = p.AIBaseURL
	cfg.APIKey = p.AIAPIKey
	cfg.ChatModel = p.AIChatModel
	cfg.EmbeddingModel = p.AIEmbeddingModel
	if p.AIMaxTokens > 0 {
		cfg.MaxTokens = p.AIMaxTokens
	}
	if p.AITemperature > 0 {
		cfg.Temperature = p.AITemperature
	}
	return cfg
}

// Message represents a chat message.
type Message struct {
	Role    string
	Content string
}

// SystemPrompt creates a system message.
func SystemPrompt(content string) Message {
	return Message{Role: openai.ChatMessageRoleSystem, Content: content}
}

// UserMessage creates a user message.
func UserMessage(content string) Message {
	return Message{Role: openai.ChatMessageRoleUser, Content: content}
}

// AssistantMessage creates an assistant message.
func AssistantMessage(content string) Message {
	return Message{Role: openai.ChatMessageRoleAssistant, Content: content}
}

// Client wraps an OpenAI-compatible backend for chat and embeddings.
type Client struct {
	client *openai.Client
	config *Config
}

// NewClient creates a new generation client.
func NewClient(cfg *Config) (*Client, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = "text-embedding-3-small"
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = "gpt-4o-mini"
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	return &Client{
		client: openai.NewClientWithConfig(clientConfig),
		config: cfg,
	}, nil
}

// Embed generates an embedding vector for the given text.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	var result []float32
	err := c.doWithRetry(ctx, func() error {
		req := openai.EmbeddingRequest{
			Input: []string{text},
			Model: openai.EmbeddingModel(c.config.EmbeddingModel),
		}

		resp, err := c.client.CreateEmbeddings(ctx, req)
		if err != nil {
			return err
		}
		if len(resp.Data) == 0 {
			return fmt.Errorf("empty embedding response")
		}
		result = resp.Data[0].Embedding
		return nil
	})

	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}

	return result, nil
}

// Chat performs a blocking chat completion.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	var result string
	err := c.doWithRetry(ctx, func() error {
		resp, err := c.client.CreateChatCompletion(ctx, c.completionRequest(messages, false))
		if err != nil {
			return err
		}
		if len(resp.Choices) == 0 {
			return fmt.Errorf("empty chat response")
		}
		result = resp.Choices[0].Message.Content
		return nil
	})

	if err != nil {
		return "", fmt.Errorf("failed to complete chat: %w", err)
	}

	return result, nil
}

// Validate tests API connectivity with a minimal embedding request.
func (c *Client) Validate(ctx context.Context) error {
	if c.config.APIKey == "" {
		return ErrNotConfigured
	}

	if _, err := c.Embed(ctx, "test"); err != nil {
		return fmt.Errorf("embedding validation failed: %w", err)
	}

	slog.Info("generation backend validated",
		"embedding_model", c.config.EmbeddingModel,
		"chat_model", c.config.ChatModel)

	return nil
}

func (c *Client) completionRequest(messages []Message, stream bool) openai.ChatCompletionRequest {
	llmMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		llmMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}
	return openai.ChatCompletionRequest{
		Model:       c.config.ChatModel,
		Messages:    llmMessages,
		MaxTokens:   c.config.MaxTokens,
		Temperature: c.config.Temperature,
		Stream:      stream,
	}
}

// doWithRetry executes a function with exponential backoff. Fatal errors
// (auth failures, bad requests) are returned immediately. A rate limit is
// retried once after the hinted wait; a second one is passed to the caller,
// hint intact, so the client can tell the user how long to back off.
func (c *Client) doWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	rateLimitRetried := false
	for attempt := 0; attempt < c.config.MaxRetries; attempt++ {
		err := wrapBackendError(fn())
		if err == nil {
			return nil
		}
		if !IsRetriable(err) {
			return err
		}
		lastErr = err

		if IsRateLimited(err) {
			if rateLimitRetried {
				return err
			}
			rateLimitRetried = true
			wait := defaultRetryAfter
			if hint, ok := RetryAfterHint(err); ok {
				wait = hint
			}
			slog.Debug("generation rate limited, retrying once",
				"wait_time", wait,
				"error", err)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		if attempt < c.config.MaxRetries-1 {
			waitTime := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			slog.Debug("generation request failed, retrying",
				"attempt", attempt+1,
				"wait_time", waitTime,
				"error", err)
			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}
