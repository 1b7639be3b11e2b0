// Package llm provides clients for streaming chat-completion servers.
package llm

import (
	"context"
	"errors"
	"fmt"
)

// ErrUpstreamResponse is returned when the server reports a failure.
var ErrUpstreamResponse = errors.New("upstream responded with an error")

// ChatMessage represents a chat message for the LLM.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatRequest represents a chat completion request.
type ChatRequest struct {
	Model    string
	Messages []ChatMessage
	Stream   bool
}

// Chunk is one independently decoded piece of a streamed response.
type Chunk struct {
	Role    string
	Content string
	Done    bool
}

// ChunkStream iterates a streamed response.
type ChunkStream interface {
	// Next returns the next chunk, io.EOF once the stream has ended, or a
	// *ChunkDecodeError for a malformed chunk that the caller may skip.
	Next(ctx context.Context) (Chunk, error)
	Close() error
}

// ChunkDecodeError reports a single chunk that could not be decoded.
type ChunkDecodeError struct {
	Raw []byte
	Err error
}

func (e *ChunkDecodeError) Error() string {
	return fmt.Sprintf("malformed chunk (%d bytes): %v", len(e.Raw), e.Err)
}

func (e *ChunkDecodeError) Unwrap() error {
	return e.Err
}

// Client is the interface for upstream inference providers.
type Client interface {
	// StreamChat starts a streaming chat call. An error means the call could
	// not be established.
	StreamChat(ctx context.Context, req *ChatRequest) (ChunkStream, error)

	// Ping checks that the server is reachable.
	Ping(ctx context.Context) error

	// Name returns the provider name.
	Name() string
}

// Provider is the type of upstream provider.
type Provider string

const (
	ProviderOllama Provider = "ollama"
	ProviderOpenAI Provider = "openai"
)

// Config selects and configures a provider.
type Config struct {
	Provider      Provider
	OllamaURL     string
	OpenAIBaseURL string
	OpenAIAPIKey  string
}

// NewClient creates a new upstream client based on provider.
func NewClient(cfg Config) (Client, error) {
	switch cfg.Provider {
	case ProviderOllama, "":
		return NewOllamaClient(cfg.OllamaURL)
	case ProviderOpenAI:
		return NewOpenAIClient(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey)
	default:
		return nil, fmt.Errorf("unknown upstream provider %q", cfg.Provider)
	}
}
