package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// OllamaClient talks to the native Ollama chat API.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string) (*OllamaClient, error) {
	if baseURL == "" {
		return nil, errors.New("ollama URL is required")
	}

	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		// No overall timeout: a streamed response lives as long as the turn.
		httpClient: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: 10 * time.Second}).DialContext,
				ResponseHeaderTimeout: 5 * time.Minute,
				MaxIdleConnsPerHost:   4,
			},
		},
	}, nil
}

// Name returns the provider name.
func (c *OllamaClient) Name() string {
	return string(ProviderOllama)
}

type ollamaChatRequest struct {
	Model    string        `json:"model"`
	Messages []ChatMessage `json:"messages"`
	Stream   bool          `json:"stream"`
}

type ollamaChatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error,omitempty"`
}

// StreamChat sends POST /api/chat and returns the NDJSON response as a chunk stream.
func (c *OllamaClient) StreamChat(ctx context.Context, req *ChatRequest) (ChunkStream, error) {
	body, err := json.Marshal(ollamaChatRequest{
		Model:    req.Model,
		Messages: req.Messages,
		Stream:   req.Stream,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode chat request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/x-ndjson")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to reach ollama: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("%w: status %d: %s", ErrUpstreamResponse, resp.StatusCode, strings.TrimSpace(string(detail)))
	}

	return &ollamaStream{body: resp.Body, reader: bufio.NewReader(resp.Body)}, nil
}

// Ping checks that the server answers GET /api/tags.
func (c *OllamaClient) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach ollama: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrUpstreamResponse, resp.StatusCode)
	}
	return nil
}

// ollamaStream reads one JSON document per line.
type ollamaStream struct {
	body   io.ReadCloser
	reader *bufio.Reader
}

func (s *ollamaStream) Next(ctx context.Context) (Chunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Chunk{}, err
		}

		line, readErr := s.reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if readErr != nil {
				return Chunk{}, readErr
			}
			continue
		}

		var resp ollamaChatResponse
		if err := json.Unmarshal(line, &resp); err != nil {
			return Chunk{}, &ChunkDecodeError{Raw: line, Err: err}
		}
		if resp.Error != "" {
			return Chunk{}, fmt.Errorf("%w: %s", ErrUpstreamResponse, resp.Error)
		}

		return Chunk{
			Role:    resp.Message.Role,
			Content: resp.Message.Content,
			Done:    resp.Done,
		}, nil
	}
}

func (s *ollamaStream) Close() error {
	return s.body.Close()
}
