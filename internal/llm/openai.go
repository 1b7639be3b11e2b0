package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"github.com/sashabaranov/go-openai"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint,
// such as Ollama's /v1 API or a llama.cpp server.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient creates a new OpenAI-compatible client. Local servers
// usually ignore the API key, so an empty key is allowed when baseURL is set.
func NewOpenAIClient(baseURL, apiKey string) (*OpenAIClient, error) {
	if baseURL == "" && apiKey == "" {
		return nil, errors.New("OpenAI base URL or API key is required")
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
	}, nil
}

// Name returns the provider name.
func (c *OpenAIClient) Name() string {
	return string(ProviderOpenAI)
}

// StreamChat opens a streaming chat completion.
func (c *OpenAIClient) StreamChat(ctx context.Context, req *ChatRequest) (ChunkStream, error) {
	messages := make([]openai.ChatCompletionMessage, len(req.Messages))
	for i, msg := range req.Messages {
		messages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    req.Model,
		Messages: messages,
		Stream:   true,
	})
	if err != nil {
		return nil, err
	}

	return &openAIStream{stream: stream}, nil
}

// Ping lists models to check that the endpoint answers.
func (c *OpenAIClient) Ping(ctx context.Context) error {
	_, err := c.client.ListModels(ctx)
	return err
}

type openAIStream struct {
	stream *openai.ChatCompletionStream
}

func (s *openAIStream) Next(ctx context.Context) (Chunk, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Chunk{}, err
		}

		response, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return Chunk{}, io.EOF
		}
		if err != nil {
			var syntaxErr *json.SyntaxError
			var typeErr *json.UnmarshalTypeError
			if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
				return Chunk{}, &ChunkDecodeError{Err: err}
			}
			return Chunk{}, err
		}

		if len(response.Choices) == 0 {
			continue
		}
		choice := response.Choices[0]
		done := choice.FinishReason != ""
		// Role-only preambles carry nothing to show.
		if choice.Delta.Content == "" && !done {
			continue
		}

		return Chunk{
			Role:    choice.Delta.Role,
			Content: choice.Delta.Content,
			Done:    done,
		}, nil
	}
}

func (s *openAIStream) Close() error {
	s.stream.Close()
	return nil
}
