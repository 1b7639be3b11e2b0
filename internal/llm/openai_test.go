package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOpenAIServer(t *testing.T, events ...string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/models":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"object":"list","data":[]}`))
		case "/v1/chat/completions":
			w.Header().Set("Content-Type", "text/event-stream")
			for _, event := range events {
				_, _ = fmt.Fprintf(w, "data: %s\n\n", event)
				w.(http.Flusher).Flush()
			}
			_, _ = fmt.Fprint(w, "data: [DONE]\n\n")
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func delta(role, content, finish string) string {
	finishReason := "null"
	if finish != "" {
		finishReason = fmt.Sprintf("%q", finish)
	}
	return fmt.Sprintf(`{"id":"c1","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":%q,"content":%q},"finish_reason":%s}]}`,
		role, content, finishReason)
}

func TestOpenAIStreamChat(t *testing.T) {
	srv := newOpenAIServer(t,
		delta("assistant", "", ""),
		delta("", "Hel", ""),
		`{"choices":[{"delta":`,
		delta("", "lo", ""),
		delta("", "", "stop"),
	)
	client, err := NewOpenAIClient(srv.URL+"/v1", "")
	require.NoError(t, err)

	stream, err := client.StreamChat(context.Background(), &ChatRequest{
		Model:    "llama3",
		Messages: []ChatMessage{{Role: "user", Content: "Hi"}},
		Stream:   true,
	})
	require.NoError(t, err)
	defer stream.Close()

	chunks, errs := collect(t, stream)
	require.Len(t, errs, 1)
	var decodeErr *ChunkDecodeError
	assert.ErrorAs(t, errs[0], &decodeErr)

	require.Len(t, chunks, 3)
	assert.Equal(t, "Hel", chunks[0].Content)
	assert.Equal(t, "lo", chunks[1].Content)
	assert.True(t, chunks[2].Done)
}

func TestOpenAIPing(t *testing.T) {
	srv := newOpenAIServer(t)
	client, err := NewOpenAIClient(srv.URL+"/v1", "")
	require.NoError(t, err)
	assert.NoError(t, client.Ping(context.Background()))
}

func TestNewOpenAIClientRequiresTarget(t *testing.T) {
	_, err := NewOpenAIClient("", "")
	assert.Error(t, err)
}
