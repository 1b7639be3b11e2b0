package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lukaszKielar/lokai-web/internal/llm"
	"github.com/lukaszKielar/lokai-web/internal/model"
)

// fakeInbound delivers frames from a channel; closing the channel is a
// clean client disconnect.
type fakeInbound struct {
	frames chan Frame
	once   sync.Once
}

func newFakeInbound() *fakeInbound {
	return &fakeInbound{frames: make(chan Frame, 16)}
}

func (f *fakeInbound) ReadFrame(ctx context.Context) (Frame, error) {
	select {
	case frame, ok := <-f.frames:
		if !ok {
			return Frame{}, io.EOF
		}
		return frame, nil
	case <-ctx.Done():
		return Frame{}, ctx.Err()
	}
}

func (f *fakeInbound) sendText(t *testing.T, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	f.frames <- Frame{Type: TextFrame, Data: data}
}

func (f *fakeInbound) close() {
	f.once.Do(func() { close(f.frames) })
}

// fakeOutbound records written frames. When failOn is set, the write with
// that 1-based index and every later one fail.
type fakeOutbound struct {
	mu      sync.Mutex
	frames  []model.Delta
	writes  int
	failOn  int
	written chan struct{}
}

func newFakeOutbound() *fakeOutbound {
	return &fakeOutbound{written: make(chan struct{}, 64)}
}

func (f *fakeOutbound) WriteFrame(ctx context.Context, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.writes++
	if f.failOn > 0 && f.writes >= f.failOn {
		return errors.New("broken pipe")
	}

	var delta model.Delta
	if err := json.Unmarshal(data, &delta); err != nil {
		return err
	}
	f.frames = append(f.frames, delta)
	f.written <- struct{}{}
	return nil
}

func (f *fakeOutbound) deltas() []model.Delta {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.Delta(nil), f.frames...)
}

// step is one scripted result of ChunkStream.Next.
type step struct {
	chunk llm.Chunk
	err   error
	// block waits for the turn context to end before yielding chunk.
	block bool
}

type fakeUpstream struct {
	mu       sync.Mutex
	scripts  [][]step
	connErr  error
	requests []*llm.ChatRequest
}

func (f *fakeUpstream) StreamChat(ctx context.Context, req *llm.ChatRequest) (llm.ChunkStream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.requests = append(f.requests, req)
	if f.connErr != nil {
		return nil, f.connErr
	}
	var script []step
	if len(f.scripts) > 0 {
		script, f.scripts = f.scripts[0], f.scripts[1:]
	}
	return &fakeStream{steps: script}, nil
}

func (f *fakeUpstream) Ping(ctx context.Context) error { return nil }

func (f *fakeUpstream) Name() string { return "fake" }

func (f *fakeUpstream) lastRequest() *llm.ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.requests) == 0 {
		return nil
	}
	return f.requests[len(f.requests)-1]
}

type fakeStream struct {
	steps []step
}

func (s *fakeStream) Next(ctx context.Context) (llm.Chunk, error) {
	if len(s.steps) == 0 {
		return llm.Chunk{}, io.EOF
	}
	next := s.steps[0]
	s.steps = s.steps[1:]
	if next.block {
		<-ctx.Done()
	}
	return next.chunk, next.err
}

func (s *fakeStream) Close() error { return nil }

func chunk(content string, done bool) step {
	return step{chunk: llm.Chunk{Role: "assistant", Content: content, Done: done}}
}

func malformed() step {
	return step{err: &llm.ChunkDecodeError{Raw: []byte(`{"message":`), Err: errors.New("unexpected end of JSON input")}}
}

// blocked makes s wait for the turn context to end first.
func blocked(s step) step {
	s.block = true
	return s
}
