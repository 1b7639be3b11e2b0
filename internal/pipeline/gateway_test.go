package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lukaszKielar/lokai-web/internal/model"
	"github.com/lukaszKielar/lokai-web/internal/storage"
	"github.com/lukaszKielar/lokai-web/pkg/logger"
)

const testTimeout = 5 * time.Second

func testLogger(t *testing.T) *logger.Logger {
	return &logger.Logger{Logger: zaptest.NewLogger(t)}
}

func newConversation(t *testing.T, store storage.Store) *model.Conversation {
	t.Helper()
	conv, err := store.CreateConversation(context.Background(), model.NewConversation("test"))
	require.NoError(t, err)
	return conv
}

func submission(content, conversationID string) map[string]string {
	return map[string]string{"content": content, "conversation_id": conversationID}
}

func start(t *testing.T, session *Session) <-chan error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- session.Run(context.Background()) }()
	return done
}

func wait(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(testTimeout):
		t.Fatal("session did not terminate")
		return nil
	}
}

func waitFrames(t *testing.T, out *fakeOutbound, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-out.written:
		case <-time.After(testTimeout):
			t.Fatalf("timed out waiting for frame %d of %d", i+1, n)
		}
	}
}

func contents(deltas []model.Delta) []string {
	var out []string
	for _, d := range deltas {
		if d.Message != nil {
			out = append(out, d.Message.Content)
		}
	}
	return out
}

func messages(t *testing.T, store storage.Store, conversationID string) []model.Message {
	t.Helper()
	msgs, err := store.GetConversationMessages(context.Background(), conversationID)
	require.NoError(t, err)
	return msgs
}

func TestSession_StreamsTurn(t *testing.T) {
	store := storage.NewMemoryStore()
	conv := newConversation(t, store)
	upstream := &fakeUpstream{scripts: [][]step{{
		chunk("I ", false),
		chunk("am ", false),
		chunk("fine", true),
	}}}
	gateway := NewGateway(store, upstream, Options{Model: "phi3:3.8b"}, testLogger(t))

	in, out := newFakeInbound(), newFakeOutbound()
	session := gateway.NewSession(in, out, "127.0.0.1:5000")
	done := start(t, session)

	in.sendText(t, submission("Hello", conv.ID))
	waitFrames(t, out, 4)
	in.close()
	require.NoError(t, wait(t, done))
	assert.Equal(t, StateTerminated, session.State())

	frames := out.deltas()
	require.Len(t, frames, 4)
	assert.Equal(t, model.DeltaAppend, frames[0].Kind)
	assert.Equal(t, model.RoleUser, frames[0].Message.Role)
	assert.Equal(t, "Hello", frames[0].Message.Content)
	for _, f := range frames[1:] {
		assert.Equal(t, model.DeltaReplace, f.Kind)
		assert.Equal(t, model.RoleAssistant, f.Message.Role)
		assert.Equal(t, frames[1].Message.ID, f.Message.ID)
	}
	assert.NotEqual(t, frames[0].Message.ID, frames[1].Message.ID)
	assert.Equal(t, []string{"Hello", "I ", "I am ", "I am fine"}, contents(frames))

	msgs := messages(t, store, conv.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
	assert.Equal(t, frames[0].Message.ID, msgs[0].ID)
	assert.Equal(t, model.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "I am fine", msgs[1].Content)
	assert.Equal(t, frames[1].Message.ID, msgs[1].ID)

	req := upstream.lastRequest()
	require.NotNil(t, req)
	assert.Equal(t, "phi3:3.8b", req.Model)
	assert.True(t, req.Stream)
	require.Len(t, req.Messages, 1)
	assert.Equal(t, "user", req.Messages[0].Role)
	assert.Equal(t, "Hello", req.Messages[0].Content)
}

func TestSession_UnknownConversationEndsSession(t *testing.T) {
	store := storage.NewMemoryStore()
	upstream := &fakeUpstream{}
	gateway := NewGateway(store, upstream, Options{Model: "m"}, testLogger(t))

	in, out := newFakeInbound(), newFakeOutbound()
	session := gateway.NewSession(in, out, "")
	done := start(t, session)

	missing := uuid.NewString()
	in.sendText(t, submission("Hello", missing))

	err := wait(t, done)
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.Equal(t, StateTerminated, session.State())
	assert.Empty(t, out.deltas())
	assert.Empty(t, messages(t, store, missing))
	assert.Nil(t, upstream.lastRequest())
}

func TestSession_OpaqueConversationIDIsLookedUp(t *testing.T) {
	gateway := NewGateway(storage.NewMemoryStore(), &fakeUpstream{}, Options{Model: "m"}, testLogger(t))

	in, out := newFakeInbound(), newFakeOutbound()
	done := start(t, gateway.NewSession(in, out, ""))
	in.sendText(t, submission("", "nope"))

	err := wait(t, done)
	assert.ErrorIs(t, err, ErrConversationNotFound)
	assert.NotErrorIs(t, err, ErrConnectionProtocol)
	assert.Empty(t, out.deltas())
}

func TestSession_UpstreamFailureKeepsUserMessage(t *testing.T) {
	store := storage.NewMemoryStore()
	conv := newConversation(t, store)
	upstream := &fakeUpstream{connErr: errors.New("connection refused")}
	gateway := NewGateway(store, upstream, Options{Model: "m"}, testLogger(t))

	in, out := newFakeInbound(), newFakeOutbound()
	done := start(t, gateway.NewSession(in, out, ""))
	in.sendText(t, submission("Hello", conv.ID))

	err := wait(t, done)
	assert.ErrorIs(t, err, ErrUpstream)

	frames := out.deltas()
	require.Len(t, frames, 1)
	assert.Equal(t, model.DeltaAppend, frames[0].Kind)
	assert.Equal(t, "Hello", frames[0].Message.Content)

	msgs := messages(t, store, conv.ID)
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, "Hello", msgs[0].Content)
}

func TestSession_OutboundFailurePersistsDeliveredContent(t *testing.T) {
	for i := 0; i < 20; i++ {
		store := storage.NewMemoryStore()
		conv := newConversation(t, store)
		upstream := &fakeUpstream{scripts: [][]step{{
			chunk("I ", false),
			chunk("am ", false),
			chunk("fine", true),
		}}}
		gateway := NewGateway(store, upstream, Options{Model: "m"}, testLogger(t))

		in, out := newFakeInbound(), newFakeOutbound()
		out.failOn = 4
		done := start(t, gateway.NewSession(in, out, ""))
		in.sendText(t, submission("Hello", conv.ID))

		err := wait(t, done)
		require.ErrorIs(t, err, ErrOutboundWrite)

		frames := out.deltas()
		require.Equal(t, []string{"Hello", "I ", "I am "}, contents(frames))

		msgs := messages(t, store, conv.ID)
		require.Len(t, msgs, 2)
		assert.Equal(t, model.RoleAssistant, msgs[1].Role)
		assert.Equal(t, frames[1].Message.ID, msgs[1].ID)
		require.Equal(t, "I am ", msgs[1].Content, "run %d", i)
	}
}

func TestSession_DisconnectMidTurnPersistsDeliveredContent(t *testing.T) {
	store := storage.NewMemoryStore()
	conv := newConversation(t, store)
	upstream := &fakeUpstream{scripts: [][]step{{
		chunk("I ", false),
		{block: true, err: context.Canceled},
	}}}
	gateway := NewGateway(store, upstream, Options{Model: "m"}, testLogger(t))

	in, out := newFakeInbound(), newFakeOutbound()
	done := start(t, gateway.NewSession(in, out, ""))
	in.sendText(t, submission("Hello", conv.ID))
	waitFrames(t, out, 2)
	in.close()
	require.NoError(t, wait(t, done))

	assert.Equal(t, []string{"Hello", "I "}, contents(out.deltas()))
	msgs := messages(t, store, conv.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "I ", msgs[1].Content)
}

func TestSession_SkipsMalformedChunk(t *testing.T) {
	store := storage.NewMemoryStore()
	conv := newConversation(t, store)
	upstream := &fakeUpstream{scripts: [][]step{{
		chunk("a", false),
		malformed(),
		chunk("b", false),
		chunk("c", true),
	}}}
	gateway := NewGateway(store, upstream, Options{Model: "m"}, testLogger(t))

	in, out := newFakeInbound(), newFakeOutbound()
	done := start(t, gateway.NewSession(in, out, ""))
	in.sendText(t, submission("Hello", conv.ID))
	waitFrames(t, out, 4)
	in.close()
	require.NoError(t, wait(t, done))

	assert.Equal(t, []string{"Hello", "a", "ab", "abc"}, contents(out.deltas()))
	msgs := messages(t, store, conv.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, "abc", msgs[1].Content)
}

func TestSession_TrimsLeadingWhitespaceOfFirstChunkOnly(t *testing.T) {
	store := storage.NewMemoryStore()
	conv := newConversation(t, store)
	upstream := &fakeUpstream{scripts: [][]step{{
		chunk(" \n Hello", false),
		chunk(" world", true),
	}}}
	gateway := NewGateway(store, upstream, Options{Model: "m"}, testLogger(t))

	in, out := newFakeInbound(), newFakeOutbound()
	done := start(t, gateway.NewSession(in, out, ""))
	in.sendText(t, submission("Hello", conv.ID))
	waitFrames(t, out, 3)
	in.close()
	require.NoError(t, wait(t, done))

	replaces := contents(out.deltas())[1:]
	assert.Equal(t, []string{"Hello", "Hello world"}, replaces)
	for i := 1; i < len(replaces); i++ {
		assert.True(t, len(replaces[i]) >= len(replaces[i-1]))
		assert.Equal(t, replaces[i-1], replaces[i][:len(replaces[i-1])])
	}
}

func TestSession_StreamEndWithoutDonePersistsPartial(t *testing.T) {
	store := storage.NewMemoryStore()
	conv := newConversation(t, store)
	upstream := &fakeUpstream{scripts: [][]step{{
		chunk("partial", false),
		{err: errors.New("connection reset by peer")},
	}}}
	gateway := NewGateway(store, upstream, Options{Model: "m"}, testLogger(t))

	in, out := newFakeInbound(), newFakeOutbound()
	done := start(t, gateway.NewSession(in, out, ""))
	in.sendText(t, submission("Hello", conv.ID))
	waitFrames(t, out, 2)

	require.Eventually(t, func() bool {
		return len(messages(t, store, conv.ID)) == 2
	}, testTimeout, 10*time.Millisecond)
	in.close()
	require.NoError(t, wait(t, done))

	assert.Equal(t, "partial", messages(t, store, conv.ID)[1].Content)
}

func TestSession_TurnTimeoutPersistsPartial(t *testing.T) {
	store := storage.NewMemoryStore()
	conv := newConversation(t, store)
	upstream := &fakeUpstream{scripts: [][]step{{
		chunk("slow", false),
		{block: true, err: context.DeadlineExceeded},
	}}}
	gateway := NewGateway(store, upstream, Options{Model: "m", TurnTimeout: 50 * time.Millisecond}, testLogger(t))

	in, out := newFakeInbound(), newFakeOutbound()
	done := start(t, gateway.NewSession(in, out, ""))
	in.sendText(t, submission("Hello", conv.ID))

	require.Eventually(t, func() bool {
		return len(messages(t, store, conv.ID)) == 2
	}, testTimeout, 10*time.Millisecond)
	in.close()
	require.NoError(t, wait(t, done))

	assert.Equal(t, "slow", messages(t, store, conv.ID)[1].Content)
}

func TestSession_HistoryIsSentUpstream(t *testing.T) {
	store := storage.NewMemoryStore()
	conv := newConversation(t, store)
	upstream := &fakeUpstream{scripts: [][]step{
		{chunk("first answer", true)},
		{chunk("second answer", true)},
	}}
	gateway := NewGateway(store, upstream, Options{Model: "m"}, testLogger(t))

	in, out := newFakeInbound(), newFakeOutbound()
	done := start(t, gateway.NewSession(in, out, ""))
	in.sendText(t, submission("one", conv.ID))
	in.sendText(t, submission("two", conv.ID))
	waitFrames(t, out, 4)
	in.close()
	require.NoError(t, wait(t, done))

	req := upstream.lastRequest()
	require.Len(t, req.Messages, 3)
	assert.Equal(t, "one", req.Messages[0].Content)
	assert.Equal(t, "assistant", req.Messages[1].Role)
	assert.Equal(t, "first answer", req.Messages[1].Content)
	assert.Equal(t, "two", req.Messages[2].Content)
	assert.Len(t, messages(t, store, conv.ID), 4)
}

func TestSession_ContinueOnTurnErrorSendsErrorFrame(t *testing.T) {
	store := storage.NewMemoryStore()
	conv := newConversation(t, store)
	upstream := &fakeUpstream{scripts: [][]step{{chunk("ok", true)}}}
	gateway := NewGateway(store, upstream, Options{Model: "m", ContinueOnTurnError: true}, testLogger(t))

	in, out := newFakeInbound(), newFakeOutbound()
	done := start(t, gateway.NewSession(in, out, ""))
	in.sendText(t, submission("lost", uuid.NewString()))
	in.sendText(t, submission("Hello", conv.ID))
	waitFrames(t, out, 3)
	in.close()
	require.NoError(t, wait(t, done))

	frames := out.deltas()
	require.Len(t, frames, 3)
	assert.Equal(t, model.DeltaError, frames[0].Kind)
	require.NotNil(t, frames[0].Error)
	assert.Equal(t, "conversation_not_found", frames[0].Error.Code)
	assert.Equal(t, "conversation not found", frames[0].Error.Message)
	assert.Equal(t, model.DeltaAppend, frames[1].Kind)
	assert.Equal(t, model.DeltaReplace, frames[2].Kind)
	assert.Equal(t, "ok", frames[2].Message.Content)
}

func TestSession_ProtocolErrors(t *testing.T) {
	cases := map[string]Frame{
		"binary frame":     {Type: BinaryFrame, Data: []byte(`{"content":"a"}`)},
		"not json":         {Type: TextFrame, Data: []byte("hello")},
		"missing content":  {Type: TextFrame, Data: []byte(`{"conversation_id":"` + uuid.NewString() + `"}`)},
		"missing id":       {Type: TextFrame, Data: []byte(`{"content":"a"}`)},
	}

	for name, frame := range cases {
		t.Run(name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			gateway := NewGateway(store, &fakeUpstream{}, Options{Model: "m"}, testLogger(t))

			in, out := newFakeInbound(), newFakeOutbound()
			session := gateway.NewSession(in, out, "")
			done := start(t, session)
			in.frames <- frame

			err := wait(t, done)
			assert.ErrorIs(t, err, ErrConnectionProtocol)
			assert.Equal(t, "connection_protocol", ErrorCode(err))
			assert.Equal(t, StateTerminated, session.State())
			assert.Empty(t, out.deltas())
		})
	}
}

func TestSession_CleanDisconnect(t *testing.T) {
	gateway := NewGateway(storage.NewMemoryStore(), &fakeUpstream{}, Options{Model: "m"}, testLogger(t))

	in, out := newFakeInbound(), newFakeOutbound()
	session := gateway.NewSession(in, out, "")
	assert.Equal(t, StateActive, session.State())

	in.close()
	require.NoError(t, gateway.Handle(context.Background(), in, out, ""))
}

func TestSession_ParentCancellation(t *testing.T) {
	gateway := NewGateway(storage.NewMemoryStore(), &fakeUpstream{}, Options{Model: "m"}, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- gateway.Handle(ctx, newFakeInbound(), newFakeOutbound(), "") }()

	cancel()
	assert.NoError(t, wait(t, done))
}

type failingAssistantStore struct {
	storage.Store
}

func (s *failingAssistantStore) CreateMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	if msg.Role == model.RoleAssistant {
		return nil, errors.New("disk full")
	}
	return s.Store.CreateMessage(ctx, msg)
}

func TestSession_AssistantPersistFailureIsNotFatal(t *testing.T) {
	mem := storage.NewMemoryStore()
	conv := newConversation(t, mem)
	upstream := &fakeUpstream{scripts: [][]step{
		{chunk("one", true)},
		{chunk("two", true)},
	}}
	gateway := NewGateway(&failingAssistantStore{Store: mem}, upstream, Options{Model: "m"}, testLogger(t))

	in, out := newFakeInbound(), newFakeOutbound()
	done := start(t, gateway.NewSession(in, out, ""))
	in.sendText(t, submission("a", conv.ID))
	in.sendText(t, submission("b", conv.ID))
	waitFrames(t, out, 4)
	in.close()
	require.NoError(t, wait(t, done))

	assert.Equal(t, []string{"a", "one", "b", "two"}, contents(out.deltas()))
	msgs := messages(t, mem, conv.ID)
	require.Len(t, msgs, 2)
	assert.Equal(t, model.RoleUser, msgs[1].Role)
}

func TestOptionsDefaults(t *testing.T) {
	gateway := NewGateway(storage.NewMemoryStore(), &fakeUpstream{}, Options{}, logger.NewNop())
	assert.Equal(t, DefaultQueueCapacity, gateway.opts.QueueCapacity)
	assert.Equal(t, DefaultPersistTimeout, gateway.opts.PersistTimeout)
}
