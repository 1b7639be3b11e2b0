package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"unicode"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/lukaszKielar/lokai-web/internal/llm"
	"github.com/lukaszKielar/lokai-web/internal/model"
	"github.com/lukaszKielar/lokai-web/internal/storage"
	"github.com/lukaszKielar/lokai-web/pkg/logger"
	"github.com/lukaszKielar/lokai-web/pkg/metrics"
)

// Turn outcomes, used for metrics and span attributes.
const (
	outcomeCompleted    = "completed"
	outcomeDisconnected = "disconnected"
	outcomeInterrupted  = "upstream_interrupted"
	outcomeTimeout      = "timeout"
	outcomeCancelled    = "cancelled"
	outcomeNotFound     = "conversation_not_found"
	outcomeUpstream     = "upstream_error"
	outcomeStorage      = "storage_error"
)

type inference struct {
	store    storage.Store
	upstream llm.Client
	locks     *TurnLocks
	delivered *delivery
	opts      Options
	tracer    trace.Tracer
	log       *logger.Logger
}

// run executes one turn per submission until the session ends.
func (w *inference) run(ctx context.Context, submissions *Queue[model.PromptSubmission], deltas *Queue[model.Delta]) error {
	defer submissions.Close()

	for {
		submission, err := submissions.Pop(ctx)
		if err != nil {
			return nil
		}

		err = w.turn(ctx, submission, deltas)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return nil
		}
		if !w.opts.ContinueOnTurnError || !IsTurnError(err) {
			return err
		}

		w.log.Warn("turn failed",
			zap.String("conversation_id", submission.ConversationID),
			zap.String("code", ErrorCode(err)),
			zap.Error(err),
		)
		if err := deltas.Push(ctx, model.ErrorDelta(ErrorCode(err), publicMessage(err))); err != nil {
			return nil
		}
	}
}

// turn processes a single submission. It returns a turn-scoped error, or nil
// when the turn finished or the client went away mid-turn.
func (w *inference) turn(ctx context.Context, submission model.PromptSubmission, deltas *Queue[model.Delta]) (err error) {
	conversationID := submission.ConversationID
	start := time.Now()
	outcome := outcomeCompleted

	ctx, span := w.tracer.Start(ctx, "pipeline.turn", trace.WithAttributes(
		attribute.String("conversation.id", conversationID),
		attribute.String("llm.model", w.opts.Model),
		attribute.String("llm.provider", w.upstream.Name()),
	))
	defer func() {
		span.SetAttributes(attribute.String("turn.outcome", outcome))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, ErrorCode(err))
		} else {
			span.SetStatus(codes.Ok, outcome)
		}
		span.End()
		metrics.RecordTurn(w.opts.Model, outcome, time.Since(start).Seconds())
	}()

	release, err := w.locks.Acquire(ctx, conversationID)
	if err != nil {
		outcome = outcomeCancelled
		return nil
	}
	defer release()

	if _, err := w.store.GetConversation(ctx, conversationID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			outcome = outcomeNotFound
			return fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
		}
		outcome = outcomeStorage
		return fmt.Errorf("%w: get conversation: %w", ErrStorage, err)
	}

	history, err := w.store.GetConversationMessages(ctx, conversationID)
	if err != nil {
		outcome = outcomeStorage
		return fmt.Errorf("%w: get messages: %w", ErrStorage, err)
	}

	userMessage, err := w.store.CreateMessage(ctx, model.NewUserMessage(submission.Content, conversationID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			outcome = outcomeNotFound
			return fmt.Errorf("%w: %s", ErrConversationNotFound, conversationID)
		}
		outcome = outcomeStorage
		return fmt.Errorf("%w: create user message: %w", ErrStorage, err)
	}
	metrics.MessagesTotal.WithLabelValues(userMessage.Role.String()).Inc()

	if err := deltas.Push(ctx, model.AppendDelta(*userMessage)); err != nil {
		outcome = outcomeDisconnected
		return nil
	}

	streamCtx := ctx
	if w.opts.TurnTimeout > 0 {
		var cancel context.CancelFunc
		streamCtx, cancel = context.WithTimeout(ctx, w.opts.TurnTimeout)
		defer cancel()
	}

	stream, err := w.upstream.StreamChat(streamCtx, &llm.ChatRequest{
		Model:    w.opts.Model,
		Messages: chatMessages(history, userMessage),
		Stream:   true,
	})
	if err != nil {
		outcome = outcomeUpstream
		return fmt.Errorf("%w: %w", ErrUpstream, err)
	}
	defer stream.Close()

	assistant := model.NewAssistantMessage("", conversationID)
	result := w.consume(ctx, streamCtx, stream, assistant, deltas)
	outcome = result.outcome
	span.SetAttributes(attribute.Int("turn.chunks", result.chunks))

	content := result.queued
	if result.pushed {
		content = w.delivered.settle(assistant.ID, result.queued)
		if content != result.queued {
			outcome = outcomeDisconnected
		}
	}

	assistant.Content = content
	w.persist(ctx, assistant)
	return nil
}

type streamResult struct {
	// queued is the content of the last replace delta queued for the client.
	queued  string
	pushed  bool
	chunks  int
	outcome string
}

// consume folds the chunk stream into an accumulator, queueing a replace
// delta after every decoded chunk. The accumulator only advances once its
// delta has been queued.
func (w *inference) consume(ctx, streamCtx context.Context, stream llm.ChunkStream, assistant *model.Message, deltas *Queue[model.Delta]) streamResult {
	var result streamResult

	for {
		chunk, err := stream.Next(streamCtx)
		if errors.Is(err, io.EOF) {
			result.outcome = outcomeCompleted
			return result
		}

		var decodeErr *llm.ChunkDecodeError
		if errors.As(err, &decodeErr) {
			metrics.RecordChunk(w.opts.Model, "skipped")
			w.log.Warn("skipping malformed chunk",
				zap.String("conversation_id", assistant.ConversationID),
				zap.Error(err),
			)
			continue
		}

		if err != nil {
			switch {
			case ctx.Err() != nil:
				result.outcome = outcomeCancelled
			case errors.Is(err, context.DeadlineExceeded):
				w.log.Warn("turn timed out", zap.String("conversation_id", assistant.ConversationID))
				result.outcome = outcomeTimeout
			default:
				w.log.Warn("upstream stream interrupted",
					zap.String("conversation_id", assistant.ConversationID),
					zap.Error(err),
				)
				result.outcome = outcomeInterrupted
			}
			return result
		}

		metrics.RecordChunk(w.opts.Model, "ok")
		fragment := chunk.Content
		if result.chunks == 0 {
			fragment = strings.TrimLeftFunc(fragment, unicode.IsSpace)
		}
		result.chunks++

		snapshot := *assistant
		snapshot.Content = result.queued + fragment
		if err := deltas.Push(ctx, model.ReplaceDelta(snapshot)); err != nil {
			result.outcome = outcomeDisconnected
			return result
		}
		result.queued = snapshot.Content
		result.pushed = true

		if chunk.Done {
			result.outcome = outcomeCompleted
			return result
		}
	}
}

// persist stores the assistant message even when the session is already
// cancelled. Failure is logged and dropped.
func (w *inference) persist(ctx context.Context, msg *model.Message) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.opts.PersistTimeout)
	defer cancel()

	if _, err := w.store.CreateMessage(ctx, msg); err != nil {
		metrics.PersistFailuresTotal.Inc()
		w.log.Error("failed to persist assistant message",
			zap.String("message_id", msg.ID),
			zap.String("conversation_id", msg.ConversationID),
			zap.Int("content_length", len(msg.Content)),
			zap.Error(err),
		)
		return
	}
	metrics.MessagesTotal.WithLabelValues(msg.Role.String()).Inc()
}

func chatMessages(history []model.Message, latest *model.Message) []llm.ChatMessage {
	messages := make([]llm.ChatMessage, 0, len(history)+1)
	for _, msg := range history {
		messages = append(messages, llm.ChatMessage{Role: msg.Role.String(), Content: msg.Content})
	}
	return append(messages, llm.ChatMessage{Role: latest.Role.String(), Content: latest.Content})
}
