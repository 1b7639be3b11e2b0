package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/lukaszKielar/lokai-web/internal/model"
	"github.com/lukaszKielar/lokai-web/pkg/metrics"
)

const (
	// StreamName is the name of the message events stream.
	StreamName = "LOKAI_MESSAGES"

	// SubjectPrefix is the prefix for all message event subjects.
	SubjectPrefix = "lokai.conv"
)

// Publisher publishes message events to JetStream.
type Publisher struct {
	client *Client
}

// NewPublisher creates a new publisher.
func NewPublisher(client *Client) *Publisher {
	return &Publisher{client: client}
}

// EnsureStream ensures the message events stream exists.
func (p *Publisher) EnsureStream(ctx context.Context) error {
	js := p.client.JetStream()

	if _, err := js.Stream(ctx, StreamName); err == nil {
		return nil
	}

	_, err := js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        StreamName,
		Subjects:    []string{SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      30 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		Description: "Persisted chat messages",
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	return nil
}

// MessageSubject returns the subject for a message event.
func MessageSubject(conversationID string, role model.Role) string {
	return fmt.Sprintf("%s.%s.msg.%s", SubjectPrefix, conversationID, role)
}

// NewMessageEvent wraps a persisted message in an event envelope.
func NewMessageEvent(msg *model.Message) *model.MessageEvent {
	return &model.MessageEvent{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Type:      model.EventTypeMessageCreated,
		Message:   *msg,
		CreatedAt: time.Now().UTC(),
	}
}

// PublishMessage publishes a message.created event.
func (p *Publisher) PublishMessage(ctx context.Context, msg *model.Message) error {
	data, err := json.Marshal(NewMessageEvent(msg))
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := p.client.JetStream().Publish(ctx, MessageSubject(msg.ConversationID, msg.Role), data); err != nil {
		metrics.EventsPublishedTotal.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to publish event: %w", err)
	}
	metrics.EventsPublishedTotal.WithLabelValues("ok").Inc()
	return nil
}
