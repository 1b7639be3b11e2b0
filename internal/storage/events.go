package storage

import (
	"context"

	"go.uber.org/zap"

	"github.com/lukaszKielar/lokai-web/internal/model"
	"github.com/lukaszKielar/lokai-web/pkg/logger"
)

// EventPublisher announces persisted messages to other processes.
type EventPublisher interface {
	PublishMessage(ctx context.Context, msg *model.Message) error
}

type eventStore struct {
	Store
	publisher EventPublisher
	logger    *logger.Logger
}

// WithEvents wraps store so that every created message is also published.
// A publish failure is logged and never fails the write.
func WithEvents(store Store, publisher EventPublisher, log *logger.Logger) Store {
	return &eventStore{Store: store, publisher: publisher, logger: log}
}

func (s *eventStore) CreateMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	created, err := s.Store.CreateMessage(ctx, msg)
	if err != nil {
		return nil, err
	}
	if err := s.publisher.PublishMessage(ctx, created); err != nil {
		s.logger.Warn("failed to publish message event",
			zap.String("message_id", created.ID),
			zap.String("conversation_id", created.ConversationID),
			zap.Error(err),
		)
	}
	return created, nil
}
