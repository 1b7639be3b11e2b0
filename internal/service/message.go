package service

import (
	"context"
	"fmt"

	"github.com/lukaszKielar/lokai-web/internal/model"
	"github.com/lukaszKielar/lokai-web/internal/storage"
	"github.com/lukaszKielar/lokai-web/pkg/logger"
)

// MessageService handles message operations. Messages are written by the
// streaming pipeline; this service only reads them.
type MessageService struct {
	store               storage.Store
	conversationService *ConversationService
	logger              *logger.Logger
}

// NewMessageService creates a new message service.
func NewMessageService(
	store storage.Store,
	conversationService *ConversationService,
	log *logger.Logger,
) *MessageService {
	return &MessageService{
		store:               store,
		conversationService: conversationService,
		logger:              log,
	}
}

// List returns a conversation's messages in creation order.
func (s *MessageService) List(ctx context.Context, conversationID string) (*model.ListMessagesResponse, error) {
	if _, err := s.conversationService.Get(ctx, conversationID); err != nil {
		return nil, err
	}

	msgs, err := s.store.GetConversationMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	if msgs == nil {
		msgs = []model.Message{}
	}

	return &model.ListMessagesResponse{Messages: msgs}, nil
}
