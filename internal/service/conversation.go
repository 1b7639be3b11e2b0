// Package service provides the conversation and message operations behind
// the REST API.
package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/lukaszKielar/lokai-web/internal/model"
	"github.com/lukaszKielar/lokai-web/internal/storage"
	"github.com/lukaszKielar/lokai-web/pkg/logger"
)

var (
	// ErrConversationNotFound is returned for unknown conversation ids.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrInvalidInput wraps request validation failures.
	ErrInvalidInput = errors.New("invalid input")
)

// ConversationService handles conversation operations.
type ConversationService struct {
	store  storage.Store
	logger *logger.Logger
}

// NewConversationService creates a new conversation service.
func NewConversationService(store storage.Store, log *logger.Logger) *ConversationService {
	return &ConversationService{
		store:  store,
		logger: log,
	}
}

// Create creates a new conversation. When req carries an id, an existing
// conversation with that id is returned unchanged instead.
func (s *ConversationService) Create(ctx context.Context, req *model.CreateConversationRequest) (*model.Conversation, error) {
	if err := model.ValidateName(req.Name); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}

	conv := model.NewConversation(req.Name)
	if req.ID == "" {
		created, err := s.store.CreateConversation(ctx, conv)
		if err != nil {
			return nil, fmt.Errorf("failed to create conversation: %w", err)
		}
		s.logger.Info("conversation created", zap.String("conversation_id", created.ID))
		return created, nil
	}

	if err := model.ValidateConversationID(req.ID); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	conv.ID = req.ID

	created, err := s.store.CreateConversationIfNotExists(ctx, conv)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	s.logger.Info("conversation ensured", zap.String("conversation_id", created.ID))
	return created, nil
}

// Get retrieves a conversation by ID.
func (s *ConversationService) Get(ctx context.Context, conversationID string) (*model.Conversation, error) {
	conv, err := s.store.GetConversation(ctx, conversationID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrConversationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// List returns all conversations, newest first.
func (s *ConversationService) List(ctx context.Context) (*model.ListConversationsResponse, error) {
	convs, err := s.store.ListConversations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if convs == nil {
		convs = []model.Conversation{}
	}

	return &model.ListConversationsResponse{
		Conversations: convs,
		Total:         len(convs),
	}, nil
}
