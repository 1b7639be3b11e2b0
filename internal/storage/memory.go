package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/lukaszKielar/lokai-web/internal/model"
)

// MemoryStore keeps everything in process memory. It backs tests and
// memory:// deployments.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]*model.Conversation
	order         []string
	messages      map[string][]model.Message
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]*model.Conversation),
		messages:      make(map[string][]model.Message),
	}
}

// GetConversation retrieves a conversation by ID.
func (s *MemoryStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, exists := s.conversations[id]
	if !exists {
		return nil, ErrNotFound
	}
	c := *conv
	return &c, nil
}

// GetConversationMessages returns the conversation's messages in insertion order.
func (s *MemoryStore) GetConversationMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := make([]model.Message, len(s.messages[conversationID]))
	copy(msgs, s.messages[conversationID])
	return msgs, nil
}

// CreateMessage appends a message to its conversation.
func (s *MemoryStore) CreateMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[msg.ConversationID]; !exists {
		return nil, fmt.Errorf("conversation %s: %w", msg.ConversationID, ErrNotFound)
	}
	m := *msg
	s.messages[msg.ConversationID] = append(s.messages[msg.ConversationID], m)
	return &m, nil
}

// CreateConversation stores a new conversation.
func (s *MemoryStore) CreateConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.conversations[conv.ID]; exists {
		return nil, fmt.Errorf("conversation %s already exists", conv.ID)
	}
	c := *conv
	s.conversations[c.ID] = &c
	s.order = append(s.order, c.ID)
	out := c
	return &out, nil
}

// CreateConversationIfNotExists returns the stored conversation when the ID is taken.
func (s *MemoryStore) CreateConversationIfNotExists(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	if existing, err := s.GetConversation(ctx, conv.ID); err == nil {
		return existing, nil
	}
	return s.CreateConversation(ctx, conv)
}

// ListConversations returns all conversations, newest first.
func (s *MemoryStore) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	convs := make([]model.Conversation, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		convs = append(convs, *s.conversations[s.order[i]])
	}
	sort.SliceStable(convs, func(i, j int) bool {
		return convs[i].CreatedAt.After(convs[j].CreatedAt)
	})
	return convs, nil
}

// Ping always succeeds.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *MemoryStore) Close() error {
	return nil
}
