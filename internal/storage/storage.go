// Package storage persists conversations and their messages.
package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/lukaszKielar/lokai-web/internal/model"
)

// ErrNotFound is returned when a conversation does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the interface for conversation and message persistence.
type Store interface {
	// GetConversation returns ErrNotFound for unknown ids.
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)
	// GetConversationMessages returns messages in creation order.
	GetConversationMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	// CreateMessage returns ErrNotFound if the conversation does not exist.
	CreateMessage(ctx context.Context, msg *model.Message) (*model.Message, error)
	CreateConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, error)
	CreateConversationIfNotExists(ctx context.Context, conv *model.Conversation) (*model.Conversation, error)
	// ListConversations returns conversations newest first.
	ListConversations(ctx context.Context) ([]model.Conversation, error)
	Ping(ctx context.Context) error
	Close() error
}

// Open creates a store from a database URL. Supported schemes are
// sqlite://, postgres:// (or postgresql://) and memory://.
func Open(ctx context.Context, databaseURL string) (Store, error) {
	switch {
	case strings.HasPrefix(databaseURL, "memory:"):
		return NewMemoryStore(), nil
	case strings.HasPrefix(databaseURL, "sqlite:"):
		return OpenSQLite(ctx, sqlitePath(databaseURL))
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return OpenPostgres(ctx, databaseURL)
	default:
		return nil, fmt.Errorf("unsupported database URL scheme: %q", databaseURL)
	}
}

func sqlitePath(databaseURL string) string {
	path := strings.TrimPrefix(databaseURL, "sqlite:")
	return strings.TrimPrefix(path, "//")
}
