package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/lukaszKielar/lokai-web/internal/model"
)

// SQLiteStore persists conversations in a SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path cannot be empty")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &SQLiteStore{db: db}
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate applies the schema. It is idempotent.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
func (s *SQLiteStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var (
		conv      model.Conversation
		createdAt int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.Name, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("database error fetching conversation: %w", err)
	}
	conv.CreatedAt = fromUnixNano(createdAt)
	return &conv, nil
}

// GetConversationMessages returns messages ordered by creation time, then insertion order.
func (s *SQLiteStore) GetConversationMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, role, content, conversation_id, created_at
		FROM messages
		WHERE conversation_id = ?
		ORDER BY created_at, rowid`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("database error fetching messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var (
			msg       model.Message
			role      string
			createdAt int64
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.ConversationID, &createdAt); err != nil {
			return nil, fmt.Errorf("database error scanning message: %w", err)
		}
		if msg.Role, err = model.ParseRole(role); err != nil {
			return nil, fmt.Errorf("message %s: %w", msg.ID, err)
		}
		msg.CreatedAt = fromUnixNano(createdAt)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database error iterating messages: %w", err)
	}
	return messages, nil
}

// CreateMessage inserts a message if its conversation exists.
func (s *SQLiteStore) CreateMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, role, content, conversation_id, created_at)
		SELECT ?, ?, ?, ?, ?
		WHERE EXISTS (SELECT 1 FROM conversations WHERE id = ?)`,
		msg.ID, string(msg.Role), msg.Content, msg.ConversationID, msg.CreatedAt.UnixNano(), msg.ConversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("database error creating message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("database error creating message: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("conversation %s: %w", msg.ConversationID, ErrNotFound)
	}

	m := *msg
	m.CreatedAt = fromUnixNano(msg.CreatedAt.UnixNano())
	return &m, nil
}

// CreateConversation inserts a new conversation.
func (s *SQLiteStore) CreateConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, name, created_at) VALUES (?, ?, ?)`,
		conv.ID, conv.Name, conv.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("database error creating conversation: %w", err)
	}
	c := *conv
	c.CreatedAt = fromUnixNano(conv.CreatedAt.UnixNano())
	return &c, nil
}

// CreateConversationIfNotExists inserts conv unless its ID is taken and returns the stored row.
func (s *SQLiteStore) CreateConversationIfNotExists(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversations (id, name, created_at) VALUES (?, ?, ?) ON CONFLICT (id) DO NOTHING`,
		conv.ID, conv.Name, conv.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("database error creating conversation: %w", err)
	}
	return s.GetConversation(ctx, conv.ID)
}

// ListConversations returns conversations newest first.
func (s *SQLiteStore) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM conversations ORDER BY created_at DESC, rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("database error listing conversations: %w", err)
	}
	defer rows.Close()

	convs := []model.Conversation{}
	for rows.Next() {
		var (
			conv      model.Conversation
			createdAt int64
		)
		if err := rows.Scan(&conv.ID, &conv.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("database error scanning conversation: %w", err)
		}
		conv.CreatedAt = fromUnixNano(createdAt)
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func fromUnixNano(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
