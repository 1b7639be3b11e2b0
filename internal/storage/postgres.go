package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lukaszKielar/lokai-web/internal/model"
)

// Compile-time checks that every backend implements Store.
var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
	_ Store = (*MemoryStore)(nil)
)

// PostgresStore persists conversations in PostgreSQL through a shared pool.
type PostgresStore struct {
	db *pgxpool.Pool
}

// OpenPostgres connects to databaseURL, pings it and applies the schema.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("unable to create database connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	s := NewPostgresStore(pool)
	if err := s.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate applies the schema. It is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// GetConversation retrieves a conversation by ID.
// Returns ErrNotFound if the conversation does not exist.
func (s *PostgresStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	query := `
		SELECT id, name, created_at
		FROM conversations
		WHERE id = $1`

	conv := &model.Conversation{}
	err := s.db.QueryRow(ctx, query, id).Scan(&conv.ID, &conv.Name, &conv.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("database error fetching conversation: %w", err)
	}
	conv.CreatedAt = conv.CreatedAt.UTC()
	return conv, nil
}

// GetConversationMessages returns messages ordered by creation time, then insertion order.
func (s *PostgresStore) GetConversationMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	query := `
		SELECT id, role, content, conversation_id, created_at
		FROM messages
		WHERE conversation_id = $1
		ORDER BY created_at, seq`

	rows, err := s.db.Query(ctx, query, conversationID)
	if err != nil {
		return nil, fmt.Errorf("database error fetching messages: %w", err)
	}
	defer rows.Close()

	var messages []model.Message
	for rows.Next() {
		var (
			msg  model.Message
			role string
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &msg.ConversationID, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("database error scanning message: %w", err)
		}
		if msg.Role, err = model.ParseRole(role); err != nil {
			return nil, fmt.Errorf("message %s: %w", msg.ID, err)
		}
		msg.CreatedAt = msg.CreatedAt.UTC()
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("database error iterating messages: %w", err)
	}
	return messages, nil
}

// CreateMessage inserts a message if its conversation exists.
func (s *PostgresStore) CreateMessage(ctx context.Context, msg *model.Message) (*model.Message, error) {
	query := `
		INSERT INTO messages (id, role, content, conversation_id, created_at)
		SELECT $1::text, $2::text, $3::text, $4::text, $5::timestamptz
		WHERE EXISTS (SELECT 1 FROM conversations WHERE id = $4::text)`

	tag, err := s.db.Exec(ctx, query, msg.ID, string(msg.Role), msg.Content, msg.ConversationID, msg.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("database error creating message: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, fmt.Errorf("conversation %s: %w", msg.ConversationID, ErrNotFound)
	}

	m := *msg
	return &m, nil
}

// CreateConversation inserts a new conversation.
func (s *PostgresStore) CreateConversation(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	query := `
		INSERT INTO conversations (id, name, created_at)
		VALUES ($1, $2, $3)
		RETURNING id, name, created_at`

	out := &model.Conversation{}
	err := s.db.QueryRow(ctx, query, conv.ID, conv.Name, conv.CreatedAt).Scan(&out.ID, &out.Name, &out.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("database error creating conversation: %w", err)
	}
	out.CreatedAt = out.CreatedAt.UTC()
	return out, nil
}

// CreateConversationIfNotExists inserts conv unless its ID is taken and returns the stored row.
func (s *PostgresStore) CreateConversationIfNotExists(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	query := `
		INSERT INTO conversations (id, name, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`

	if _, err := s.db.Exec(ctx, query, conv.ID, conv.Name, conv.CreatedAt); err != nil {
		return nil, fmt.Errorf("database error creating conversation: %w", err)
	}
	return s.GetConversation(ctx, conv.ID)
}

// ListConversations returns conversations newest first.
func (s *PostgresStore) ListConversations(ctx context.Context) ([]model.Conversation, error) {
	rows, err := s.db.Query(ctx, `SELECT id, name, created_at FROM conversations ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("database error listing conversations: %w", err)
	}
	defer rows.Close()

	convs := []model.Conversation{}
	for rows.Next() {
		var conv model.Conversation
		if err := rows.Scan(&conv.ID, &conv.Name, &conv.CreatedAt); err != nil {
			return nil, fmt.Errorf("database error scanning conversation: %w", err)
		}
		conv.CreatedAt = conv.CreatedAt.UTC()
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// Close closes the pool.
func (s *PostgresStore) Close() error {
	s.db.Close()
	return nil
}
