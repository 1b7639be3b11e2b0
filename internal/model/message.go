package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrUnknownRole is returned when a role string is not one of the known roles.
var ErrUnknownRole = errors.New("unknown role")

// Role represents the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// ParseRole parses a role name case-insensitively.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(s) {
	case "system":
		return RoleSystem, nil
	case "user":
		return RoleUser, nil
	case "assistant":
		return RoleAssistant, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
}

func (r Role) String() string {
	return string(r)
}

// UnmarshalJSON rejects roles outside the closed set.
func (r *Role) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseRole(s)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// Message is a single persisted utterance within a conversation.
type Message struct {
	ID             string    `json:"id"`
	Role           Role      `json:"role"`
	Content        string    `json:"content"`
	ConversationID string    `json:"conversation_id"`
	CreatedAt      time.Time `json:"created_at"`
}

func newMessage(role Role, content, conversationID string) *Message {
	return &Message{
		ID:             uuid.Must(uuid.NewV7()).String(),
		Role:           role,
		Content:        content,
		ConversationID: conversationID,
		CreatedAt:      time.Now().UTC(),
	}
}

// NewUserMessage creates a user message for a conversation.
func NewUserMessage(content, conversationID string) *Message {
	return newMessage(RoleUser, content, conversationID)
}

// NewAssistantMessage creates an assistant message for a conversation.
func NewAssistantMessage(content, conversationID string) *Message {
	return newMessage(RoleAssistant, content, conversationID)
}

// ListMessagesResponse is the response for listing messages.
type ListMessagesResponse struct {
	Messages []Message `json:"messages"`
}
