// Package model defines data structures for the chat application.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Conversation is a topic that groups an ordered sequence of messages.
type Conversation struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// NewConversation creates a conversation with a fresh identifier.
func NewConversation(name string) *Conversation {
	return &Conversation{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
}

// CreateConversationRequest is the request to create a new conversation.
type CreateConversationRequest struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name"`
}

// ListConversationsResponse is the response for listing conversations.
type ListConversationsResponse struct {
	Conversations []Conversation `json:"conversations"`
	Total         int            `json:"total"`
}
