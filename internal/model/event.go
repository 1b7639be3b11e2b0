package model

import (
	"time"
)

// EventType represents the type of message event.
type EventType string

const (
	EventTypeMessageCreated EventType = "message.created"
)

// MessageEvent is published whenever a message is persisted.
type MessageEvent struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Message   Message   `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}
