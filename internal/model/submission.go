package model

import (
	"encoding/json"
	"errors"
	"fmt"
)

// PromptSubmission is one decoded user prompt received over a connection.
type PromptSubmission struct {
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id"`
}

// ErrInvalidSubmission is returned for frames that do not decode into a valid submission.
var ErrInvalidSubmission = errors.New("invalid prompt submission")

// DecodeSubmission decodes and validates an inbound prompt document. The
// conversation id is opaque here; whether it names a conversation is
// decided by the store.
func DecodeSubmission(data []byte) (PromptSubmission, error) {
	var raw struct {
		Content        *string `json:"content"`
		ConversationID *string `json:"conversation_id"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return PromptSubmission{}, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	if raw.Content == nil {
		return PromptSubmission{}, fmt.Errorf("%w: missing content", ErrInvalidSubmission)
	}
	if raw.ConversationID == nil {
		return PromptSubmission{}, fmt.Errorf("%w: missing conversation_id", ErrInvalidSubmission)
	}

	sub := PromptSubmission{Content: *raw.Content, ConversationID: *raw.ConversationID}
	if err := ValidateMessageContent(sub.Content); err != nil {
		return PromptSubmission{}, fmt.Errorf("%w: %v", ErrInvalidSubmission, err)
	}
	return sub, nil
}
