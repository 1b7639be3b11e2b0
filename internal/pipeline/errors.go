package pipeline

import (
	"errors"
)

// Session-scoped errors end the session; turn-scoped errors end one turn.
var (
	// ErrConnectionProtocol is returned for an inbound frame that is not a
	// valid prompt submission.
	ErrConnectionProtocol = errors.New("connection protocol error")

	// ErrOutboundWrite is returned when a frame cannot be written to the client.
	ErrOutboundWrite = errors.New("outbound write failed")

	// ErrConversationNotFound is returned when a submission references an
	// unknown conversation.
	ErrConversationNotFound = errors.New("conversation not found")

	// ErrUpstream is returned when the inference server cannot be reached.
	ErrUpstream = errors.New("upstream inference failed")

	// ErrStorage is returned when a read or write needed by a turn fails.
	ErrStorage = errors.New("storage failure")

	// ErrQueueClosed is returned when pushing to a queue whose consumer has gone.
	ErrQueueClosed = errors.New("queue closed")
)

// ErrorCode returns the stable wire code for err.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrConnectionProtocol):
		return "connection_protocol"
	case errors.Is(err, ErrOutboundWrite):
		return "outbound_write"
	case errors.Is(err, ErrConversationNotFound):
		return "conversation_not_found"
	case errors.Is(err, ErrUpstream):
		return "upstream"
	case errors.Is(err, ErrStorage):
		return "storage"
	default:
		return "internal"
	}
}

// publicMessage returns the client-facing text for a turn error. Wrapped
// detail stays in the logs.
func publicMessage(err error) string {
	for _, sentinel := range []error{ErrConversationNotFound, ErrUpstream, ErrStorage} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal error"
}

// IsTurnError reports whether err only affects the turn that produced it.
func IsTurnError(err error) bool {
	return errors.Is(err, ErrConversationNotFound) ||
		errors.Is(err, ErrUpstream) ||
		errors.Is(err, ErrStorage)
}
