package model

// DeltaKind tags an outbound update.
type DeltaKind string

const (
	// DeltaAppend introduces a new message to the client.
	DeltaAppend DeltaKind = "append"
	// DeltaReplace carries the full current content of a known message.
	DeltaReplace DeltaKind = "replace"
	// DeltaError reports a failed turn.
	DeltaError DeltaKind = "error"
)

// Delta is one outbound update; it serializes to exactly one frame.
type Delta struct {
	Kind    DeltaKind   `json:"kind"`
	Message *Message    `json:"message,omitempty"`
	Error   *ErrorEvent `json:"error,omitempty"`
}

// ErrorEvent describes a turn failure sent to the client.
type ErrorEvent struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AppendDelta returns an append delta carrying a snapshot of msg.
func AppendDelta(msg Message) Delta {
	return Delta{Kind: DeltaAppend, Message: &msg}
}

// ReplaceDelta returns a replace delta carrying a snapshot of msg.
func ReplaceDelta(msg Message) Delta {
	return Delta{Kind: DeltaReplace, Message: &msg}
}

// ErrorDelta returns an error delta.
func ErrorDelta(code, message string) Delta {
	return Delta{Kind: DeltaError, Error: &ErrorEvent{Code: code, Message: message}}
}
