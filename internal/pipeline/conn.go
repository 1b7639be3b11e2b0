package pipeline

import (
	"context"
	"fmt"
)

// FrameType distinguishes inbound frame kinds.
type FrameType int

const (
	TextFrame FrameType = iota + 1
	BinaryFrame
)

func (t FrameType) String() string {
	switch t {
	case TextFrame:
		return "text"
	case BinaryFrame:
		return "binary"
	default:
		return fmt.Sprintf("frame(%d)", int(t))
	}
}

// Frame is one inbound message from the client.
type Frame struct {
	Type FrameType
	Data []byte
}

// Inbound is the read half of a duplex connection.
type Inbound interface {
	// ReadFrame blocks for the next frame. It returns io.EOF when the peer
	// closed the connection cleanly and must unblock when ctx is done.
	ReadFrame(ctx context.Context) (Frame, error)
}

// Outbound is the write half of a duplex connection.
type Outbound interface {
	// WriteFrame writes data as a single text frame.
	WriteFrame(ctx context.Context, data []byte) error
}
