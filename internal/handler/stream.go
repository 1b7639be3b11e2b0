package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lukaszKielar/lokai-web/internal/pipeline"
	"github.com/lukaszKielar/lokai-web/pkg/logger"
)

const (
	// maxFrameSize bounds a single inbound frame.
	maxFrameSize = 512 << 10

	writeWait = 10 * time.Second
)

// StreamHandler upgrades requests to WebSocket connections and serves each
// one as a pipeline session.
type StreamHandler struct {
	gateway  *pipeline.Gateway
	upgrader websocket.Upgrader
	logger   *logger.Logger
	sessions sync.WaitGroup
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(gateway *pipeline.Gateway, log *logger.Logger) *StreamHandler {
	return &StreamHandler{
		gateway: gateway,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		logger: log,
	}
}

// Stream handles GET /ws
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error.
		h.logger.Warn("websocket upgrade failed", zap.String("remote_addr", r.RemoteAddr), zap.Error(err))
		return
	}

	h.sessions.Add(1)
	defer h.sessions.Done()

	conn.SetReadLimit(maxFrameSize)
	ws := &wsConn{conn: conn}
	defer ws.Close()

	err = h.gateway.Handle(r.Context(), ws, ws, r.RemoteAddr)
	ws.closeWith(err)
}

// Drain waits for running sessions to finish or ctx to end.
func (h *StreamHandler) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// wsConn adapts a gorilla connection to the pipeline's inbound and outbound
// halves. Only the receiver reads and only the sender writes.
type wsConn struct {
	conn *websocket.Conn
}

func (c *wsConn) ReadFrame(ctx context.Context) (pipeline.Frame, error) {
	stop := context.AfterFunc(ctx, func() {
		c.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err,
			websocket.CloseNormalClosure,
			websocket.CloseGoingAway,
			websocket.CloseNoStatusReceived,
		) {
			return pipeline.Frame{}, io.EOF
		}
		if ctx.Err() != nil {
			return pipeline.Frame{}, ctx.Err()
		}
		return pipeline.Frame{}, err
	}

	frameType := pipeline.BinaryFrame
	if messageType == websocket.TextMessage {
		frameType = pipeline.TextFrame
	}
	return pipeline.Frame{Type: frameType, Data: data}, nil
}

func (c *wsConn) WriteFrame(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// closeWith sends a close frame describing how the session ended.
func (c *wsConn) closeWith(err error) {
	code, text := websocket.CloseNormalClosure, ""
	switch {
	case err == nil:
	case errors.Is(err, pipeline.ErrConnectionProtocol):
		code, text = websocket.CloseUnsupportedData, pipeline.ErrorCode(err)
	case errors.Is(err, pipeline.ErrOutboundWrite):
		return
	default:
		code, text = websocket.CloseInternalServerErr, pipeline.ErrorCode(err)
	}

	msg := websocket.FormatCloseMessage(code, text)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}
