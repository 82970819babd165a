package stream

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// wire constants for the WebSocket connection's read/write deadlines and
// keepalive cadence.
const (
	maxPayloadBytes = 1 << 20
	writeWait       = 10 * time.Second
	sendBuffer      = 64
)

// wsConn is the subset of *websocket.Conn the Connection needs, narrowed so
// tests can substitute an in-memory double.
type wsConn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Connection is one active WebSocket turn: one socket per active turn.
// Writes are serialized through a single goroutine reading send, so
// keepalive pongs and turn frames never race on the underlying conn.
type Connection struct {
	ID        string
	SessionID string

	conn   wsConn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc
}

func newConnection(ctx context.Context, conn wsConn, id, sessionID string) *Connection {
	ctx, cancel := context.WithCancel(ctx)
	return &Connection{
		ID:        id,
		SessionID: sessionID,
		conn:      conn,
		send:      make(chan []byte, sendBuffer),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// sendFrame best-effort-encodes and enqueues a server frame.
// A full send buffer or a closed connection both drop the frame rather
// than block the caller.
func (c *Connection) sendFrame(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	case <-c.ctx.Done():
	default:
		c.cancel()
	}
}

func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.cancel()
				return
			}
		}
	}
}

// readLoop decodes inbound client frames and hands them to handle until the
// connection closes or ctx is cancelled.
func (c *Connection) readLoop(pongWait time.Duration, handle func(ClientFrame)) {
	c.conn.SetReadLimit(maxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.cancel()
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var frame ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.sendFrame(errorFrame{Type: frameError, Message: "invalid frame"})
			continue
		}
		if frame.Type == clientFramePing {
			c.sendFrame(pongFrame{Type: framePong})
			continue
		}
		handle(frame)
	}
}

func (c *Connection) keepalive(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.sendFrame(pongFrame{Type: framePong})
		}
	}
}

func (c *Connection) close() {
	c.cancel()
	_ = c.conn.Close()
}
