package socket

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	PongWait   = 60 * time.Second
	pingPeriod = (PongWait * 9) / 10
	sendBuffer = 32
)

// Client is one websocket connection. All writes go through WritePump so
// the connection only ever has one writer.
type Client struct {
	UserID string
	conn   *websocket.Conn
	send   chan []byte

	mu       sync.Mutex
	closed   bool
	closeMsg []byte
}

func NewClient(userID string, conn *websocket.Conn) *Client {
	return &Client{UserID: userID, conn: conn, send: make(chan []byte, sendBuffer)}
}

// Enqueue hands msg to the writer. It returns false when the queue is full
// or the client is gone.
func (c *Client) Enqueue(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// CloseWith stops accepting messages. WritePump sends what is already queued,
// then a close frame with code and reason.
func (c *Client) CloseWith(code int, reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		c.closeMsg = websocket.FormatCloseMessage(code, reason)
		close(c.send)
	}
}

// WritePump writes queued messages and keep-alive pings until the queue is
// closed, a write fails or ctx is done.
func (c *Client) WritePump(ctx context.Context) error {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, c.closeMsg)
				return nil
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return err
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return err
			}
		case <-ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return ctx.Err()
		}
	}
}

// ReadPump discards client messages and keeps the read deadline fresh on
// pongs. It returns when the peer goes away.
func (c *Client) ReadPump() error {
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongWait))
	})
	c.conn.SetPingHandler(func(data string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		return c.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				return err
			}
			return nil
		}
	}
}
