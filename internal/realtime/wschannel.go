package realtime

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// wsChannel adapts a gorilla WebSocket connection to the Channel interface.
// A mutex serializes writes, and every write carries a deadline so one
// stalled peer cannot hold up a fan-out.
type wsChannel struct {
	conn        *websocket.Conn
	sendTimeout time.Duration

	mu     sync.Mutex
	closed atomic.Bool
	once   sync.Once
}

func newWSChannel(conn *websocket.Conn, sendTimeout time.Duration) *wsChannel {
	return &wsChannel{conn: conn, sendTimeout: sendTimeout}
}

func (c *wsChannel) Send(data []byte) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.sendTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a best-effort close frame and tears the connection down.
// Repeated calls are a no-op.
func (c *wsChannel) Close() error {
	var err error
	c.once.Do(func() {
		c.closed.Store(true)
		c.mu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.mu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// writeControl sends a control frame under the write mutex so pings never
// interleave with data writes.
func (c *wsChannel) writeControl(messageType int, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(messageType, nil, deadline)
}
