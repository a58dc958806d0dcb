package realtime

import (
	"time"

	"github.com/gorilla/websocket"
)

// wsWriteWait bounds how long a keepalive ping may take to go out.
const wsWriteWait = 10 * time.Second

// startKeepalive runs WebSocket-level ping/pong for a channel. Pings go out
// every pingInterval through the channel's write mutex; a pong pushes the
// read deadline out by pongWait, so a silent peer fails the read loop within
// one pongWait. The returned cancel stops the loop.
func startKeepalive(ch *wsChannel, pingInterval, pongWait time.Duration) (cancel func()) {
	done := make(chan struct{})

	_ = ch.conn.SetReadDeadline(time.Now().Add(pongWait))
	ch.conn.SetPongHandler(func(string) error {
		return ch.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if err := ch.writeControl(websocket.PingMessage, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}()

	return func() { close(done) }
}
