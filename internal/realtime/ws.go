package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/vaenkat/health-ecosystem-hub/pkg/protocol"
)

// makeUpgrader creates a WebSocket upgrader with origin checking.
func makeUpgrader(allowedOrigins []string) websocket.Upgrader {
	allowAll := len(allowedOrigins) == 0 || (len(allowedOrigins) == 1 && allowedOrigins[0] == "*")
	originSet := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		originSet[o] = true
	}

	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if allowAll {
				return true
			}
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true // non-browser clients
			}
			return originSet[origin]
		},
	}
}

// Authenticator resolves a bearer token to the caller's identity and role.
type Authenticator interface {
	Verify(ctx context.Context, token string) (identity string, role protocol.Role, err error)
}

// GatewayOptions configures the WebSocket gateway.
type GatewayOptions struct {
	AllowedOrigins  []string
	SendTimeout     time.Duration // per-write deadline (default 5s)
	PingInterval    time.Duration // keepalive cadence (default 30s)
	PongWait        time.Duration // read deadline after last pong (default 60s)
	MaxMessageBytes int64         // max inbound frame size (default 64KB)
	FrameRate       float64       // inbound frames/sec per connection (default 10)
	FrameBurst      int           // default 20
}

// Gateway upgrades HTTP requests to WebSocket channels, registers them, and
// runs their read loops.
type Gateway struct {
	reg      *Registry
	auth     Authenticator
	logger   *slog.Logger
	upgrader websocket.Upgrader

	sendTimeout     time.Duration
	pingInterval    time.Duration
	pongWait        time.Duration
	maxMessageBytes int64
	frameRate       rate.Limit
	frameBurst      int
}

// NewGateway creates a Gateway serving channels into reg.
func NewGateway(reg *Registry, auth Authenticator, logger *slog.Logger, opts GatewayOptions) *Gateway {
	sendTimeout := opts.SendTimeout
	if sendTimeout == 0 {
		sendTimeout = 5 * time.Second
	}
	pingInterval := opts.PingInterval
	if pingInterval == 0 {
		pingInterval = 30 * time.Second
	}
	pongWait := opts.PongWait
	if pongWait == 0 {
		pongWait = 60 * time.Second
	}
	maxBytes := opts.MaxMessageBytes
	if maxBytes == 0 {
		maxBytes = 64 * 1024 // 64KB default
	}
	frameRate := opts.FrameRate
	if frameRate == 0 {
		frameRate = 10
	}
	frameBurst := opts.FrameBurst
	if frameBurst == 0 {
		frameBurst = 20
	}

	return &Gateway{
		reg:             reg,
		auth:            auth,
		logger:          logger.With("component", "ws"),
		upgrader:        makeUpgrader(opts.AllowedOrigins),
		sendTimeout:     sendTimeout,
		pingInterval:    pingInterval,
		pongWait:        pongWait,
		maxMessageBytes: maxBytes,
		frameRate:       rate.Limit(frameRate),
		frameBurst:      frameBurst,
	}
}

// HandleWS authenticates the request, upgrades it, and serves the channel
// until the peer goes away. pathIdentity is the user id from the URL; it must
// match the token's identity unless the caller is an admin.
func (g *Gateway) HandleWS(w http.ResponseWriter, r *http.Request, pathIdentity string) {
	// JWT in a query parameter is accepted because browsers cannot set
	// headers during the WebSocket handshake. Keep query strings out of
	// access logs.
	token := r.URL.Query().Get("token")
	if token == "" {
		token = r.Header.Get("Authorization")
		if len(token) > 7 && token[:7] == "Bearer " {
			token = token[7:]
		}
	}
	if token == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	identity, role, err := g.auth.Verify(r.Context(), token)
	if err != nil {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if pathIdentity != "" && pathIdentity != identity && role != protocol.RoleAdmin {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn.SetReadLimit(g.maxMessageBytes)

	ch := newWSChannel(conn, g.sendTimeout)
	cancelKeepalive := startKeepalive(ch, g.pingInterval, g.pongWait)
	defer cancelKeepalive()

	connID := g.reg.Register(identity, role, ch)
	defer g.reg.Unregister(connID)

	frames := rate.NewLimiter(g.frameRate, g.frameBurst)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			g.logger.Debug("client read error", "conn_id", connID, "error", err)
			return
		}
		// Any message resets the read deadline.
		_ = conn.SetReadDeadline(time.Now().Add(g.pongWait))

		if !frames.Allow() {
			g.logger.Debug("client frame rate limited", "conn_id", connID)
			continue
		}

		g.handleFrame(connID, identity, data)
	}
}

// handleFrame dispatches one inbound client frame.
func (g *Gateway) handleFrame(connID, identity string, data []byte) {
	var frame protocol.ClientFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		g.logger.Debug("invalid frame from client", "conn_id", connID, "error", err)
		g.sendError(connID, "Invalid message format")
		return
	}

	switch frame.Type {
	case protocol.TypePing:
		g.reply(connID, protocol.NewNotification(protocol.TypePong, "Pong",
			"Server response to ping",
			map[string]any{"timestamp": time.Now().UTC().Format(time.RFC3339)}))

	case protocol.TypeSubscribe:
		if frame.Channel == "" {
			return
		}
		g.reply(connID, protocol.NewNotification(protocol.TypeSubscribed, "Subscribed",
			fmt.Sprintf("Subscribed to %s", frame.Channel),
			map[string]any{"channel": frame.Channel}))

	case protocol.TypeUnsubscribe:
		if frame.Channel == "" {
			return
		}
		g.reply(connID, protocol.NewNotification(protocol.TypeUnsubscribed, "Unsubscribed",
			fmt.Sprintf("Unsubscribed from %s", frame.Channel),
			map[string]any{"channel": frame.Channel}))

	case protocol.TypeTyping:
		n := protocol.NewNotification(protocol.TypeTyping, "Typing",
			fmt.Sprintf("%s is typing...", identity),
			map[string]any{"user_id": identity, "is_typing": true})
		g.reg.SendToIdentities(frame.Recipients, n, identity)

	case protocol.TypeChat:
		if frame.Content == "" {
			return
		}
		n := protocol.NewNotification(protocol.TypeChat, "New Message", frame.Content,
			map[string]any{
				"sender_id": identity,
				"content":   frame.Content,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			})
		if len(frame.Recipients) > 0 {
			g.reg.SendToIdentities(frame.Recipients, n)
		} else {
			g.reg.BroadcastAll(n, identity)
		}

	default:
		g.sendError(connID, fmt.Sprintf("Unknown message type: %s", frame.Type))
	}
}

func (g *Gateway) sendError(connID, message string) {
	g.reply(connID, protocol.NewNotification(protocol.TypeError, "Error", message, nil))
}

func (g *Gateway) reply(connID string, n *protocol.Notification) {
	if err := g.reg.SendToChannel(connID, n); err != nil {
		g.logger.Debug("reply not delivered", "conn_id", connID, "error", err)
	}
}
