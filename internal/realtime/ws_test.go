package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vaenkat/health-ecosystem-hub/pkg/protocol"
)

type fakeIdentity struct {
	id   string
	role protocol.Role
}

// fakeAuth maps bearer tokens to identities.
type fakeAuth map[string]fakeIdentity

func (a fakeAuth) Verify(_ context.Context, token string) (string, protocol.Role, error) {
	ident, ok := a[token]
	if !ok {
		return "", "", errors.New("invalid token")
	}
	return ident.id, ident.role, nil
}

func setupGateway(t *testing.T) (*Registry, *httptest.Server) {
	t.Helper()
	reg := NewRegistry(testLogger(), "")
	auth := fakeAuth{
		"tok-u1":    {"u1", protocol.RolePatient},
		"tok-u2":    {"u2", protocol.RolePatient},
		"tok-admin": {"a1", protocol.RoleAdmin},
	}
	gw := NewGateway(reg, auth, testLogger(), GatewayOptions{})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", func(w http.ResponseWriter, r *http.Request) {
		gw.HandleWS(w, r, strings.TrimPrefix(r.URL.Path, "/ws/"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	t.Cleanup(reg.DisconnectAll)
	return reg, srv
}

func dialWS(t *testing.T, srv *httptest.Server, path string, header http.Header) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial %s: %v", path, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func dialExpectStatus(t *testing.T, srv *httptest.Server, path string, want int) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		_ = conn.Close()
		t.Fatalf("dial %s succeeded, want HTTP %d", path, want)
	}
	if resp == nil {
		t.Fatalf("dial %s: no HTTP response (%v)", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != want {
		t.Errorf("status = %d, want %d", resp.StatusCode, want)
	}
}

func readNotification(t *testing.T, conn *websocket.Conn) protocol.Notification {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var n protocol.Notification
	if err := json.Unmarshal(data, &n); err != nil {
		t.Fatalf("unmarshal notification: %v", err)
	}
	return n
}

func sendFrame(t *testing.T, conn *websocket.Conn, frame protocol.ClientFrame) {
	t.Helper()
	data, err := json.Marshal(frame)
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

func TestHandleWSConnectionAck(t *testing.T) {
	_, srv := setupGateway(t)
	conn := dialWS(t, srv, "/ws/u1?token=tok-u1", nil)

	ack := readNotification(t, conn)
	if ack.Type != protocol.TypeConnection {
		t.Fatalf("first message type = %q, want %q", ack.Type, protocol.TypeConnection)
	}
	if id, _ := ack.Data["connection_id"].(string); id == "" {
		t.Error("ack missing connection_id")
	}
}

func TestHandleWSRejectsMissingToken(t *testing.T) {
	_, srv := setupGateway(t)
	dialExpectStatus(t, srv, "/ws/u1", http.StatusUnauthorized)
}

func TestHandleWSRejectsInvalidToken(t *testing.T) {
	_, srv := setupGateway(t)
	dialExpectStatus(t, srv, "/ws/u1?token=nope", http.StatusUnauthorized)
}

func TestHandleWSRejectsIdentityMismatch(t *testing.T) {
	_, srv := setupGateway(t)
	dialExpectStatus(t, srv, "/ws/u2?token=tok-u1", http.StatusForbidden)
}

func TestHandleWSAdminMayAttachToAnyPath(t *testing.T) {
	_, srv := setupGateway(t)
	conn := dialWS(t, srv, "/ws/u1?token=tok-admin", nil)
	ack := readNotification(t, conn)
	if ack.Type != protocol.TypeConnection {
		t.Errorf("ack type = %q, want %q", ack.Type, protocol.TypeConnection)
	}
}

func TestHandleWSBearerHeaderFallback(t *testing.T) {
	_, srv := setupGateway(t)
	header := http.Header{"Authorization": []string{"Bearer tok-u1"}}
	conn := dialWS(t, srv, "/ws/u1", header)
	ack := readNotification(t, conn)
	if ack.Type != protocol.TypeConnection {
		t.Errorf("ack type = %q, want %q", ack.Type, protocol.TypeConnection)
	}
}

func TestHandleWSPingPong(t *testing.T) {
	_, srv := setupGateway(t)
	conn := dialWS(t, srv, "/ws/u1?token=tok-u1", nil)
	readNotification(t, conn) // ack

	sendFrame(t, conn, protocol.ClientFrame{Type: protocol.TypePing})

	pong := readNotification(t, conn)
	if pong.Type != protocol.TypePong {
		t.Fatalf("reply type = %q, want %q", pong.Type, protocol.TypePong)
	}
	if pong.Title != "Pong" || pong.Message != "Server response to ping" {
		t.Errorf("unexpected pong: title %q message %q", pong.Title, pong.Message)
	}
	if ts, _ := pong.Data["timestamp"].(string); ts == "" {
		t.Error("pong missing timestamp")
	}
}

func TestHandleWSSubscribeUnsubscribe(t *testing.T) {
	_, srv := setupGateway(t)
	conn := dialWS(t, srv, "/ws/u1?token=tok-u1", nil)
	readNotification(t, conn) // ack

	sendFrame(t, conn, protocol.ClientFrame{Type: protocol.TypeSubscribe, Channel: "appointments"})
	sub := readNotification(t, conn)
	if sub.Type != protocol.TypeSubscribed {
		t.Fatalf("reply type = %q, want %q", sub.Type, protocol.TypeSubscribed)
	}
	if sub.Message != "Subscribed to appointments" {
		t.Errorf("message = %q", sub.Message)
	}
	if got := sub.Data["channel"]; got != "appointments" {
		t.Errorf("data.channel = %v", got)
	}

	sendFrame(t, conn, protocol.ClientFrame{Type: protocol.TypeUnsubscribe, Channel: "appointments"})
	unsub := readNotification(t, conn)
	if unsub.Type != protocol.TypeUnsubscribed {
		t.Fatalf("reply type = %q, want %q", unsub.Type, protocol.TypeUnsubscribed)
	}
	if unsub.Message != "Unsubscribed from appointments" {
		t.Errorf("message = %q", unsub.Message)
	}
}

func TestHandleWSMalformedFrame(t *testing.T) {
	_, srv := setupGateway(t)
	conn := dialWS(t, srv, "/ws/u1?token=tok-u1", nil)
	readNotification(t, conn) // ack

	if err := conn.WriteMessage(websocket.TextMessage, []byte("not json")); err != nil {
		t.Fatal(err)
	}
	errFrame := readNotification(t, conn)
	if errFrame.Type != protocol.TypeError {
		t.Fatalf("reply type = %q, want %q", errFrame.Type, protocol.TypeError)
	}
	if errFrame.Message != "Invalid message format" {
		t.Errorf("message = %q", errFrame.Message)
	}
}

func TestHandleWSUnknownType(t *testing.T) {
	_, srv := setupGateway(t)
	conn := dialWS(t, srv, "/ws/u1?token=tok-u1", nil)
	readNotification(t, conn) // ack

	sendFrame(t, conn, protocol.ClientFrame{Type: "bogus"})
	errFrame := readNotification(t, conn)
	if errFrame.Type != protocol.TypeError {
		t.Fatalf("reply type = %q, want %q", errFrame.Type, protocol.TypeError)
	}
	if errFrame.Message != "Unknown message type: bogus" {
		t.Errorf("message = %q", errFrame.Message)
	}
}

func TestHandleWSChatRelay(t *testing.T) {
	_, srv := setupGateway(t)
	sender := dialWS(t, srv, "/ws/u1?token=tok-u1", nil)
	readNotification(t, sender) // ack
	receiver := dialWS(t, srv, "/ws/u2?token=tok-u2", nil)
	readNotification(t, receiver) // ack

	sendFrame(t, sender, protocol.ClientFrame{
		Type:       protocol.TypeChat,
		Content:    "hello over there",
		Recipients: []string{"u2"},
	})

	msg := readNotification(t, receiver)
	if msg.Type != protocol.TypeChat {
		t.Fatalf("type = %q, want %q", msg.Type, protocol.TypeChat)
	}
	if msg.Title != "New Message" {
		t.Errorf("title = %q", msg.Title)
	}
	if msg.Message != "hello over there" {
		t.Errorf("message = %q", msg.Message)
	}
	if got := msg.Data["sender_id"]; got != "u1" {
		t.Errorf("data.sender_id = %v, want u1", got)
	}
	if got := msg.Data["content"]; got != "hello over there" {
		t.Errorf("data.content = %v", got)
	}
}

func TestHandleWSChatBroadcastWithoutRecipients(t *testing.T) {
	_, srv := setupGateway(t)
	sender := dialWS(t, srv, "/ws/u1?token=tok-u1", nil)
	readNotification(t, sender) // ack
	receiver := dialWS(t, srv, "/ws/u2?token=tok-u2", nil)
	readNotification(t, receiver) // ack

	sendFrame(t, sender, protocol.ClientFrame{Type: protocol.TypeChat, Content: "to everyone"})

	msg := readNotification(t, receiver)
	if msg.Type != protocol.TypeChat || msg.Message != "to everyone" {
		t.Errorf("got type %q message %q", msg.Type, msg.Message)
	}
}

func TestHandleWSTypingRelay(t *testing.T) {
	_, srv := setupGateway(t)
	sender := dialWS(t, srv, "/ws/u1?token=tok-u1", nil)
	readNotification(t, sender) // ack
	receiver := dialWS(t, srv, "/ws/u2?token=tok-u2", nil)
	readNotification(t, receiver) // ack

	sendFrame(t, sender, protocol.ClientFrame{
		Type:       protocol.TypeTyping,
		Recipients: []string{"u2"},
	})

	msg := readNotification(t, receiver)
	if msg.Type != protocol.TypeTyping {
		t.Fatalf("type = %q, want %q", msg.Type, protocol.TypeTyping)
	}
	if got := msg.Data["user_id"]; got != "u1" {
		t.Errorf("data.user_id = %v, want u1", got)
	}
	if got := msg.Data["is_typing"]; got != true {
		t.Errorf("data.is_typing = %v, want true", got)
	}
}

func TestHandleWSRegistersAndUnregisters(t *testing.T) {
	reg, srv := setupGateway(t)
	conn := dialWS(t, srv, "/ws/u1?token=tok-u1", nil)
	readNotification(t, conn) // ack

	waitFor(t, func() bool { return reg.Online("u1") })

	_ = conn.Close()
	waitFor(t, func() bool { return !reg.Online("u1") })
}
