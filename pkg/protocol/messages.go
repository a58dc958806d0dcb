// Package protocol defines the wire protocol exchanged between the hub and
// browser/mobile clients over WebSocket.
//
// All messages are JSON-encoded. Server-to-client traffic uses Notification;
// client-to-server traffic uses ClientFrame, with a "type" field selecting the
// action on both sides.
package protocol

import "time"

// Notification is the server-to-client wire format for every real-time push:
// connection acks, presence changes, domain updates, and chat relay.
type Notification struct {
	Type      string         `json:"type"`
	Title     string         `json:"title"`
	Message   string         `json:"message"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id,omitempty"`
	Role      Role           `json:"role,omitempty"`
}

// NewNotification builds a Notification stamped with the current UTC time.
func NewNotification(typ, title, message string, data map[string]any) *Notification {
	return &Notification{
		Type:      typ,
		Title:     title,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	}
}

// ClientFrame is the client-to-server wire format. Field relevance depends on
// Type: subscribe/unsubscribe use Channel, typing uses Recipients, chat uses
// Content plus optional Recipients (empty means broadcast).
type ClientFrame struct {
	Type       string   `json:"type"`
	Channel    string   `json:"channel,omitempty"`
	Recipients []string `json:"recipients,omitempty"`
	Content    string   `json:"content,omitempty"`
}

// --- Message type constants ---

const (
	// Server → client
	TypeConnection   = "connection"
	TypeUserOnline   = "user_online"
	TypeUserOffline  = "user_offline"
	TypePong         = "pong"
	TypeSubscribed   = "subscribed"
	TypeUnsubscribed = "unsubscribed"
	TypeTyping       = "typing"
	TypeChat         = "chat"
	TypeSystem       = "system"
	TypeAppointment  = "appointment"
	TypePrescription = "prescription"
	TypeOrder        = "order"
	TypeInventory    = "inventory"
	TypeError        = "error"

	// Client → server
	TypePing        = "ping"
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
	// typing and chat are valid in both directions and share the tags above.
)
