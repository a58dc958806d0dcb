package realtime

import "errors"

// ErrChannelClosed is returned by Send on a channel that has been closed.
var ErrChannelClosed = errors.New("channel closed")

// ErrUnknownChannel is returned when a send targets a channel id the registry
// does not track.
var ErrUnknownChannel = errors.New("unknown channel")

// Channel is one client connection able to receive pushed messages.
// Implementations must be safe for concurrent use, and Send must not block
// indefinitely on a stalled peer.
type Channel interface {
	Send(data []byte) error
	Close() error
}
