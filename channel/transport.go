package channel

import (
	"context"

	"github.com/confscout/go-client/notifications"
)

// Conn is one live push connection. Implementations deliver inbound
// notifications until the connection dies, then close Events and Done.
// A Conn never redials; reconnect policy belongs to the session
// lifecycle, not the transport.
type Conn interface {
	// Events yields pushed notifications. Closed when the connection
	// ends, whatever the reason.
	Events() <-chan notifications.Notification

	// Done is closed when the connection has fully terminated.
	Done() <-chan struct{}

	// Err reports why the connection ended, nil for a local Close.
	Err() error

	// Close tears the connection down. Idempotent.
	Close() error
}

// Transport dials push connections. The registration handshake (telling
// the server which identity the connection belongs to) happens inside
// Dial, so a returned Conn is already registered.
type Transport interface {
	Dial(ctx context.Context, credential, userID string) (Conn, error)
}
