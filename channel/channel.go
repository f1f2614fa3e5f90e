// Package channel binds push-connection lifecycle to session lifecycle:
// exactly one connection while a session is logged in, none otherwise.
// The channel performs no deduplication or ordering; it forwards raw
// pushes onto one inbound queue for the reconciler to drain.
package channel

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	clienterrors "github.com/confscout/go-client/internal/errors"
	"github.com/confscout/go-client/notifications"
	"github.com/confscout/go-client/session"
)

// Channel owns the single push connection for the current session.
type Channel struct {
	transport Transport
	inbound   chan notifications.Notification

	// OnForbidden routes a 403 on dial to the shared forbidden signal.
	// Wired by the application, may be nil.
	OnForbidden func()

	lock            sync.Mutex
	conn            Conn
	connectedUserID string
	pumpStop        chan struct{}
	pumpDone        chan struct{}
}

// New creates a Channel over the given transport.
func New(transport Transport) *Channel {
	return &Channel{
		transport: transport,
		inbound:   make(chan notifications.Notification, 64),
	}
}

// Events is the inbound notification queue. It stays open across
// reconnects; consumers drain it for the lifetime of the application.
func (c *Channel) Events() <-chan notifications.Notification {
	return c.inbound
}

// ConnectedUserID reports which identity the open connection belongs to,
// or "" when closed.
func (c *Channel) ConnectedUserID() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.connectedUserID
}

// Open dials a connection registered to userID. An existing connection
// is stale (at most one may exist per session) and is closed first.
func (c *Channel) Open(ctx context.Context, credential, userID string) error {
	c.closeCurrent()

	conn, err := c.transport.Dial(ctx, credential, userID)
	if err != nil {
		return errors.Wrap(err, "[Channel.Open]")
	}

	c.lock.Lock()
	c.conn = conn
	c.connectedUserID = userID
	pumpStop := make(chan struct{})
	pumpDone := make(chan struct{})
	c.pumpStop = pumpStop
	c.pumpDone = pumpDone
	c.lock.Unlock()

	go c.pump(conn, pumpStop, pumpDone)
	log.Debug().Str("user_id", userID).Msg("notification channel open")
	return nil
}

// Close tears down the current connection, if any. Idempotent.
func (c *Channel) Close() {
	c.closeCurrent()
}

// Run drives the channel from session lifecycle events until ctx ends:
// open on login, close on logout, redial when the session's identity no
// longer matches the connection's. No retry on transport error; the
// next session transition decides whether to reopen.
func (c *Channel) Run(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case ev, ok := <-events:
			if !ok {
				c.Close()
				return
			}
			if !ev.LoggedIn {
				c.Close()
				continue
			}
			userID := ev.Session.UserID()
			if c.ConnectedUserID() == userID {
				continue
			}
			if err := c.Open(ctx, ev.Session.Credential, userID); err != nil {
				if clienterrors.Is(err, clienterrors.ErrForbidden) {
					log.Warn().Msg("notification channel refused: account forbidden")
					if c.OnForbidden != nil {
						c.OnForbidden()
					}
				} else {
					log.Warn().Err(err).Msg("notification channel dial failed")
				}
			}
		}
	}
}

// pump forwards one connection's events onto the shared inbound queue
// until the connection ends, then surfaces the closed state. A send that
// is still blocked at teardown is abandoned via stop; the inbound queue
// carries no delivery guarantee past the connection's lifetime.
func (c *Channel) pump(conn Conn, stop, done chan struct{}) {
	defer close(done)
	for n := range conn.Events() {
		select {
		case c.inbound <- n:
		case <-stop:
			return
		}
	}

	if err := conn.Err(); err != nil {
		log.Warn().Err(err).Msg("notification channel closed by transport")
	}

	c.lock.Lock()
	if c.conn == conn {
		c.conn = nil
		c.connectedUserID = ""
	}
	c.lock.Unlock()
}

func (c *Channel) closeCurrent() {
	c.lock.Lock()
	conn := c.conn
	pumpStop := c.pumpStop
	pumpDone := c.pumpDone
	c.conn = nil
	c.connectedUserID = ""
	c.pumpStop = nil
	c.pumpDone = nil
	c.lock.Unlock()

	if conn == nil {
		return
	}
	if pumpStop != nil {
		close(pumpStop)
	}
	if err := conn.Close(); err != nil {
		log.Debug().Err(err).Msg("closing notification connection")
	}
	if pumpDone != nil {
		<-pumpDone
	}
}
