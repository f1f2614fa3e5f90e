// Package cascade coordinates teardown when any component observes a
// forbidden (banned) signal: close the push channel, clear the
// notification set and cache, sign the session out, navigate to the
// sign-in surface. One signal per session: concurrent 403s from
// parallel requests collapse into a single teardown.
package cascade

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/confscout/go-client/channel"
	"github.com/confscout/go-client/notifications"
	"github.com/confscout/go-client/session"
)

const signInTarget = "/signin"

// Navigator moves the user to a surface. The application supplies it;
// tests record it.
type Navigator func(target string)

// Clearer is anything holding notification state that must be emptied on
// teardown (the offline cache, when enabled).
type Clearer interface {
	Clear() error
}

// Handler is the shared forbidden-signal sink.
type Handler struct {
	session  *session.Manager
	channel  *channel.Channel
	set      *notifications.Set
	cache    Clearer
	navigate Navigator

	lock  sync.Mutex
	armed bool
}

// New wires the handler to the components it resets. cache may be nil.
func New(mgr *session.Manager, ch *channel.Channel, set *notifications.Set, cache Clearer, navigate Navigator) *Handler {
	if navigate == nil {
		navigate = func(string) {}
	}
	return &Handler{
		session:  mgr,
		channel:  ch,
		set:      set,
		cache:    cache,
		navigate: navigate,
		armed:    true,
	}
}

// Trigger performs the teardown once per session. A second signal before
// the next successful sign-in is a no-op: no double navigation, no
// errors from already-cleared stores. silent suppresses navigation for
// callers that are already explaining the ban to the user.
func (h *Handler) Trigger(silent bool) {
	h.lock.Lock()
	if !h.armed {
		h.lock.Unlock()
		return
	}
	h.armed = false
	h.lock.Unlock()

	log.Warn().Msg("forbidden signal received, tearing session down")

	h.channel.Close()
	h.set.Clear()
	if h.cache != nil {
		if err := h.cache.Clear(); err != nil {
			log.Warn().Err(err).Msg("clearing notification cache")
		}
	}
	h.session.SignOut(context.Background())

	if !silent {
		h.navigate(signInTarget)
	}
}

// Run rearms the handler whenever a session signs in, until ctx ends.
func (h *Handler) Run(ctx context.Context, events <-chan session.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.LoggedIn {
				h.lock.Lock()
				h.armed = true
				h.lock.Unlock()
			}
		}
	}
}
