// Package session owns the in-memory Session value and its state machine:
// Initializing resolves to LoggedIn or LoggedOut exactly once at startup,
// sign-in and sign-out move between the two, and every change is written
// back to the identity stores so they never drift from the authoritative
// in-memory value.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/confscout/go-client/identity"
	"github.com/confscout/go-client/identity/credtoken"
	"github.com/confscout/go-client/identity/store"
	clienterrors "github.com/confscout/go-client/internal/errors"
)

// API is the slice of the platform REST surface the manager consumes.
type API interface {
	Login(ctx context.Context, email, password string) (*identity.Identity, string, error)
	Me(ctx context.Context) (*identity.Identity, error)
	Logout(ctx context.Context) error
}

// Event announces a session lifecycle transition to subscribers.
type Event struct {
	LoggedIn bool
	Session  identity.Session
}

const defaultReturnURL = "/"

// Manager is the session state manager. All Session mutation funnels
// through it; every other component reads copies.
type Manager struct {
	lock sync.RWMutex

	session    identity.Session
	generation uint64
	returnURL  string

	// persistLock serializes store write-backs. persisted and hasPersist
	// are only touched under it.
	persistLock sync.Mutex
	persisted   identity.Session
	hasPersist  bool

	subscribers []chan Event

	store         store.Store
	api           API
	verifyTimeout time.Duration
	nowTime       func() time.Time
}

// Option modifies a Manager at construction.
type Option func(*Manager)

// WithNowTime sets the now time function (primarily for testing)
func WithNowTime(nowFunc func() time.Time) Option {
	return func(m *Manager) {
		m.nowTime = nowFunc
	}
}

// WithVerifyTimeout bounds the startup verification call.
func WithVerifyTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.verifyTimeout = d
	}
}

// NewManager creates a Manager over the given identity store adapter and
// API client. The session starts in the Initializing state.
func NewManager(identityStore store.Store, api API, options ...Option) (*Manager, error) {
	if identityStore == nil {
		return nil, errors.New("[NewManager] identity store is required")
	}
	if api == nil {
		return nil, errors.New("[NewManager] api client is required")
	}

	m := &Manager{
		session:       identity.Session{Initializing: true},
		store:         identityStore,
		api:           api,
		verifyTimeout: 10 * time.Second,
		nowTime:       time.Now,
	}
	for _, opt := range options {
		opt(m)
	}
	return m, nil
}

// Current returns a copy of the session value.
func (m *Manager) Current() identity.Session {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.session
}

// Generation counts session transitions. Responses issued under an older
// generation are stale and must be discarded, not applied.
func (m *Manager) Generation() uint64 {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.generation
}

// Credential yields the current bearer credential, or "" when logged
// out. Matches api.CredentialSource.
func (m *Manager) Credential() string {
	m.lock.RLock()
	defer m.lock.RUnlock()
	return m.session.Credential
}

// Subscribe registers for lifecycle events. The returned cancel func
// must be called when the subscriber goes away.
func (m *Manager) Subscribe() (<-chan Event, func()) {
	m.lock.Lock()
	defer m.lock.Unlock()

	ch := make(chan Event, 8)
	m.subscribers = append(m.subscribers, ch)

	cancel := func() {
		m.lock.Lock()
		defer m.lock.Unlock()
		for i, sub := range m.subscribers {
			if sub == ch {
				m.subscribers = append(m.subscribers[:i], m.subscribers[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, cancel
}

// Initialize runs the startup reconciliation once, before any other
// component activates. Whatever happens (verification success, 401,
// transport failure, timeout) the session leaves Initializing exactly
// once. Only transport-level failures return an error, and even then the
// resolved state is LoggedOut (fail closed).
func (m *Manager) Initialize(ctx context.Context) error {
	snap, err := m.store.Load()
	if err != nil {
		log.Warn().Err(err).Msg("identity store unreadable, starting logged out")
		m.resolve(nil, "")
		return nil
	}

	if snap.Empty() || snap.Credential == "" {
		m.resolve(nil, "")
		return nil
	}

	// A credential that is unambiguously long expired takes the 401 path
	// without a network round-trip.
	if credtoken.Expired(snap.Credential, m.nowTime()) {
		m.clearStores()
		m.resolve(nil, "")
		return nil
	}

	generation := m.Generation()

	verifyCtx, cancel := context.WithTimeout(ctx, m.verifyTimeout)
	defer cancel()

	m.lock.Lock()
	m.session.Credential = snap.Credential
	m.lock.Unlock()

	ident, err := m.api.Me(verifyCtx)
	if err != nil {
		m.lock.Lock()
		m.session.Credential = ""
		m.lock.Unlock()

		switch {
		case clienterrors.Is(err, clienterrors.ErrUnauthorized):
			// Expected path for expired sessions, not a failure.
			m.clearStores()
			m.resolve(nil, "")
			return nil
		case clienterrors.Is(err, clienterrors.ErrForbidden):
			m.clearStores()
			m.resolve(nil, "")
			return errors.Wrap(err, "[Manager.Initialize] account forbidden")
		default:
			// Transport or server failure: surface it, but still fail
			// closed rather than hang Initializing.
			m.resolve(nil, "")
			return errors.Wrap(err, "[Manager.Initialize] verification")
		}
	}

	if m.Generation() != generation {
		// A sign-out raced the verification call; its response no longer
		// belongs to this session.
		m.resolve(nil, "")
		return nil
	}

	if ident.Blocked {
		m.clearStores()
		m.resolve(nil, "")
		return clienterrors.Wrapf(clienterrors.ErrForbidden, "[Manager.Initialize] account blocked")
	}

	// The server's identity is authoritative; rewrite the stores with it
	// so stale local data self-heals.
	m.resolve(ident, snap.Credential)
	return nil
}

// SignIn exchanges credentials for a session. On success it returns the
// return URL captured before any external redirect (or "/"), ready for
// the caller to navigate to. On failure local state is unchanged.
func (m *Manager) SignIn(ctx context.Context, email, password string) (string, error) {
	ident, credential, err := m.api.Login(ctx, email, password)
	if err != nil {
		return "", errors.Wrap(err, "[Manager.SignIn]")
	}
	return m.adopt(ident, credential)
}

// AdoptExternal installs an identity and credential obtained outside the
// password flow (the provider redirect flow). Same semantics as a
// successful SignIn.
func (m *Manager) AdoptExternal(ident *identity.Identity, credential string) (string, error) {
	if ident == nil || ident.ID == "" || credential == "" {
		return "", clienterrors.Wrapf(clienterrors.ErrValidation, "[Manager.AdoptExternal] incomplete identity")
	}
	return m.adopt(ident, credential)
}

// Verify re-checks the current credential against the server. A 401
// resolves to logged out; a 403 is reported for the caller to route to
// the cascade; a transport failure changes nothing. A successful verify
// adopts the returned identity, and the value-equality write-back keeps
// an unchanged identity from rewriting the stores.
func (m *Manager) Verify(ctx context.Context) error {
	current := m.Current()
	if !current.LoggedIn {
		return clienterrors.ErrNotLoggedIn
	}

	generation := m.Generation()

	ident, err := m.api.Me(ctx)
	if err != nil {
		switch {
		case clienterrors.Is(err, clienterrors.ErrUnauthorized):
			m.clearStores()
			m.transition(nil, "")
			return nil
		case clienterrors.Is(err, clienterrors.ErrForbidden):
			return errors.Wrap(err, "[Manager.Verify] account forbidden")
		default:
			return errors.Wrap(err, "[Manager.Verify]")
		}
	}

	if m.Generation() != generation {
		return clienterrors.Wrapf(clienterrors.ErrStaleResponse, "[Manager.Verify]")
	}

	if ident.Blocked {
		return clienterrors.Wrapf(clienterrors.ErrForbidden, "[Manager.Verify] account blocked")
	}

	m.transition(ident, current.Credential)
	return nil
}

// SignOut clears the session. Idempotent, and tolerant of a failing
// server-side invalidation: local state always resolves to logged out.
func (m *Manager) SignOut(ctx context.Context) {
	if m.Current().LoggedIn {
		if err := m.api.Logout(ctx); err != nil {
			log.Debug().Err(err).Msg("server-side logout failed, proceeding locally")
		}
	}
	// A sign-out invalidates whatever is in flight, even when the session
	// never made it past Initializing.
	m.lock.Lock()
	m.generation++
	m.lock.Unlock()

	m.clearStores()
	m.transition(nil, "")
}

// SetReturnURL records where a successful sign-in should navigate back
// to, captured before handing the user to an external redirect flow.
func (m *Manager) SetReturnURL(u string) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.returnURL = u
}

func (m *Manager) adopt(ident *identity.Identity, credential string) (string, error) {
	m.transition(ident, credential)

	m.lock.Lock()
	target := m.returnURL
	m.returnURL = ""
	m.lock.Unlock()

	if target == "" {
		target = defaultReturnURL
	}
	return target, nil
}

// resolve finishes initialization: installs the outcome and drops the
// Initializing flag exactly once.
func (m *Manager) resolve(ident *identity.Identity, credential string) {
	m.transition(ident, credential)
}

// transition is the single place the Session value changes. It keeps the
// identity/loggedIn invariant, bumps the generation, writes the new
// value back to the stores, and fans the event out.
func (m *Manager) transition(ident *identity.Identity, credential string) {
	m.lock.Lock()

	next := identity.Session{
		Identity:     ident,
		LoggedIn:     ident != nil,
		Initializing: false,
		Credential:   credential,
	}

	unchanged := m.session.Equal(next)
	// Generation counts session turnover, not every write: a re-verified
	// identity is the same session, a sign-out or user change is not.
	if m.session.LoggedIn != next.LoggedIn || m.session.UserID() != next.UserID() {
		m.generation++
	}
	m.session = next

	var fanout []chan Event
	if !unchanged {
		fanout = append(fanout, m.subscribers...)
	}
	event := Event{LoggedIn: next.LoggedIn, Session: next}
	m.lock.Unlock()

	m.writeBack()

	for _, sub := range fanout {
		select {
		case sub <- event:
		default:
			log.Warn().Msg("dropping session event for slow subscriber")
		}
	}
}

// writeBack synchronizes the stores with the session value as it is now.
// Write-backs from concurrent transitions queue on persistLock, and each
// one re-reads the current session under that lock, so a delayed
// write-back can never overwrite a newer transition's persisted state
// with an older session. Value equality with the last persisted session
// short-circuits the write, so a snapshot loaded from storage that is
// structurally identical to the current state cannot loop.
func (m *Manager) writeBack() {
	m.persistLock.Lock()
	defer m.persistLock.Unlock()

	m.lock.RLock()
	s := m.session
	m.lock.RUnlock()

	if m.hasPersist && m.persisted.Equal(s) {
		return
	}
	m.persisted = s
	m.hasPersist = true

	if s.LoggedIn {
		if err := m.store.Save(s.Identity, s.Credential); err != nil {
			log.Warn().Err(err).Msg("identity store write-back failed")
		}
		return
	}
	if err := m.store.Clear(); err != nil {
		log.Warn().Err(err).Msg("identity store clear failed")
	}
}

func (m *Manager) clearStores() {
	if err := m.store.Clear(); err != nil {
		log.Warn().Err(err).Msg("identity store clear failed")
	}
}
