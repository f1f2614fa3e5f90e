package session_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/confscout/go-client/identity"
	"github.com/confscout/go-client/identity/store"
	"github.com/confscout/go-client/identity/store/storefakes"
	clienterrors "github.com/confscout/go-client/internal/errors"
	"github.com/confscout/go-client/session"
)

const (
	testUserID    = "user-1"
	testUserEmail = "ada@example.org"
	testPassword  = "correct-horse"
)

var nowTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// fakeAPI scripts the auth endpoints the manager consumes.
type fakeAPI struct {
	lock sync.Mutex

	loginIdent *identity.Identity
	loginCred  string
	loginErr   error

	meIdent *identity.Identity
	meErr   error
	meCalls int

	logoutErr   error
	logoutCalls int
}

func (f *fakeAPI) Login(_ context.Context, email, password string) (*identity.Identity, string, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	if f.loginErr != nil {
		return nil, "", f.loginErr
	}
	return f.loginIdent, f.loginCred, nil
}

func (f *fakeAPI) Me(_ context.Context) (*identity.Identity, error) {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.meCalls++
	if f.meErr != nil {
		return nil, f.meErr
	}
	return f.meIdent, nil
}

func (f *fakeAPI) Logout(_ context.Context) error {
	f.lock.Lock()
	defer f.lock.Unlock()
	f.logoutCalls++
	return f.logoutErr
}

func testIdentity() *identity.Identity {
	return &identity.Identity{
		ID:        testUserID,
		Email:     testUserEmail,
		FirstName: "Ada",
		LastName:  "Lovelace",
		Role:      identity.RoleMember,
	}
}

// signCredential issues a bearer token with the given expiry, matching
// what the platform hands out.
func signCredential(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   testUserID,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return signed
}

type managerFixture struct {
	store   *storefakes.FakeStore
	api     *fakeAPI
	manager *session.Manager
}

func setupManager(t *testing.T, api *fakeAPI) *managerFixture {
	t.Helper()

	fs := storefakes.NewFakeStore()
	mgr, err := session.NewManager(fs, api,
		session.WithNowTime(func() time.Time { return nowTime }),
		session.WithVerifyTimeout(time.Second))
	require.NoError(t, err)

	return &managerFixture{store: fs, api: api, manager: mgr}
}

func TestManagerStartsInitializing(t *testing.T) {
	f := setupManager(t, &fakeAPI{})

	s := f.manager.Current()
	require.True(t, s.Initializing)
	require.False(t, s.LoggedIn)
	require.True(t, s.Consistent())
}

func TestInitializeWithValidCredentialAdoptsServerIdentity(t *testing.T) {
	// The server returns a fresher identity than the one on disk; the
	// server wins and the stores are rewritten with it.
	serverIdent := testIdentity()
	serverIdent.LastName = "King"
	f := setupManager(t, &fakeAPI{meIdent: serverIdent})

	stale := testIdentity()
	cred := signCredential(t, nowTime.Add(time.Hour))
	f.store.Seed(store.Snapshot{Identity: stale, LoggedIn: true, Credential: cred})

	require.NoError(t, f.manager.Initialize(context.Background()))

	s := f.manager.Current()
	require.False(t, s.Initializing)
	require.True(t, s.LoggedIn)
	require.True(t, s.Consistent())
	require.Equal(t, "King", s.Identity.LastName)
	require.Equal(t, cred, s.Credential)

	persisted := f.store.Snapshot()
	require.Equal(t, "King", persisted.Identity.LastName)
	require.Equal(t, cred, persisted.Credential)
}

func TestInitializeWith401ResolvesLoggedOutAndClearsStores(t *testing.T) {
	f := setupManager(t, &fakeAPI{meErr: clienterrors.ErrUnauthorized})
	f.store.Seed(store.Snapshot{
		Identity:   testIdentity(),
		LoggedIn:   true,
		Credential: signCredential(t, nowTime.Add(time.Hour)),
	})

	// An expired session is the expected path, not an error.
	require.NoError(t, f.manager.Initialize(context.Background()))

	s := f.manager.Current()
	require.False(t, s.Initializing)
	require.False(t, s.LoggedIn)
	require.True(t, s.Consistent())
	require.True(t, f.store.Snapshot().Empty())
	require.GreaterOrEqual(t, f.store.ClearCalls, 1)
}

func TestInitializeWithTransportErrorFailsClosed(t *testing.T) {
	f := setupManager(t, &fakeAPI{meErr: clienterrors.ErrTransient})
	f.store.Seed(store.Snapshot{
		Identity:   testIdentity(),
		LoggedIn:   true,
		Credential: signCredential(t, nowTime.Add(time.Hour)),
	})

	err := f.manager.Initialize(context.Background())
	require.Error(t, err)
	require.True(t, clienterrors.Is(err, clienterrors.ErrTransient))

	s := f.manager.Current()
	require.False(t, s.Initializing, "Initializing must resolve even on failure")
	require.False(t, s.LoggedIn)
}

func TestInitializeWithForbiddenSurfacesForTheCascade(t *testing.T) {
	f := setupManager(t, &fakeAPI{meErr: clienterrors.ErrForbidden})
	f.store.Seed(store.Snapshot{
		Identity:   testIdentity(),
		LoggedIn:   true,
		Credential: signCredential(t, nowTime.Add(time.Hour)),
	})

	err := f.manager.Initialize(context.Background())
	require.True(t, clienterrors.Is(err, clienterrors.ErrForbidden))
	require.False(t, f.manager.Current().LoggedIn)
	require.True(t, f.store.Snapshot().Empty())
}

func TestInitializeWithBlockedIdentityTakesForbiddenPath(t *testing.T) {
	blocked := testIdentity()
	blocked.Blocked = true
	f := setupManager(t, &fakeAPI{meIdent: blocked})
	f.store.Seed(store.Snapshot{
		Identity:   testIdentity(),
		LoggedIn:   true,
		Credential: signCredential(t, nowTime.Add(time.Hour)),
	})

	err := f.manager.Initialize(context.Background())
	require.True(t, clienterrors.Is(err, clienterrors.ErrForbidden))
	require.False(t, f.manager.Current().LoggedIn)
	require.True(t, f.store.Snapshot().Empty())
}

func TestInitializeWithoutCredentialSkipsNetwork(t *testing.T) {
	f := setupManager(t, &fakeAPI{})

	require.NoError(t, f.manager.Initialize(context.Background()))

	require.False(t, f.manager.Current().LoggedIn)
	require.Zero(t, f.api.meCalls)
}

func TestInitializeWithLongExpiredCredentialSkipsNetwork(t *testing.T) {
	f := setupManager(t, &fakeAPI{meIdent: testIdentity()})
	f.store.Seed(store.Snapshot{
		Identity:   testIdentity(),
		LoggedIn:   true,
		Credential: signCredential(t, nowTime.Add(-24*time.Hour)),
	})

	require.NoError(t, f.manager.Initialize(context.Background()))

	require.False(t, f.manager.Current().LoggedIn)
	require.Zero(t, f.api.meCalls, "an unambiguously expired credential takes the 401 path locally")
	require.True(t, f.store.Snapshot().Empty())
}

func TestSignInSuccessPersistsAndResolvesReturnURL(t *testing.T) {
	f := setupManager(t, &fakeAPI{loginIdent: testIdentity(), loginCred: "cred-1"})
	require.NoError(t, f.manager.Initialize(context.Background()))

	f.manager.SetReturnURL("/conferences/icse-2026")
	target, err := f.manager.SignIn(context.Background(), testUserEmail, testPassword)
	require.NoError(t, err)
	require.Equal(t, "/conferences/icse-2026", target)

	s := f.manager.Current()
	require.True(t, s.LoggedIn)
	require.Equal(t, testUserID, s.UserID())

	persisted := f.store.Snapshot()
	require.Equal(t, testUserID, persisted.Identity.ID)
	require.Equal(t, "cred-1", persisted.Credential)

	// The captured URL is consumed; the next sign-in gets the default.
	f.manager.SignOut(context.Background())
	target, err = f.manager.SignIn(context.Background(), testUserEmail, testPassword)
	require.NoError(t, err)
	require.Equal(t, "/", target)
}

func TestSignInFailureLeavesStateUnchanged(t *testing.T) {
	f := setupManager(t, &fakeAPI{loginErr: clienterrors.Wrapf(clienterrors.ErrValidation, "bad credentials")})
	require.NoError(t, f.manager.Initialize(context.Background()))
	saves := f.store.SaveCalls

	_, err := f.manager.SignIn(context.Background(), testUserEmail, "wrong")
	require.True(t, clienterrors.Is(err, clienterrors.ErrValidation))

	require.False(t, f.manager.Current().LoggedIn)
	require.Equal(t, saves, f.store.SaveCalls)
}

func TestSignOutIsIdempotentAndTolerant(t *testing.T) {
	f := setupManager(t, &fakeAPI{
		loginIdent: testIdentity(),
		loginCred:  "cred-1",
		logoutErr:  clienterrors.ErrTransient,
	})
	require.NoError(t, f.manager.Initialize(context.Background()))
	_, err := f.manager.SignIn(context.Background(), testUserEmail, testPassword)
	require.NoError(t, err)

	// Server-side invalidation fails; local state resolves anyway.
	f.manager.SignOut(context.Background())
	require.False(t, f.manager.Current().LoggedIn)
	require.True(t, f.store.Snapshot().Empty())

	// And again, on an already-cleared session.
	f.manager.SignOut(context.Background())
	require.False(t, f.manager.Current().LoggedIn)
	require.Equal(t, 1, f.api.logoutCalls, "no server call for an already logged-out session")
}

// gateStore stalls the next armed Save until released, simulating slow
// store I/O under a concurrent transition.
type gateStore struct {
	*storefakes.FakeStore

	lock    sync.Mutex
	gate    chan struct{}
	entered chan struct{}
}

func (g *gateStore) arm() (gate, entered chan struct{}) {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.gate = make(chan struct{})
	g.entered = make(chan struct{})
	return g.gate, g.entered
}

func (g *gateStore) Save(ident *identity.Identity, credential string) error {
	g.lock.Lock()
	gate := g.gate
	entered := g.entered
	g.gate = nil
	g.entered = nil
	g.lock.Unlock()

	if entered != nil {
		close(entered)
	}
	if gate != nil {
		<-gate
	}
	return g.FakeStore.Save(ident, credential)
}

func TestSignOutDuringSlowWriteBackLeavesStoresCleared(t *testing.T) {
	// A verify's store write is still in flight when a sign-out lands on
	// another goroutine. The stores must end up matching the logged-out
	// session, never the stale verified identity.
	gs := &gateStore{FakeStore: storefakes.NewFakeStore()}
	api := &fakeAPI{loginIdent: testIdentity(), loginCred: "cred-1"}
	mgr, err := session.NewManager(gs, api,
		session.WithNowTime(func() time.Time { return nowTime }))
	require.NoError(t, err)

	require.NoError(t, mgr.Initialize(context.Background()))
	_, err = mgr.SignIn(context.Background(), testUserEmail, testPassword)
	require.NoError(t, err)

	refreshed := testIdentity()
	refreshed.LastName = "King"
	api.lock.Lock()
	api.meIdent = refreshed
	api.lock.Unlock()

	gate, entered := gs.arm()

	verifyDone := make(chan error, 1)
	go func() { verifyDone <- mgr.Verify(context.Background()) }()
	<-entered

	signOutDone := make(chan struct{})
	go func() {
		mgr.SignOut(context.Background())
		close(signOutDone)
	}()

	close(gate)
	require.NoError(t, <-verifyDone)
	<-signOutDone

	require.False(t, mgr.Current().LoggedIn)
	require.True(t, gs.Snapshot().Empty(), "stores must match the in-memory session")
}

func TestVerifyUnchangedIdentitySkipsWriteBack(t *testing.T) {
	ident := testIdentity()
	f := setupManager(t, &fakeAPI{loginIdent: ident, loginCred: "cred-1", meIdent: ident})
	require.NoError(t, f.manager.Initialize(context.Background()))
	_, err := f.manager.SignIn(context.Background(), testUserEmail, testPassword)
	require.NoError(t, err)

	saves := f.store.SaveCalls
	generation := f.manager.Generation()

	require.NoError(t, f.manager.Verify(context.Background()))

	// Structurally identical state: no store rewrite, no turnover.
	require.Equal(t, saves, f.store.SaveCalls)
	require.Equal(t, generation, f.manager.Generation())
}

func TestVerify401ResolvesLoggedOut(t *testing.T) {
	api := &fakeAPI{loginIdent: testIdentity(), loginCred: "cred-1"}
	f := setupManager(t, api)
	require.NoError(t, f.manager.Initialize(context.Background()))
	_, err := f.manager.SignIn(context.Background(), testUserEmail, testPassword)
	require.NoError(t, err)

	api.lock.Lock()
	api.meErr = clienterrors.ErrUnauthorized
	api.lock.Unlock()

	require.NoError(t, f.manager.Verify(context.Background()))
	require.False(t, f.manager.Current().LoggedIn)
	require.True(t, f.store.Snapshot().Empty())
}

func TestSubscribeReceivesLifecycleEvents(t *testing.T) {
	f := setupManager(t, &fakeAPI{loginIdent: testIdentity(), loginCred: "cred-1"})

	events, cancel := f.manager.Subscribe()
	defer cancel()

	require.NoError(t, f.manager.Initialize(context.Background()))
	ev := <-events
	require.False(t, ev.LoggedIn)

	_, err := f.manager.SignIn(context.Background(), testUserEmail, testPassword)
	require.NoError(t, err)
	ev = <-events
	require.True(t, ev.LoggedIn)
	require.Equal(t, testUserID, ev.Session.UserID())

	f.manager.SignOut(context.Background())
	ev = <-events
	require.False(t, ev.LoggedIn)
}

func TestSessionInvariantHoldsAcrossAllTransitions(t *testing.T) {
	f := setupManager(t, &fakeAPI{loginIdent: testIdentity(), loginCred: "cred-1", meIdent: testIdentity()})

	require.True(t, f.manager.Current().Consistent())
	require.NoError(t, f.manager.Initialize(context.Background()))
	require.True(t, f.manager.Current().Consistent())

	_, err := f.manager.SignIn(context.Background(), testUserEmail, testPassword)
	require.NoError(t, err)
	require.True(t, f.manager.Current().Consistent())

	require.NoError(t, f.manager.Verify(context.Background()))
	require.True(t, f.manager.Current().Consistent())

	f.manager.SignOut(context.Background())
	require.True(t, f.manager.Current().Consistent())
}
