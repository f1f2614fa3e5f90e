package storefakes

import (
	"sync"

	"github.com/confscout/go-client/identity"
	"github.com/confscout/go-client/identity/store"
)

var _ store.Store = (*FakeStore)(nil)

// FakeStore is an in-memory Store for tests. Error fields, when set, are
// returned by the corresponding operation.
type FakeStore struct {
	lock sync.Mutex

	snapshot store.Snapshot

	LoadErr  error
	SaveErr  error
	ClearErr error

	SaveCalls  int
	ClearCalls int
}

func NewFakeStore() *FakeStore {
	return &FakeStore{}
}

// Seed installs a snapshot directly, bypassing Save bookkeeping.
func (fs *FakeStore) Seed(snap store.Snapshot) {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	fs.snapshot = snap
}

func (fs *FakeStore) Load() (store.Snapshot, error) {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	if fs.LoadErr != nil {
		return store.Snapshot{}, fs.LoadErr
	}
	return fs.snapshot, nil
}

func (fs *FakeStore) Save(ident *identity.Identity, credential string) error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	fs.SaveCalls++
	if fs.SaveErr != nil {
		return fs.SaveErr
	}
	fs.snapshot = store.Snapshot{Identity: ident, LoggedIn: true, Credential: credential}
	return nil
}

func (fs *FakeStore) Clear() error {
	fs.lock.Lock()
	defer fs.lock.Unlock()

	fs.ClearCalls++
	if fs.ClearErr != nil {
		return fs.ClearErr
	}
	fs.snapshot = store.Snapshot{}
	return nil
}

// Snapshot returns the current stored snapshot.
func (fs *FakeStore) Snapshot() store.Snapshot {
	fs.lock.Lock()
	defer fs.lock.Unlock()
	return fs.snapshot
}
