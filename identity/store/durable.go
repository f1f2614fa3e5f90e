package store

import (
	"encoding/json"
	"path/filepath"

	"github.com/99designs/keyring"
	"github.com/pkg/errors"

	"github.com/confscout/go-client/identity"
	clienterrors "github.com/confscout/go-client/internal/errors"
)

const (
	serviceName = "confscout"

	keyIdentity   = "identity"
	keyLoggedIn   = "logged_in"
	keyCredential = "credential"

	flagTrue = "true"
)

var _ Store = (*DurableStore)(nil)

// DurableStore holds the serialized identity, the login flag, and the
// bearer credential in the system keyring, with an encrypted file backend
// as the fallback on headless systems.
type DurableStore struct {
	ring keyring.Keyring
}

// NewDurableStore opens the keyring. stateDir hosts the file backend.
func NewDurableStore(stateDir string) (*DurableStore, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  filepath.Join(stateDir, "credentials"),
		FilePasswordFunc:         keyring.FixedStringPrompt(serviceName + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, errors.Wrap(err, "[NewDurableStore] opening keyring")
	}
	return &DurableStore{ring: ring}, nil
}

func (ds *DurableStore) Load() (Snapshot, error) {
	var snap Snapshot

	if raw, err := ds.ring.Get(keyIdentity); err == nil {
		var ident identity.Identity
		if jsonErr := json.Unmarshal(raw.Data, &ident); jsonErr != nil {
			return Snapshot{}, clienterrors.Wrapf(clienterrors.ErrMalformedStore, "[DurableStore.Load] identity payload")
		}
		if ident.ID == "" {
			return Snapshot{}, clienterrors.Wrapf(clienterrors.ErrMalformedStore, "[DurableStore.Load] identity without id")
		}
		snap.Identity = &ident
	}

	if raw, err := ds.ring.Get(keyLoggedIn); err == nil {
		snap.LoggedIn = string(raw.Data) == flagTrue
	}

	if raw, err := ds.ring.Get(keyCredential); err == nil {
		snap.Credential = string(raw.Data)
	}

	return snap, nil
}

func (ds *DurableStore) Save(ident *identity.Identity, credential string) error {
	payload, err := json.Marshal(ident)
	if err != nil {
		return errors.Wrap(err, "[DurableStore.Save] marshalling identity")
	}

	if err := ds.ring.Set(keyring.Item{Key: keyIdentity, Data: payload}); err != nil {
		return errors.Wrap(err, "[DurableStore.Save] writing identity")
	}
	if err := ds.ring.Set(keyring.Item{Key: keyLoggedIn, Data: []byte(flagTrue)}); err != nil {
		return errors.Wrap(err, "[DurableStore.Save] writing login flag")
	}
	if err := ds.ring.Set(keyring.Item{Key: keyCredential, Data: []byte(credential)}); err != nil {
		return errors.Wrap(err, "[DurableStore.Save] writing credential")
	}
	return nil
}

func (ds *DurableStore) Clear() error {
	for _, key := range []string{keyIdentity, keyLoggedIn, keyCredential} {
		if err := ds.ring.Remove(key); err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
			return errors.Wrapf(err, "[DurableStore.Clear] removing %q", key)
		}
	}
	return nil
}
