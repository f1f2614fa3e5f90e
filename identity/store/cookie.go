package store

import (
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/confscout/go-client/identity"
	clienterrors "github.com/confscout/go-client/internal/errors"
)

const (
	cookieFileName = "cookies.json"

	cookieIdentity = "cs_identity"
	cookieLoggedIn = "cs_logged_in"
)

var _ Store = (*CookieStore)(nil)

// CookieStore mirrors the identity and the login flag into the cookie jar
// the platform's server-rendered pages read for their route decisions.
// The bearer credential is never written here.
type CookieStore struct {
	path string
}

// NewCookieStore places the cookie jar file under stateDir.
func NewCookieStore(stateDir string) *CookieStore {
	return &CookieStore{path: filepath.Join(stateDir, cookieFileName)}
}

func (cs *CookieStore) Load() (Snapshot, error) {
	jar, err := cs.readJar()
	if err != nil {
		return Snapshot{}, err
	}

	var snap Snapshot
	if encoded, ok := jar[cookieIdentity]; ok {
		raw, err := url.QueryUnescape(encoded)
		if err != nil {
			return Snapshot{}, clienterrors.Wrapf(clienterrors.ErrMalformedStore, "[CookieStore.Load] identity cookie encoding")
		}
		var ident identity.Identity
		if err := json.Unmarshal([]byte(raw), &ident); err != nil {
			return Snapshot{}, clienterrors.Wrapf(clienterrors.ErrMalformedStore, "[CookieStore.Load] identity cookie payload")
		}
		snap.Identity = &ident
	}
	snap.LoggedIn = jar[cookieLoggedIn] == flagTrue
	return snap, nil
}

func (cs *CookieStore) Save(ident *identity.Identity, _ string) error {
	payload, err := json.Marshal(ident)
	if err != nil {
		return errors.Wrap(err, "[CookieStore.Save] marshalling identity")
	}

	jar, err := cs.readJar()
	if err != nil {
		jar = map[string]string{}
	}
	jar[cookieIdentity] = url.QueryEscape(string(payload))
	jar[cookieLoggedIn] = flagTrue

	return cs.writeJar(jar)
}

func (cs *CookieStore) Clear() error {
	jar, err := cs.readJar()
	if err != nil {
		// A jar that cannot be read holds nothing worth keeping.
		jar = map[string]string{}
	}
	delete(jar, cookieIdentity)
	delete(jar, cookieLoggedIn)
	return cs.writeJar(jar)
}

func (cs *CookieStore) readJar() (map[string]string, error) {
	raw, err := os.ReadFile(cs.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, errors.Wrap(err, "[CookieStore.readJar] reading cookie jar")
	}

	jar := map[string]string{}
	if err := json.Unmarshal(raw, &jar); err != nil {
		return nil, clienterrors.Wrapf(clienterrors.ErrMalformedStore, "[CookieStore.readJar] cookie jar payload")
	}
	return jar, nil
}

func (cs *CookieStore) writeJar(jar map[string]string) error {
	payload, err := json.Marshal(jar)
	if err != nil {
		return errors.Wrap(err, "[CookieStore.writeJar] marshalling cookie jar")
	}
	if err := os.MkdirAll(filepath.Dir(cs.path), 0o700); err != nil {
		return errors.Wrap(err, "[CookieStore.writeJar] creating state dir")
	}
	if err := os.WriteFile(cs.path, payload, 0o600); err != nil {
		return errors.Wrap(err, "[CookieStore.writeJar] writing cookie jar")
	}
	return nil
}
