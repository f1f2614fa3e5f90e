package store

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/confscout/go-client/identity"
	clienterrors "github.com/confscout/go-client/internal/errors"
)

var _ Store = (*Adapter)(nil)

// Adapter gives the session manager one uniform read/write/clear over the
// two physical stores. The durable store is authoritative; the cookie
// store is a mirror for server-rendered route decisions. Its one contract:
// never return an inconsistent half-identity.
type Adapter struct {
	durable Store
	cookie  Store
}

// NewAdapter composes the two physical stores.
func NewAdapter(durable, cookie Store) *Adapter {
	return &Adapter{durable: durable, cookie: cookie}
}

// Load reads the durable store. Malformed or half-present contents are
// cleared and reported as empty; corrupt local state self-heals, it
// never propagates upward.
func (a *Adapter) Load() (Snapshot, error) {
	snap, err := a.durable.Load()
	if err != nil {
		if errors.Is(err, clienterrors.ErrMalformedStore) {
			log.Debug().Err(err).Msg("clearing malformed identity store")
			a.clearQuietly()
			return Snapshot{}, nil
		}
		return Snapshot{}, errors.Wrap(err, "[Adapter.Load] durable store")
	}

	if !snap.Consistent() {
		log.Debug().Msg("clearing inconsistent identity store")
		a.clearQuietly()
		return Snapshot{}, nil
	}
	return snap, nil
}

// Save writes both stores. The durable store is authoritative: a cookie
// mirror failure is logged and swallowed, not rolled back.
func (a *Adapter) Save(ident *identity.Identity, credential string) error {
	if err := a.durable.Save(ident, credential); err != nil {
		return errors.Wrap(err, "[Adapter.Save] durable store")
	}
	if err := a.cookie.Save(ident, ""); err != nil {
		log.Warn().Err(err).Msg("cookie mirror write failed")
	}
	return nil
}

// Clear empties both stores. Idempotent; a cookie failure does not stop
// the durable clear from counting.
func (a *Adapter) Clear() error {
	if err := a.cookie.Clear(); err != nil {
		log.Warn().Err(err).Msg("cookie mirror clear failed")
	}
	if err := a.durable.Clear(); err != nil {
		return errors.Wrap(err, "[Adapter.Clear] durable store")
	}
	return nil
}

func (a *Adapter) clearQuietly() {
	if err := a.durable.Clear(); err != nil {
		log.Warn().Err(err).Msg("durable store clear failed")
	}
	if err := a.cookie.Clear(); err != nil {
		log.Warn().Err(err).Msg("cookie mirror clear failed")
	}
}
