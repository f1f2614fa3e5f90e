package store

import "github.com/confscout/go-client/identity"

// Snapshot is what a physical store yields on load. A snapshot is either
// complete (identity, flag and credential agree) or empty; the adapter
// never surfaces a half-identity.
type Snapshot struct {
	Identity   *identity.Identity
	LoggedIn   bool
	Credential string
}

// Empty reports whether the snapshot carries no usable identity.
func (s Snapshot) Empty() bool {
	return s.Identity == nil
}

// Consistent reports whether the raw store contents agree with each
// other. An identity without the login flag, a flag without an identity,
// or a logged-in identity without a credential is corrupt local state.
func (s Snapshot) Consistent() bool {
	if s.Identity == nil {
		return !s.LoggedIn && s.Credential == ""
	}
	return s.LoggedIn && s.Credential != ""
}

// Store is the uniform contract over the physical identity stores.
type Store interface {
	// Load reads the stored snapshot. Implementations report raw
	// contents; consistency repair is the adapter's job.
	Load() (Snapshot, error)

	// Save persists the identity, the login flag, and the credential.
	Save(ident *identity.Identity, credential string) error

	// Clear removes all entries. Clearing an already-empty store
	// succeeds.
	Clear() error
}
