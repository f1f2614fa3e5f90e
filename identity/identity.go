package identity

import "time"

// RoleType represents a user role on the platform.
type RoleType string

const (
	RoleAdmin     RoleType = "admin"
	RoleModerator RoleType = "moderator"
	RoleMember    RoleType = "member"
)

// Identity is the authenticated user's profile as held client-side. The
// core only ever interprets ID (keys the push channel) and Blocked (feeds
// the termination cascade); everything else is carried opaquely for the
// surrounding application.
type Identity struct {
	ID          string    `json:"id"`
	Email       string    `json:"email"`
	FirstName   string    `json:"first_name,omitempty"`
	LastName    string    `json:"last_name,omitempty"`
	Role        RoleType  `json:"role,omitempty"`
	Affiliation string    `json:"affiliation,omitempty"`
	DateJoined  time.Time `json:"date_joined,omitempty"`
	Blocked     bool      `json:"blocked,omitempty"`
}

// Equal reports value equality. The session manager's store write-back
// relies on this to avoid rewriting stores with structurally identical
// data in a loop.
func (i *Identity) Equal(other *Identity) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.ID == other.ID &&
		i.Email == other.Email &&
		i.FirstName == other.FirstName &&
		i.LastName == other.LastName &&
		i.Role == other.Role &&
		i.Affiliation == other.Affiliation &&
		i.DateJoined.Equal(other.DateJoined) &&
		i.Blocked == other.Blocked
}

// Session is the in-memory authentication state. It is owned exclusively
// by the session manager; every other component receives read-only copies.
type Session struct {
	Identity     *Identity
	LoggedIn     bool
	Initializing bool
	Credential   string
}

// Consistent reports whether the session honours its core invariant:
// identity and the logged-in flag are both present or both absent.
func (s Session) Consistent() bool {
	return s.LoggedIn == (s.Identity != nil)
}

// UserID returns the identity id, or "" when logged out.
func (s Session) UserID() string {
	if s.Identity == nil {
		return ""
	}
	return s.Identity.ID
}

// Equal reports value equality between two sessions.
func (s Session) Equal(other Session) bool {
	return s.LoggedIn == other.LoggedIn &&
		s.Initializing == other.Initializing &&
		s.Credential == other.Credential &&
		s.Identity.Equal(other.Identity)
}
