package notifications

import "time"

// Notification is one platform notification as held client-side. The id
// is unique and stable across fetch and push delivery. A non-nil
// DeletedAt marks a tombstone: the entry stays in the canonical set for
// rollback bookkeeping but is excluded from every user-facing view until
// the next full refetch drops it.
type Notification struct {
	ID        string     `json:"id" db:"id"`
	Type      string     `json:"type" db:"type"`
	Title     string     `json:"title" db:"title"`
	Message   string     `json:"message" db:"message"`
	CreatedAt time.Time  `json:"created_at" db:"created_at"`
	SeenAt    *time.Time `json:"seen_at,omitempty" db:"seen_at"`
	Important bool       `json:"important" db:"important"`
	DeletedAt *time.Time `json:"deleted_at,omitempty" db:"deleted_at"`
}

// Seen reports whether the notification has been marked read.
func (n Notification) Seen() bool {
	return n.SeenAt != nil
}

// Deleted reports whether the notification is a tombstone.
func (n Notification) Deleted() bool {
	return n.DeletedAt != nil
}

// Patch is a partial notification update. Only fields with their Set flag
// raised are applied, so a patch can distinguish "set SeenAt to nil"
// from "leave SeenAt alone". Patches are the one shape used for both
// optimistic application and rollback.
type Patch struct {
	SetSeenAt bool
	SeenAt    *time.Time

	SetImportant bool
	Important    bool

	SetDeletedAt bool
	DeletedAt    *time.Time
}

// apply returns n with the patch's raised fields overwritten.
func (p Patch) apply(n Notification) Notification {
	if p.SetSeenAt {
		n.SeenAt = p.SeenAt
	}
	if p.SetImportant {
		n.Important = p.Important
	}
	if p.SetDeletedAt {
		n.DeletedAt = p.DeletedAt
	}
	return n
}

// snapshotOf captures the patchable fields of n as a patch that, when
// applied, restores them exactly.
func snapshotOf(n Notification) Patch {
	return Patch{
		SetSeenAt:    true,
		SeenAt:       n.SeenAt,
		SetImportant: true,
		Important:    n.Important,
		SetDeletedAt: true,
		DeletedAt:    n.DeletedAt,
	}
}
