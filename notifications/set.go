package notifications

import (
	"sort"
	"strings"
	"sync"
)

// View selects one of the standard status filters.
type View string

const (
	ViewAll       View = "all"
	ViewUnread    View = "unread"
	ViewRead      View = "read"
	ViewImportant View = "important"
)

// Set is the canonical reconciled notification collection. It merges
// REST-fetched state with channel pushes into one de-duplicated
// collection ordered by CreatedAt descending, regardless of the order
// the two sources interleave in. Views are derived on every read; there
// is no cached copy to drift.
type Set struct {
	lock  sync.RWMutex
	items []Notification // sorted newest first
	ids   map[string]int // id -> index into items
}

// NewSet returns an empty canonical set.
func NewSet() *Set {
	return &Set{ids: make(map[string]int)}
}

// ReplaceAll installs list as the new canonical content, discarding any
// prior entries including tombstones. Called after a full fetch.
func (s *Set) ReplaceAll(list []Notification) {
	s.lock.Lock()
	defer s.lock.Unlock()

	s.items = make([]Notification, 0, len(list))
	s.ids = make(map[string]int, len(list))
	for _, n := range list {
		if _, dup := s.ids[n.ID]; dup {
			continue
		}
		s.ids[n.ID] = -1 // reindexed below
		s.items = append(s.items, n)
	}
	sortNewestFirst(s.items)
	s.reindex()
}

// Upsert inserts a pushed notification in sorted position. Channel
// delivery is at-least-once: an id already present is a duplicate and is
// ignored, keeping Upsert idempotent.
func (s *Set) Upsert(n Notification) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	if _, dup := s.ids[n.ID]; dup {
		return false
	}

	at := sort.Search(len(s.items), func(i int) bool {
		return newerThan(n, s.items[i])
	})
	s.items = append(s.items, Notification{})
	copy(s.items[at+1:], s.items[at:])
	s.items[at] = n
	s.reindex()
	return true
}

// ApplyPatch applies a partial update to the id's entry. A patch for an
// absent id is a no-op: it may legitimately arrive after a concurrent
// full replace dropped the entry.
func (s *Set) ApplyPatch(id string, p Patch) bool {
	s.lock.Lock()
	defer s.lock.Unlock()

	at, ok := s.ids[id]
	if !ok {
		return false
	}
	s.items[at] = p.apply(s.items[at])
	return true
}

// Get returns a copy of the id's entry.
func (s *Set) Get(id string) (Notification, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()

	at, ok := s.ids[id]
	if !ok {
		return Notification{}, false
	}
	return s.items[at], true
}

// Snapshot captures restore patches for every requested id that is
// present. The sequencer replays these verbatim on rollback.
func (s *Set) Snapshot(ids []string) map[string]Patch {
	s.lock.RLock()
	defer s.lock.RUnlock()

	prior := make(map[string]Patch, len(ids))
	for _, id := range ids {
		if at, ok := s.ids[id]; ok {
			prior[id] = snapshotOf(s.items[at])
		}
	}
	return prior
}

// Clear empties the set. Used by the termination cascade.
func (s *Set) Clear() {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.items = nil
	s.ids = make(map[string]int)
}

// Len reports the canonical size, tombstones included.
func (s *Set) Len() int {
	s.lock.RLock()
	defer s.lock.RUnlock()
	return len(s.items)
}

// UnseenCount reports the number of visible unread notifications.
func (s *Set) UnseenCount() int {
	s.lock.RLock()
	defer s.lock.RUnlock()

	count := 0
	for _, n := range s.items {
		if !n.Deleted() && !n.Seen() {
			count++
		}
	}
	return count
}

// Filter derives the view's visible notifications, newest first.
// Tombstones are excluded from every view. The search term is a
// case-insensitive substring match over title and message, applied after
// the status filter.
func (s *Set) Filter(view View, search string) []Notification {
	s.lock.RLock()
	defer s.lock.RUnlock()

	needle := strings.ToLower(strings.TrimSpace(search))
	out := make([]Notification, 0, len(s.items))
	for _, n := range s.items {
		if n.Deleted() || !matchesView(n, view) {
			continue
		}
		if needle != "" && !matchesSearch(n, needle) {
			continue
		}
		out = append(out, n)
	}
	return out
}

// Page derives one page of the filtered view along with the total number
// of matching notifications. pageIndex is zero-based.
func (s *Set) Page(view View, search string, pageIndex, pageSize int) ([]Notification, int) {
	filtered := s.Filter(view, search)
	total := len(filtered)

	if pageSize <= 0 || pageIndex < 0 {
		return nil, total
	}
	start := pageIndex * pageSize
	if start >= total {
		return nil, total
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	return filtered[start:end], total
}

func matchesView(n Notification, view View) bool {
	switch view {
	case ViewUnread:
		return !n.Seen()
	case ViewRead:
		return n.Seen()
	case ViewImportant:
		return n.Important
	default:
		return true
	}
}

func matchesSearch(n Notification, needle string) bool {
	return strings.Contains(strings.ToLower(n.Title), needle) ||
		strings.Contains(strings.ToLower(n.Message), needle)
}

// newerThan orders notifications newest first, breaking CreatedAt ties
// by id so the order stays stable however fetch and push interleave.
func newerThan(a, b Notification) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.ID > b.ID
}

func sortNewestFirst(items []Notification) {
	sort.SliceStable(items, func(i, j int) bool {
		return newerThan(items[i], items[j])
	})
}

func (s *Set) reindex() {
	for i := range s.items {
		s.ids[s.items[i].ID] = i
	}
}
