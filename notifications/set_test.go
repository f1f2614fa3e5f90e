package notifications_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/confscout/go-client/internal/utils"
	"github.com/confscout/go-client/notifications"
)

var baseTime = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func makeNotification(id string, age time.Duration) notifications.Notification {
	return notifications.Notification{
		ID:        id,
		Type:      "deadline",
		Title:     "CFP closing: " + id,
		Message:   "submission deadline approaching",
		CreatedAt: baseTime.Add(-age),
	}
}

func ids(list []notifications.Notification) []string {
	out := make([]string, 0, len(list))
	for _, n := range list {
		out = append(out, n.ID)
	}
	return out
}

func TestSetOrderingStableAcrossInterleavedSources(t *testing.T) {
	set := notifications.NewSet()

	// REST list arrives unordered.
	set.ReplaceAll([]notifications.Notification{
		makeNotification("n2", 2*time.Hour),
		makeNotification("n4", 4*time.Hour),
		makeNotification("n1", 1*time.Hour),
	})

	// Pushes interleave: one older than everything, one newest.
	set.Upsert(makeNotification("n5", 5*time.Hour))
	set.Upsert(makeNotification("n0", 0))

	require.Equal(t, []string{"n0", "n1", "n2", "n4", "n5"}, ids(set.Filter(notifications.ViewAll, "")))
}

func TestSetUpsertDuplicateIsIgnored(t *testing.T) {
	set := notifications.NewSet()
	set.ReplaceAll([]notifications.Notification{makeNotification("n1", time.Hour)})

	dup := makeNotification("n1", time.Hour)
	dup.Title = "mutated duplicate"

	require.False(t, set.Upsert(dup))
	require.False(t, set.Upsert(dup))

	all := set.Filter(notifications.ViewAll, "")
	require.Len(t, all, 1)
	require.Equal(t, "CFP closing: n1", all[0].Title)
}

func TestSetPushBeforeAndAfterReplaceAll(t *testing.T) {
	set := notifications.NewSet()

	// Push arrives before the full fetch that already contains it.
	require.True(t, set.Upsert(makeNotification("n1", time.Hour)))
	set.ReplaceAll([]notifications.Notification{
		makeNotification("n1", time.Hour),
		makeNotification("n2", 2*time.Hour),
	})
	// And again after.
	require.False(t, set.Upsert(makeNotification("n1", time.Hour)))

	require.Equal(t, 2, set.Len())
}

func TestSetTombstoneExcludedFromEveryView(t *testing.T) {
	set := notifications.NewSet()
	n := makeNotification("n1", time.Hour)
	n.SeenAt = utils.Ptr(baseTime)
	n.Important = true
	set.ReplaceAll([]notifications.Notification{n})

	set.ApplyPatch("n1", notifications.Patch{SetDeletedAt: true, DeletedAt: utils.Ptr(baseTime)})

	for _, view := range []notifications.View{
		notifications.ViewAll, notifications.ViewUnread, notifications.ViewRead, notifications.ViewImportant,
	} {
		require.Empty(t, set.Filter(view, ""), "view %s must exclude tombstones", view)
	}

	// Tombstone is retained in the canonical set until the next full
	// refetch.
	require.Equal(t, 1, set.Len())
	got, ok := set.Get("n1")
	require.True(t, ok)
	require.True(t, got.Deleted())
}

func TestSetReplaceAllDiscardsTombstones(t *testing.T) {
	set := notifications.NewSet()
	set.ReplaceAll([]notifications.Notification{makeNotification("n1", time.Hour)})
	set.ApplyPatch("n1", notifications.Patch{SetDeletedAt: true, DeletedAt: utils.Ptr(baseTime)})

	set.ReplaceAll([]notifications.Notification{makeNotification("n2", time.Hour)})

	require.Equal(t, 1, set.Len())
	_, ok := set.Get("n1")
	require.False(t, ok)
}

func TestSetApplyPatchAbsentIDIsNoOp(t *testing.T) {
	set := notifications.NewSet()
	set.ReplaceAll([]notifications.Notification{makeNotification("n1", time.Hour)})

	require.False(t, set.ApplyPatch("gone", notifications.Patch{SetImportant: true, Important: true}))
	require.Equal(t, 1, set.Len())
}

func TestSetViews(t *testing.T) {
	unread := makeNotification("n1", 1*time.Hour)
	read := makeNotification("n2", 2*time.Hour)
	read.SeenAt = utils.Ptr(baseTime)
	important := makeNotification("n3", 3*time.Hour)
	important.Important = true

	set := notifications.NewSet()
	set.ReplaceAll([]notifications.Notification{unread, read, important})

	require.Equal(t, []string{"n1", "n2", "n3"}, ids(set.Filter(notifications.ViewAll, "")))
	require.Equal(t, []string{"n1", "n3"}, ids(set.Filter(notifications.ViewUnread, "")))
	require.Equal(t, []string{"n2"}, ids(set.Filter(notifications.ViewRead, "")))
	require.Equal(t, []string{"n3"}, ids(set.Filter(notifications.ViewImportant, "")))
	require.Equal(t, 2, set.UnseenCount())
}

func TestSetSearchAppliesAfterStatusFilter(t *testing.T) {
	a := makeNotification("n1", 1*time.Hour)
	a.Title = "ICSE 2026 Deadline"
	b := makeNotification("n2", 2*time.Hour)
	b.Message = "reviewer invitation for icse workshop"
	b.SeenAt = utils.Ptr(baseTime)
	c := makeNotification("n3", 3*time.Hour)
	c.Title = "Journal issue published"

	set := notifications.NewSet()
	set.ReplaceAll([]notifications.Notification{a, b, c})

	require.Equal(t, []string{"n1", "n2"}, ids(set.Filter(notifications.ViewAll, "ICSE")))
	require.Equal(t, []string{"n1"}, ids(set.Filter(notifications.ViewUnread, "icse")))
}

func TestSetPagination(t *testing.T) {
	set := notifications.NewSet()
	list := make([]notifications.Notification, 0, 5)
	for i, id := range []string{"n1", "n2", "n3", "n4", "n5"} {
		list = append(list, makeNotification(id, time.Duration(i)*time.Hour))
	}
	set.ReplaceAll(list)

	page, total := set.Page(notifications.ViewAll, "", 0, 2)
	require.Equal(t, 5, total)
	require.Equal(t, []string{"n1", "n2"}, ids(page))

	page, _ = set.Page(notifications.ViewAll, "", 2, 2)
	require.Equal(t, []string{"n5"}, ids(page))

	page, total = set.Page(notifications.ViewAll, "", 5, 2)
	require.Equal(t, 5, total)
	require.Empty(t, page)
}
