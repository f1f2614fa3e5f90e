package notifications

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	clienterrors "github.com/confscout/go-client/internal/errors"
	"github.com/confscout/go-client/internal/utils"
)

// PatchAPI is the slice of the REST surface the sequencer consumes.
type PatchAPI interface {
	PatchNotifications(ctx context.Context, ids []string, op Op) error
}

// PendingAction is one user-triggered mutation in flight: the operation,
// its targets, and the exact prior state to replay on rollback.
type PendingAction struct {
	Kind      Op
	TargetIDs []string
	prior     map[string]Patch
}

// Sequencer serializes mutations against the canonical set with
// optimistic-update-and-rollback semantics. Its core invariant: at most
// one PendingAction in flight. A second mutation during the pending
// window is refused outright, not queued; the UI disables its controls
// for exactly that window.
type Sequencer struct {
	set *Set
	api PatchAPI

	nowTime    func() time.Time
	generation func() uint64

	// OnForbidden routes a 403 observed mid-mutation to the shared
	// forbidden signal. Wired by the application, may be nil.
	OnForbidden func()

	lock     sync.Mutex
	inFlight *PendingAction
}

// SequencerOption modifies a Sequencer at construction.
type SequencerOption func(*Sequencer)

// WithSequencerNowTime sets the now time function (primarily for testing)
func WithSequencerNowTime(nowFunc func() time.Time) SequencerOption {
	return func(sq *Sequencer) {
		sq.nowTime = nowFunc
	}
}

// WithGenerationSource lets the sequencer detect responses that resolved
// under a session that no longer exists.
func WithGenerationSource(gen func() uint64) SequencerOption {
	return func(sq *Sequencer) {
		sq.generation = gen
	}
}

// NewSequencer creates a Sequencer over the canonical set and the patch
// endpoint.
func NewSequencer(set *Set, api PatchAPI, options ...SequencerOption) (*Sequencer, error) {
	if set == nil {
		return nil, errors.New("[NewSequencer] set is required")
	}
	if api == nil {
		return nil, errors.New("[NewSequencer] api is required")
	}

	sq := &Sequencer{
		set:        set,
		api:        api,
		nowTime:    time.Now,
		generation: func() uint64 { return 0 },
	}
	for _, opt := range options {
		opt(sq)
	}
	return sq, nil
}

// Pending reports whether an action is in flight.
func (sq *Sequencer) Pending() bool {
	sq.lock.Lock()
	defer sq.lock.Unlock()
	return sq.inFlight != nil
}

// Apply runs one mutation; single-item and bulk use the identical path,
// targetIDs of size 1 or N. The algorithm: snapshot, patch
// optimistically, call the server, discard the snapshot on success or
// replay it verbatim on failure. Rollback restores exact prior values,
// not a blind toggle, so it stays correct when an unrelated push mutated
// the set mid-flight.
func (sq *Sequencer) Apply(ctx context.Context, op Op, targetIDs []string) error {
	if !op.Valid() {
		return clienterrors.Wrapf(clienterrors.ErrValidation, "[Sequencer.Apply] unknown op %q", op)
	}

	action, err := sq.begin(op, targetIDs)
	if err != nil {
		return err
	}
	defer sq.finish()

	patch := sq.patchFor(op)
	for _, id := range action.TargetIDs {
		sq.set.ApplyPatch(id, patch)
	}

	generation := sq.generation()

	if err := sq.api.PatchNotifications(ctx, action.TargetIDs, op); err != nil {
		if sq.generation() != generation {
			// The session turned over mid-flight; the set this action
			// patched has already been cleared or replaced. Nothing to
			// roll back.
			return clienterrors.Wrapf(clienterrors.ErrStaleResponse, "[Sequencer.Apply] op %s", op)
		}

		sq.rollback(action)

		if clienterrors.Is(err, clienterrors.ErrForbidden) && sq.OnForbidden != nil {
			sq.OnForbidden()
		}
		return errors.Wrapf(err, "[Sequencer.Apply] op %s", op)
	}

	if sq.generation() != generation {
		return clienterrors.Wrapf(clienterrors.ErrStaleResponse, "[Sequencer.Apply] op %s", op)
	}
	return nil
}

// MarkViewed marks a single notification read on detail view. It goes
// through the same single-flight guard as every other mutation; a
// refusal because a bulk action is pending is benign and reported as
// success, the next full refetch settles it.
func (sq *Sequencer) MarkViewed(ctx context.Context, id string) error {
	n, ok := sq.set.Get(id)
	if !ok || n.Seen() {
		return nil
	}
	err := sq.Apply(ctx, OpMarkRead, []string{id})
	if clienterrors.Is(err, clienterrors.ErrActionInFlight) {
		log.Debug().Str("id", id).Msg("implicit mark-read refused, action in flight")
		return nil
	}
	return err
}

// VisibleSubset narrows checked ids to those currently visible under the
// view and search term. "Select all" semantics: operating on the
// filtered view's id set, never the whole canonical collection, even
// when stale checkmarks survive a search change.
//
// Pagination stays the caller's concern: checked ids are gathered from
// the rendered page, so they arrive page-bounded. This method
// re-intersects them with the active filter and search only, so stale
// checkmarks cannot widen the target set.
func (sq *Sequencer) VisibleSubset(checked []string, view View, search string) []string {
	visible := sq.set.Filter(view, search)
	byID := make(map[string]struct{}, len(visible))
	for _, n := range visible {
		byID[n.ID] = struct{}{}
	}

	out := make([]string, 0, len(checked))
	for _, id := range checked {
		if _, ok := byID[id]; ok {
			out = append(out, id)
		}
	}
	return out
}

// begin acquires the single-flight guard and snapshots the targets.
func (sq *Sequencer) begin(op Op, targetIDs []string) (*PendingAction, error) {
	sq.lock.Lock()
	defer sq.lock.Unlock()

	if sq.inFlight != nil {
		return nil, clienterrors.Wrapf(clienterrors.ErrActionInFlight, "[Sequencer.begin] op %s", op)
	}

	prior := sq.set.Snapshot(targetIDs)
	if len(prior) == 0 {
		return nil, clienterrors.Wrapf(clienterrors.ErrNoTargets, "[Sequencer.begin] op %s", op)
	}

	// Targets absent from the set are dropped here, so optimistic apply
	// and rollback cover the identical id set.
	ids := make([]string, 0, len(prior))
	for _, id := range targetIDs {
		if _, ok := prior[id]; ok {
			ids = append(ids, id)
		}
	}

	action := &PendingAction{Kind: op, TargetIDs: ids, prior: prior}
	sq.inFlight = action
	return action, nil
}

func (sq *Sequencer) finish() {
	sq.lock.Lock()
	defer sq.lock.Unlock()
	sq.inFlight = nil
}

func (sq *Sequencer) rollback(action *PendingAction) {
	for _, id := range action.TargetIDs {
		sq.set.ApplyPatch(id, action.prior[id])
	}
}

// patchFor translates an op into its optimistic local patch.
func (sq *Sequencer) patchFor(op Op) Patch {
	now := sq.nowTime()
	switch op {
	case OpMarkRead:
		return Patch{SetSeenAt: true, SeenAt: utils.Ptr(now)}
	case OpMarkUnread:
		return Patch{SetSeenAt: true, SeenAt: nil}
	case OpMarkImportant:
		return Patch{SetImportant: true, Important: true}
	case OpMarkUnimportant:
		return Patch{SetImportant: true, Important: false}
	case OpDelete:
		return Patch{SetDeletedAt: true, DeletedAt: utils.Ptr(now)}
	default:
		return Patch{}
	}
}
