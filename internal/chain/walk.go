package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/aalhour/fusesnap/internal/catalog"
	"github.com/aalhour/fusesnap/internal/manifest"
	"github.com/aalhour/fusesnap/internal/objstore"
)

// Entry is one snapshot visited by Walk.
type Entry struct {
	Snapshot *manifest.Snapshot
	Location string
}

// Walk visits the snapshots reachable from head, newest first. fn returns
// true to stop early.
//
// The walk ends at a snapshot without a predecessor or at a predecessor
// whose manifest no longer exists: retention deletes history oldest-first,
// so a missing predecessor marks the start of retained history. The head
// manifest itself must exist.
func Walk(ctx context.Context, r *Reader, head catalog.Pointer, fn func(e Entry) (stop bool, err error)) error {
	if head.IsZero() {
		return nil
	}

	loc := head.Location
	seen := make(map[uuid.UUID]struct{})
	var newer *manifest.Snapshot
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		s, err := r.Load(ctx, loc)
		if err != nil {
			if newer != nil && errors.Is(err, objstore.ErrObjectNotFound) {
				return nil
			}
			if newer == nil && errors.Is(err, objstore.ErrObjectNotFound) {
				return fmt.Errorf("%w: head manifest %s missing", ErrCorruptChain, loc)
			}
			return err
		}

		if newer == nil {
			if s.ID != head.SnapshotID {
				return fmt.Errorf("%w: pointer names %s but %s holds %s", ErrCorruptChain, head.SnapshotID, loc, s.ID)
			}
		} else if err := checkLink(newer, s); err != nil {
			return err
		}
		if _, dup := seen[s.ID]; dup {
			return fmt.Errorf("%w: cycle at snapshot %s", ErrCorruptChain, s.ID)
		}
		seen[s.ID] = struct{}{}

		stop, err := fn(Entry{Snapshot: s, Location: loc})
		if err != nil || stop {
			return err
		}
		if !s.HasPrevious() {
			return nil
		}
		newer = s
		loc = s.PreviousLocation
	}
}

func checkLink(newer, older *manifest.Snapshot) error {
	if *newer.PreviousID != older.ID {
		return fmt.Errorf("%w: %s links to %s but found %s", ErrCorruptChain, newer.ID, *newer.PreviousID, older.ID)
	}
	if older.Sequence+1 != newer.Sequence {
		return fmt.Errorf("%w: sequence %d follows %d", ErrCorruptChain, newer.Sequence, older.Sequence)
	}
	if newer.Timestamp.Before(older.Timestamp) {
		return fmt.Errorf("%w: snapshot %s is older than its predecessor", ErrCorruptChain, newer.ID)
	}
	return nil
}

// Collect returns up to limit entries reachable from head, newest first.
// A negative limit means no limit.
func Collect(ctx context.Context, r *Reader, head catalog.Pointer, limit int) ([]Entry, error) {
	var out []Entry
	if limit == 0 {
		return out, nil
	}
	err := Walk(ctx, r, head, func(e Entry) (bool, error) {
		out = append(out, e)
		return limit > 0 && len(out) >= limit, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
