// Package commit publishes new snapshots with optimistic concurrency.
//
// A commit writes a complete manifest for the candidate snapshot and then
// swaps the table pointer from the observed head to the candidate with a
// single compare-and-swap. Losing the swap means another writer published
// first; the mutation is re-derived against the new head when that is safe
// and the commit is retried a bounded number of times.
package commit

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/aalhour/fusesnap/internal/catalog"
	"github.com/aalhour/fusesnap/internal/chain"
	"github.com/aalhour/fusesnap/internal/logging"
	"github.com/aalhour/fusesnap/internal/manifest"
)

// ErrCommitConflict is returned when the pointer race could not be won
// within the retry budget, or the mutation cannot be rebased onto the
// snapshot that won. The caller must recompute the mutation from a fresh base.
var ErrCommitConflict = errors.New("commit: conflict")

// errPointerMoved records a lost compare-and-swap.
var errPointerMoved = errors.New("table pointer moved")

// PointerStore is the compare-and-swap capability the coordinator needs
// from the catalog.
type PointerStore interface {
	ReadPointer(ctx context.Context, tableID uint64) (catalog.Pointer, error)
	CASPointer(ctx context.Context, tableID uint64, expected, next catalog.Pointer) (bool, error)
}

// Target names the table a commit applies to.
type Target struct {
	TableID uint64
	Layout  manifest.Layout

	// SchemaVersion is used for the first snapshot of a table when the
	// mutation does not set one.
	SchemaVersion uint64
}

// Result describes a published snapshot.
type Result struct {
	Snapshot *manifest.Snapshot
	Location string

	// Attempts counts compare-and-swap attempts, including the winning one.
	Attempts int

	// Rebased is set when the mutation was applied to a snapshot other
	// than the caller's base.
	Rebased bool
}

// SnapshotID returns the id of the published snapshot.
func (r Result) SnapshotID() uuid.UUID {
	return r.Snapshot.ID
}

// Sequence returns the sequence of the published snapshot.
func (r Result) Sequence() uint64 {
	return r.Snapshot.Sequence
}

// Coordinator runs commits against one catalog and object store.
// It is safe for concurrent use.
type Coordinator struct {
	pointers PointerStore
	reader   *chain.Reader
	opts     Options
	logger   logging.Logger

	// beforeCAS runs after the manifest is written and before the swap.
	beforeCAS func(tableID uint64, attempt int)
}

// New creates a Coordinator. Manifests are written to reader's store.
func New(pointers PointerStore, reader *chain.Reader, opts Options) *Coordinator {
	opts = opts.sanitize()
	return &Coordinator{
		pointers: pointers,
		reader:   reader,
		opts:     opts,
		logger:   opts.Logger,
	}
}

// Commit applies m to the table and publishes the result.
//
// baseID is the snapshot the caller read when computing m; nil means the
// caller saw an empty table. If the head has moved on, m is rebased onto
// the new head when m.RebaseSafe allows it, otherwise ErrCommitConflict is
// returned. ErrInvalidMutation is returned when m does not apply to the
// caller's own base.
//
// Cancellation is checked between attempts. A cancelled commit either
// published (the swap succeeded) or left the table untouched.
func (c *Coordinator) Commit(ctx context.Context, target Target, baseID *uuid.UUID, m *manifest.Mutation) (Result, error) {
	if m == nil {
		m = &manifest.Mutation{}
	}

	var res Result
	var lastErr error
	backoff := c.opts.BaseBackoff
	for attempt := 1; attempt <= c.opts.MaxRetries+1; attempt++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		res.Attempts = attempt

		published, rebased, err := c.attempt(ctx, target, baseID, m, attempt)
		if err == nil {
			res.Snapshot = published.Snapshot
			res.Location = published.Location
			res.Rebased = rebased
			c.logger.Debugf("%stable %d: published %s after %d attempt(s)", logging.NSCommit, target.TableID, published.Snapshot, attempt)
			return res, nil
		}
		if !errors.Is(err, errPointerMoved) {
			return res, err
		}
		lastErr = err

		if attempt > c.opts.MaxRetries {
			break
		}
		wait := jitter(backoff, c.opts.JitterFactor)
		c.logger.Debugf("%stable %d: attempt %d lost the race, retrying in %s", logging.NSCommit, target.TableID, attempt, wait)
		if err := sleep(ctx, wait); err != nil {
			return res, err
		}
		backoff = min(time.Duration(float64(backoff)*c.opts.BackoffFactor), c.opts.MaxBackoff)
	}

	c.logger.Warnf("%stable %d: giving up after %d attempts", logging.NSCommit, target.TableID, res.Attempts)
	return res, fmt.Errorf("%w: table %d after %d attempts: %w", ErrCommitConflict, target.TableID, res.Attempts, lastErr)
}

// attempt performs one read-apply-write-swap round. A lost swap is
// reported as errPointerMoved.
func (c *Coordinator) attempt(ctx context.Context, target Target, baseID *uuid.UUID, m *manifest.Mutation, attempt int) (chain.Entry, bool, error) {
	head, err := c.pointers.ReadPointer(ctx, target.TableID)
	if err != nil {
		return chain.Entry{}, false, err
	}

	var prev *manifest.Snapshot
	if !head.IsZero() {
		prev, err = c.reader.Load(ctx, head.Location)
		if err != nil {
			return chain.Entry{}, false, err
		}
	}
	var current []*manifest.Segment
	if prev != nil {
		current = prev.Segments
	}

	rebased := !sameSnapshot(baseID, head)
	if rebased && !m.RebaseSafe(current) {
		return chain.Entry{}, true, fmt.Errorf("%w: table %d moved from %s to %s and the mutation cannot be rebased",
			ErrCommitConflict, target.TableID, describe(baseID), head.SnapshotID)
	}
	segments, err := m.Apply(current)
	if err != nil {
		if rebased {
			return chain.Entry{}, true, fmt.Errorf("%w: %w", ErrCommitConflict, err)
		}
		return chain.Entry{}, false, err
	}

	s := c.build(target, prev, head, segments, m)
	if err := s.Validate(); err != nil {
		return chain.Entry{}, rebased, err
	}
	data, err := manifest.Encode(s, c.opts.Encode)
	if err != nil {
		return chain.Entry{}, rebased, err
	}
	loc := target.Layout.SnapshotLocation(s.ID)
	store := c.reader.Store()
	if err := store.Put(ctx, loc, data); err != nil {
		return chain.Entry{}, rebased, fmt.Errorf("commit: write manifest %s: %w", loc, err)
	}

	if c.beforeCAS != nil {
		c.beforeCAS(target.TableID, attempt)
	}

	next := catalog.Pointer{SnapshotID: s.ID, Location: loc, Sequence: s.Sequence}
	ok, err := c.pointers.CASPointer(ctx, target.TableID, head, next)
	if err != nil {
		// The swap may have been applied with only the reply lost, so the
		// manifest stays. If nothing links to it the orphan sweep reclaims it.
		c.logger.Warnf("%stable %d: swap to %s failed, keeping its manifest: %v", logging.NSCommit, target.TableID, s.ID, err)
		return chain.Entry{}, rebased, err
	}
	if !ok {
		// The manifest is unreachable; nothing can ever link to it.
		// Use a fresh context so a cancelled commit still cleans up.
		if derr := store.Delete(context.WithoutCancel(ctx), loc); derr != nil {
			c.logger.Warnf("%sdelete orphan manifest %s: %v", logging.NSCommit, loc, derr)
		}
		return chain.Entry{}, rebased, fmt.Errorf("%w: expected %s", errPointerMoved, head.SnapshotID)
	}
	return chain.Entry{Snapshot: s, Location: loc}, rebased, nil
}

func (c *Coordinator) build(target Target, prev *manifest.Snapshot, head catalog.Pointer, segments []*manifest.Segment, m *manifest.Mutation) *manifest.Snapshot {
	s := &manifest.Snapshot{
		ID:            uuid.New(),
		Sequence:      1,
		Timestamp:     c.opts.Clock().UTC().Truncate(time.Microsecond),
		Segments:      segments,
		Summary:       manifest.Summarize(segments),
		SchemaVersion: target.SchemaVersion,
		FormatVersion: manifest.FormatVersion,
		Writer:        c.opts.Writer,
	}
	if prev != nil {
		id := prev.ID
		s.PreviousID = &id
		s.PreviousLocation = head.Location
		s.Sequence = prev.Sequence + 1
		s.SchemaVersion = prev.SchemaVersion
		if s.Timestamp.Before(prev.Timestamp) {
			s.Timestamp = prev.Timestamp
		}
	}
	if m.SchemaVersion != nil {
		s.SchemaVersion = *m.SchemaVersion
	}
	return s
}

func sameSnapshot(base *uuid.UUID, head catalog.Pointer) bool {
	if base == nil {
		return head.IsZero()
	}
	return !head.IsZero() && *base == head.SnapshotID
}

func describe(id *uuid.UUID) string {
	if id == nil {
		return "<empty>"
	}
	return id.String()
}

// jitter spreads d over [d*(1-f), d*(1+f)].
func jitter(d time.Duration, f float64) time.Duration {
	if f <= 0 {
		return d
	}
	return time.Duration(float64(d) * (1 + (rand.Float64()*2-1)*f))
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
