// Package retention reclaims snapshots and segments that fall outside a
// table's retention policy.
//
// A vacuum pass is mark-and-sweep: the segments referenced by the kept
// snapshots are marked live, and the segments referenced only by removed
// snapshots are deleted. Segment data goes first and manifests follow
// oldest-first, so a pass interrupted at any point leaves a chain that can
// still be walked from the table pointer.
package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aalhour/fusesnap/internal/catalog"
	"github.com/aalhour/fusesnap/internal/chain"
	"github.com/aalhour/fusesnap/internal/logging"
	"github.com/aalhour/fusesnap/internal/manifest"
	"github.com/aalhour/fusesnap/internal/pin"
)

// ErrSweptLiveSegment reports a swept segment that the table head references
// again. Segment keys are never reused by WriteSegment, so this means a
// writer re-added an entry taken from a removed snapshot.
var ErrSweptLiveSegment = errors.New("retention: swept segment is referenced by the table head")

// Options configures a Collector.
type Options struct {
	// Concurrency bounds parallel segment deletes. Zero means 8.
	Concurrency int

	// DeletesPerSecond throttles object deletes. Zero disables throttling.
	DeletesPerSecond float64

	Clock  func() time.Time
	Logger logging.Logger
}

// Report summarizes a vacuum pass.
type Report struct {
	TableID uint64
	Policy  string

	// Head is the table pointer observed at the start of the pass.
	Head uuid.UUID

	SnapshotsKept    int
	SnapshotsDeleted int
	SegmentsKept     int
	SegmentsDeleted  int
	OrphansDeleted   int

	// DeleteFailures counts objects that could not be deleted. They are
	// retried by the next pass.
	DeleteFailures int

	// SkippedPinned counts removal candidates kept because a reader held
	// one of them.
	SkippedPinned int

	Errors   []error
	Duration time.Duration
}

// Collector runs vacuum passes. It is safe for concurrent use, though
// passes over the same table should not overlap.
type Collector struct {
	pointers chain.PointerReader
	reader   *chain.Reader
	pins     *pin.Registry
	limiter  *rate.Limiter
	opts     Options
	logger   logging.Logger
}

// NewCollector creates a Collector. Objects are deleted from reader's store.
func NewCollector(pointers chain.PointerReader, reader *chain.Reader, pins *pin.Registry, opts Options) *Collector {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	c := &Collector{
		pointers: pointers,
		reader:   reader,
		pins:     pins,
		opts:     opts,
		logger:   logging.OrDefault(opts.Logger),
	}
	if opts.DeletesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(opts.DeletesPerSecond), max(1, int(opts.DeletesPerSecond)))
	}
	return c
}

// Vacuum applies policy to the table whose objects live under layout.
//
// The chain is read once, at the start of the pass; snapshots committed
// while the pass runs are never candidates. Individual delete failures are
// recorded in the report and do not fail the pass. Errors reading the
// chain or a cancelled context do.
func (c *Collector) Vacuum(ctx context.Context, tableID uint64, layout manifest.Layout, policy Policy) (Report, error) {
	start := c.opts.Clock()
	rep := Report{TableID: tableID, Policy: policy.String()}
	if err := policy.Validate(); err != nil {
		return rep, err
	}

	head, err := c.pointers.ReadPointer(ctx, tableID)
	if err != nil {
		return rep, err
	}
	rep.Head = head.SnapshotID

	// Newest first.
	universe, err := chain.Collect(ctx, c.reader, head, -1)
	if err != nil {
		return rep, fmt.Errorf("retention: walk table %d: %w", tableID, err)
	}

	keep := keepCount(universe, policy, start)
	condemned := c.condemn(universe[keep:], policy, &rep)
	defer func() {
		for _, e := range condemned {
			c.pins.Absolve(e.Snapshot.ID)
		}
	}()
	kept := universe[:len(universe)-len(condemned)]
	rep.SnapshotsKept = len(kept)

	live := make(map[manifest.SegmentID]struct{})
	for _, e := range kept {
		for id := range e.Snapshot.SegmentIDs() {
			live[id] = struct{}{}
		}
	}
	rep.SegmentsKept = len(live)

	var sweep []string
	queued := make(map[manifest.SegmentID]struct{})
	for _, e := range condemned {
		for _, seg := range e.Snapshot.Segments {
			id := seg.ID()
			if _, ok := live[id]; ok {
				continue
			}
			if _, ok := queued[id]; ok {
				continue
			}
			queued[id] = struct{}{}
			sweep = append(sweep, seg.Location)
		}
	}

	deleted, err := c.deleteAll(ctx, sweep, &rep)
	rep.SegmentsDeleted = deleted
	if err != nil {
		return rep, err
	}
	if len(sweep) > 0 && !policy.Everything {
		c.checkSwept(ctx, tableID, head, sweep, &rep)
	}

	if rep.DeleteFailures == 0 {
		// condemned is oldest first.
		for _, e := range condemned {
			if err := c.deleteOne(ctx, e.Location); err != nil {
				if ctx.Err() != nil {
					return rep, ctx.Err()
				}
				c.recordFailure(&rep, e.Location, err)
				break
			}
			c.reader.Evict(e.Location)
			rep.SnapshotsDeleted++
		}
	} else if len(condemned) > 0 {
		c.logger.Warnf("%stable %d: %d segment deletes failed, keeping %d manifests for the next pass",
			logging.NSVacuum, tableID, rep.DeleteFailures, len(condemned))
	}

	if policy.SweepOrphans || policy.Everything {
		referenced := make(map[string]struct{})
		for _, e := range universe {
			referenced[e.Location] = struct{}{}
			for _, seg := range e.Snapshot.Segments {
				referenced[seg.Location] = struct{}{}
			}
		}
		n, err := c.sweepOrphans(ctx, layout, referenced, policy, start, &rep)
		rep.OrphansDeleted = n
		if err != nil {
			return rep, err
		}
	}

	rep.Duration = c.opts.Clock().Sub(start)
	c.logger.Infof("%stable %d: %s kept %d snapshots, deleted %d snapshots %d segments %d orphans, %d failures",
		logging.NSVacuum, tableID, rep.Policy, rep.SnapshotsKept, rep.SnapshotsDeleted, rep.SegmentsDeleted, rep.OrphansDeleted, rep.DeleteFailures)
	return rep, nil
}

// keepCount returns how many snapshots, counted from the head, policy keeps.
func keepCount(entries []chain.Entry, policy Policy, now time.Time) int {
	if policy.Everything {
		return 0
	}
	keep := 1
	if !policy.RetainTransientLatestOnly {
		cutoff := now.Add(-policy.TimeHorizon)
		keep = 0
		for _, e := range entries {
			if e.Snapshot.Timestamp.Before(cutoff) {
				break
			}
			keep++
		}
	}
	keep = max(keep, policy.MinSnapshotsToKeep, 1)
	return min(keep, len(entries))
}

// condemn marks candidates (newest first) for deletion, oldest first. The
// first pinned candidate stops condemnation: it and every newer candidate
// are kept, so retained history stays contiguous. The returned slice is
// oldest first.
func (c *Collector) condemn(candidates []chain.Entry, policy Policy, rep *Report) []chain.Entry {
	var out []chain.Entry
	for i := len(candidates) - 1; i >= 0; i-- {
		e := candidates[i]
		if !c.pins.Condemn(e.Snapshot.ID) && !policy.Everything {
			rep.SkippedPinned = i + 1
			c.logger.Debugf("%ssnapshot %s is pinned, keeping it and %d newer", logging.NSVacuum, e.Snapshot.ID, i)
			break
		}
		out = append(out, e)
	}
	return out
}

// checkSwept re-reads the table pointer and reports every swept segment the
// current head references. Commits published during the pass are not
// candidates, so a hit is a writer bug, not a collector one.
func (c *Collector) checkSwept(ctx context.Context, tableID uint64, before catalog.Pointer, swept []string, rep *Report) {
	now, err := c.pointers.ReadPointer(ctx, tableID)
	if err != nil || now.IsZero() || now.SnapshotID == before.SnapshotID {
		return
	}
	s, err := c.reader.Load(ctx, now.Location)
	if err != nil {
		c.logger.Warnf("%stable %d: load head %s after sweep: %v", logging.NSVacuum, tableID, now.SnapshotID, err)
		return
	}
	gone := make(map[string]struct{}, len(swept))
	for _, key := range swept {
		gone[key] = struct{}{}
	}
	for _, seg := range s.Segments {
		if _, ok := gone[seg.Location]; !ok {
			continue
		}
		c.logger.Errorf("%stable %d: head %s references swept segment %s", logging.NSVacuum, tableID, now.SnapshotID, seg.Location)
		rep.Errors = append(rep.Errors, fmt.Errorf("%w: %s", ErrSweptLiveSegment, seg.Location))
	}
}

func (c *Collector) deleteAll(ctx context.Context, keys []string, rep *Report) (int, error) {
	var mu sync.Mutex
	deleted := 0
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.opts.Concurrency)
	for _, key := range keys {
		g.Go(func() error {
			err := c.deleteOne(gctx, key)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				c.recordFailure(rep, key, err)
				return nil
			}
			deleted++
			return nil
		})
	}
	err := g.Wait()
	return deleted, err
}

func (c *Collector) deleteOne(ctx context.Context, key string) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return c.reader.Store().Delete(ctx, key)
}

func (c *Collector) recordFailure(rep *Report, key string, err error) {
	c.logger.Warnf("%sdelete %s: %v (continuing best-effort)", logging.NSVacuum, key, err)
	rep.DeleteFailures++
	rep.Errors = append(rep.Errors, fmt.Errorf("delete %s: %w", key, err))
}

// sweepOrphans deletes objects under the table's prefixes that the chain
// does not reference: manifests of lost commits, segments written for
// commits that never published, and temp files left by crashed writers.
// Objects younger than policy.OrphanMinAge may belong to a commit in
// flight and are left alone unless everything is being removed.
func (c *Collector) sweepOrphans(ctx context.Context, layout manifest.Layout, referenced map[string]struct{}, policy Policy, now time.Time, rep *Report) (int, error) {
	var orphans []string
	for _, prefix := range []string{layout.SegmentPrefix(), layout.SnapshotPrefix()} {
		objs, err := c.reader.Store().List(ctx, prefix)
		if err != nil {
			return 0, fmt.Errorf("retention: list %s: %w", prefix, err)
		}
		for _, obj := range objs {
			if !policy.Everything {
				if _, ok := referenced[obj.Key]; ok {
					continue
				}
				if now.Sub(obj.ModTime) < policy.OrphanMinAge {
					continue
				}
			}
			orphans = append(orphans, obj.Key)
		}
	}
	if len(orphans) == 0 {
		return 0, nil
	}
	c.logger.Debugf("%s%s: %d orphan objects", logging.NSVacuum, layout.Prefix, len(orphans))
	return c.deleteAll(ctx, orphans, rep)
}
