package retention

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aalhour/fusesnap/internal/catalog"
	"github.com/aalhour/fusesnap/internal/chain"
	"github.com/aalhour/fusesnap/internal/commit"
	"github.com/aalhour/fusesnap/internal/logging"
	"github.com/aalhour/fusesnap/internal/manifest"
	"github.com/aalhour/fusesnap/internal/objstore"
	"github.com/aalhour/fusesnap/internal/pin"
	"github.com/aalhour/fusesnap/internal/vfs"
)

var t0 = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

type harness struct {
	store  objstore.Store
	cat    *catalog.Memory
	reader *chain.Reader
	pins   *pin.Registry
	coord  *commit.Coordinator
	gc     *Collector
	target commit.Target
	now    time.Time
	base   *uuid.UUID
}

func newHarness(t *testing.T, store objstore.Store) *harness {
	t.Helper()
	h := &harness{store: store, cat: catalog.NewMemory(), pins: pin.NewRegistry(0), now: t0}
	info, err := h.cat.CreateTable(context.Background(), catalog.TableIdent{Database: "db", Name: "t"}, catalog.TableOptions{}, false)
	require.NoError(t, err)
	h.target = commit.Target{TableID: info.ID, Layout: manifest.TableLayout("default", info.ID)}
	h.reader, err = chain.NewReader(store, 32, logging.Discard)
	require.NoError(t, err)
	clock := func() time.Time { return h.now }
	h.coord = commit.New(h.cat, h.reader, commit.Options{Clock: clock, Logger: logging.Discard})
	h.gc = NewCollector(h.cat, h.reader, h.pins, Options{Concurrency: 2, Clock: clock, Logger: logging.Discard})
	return h
}

// commit publishes m and advances the clock by step.
func (h *harness) commit(t *testing.T, m *manifest.Mutation, step time.Duration) commit.Result {
	t.Helper()
	res, err := h.coord.Commit(context.Background(), h.target, h.base, m)
	require.NoError(t, err)
	id := res.SnapshotID()
	h.base = &id
	h.now = h.now.Add(step)
	return res
}

func (h *harness) segment(t *testing.T, rows uint64) *manifest.Segment {
	t.Helper()
	seg, err := objstore.WriteSegment(context.Background(), h.store, h.target.Layout, []byte(uuid.NewString()), rows, nil, h.now)
	require.NoError(t, err)
	return seg
}

func (h *harness) overwrite(t *testing.T, step time.Duration) commit.Result {
	return h.commit(t, &manifest.Mutation{Overwrite: true, Added: []*manifest.Segment{h.segment(t, 1)}}, step)
}

func (h *harness) vacuum(t *testing.T, p Policy) Report {
	t.Helper()
	rep, err := h.gc.Vacuum(context.Background(), h.target.TableID, h.target.Layout, p)
	require.NoError(t, err)
	return rep
}

func (h *harness) history(t *testing.T) []chain.Entry {
	t.Helper()
	head, err := h.cat.ReadPointer(context.Background(), h.target.TableID)
	require.NoError(t, err)
	entries, err := chain.Collect(context.Background(), h.reader, head, -1)
	require.NoError(t, err)
	return entries
}

func (h *harness) keys(t *testing.T, prefix string) []string {
	t.Helper()
	objs, err := h.store.List(context.Background(), prefix)
	require.NoError(t, err)
	out := make([]string, len(objs))
	for i, o := range objs {
		out[i] = o.Key
	}
	return out
}

func TestKeepCount(t *testing.T) {
	entries := make([]chain.Entry, 5)
	for i := range entries {
		// Newest first, one hour apart.
		entries[i] = chain.Entry{Snapshot: &manifest.Snapshot{Timestamp: t0.Add(-time.Duration(i) * time.Hour)}}
	}

	tests := []struct {
		name   string
		policy Policy
		want   int
	}{
		{"transient", TransientPolicy(), 1},
		{"everything", EverythingPolicy(), 0},
		{"horizon", Policy{TimeHorizon: 90 * time.Minute}, 2},
		{"zero horizon keeps head", Policy{}, 1},
		{"floor", Policy{TimeHorizon: time.Minute, MinSnapshotsToKeep: 3}, 3},
		{"floor above length", Policy{MinSnapshotsToKeep: 9}, 5},
		{"wide horizon", DefaultPolicy(), 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, keepCount(entries, tt.policy, t0))
		})
	}
	assert.Zero(t, keepCount(nil, DefaultPolicy(), t0))
}

func TestVacuumTransientKeepsLatestOnly(t *testing.T) {
	h := newHarness(t, objstore.NewMemory())
	for range 5 {
		h.overwrite(t, time.Second)
	}
	head := h.history(t)[0]

	rep := h.vacuum(t, TransientPolicy())
	assert.Equal(t, 1, rep.SnapshotsKept)
	assert.Equal(t, 4, rep.SnapshotsDeleted)
	assert.Equal(t, 4, rep.SegmentsDeleted)
	assert.Equal(t, 1, rep.SegmentsKept)
	assert.Zero(t, rep.DeleteFailures)
	assert.Equal(t, head.Snapshot.ID, rep.Head)

	entries := h.history(t)
	require.Len(t, entries, 1)
	assert.Equal(t, head.Snapshot.ID, entries[0].Snapshot.ID)
	assert.Equal(t, []string{head.Location}, h.keys(t, h.target.Layout.SnapshotPrefix()))
	assert.Equal(t, []string{head.Snapshot.Segments[0].Location}, h.keys(t, h.target.Layout.SegmentPrefix()))
}

func TestVacuumKeepsSharedSegments(t *testing.T) {
	h := newHarness(t, objstore.NewMemory())
	for range 4 {
		h.commit(t, &manifest.Mutation{Added: []*manifest.Segment{h.segment(t, 1)}}, time.Second)
	}

	rep := h.vacuum(t, TransientPolicy())
	assert.Equal(t, 3, rep.SnapshotsDeleted)
	assert.Zero(t, rep.SegmentsDeleted, "every older segment is still part of the head")
	assert.Len(t, h.keys(t, h.target.Layout.SegmentPrefix()), 4)
}

func TestVacuumTimeHorizon(t *testing.T) {
	h := newHarness(t, objstore.NewMemory())
	for range 4 {
		h.overwrite(t, time.Hour)
	}
	// Snapshots at t0, t0+1h, t0+2h, t0+3h; now is t0+4h.

	rep := h.vacuum(t, Policy{TimeHorizon: 150 * time.Minute, MinSnapshotsToKeep: 1})
	assert.Equal(t, 2, rep.SnapshotsKept)
	assert.Equal(t, 2, rep.SnapshotsDeleted)

	entries := h.history(t)
	require.Len(t, entries, 2)
	assert.Equal(t, t0.Add(2*time.Hour), entries[1].Snapshot.Timestamp)
	assert.False(t, h.pins.Condemned(entries[1].Snapshot.ID))
}

func TestVacuumStopsAtPinnedSnapshot(t *testing.T) {
	h := newHarness(t, objstore.NewMemory())
	var results []commit.Result
	for range 5 {
		results = append(results, h.overwrite(t, time.Second))
	}

	release, err := h.pins.Pin(results[1].SnapshotID())
	require.NoError(t, err)

	rep := h.vacuum(t, TransientPolicy())
	assert.Equal(t, 1, rep.SnapshotsDeleted)
	assert.Equal(t, 4, rep.SnapshotsKept)
	assert.Equal(t, 3, rep.SkippedPinned)
	assert.Len(t, h.history(t), 4)
	assert.False(t, h.pins.Condemned(results[0].SnapshotID()), "condemnations are released after the pass")

	release()
	rep = h.vacuum(t, TransientPolicy())
	assert.Equal(t, 3, rep.SnapshotsDeleted)
	assert.Len(t, h.history(t), 1)
}

func TestVacuumSegmentDeleteFailure(t *testing.T) {
	dir := t.TempDir()
	ffs := vfs.NewFaultInjectionFS(vfs.Default())
	store, err := objstore.NewFS(ffs, dir)
	require.NoError(t, err)
	h := newHarness(t, store)

	first := h.overwrite(t, time.Second)
	h.overwrite(t, time.Second)
	h.overwrite(t, time.Second)

	ffs.InjectRemoveError(filepath.Join(dir, filepath.FromSlash(first.Snapshot.Segments[0].Location)))
	rep := h.vacuum(t, TransientPolicy())
	assert.Equal(t, 1, rep.DeleteFailures)
	require.Len(t, rep.Errors, 1)
	assert.ErrorIs(t, rep.Errors[0], vfs.ErrInjectedRemoveError)
	assert.Equal(t, 1, rep.SegmentsDeleted)
	assert.Zero(t, rep.SnapshotsDeleted, "manifests wait until their segments are gone")
	assert.Len(t, h.history(t), 3)

	ffs.ClearErrors()
	rep = h.vacuum(t, TransientPolicy())
	assert.Zero(t, rep.DeleteFailures)
	assert.Equal(t, 2, rep.SnapshotsDeleted)
	assert.Equal(t, 2, rep.SegmentsDeleted, "deleting the already removed segment is a no-op")
	assert.Len(t, h.history(t), 1)
}

func TestVacuumEvictsCachedManifests(t *testing.T) {
	h := newHarness(t, objstore.NewMemory())
	a := h.overwrite(t, time.Second)
	h.overwrite(t, time.Second)

	_, err := h.reader.Load(context.Background(), a.Location)
	require.NoError(t, err)
	h.vacuum(t, TransientPolicy())

	_, err = h.reader.Load(context.Background(), a.Location)
	assert.ErrorIs(t, err, objstore.ErrObjectNotFound)
}

func TestVacuumEverything(t *testing.T) {
	mem := objstore.NewMemory()
	h := newHarness(t, mem)
	for range 3 {
		h.overwrite(t, time.Second)
	}
	h.segment(t, 7) // written, never committed

	rep := h.vacuum(t, EverythingPolicy())
	assert.Equal(t, 3, rep.SnapshotsDeleted)
	assert.Equal(t, 3, rep.SegmentsDeleted)
	assert.Equal(t, 1, rep.OrphansDeleted)
	assert.Zero(t, rep.SnapshotsKept)
	assert.Zero(t, mem.Len())
}

func TestVacuumOrphanSweep(t *testing.T) {
	mem := objstore.NewMemory()
	mem.SetClock(func() time.Time { return t0 })
	h := newHarness(t, mem)
	h.overwrite(t, time.Second)
	old := h.segment(t, 1)

	mem.SetClock(func() time.Time { return t0.Add(50 * time.Minute) })
	young := h.segment(t, 1)
	h.now = t0.Add(time.Hour)

	rep := h.vacuum(t, Policy{RetainTransientLatestOnly: true, SweepOrphans: true, OrphanMinAge: 30 * time.Minute})
	assert.Equal(t, 1, rep.OrphansDeleted)

	ok, err := mem.Exists(context.Background(), old.Location)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = mem.Exists(context.Background(), young.Location)
	require.NoError(t, err)
	assert.True(t, ok, "may belong to a commit in flight")
	assert.Len(t, h.history(t), 1)
}

func TestVacuumEmptyTable(t *testing.T) {
	h := newHarness(t, objstore.NewMemory())
	rep := h.vacuum(t, DefaultPolicy())
	assert.Zero(t, rep.SnapshotsKept)
	assert.Equal(t, uuid.Nil, rep.Head)
}

func TestVacuumRejectsBadPolicy(t *testing.T) {
	h := newHarness(t, objstore.NewMemory())
	_, err := h.gc.Vacuum(context.Background(), h.target.TableID, h.target.Layout, Policy{TimeHorizon: -time.Second})
	assert.Error(t, err)
}

func TestVacuumRateLimited(t *testing.T) {
	h := newHarness(t, objstore.NewMemory())
	for range 3 {
		h.overwrite(t, time.Second)
	}
	h.gc = NewCollector(h.cat, h.reader, h.pins, Options{DeletesPerSecond: 1000, Clock: func() time.Time { return h.now }, Logger: logging.Discard})

	rep := h.vacuum(t, TransientPolicy())
	assert.Equal(t, 2, rep.SnapshotsDeleted)
	assert.Equal(t, 2, rep.SegmentsDeleted)
}

func TestVacuumCancelled(t *testing.T) {
	h := newHarness(t, objstore.NewMemory())
	h.overwrite(t, time.Second)
	h.overwrite(t, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := h.gc.Vacuum(ctx, h.target.TableID, h.target.Layout, TransientPolicy())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Len(t, h.history(t), 2)
}

// deleteHook runs hook once, just before the first delete under prefix.
type deleteHook struct {
	objstore.Store
	prefix string
	hook   func()
	once   sync.Once
}

func (d *deleteHook) Delete(ctx context.Context, key string) error {
	if d.hook != nil && strings.HasPrefix(key, d.prefix) {
		d.once.Do(d.hook)
	}
	return d.Store.Delete(ctx, key)
}

// sweepWithCommit publishes an append of seg while the segment sweep of a
// default-policy pass is running, and returns the pass report.
func sweepWithCommit(t *testing.T, h *harness, store *deleteHook, seg func() (*manifest.Segment, error)) Report {
	t.Helper()
	store.prefix = h.target.Layout.SegmentPrefix()
	store.hook = func() {
		added, err := seg()
		if !assert.NoError(t, err) {
			return
		}
		res, err := h.coord.Commit(context.Background(), h.target, h.base, &manifest.Mutation{Added: []*manifest.Segment{added}})
		if assert.NoError(t, err) {
			id := res.SnapshotID()
			h.base = &id
		}
	}
	return h.vacuum(t, DefaultPolicy())
}

func TestVacuumWithConcurrentCommit(t *testing.T) {
	mem := objstore.NewMemory()
	store := &deleteHook{Store: mem}
	h := newHarness(t, store)
	ctx := context.Background()

	write := func() (*manifest.Segment, error) {
		return objstore.WriteSegment(ctx, store, h.target.Layout, []byte("row-x"), 1, nil, h.now)
	}
	old, err := write()
	require.NoError(t, err)
	h.commit(t, &manifest.Mutation{Added: []*manifest.Segment{old}}, time.Second)
	h.commit(t, &manifest.Mutation{Overwrite: true}, 48*time.Hour)

	var fresh *manifest.Segment
	rep := sweepWithCommit(t, h, store, func() (*manifest.Segment, error) {
		var err error
		fresh, err = write()
		return fresh, err
	})
	assert.Empty(t, rep.Errors)
	assert.Equal(t, 1, rep.SegmentsDeleted)
	assert.Equal(t, 1, rep.SnapshotsDeleted)

	require.NotNil(t, fresh)
	assert.NotEqual(t, old.Location, fresh.Location)
	assert.Equal(t, old.ContentHash, fresh.ContentHash)

	head := h.history(t)[0]
	require.Len(t, head.Snapshot.Segments, 1)
	for _, seg := range head.Snapshot.Segments {
		_, err := mem.Get(ctx, seg.Location)
		assert.NoError(t, err, "head segment %s", seg.Location)
	}
	_, err = mem.Get(ctx, old.Location)
	assert.ErrorIs(t, err, objstore.ErrObjectNotFound)
}

func TestVacuumReportsReaddedSweptSegment(t *testing.T) {
	store := &deleteHook{Store: objstore.NewMemory()}
	h := newHarness(t, store)

	old := h.segment(t, 1)
	h.commit(t, &manifest.Mutation{Added: []*manifest.Segment{old}}, time.Second)
	h.commit(t, &manifest.Mutation{Overwrite: true}, 48*time.Hour)

	// Re-adding an entry taken from a removed snapshot bypasses fresh keys.
	rep := sweepWithCommit(t, h, store, func() (*manifest.Segment, error) { return old, nil })
	require.Len(t, rep.Errors, 1)
	assert.ErrorIs(t, rep.Errors[0], ErrSweptLiveSegment)
	assert.Zero(t, rep.DeleteFailures)
}
