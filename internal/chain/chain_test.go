package chain

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aalhour/fusesnap/internal/catalog"
	"github.com/aalhour/fusesnap/internal/logging"
	"github.com/aalhour/fusesnap/internal/manifest"
	"github.com/aalhour/fusesnap/internal/objstore"
	"github.com/aalhour/fusesnap/internal/pin"
)

var t0 = time.Date(2026, 7, 1, 10, 0, 0, 0, time.UTC)

type fixture struct {
	store   *objstore.Memory
	cat     *catalog.Memory
	table   *catalog.TableInfo
	layout  manifest.Layout
	reader  *Reader
	pins    *pin.Registry
	entries []Entry // oldest first
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := objstore.NewMemory()
	cat := catalog.NewMemory()
	table, err := cat.CreateTable(context.Background(), catalog.TableIdent{Database: "db", Name: "t"}, catalog.TableOptions{}, false)
	require.NoError(t, err)
	reader, err := NewReader(store, 64, logging.Discard)
	require.NoError(t, err)
	return &fixture{
		store:  store,
		cat:    cat,
		table:  table,
		layout: manifest.TableLayout("db", table.ID),
		reader: reader,
		pins:   pin.NewRegistry(0),
	}
}

// append publishes a snapshot with one more segment of rows rows at ts.
func (f *fixture) append(t *testing.T, rows uint64, ts time.Time) Entry {
	t.Helper()
	ctx := context.Background()
	s := &manifest.Snapshot{ID: uuid.New(), Sequence: 1, Timestamp: ts}
	if n := len(f.entries); n > 0 {
		prev := f.entries[n-1]
		id := prev.Snapshot.ID
		s.PreviousID = &id
		s.PreviousLocation = prev.Location
		s.Sequence = prev.Snapshot.Sequence + 1
		s.Segments = append(s.Segments, prev.Snapshot.Segments...)
	}
	seg, err := objstore.WriteSegment(ctx, f.store, f.layout, []byte(uuid.NewString()), rows, nil, ts)
	require.NoError(t, err)
	s.Segments = append(s.Segments, seg)
	s.Summary = manifest.Summarize(s.Segments)
	require.NoError(t, s.Validate())

	data, err := manifest.Encode(s, manifest.DefaultEncodeOptions())
	require.NoError(t, err)
	loc := f.layout.SnapshotLocation(s.ID)
	require.NoError(t, f.store.Put(ctx, loc, data))

	ok, err := f.cat.CASPointer(ctx, f.table.ID, f.head(), catalog.Pointer{SnapshotID: s.ID, Location: loc, Sequence: s.Sequence})
	require.NoError(t, err)
	require.True(t, ok)

	e := Entry{Snapshot: s, Location: loc}
	f.entries = append(f.entries, e)
	return e
}

func (f *fixture) head() catalog.Pointer {
	if len(f.entries) == 0 {
		return catalog.Pointer{}
	}
	e := f.entries[len(f.entries)-1]
	return catalog.Pointer{SnapshotID: e.Snapshot.ID, Location: e.Location, Sequence: e.Snapshot.Sequence}
}

func (f *fixture) resolver() *Resolver {
	return NewResolver(f.cat, f.reader, f.pins, logging.Discard)
}

func TestWalkVisitsWholeChain(t *testing.T) {
	f := newFixture(t)
	for i := range 5 {
		f.append(t, 1, t0.Add(time.Duration(i)*time.Second))
	}

	got, err := Collect(context.Background(), f.reader, f.head(), -1)
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i, e := range got {
		assert.Equal(t, f.entries[4-i].Snapshot.ID, e.Snapshot.ID)
	}
	assert.False(t, got[4].Snapshot.HasPrevious(), "walk ends at the root")

	limited, err := Collect(context.Background(), f.reader, f.head(), 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := Collect(context.Background(), f.reader, f.head(), 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	empty, err := Collect(context.Background(), f.reader, catalog.Pointer{}, -1)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestWalkStopsAtMissingPredecessor(t *testing.T) {
	f := newFixture(t)
	for i := range 4 {
		f.append(t, 1, t0.Add(time.Duration(i)*time.Second))
	}
	require.NoError(t, f.store.Delete(context.Background(), f.entries[1].Location))

	r, err := NewReader(f.store, 0, logging.Discard)
	require.NoError(t, err)
	got, err := Collect(context.Background(), r, f.head(), -1)
	require.NoError(t, err)
	assert.Len(t, got, 2, "history before the deleted manifest is no longer retained")
}

func TestWalkDetectsCorruption(t *testing.T) {
	f := newFixture(t)
	f.append(t, 1, t0)
	ctx := context.Background()

	wrong := f.head()
	wrong.SnapshotID = uuid.New()
	err := Walk(ctx, f.reader, wrong, func(Entry) (bool, error) { return false, nil })
	assert.ErrorIs(t, err, ErrCorruptChain)

	require.NoError(t, f.store.Delete(ctx, f.entries[0].Location))
	r, err := NewReader(f.store, 0, logging.Discard)
	require.NoError(t, err)
	err = Walk(ctx, r, f.head(), func(Entry) (bool, error) { return false, nil })
	assert.ErrorIs(t, err, ErrCorruptChain, "missing head manifest is corruption")
}

func TestWalkRejectsBrokenLink(t *testing.T) {
	f := newFixture(t)
	a := f.append(t, 1, t0)
	ctx := context.Background()

	// A snapshot claiming sequence 5 directly after sequence 1.
	id := a.Snapshot.ID
	bad := &manifest.Snapshot{ID: uuid.New(), Sequence: 5, Timestamp: t0, PreviousID: &id, PreviousLocation: a.Location}
	data, err := manifest.Encode(bad, manifest.DefaultEncodeOptions())
	require.NoError(t, err)
	loc := f.layout.SnapshotLocation(bad.ID)
	require.NoError(t, f.store.Put(ctx, loc, data))

	err = Walk(ctx, f.reader, catalog.Pointer{SnapshotID: bad.ID, Location: loc, Sequence: 5}, func(Entry) (bool, error) { return false, nil })
	assert.ErrorIs(t, err, ErrCorruptChain)
}

func TestReaderCaches(t *testing.T) {
	f := newFixture(t)
	e := f.append(t, 1, t0)
	ctx := context.Background()

	before := f.store.Gets()
	for range 3 {
		s, err := f.reader.Load(ctx, e.Location)
		require.NoError(t, err)
		assert.Equal(t, e.Snapshot.ID, s.ID)
	}
	assert.Equal(t, before+1, f.store.Gets())
	st := f.reader.Stats()
	assert.EqualValues(t, 2, st.Hits)
	assert.Equal(t, 1, st.Len)

	f.reader.Evict(e.Location)
	assert.Zero(t, f.reader.Stats().Len)
}

func TestResolveExampleScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.resolver()

	a := f.append(t, 2, t0)
	b := f.append(t, 1, t0.Add(time.Second))
	assert.EqualValues(t, 3, b.Snapshot.Summary.RowCount)

	h, err := r.Resolve(ctx, f.table.ID, BySnapshotID(a.Snapshot.ID))
	require.NoError(t, err)
	assert.EqualValues(t, 2, h.Snapshot.Summary.RowCount)
	h.Release()

	h, err = r.Resolve(ctx, f.table.ID, ByTimestamp(a.Snapshot.Timestamp))
	require.NoError(t, err)
	assert.Equal(t, a.Snapshot.ID, h.Snapshot.ID)
	h.Release()

	h, err = r.Resolve(ctx, f.table.ID, Latest())
	require.NoError(t, err)
	assert.Equal(t, b.Snapshot.ID, h.Snapshot.ID)
	h.Release()
	h.Release()
	assert.Zero(t, f.pins.Active())
}

func TestResolveByTimestamp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.resolver()

	a := f.append(t, 1, t0)
	b1 := f.append(t, 1, t0.Add(10*time.Second))
	b2 := f.append(t, 1, t0.Add(10*time.Second)) // same clock tick as b1
	c := f.append(t, 1, t0.Add(20*time.Second))

	tests := []struct {
		at   time.Time
		want uuid.UUID
	}{
		{t0, a.Snapshot.ID},
		{t0.Add(5 * time.Second), a.Snapshot.ID},
		{t0.Add(10 * time.Second), b2.Snapshot.ID},
		{t0.Add(15 * time.Second), b2.Snapshot.ID},
		{t0.Add(time.Hour), c.Snapshot.ID},
	}
	for _, tt := range tests {
		h, err := r.Resolve(ctx, f.table.ID, ByTimestamp(tt.at))
		require.NoError(t, err)
		assert.Equal(t, tt.want, h.Snapshot.ID, "at %s", tt.at)
		h.Release()
	}
	assert.NotEqual(t, b1.Snapshot.ID, b2.Snapshot.ID)

	_, err := r.Resolve(ctx, f.table.ID, ByTimestamp(t0.Add(-time.Nanosecond)))
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestResolveNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.resolver()

	_, err := r.Resolve(ctx, f.table.ID, Latest())
	assert.ErrorIs(t, err, ErrSnapshotNotFound, "empty table")

	f.append(t, 1, t0)
	_, err = r.Resolve(ctx, f.table.ID, BySnapshotID(uuid.New()))
	assert.ErrorIs(t, err, ErrSnapshotNotFound)

	_, err = r.Resolve(ctx, 12345, Latest())
	assert.ErrorIs(t, err, catalog.ErrTableNotFound)
}

func TestResolvePinsAgainstCondemn(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.resolver()
	a := f.append(t, 1, t0)
	f.append(t, 1, t0.Add(time.Second))

	h, err := r.Resolve(ctx, f.table.ID, BySnapshotID(a.Snapshot.ID))
	require.NoError(t, err)
	assert.False(t, f.pins.Condemn(a.Snapshot.ID), "held snapshot cannot be condemned")
	h.Release()

	require.True(t, f.pins.Condemn(a.Snapshot.ID))
	_, err = r.Resolve(ctx, f.table.ID, BySnapshotID(a.Snapshot.ID))
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestResolveRechecksStoreAfterPin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	r := f.resolver()
	a := f.append(t, 1, t0)
	f.append(t, 1, t0.Add(time.Second))

	// Warm the cache, then delete the manifest behind the reader's back.
	_, err := f.reader.Load(ctx, a.Location)
	require.NoError(t, err)
	require.NoError(t, f.store.Delete(ctx, a.Location))

	_, err = r.Resolve(ctx, f.table.ID, BySnapshotID(a.Snapshot.ID))
	assert.ErrorIs(t, err, ErrSnapshotNotFound)
	assert.Zero(t, f.pins.Active())
}

func TestSpecString(t *testing.T) {
	assert.Equal(t, "latest", Latest().String())
	id := uuid.MustParse("7f0c6b7e-2a7e-4a59-9d3f-0b1c2d3e4f50")
	assert.Equal(t, "snapshot 7f0c6b7e-2a7e-4a59-9d3f-0b1c2d3e4f50", BySnapshotID(id).String())
	assert.Equal(t, "timestamp 2026-07-01T10:00:00Z", ByTimestamp(t0).String())
}
