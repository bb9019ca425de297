package objstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aalhour/fusesnap/internal/checksum"
	"github.com/aalhour/fusesnap/internal/manifest"
	"github.com/aalhour/fusesnap/internal/vfs"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFS(vfs.Default(), t.TempDir())
	require.NoError(t, err)
	return map[string]Store{
		"memory": NewMemory(),
		"fs":     fsStore,
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, "db/1/_ss/missing.mf")
			assert.ErrorIs(t, err, ErrObjectNotFound)

			require.NoError(t, s.Put(ctx, "db/1/_ss/a.mf", []byte("A")))
			require.NoError(t, s.Put(ctx, "db/1/_sg/x.seg", []byte("XX")))
			require.NoError(t, s.Put(ctx, "db/10/_ss/b.mf", []byte("B")))

			got, err := s.Get(ctx, "db/1/_ss/a.mf")
			require.NoError(t, err)
			assert.Equal(t, []byte("A"), got)

			ok, err := s.Exists(ctx, "db/1/_sg/x.seg")
			require.NoError(t, err)
			assert.True(t, ok)

			list, err := s.List(ctx, "db/1/")
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, "db/1/_sg/x.seg", list[0].Key)
			assert.EqualValues(t, 2, list[0].Size)
			assert.Equal(t, "db/1/_ss/a.mf", list[1].Key)

			list, err = s.List(ctx, "db/1/_ss/")
			require.NoError(t, err)
			require.Len(t, list, 1)

			list, err = s.List(ctx, "nope/")
			require.NoError(t, err)
			assert.Empty(t, list)

			require.NoError(t, s.Put(ctx, "db/1/_ss/a.mf", []byte("A2")))
			got, err = s.Get(ctx, "db/1/_ss/a.mf")
			require.NoError(t, err)
			assert.Equal(t, []byte("A2"), got)

			require.NoError(t, s.Delete(ctx, "db/1/_ss/a.mf"))
			require.NoError(t, s.Delete(ctx, "db/1/_ss/a.mf"), "delete is idempotent")
			ok, err = s.Exists(ctx, "db/1/_ss/a.mf")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestStoreHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for name, s := range stores(t) {
		assert.ErrorIs(t, s.Put(ctx, "k", []byte("v")), context.Canceled, name)
		_, err := s.Get(ctx, "k")
		assert.ErrorIs(t, err, context.Canceled, name)
	}
}

func TestFSPutIsAtomic(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	faulty := vfs.NewFaultInjectionFS(vfs.Default())
	s, err := NewFS(faulty, dir)
	require.NoError(t, err)

	faulty.InjectSyncError()
	err = s.Put(ctx, "db/1/_ss/a.mf", []byte("manifest"))
	require.ErrorIs(t, err, vfs.ErrInjectedSyncError)

	ok, err := s.Exists(ctx, "db/1/_ss/a.mf")
	require.NoError(t, err)
	assert.False(t, ok, "failed put must not publish the object")

	list, err := s.List(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, list, "temp file is cleaned up")

	faulty.ClearErrors()
	require.NoError(t, s.Put(ctx, "db/1/_ss/a.mf", []byte("manifest")))
	assert.FileExists(t, filepath.Join(dir, "db", "1", "_ss", "a.mf"))
}

func TestFSDeleteFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	faulty := vfs.NewFaultInjectionFS(vfs.Default())
	s, err := NewFS(faulty, t.TempDir())
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "db/1/_sg/a.seg", []byte("x")))

	faulty.InjectRemoveError("")
	assert.ErrorIs(t, s.Delete(ctx, "db/1/_sg/a.seg"), vfs.ErrInjectedRemoveError)
}

func TestFSExistsSurfacesStatFailure(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	faulty := vfs.NewFaultInjectionFS(vfs.Default())
	s, err := NewFS(faulty, dir)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, "db/1/_sg/a.seg", []byte("x")))

	// A failed stat is not the same as a missing object.
	faulty.InjectReadError(filepath.Join(dir, "db", "1", "_sg", "a.seg"))
	_, err = s.Exists(ctx, "db/1/_sg/a.seg")
	assert.ErrorIs(t, err, vfs.ErrInjectedReadError)

	faulty.ClearErrors()
	ok, err := s.Exists(ctx, "db/1/_sg/a.seg")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFSRejectsEscapingKeys(t *testing.T) {
	s, err := NewFS(nil, t.TempDir())
	require.NoError(t, err)
	for _, key := range []string{"", "/etc/passwd", "../x", "a/../../b"} {
		assert.Error(t, s.Put(context.Background(), key, nil), key)
	}
}

func TestMemoryModTimeAndCounters(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	at := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	m.SetClock(func() time.Time { return at })

	require.NoError(t, m.Put(ctx, "a", []byte("1")))
	list, err := m.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, at, list[0].ModTime)

	_, _ = m.Get(ctx, "a")
	_, _ = m.Get(ctx, "b")
	assert.EqualValues(t, 2, m.Gets())

	require.NoError(t, m.Delete(ctx, "a"))
	require.NoError(t, m.Delete(ctx, "a"))
	assert.EqualValues(t, 1, m.Deletes())
	assert.Zero(t, m.Len())
}

func TestWriteSegment(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	layout := manifest.TableLayout("db", 7)
	now := time.Date(2026, 5, 1, 0, 0, 0, 999, time.UTC)
	stats := map[uint32]manifest.ColumnStats{1: {Min: []byte("a"), Max: []byte("b")}}

	seg, err := WriteSegment(ctx, m, layout, []byte("row1\nrow2\n"), 2, stats, now)
	require.NoError(t, err)
	assert.True(t, layout.IsSegmentLocation(seg.Location))
	assert.EqualValues(t, 2, seg.RowCount)
	assert.EqualValues(t, 10, seg.ByteSize)
	assert.Equal(t, now.Truncate(time.Microsecond), seg.CreatedAt)
	assert.Equal(t, checksum.ContentHash([]byte("row1\nrow2\n")), seg.ContentHash)

	// The same bytes written again are a separate segment.
	again, err := WriteSegment(ctx, m, layout, []byte("row1\nrow2\n"), 2, nil, now)
	require.NoError(t, err)
	assert.NotEqual(t, seg.Location, again.Location)
	assert.Equal(t, seg.ContentHash, again.ContentHash)
	assert.Equal(t, 2, m.Len())
}

func TestGCSObjectNames(t *testing.T) {
	g := &GCS{prefix: "warehouse"}
	assert.Equal(t, "warehouse/db/1/_ss/a.mf", g.objectName("db/1/_ss/a.mf"))
	assert.Equal(t, "db/1/_ss/a.mf", g.keyFromName("warehouse/db/1/_ss/a.mf"))

	bare := &GCS{}
	assert.Equal(t, "db/1/_sg/x.seg", bare.objectName("db/1/_sg/x.seg"))
	assert.Equal(t, "db/1/_sg/x.seg", bare.keyFromName("db/1/_sg/x.seg"))
}
