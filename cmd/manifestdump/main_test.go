package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aalhour/fusesnap"
	"github.com/aalhour/fusesnap/internal/checksum"
	"github.com/aalhour/fusesnap/internal/logging"
	"github.com/aalhour/fusesnap/internal/objstore"
	"github.com/aalhour/fusesnap/internal/vfs"
)

// writeChain commits two snapshots to a filesystem store and returns the
// store root and the head manifest key.
func writeChain(t *testing.T) (root string, head string, ids []string) {
	t.Helper()
	ctx := context.Background()
	root = t.TempDir()
	store, err := objstore.NewFS(vfs.Default(), root)
	require.NoError(t, err)

	opts := fusesnap.DefaultOptions()
	opts.Store = store
	opts.Logger = logging.Discard
	opts.ManifestCompression = fusesnap.SnappyCompression
	e, err := fusesnap.Open(opts)
	require.NoError(t, err)
	defer e.Close()

	ident := fusesnap.Ident("db", "t")
	_, err = e.CreateTable(ctx, ident, fusesnap.TableOptions{}, false)
	require.NoError(t, err)
	for i, data := range []string{"first", "second"} {
		seg, err := e.WriteSegment(ctx, ident, []byte(data), uint64(i+1), map[uint32]fusesnap.ColumnStats{
			0: {Min: []byte{0x01}, Max: []byte{0xff}, NullCount: 2},
		})
		require.NoError(t, err)
		res, err := e.Commit(ctx, ident, nil, &fusesnap.Mutation{Added: []*fusesnap.Segment{seg}})
		require.NoError(t, err)
		ids = append(ids, res.SnapshotID.String())
	}
	info, err := e.GetTable(ctx, ident)
	require.NoError(t, err)
	return root, info.Pointer.Location, ids
}

func TestDumpFile(t *testing.T) {
	root, head, ids := writeChain(t)

	var out bytes.Buffer
	path := filepath.Join(root, filepath.FromSlash(head))
	require.NoError(t, dump(&out, path, options{stats: true}))

	s := out.String()
	assert.Contains(t, s, "compression snappy")
	assert.Contains(t, s, "Snapshot:    "+ids[1])
	assert.Contains(t, s, "Previous:    "+ids[0])
	assert.Contains(t, s, "Summary:     rows=3")
	assert.Contains(t, s, "col 0: min=01 max=ff nulls=2")
	assert.Contains(t, s, "xxh3="+checksum.ContentHash([]byte("second")))
	assert.NotContains(t, s, "WARNING")
}

func TestDumpChain(t *testing.T) {
	root, head, ids := writeChain(t)

	var out bytes.Buffer
	require.NoError(t, dump(&out, head, options{chain: true, root: root}))
	s := out.String()
	assert.Less(t, strings.Index(s, ids[1]), strings.Index(s, "Snapshot:    "+ids[0]))
	assert.Contains(t, s, "Previous:    NULL")

	// A reclaimed predecessor ends the chain without an error.
	var first string
	require.NoError(t, filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err == nil && strings.Contains(p, ids[0]) {
			first = p
		}
		return err
	}))
	require.NoError(t, os.Remove(first))
	out.Reset()
	require.NoError(t, dump(&out, head, options{chain: true, root: root}))
	assert.Contains(t, out.String(), "end of retained history")
}

func TestDumpRejectsCorruption(t *testing.T) {
	root, head, _ := writeChain(t)
	path := filepath.Join(root, filepath.FromSlash(head))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[len(data)/2] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0o644))

	require.Error(t, dump(&bytes.Buffer{}, path, options{}))
	require.Error(t, dump(&bytes.Buffer{}, filepath.Join(root, "missing"), options{}))
}
