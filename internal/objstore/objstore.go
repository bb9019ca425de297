// Package objstore stores snapshot manifests and segment blobs.
//
// Keys are slash-separated paths such as "sales/42/_ss/{id}_v1.mf". Objects
// are written once. Deleting a missing object is not an error so retention
// passes can be interrupted and rerun.
package objstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/aalhour/fusesnap/internal/checksum"
	"github.com/aalhour/fusesnap/internal/manifest"
)

// ErrObjectNotFound is returned by Get when the key does not exist.
var ErrObjectNotFound = errors.New("objstore: object not found")

// ObjectInfo describes a stored object.
type ObjectInfo struct {
	Key     string
	Size    int64
	ModTime time.Time
}

// Store is a flat key/value object store.
type Store interface {
	// Put writes data under key, replacing any existing object.
	Put(ctx context.Context, key string, data []byte) error

	// Get returns the object's bytes or ErrObjectNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Delete removes the object. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the key exists.
	Exists(ctx context.Context, key string) (bool, error)

	// List returns every object whose key starts with prefix, sorted by key.
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// WriteSegment stores a segment blob under a fresh key of layout and returns
// the manifest entry describing it. Writing the same bytes twice yields two
// segments with the same ContentHash.
func WriteSegment(ctx context.Context, store Store, layout manifest.Layout, data []byte, rows uint64, stats map[uint32]manifest.ColumnStats, now time.Time) (*manifest.Segment, error) {
	loc := layout.SegmentLocation(uuid.New())
	if err := store.Put(ctx, loc, data); err != nil {
		return nil, fmt.Errorf("objstore: write segment %s: %w", loc, err)
	}
	return &manifest.Segment{
		Location:    loc,
		RowCount:    rows,
		ByteSize:    uint64(len(data)),
		ColumnStats: stats,
		CreatedAt:   now.UTC().Truncate(time.Microsecond),
		ContentHash: checksum.ContentHash(data),
	}, nil
}
