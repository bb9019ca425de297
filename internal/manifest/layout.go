package manifest

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// Object key prefixes below a table's root.
const (
	SnapshotDir = "_ss"
	SegmentDir  = "_sg"

	snapshotExt = ".mf"
	segmentExt  = ".seg"
)

// Layout maps snapshots and segments of one table to object keys.
type Layout struct {
	Prefix string
}

// TableLayout returns the layout for a table under {namespace}/{tableID}.
// The namespace must not change over the table's lifetime.
func TableLayout(namespace string, tableID uint64) Layout {
	return Layout{Prefix: path.Join(namespace, strconv.FormatUint(tableID, 10))}
}

// SnapshotPrefix returns the key prefix that holds snapshot manifests.
func (l Layout) SnapshotPrefix() string {
	return path.Join(l.Prefix, SnapshotDir) + "/"
}

// SegmentPrefix returns the key prefix that holds segment blobs.
func (l Layout) SegmentPrefix() string {
	return path.Join(l.Prefix, SegmentDir) + "/"
}

// SnapshotLocation returns the key of a snapshot manifest.
func (l Layout) SnapshotLocation(id uuid.UUID) string {
	return fmt.Sprintf("%s%s_v%d%s", l.SnapshotPrefix(), id, FormatVersion, snapshotExt)
}

// SegmentLocation returns the key of the segment blob with the given id.
// Every write gets a fresh id so no two segments share a key.
func (l Layout) SegmentLocation(id uuid.UUID) string {
	return l.SegmentPrefix() + id.String() + segmentExt
}

// IsSnapshotLocation reports whether key names a snapshot manifest of l.
func (l Layout) IsSnapshotLocation(key string) bool {
	return strings.HasPrefix(key, l.SnapshotPrefix()) && strings.HasSuffix(key, snapshotExt)
}

// IsSegmentLocation reports whether key names a segment blob of l.
func (l Layout) IsSegmentLocation(key string) bool {
	return strings.HasPrefix(key, l.SegmentPrefix()) && strings.HasSuffix(key, segmentExt)
}

// ParseSnapshotLocation extracts the snapshot id and format version from a
// manifest key.
func ParseSnapshotLocation(key string) (uuid.UUID, uint16, error) {
	base := strings.TrimSuffix(path.Base(key), snapshotExt)
	idPart, verPart, ok := strings.Cut(base, "_v")
	if !ok || path.Base(path.Dir(key)) != SnapshotDir {
		return uuid.Nil, 0, fmt.Errorf("%w: not a snapshot location %q", ErrInvalidField, key)
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("%w: snapshot id in %q: %v", ErrInvalidField, key, err)
	}
	ver, err := strconv.ParseUint(verPart, 10, 16)
	if err != nil {
		return uuid.Nil, 0, fmt.Errorf("%w: format version in %q: %v", ErrInvalidField, key, err)
	}
	return id, uint16(ver), nil
}
