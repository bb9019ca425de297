package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aalhour/fusesnap/internal/catalog"
	"github.com/aalhour/fusesnap/internal/logging"
	"github.com/aalhour/fusesnap/internal/manifest"
	"github.com/aalhour/fusesnap/internal/pin"
)

// ErrSnapshotNotFound is returned when the requested snapshot is not
// reachable from the table pointer.
var ErrSnapshotNotFound = errors.New("chain: snapshot not found")

// Mode selects how a Spec picks a snapshot.
type Mode uint8

const (
	ModeLatest Mode = iota
	ModeSnapshotID
	ModeTimestamp
)

func (m Mode) String() string {
	switch m {
	case ModeLatest:
		return "latest"
	case ModeSnapshotID:
		return "snapshot_id"
	case ModeTimestamp:
		return "timestamp"
	default:
		return fmt.Sprintf("mode(%d)", uint8(m))
	}
}

// Spec describes which version of a table to read.
type Spec struct {
	Mode       Mode
	SnapshotID uuid.UUID
	Timestamp  time.Time
}

// Latest selects the table's current snapshot.
func Latest() Spec {
	return Spec{Mode: ModeLatest}
}

// BySnapshotID selects the snapshot with the given id.
func BySnapshotID(id uuid.UUID) Spec {
	return Spec{Mode: ModeSnapshotID, SnapshotID: id}
}

// ByTimestamp selects the newest snapshot whose timestamp is not after t.
func ByTimestamp(t time.Time) Spec {
	return Spec{Mode: ModeTimestamp, Timestamp: t}
}

func (s Spec) String() string {
	switch s.Mode {
	case ModeSnapshotID:
		return "snapshot " + s.SnapshotID.String()
	case ModeTimestamp:
		return "timestamp " + s.Timestamp.UTC().Format(time.RFC3339Nano)
	default:
		return s.Mode.String()
	}
}

// Handle is a resolved snapshot held open against retention.
// Callers must call Release when they stop reading.
type Handle struct {
	Snapshot *manifest.Snapshot
	Location string

	once    sync.Once
	release func()
}

// Release unpins the snapshot. It is safe to call more than once.
func (h *Handle) Release() {
	h.once.Do(func() {
		if h.release != nil {
			h.release()
		}
	})
}

// PointerReader reads a table's current pointer.
type PointerReader interface {
	ReadPointer(ctx context.Context, tableID uint64) (catalog.Pointer, error)
}

// Resolver maps a Spec to a pinned snapshot.
type Resolver struct {
	pointers PointerReader
	reader   *Reader
	pins     *pin.Registry
	logger   logging.Logger
}

// NewResolver creates a Resolver.
func NewResolver(pointers PointerReader, reader *Reader, pins *pin.Registry, logger logging.Logger) *Resolver {
	return &Resolver{
		pointers: pointers,
		reader:   reader,
		pins:     pins,
		logger:   logging.OrDefault(logger),
	}
}

// Resolve finds the snapshot spec names, pins it and returns a handle.
//
// The result depends only on the chain at call time. After pinning, the
// manifest's existence is checked against the store directly, bypassing the
// cache, so a snapshot reclaimed between lookup and pin is reported as not
// found rather than handed out.
func (r *Resolver) Resolve(ctx context.Context, tableID uint64, spec Spec) (*Handle, error) {
	head, err := r.pointers.ReadPointer(ctx, tableID)
	if err != nil {
		return nil, err
	}
	if head.IsZero() {
		return nil, fmt.Errorf("%w: table %d has no snapshots", ErrSnapshotNotFound, tableID)
	}

	var found *Entry
	switch spec.Mode {
	case ModeLatest:
		s, err := r.reader.Load(ctx, head.Location)
		if err != nil {
			return nil, err
		}
		found = &Entry{Snapshot: s, Location: head.Location}

	case ModeSnapshotID:
		err = Walk(ctx, r.reader, head, func(e Entry) (bool, error) {
			if e.Snapshot.ID == spec.SnapshotID {
				found = &e
				return true, nil
			}
			return false, nil
		})

	case ModeTimestamp:
		err = Walk(ctx, r.reader, head, func(e Entry) (bool, error) {
			if !e.Snapshot.Timestamp.After(spec.Timestamp) {
				found = &e
				return true, nil
			}
			return false, nil
		})

	default:
		return nil, fmt.Errorf("chain: unknown resolve mode %s", spec.Mode)
	}
	if err != nil {
		return nil, err
	}
	if found == nil {
		r.logger.Debugf("%stable %d: %s not in retained history", logging.NSResolve, tableID, spec)
		return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, spec)
	}

	release, err := r.pins.Pin(found.Snapshot.ID)
	if err != nil {
		if errors.Is(err, pin.ErrCondemned) {
			return nil, fmt.Errorf("%w: %s is being reclaimed", ErrSnapshotNotFound, found.Snapshot.ID)
		}
		return nil, err
	}
	ok, err := r.reader.Store().Exists(ctx, found.Location)
	if err != nil {
		release()
		return nil, err
	}
	if !ok {
		release()
		r.reader.Evict(found.Location)
		return nil, fmt.Errorf("%w: %s was reclaimed", ErrSnapshotNotFound, found.Snapshot.ID)
	}

	return &Handle{Snapshot: found.Snapshot, Location: found.Location, release: release}, nil
}
