package manifest

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// FormatVersion is the manifest format written by this package.
const FormatVersion uint16 = 1

// Errors returned by snapshot validation and mutation.
var (
	ErrInvalidSnapshot = errors.New("manifest: invalid snapshot")
	ErrInvalidMutation = errors.New("manifest: invalid mutation")
)

// SegmentID identifies a segment. It is the segment's location, which is
// unique per write: two writes of the same bytes are two segments.
type SegmentID string

// ColumnStats holds pruning statistics for one column of a segment.
type ColumnStats struct {
	Min       []byte
	Max       []byte
	NullCount uint64
}

// Segment is an immutable reference to a block of physical table data.
type Segment struct {
	Location    string
	RowCount    uint64
	ByteSize    uint64
	ColumnStats map[uint32]ColumnStats
	CreatedAt   time.Time

	// ContentHash is the hex xxh3-128 digest of the segment bytes. Empty when
	// the writer did not record one.
	ContentHash string
}

// ID returns the segment's identifier.
func (s *Segment) ID() SegmentID {
	return SegmentID(s.Location)
}

// Summary aggregates the statistics of a snapshot's segments.
type Summary struct {
	RowCount     uint64
	ByteSize     uint64
	SegmentCount uint64
}

// Summarize computes the summary of a segment set.
func Summarize(segments []*Segment) Summary {
	var s Summary
	for _, seg := range segments {
		s.RowCount += seg.RowCount
		s.ByteSize += seg.ByteSize
		s.SegmentCount++
	}
	return s
}

// Snapshot is one immutable version of a table.
//
// Segments is the complete segment set of the table at this version, not a
// delta against the predecessor. Sequence is the predecessor's Sequence plus
// one and orders snapshots whose timestamps are equal.
type Snapshot struct {
	ID               uuid.UUID
	Sequence         uint64
	Timestamp        time.Time
	PreviousID       *uuid.UUID
	PreviousLocation string
	Segments         []*Segment
	Summary          Summary
	SchemaVersion    uint64
	FormatVersion    uint16

	// Writer is informational and not part of the snapshot's identity.
	Writer string
}

// HasPrevious reports whether the snapshot has a predecessor.
func (s *Snapshot) HasPrevious() bool {
	return s.PreviousID != nil
}

// SegmentIDs returns the set of segment ids referenced by the snapshot.
func (s *Snapshot) SegmentIDs() map[SegmentID]struct{} {
	ids := make(map[SegmentID]struct{}, len(s.Segments))
	for _, seg := range s.Segments {
		ids[seg.ID()] = struct{}{}
	}
	return ids
}

// Validate checks the structural invariants of a snapshot.
func (s *Snapshot) Validate() error {
	if s.ID == uuid.Nil {
		return fmt.Errorf("%w: nil id", ErrInvalidSnapshot)
	}
	if s.Sequence == 0 {
		return fmt.Errorf("%w: zero sequence", ErrInvalidSnapshot)
	}
	if s.PreviousID == nil && s.Sequence != 1 {
		return fmt.Errorf("%w: sequence %d without predecessor", ErrInvalidSnapshot, s.Sequence)
	}
	if s.PreviousID != nil {
		if *s.PreviousID == s.ID {
			return fmt.Errorf("%w: snapshot %s references itself", ErrInvalidSnapshot, s.ID)
		}
		if s.PreviousLocation == "" {
			return fmt.Errorf("%w: predecessor %s has no location", ErrInvalidSnapshot, *s.PreviousID)
		}
	}
	seen := make(map[SegmentID]struct{}, len(s.Segments))
	for _, seg := range s.Segments {
		if seg == nil || seg.Location == "" {
			return fmt.Errorf("%w: segment without location", ErrInvalidSnapshot)
		}
		if _, dup := seen[seg.ID()]; dup {
			return fmt.Errorf("%w: duplicate segment %s", ErrInvalidSnapshot, seg.Location)
		}
		seen[seg.ID()] = struct{}{}
	}
	if want := Summarize(s.Segments); s.Summary != want {
		return fmt.Errorf("%w: summary %+v does not match segments %+v", ErrInvalidSnapshot, s.Summary, want)
	}
	return nil
}

// String returns a short description for logs.
func (s *Snapshot) String() string {
	return fmt.Sprintf("snapshot %s seq=%d rows=%d segments=%d", s.ID, s.Sequence, s.Summary.RowCount, s.Summary.SegmentCount)
}
