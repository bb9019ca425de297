// Package manifest defines snapshot manifests and their on-disk encoding.
//
// A snapshot manifest records the complete segment set of a table at one
// commit, aggregate statistics and a link to the predecessor manifest.
// Manifests are written once and never modified.
//
// The body is a sequence of tagged records. Each record is a varint Tag
// followed by its payload. Tags with TagSafeIgnoreMask set always carry a
// length-prefixed payload so older readers can skip them.
package manifest

// Tag identifies a serialized snapshot field.
// These numbers are written to disk and MUST NOT change.
type Tag uint32

const (
	TagSnapshotID    Tag = 1
	TagSequence      Tag = 2
	TagTimestamp     Tag = 3
	TagPrevious      Tag = 4
	TagSchemaVersion Tag = 5
	TagSegment       Tag = 6
	TagSummary       Tag = 7

	// Mask for an unidentified tag from the future which can be safely ignored.
	TagSafeIgnoreMask Tag = 1 << 13

	// TagWriter records the identity of the process that wrote the manifest.
	TagWriter Tag = TagSafeIgnoreMask | 1
)

// IsSafeToIgnore returns true if the tag can be safely ignored when unknown.
func (t Tag) IsSafeToIgnore() bool {
	return t&TagSafeIgnoreMask != 0
}

// SegmentTag identifies a field inside a TagSegment record.
type SegmentTag uint32

const (
	SegmentTagLocation  SegmentTag = 1
	SegmentTagRowCount  SegmentTag = 2
	SegmentTagByteSize  SegmentTag = 3
	SegmentTagColumn    SegmentTag = 4
	SegmentTagCreatedAt SegmentTag = 5

	// SegmentTagSafeIgnoreMask marks length-prefixed fields that may be skipped.
	SegmentTagSafeIgnoreMask SegmentTag = 1 << 6

	// SegmentTagContentHash carries the xxh3-128 digest of the segment bytes.
	SegmentTagContentHash SegmentTag = SegmentTagSafeIgnoreMask | 1
)

// IsSafeToIgnore returns true if the segment tag can be safely ignored when unknown.
func (t SegmentTag) IsSafeToIgnore() bool {
	return t&SegmentTagSafeIgnoreMask != 0
}
