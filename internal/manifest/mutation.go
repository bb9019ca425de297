package manifest

import "fmt"

// Mutation describes a change to a table's segment set.
//
// Inserts add segments. Deletes, updates and compactions remove segments and
// add their replacements. Overwrite replaces the whole segment set with Added.
type Mutation struct {
	Added     []*Segment
	Removed   []SegmentID
	Overwrite bool

	// SchemaVersion, when set, is recorded on the new snapshot. Otherwise the
	// predecessor's schema version carries over.
	SchemaVersion *uint64
}

// IsAppendOnly reports whether the mutation only adds segments.
func (m *Mutation) IsAppendOnly() bool {
	return !m.Overwrite && len(m.Removed) == 0
}

// RebaseSafe reports whether the mutation can be re-derived against current,
// the segment set of a snapshot committed after the caller's base.
//
// Pure appends are always safe. Overwrites are never safe because they would
// discard segments the caller never saw. Removals are safe only while every
// removed segment is still present in current.
func (m *Mutation) RebaseSafe(current []*Segment) bool {
	if m.Overwrite {
		return false
	}
	if len(m.Removed) == 0 {
		return true
	}
	present := make(map[SegmentID]struct{}, len(current))
	for _, seg := range current {
		present[seg.ID()] = struct{}{}
	}
	for _, id := range m.Removed {
		if _, ok := present[id]; !ok {
			return false
		}
	}
	return true
}

// Apply returns base with the mutation applied. Base is not modified.
//
// Apply fails with ErrInvalidMutation when a removed segment is absent from
// base, a segment is removed twice, or an added segment is already present.
func (m *Mutation) Apply(base []*Segment) ([]*Segment, error) {
	for _, seg := range m.Added {
		if seg == nil || seg.Location == "" {
			return nil, fmt.Errorf("%w: added segment without location", ErrInvalidMutation)
		}
	}

	var out []*Segment
	if !m.Overwrite {
		removed := make(map[SegmentID]bool, len(m.Removed))
		for _, id := range m.Removed {
			if _, dup := removed[id]; dup {
				return nil, fmt.Errorf("%w: segment %s removed twice", ErrInvalidMutation, id)
			}
			removed[id] = false
		}

		out = make([]*Segment, 0, len(base)+len(m.Added))
		for _, seg := range base {
			if _, ok := removed[seg.ID()]; ok {
				removed[seg.ID()] = true
				continue
			}
			out = append(out, seg)
		}
		for _, id := range m.Removed {
			if !removed[id] {
				return nil, fmt.Errorf("%w: removed segment %s not in base", ErrInvalidMutation, id)
			}
		}
	} else {
		out = make([]*Segment, 0, len(m.Added))
	}

	present := make(map[SegmentID]struct{}, len(out)+len(m.Added))
	for _, seg := range out {
		present[seg.ID()] = struct{}{}
	}
	for _, seg := range m.Added {
		if _, dup := present[seg.ID()]; dup {
			return nil, fmt.Errorf("%w: segment %s already present", ErrInvalidMutation, seg.Location)
		}
		present[seg.ID()] = struct{}{}
		out = append(out, seg)
	}
	return out, nil
}
