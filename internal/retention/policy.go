package retention

import (
	"fmt"
	"time"
)

// Policy decides which snapshots a vacuum pass keeps.
type Policy struct {
	// RetainTransientLatestOnly keeps only the head snapshot.
	RetainTransientLatestOnly bool

	// TimeHorizon keeps snapshots newer than now minus the horizon.
	TimeHorizon time.Duration

	// MinSnapshotsToKeep is a floor on the number of snapshots kept,
	// counted from the head. Values below one are treated as one unless
	// Everything is set.
	MinSnapshotsToKeep int

	// Everything deletes every snapshot and segment of the table,
	// including the head. Used by hard drop.
	Everything bool

	// SweepOrphans deletes objects under the table's prefixes that no
	// snapshot in the chain references and that are older than OrphanMinAge.
	SweepOrphans bool
	OrphanMinAge time.Duration
}

// DefaultPolicy keeps one day of history and at least one snapshot.
func DefaultPolicy() Policy {
	return Policy{
		TimeHorizon:        24 * time.Hour,
		MinSnapshotsToKeep: 1,
	}
}

// TransientPolicy keeps only the latest snapshot.
func TransientPolicy() Policy {
	return Policy{
		RetainTransientLatestOnly: true,
		MinSnapshotsToKeep:        1,
	}
}

// EverythingPolicy removes all of a table's data.
func EverythingPolicy() Policy {
	return Policy{Everything: true, SweepOrphans: true}
}

// Validate rejects negative durations and floors.
func (p Policy) Validate() error {
	if p.TimeHorizon < 0 {
		return fmt.Errorf("retention: negative time horizon %s", p.TimeHorizon)
	}
	if p.MinSnapshotsToKeep < 0 {
		return fmt.Errorf("retention: negative snapshot floor %d", p.MinSnapshotsToKeep)
	}
	if p.OrphanMinAge < 0 {
		return fmt.Errorf("retention: negative orphan age %s", p.OrphanMinAge)
	}
	return nil
}

func (p Policy) String() string {
	switch {
	case p.Everything:
		return "everything"
	case p.RetainTransientLatestOnly:
		return "transient"
	default:
		return fmt.Sprintf("horizon=%s min=%d", p.TimeHorizon, p.MinSnapshotsToKeep)
	}
}
