package fusesnap

import (
	"time"

	"github.com/google/uuid"

	"github.com/aalhour/fusesnap/internal/catalog"
	"github.com/aalhour/fusesnap/internal/chain"
	"github.com/aalhour/fusesnap/internal/manifest"
	"github.com/aalhour/fusesnap/internal/retention"
)

// Catalog types.
type (
	TableIdent   = catalog.TableIdent
	TableOptions = catalog.TableOptions
	TableInfo    = catalog.TableInfo
)

// Snapshot data model.
type (
	Snapshot    = manifest.Snapshot
	Segment     = manifest.Segment
	SegmentID   = manifest.SegmentID
	ColumnStats = manifest.ColumnStats
	Summary     = manifest.Summary
	Mutation    = manifest.Mutation
)

// Time travel.
type (
	// TravelSpec selects which version of a table a read sees.
	TravelSpec = chain.Spec
	// Handle is a resolved snapshot. Release it when done reading.
	Handle = chain.Handle
)

// Retention.
type (
	RetentionPolicy = retention.Policy
	VacuumReport    = retention.Report
)

// Latest reads the current snapshot.
func Latest() TravelSpec { return chain.Latest() }

// AtSnapshot reads the snapshot with the given id.
func AtSnapshot(id uuid.UUID) TravelSpec { return chain.BySnapshotID(id) }

// AtTimestamp reads the newest snapshot not newer than t.
func AtTimestamp(t time.Time) TravelSpec { return chain.ByTimestamp(t) }

// Ident builds a table identifier in the default catalog.
func Ident(database, name string) TableIdent {
	return TableIdent{Catalog: catalog.DefaultCatalog, Database: database, Name: name}
}

// CommitResult describes a published snapshot.
type CommitResult struct {
	SnapshotID uuid.UUID
	Sequence   uint64
	Timestamp  time.Time
	RowCount   uint64
	Attempts   int
	Rebased    bool
}
