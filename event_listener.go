package fusesnap

// event_listener.go implements the EventListener interface for receiving engine events.

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// CommitInfo describes a published snapshot.
type CommitInfo struct {
	// Table is the committed table.
	Table TableIdent
	// TableID is the table's catalog id.
	TableID uint64
	// SnapshotID is the new head of the table.
	SnapshotID uuid.UUID
	// PreviousID is the snapshot the new head links to, if any.
	PreviousID *uuid.UUID
	// Sequence is the new head's position in the chain.
	Sequence uint64
	// RowCount is the new head's total row count.
	RowCount uint64
	// Attempts counts pointer swap attempts, including the winning one.
	Attempts int
	// Rebased is set when the mutation was applied to a newer base.
	Rebased bool
	// Duration is the wall time of the commit.
	Duration time.Duration
}

// VacuumInfo describes a completed vacuum pass.
type VacuumInfo struct {
	Table  TableIdent
	Report VacuumReport
}

// TableDropInfo describes a soft or hard drop.
type TableDropInfo struct {
	Table   TableIdent
	TableID uint64
	// Hard is set when the table's data was removed for good.
	Hard bool
	// TTL is how long a soft-dropped table stays restorable.
	TTL time.Duration
}

// BackgroundErrorInfo contains information about an error the engine
// handled without returning it to a caller.
type BackgroundErrorInfo struct {
	// Reason is the reason for the error.
	Reason BackgroundErrorReason
	// Table is the affected table.
	Table TableIdent
	// Status is the error that occurred.
	Status error
}

// BackgroundErrorReason describes the reason for a background error.
type BackgroundErrorReason int

const (
	// BackgroundErrorReasonTransientVacuum is for the vacuum that follows a
	// commit on a transient table.
	BackgroundErrorReasonTransientVacuum BackgroundErrorReason = iota
	// BackgroundErrorReasonPurge is for expired-drop purges.
	BackgroundErrorReasonPurge
)

// String returns the string representation of the background error reason.
func (r BackgroundErrorReason) String() string {
	names := []string{
		"TransientVacuum",
		"Purge",
	}
	if r >= 0 && int(r) < len(names) {
		return names[r]
	}
	return "Unknown"
}

// EventListener receives notifications about engine events.
// All callbacks should be thread-safe and non-blocking.
type EventListener interface {
	// OnCommitCompleted is called after a snapshot is published.
	OnCommitCompleted(info *CommitInfo)

	// OnVacuumCompleted is called after a vacuum pass.
	OnVacuumCompleted(info *VacuumInfo)

	// OnTableDropped is called after a soft or hard drop.
	OnTableDropped(info *TableDropInfo)

	// OnBackgroundError is called when an error is logged instead of returned.
	OnBackgroundError(info *BackgroundErrorInfo)
}

// NoOpEventListener is a default implementation that does nothing.
// Embed this in your listener if you only want to handle specific events.
type NoOpEventListener struct{}

func (l *NoOpEventListener) OnCommitCompleted(info *CommitInfo)          {}
func (l *NoOpEventListener) OnVacuumCompleted(info *VacuumInfo)          {}
func (l *NoOpEventListener) OnTableDropped(info *TableDropInfo)          {}
func (l *NoOpEventListener) OnBackgroundError(info *BackgroundErrorInfo) {}

// CountingEventListener counts events for testing purposes.
type CountingEventListener struct {
	NoOpEventListener
	CommitCount int
	VacuumCount int
	DropCount   int
	ErrorCount  int
	LastCommit  CommitInfo
	mu          sync.Mutex
}

func (l *CountingEventListener) OnCommitCompleted(info *CommitInfo) {
	l.mu.Lock()
	l.CommitCount++
	l.LastCommit = *info
	l.mu.Unlock()
}

func (l *CountingEventListener) OnVacuumCompleted(info *VacuumInfo) {
	l.mu.Lock()
	l.VacuumCount++
	l.mu.Unlock()
}

func (l *CountingEventListener) OnTableDropped(info *TableDropInfo) {
	l.mu.Lock()
	l.DropCount++
	l.mu.Unlock()
}

func (l *CountingEventListener) OnBackgroundError(info *BackgroundErrorInfo) {
	l.mu.Lock()
	l.ErrorCount++
	l.mu.Unlock()
}

// Counts returns a consistent copy of the counters.
func (l *CountingEventListener) Counts() (commits, vacuums, drops, errors int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.CommitCount, l.VacuumCount, l.DropCount, l.ErrorCount
}
