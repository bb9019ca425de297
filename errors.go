package fusesnap

import (
	"errors"

	"github.com/aalhour/fusesnap/internal/catalog"
	"github.com/aalhour/fusesnap/internal/chain"
	"github.com/aalhour/fusesnap/internal/commit"
	"github.com/aalhour/fusesnap/internal/manifest"
)

// Errors returned by Engine. Test with errors.Is; returned errors carry
// context around these sentinels.
var (
	// ErrCommitConflict means the commit lost the pointer race more often
	// than the retry budget allows, or could not be rebased onto the
	// winning snapshot. Recompute the mutation from a fresh base.
	ErrCommitConflict = commit.ErrCommitConflict

	// ErrSnapshotNotFound means the requested snapshot never existed or is
	// no longer retained.
	ErrSnapshotNotFound = chain.ErrSnapshotNotFound

	// ErrInvalidMutation means a removed segment is not part of the base.
	ErrInvalidMutation = manifest.ErrInvalidMutation

	// ErrInvalidArgument means a malformed argument was rejected before
	// any storage access.
	ErrInvalidArgument = errors.New("fusesnap: invalid argument")

	// ErrCorruptChain means manifests disagree with each other or with
	// the table pointer.
	ErrCorruptChain = chain.ErrCorruptChain

	// ErrEngineClosed is returned by every operation after Close.
	ErrEngineClosed = errors.New("fusesnap: engine closed")
)

// Catalog precondition errors. Every one of them also matches
// ErrCatalogPrecondition. Use CodeOf to get the numeric error code.
var (
	ErrCatalogPrecondition = catalog.ErrCatalogPrecondition
	ErrTableNotFound       = catalog.ErrTableNotFound
	ErrTableExists         = catalog.ErrTableExists
	ErrReservedNamespace   = catalog.ErrReservedNamespace
	ErrCrossCatalog        = catalog.ErrCrossCatalog
	ErrUndropTableExists   = catalog.ErrUndropTableExists
	ErrUndropNoDropTime    = catalog.ErrUndropNoDropTime
	ErrUndropNoHistory     = catalog.ErrUndropNoHistory
)

// CodeOf returns the catalog error code carried by err, or zero.
func CodeOf(err error) int {
	var ce *catalog.Error
	if errors.As(err, &ce) {
		return int(ce.Code)
	}
	return 0
}
