// Package catalog holds table metadata and the per-table snapshot pointer.
//
// The pointer is the only mutable state a table has. It changes through
// CASPointer, which succeeds only when the stored pointer still equals the
// caller's expected value. Everything else about a table (its snapshots and
// segments) lives in the object store and is immutable.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultCatalog is used when a TableIdent leaves Catalog empty.
const DefaultCatalog = "default"

// Databases that user DDL may not touch.
var reservedDatabases = map[string]bool{
	"system":             true,
	"information_schema": true,
}

// IsReservedDatabase reports whether db is a system namespace.
func IsReservedDatabase(db string) bool {
	return reservedDatabases[strings.ToLower(db)]
}

var (
	// ErrCatalogPrecondition is wrapped by every *Error.
	ErrCatalogPrecondition = errors.New("catalog: precondition failed")

	ErrTableNotFound     = errors.New("catalog: unknown table")
	ErrTableExists       = errors.New("catalog: table already exists")
	ErrReservedNamespace = errors.New("catalog: reserved namespace")
	ErrCrossCatalog      = errors.New("catalog: cross-catalog reference")
	ErrUndropTableExists = errors.New("catalog: undrop target name is taken")
	ErrUndropNoDropTime  = errors.New("catalog: table has no drop time")
	ErrUndropNoHistory   = errors.New("catalog: no dropped table to restore")
	ErrInvalidIdent      = errors.New("catalog: invalid table identifier")
	ErrClosed            = errors.New("catalog: closed")
)

// Code is a stable numeric error code reported to clients.
type Code int

const (
	CodeReservedNamespace         Code = 1002
	CodeCrossCatalog              Code = 1006
	CodeUnknownTable              Code = 1025
	CodeTableAlreadyExists        Code = 2302
	CodeUndropTableAlreadyExists  Code = 2308
	CodeUndropTableWithNoDropTime Code = 2309
	CodeUndropTableHasNoHistory   Code = 2310
)

var codeSentinels = map[Code]error{
	CodeReservedNamespace:         ErrReservedNamespace,
	CodeCrossCatalog:              ErrCrossCatalog,
	CodeUnknownTable:              ErrTableNotFound,
	CodeTableAlreadyExists:        ErrTableExists,
	CodeUndropTableAlreadyExists:  ErrUndropTableExists,
	CodeUndropTableWithNoDropTime: ErrUndropNoDropTime,
	CodeUndropTableHasNoHistory:   ErrUndropNoHistory,
}

// Error is a DDL precondition failure.
type Error struct {
	Code   Code
	Op     string
	Table  string
	Detail string
}

func newError(code Code, op string, ident TableIdent, detail string) *Error {
	return &Error{Code: code, Op: op, Table: ident.String(), Detail: detail}
}

func (e *Error) Error() string {
	reason := "precondition failed"
	if s, ok := codeSentinels[e.Code]; ok {
		reason = strings.TrimPrefix(s.Error(), "catalog: ")
	}
	msg := fmt.Sprintf("catalog: %s %s: %s (code %d)", e.Op, e.Table, reason, e.Code)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Unwrap lets errors.Is match both ErrCatalogPrecondition and the specific
// sentinel for the code.
func (e *Error) Unwrap() []error {
	errs := []error{ErrCatalogPrecondition}
	if s, ok := codeSentinels[e.Code]; ok {
		errs = append(errs, s)
	}
	return errs
}

// TableIdent names a table.
type TableIdent struct {
	Catalog  string
	Database string
	Name     string
}

// Normalize fills in the default catalog.
func (t TableIdent) Normalize() TableIdent {
	if t.Catalog == "" {
		t.Catalog = DefaultCatalog
	}
	return t
}

// Validate checks that every part is present and free of separators.
func (t TableIdent) Validate() error {
	for _, part := range []string{t.Catalog, t.Database, t.Name} {
		if part == "" || strings.ContainsAny(part, "/\x00") {
			return fmt.Errorf("%w: %q", ErrInvalidIdent, t.String())
		}
	}
	return nil
}

func (t TableIdent) String() string {
	return t.Catalog + "." + t.Database + "." + t.Name
}

// Pointer names a table's current snapshot. The zero Pointer means the table
// has no snapshots yet.
type Pointer struct {
	SnapshotID uuid.UUID `json:"snapshot_id"`
	Location   string    `json:"location"`
	Sequence   uint64    `json:"sequence"`
}

// IsZero reports whether the pointer names no snapshot.
func (p Pointer) IsZero() bool {
	return p == Pointer{}
}

// TableOptions are set at creation time.
type TableOptions struct {
	// Transient tables keep only their newest snapshot.
	Transient     bool          `json:"transient,omitempty"`
	SchemaVersion uint64        `json:"schema_version,omitempty"`
	DataRetention time.Duration `json:"data_retention,omitempty"`
}

// TableInfo is the catalog record of one table.
type TableInfo struct {
	ID        uint64        `json:"id"`
	Ident     TableIdent    `json:"ident"`
	Options   TableOptions  `json:"options"`
	Pointer   Pointer       `json:"pointer"`
	CreatedAt time.Time     `json:"created_at"`
	DroppedAt time.Time     `json:"dropped_at"`
	DropTTL   time.Duration `json:"drop_ttl,omitempty"`
}

// Dropped reports whether the table is soft-dropped.
func (t *TableInfo) Dropped() bool {
	return !t.DroppedAt.IsZero()
}

// Expired reports whether a dropped table's retention has lapsed at now.
// A zero DropTTL never expires.
func (t *TableInfo) Expired(now time.Time) bool {
	return t.Dropped() && t.DropTTL > 0 && !now.Before(t.DroppedAt.Add(t.DropTTL))
}

func (t *TableInfo) clone() *TableInfo {
	c := *t
	return &c
}

// Catalog stores table records and performs pointer compare-and-swap.
type Catalog interface {
	CreateTable(ctx context.Context, ident TableIdent, opts TableOptions, ifNotExists bool) (*TableInfo, error)
	GetTable(ctx context.Context, ident TableIdent) (*TableInfo, error)
	GetTableByID(ctx context.Context, id uint64) (*TableInfo, error)
	ListTables(ctx context.Context, catalog, database string) ([]*TableInfo, error)
	ListDropped(ctx context.Context) ([]*TableInfo, error)

	ReadPointer(ctx context.Context, tableID uint64) (Pointer, error)
	// CASPointer replaces the pointer with next iff it equals expected.
	// It returns false, nil when the pointer has moved.
	CASPointer(ctx context.Context, tableID uint64, expected, next Pointer) (bool, error)

	RenameTable(ctx context.Context, from, to TableIdent, ifExists bool) error
	DropTable(ctx context.Context, ident TableIdent, ttl time.Duration, ifExists bool) error
	UndropTable(ctx context.Context, ident TableIdent) (*TableInfo, error)
	// RemoveTable deletes the record of a dropped table for good.
	RemoveTable(ctx context.Context, tableID uint64) error

	Close() error
}
