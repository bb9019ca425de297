package fusesnap

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aalhour/fusesnap/internal/chain"
)

// HistoryColumns names the columns of the snapshot history table function,
// in the order HistoryRow.Values returns them.
var HistoryColumns = []string{
	"snapshot_id",
	"timestamp",
	"previous_snapshot_id",
	"row_count",
	"segment_count",
	"byte_size",
	"sequence",
	"schema_version",
}

// HistoryRow is one snapshot in a table's history.
type HistoryRow struct {
	SnapshotID         uuid.UUID
	Timestamp          time.Time
	PreviousSnapshotID *uuid.UUID
	RowCount           uint64
	SegmentCount       uint64
	ByteSize           uint64
	Sequence           uint64
	SchemaVersion      uint64
}

// Values returns the row in HistoryColumns order. A missing predecessor is nil.
func (r HistoryRow) Values() []any {
	var prev any
	if r.PreviousSnapshotID != nil {
		prev = r.PreviousSnapshotID.String()
	}
	return []any{
		r.SnapshotID.String(),
		r.Timestamp,
		prev,
		r.RowCount,
		r.SegmentCount,
		r.ByteSize,
		r.Sequence,
		r.SchemaVersion,
	}
}

// SnapshotHistory lists a table's retained snapshots, newest first.
//
// limit may be nil (no limit), any integer type or a numeric string. A
// negative or non-numeric limit fails with ErrInvalidArgument before any
// storage is touched; zero returns no rows. A soft-dropped table's history
// stays listable until it is hard-dropped.
func (e *Engine) SnapshotHistory(ctx context.Context, ident TableIdent, limit any) ([]HistoryRow, error) {
	n, err := ParseLimit(limit)
	if err != nil {
		return nil, err
	}
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	info, err := e.lookupReadable(ctx, ident)
	if err != nil {
		return nil, err
	}

	entries, err := chain.Collect(ctx, e.reader, info.Pointer, n)
	if err != nil {
		return nil, err
	}
	rows := make([]HistoryRow, 0, len(entries))
	for _, en := range entries {
		s := en.Snapshot
		rows = append(rows, HistoryRow{
			SnapshotID:         s.ID,
			Timestamp:          s.Timestamp,
			PreviousSnapshotID: s.PreviousID,
			RowCount:           s.Summary.RowCount,
			SegmentCount:       s.Summary.SegmentCount,
			ByteSize:           s.Summary.ByteSize,
			Sequence:           s.Sequence,
			SchemaVersion:      s.SchemaVersion,
		})
	}
	return rows, nil
}

// ParseLimit validates a history limit argument. It returns -1 for no limit.
func ParseLimit(limit any) (int, error) {
	var n int64
	switch v := limit.(type) {
	case nil:
		return -1, nil
	case int:
		n = int64(v)
	case int8:
		n = int64(v)
	case int16:
		n = int64(v)
	case int32:
		n = int64(v)
	case int64:
		n = v
	case uint:
		return clampLimit(uint64(v)), nil
	case uint8:
		n = int64(v)
	case uint16:
		n = int64(v)
	case uint32:
		n = int64(v)
	case uint64:
		return clampLimit(v), nil
	case string:
		s := strings.TrimSpace(v)
		parsed, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			if u, uerr := strconv.ParseUint(s, 10, 64); uerr == nil {
				return clampLimit(u), nil
			}
			return 0, fmt.Errorf("%w: limit %q is not an integer", ErrInvalidArgument, v)
		}
		n = parsed
	default:
		return 0, fmt.Errorf("%w: limit of type %T", ErrInvalidArgument, limit)
	}
	if n < 0 {
		return 0, fmt.Errorf("%w: limit %d is negative", ErrInvalidArgument, n)
	}
	return clampLimit(uint64(n)), nil
}

func clampLimit(n uint64) int {
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}
