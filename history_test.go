package fusesnap

import (
	"math"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLimit(t *testing.T) {
	cases := []struct {
		in   any
		want int
	}{
		{nil, -1},
		{0, 0},
		{int8(3), 3},
		{int16(4), 4},
		{int32(5), 5},
		{int64(6), 6},
		{uint(7), 7},
		{uint8(8), 8},
		{uint16(9), 9},
		{uint32(10), 10},
		{uint64(11), 11},
		{uint64(math.MaxUint64), math.MaxInt32},
		{" 12 ", 12},
		{"18446744073709551615", math.MaxInt32},
		{int64(math.MaxInt64), math.MaxInt32},
	}
	for _, tc := range cases {
		got, err := ParseLimit(tc.in)
		require.NoError(t, err, "limit %v", tc.in)
		assert.Equal(t, tc.want, got, "limit %v", tc.in)
	}

	for _, bad := range []any{-1, int64(-9), "-2", "ten", "", 1.5, true} {
		_, err := ParseLimit(bad)
		assert.ErrorIs(t, err, ErrInvalidArgument, "limit %v", bad)
	}
}

func TestHistoryRowValues(t *testing.T) {
	id, prev := uuid.New(), uuid.New()
	ts := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	row := HistoryRow{SnapshotID: id, Timestamp: ts, PreviousSnapshotID: &prev, RowCount: 7, SegmentCount: 2, ByteSize: 90, Sequence: 3}

	vals := row.Values()
	require.Len(t, vals, len(HistoryColumns))
	assert.Equal(t, id.String(), vals[0])
	assert.Equal(t, ts, vals[1])
	assert.Equal(t, prev.String(), vals[2])
	assert.Equal(t, uint64(3), vals[6])

	row.PreviousSnapshotID = nil
	assert.Nil(t, row.Values()[2])
}
