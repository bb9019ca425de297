package manifest

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutLocations(t *testing.T) {
	l := TableLayout("sales", 42)
	id := uuid.MustParse("7f0c6b7e-2a7e-4a59-9d3f-0b1c2d3e4f50")

	loc := l.SnapshotLocation(id)
	assert.Equal(t, "sales/42/_ss/7f0c6b7e-2a7e-4a59-9d3f-0b1c2d3e4f50_v1.mf", loc)
	assert.True(t, l.IsSnapshotLocation(loc))
	assert.False(t, l.IsSegmentLocation(loc))

	gotID, ver, err := ParseSnapshotLocation(loc)
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, FormatVersion, ver)

	seg := l.SegmentLocation(id)
	assert.Equal(t, "sales/42/_sg/7f0c6b7e-2a7e-4a59-9d3f-0b1c2d3e4f50.seg", seg)
	assert.True(t, l.IsSegmentLocation(seg))
	assert.False(t, l.IsSnapshotLocation(seg))
}

func TestParseSnapshotLocationErrors(t *testing.T) {
	for _, key := range []string{
		"sales/42/_sg/abc.seg",
		"sales/42/_ss/not-a-uuid_v1.mf",
		"sales/42/_ss/7f0c6b7e-2a7e-4a59-9d3f-0b1c2d3e4f50.mf",
		"sales/42/_ss/7f0c6b7e-2a7e-4a59-9d3f-0b1c2d3e4f50_vX.mf",
	} {
		_, _, err := ParseSnapshotLocation(key)
		assert.ErrorIs(t, err, ErrInvalidField, key)
	}
}
