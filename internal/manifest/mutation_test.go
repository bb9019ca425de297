package manifest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func segs(locs ...string) []*Segment {
	out := make([]*Segment, len(locs))
	for i, l := range locs {
		out[i] = &Segment{Location: l, RowCount: 1}
	}
	return out
}

func locations(s []*Segment) []string {
	out := make([]string, len(s))
	for i, seg := range s {
		out[i] = seg.Location
	}
	return out
}

func TestMutationApply(t *testing.T) {
	base := segs("a", "b", "c")

	tests := []struct {
		name    string
		m       Mutation
		want    []string
		wantErr bool
	}{
		{"append", Mutation{Added: segs("d")}, []string{"a", "b", "c", "d"}, false},
		{"remove", Mutation{Removed: []SegmentID{"b"}}, []string{"a", "c"}, false},
		{"replace", Mutation{Removed: []SegmentID{"a", "c"}, Added: segs("e")}, []string{"b", "e"}, false},
		{"overwrite", Mutation{Overwrite: true, Added: segs("x")}, []string{"x"}, false},
		{"truncate", Mutation{Overwrite: true}, []string{}, false},
		{"empty", Mutation{}, []string{"a", "b", "c"}, false},
		{"remove missing", Mutation{Removed: []SegmentID{"z"}}, nil, true},
		{"remove twice", Mutation{Removed: []SegmentID{"a", "a"}}, nil, true},
		{"duplicate add", Mutation{Added: segs("a")}, nil, true},
		{"add without location", Mutation{Added: []*Segment{{}}}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.m.Apply(base)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMutation)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, locations(got))
			assert.Equal(t, []string{"a", "b", "c"}, locations(base), "base must not change")
		})
	}
}

func TestMutationRebaseSafe(t *testing.T) {
	current := segs("a", "c", "d")

	assert.True(t, (&Mutation{Added: segs("x")}).RebaseSafe(current))
	assert.True(t, (&Mutation{Removed: []SegmentID{"a"}}).RebaseSafe(current))
	assert.False(t, (&Mutation{Removed: []SegmentID{"b"}}).RebaseSafe(current), "b was compacted away")
	assert.False(t, (&Mutation{Overwrite: true}).RebaseSafe(current))

	assert.True(t, (&Mutation{Added: segs("x")}).IsAppendOnly())
	assert.False(t, (&Mutation{Removed: []SegmentID{"a"}}).IsAppendOnly())
}
