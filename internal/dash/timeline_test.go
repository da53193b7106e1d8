package dash

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMergeTimelines(t *testing.T) {
	t.Run("non-overlapping", func(t *testing.T) {
		oldTimeline := SegmentTimeline{
			Segments: []S{
				{T: 0, D: 10},
				{T: 10, D: 10},
			},
		}
		newTimeline := SegmentTimeline{
			Segments: []S{
				{T: 20, D: 10},
				{T: 30, D: 10},
			},
		}
		merged := MergeTimelines(oldTimeline, newTimeline)
		assert.Len(t, merged.Segments, 4)
		assert.Equal(t, uint64(0), merged.Segments[0].T)
		assert.Equal(t, uint64(10), merged.Segments[1].T)
		assert.Equal(t, uint64(20), merged.Segments[2].T)
		assert.Equal(t, uint64(30), merged.Segments[3].T)
	})

	t.Run("overlapping", func(t *testing.T) {
		oldTimeline := SegmentTimeline{
			Segments: []S{
				{T: 0, D: 10},
				{T: 10, D: 10},
			},
		}
		newTimeline := SegmentTimeline{
			Segments: []S{
				{T: 10, D: 12}, // overwrites old segment at T=10
				{T: 22, D: 10},
			},
		}
		merged := MergeTimelines(oldTimeline, newTimeline)
		assert.Len(t, merged.Segments, 3)
		assert.Equal(t, uint64(0), merged.Segments[0].T)
		assert.Equal(t, uint64(10), merged.Segments[1].T)
		assert.Equal(t, uint64(12), merged.Segments[1].D, "duration should be updated from new timeline")
		assert.Equal(t, uint64(22), merged.Segments[2].T)
	})

	t.Run("subset", func(t *testing.T) {
		oldTimeline := SegmentTimeline{
			Segments: []S{
				{T: 0, D: 10},
				{T: 10, D: 10},
				{T: 20, D: 10},
			},
		}
		newTimeline := SegmentTimeline{
			Segments: []S{
				{T: 10, D: 10},
			},
		}
		merged := MergeTimelines(oldTimeline, newTimeline)
		assert.Len(t, merged.Segments, 3)
		assert.Equal(t, uint64(0), merged.Segments[0].T)
		assert.Equal(t, uint64(10), merged.Segments[1].T)
		assert.Equal(t, uint64(20), merged.Segments[2].T)
	})

	t.Run("empty old", func(t *testing.T) {
		oldTimeline := SegmentTimeline{}
		newTimeline := SegmentTimeline{
			Segments: []S{
				{T: 10, D: 10},
			},
		}
		merged := MergeTimelines(oldTimeline, newTimeline)
		assert.Len(t, merged.Segments, 1)
		assert.Equal(t, uint64(10), merged.Segments[0].T)
	})

	t.Run("empty new", func(t *testing.T) {
		oldTimeline := SegmentTimeline{
			Segments: []S{
				{T: 10, D: 10},
			},
		}
		newTimeline := SegmentTimeline{}
		merged := MergeTimelines(oldTimeline, newTimeline)
		assert.Len(t, merged.Segments, 1)
		assert.Equal(t, uint64(10), merged.Segments[0].T)
	})
}

func TestExpandTimeline_AppliesRepeatCount(t *testing.T) {
	entries := expandTimeline(SegmentTimeline{
		Segments: []S{
			{T: 0, D: 4000, R: 2},
			{T: 12000, D: 2000},
		},
	})
	require := assert.New(t)
	require.Len(entries, 4)
	require.Equal(uint64(0), entries[0].start)
	require.Equal(uint64(4000), entries[1].start)
	require.Equal(uint64(8000), entries[2].start)
	require.Equal(uint64(12000), entries[3].start)
	require.Equal(uint64(2000), entries[3].duration)
}
