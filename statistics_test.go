package fusesnap

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatisticsBasic(t *testing.T) {
	stats := NewStatistics()

	stats.RecordTick(TickerCommits, 2)
	stats.RecordTick(TickerCommits, 1)
	stats.RecordTick(TickerCommitAttempts, 5)

	assert.EqualValues(t, 3, stats.GetTickerCount(TickerCommits))
	assert.EqualValues(t, 5, stats.GetTickerCount(TickerCommitAttempts))
	assert.Zero(t, stats.GetTickerCount(TickerEnumMax))
	assert.Zero(t, stats.GetTickerCount(-1))
}

func TestStatisticsHistogram(t *testing.T) {
	stats := NewStatistics()

	stats.MeasureTime(HistogramCommitMicros, 100)
	stats.MeasureTime(HistogramCommitMicros, 200)
	stats.MeasureTime(HistogramCommitMicros, 300)

	data := stats.GetHistogramData(HistogramCommitMicros)
	assert.EqualValues(t, 3, data.Count)
	assert.EqualValues(t, 600, data.Sum)
	assert.EqualValues(t, 100, data.Min)
	assert.EqualValues(t, 300, data.Max)
	assert.EqualValues(t, 200, data.Average)

	assert.Equal(t, HistogramData{}, stats.GetHistogramData(HistogramResolveMicros))
}

func TestStatisticsReset(t *testing.T) {
	stats := NewStatistics()
	stats.RecordTick(TickerVacuumPasses, 1)
	stats.MeasureTime(HistogramVacuumMicros, 10)

	stats.Reset()

	assert.Zero(t, stats.GetTickerCount(TickerVacuumPasses))
	assert.Zero(t, stats.GetHistogramData(HistogramVacuumMicros).Count)
}

func TestStatisticsConcurrent(t *testing.T) {
	stats := NewStatistics()
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 1000 {
				stats.RecordTick(TickerResolves, 1)
				stats.MeasureTime(HistogramResolveMicros, uint64(j))
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 8000, stats.GetTickerCount(TickerResolves))
	data := stats.GetHistogramData(HistogramResolveMicros)
	assert.EqualValues(t, 8000, data.Count)
	assert.EqualValues(t, 0, data.Min)
	assert.EqualValues(t, 999, data.Max)
}

func TestStatisticsString(t *testing.T) {
	stats := NewStatistics()
	stats.RecordTick(TickerSegmentsDeleted, 1234)
	stats.MeasureTime(HistogramChainWalkLength, 4)

	s := stats.String()
	require.True(t, strings.HasPrefix(s, "TICKERS:\n"))
	assert.Contains(t, s, "fusesnap.vacuum.segments.deleted : 1234")
	assert.Contains(t, s, "fusesnap.chain.walk.length :")
	assert.NotContains(t, s, "fusesnap.commits")
}

func TestTickerNames(t *testing.T) {
	seen := make(map[string]bool)
	for i := range TickerEnumMax {
		name := i.String()
		assert.NotEqual(t, "unknown", name)
		assert.False(t, seen[name], name)
		seen[name] = true
	}
	for i := range HistogramEnumMax {
		assert.NotEqual(t, "unknown", i.String())
	}
}
