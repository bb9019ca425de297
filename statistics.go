package fusesnap

// statistics.go implements the Statistics interface for collecting engine counters.

import (
	"fmt"
	"strings"
	"sync/atomic"
)

// TickerType represents different types of counters.
type TickerType int

const (
	// TickerCommits is the count of published snapshots.
	TickerCommits TickerType = iota
	// TickerCommitAttempts is the count of compare-and-swap attempts.
	TickerCommitAttempts
	// TickerCommitConflicts is the count of commits that gave up.
	TickerCommitConflicts
	// TickerCommitRebases is the count of commits applied to a newer base.
	TickerCommitRebases
	// TickerResolves is the count of successful resolves.
	TickerResolves
	// TickerResolveNotFound is the count of resolves that found nothing.
	TickerResolveNotFound
	// TickerVacuumPasses is the count of completed vacuum passes.
	TickerVacuumPasses
	// TickerSnapshotsDeleted is the count of manifests reclaimed.
	TickerSnapshotsDeleted
	// TickerSegmentsDeleted is the count of segments reclaimed.
	TickerSegmentsDeleted
	// TickerOrphansDeleted is the count of unreferenced objects reclaimed.
	TickerOrphansDeleted
	// TickerDeleteFailures is the count of failed deletes during vacuum.
	TickerDeleteFailures
	// TickerTablesDropped is the count of soft drops.
	TickerTablesDropped
	// TickerTablesPurged is the count of hard drops.
	TickerTablesPurged

	// TickerEnumMax is the maximum ticker type for sizing arrays.
	TickerEnumMax
)

// String returns the name of the ticker type.
func (t TickerType) String() string {
	names := []string{
		"fusesnap.commits",
		"fusesnap.commit.attempts",
		"fusesnap.commit.conflicts",
		"fusesnap.commit.rebases",
		"fusesnap.resolves",
		"fusesnap.resolve.notfound",
		"fusesnap.vacuum.passes",
		"fusesnap.vacuum.snapshots.deleted",
		"fusesnap.vacuum.segments.deleted",
		"fusesnap.vacuum.orphans.deleted",
		"fusesnap.vacuum.delete.failures",
		"fusesnap.tables.dropped",
		"fusesnap.tables.purged",
	}
	if t >= 0 && int(t) < len(names) {
		return names[t]
	}
	return "unknown"
}

// HistogramType represents different types of histograms.
type HistogramType int

const (
	// HistogramCommitMicros is the histogram for commit latency.
	HistogramCommitMicros HistogramType = iota
	// HistogramResolveMicros is the histogram for resolve latency.
	HistogramResolveMicros
	// HistogramVacuumMicros is the histogram for vacuum pass duration.
	HistogramVacuumMicros
	// HistogramChainWalkLength is the histogram for snapshots visited per resolve.
	HistogramChainWalkLength

	// HistogramEnumMax is the maximum histogram type for sizing arrays.
	HistogramEnumMax
)

// String returns the name of the histogram type.
func (h HistogramType) String() string {
	names := []string{
		"fusesnap.commit.micros",
		"fusesnap.resolve.micros",
		"fusesnap.vacuum.micros",
		"fusesnap.chain.walk.length",
	}
	if h >= 0 && int(h) < len(names) {
		return names[h]
	}
	return "unknown"
}

// HistogramData contains histogram statistics.
type HistogramData struct {
	Average float64
	Max     float64
	Min     float64
	Count   uint64
	Sum     uint64
}

// Statistics collects and reports engine metrics.
type Statistics interface {
	// GetTickerCount returns the current value of a ticker.
	GetTickerCount(tickerType TickerType) uint64

	// RecordTick increments a ticker by count.
	RecordTick(tickerType TickerType, count uint64)

	// GetHistogramData returns histogram statistics.
	GetHistogramData(histogramType HistogramType) HistogramData

	// MeasureTime records a value to a histogram.
	MeasureTime(histogramType HistogramType, value uint64)

	// Reset clears all statistics.
	Reset()

	// String returns a formatted string of all statistics.
	String() string
}

// statisticsImpl is the default implementation of Statistics.
type statisticsImpl struct {
	tickers    [TickerEnumMax]atomic.Uint64
	histograms [HistogramEnumMax]atomic.Pointer[histogramImpl]
}

// histogramImpl is a simple lock-free histogram.
type histogramImpl struct {
	min   atomic.Uint64
	max   atomic.Uint64
	sum   atomic.Uint64
	count atomic.Uint64
}

func newHistogram() *histogramImpl {
	h := &histogramImpl{}
	h.min.Store(^uint64(0))
	return h
}

// NewStatistics creates a new Statistics instance.
func NewStatistics() Statistics {
	s := &statisticsImpl{}
	for i := range s.histograms {
		s.histograms[i].Store(newHistogram())
	}
	return s
}

func (s *statisticsImpl) GetTickerCount(tickerType TickerType) uint64 {
	if tickerType < 0 || tickerType >= TickerEnumMax {
		return 0
	}
	return s.tickers[tickerType].Load()
}

func (s *statisticsImpl) RecordTick(tickerType TickerType, count uint64) {
	if tickerType < 0 || tickerType >= TickerEnumMax {
		return
	}
	s.tickers[tickerType].Add(count)
}

func (s *statisticsImpl) GetHistogramData(histogramType HistogramType) HistogramData {
	if histogramType < 0 || histogramType >= HistogramEnumMax {
		return HistogramData{}
	}

	h := s.histograms[histogramType].Load()
	count := h.count.Load()
	if count == 0 {
		return HistogramData{}
	}
	sum := h.sum.Load()
	return HistogramData{
		Count:   count,
		Sum:     sum,
		Min:     float64(h.min.Load()),
		Max:     float64(h.max.Load()),
		Average: float64(sum) / float64(count),
	}
}

func (s *statisticsImpl) MeasureTime(histogramType HistogramType, value uint64) {
	if histogramType < 0 || histogramType >= HistogramEnumMax {
		return
	}

	h := s.histograms[histogramType].Load()
	h.count.Add(1)
	h.sum.Add(value)
	for {
		old := h.min.Load()
		if value >= old || h.min.CompareAndSwap(old, value) {
			break
		}
	}
	for {
		old := h.max.Load()
		if value <= old || h.max.CompareAndSwap(old, value) {
			break
		}
	}
}

func (s *statisticsImpl) Reset() {
	for i := range s.tickers {
		s.tickers[i].Store(0)
	}
	for i := range s.histograms {
		s.histograms[i].Store(newHistogram())
	}
}

func (s *statisticsImpl) String() string {
	var b strings.Builder
	b.WriteString("TICKERS:\n")
	for i := range TickerEnumMax {
		if count := s.GetTickerCount(i); count > 0 {
			fmt.Fprintf(&b, "  %s : %d\n", i, count)
		}
	}
	b.WriteString("\nHISTOGRAMS:\n")
	for i := range HistogramEnumMax {
		data := s.GetHistogramData(i)
		if data.Count == 0 {
			continue
		}
		fmt.Fprintf(&b, "  %s :\n    Count: %d\n    Avg: %.2f\n    Min: %.2f\n    Max: %.2f\n",
			i, data.Count, data.Average, data.Min, data.Max)
	}
	return b.String()
}

// recordTick is a nil-safe RecordTick.
func recordTick(s Statistics, t TickerType, n uint64) {
	if s != nil && n > 0 {
		s.RecordTick(t, n)
	}
}

func measureTime(s Statistics, h HistogramType, v uint64) {
	if s != nil {
		s.MeasureTime(h, v)
	}
}
