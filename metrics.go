package fusesnap

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics holds the engine's prometheus collectors. Collectors are only
// registered when Options.MetricsRegisterer is set; otherwise they are
// still updated but never exported.
type metrics struct {
	commits        *prometheus.CounterVec
	commitAttempts prometheus.Histogram
	commitDuration prometheus.Histogram
	resolves       *prometheus.CounterVec
	vacuumDeleted  *prometheus.CounterVec
	vacuumFailures prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		commits: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fusesnap_commits_total",
			Help: "Commits by result (ok, conflict, error)",
		}, []string{"result"}),
		commitAttempts: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fusesnap_commit_attempts",
			Help:    "Pointer swap attempts per commit",
			Buckets: []float64{1, 2, 3, 5, 8, 13},
		}),
		commitDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "fusesnap_commit_duration_seconds",
			Help:    "Commit latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14), // 0.5ms to ~4s
		}),
		resolves: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fusesnap_resolve_total",
			Help: "Resolves by mode and result",
		}, []string{"mode", "result"}),
		vacuumDeleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fusesnap_vacuum_deleted_total",
			Help: "Objects deleted by vacuum, by kind",
		}, []string{"kind"}),
		vacuumFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "fusesnap_vacuum_delete_failures_total",
			Help: "Failed deletes during vacuum",
		}),
	}
}

func (m *metrics) observeCommit(result string, attempts int, d time.Duration) {
	m.commits.WithLabelValues(result).Inc()
	if attempts > 0 {
		m.commitAttempts.Observe(float64(attempts))
	}
	m.commitDuration.Observe(d.Seconds())
}

func (m *metrics) observeResolve(mode, result string) {
	m.resolves.WithLabelValues(mode, result).Inc()
}

func (m *metrics) observeVacuum(rep VacuumReport) {
	m.vacuumDeleted.WithLabelValues("snapshot").Add(float64(rep.SnapshotsDeleted))
	m.vacuumDeleted.WithLabelValues("segment").Add(float64(rep.SegmentsDeleted))
	m.vacuumDeleted.WithLabelValues("orphan").Add(float64(rep.OrphansDeleted))
	m.vacuumFailures.Add(float64(rep.DeleteFailures))
}
