package fusesnap

// options.go implements engine configuration options.

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"github.com/aalhour/fusesnap/internal/catalog"
	"github.com/aalhour/fusesnap/internal/checksum"
	"github.com/aalhour/fusesnap/internal/compression"
	"github.com/aalhour/fusesnap/internal/logging"
	"github.com/aalhour/fusesnap/internal/objstore"
	"github.com/aalhour/fusesnap/internal/retention"
)

// Logger is an alias for the logging.Logger interface.
// This allows users to pass their own logger implementation.
type Logger = logging.Logger

// CompressionType is an alias for the manifest compression type.
type CompressionType = compression.Type

// Compression type constants.
const (
	NoCompression     = compression.NoCompression
	SnappyCompression = compression.SnappyCompression
	ZlibCompression   = compression.ZlibCompression
	LZ4Compression    = compression.LZ4Compression
	ZstdCompression   = compression.ZstdCompression
)

// ChecksumType is an alias for the manifest checksum type.
type ChecksumType = checksum.Type

// Checksum type constants.
const (
	ChecksumTypeNoChecksum = checksum.TypeNoChecksum
	ChecksumTypeCRC32C     = checksum.TypeCRC32C
	ChecksumTypeXXHash64   = checksum.TypeXXHash64
	ChecksumTypeXXH3       = checksum.TypeXXH3
)

// Options configures an Engine.
type Options struct {
	// Catalog stores table records and their snapshot pointers.
	// Default: an in-memory catalog.
	Catalog catalog.Catalog

	// Store holds manifests and segment data.
	// Default: an in-memory store.
	Store objstore.Store

	// Logger receives engine diagnostics.
	// Default: a WARN-level logger on stderr.
	Logger Logger

	// Clock supplies commit timestamps and retention horizons.
	// Default: time.Now
	Clock func() time.Time

	// ManifestCompression compresses manifest bodies.
	// Default: NoCompression
	ManifestCompression CompressionType

	// ManifestChecksum protects manifest frames.
	// Default: ChecksumTypeXXH3
	ManifestChecksum ChecksumType

	// ManifestCacheSize bounds the number of decoded manifests kept in
	// memory. Zero disables the cache.
	// Default: 1024
	ManifestCacheSize int

	// MaxCommitRetries bounds the attempts made after a lost pointer race.
	// Default: 10
	MaxCommitRetries int

	// CommitBackoff and MaxCommitBackoff bound the wait between attempts.
	// Default: 5ms and 500ms
	CommitBackoff    time.Duration
	MaxCommitBackoff time.Duration

	// MaxPinnedSnapshots bounds concurrently resolved snapshots.
	// Zero means no limit.
	MaxPinnedSnapshots int

	// DefaultRetention is the policy used by VacuumAll and by Vacuum when
	// no policy is given.
	// Default: retention.DefaultPolicy()
	DefaultRetention retention.Policy

	// DropRetention is how long a dropped table stays restorable when its
	// table options do not set DataRetention. Zero keeps dropped tables
	// until they are hard-dropped.
	// Default: 24h
	DropRetention time.Duration

	// VacuumConcurrency bounds parallel deletes in a vacuum pass.
	// Default: 8
	VacuumConcurrency int

	// VacuumDeletesPerSecond throttles vacuum deletes. Zero disables it.
	VacuumDeletesPerSecond float64

	// Writer is recorded in every manifest this engine publishes.
	Writer string

	// Listeners receive commit, vacuum and drop events.
	Listeners []EventListener

	// Statistics collects engine counters. Nil disables collection.
	Statistics Statistics

	// MetricsRegisterer registers prometheus collectors. Nil disables them.
	MetricsRegisterer prometheus.Registerer

	// TracerProvider creates spans. Default: the global otel provider.
	TracerProvider trace.TracerProvider
}

// DefaultOptions returns the default options.
func DefaultOptions() Options {
	return Options{
		Logger:              logging.NewDefaultLogger(logging.LevelWarn),
		Clock:               time.Now,
		ManifestCompression: NoCompression,
		ManifestChecksum:    ChecksumTypeXXH3,
		ManifestCacheSize:   1024,
		MaxCommitRetries:    10,
		CommitBackoff:       5 * time.Millisecond,
		MaxCommitBackoff:    500 * time.Millisecond,
		DefaultRetention:    retention.DefaultPolicy(),
		DropRetention:       24 * time.Hour,
		VacuumConcurrency:   8,
	}
}
