package fusesnap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aalhour/fusesnap/internal/catalog"
	"github.com/aalhour/fusesnap/internal/chain"
	"github.com/aalhour/fusesnap/internal/commit"
	"github.com/aalhour/fusesnap/internal/logging"
	"github.com/aalhour/fusesnap/internal/manifest"
	"github.com/aalhour/fusesnap/internal/objstore"
	"github.com/aalhour/fusesnap/internal/pin"
	"github.com/aalhour/fusesnap/internal/retention"
)

const tracerName = "github.com/aalhour/fusesnap"

// Engine versions tables stored in an object store. It is safe for
// concurrent use; any number of engines may share a catalog and store.
type Engine struct {
	opts      Options
	catalog   catalog.Catalog
	store     objstore.Store
	reader    *chain.Reader
	pins      *pin.Registry
	resolver  *chain.Resolver
	committer *commit.Coordinator
	collector *retention.Collector
	logger    Logger
	stats     Statistics
	metrics   *metrics
	tracer    trace.Tracer

	// vacuumLocks serializes vacuum passes per table id.
	vacuumLocks sync.Map

	closed atomic.Bool
}

// Open creates an Engine. A nil Logger, Clock or TracerProvider takes its
// default, and a nil Catalog or Store is replaced by an in-memory one.
// Start from DefaultOptions to get the remaining defaults.
func Open(opts Options) (*Engine, error) {
	def := DefaultOptions()
	if logging.IsNil(opts.Logger) {
		opts.Logger = def.Logger
	}
	if opts.Clock == nil {
		opts.Clock = def.Clock
	}
	if opts.ManifestCacheSize < 0 {
		return nil, fmt.Errorf("%w: negative manifest cache size", ErrInvalidArgument)
	}
	if !opts.ManifestCompression.IsSupported() {
		return nil, fmt.Errorf("%w: manifest compression %s", ErrInvalidArgument, opts.ManifestCompression)
	}
	if !opts.ManifestChecksum.IsSupported() {
		return nil, fmt.Errorf("%w: manifest checksum %s", ErrInvalidArgument, opts.ManifestChecksum)
	}
	if err := opts.DefaultRetention.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if opts.DefaultRetention == (retention.Policy{}) {
		opts.DefaultRetention = def.DefaultRetention
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.NewMemory()
	}
	if opts.Store == nil {
		opts.Store = objstore.NewMemory()
	}
	if opts.TracerProvider == nil {
		opts.TracerProvider = otel.GetTracerProvider()
	}

	reader, err := chain.NewReader(opts.Store, opts.ManifestCacheSize, opts.Logger)
	if err != nil {
		return nil, err
	}
	pins := pin.NewRegistry(opts.MaxPinnedSnapshots)

	e := &Engine{
		opts:     opts,
		catalog:  opts.Catalog,
		store:    opts.Store,
		reader:   reader,
		pins:     pins,
		resolver: chain.NewResolver(opts.Catalog, reader, pins, opts.Logger),
		committer: commit.New(opts.Catalog, reader, commit.Options{
			MaxRetries:  opts.MaxCommitRetries,
			BaseBackoff: opts.CommitBackoff,
			MaxBackoff:  opts.MaxCommitBackoff,
			Clock:       opts.Clock,
			Encode: manifest.EncodeOptions{
				Compression: opts.ManifestCompression,
				Checksum:    opts.ManifestChecksum,
			},
			Writer: opts.Writer,
			Logger: opts.Logger,
		}),
		collector: retention.NewCollector(opts.Catalog, reader, pins, retention.Options{
			Concurrency:      opts.VacuumConcurrency,
			DeletesPerSecond: opts.VacuumDeletesPerSecond,
			Clock:            opts.Clock,
			Logger:           opts.Logger,
		}),
		logger:  opts.Logger,
		stats:   opts.Statistics,
		metrics: newMetrics(opts.MetricsRegisterer),
		tracer:  opts.TracerProvider.Tracer(tracerName),
	}
	e.logger.Infof("%sopened (manifest cache %d, max commit retries %d)", logging.NSEngine, opts.ManifestCacheSize, opts.MaxCommitRetries)
	return e, nil
}

// Close releases the catalog and, if it holds resources, the store.
// Handles resolved before Close stay readable until released.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return ErrEngineClosed
	}
	var errs []error
	if err := e.catalog.Close(); err != nil {
		errs = append(errs, err)
	}
	if c, ok := e.store.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	e.logger.Infof("%sclosed", logging.NSEngine)
	return errors.Join(errs...)
}

func (e *Engine) checkOpen() error {
	if e.closed.Load() {
		return ErrEngineClosed
	}
	return nil
}

// Statistics returns the engine's statistics collector, or nil.
func (e *Engine) Statistics() Statistics {
	return e.stats
}

// CacheStats reports manifest cache effectiveness.
func (e *Engine) CacheStats() chain.CacheStats {
	return e.reader.Stats()
}

// layout places a table's objects under {catalog}/{id}, which survives renames.
func layout(info *TableInfo) manifest.Layout {
	return manifest.TableLayout(info.Ident.Catalog, info.ID)
}

func target(info *TableInfo) commit.Target {
	return commit.Target{TableID: info.ID, Layout: layout(info), SchemaVersion: info.Options.SchemaVersion}
}

// CreateTable registers a new, empty table.
func (e *Engine) CreateTable(ctx context.Context, ident TableIdent, opts TableOptions, ifNotExists bool) (*TableInfo, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	info, err := e.catalog.CreateTable(ctx, ident, opts, ifNotExists)
	if err != nil {
		return nil, err
	}
	e.logger.Infof("%screated table %s (id %d, transient %t)", logging.NSEngine, info.Ident, info.ID, info.Options.Transient)
	return info, nil
}

// GetTable returns the catalog record of a live table.
func (e *Engine) GetTable(ctx context.Context, ident TableIdent) (*TableInfo, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.catalog.GetTable(ctx, ident)
}

// ListTables lists live tables of a catalog, optionally of one database.
func (e *Engine) ListTables(ctx context.Context, catalogName, database string) ([]*TableInfo, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.catalog.ListTables(ctx, catalogName, database)
}

// ListDropped lists soft-dropped tables that have not been purged.
func (e *Engine) ListDropped(ctx context.Context) ([]*TableInfo, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.catalog.ListDropped(ctx)
}

// lookupReadable finds a live table, or else the most recently dropped
// table under that name.
func (e *Engine) lookupReadable(ctx context.Context, ident TableIdent) (*TableInfo, error) {
	info, err := e.catalog.GetTable(ctx, ident)
	if err == nil || !errors.Is(err, ErrTableNotFound) {
		return info, err
	}
	dropped, derr := e.catalog.ListDropped(ctx)
	if derr != nil {
		return nil, derr
	}
	want := ident.Normalize()
	var found *TableInfo
	for _, d := range dropped {
		if d.Ident == want && (found == nil || d.DroppedAt.After(found.DroppedAt)) {
			found = d
		}
	}
	if found == nil {
		return nil, err
	}
	return found, nil
}

// WriteSegment stores a segment blob for ident under a fresh key and
// returns the entry to pass in a Mutation.
func (e *Engine) WriteSegment(ctx context.Context, ident TableIdent, data []byte, rows uint64, stats map[uint32]ColumnStats) (*Segment, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	info, err := e.catalog.GetTable(ctx, ident)
	if err != nil {
		return nil, err
	}
	return objstore.WriteSegment(ctx, e.store, layout(info), data, rows, stats, e.opts.Clock())
}

// Commit applies m to the table and publishes a new snapshot.
//
// base is the snapshot id the caller read before computing m, nil for an
// empty table. Commits racing on the same base are linearized by the
// catalog's pointer swap; the losers are rebased when m allows it and
// otherwise fail with ErrCommitConflict. On a transient table every
// successful commit is followed by a vacuum that keeps only the new
// snapshot; that vacuum's errors are logged, not returned.
func (e *Engine) Commit(ctx context.Context, ident TableIdent, base *uuid.UUID, m *Mutation) (CommitResult, error) {
	if err := e.checkOpen(); err != nil {
		return CommitResult{}, err
	}
	ctx, span := e.tracer.Start(ctx, "fusesnap.Commit",
		trace.WithAttributes(attribute.String("fusesnap.table", ident.String())))
	defer span.End()
	start := time.Now()

	info, err := e.catalog.GetTable(ctx, ident)
	if err != nil {
		endSpan(span, err)
		return CommitResult{}, err
	}
	span.SetAttributes(attribute.Int64("fusesnap.table_id", int64(info.ID)))

	res, err := e.committer.Commit(ctx, target(info), base, m)
	elapsed := time.Since(start)
	recordTick(e.stats, TickerCommitAttempts, uint64(res.Attempts))
	span.SetAttributes(attribute.Int("fusesnap.attempts", res.Attempts))
	if err != nil {
		result := "error"
		if errors.Is(err, ErrCommitConflict) {
			result = "conflict"
			recordTick(e.stats, TickerCommitConflicts, 1)
		}
		e.metrics.observeCommit(result, res.Attempts, elapsed)
		endSpan(span, err)
		return CommitResult{}, err
	}

	s := res.Snapshot
	recordTick(e.stats, TickerCommits, 1)
	if res.Rebased {
		recordTick(e.stats, TickerCommitRebases, 1)
	}
	measureTime(e.stats, HistogramCommitMicros, uint64(elapsed.Microseconds()))
	e.metrics.observeCommit("ok", res.Attempts, elapsed)
	span.SetAttributes(
		attribute.String("fusesnap.snapshot_id", s.ID.String()),
		attribute.Int64("fusesnap.sequence", int64(s.Sequence)),
		attribute.Bool("fusesnap.rebased", res.Rebased),
	)
	span.SetStatus(codes.Ok, "")

	out := CommitResult{
		SnapshotID: s.ID,
		Sequence:   s.Sequence,
		Timestamp:  s.Timestamp,
		RowCount:   s.Summary.RowCount,
		Attempts:   res.Attempts,
		Rebased:    res.Rebased,
	}
	for _, l := range e.opts.Listeners {
		l.OnCommitCompleted(&CommitInfo{
			Table:      info.Ident,
			TableID:    info.ID,
			SnapshotID: s.ID,
			PreviousID: s.PreviousID,
			Sequence:   s.Sequence,
			RowCount:   s.Summary.RowCount,
			Attempts:   res.Attempts,
			Rebased:    res.Rebased,
			Duration:   elapsed,
		})
	}

	if info.Options.Transient {
		if _, err := e.vacuum(ctx, info, retention.TransientPolicy()); err != nil {
			e.logger.Warnf("%stransient vacuum of %s after %s: %v", logging.NSEngine, info.Ident, s.ID, err)
			e.backgroundError(BackgroundErrorReasonTransientVacuum, info.Ident, err)
		}
	}
	return out, nil
}

// Resolve pins the snapshot spec selects. Release the handle when done;
// until then vacuum will not reclaim it.
func (e *Engine) Resolve(ctx context.Context, ident TableIdent, spec TravelSpec) (*Handle, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	ctx, span := e.tracer.Start(ctx, "fusesnap.Resolve",
		trace.WithAttributes(
			attribute.String("fusesnap.table", ident.String()),
			attribute.String("fusesnap.spec", spec.String()),
		))
	defer span.End()
	start := time.Now()

	info, err := e.catalog.GetTable(ctx, ident)
	if err != nil {
		endSpan(span, err)
		return nil, err
	}
	h, err := e.resolver.Resolve(ctx, info.ID, spec)
	if err != nil {
		if errors.Is(err, ErrSnapshotNotFound) {
			recordTick(e.stats, TickerResolveNotFound, 1)
			e.metrics.observeResolve(spec.Mode.String(), "not_found")
		} else {
			e.metrics.observeResolve(spec.Mode.String(), "error")
		}
		endSpan(span, err)
		return nil, err
	}

	recordTick(e.stats, TickerResolves, 1)
	measureTime(e.stats, HistogramResolveMicros, uint64(time.Since(start).Microseconds()))
	if head := info.Pointer.Sequence; head >= h.Snapshot.Sequence {
		measureTime(e.stats, HistogramChainWalkLength, head-h.Snapshot.Sequence+1)
	}
	e.metrics.observeResolve(spec.Mode.String(), "ok")
	span.SetAttributes(attribute.String("fusesnap.snapshot_id", h.Snapshot.ID.String()))
	span.SetStatus(codes.Ok, "")
	return h, nil
}

// Vacuum applies policy to one live table.
func (e *Engine) Vacuum(ctx context.Context, ident TableIdent, policy RetentionPolicy) (VacuumReport, error) {
	if err := e.checkOpen(); err != nil {
		return VacuumReport{}, err
	}
	if policy.Everything {
		return VacuumReport{}, fmt.Errorf("%w: use HardDropTable to remove all data", ErrInvalidArgument)
	}
	info, err := e.catalog.GetTable(ctx, ident)
	if err != nil {
		return VacuumReport{}, err
	}
	return e.vacuum(ctx, info, policy)
}

// VacuumAll applies the default retention policy to every live table of a
// catalog, optionally of one database. A table's DataRetention overrides
// the policy's time horizon. It stops at the first failing pass.
func (e *Engine) VacuumAll(ctx context.Context, catalogName, database string) ([]VacuumReport, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	tables, err := e.catalog.ListTables(ctx, catalogName, database)
	if err != nil {
		return nil, err
	}
	var reports []VacuumReport
	for _, info := range tables {
		policy := e.opts.DefaultRetention
		if info.Options.Transient {
			policy = retention.TransientPolicy()
		} else if info.Options.DataRetention > 0 {
			policy.TimeHorizon = info.Options.DataRetention
		}
		rep, err := e.vacuum(ctx, info, policy)
		if err != nil {
			return reports, fmt.Errorf("vacuum %s: %w", info.Ident, err)
		}
		reports = append(reports, rep)
	}
	return reports, nil
}

func (e *Engine) vacuum(ctx context.Context, info *TableInfo, policy RetentionPolicy) (VacuumReport, error) {
	ctx, span := e.tracer.Start(ctx, "fusesnap.Vacuum",
		trace.WithAttributes(
			attribute.String("fusesnap.table", info.Ident.String()),
			attribute.Int64("fusesnap.table_id", int64(info.ID)),
			attribute.String("fusesnap.policy", policy.String()),
		))
	defer span.End()

	mu, _ := e.vacuumLocks.LoadOrStore(info.ID, &sync.Mutex{})
	mu.(*sync.Mutex).Lock()
	defer mu.(*sync.Mutex).Unlock()

	start := time.Now()
	rep, err := e.collector.Vacuum(ctx, info.ID, layout(info), policy)
	recordTick(e.stats, TickerSnapshotsDeleted, uint64(rep.SnapshotsDeleted))
	recordTick(e.stats, TickerSegmentsDeleted, uint64(rep.SegmentsDeleted))
	recordTick(e.stats, TickerOrphansDeleted, uint64(rep.OrphansDeleted))
	recordTick(e.stats, TickerDeleteFailures, uint64(rep.DeleteFailures))
	e.metrics.observeVacuum(rep)
	span.SetAttributes(
		attribute.Int("fusesnap.snapshots_deleted", rep.SnapshotsDeleted),
		attribute.Int("fusesnap.segments_deleted", rep.SegmentsDeleted),
		attribute.Int("fusesnap.delete_failures", rep.DeleteFailures),
	)
	if err != nil {
		endSpan(span, err)
		return rep, err
	}

	recordTick(e.stats, TickerVacuumPasses, 1)
	measureTime(e.stats, HistogramVacuumMicros, uint64(time.Since(start).Microseconds()))
	span.SetStatus(codes.Ok, "")
	for _, l := range e.opts.Listeners {
		l.OnVacuumCompleted(&VacuumInfo{Table: info.Ident, Report: rep})
	}
	return rep, nil
}

// RenameTable moves a live table to a new name in the same catalog. Data
// and history are untouched.
func (e *Engine) RenameTable(ctx context.Context, from, to TableIdent, ifExists bool) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	if err := e.catalog.RenameTable(ctx, from, to, ifExists); err != nil {
		return err
	}
	e.logger.Infof("%srenamed %s to %s", logging.NSEngine, from, to)
	return nil
}

// DropTable soft-drops a table. It stays restorable with UndropTable for
// its DataRetention, or Options.DropRetention when that is unset, and is
// removed for good by PurgeExpired after that.
func (e *Engine) DropTable(ctx context.Context, ident TableIdent, ifExists bool) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	ttl := e.opts.DropRetention
	info, err := e.catalog.GetTable(ctx, ident)
	switch {
	case err == nil:
		if info.Options.DataRetention > 0 {
			ttl = info.Options.DataRetention
		}
	case ifExists && errors.Is(err, ErrTableNotFound):
		return nil
	case !errors.Is(err, ErrTableNotFound):
		return err
	}
	if err := e.catalog.DropTable(ctx, ident, ttl, ifExists); err != nil {
		return err
	}
	if info == nil {
		return nil
	}

	recordTick(e.stats, TickerTablesDropped, 1)
	for _, l := range e.opts.Listeners {
		l.OnTableDropped(&TableDropInfo{Table: info.Ident, TableID: info.ID, TTL: ttl})
	}
	return nil
}

// UndropTable restores the most recently dropped table under ident.
func (e *Engine) UndropTable(ctx context.Context, ident TableIdent) (*TableInfo, error) {
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	return e.catalog.UndropTable(ctx, ident)
}

// HardDropTable deletes every snapshot and segment of a live table and then
// its catalog record. If some objects could not be deleted the record is
// kept and an error returned, so the drop can be retried.
func (e *Engine) HardDropTable(ctx context.Context, ident TableIdent) (VacuumReport, error) {
	if err := e.checkOpen(); err != nil {
		return VacuumReport{}, err
	}
	info, err := e.catalog.GetTable(ctx, ident)
	if err != nil {
		return VacuumReport{}, err
	}
	return e.purge(ctx, info)
}

func (e *Engine) purge(ctx context.Context, info *TableInfo) (VacuumReport, error) {
	rep, err := e.vacuum(ctx, info, retention.EverythingPolicy())
	if err != nil {
		return rep, err
	}
	if rep.DeleteFailures > 0 {
		return rep, fmt.Errorf("fusesnap: hard drop %s: %d objects could not be deleted: %w",
			info.Ident, rep.DeleteFailures, errors.Join(rep.Errors...))
	}
	if err := e.catalog.RemoveTable(ctx, info.ID); err != nil {
		return rep, err
	}
	e.vacuumLocks.Delete(info.ID)

	recordTick(e.stats, TickerTablesPurged, 1)
	e.logger.Infof("%spurged table %s (id %d)", logging.NSEngine, info.Ident, info.ID)
	for _, l := range e.opts.Listeners {
		l.OnTableDropped(&TableDropInfo{Table: info.Ident, TableID: info.ID, Hard: true})
	}
	return rep, nil
}

// PurgeExpired hard-drops every soft-dropped table whose retention has
// lapsed. Failures are logged and the remaining tables still processed; the
// number of purged tables is returned along with the joined failures.
func (e *Engine) PurgeExpired(ctx context.Context) (int, error) {
	if err := e.checkOpen(); err != nil {
		return 0, err
	}
	dropped, err := e.catalog.ListDropped(ctx)
	if err != nil {
		return 0, err
	}
	now := e.opts.Clock()
	purged := 0
	var errs []error
	for _, info := range dropped {
		if !info.Expired(now) {
			continue
		}
		if _, err := e.purge(ctx, info); err != nil {
			if ctx.Err() != nil {
				return purged, ctx.Err()
			}
			e.logger.Warnf("%spurge %s (id %d): %v", logging.NSEngine, info.Ident, info.ID, err)
			e.backgroundError(BackgroundErrorReasonPurge, info.Ident, err)
			errs = append(errs, err)
			continue
		}
		purged++
	}
	return purged, errors.Join(errs...)
}

func (e *Engine) backgroundError(reason BackgroundErrorReason, ident TableIdent, err error) {
	for _, l := range e.opts.Listeners {
		l.OnBackgroundError(&BackgroundErrorInfo{Reason: reason, Table: ident, Status: err})
	}
}

func endSpan(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
