package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/aalhour/fusesnap"
)

type globalFlags struct {
	dir      string
	config   string
	logLevel string
}

// open builds an engine for one command invocation.
func (g *globalFlags) open(ctx context.Context) (*fusesnap.Engine, error) {
	var cfg *fusesnap.Config
	switch {
	case g.config != "":
		c, err := fusesnap.LoadConfig(g.config)
		if err != nil {
			return nil, err
		}
		cfg = c
	case g.dir != "":
		cfg = &fusesnap.Config{
			Storage: fusesnap.StorageConfig{Backend: "fs", Dir: filepath.Join(g.dir, "data")},
			Catalog: fusesnap.CatalogConfig{Backend: "badger", Path: filepath.Join(g.dir, "catalog")},
		}
	default:
		return nil, errors.New("one of --dir or --config is required")
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	opts, err := cfg.Options(ctx)
	if err != nil {
		return nil, err
	}
	return fusesnap.Open(opts)
}

// withEngine wraps a command body with engine setup and teardown.
func (g *globalFlags) withEngine(fn func(ctx context.Context, e *fusesnap.Engine, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		e, err := g.open(ctx)
		if err != nil {
			return err
		}
		defer func() {
			if cerr := e.Close(); err == nil {
				err = cerr
			}
		}()
		return fn(ctx, e, cmd, args)
	}
}

// parseIdent accepts db.table or catalog.db.table.
func parseIdent(s string) (fusesnap.TableIdent, error) {
	parts := strings.Split(s, ".")
	switch len(parts) {
	case 2:
		return fusesnap.Ident(parts[0], parts[1]), nil
	case 3:
		return fusesnap.TableIdent{Catalog: parts[0], Database: parts[1], Name: parts[2]}, nil
	}
	return fusesnap.TableIdent{}, fmt.Errorf("table %q: want db.table or catalog.db.table", s)
}

func newRootCmd() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "snapctl",
		Short:         "Inspect and maintain fusesnap tables",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.dir, "dir", "", "Directory holding data/ and catalog/ (filesystem store and badger catalog)")
	root.PersistentFlags().StringVar(&g.config, "config", "", "YAML config file; overrides --dir")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	root.AddCommand(
		newCreateCmd(g),
		newTablesCmd(g),
		newInsertCmd(g),
		newTruncateCmd(g),
		newHistoryCmd(g),
		newShowCmd(g),
		newVacuumCmd(g),
		newRenameCmd(g),
		newDropCmd(g),
		newUndropCmd(g),
		newDroppedCmd(g),
		newPurgeCmd(g),
	)
	return root
}

func newCreateCmd(g *globalFlags) *cobra.Command {
	var (
		transient   bool
		ifNotExists bool
		retention   time.Duration
		schema      uint64
	)
	cmd := &cobra.Command{
		Use:   "create <db.table>",
		Short: "Create a table",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = g.withEngine(func(ctx context.Context, e *fusesnap.Engine, cmd *cobra.Command, args []string) error {
		ident, err := parseIdent(args[0])
		if err != nil {
			return err
		}
		info, err := e.CreateTable(ctx, ident, fusesnap.TableOptions{
			Transient:     transient,
			SchemaVersion: schema,
			DataRetention: retention,
		}, ifNotExists)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "created %s (id %d)\n", info.Ident, info.ID)
		return nil
	})
	cmd.Flags().BoolVar(&transient, "transient", false, "Keep only the newest snapshot")
	cmd.Flags().BoolVar(&ifNotExists, "if-not-exists", false, "Succeed if the table exists")
	cmd.Flags().DurationVar(&retention, "retention", 0, "Data retention; also how long a drop stays restorable")
	cmd.Flags().Uint64Var(&schema, "schema-version", 0, "Schema version recorded in snapshots")
	return cmd
}

func newTablesCmd(g *globalFlags) *cobra.Command {
	var catalogName string
	cmd := &cobra.Command{
		Use:   "tables [database]",
		Short: "List live tables",
		Args:  cobra.MaximumNArgs(1),
	}
	cmd.RunE = g.withEngine(func(ctx context.Context, e *fusesnap.Engine, cmd *cobra.Command, args []string) error {
		var database string
		if len(args) == 1 {
			database = args[0]
		}
		tables, err := e.ListTables(ctx, catalogName, database)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TABLE\tID\tTRANSIENT\tSEQUENCE\tSNAPSHOT")
		for _, t := range tables {
			snap := "-"
			if !t.Pointer.IsZero() {
				snap = t.Pointer.SnapshotID.String()
			}
			fmt.Fprintf(w, "%s\t%d\t%t\t%d\t%s\n", t.Ident, t.ID, t.Options.Transient, t.Pointer.Sequence, snap)
		}
		return w.Flush()
	})
	cmd.Flags().StringVar(&catalogName, "catalog", "", "Catalog name (default catalog when empty)")
	return cmd
}

func newInsertCmd(g *globalFlags) *cobra.Command {
	var rows uint64
	cmd := &cobra.Command{
		Use:   "insert <db.table> <file>",
		Short: "Append a file as one segment",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = g.withEngine(func(ctx context.Context, e *fusesnap.Engine, cmd *cobra.Command, args []string) error {
		ident, err := parseIdent(args[0])
		if err != nil {
			return err
		}
		data, err := readInput(cmd.InOrStdin(), args[1])
		if err != nil {
			return err
		}
		n := rows
		if n == 0 {
			n = uint64(strings.Count(string(data), "\n"))
		}
		seg, err := e.WriteSegment(ctx, ident, data, n, nil)
		if err != nil {
			return err
		}
		res, err := e.Commit(ctx, ident, nil, &fusesnap.Mutation{Added: []*fusesnap.Segment{seg}})
		if err != nil {
			return err
		}
		printCommit(cmd.OutOrStdout(), res)
		return nil
	})
	cmd.Flags().Uint64Var(&rows, "rows", 0, "Row count of the segment (default: number of lines)")
	return cmd
}

func newTruncateCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "truncate <db.table>",
		Short: "Commit a snapshot with no segments",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = g.withEngine(func(ctx context.Context, e *fusesnap.Engine, cmd *cobra.Command, args []string) error {
		ident, err := parseIdent(args[0])
		if err != nil {
			return err
		}
		res, err := e.Commit(ctx, ident, nil, &fusesnap.Mutation{Overwrite: true})
		if errors.Is(err, fusesnap.ErrCommitConflict) {
			// An overwrite needs the head it replaces.
			var h *fusesnap.Handle
			h, err = e.Resolve(ctx, ident, fusesnap.Latest())
			if err != nil {
				return err
			}
			base := h.Snapshot.ID
			h.Release()
			res, err = e.Commit(ctx, ident, &base, &fusesnap.Mutation{Overwrite: true})
		}
		if err != nil {
			return err
		}
		printCommit(cmd.OutOrStdout(), res)
		return nil
	})
	return cmd
}

func newHistoryCmd(g *globalFlags) *cobra.Command {
	var limit string
	cmd := &cobra.Command{
		Use:   "history <db.table>",
		Short: "List retained snapshots, newest first",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = g.withEngine(func(ctx context.Context, e *fusesnap.Engine, cmd *cobra.Command, args []string) error {
		ident, err := parseIdent(args[0])
		if err != nil {
			return err
		}
		var lim any
		if limit != "" {
			lim = limit
		}
		rows, err := e.SnapshotHistory(ctx, ident, lim)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, strings.ToUpper(strings.Join(fusesnap.HistoryColumns, "\t")))
		for _, r := range rows {
			vals := r.Values()
			cells := make([]string, len(vals))
			for i, v := range vals {
				switch v := v.(type) {
				case nil:
					cells[i] = "NULL"
				case time.Time:
					cells[i] = v.Format(time.RFC3339Nano)
				default:
					cells[i] = fmt.Sprint(v)
				}
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
		return w.Flush()
	})
	cmd.Flags().StringVar(&limit, "limit", "", "Maximum number of snapshots")
	return cmd
}

func newShowCmd(g *globalFlags) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:   "show <db.table>",
		Short: "Print a snapshot",
		Long: `Print a snapshot and its segments. --at selects a past version:
  --at snapshot=<uuid>
  --at timestamp=<RFC3339 | 'YYYY-MM-DD HH:MM:SS' | unix seconds>`,
		Args: cobra.ExactArgs(1),
	}
	cmd.RunE = g.withEngine(func(ctx context.Context, e *fusesnap.Engine, cmd *cobra.Command, args []string) error {
		ident, err := parseIdent(args[0])
		if err != nil {
			return err
		}
		spec := fusesnap.Latest()
		if at != "" {
			kind, value, ok := strings.Cut(at, "=")
			if !ok {
				return fmt.Errorf("--at %q: want kind=value", at)
			}
			if spec, err = fusesnap.ParseTravelPoint(kind, value); err != nil {
				return err
			}
		}
		h, err := e.Resolve(ctx, ident, spec)
		if err != nil {
			return err
		}
		defer h.Release()
		printSnapshot(cmd.OutOrStdout(), h.Snapshot, h.Location)
		return nil
	})
	cmd.Flags().StringVar(&at, "at", "", "snapshot=<id> or timestamp=<time>")
	return cmd
}

func newVacuumCmd(g *globalFlags) *cobra.Command {
	var (
		horizon      time.Duration
		keep         int
		latestOnly   bool
		sweepOrphans bool
		orphanAge    time.Duration
		database     string
	)
	cmd := &cobra.Command{
		Use:   "vacuum [db.table]",
		Short: "Apply retention to one table, or to every table of --database",
		Args:  cobra.MaximumNArgs(1),
	}
	cmd.RunE = g.withEngine(func(ctx context.Context, e *fusesnap.Engine, cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		if len(args) == 0 {
			reports, err := e.VacuumAll(ctx, "", database)
			for _, r := range reports {
				printReport(out, r)
			}
			return err
		}
		ident, err := parseIdent(args[0])
		if err != nil {
			return err
		}
		rep, err := e.Vacuum(ctx, ident, fusesnap.RetentionPolicy{
			RetainTransientLatestOnly: latestOnly,
			TimeHorizon:               horizon,
			MinSnapshotsToKeep:        keep,
			SweepOrphans:              sweepOrphans,
			OrphanMinAge:              orphanAge,
		})
		if err != nil {
			return err
		}
		printReport(out, rep)
		return nil
	})
	cmd.Flags().DurationVar(&horizon, "horizon", 24*time.Hour, "Keep snapshots newer than this")
	cmd.Flags().IntVar(&keep, "keep", 1, "Keep at least this many snapshots")
	cmd.Flags().BoolVar(&latestOnly, "latest-only", false, "Keep only the newest snapshot")
	cmd.Flags().BoolVar(&sweepOrphans, "sweep-orphans", false, "Also delete unreferenced objects")
	cmd.Flags().DurationVar(&orphanAge, "orphan-min-age", time.Hour, "Minimum age of swept orphans")
	cmd.Flags().StringVar(&database, "database", "", "Database for vacuuming all tables (all databases when empty)")
	return cmd
}

func newRenameCmd(g *globalFlags) *cobra.Command {
	var ifExists bool
	cmd := &cobra.Command{
		Use:   "rename <from> <to>",
		Short: "Rename a table",
		Args:  cobra.ExactArgs(2),
	}
	cmd.RunE = g.withEngine(func(ctx context.Context, e *fusesnap.Engine, cmd *cobra.Command, args []string) error {
		from, err := parseIdent(args[0])
		if err != nil {
			return err
		}
		to, err := parseIdent(args[1])
		if err != nil {
			return err
		}
		return e.RenameTable(ctx, from, to, ifExists)
	})
	cmd.Flags().BoolVar(&ifExists, "if-exists", false, "Succeed if the table does not exist")
	return cmd
}

func newDropCmd(g *globalFlags) *cobra.Command {
	var ifExists, hard bool
	cmd := &cobra.Command{
		Use:   "drop <db.table>",
		Short: "Drop a table",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = g.withEngine(func(ctx context.Context, e *fusesnap.Engine, cmd *cobra.Command, args []string) error {
		ident, err := parseIdent(args[0])
		if err != nil {
			return err
		}
		if hard {
			rep, err := e.HardDropTable(ctx, ident)
			printReport(cmd.OutOrStdout(), rep)
			return err
		}
		return e.DropTable(ctx, ident, ifExists)
	})
	cmd.Flags().BoolVar(&ifExists, "if-exists", false, "Succeed if the table does not exist")
	cmd.Flags().BoolVar(&hard, "hard", false, "Delete all data now; the table cannot be restored")
	return cmd
}

func newUndropCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "undrop <db.table>",
		Short: "Restore the most recently dropped table",
		Args:  cobra.ExactArgs(1),
	}
	cmd.RunE = g.withEngine(func(ctx context.Context, e *fusesnap.Engine, cmd *cobra.Command, args []string) error {
		ident, err := parseIdent(args[0])
		if err != nil {
			return err
		}
		info, err := e.UndropTable(ctx, ident)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "restored %s (id %d)\n", info.Ident, info.ID)
		return nil
	})
	return cmd
}

func newDroppedCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dropped",
		Short: "List soft-dropped tables",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = g.withEngine(func(ctx context.Context, e *fusesnap.Engine, cmd *cobra.Command, args []string) error {
		tables, err := e.ListDropped(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "TABLE\tID\tDROPPED_AT\tEXPIRES")
		for _, t := range tables {
			expires := "never"
			if t.DropTTL > 0 {
				expires = t.DroppedAt.Add(t.DropTTL).Format(time.RFC3339)
			}
			fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", t.Ident, t.ID, t.DroppedAt.Format(time.RFC3339), expires)
		}
		return w.Flush()
	})
	return cmd
}

func newPurgeCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Remove dropped tables whose retention lapsed",
		Args:  cobra.NoArgs,
	}
	cmd.RunE = g.withEngine(func(ctx context.Context, e *fusesnap.Engine, cmd *cobra.Command, args []string) error {
		n, err := e.PurgeExpired(ctx)
		fmt.Fprintf(cmd.OutOrStdout(), "purged %d table(s)\n", n)
		return err
	})
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func printCommit(w io.Writer, res fusesnap.CommitResult) {
	fmt.Fprintf(w, "snapshot %s sequence %d rows %d", res.SnapshotID, res.Sequence, res.RowCount)
	if res.Attempts > 1 {
		fmt.Fprintf(w, " (attempts %d", res.Attempts)
		if res.Rebased {
			fmt.Fprint(w, ", rebased")
		}
		fmt.Fprint(w, ")")
	}
	fmt.Fprintln(w)
}

func printSnapshot(w io.Writer, s *fusesnap.Snapshot, location string) {
	fmt.Fprintf(w, "Snapshot:       %s\n", s.ID)
	fmt.Fprintf(w, "Location:       %s\n", location)
	fmt.Fprintf(w, "Sequence:       %d\n", s.Sequence)
	fmt.Fprintf(w, "Timestamp:      %s\n", s.Timestamp.Format(time.RFC3339Nano))
	if s.PreviousID != nil {
		fmt.Fprintf(w, "Previous:       %s\n", s.PreviousID)
	} else {
		fmt.Fprintln(w, "Previous:       NULL")
	}
	fmt.Fprintf(w, "Schema version: %d\n", s.SchemaVersion)
	fmt.Fprintf(w, "Rows:           %d\n", s.Summary.RowCount)
	fmt.Fprintf(w, "Bytes:          %d\n", s.Summary.ByteSize)
	fmt.Fprintf(w, "Segments:       %d\n", s.Summary.SegmentCount)
	for _, seg := range s.Segments {
		fmt.Fprintf(w, "  %s rows=%d bytes=%d\n", seg.Location, seg.RowCount, seg.ByteSize)
	}
}

func printReport(w io.Writer, r fusesnap.VacuumReport) {
	fmt.Fprintf(w, "table %d (%s): kept %d snapshots/%d segments, deleted %d snapshots/%d segments/%d orphans",
		r.TableID, r.Policy, r.SnapshotsKept, r.SegmentsKept, r.SnapshotsDeleted, r.SegmentsDeleted, r.OrphansDeleted)
	if r.SkippedPinned > 0 {
		fmt.Fprintf(w, ", %d pinned", r.SkippedPinned)
	}
	if r.DeleteFailures > 0 {
		fmt.Fprintf(w, ", %d failures", r.DeleteFailures)
	}
	fmt.Fprintln(w)
}
