// Snapshot manifest dump utility for fusesnap.
//
// Use `manifestdump` to decode and print snapshot manifest files.
//
// Run the tool:
//
// ```bash
// ./bin/manifestdump [-segments] [-stats] <manifest-file>...
// ./bin/manifestdump -root <store-dir> -chain <manifest-key>
// ```
//
// Output includes:
// - Frame header (format version, compression, checksum).
// - Snapshot id, sequence, timestamp, predecessor and summary.
// - With -segments, every segment; with -stats, per-column statistics.
// - With -chain, every retained predecessor, newest first.
package main

import (
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/aalhour/fusesnap/internal/checksum"
	"github.com/aalhour/fusesnap/internal/compression"
	"github.com/aalhour/fusesnap/internal/manifest"
)

type options struct {
	segments bool
	stats    bool
	chain    bool
	root     string
}

func main() {
	var opts options
	flag.BoolVar(&opts.segments, "segments", false, "List segments")
	flag.BoolVar(&opts.stats, "stats", false, "List per-column statistics (implies -segments)")
	flag.BoolVar(&opts.chain, "chain", false, "Follow predecessors; arguments are keys under -root")
	flag.StringVar(&opts.root, "root", "", "Object store root directory for -chain")
	flag.Parse()

	if flag.NArg() == 0 {
		fmt.Println("Usage: manifestdump [-segments] [-stats] [-root dir -chain] <manifest>...")
		os.Exit(1)
	}
	if opts.chain && opts.root == "" {
		fmt.Fprintln(os.Stderr, "Error: -chain requires -root")
		os.Exit(1)
	}

	failed := false
	for _, arg := range flag.Args() {
		if err := dump(os.Stdout, arg, opts); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %s: %v\n", arg, err)
			failed = true
		}
	}
	if failed {
		os.Exit(1)
	}
}

func dump(w io.Writer, arg string, opts options) error {
	if !opts.chain {
		return dumpFile(w, arg, arg, opts)
	}
	key := arg
	for n := 0; key != ""; n++ {
		path := filepath.Join(opts.root, filepath.FromSlash(key))
		s, err := dumpChainEntry(w, path, key, opts, n)
		if errors.Is(err, fs.ErrNotExist) && n > 0 {
			fmt.Fprintf(w, "\n(end of retained history: %s is gone)\n", key)
			return nil
		}
		if err != nil {
			return err
		}
		key = s.PreviousLocation
	}
	return nil
}

func dumpChainEntry(w io.Writer, path, key string, opts options, n int) (*manifest.Snapshot, error) {
	if n > 0 {
		fmt.Fprintln(w)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return printManifest(w, key, data, opts)
}

func dumpFile(w io.Writer, path, key string, opts options) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	_, err = printManifest(w, key, data, opts)
	return err
}

func printManifest(w io.Writer, key string, data []byte, opts options) (*manifest.Snapshot, error) {
	if len(data) >= 8 {
		fmt.Fprintf(w, "Frame:       %d bytes, compression %s, checksum %s\n",
			len(data), compression.Type(data[6]), checksum.Type(data[7]))
	}
	s, err := manifest.Decode(data)
	if err != nil {
		return nil, err
	}
	if err := s.Validate(); err != nil {
		fmt.Fprintf(w, "WARNING:     %v\n", err)
	}
	if id, _, err := manifest.ParseSnapshotLocation(filepath.ToSlash(key)); err == nil && id != s.ID {
		fmt.Fprintf(w, "WARNING:     file name names snapshot %s\n", id)
	}

	fmt.Fprintf(w, "Snapshot:    %s\n", s.ID)
	fmt.Fprintf(w, "Format:      v%d\n", s.FormatVersion)
	fmt.Fprintf(w, "Sequence:    %d\n", s.Sequence)
	fmt.Fprintf(w, "Timestamp:   %s\n", s.Timestamp.Format(time.RFC3339Nano))
	if s.PreviousID != nil {
		fmt.Fprintf(w, "Previous:    %s (%s)\n", s.PreviousID, s.PreviousLocation)
	} else {
		fmt.Fprintln(w, "Previous:    NULL")
	}
	fmt.Fprintf(w, "Schema:      %d\n", s.SchemaVersion)
	if s.Writer != "" {
		fmt.Fprintf(w, "Writer:      %s\n", s.Writer)
	}
	fmt.Fprintf(w, "Summary:     rows=%d bytes=%d segments=%d\n",
		s.Summary.RowCount, s.Summary.ByteSize, s.Summary.SegmentCount)

	if !opts.segments && !opts.stats {
		return s, nil
	}
	for i, seg := range s.Segments {
		fmt.Fprintf(w, "  [%d] %s rows=%d bytes=%d created=%s",
			i, seg.Location, seg.RowCount, seg.ByteSize, seg.CreatedAt.Format(time.RFC3339))
		if seg.ContentHash != "" {
			fmt.Fprintf(w, " xxh3=%s", seg.ContentHash)
		}
		fmt.Fprintln(w)
		if !opts.stats {
			continue
		}
		cols := make([]uint32, 0, len(seg.ColumnStats))
		for c := range seg.ColumnStats {
			cols = append(cols, c)
		}
		slices.Sort(cols)
		for _, c := range cols {
			st := seg.ColumnStats[c]
			fmt.Fprintf(w, "      col %d: min=%s max=%s nulls=%d\n",
				c, hex.EncodeToString(st.Min), hex.EncodeToString(st.Max), st.NullCount)
		}
	}
	return s, nil
}
