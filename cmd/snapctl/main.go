// Package main provides snapctl, a command line tool for inspecting and
// maintaining fusesnap tables.
//
// Usage:
//
//	snapctl --dir=<path> <command> [options]
//	snapctl --config=<file> <command> [options]
//
// Commands:
//
//	create <db.table>            Create a table
//	tables [database]            List live tables
//	insert <db.table> <file>     Append a file as one segment
//	truncate <db.table>          Commit a snapshot with no segments
//	history <db.table>           List retained snapshots, newest first
//	show <db.table>              Print a snapshot (latest, or --at)
//	vacuum [db.table]            Apply retention to one table or all tables
//	rename <from> <to>           Rename a table
//	drop <db.table>              Soft-drop a table (--hard removes its data)
//	undrop <db.table>            Restore the most recently dropped table
//	dropped                      List soft-dropped tables
//	purge                        Remove dropped tables whose retention lapsed
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
