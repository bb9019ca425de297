/*
Package fusesnap provides versioned, time-travelling tables on top of an
object store.

Every commit writes an immutable snapshot manifest that lists the table's
data segments and links to its predecessor. A catalog holds one pointer per
table naming the current snapshot; commits race on that pointer with a
compare-and-swap, so any number of writers (in one process or many) can
share a table without locks.

# Usage

	e, err := fusesnap.Open(fusesnap.DefaultOptions())
	if err != nil {
		return err
	}
	defer e.Close()

	t := fusesnap.Ident("analytics", "events")
	_, err = e.CreateTable(ctx, t, fusesnap.TableOptions{}, false)
	seg, err := e.WriteSegment(ctx, t, block, rows, nil)
	res, err := e.Commit(ctx, t, nil, &fusesnap.Mutation{Added: []*fusesnap.Segment{seg}})

	h, err := e.Resolve(ctx, t, fusesnap.AtSnapshot(res.SnapshotID))
	defer h.Release()

# Time travel

Resolve selects the latest snapshot, a snapshot by id, or the newest
snapshot committed at or before a timestamp. The returned Handle pins the
snapshot so a concurrent vacuum in the same engine does not reclaim it.

# Retention

Vacuum removes snapshots outside a RetentionPolicy and any segment no
retained snapshot references. Transient tables keep only their newest
snapshot and are vacuumed after every commit. Dropped tables can be
restored with UndropTable until their drop retention lapses; PurgeExpired
then removes their data.

# Concurrency

An Engine is safe for concurrent use by multiple goroutines. Handles are
not shared between goroutines without external synchronization of Release.
*/
package fusesnap
