package fusesnap_test

import (
	"context"
	"fmt"

	"github.com/aalhour/fusesnap"
)

func ExampleOpen() {
	ctx := context.Background()
	e, err := fusesnap.Open(fusesnap.DefaultOptions())
	if err != nil {
		panic(err)
	}
	defer func() { _ = e.Close() }()

	t := fusesnap.Ident("db", "events")
	if _, err := e.CreateTable(ctx, t, fusesnap.TableOptions{}, false); err != nil {
		panic(err)
	}
	seg, err := e.WriteSegment(ctx, t, []byte("a\nb\n"), 2, nil)
	if err != nil {
		panic(err)
	}
	res, err := e.Commit(ctx, t, nil, &fusesnap.Mutation{Added: []*fusesnap.Segment{seg}})
	if err != nil {
		panic(err)
	}

	fmt.Println(res.Sequence, res.RowCount)
	// Output:
	// 1 2
}

func ExampleEngine_Resolve() {
	ctx := context.Background()
	e, err := fusesnap.Open(fusesnap.DefaultOptions())
	if err != nil {
		panic(err)
	}
	defer func() { _ = e.Close() }()

	t := fusesnap.Ident("db", "events")
	if _, err := e.CreateTable(ctx, t, fusesnap.TableOptions{}, false); err != nil {
		panic(err)
	}
	var first fusesnap.CommitResult
	for i, rows := range []uint64{2, 1} {
		seg, err := e.WriteSegment(ctx, t, fmt.Appendf(nil, "batch %d", i), rows, nil)
		if err != nil {
			panic(err)
		}
		res, err := e.Commit(ctx, t, nil, &fusesnap.Mutation{Added: []*fusesnap.Segment{seg}})
		if err != nil {
			panic(err)
		}
		if i == 0 {
			first = res
		}
	}

	h, err := e.Resolve(ctx, t, fusesnap.AtSnapshot(first.SnapshotID))
	if err != nil {
		panic(err)
	}
	defer h.Release()
	latest, err := e.Resolve(ctx, t, fusesnap.Latest())
	if err != nil {
		panic(err)
	}
	defer latest.Release()

	fmt.Println(h.Snapshot.Summary.RowCount, latest.Snapshot.Summary.RowCount)
	// Output:
	// 2 3
}

func ExampleParseTravelPoint() {
	spec, err := fusesnap.ParseTravelPoint("TIMESTAMP", "2026-03-01 09:00:00")
	if err != nil {
		panic(err)
	}
	fmt.Println(spec)
	// Output:
	// timestamp 2026-03-01T09:00:00Z
}
