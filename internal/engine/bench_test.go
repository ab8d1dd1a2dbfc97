package engine

import (
	"context"
	"fmt"
	"testing"

	"github.com/trellishq/trellis/internal/snapshot"
)

func benchSnapshot(nodes int) snapshot.Snapshot {
	snap := make(snapshot.Snapshot, nodes)
	for i := 0; i < nodes; i++ {
		snap[fmt.Sprintf("n%d", i)] = snapshot.Properties{
			"type":  "frame",
			"x":     float64(i),
			"y":     float64(i * 2),
			"width": float64(100),
			"fill":  "#336699",
		}
	}
	return snap
}

func BenchmarkCommit(b *testing.B) {
	eng := newTestEngine(b)
	ctx := context.Background()

	main, err := eng.CreateRootBranch(ctx, "proj-bench", "main", "bench")
	if err != nil {
		b.Fatal(err)
	}
	snap := benchSnapshot(100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		snap["n0"]["x"] = float64(i)
		if _, err := eng.Commit(ctx, CommitRequest{
			BranchID: main.ID,
			Snapshot: snap,
			Message:  fmt.Sprintf("bench %d", i),
			Author:   "bench",
		}); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkDetect(b *testing.B) {
	eng := newTestEngine(b)
	ctx := context.Background()

	main, err := eng.CreateRootBranch(ctx, "proj-bench", "main", "bench")
	if err != nil {
		b.Fatal(err)
	}
	base := benchSnapshot(500)
	if _, err := eng.Commit(ctx, CommitRequest{
		BranchID: main.ID, Snapshot: base, Message: "base", Author: "bench",
	}); err != nil {
		b.Fatal(err)
	}

	feature, err := eng.Fork(ctx, ForkRequest{ParentBranchID: main.ID, Name: "feature", CreatedBy: "bench"})
	if err != nil {
		b.Fatal(err)
	}
	diverged := base.Clone()
	for i := 0; i < 50; i++ {
		diverged[fmt.Sprintf("n%d", i)]["x"] = float64(-i)
	}
	if _, err := eng.Commit(ctx, CommitRequest{
		BranchID: feature.ID, Snapshot: diverged, Message: "diverge", Author: "bench",
	}); err != nil {
		b.Fatal(err)
	}
	moved := base.Clone()
	for i := 0; i < 50; i++ {
		moved[fmt.Sprintf("n%d", i)]["x"] = float64(i + 1000)
	}
	if _, err := eng.Commit(ctx, CommitRequest{
		BranchID: main.ID, Snapshot: moved, Message: "move", Author: "bench",
	}); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := eng.Detect(ctx, feature.ID, main.ID); err != nil {
			b.Fatal(err)
		}
	}
}
