package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/trellishq/trellis/internal/models"
	"github.com/trellishq/trellis/internal/snapshot"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.InitSchema(context.Background()); err != nil {
		t.Fatalf("Failed to initialize schema: %v", err)
	}
	return db
}

func testBranch(id, name string) *models.Branch {
	b := &models.Branch{
		ID:        id,
		ProjectID: "proj-1",
		Name:      name,
		Type:      models.BranchTypeFeature,
		CreatedBy: "user-1",
	}
	b.SetDefaults()
	return b
}

func testCommit(id, branchID, parentID, hash string, snap snapshot.Snapshot) *models.Commit {
	return &models.Commit{
		ID:        id,
		BranchID:  branchID,
		Message:   "commit " + id,
		Hash:      hash,
		ParentID:  parentID,
		Snapshot:  snap,
		Author:    "user-1",
		CreatedAt: time.Now().UTC(),
	}
}

func TestInitSchemaIdempotent(t *testing.T) {
	db := openTestDB(t)
	for i := 0; i < 3; i++ {
		if err := db.InitSchema(context.Background()); err != nil {
			t.Fatalf("InitSchema run %d failed: %v", i, err)
		}
	}
}

func TestBranchCRUD(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	branch := testBranch("br-1", "main")
	branch.Type = models.BranchTypeMain
	branch.IsDefault = true
	if err := db.CreateBranch(ctx, branch); err != nil {
		t.Fatalf("CreateBranch failed: %v", err)
	}

	if err := db.CreateBranch(ctx, testBranch("br-dup", "main")); !errors.Is(err, ErrBranchExists) {
		t.Errorf("Duplicate name error = %v, want ErrBranchExists", err)
	}

	got, err := db.GetBranchByName(ctx, "proj-1", "main")
	if err != nil {
		t.Fatalf("GetBranchByName failed: %v", err)
	}
	if got.ID != "br-1" || !got.IsDefault || got.Type != models.BranchTypeMain {
		t.Errorf("Loaded branch mismatch: %+v", got)
	}

	if _, err := db.GetBranch(ctx, "missing"); !errors.Is(err, ErrBranchNotFound) {
		t.Errorf("Missing branch error = %v, want ErrBranchNotFound", err)
	}

	if err := db.UpdateBranchStatus(ctx, "br-1", models.BranchStatusArchived); err != nil {
		t.Fatalf("UpdateBranchStatus failed: %v", err)
	}
	got, _ = db.GetBranch(ctx, "br-1")
	if got.Status != models.BranchStatusArchived {
		t.Errorf("Status = %s, want archived", got.Status)
	}

	if err := db.UpdateBranchStatus(ctx, "missing", models.BranchStatusActive); !errors.Is(err, ErrBranchNotFound) {
		t.Errorf("Update missing branch error = %v, want ErrBranchNotFound", err)
	}
}

func TestSetDefaultBranchKeepsSingleDefault(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := testBranch("br-1", "main")
	first.IsDefault = true
	if err := db.CreateBranch(ctx, first); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateBranch(ctx, testBranch("br-2", "feature")); err != nil {
		t.Fatal(err)
	}

	if err := db.SetDefaultBranch(ctx, "proj-1", "br-2"); err != nil {
		t.Fatalf("SetDefaultBranch failed: %v", err)
	}

	def, err := db.GetDefaultBranch(ctx, "proj-1")
	if err != nil {
		t.Fatalf("GetDefaultBranch failed: %v", err)
	}
	if def.ID != "br-2" {
		t.Errorf("Default branch = %s, want br-2", def.ID)
	}

	old, _ := db.GetBranch(ctx, "br-1")
	if old.IsDefault {
		t.Error("Previous default was not cleared")
	}
}

func TestCreateCommitAdvancesHead(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.CreateBranch(ctx, testBranch("br-1", "main")); err != nil {
		t.Fatal(err)
	}

	snap := snapshot.Snapshot{"n1": {"x": float64(10)}}
	commit := testCommit("c-1", "br-1", "", "hash-1", snap)
	if err := db.CreateCommit(ctx, commit, ""); err != nil {
		t.Fatalf("CreateCommit failed: %v", err)
	}

	branch, _ := db.GetBranch(ctx, "br-1")
	if branch.HeadCommitID != "c-1" {
		t.Errorf("Head = %s, want c-1", branch.HeadCommitID)
	}

	loaded, err := db.GetCommit(ctx, "c-1")
	if err != nil {
		t.Fatalf("GetCommit failed: %v", err)
	}
	if !snapshot.ValuesEqual(loaded.Snapshot["n1"]["x"], float64(10)) {
		t.Errorf("Snapshot round trip lost data: %+v", loaded.Snapshot)
	}

	byHash, err := db.GetCommitByHash(ctx, "hash-1")
	if err != nil || byHash.ID != "c-1" {
		t.Errorf("GetCommitByHash = %+v, %v", byHash, err)
	}
}

func TestCreateCommitStaleHead(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.CreateBranch(ctx, testBranch("br-1", "main")); err != nil {
		t.Fatal(err)
	}
	snap := snapshot.Snapshot{"n1": {"x": float64(1)}}
	if err := db.CreateCommit(ctx, testCommit("c-1", "br-1", "", "hash-1", snap), ""); err != nil {
		t.Fatal(err)
	}

	// A second writer that still believes the head is empty must fail.
	err := db.CreateCommit(ctx, testCommit("c-2", "br-1", "", "hash-2", snap), "")
	if !errors.Is(err, ErrStaleHead) {
		t.Errorf("Stale expected-head error = %v, want ErrStaleHead", err)
	}

	// With the current head the commit goes through.
	if err := db.CreateCommit(ctx, testCommit("c-3", "br-1", "c-1", "hash-3", snap), "c-1"); err != nil {
		t.Fatalf("CreateCommit with correct head failed: %v", err)
	}

	branch, _ := db.GetBranch(ctx, "br-1")
	if branch.HeadCommitID != "c-3" {
		t.Errorf("Head = %s, want c-3", branch.HeadCommitID)
	}
}

func TestCreateCommitMissingBranch(t *testing.T) {
	db := openTestDB(t)
	snap := snapshot.Snapshot{"n1": {"x": float64(1)}}
	err := db.CreateCommit(context.Background(), testCommit("c-1", "missing", "", "hash-1", snap), "")
	if !errors.Is(err, ErrBranchNotFound) {
		t.Errorf("Missing branch error = %v, want ErrBranchNotFound", err)
	}
}

func TestListHistoryFollowsParentChain(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.CreateBranch(ctx, testBranch("br-1", "main")); err != nil {
		t.Fatal(err)
	}
	snap := snapshot.Snapshot{"n1": {"x": float64(1)}}
	head := ""
	for i := 1; i <= 4; i++ {
		id := fmt.Sprintf("c-%d", i)
		if err := db.CreateCommit(ctx, testCommit(id, "br-1", head, "hash-"+id, snap), head); err != nil {
			t.Fatal(err)
		}
		head = id
	}

	history, err := db.ListHistory(ctx, "c-4", 0, "")
	if err != nil {
		t.Fatalf("ListHistory failed: %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("History length = %d, want 4", len(history))
	}
	for i, want := range []string{"c-4", "c-3", "c-2", "c-1"} {
		if history[i].ID != want {
			t.Errorf("history[%d] = %s, want %s", i, history[i].ID, want)
		}
	}

	page, err := db.ListHistory(ctx, "c-4", 2, "hash-c-4")
	if err != nil {
		t.Fatalf("ListHistory page failed: %v", err)
	}
	if len(page) != 2 || page[0].ID != "c-3" || page[1].ID != "c-2" {
		t.Errorf("Page = %v, want [c-3 c-2]", commitIDs(page))
	}
}

func TestAncestorDepths(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.CreateBranch(ctx, testBranch("br-1", "main")); err != nil {
		t.Fatal(err)
	}
	snap := snapshot.Snapshot{"n1": {"x": float64(1)}}
	if err := db.CreateCommit(ctx, testCommit("c-1", "br-1", "", "h1", snap), ""); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateCommit(ctx, testCommit("c-2", "br-1", "c-1", "h2", snap), "c-1"); err != nil {
		t.Fatal(err)
	}
	merge := testCommit("c-3", "br-1", "c-2", "h3", snap)
	merge.MergeParentID = "c-1"
	if err := db.CreateCommit(ctx, merge, "c-2"); err != nil {
		t.Fatal(err)
	}

	depths, err := db.AncestorDepths(ctx, "c-3")
	if err != nil {
		t.Fatalf("AncestorDepths failed: %v", err)
	}
	// c-1 is reachable at depth 2 via c-2 and depth 1 via the merge parent;
	// the minimum wins.
	want := map[string]int{"c-3": 0, "c-2": 1, "c-1": 1}
	for id, depth := range want {
		if depths[id] != depth {
			t.Errorf("depth[%s] = %d, want %d", id, depths[id], depth)
		}
	}

	if _, err := db.AncestorDepths(ctx, "missing"); !errors.Is(err, ErrCommitNotFound) {
		t.Errorf("Missing commit error = %v, want ErrCommitNotFound", err)
	}
}

func TestMergeLifecycle(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.CreateBranch(ctx, testBranch("br-1", "feature")); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateBranch(ctx, testBranch("br-2", "main")); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	merge := &models.Merge{
		ID:             "m-1",
		SourceBranchID: "br-1",
		TargetBranchID: "br-2",
		Strategy:       models.MergeStrategyMergeCommit,
		Status:         models.MergeStatusPending,
		InitiatedBy:    "user-1",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := db.CreateMerge(ctx, merge); err != nil {
		t.Fatalf("CreateMerge failed: %v", err)
	}

	open, err := db.FindOpenMerge(ctx, "br-1", "br-2")
	if err != nil {
		t.Fatalf("FindOpenMerge failed: %v", err)
	}
	if open.ID != "m-1" {
		t.Errorf("Open merge = %s, want m-1", open.ID)
	}

	if err := db.UpdateMergeStatus(ctx, "m-1", models.MergeStatusCancelled); err != nil {
		t.Fatalf("UpdateMergeStatus failed: %v", err)
	}
	if _, err := db.FindOpenMerge(ctx, "br-1", "br-2"); !errors.Is(err, ErrMergeNotFound) {
		t.Errorf("Cancelled merge still reported open: %v", err)
	}
}

func TestConflictsAndResolution(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.CreateBranch(ctx, testBranch("br-1", "feature")); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateBranch(ctx, testBranch("br-2", "main")); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	merge := &models.Merge{
		ID: "m-1", SourceBranchID: "br-1", TargetBranchID: "br-2",
		Strategy: models.MergeStrategyMergeCommit, Status: models.MergeStatusPending,
		InitiatedBy: "user-1", CreatedAt: now, UpdatedAt: now,
	}
	if err := db.CreateMerge(ctx, merge); err != nil {
		t.Fatal(err)
	}

	conflicts := []*models.Conflict{
		{
			ID: "cf-1", MergeID: "m-1", Kind: models.ConflictKindProperty,
			NodeID: "n1", PropertyPath: "x",
			SourceValue: map[string]any{"x": float64(10)},
			TargetValue: map[string]any{"x": float64(99)},
			Resolution:  models.ResolutionPending, CreatedAt: now,
		},
		{
			ID: "cf-2", MergeID: "m-1", Kind: models.ConflictKindStyle,
			NodeID: "n2", PropertyPath: "fill",
			SourceValue: map[string]any{"fill": "red"},
			TargetValue: map[string]any{"fill": "blue"},
			Resolution:  models.ResolutionPending, CreatedAt: now,
		},
	}
	if err := db.CreateConflicts(ctx, "m-1", conflicts); err != nil {
		t.Fatalf("CreateConflicts failed: %v", err)
	}

	loaded, _ := db.GetMerge(ctx, "m-1")
	if loaded.Status != models.MergeStatusConflicted {
		t.Errorf("Merge status = %s, want conflicted", loaded.Status)
	}

	if count, _ := db.CountPendingConflicts(ctx, "m-1"); count != 2 {
		t.Errorf("Pending count = %d, want 2", count)
	}

	if err := db.ResolveConflict(ctx, "cf-1", models.ResolutionKeepTarget,
		map[string]any{"x": float64(99)}, "user-1"); err != nil {
		t.Fatalf("ResolveConflict failed: %v", err)
	}
	if count, _ := db.CountPendingConflicts(ctx, "m-1"); count != 1 {
		t.Errorf("Pending count after resolve = %d, want 1", count)
	}

	resolved, err := db.GetConflict(ctx, "cf-1")
	if err != nil {
		t.Fatalf("GetConflict failed: %v", err)
	}
	if resolved.Resolution != models.ResolutionKeepTarget || resolved.ResolvedAt == nil {
		t.Errorf("Resolution fields not recorded: %+v", resolved)
	}
	if !snapshot.ValuesEqual(resolved.ResolvedValue["x"], float64(99)) {
		t.Errorf("ResolvedValue = %v, want 99", resolved.ResolvedValue)
	}

	if err := db.ResolveConflict(ctx, "cf-1", models.ResolutionPending, nil, "user-1"); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("Resolving to pending error = %v, want ErrInvalidInput", err)
	}
}

func TestCompleteMergeBlocksOnPendingConflicts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.CreateBranch(ctx, testBranch("br-1", "feature")); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateBranch(ctx, testBranch("br-2", "main")); err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	merge := &models.Merge{
		ID: "m-1", SourceBranchID: "br-1", TargetBranchID: "br-2",
		Strategy: models.MergeStrategyMergeCommit, Status: models.MergeStatusPending,
		InitiatedBy: "user-1", CreatedAt: now, UpdatedAt: now,
	}
	if err := db.CreateMerge(ctx, merge); err != nil {
		t.Fatal(err)
	}
	conflict := &models.Conflict{
		ID: "cf-1", MergeID: "m-1", Kind: models.ConflictKindProperty,
		NodeID: "n1", PropertyPath: "x",
		SourceValue: map[string]any{"x": float64(1)},
		TargetValue: map[string]any{"x": float64(2)},
		Resolution:  models.ResolutionPending, CreatedAt: now,
	}
	if err := db.CreateConflicts(ctx, "m-1", []*models.Conflict{conflict}); err != nil {
		t.Fatal(err)
	}

	snap := snapshot.Snapshot{"n1": {"x": float64(2)}}
	mergeCommit := testCommit("c-m", "br-2", "", "hash-m", snap)
	err := db.CompleteMerge(ctx, merge, mergeCommit, "", models.BranchStatusMerged)
	if !errors.Is(err, ErrConflictsPending) {
		t.Fatalf("CompleteMerge error = %v, want ErrConflictsPending", err)
	}

	// Nothing may have been written.
	if _, err := db.GetCommit(ctx, "c-m"); !errors.Is(err, ErrCommitNotFound) {
		t.Errorf("Merge commit persisted despite pending conflicts: %v", err)
	}
	target, _ := db.GetBranch(ctx, "br-2")
	if target.HeadCommitID != "" {
		t.Errorf("Target head advanced despite pending conflicts: %s", target.HeadCommitID)
	}

	// After resolution the same call succeeds and does everything at once.
	if err := db.ResolveConflict(ctx, "cf-1", models.ResolutionKeepTarget,
		map[string]any{"x": float64(2)}, "user-1"); err != nil {
		t.Fatal(err)
	}
	if err := db.CompleteMerge(ctx, merge, mergeCommit, "", models.BranchStatusMerged); err != nil {
		t.Fatalf("CompleteMerge failed: %v", err)
	}

	done, _ := db.GetMerge(ctx, "m-1")
	if done.Status != models.MergeStatusCompleted || done.MergeCommitID != "c-m" || done.CompletedAt == nil {
		t.Errorf("Completed merge not recorded: %+v", done)
	}
	target, _ = db.GetBranch(ctx, "br-2")
	if target.HeadCommitID != "c-m" {
		t.Errorf("Target head = %s, want c-m", target.HeadCommitID)
	}
	source, _ := db.GetBranch(ctx, "br-1")
	if source.Status != models.BranchStatusMerged {
		t.Errorf("Source status = %s, want merged", source.Status)
	}
}

func TestComparisonCacheRows(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := db.CreateBranch(ctx, testBranch("br-1", "main")); err != nil {
		t.Fatal(err)
	}
	if err := db.CreateBranch(ctx, testBranch("br-2", "feature")); err != nil {
		t.Fatal(err)
	}

	now := time.Now().UTC()
	cmp := &models.Comparison{
		ID:              "cp-1",
		BaseBranchID:    "br-1",
		CompareBranchID: "br-2",
		AddedNodeIDs:    []string{"n2"},
		ModifiedNodeIDs: []string{"n1"},
		DeletedNodeIDs:  []string{},
		ConflictNodeIDs: []string{"n1"},
		CreatedAt:       now,
		ExpiresAt:       now.Add(5 * time.Minute),
	}
	if err := db.SaveComparison(ctx, cmp); err != nil {
		t.Fatalf("SaveComparison failed: %v", err)
	}

	fresh, err := db.GetFreshComparison(ctx, "br-1", "br-2", now.Add(time.Minute))
	if err != nil {
		t.Fatalf("GetFreshComparison failed: %v", err)
	}
	if fresh.AddedCount != 1 || fresh.ModifiedCount != 1 || len(fresh.ConflictNodeIDs) != 1 {
		t.Errorf("Counts not rebuilt on load: %+v", fresh)
	}

	if _, err := db.GetFreshComparison(ctx, "br-1", "br-2", now.Add(time.Hour)); !errors.Is(err, ErrComparisonNotFound) {
		t.Errorf("Expired comparison error = %v, want ErrComparisonNotFound", err)
	}

	if err := db.MarkComparisonsStale(ctx, "br-2"); err != nil {
		t.Fatalf("MarkComparisonsStale failed: %v", err)
	}
	if _, err := db.GetFreshComparison(ctx, "br-1", "br-2", now.Add(time.Minute)); !errors.Is(err, ErrComparisonNotFound) {
		t.Errorf("Stale comparison still served: %v", err)
	}

	purged, err := db.PurgeExpiredComparisons(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpiredComparisons failed: %v", err)
	}
	if purged != 1 {
		t.Errorf("Purged = %d, want 1", purged)
	}
}

func commitIDs(commits []*models.Commit) []string {
	ids := make([]string, len(commits))
	for i, c := range commits {
		ids[i] = c.ID
	}
	return ids
}
