package engine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/trellishq/trellis/internal/cache"
	"github.com/trellishq/trellis/internal/models"
	"github.com/trellishq/trellis/internal/snapshot"
)

// ComparisonCache serves branch-to-branch diff summaries. Lookup order:
// front cache (in-process or Redis), then unexpired persisted rows, then a
// fresh computation that is persisted with a TTL. Results are display hints,
// never authoritative: real conflicts are decided at merge time.
type ComparisonCache struct {
	engine *Engine
	front  cache.Backend
	ttl    time.Duration

	mu           sync.Mutex
	keysByBranch map[string][]string
}

// Compare returns the diff summary of compareBranchID relative to
// baseBranchID, reusing any fresh cached result.
func (e *Engine) Compare(ctx context.Context, baseBranchID, compareBranchID string) (*models.Comparison, error) {
	return e.compare.compare(ctx, baseBranchID, compareBranchID)
}

func (cc *ComparisonCache) compare(ctx context.Context, baseBranchID, compareBranchID string) (*models.Comparison, error) {
	e := cc.engine
	now := e.now().UTC()
	key := "compare:" + baseBranchID + ":" + compareBranchID

	if cc.front != nil {
		if data, found, err := cc.front.Get(ctx, key); err != nil {
			e.logger.Printf("warning: comparison cache get failed: %v", err)
		} else if found {
			var cached models.Comparison
			if err := json.Unmarshal(data, &cached); err == nil &&
				!cached.IsStale && !cached.Expired(now) {
				return &cached, nil
			}
		}
	}

	if cmp, err := e.db.GetFreshComparison(ctx, baseBranchID, compareBranchID, now); err == nil {
		cc.remember(ctx, key, cmp)
		return cmp, nil
	} else if !IsNotFound(err) {
		return nil, err
	}

	cmp, err := cc.compute(ctx, baseBranchID, compareBranchID, now)
	if err != nil {
		return nil, err
	}
	if err := e.db.SaveComparison(ctx, cmp); err != nil {
		return nil, err
	}
	cc.remember(ctx, key, cmp)

	e.publish(Event{
		Type:     EventComparisonComputed,
		BranchID: compareBranchID,
		Payload: map[string]any{
			"comparison_id": cmp.ID,
			"base":          baseBranchID,
			"compare":       compareBranchID,
			"added":         cmp.AddedCount,
			"modified":      cmp.ModifiedCount,
			"deleted":       cmp.DeletedCount,
		},
	})

	return cmp, nil
}

func (cc *ComparisonCache) compute(ctx context.Context, baseBranchID, compareBranchID string, now time.Time) (*models.Comparison, error) {
	e := cc.engine

	base, err := e.db.GetBranch(ctx, baseBranchID)
	if err != nil {
		return nil, err
	}
	compare, err := e.db.GetBranch(ctx, compareBranchID)
	if err != nil {
		return nil, err
	}

	baseSnap, err := e.db.HeadSnapshot(ctx, base)
	if err != nil {
		return nil, err
	}
	compareSnap, err := e.db.HeadSnapshot(ctx, compare)
	if err != nil {
		return nil, err
	}

	delta := snapshot.Diff(baseSnap, compareSnap)

	ancestorSnap, err := e.branchPointSnapshot(ctx, compare)
	if err != nil {
		return nil, err
	}

	cmp := &models.Comparison{
		ID:              newID(),
		BaseBranchID:    base.ID,
		CompareBranchID: compare.ID,
		BaseCommitID:    base.HeadCommitID,
		CompareCommitID: compare.HeadCommitID,
		AddedNodeIDs:    delta.AddedIDs(),
		ModifiedNodeIDs: delta.ModifiedIDs(),
		DeletedNodeIDs:  delta.DeletedIDs(),
		ConflictNodeIDs: heuristicConflictNodes(delta, baseSnap, compareSnap, ancestorSnap),
		CreatedAt:       now,
		ExpiresAt:       now.Add(cc.ttl),
	}
	cmp.AddedCount = len(cmp.AddedNodeIDs)
	cmp.ModifiedCount = len(cmp.ModifiedNodeIDs)
	cmp.DeletedCount = len(cmp.DeletedNodeIDs)

	return cmp, nil
}

// heuristicConflictNodes flags modified nodes where, for at least one
// differing property, both branches' current values differ from the
// branch-point ancestor's value. Best effort only.
func heuristicConflictNodes(delta snapshot.Delta, base, compare, ancestor snapshot.Snapshot) []string {
	conflictIDs := []string{}
	for _, change := range delta.Modified {
		ancestorProps, ok := ancestor[change.ID]
		if !ok {
			continue
		}
		for _, pc := range change.Changes {
			ancestorValue, ok := ancestorProps[pc.Property]
			if !ok {
				continue
			}
			if !snapshot.ValuesEqual(pc.OldValue, ancestorValue) &&
				!snapshot.ValuesEqual(pc.NewValue, ancestorValue) {
				conflictIDs = append(conflictIDs, change.ID)
				break
			}
		}
	}
	return conflictIDs
}

// remember stores the comparison in the front cache and records the key
// under both branches so head movement can evict it.
func (cc *ComparisonCache) remember(ctx context.Context, key string, cmp *models.Comparison) {
	if cc.front == nil {
		return
	}
	data, err := json.Marshal(cmp)
	if err != nil {
		return
	}
	if err := cc.front.Set(ctx, key, data, cc.ttl); err != nil {
		cc.engine.logger.Printf("warning: comparison cache set failed: %v", err)
		return
	}

	cc.mu.Lock()
	defer cc.mu.Unlock()
	if cc.keysByBranch == nil {
		cc.keysByBranch = make(map[string][]string)
	}
	cc.keysByBranch[cmp.BaseBranchID] = append(cc.keysByBranch[cmp.BaseBranchID], key)
	cc.keysByBranch[cmp.CompareBranchID] = append(cc.keysByBranch[cmp.CompareBranchID], key)
}

// invalidateBranch evicts every front-cache entry touching the branch.
func (cc *ComparisonCache) invalidateBranch(ctx context.Context, branchID string) {
	if cc.front == nil {
		return
	}
	cc.mu.Lock()
	keys := cc.keysByBranch[branchID]
	delete(cc.keysByBranch, branchID)
	cc.mu.Unlock()

	for _, key := range keys {
		if err := cc.front.Delete(ctx, key); err != nil {
			cc.engine.logger.Printf("warning: comparison cache delete failed: %v", err)
		}
	}
}
