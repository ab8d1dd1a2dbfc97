package engine

import (
	"context"
	"fmt"

	"github.com/trellishq/trellis/internal/models"
	"github.com/trellishq/trellis/internal/snapshot"
)

// MergeRequest describes a merge of one branch into another.
type MergeRequest struct {
	SourceBranchID string
	TargetBranchID string
	Strategy       models.MergeStrategy
	InitiatedBy    string

	// SquashMessage is the commit message used by the squash strategy.
	SquashMessage string

	// DeleteSource closes the source branch after completion instead of
	// leaving it in the merged state.
	DeleteSource bool

	// AutoResolve, when keep-source or keep-target, resolves every detected
	// conflict with that policy and completes the merge in one call.
	AutoResolve models.ConflictResolution
}

// RequestMerge opens a merge of source into target. When conflict detection
// comes back clean the merge completes immediately; otherwise the conflicts
// are persisted and the merge waits in the conflicted state for resolution.
// At most one merge per (source, target) pair may be open at a time.
func (e *Engine) RequestMerge(ctx context.Context, req MergeRequest) (*models.Merge, []*models.Conflict, error) {
	source, err := e.db.GetBranch(ctx, req.SourceBranchID)
	if err != nil {
		return nil, nil, err
	}
	target, err := e.db.GetBranch(ctx, req.TargetBranchID)
	if err != nil {
		return nil, nil, err
	}
	if source.Status != models.BranchStatusActive {
		return nil, nil, fmt.Errorf("%w: source branch %s is %s", ErrInvalidState, source.Name, source.Status)
	}
	if target.Status != models.BranchStatusActive {
		return nil, nil, fmt.Errorf("%w: target branch %s is %s", ErrInvalidState, target.Name, target.Status)
	}
	if !e.auth.CanWrite(target, req.InitiatedBy) {
		return nil, nil, fmt.Errorf("%w: %s on branch %s", ErrBranchNotWritable, req.InitiatedBy, target.Name)
	}
	if source.HeadCommitID == "" {
		return nil, nil, fmt.Errorf("%w: branch %s has no commits to merge", ErrInvalidState, source.Name)
	}

	if open, err := e.db.FindOpenMerge(ctx, source.ID, target.ID); err == nil {
		return nil, nil, fmt.Errorf("%w: merge %s already open for %s into %s",
			ErrInvalidState, open.ID, source.Name, target.Name)
	} else if !IsNotFound(err) {
		return nil, nil, err
	}

	strategy := req.Strategy
	if strategy == "" {
		strategy = models.MergeStrategyMergeCommit
	}

	now := e.now().UTC()
	merge := &models.Merge{
		ID:             newID(),
		SourceBranchID: source.ID,
		TargetBranchID: target.ID,
		Strategy:       strategy,
		Status:         models.MergeStatusPending,
		SourceCommitID: source.HeadCommitID,
		TargetCommitID: target.HeadCommitID,
		InitiatedBy:    req.InitiatedBy,
		SquashMessage:  req.SquashMessage,
		DeleteSource:   req.DeleteSource,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := merge.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid merge request: %w", err)
	}
	if err := e.db.CreateMerge(ctx, merge); err != nil {
		return nil, nil, err
	}

	e.publish(Event{
		Type:      EventMergeRequested,
		ProjectID: target.ProjectID,
		BranchID:  target.ID,
		Payload: map[string]any{
			"merge_id": merge.ID,
			"source":   source.Name,
			"target":   target.Name,
			"strategy": string(strategy),
		},
	})

	sourceSnap, err := e.db.HeadSnapshot(ctx, source)
	if err != nil {
		return nil, nil, err
	}
	targetSnap, err := e.db.HeadSnapshot(ctx, target)
	if err != nil {
		return nil, nil, err
	}
	baseSnap, err := e.branchPointSnapshot(ctx, source)
	if err != nil {
		return nil, nil, err
	}

	conflicts := detectConflicts(merge.ID, sourceSnap, targetSnap, baseSnap, now)
	if len(conflicts) == 0 {
		if err := e.CompleteMerge(ctx, merge.ID, req.InitiatedBy); err != nil {
			return nil, nil, err
		}
		return e.reload(ctx, merge.ID)
	}

	if err := e.db.CreateConflicts(ctx, merge.ID, conflicts); err != nil {
		return nil, nil, err
	}
	e.logger.Printf("merge %s of %s into %s has %d conflicts",
		merge.ID, source.Name, target.Name, len(conflicts))

	if req.AutoResolve == models.ResolutionKeepSource || req.AutoResolve == models.ResolutionKeepTarget {
		for _, c := range conflicts {
			if _, err := e.ResolveConflict(ctx, c.ID, req.AutoResolve, nil, req.InitiatedBy); err != nil {
				return nil, nil, err
			}
		}
		if err := e.CompleteMerge(ctx, merge.ID, req.InitiatedBy); err != nil {
			return nil, nil, err
		}
	}

	return e.reload(ctx, merge.ID)
}

func (e *Engine) reload(ctx context.Context, mergeID string) (*models.Merge, []*models.Conflict, error) {
	merge, err := e.db.GetMerge(ctx, mergeID)
	if err != nil {
		return nil, nil, err
	}
	conflicts, err := e.db.ListConflicts(ctx, mergeID)
	if err != nil {
		return nil, nil, err
	}
	return merge, conflicts, nil
}

// GetMerge retrieves a merge and its conflicts.
func (e *Engine) GetMerge(ctx context.Context, mergeID string) (*models.Merge, []*models.Conflict, error) {
	return e.reload(ctx, mergeID)
}

// ResolveConflict settles one conflict. The resolved value is the source
// value, the target value, or the caller-supplied value depending on the
// resolution. Resolving never advances the merge itself: call CompleteMerge
// once everything is settled.
func (e *Engine) ResolveConflict(ctx context.Context, conflictID string, resolution models.ConflictResolution, manualValue map[string]any, resolvedBy string) (*models.Conflict, error) {
	conflict, err := e.db.GetConflict(ctx, conflictID)
	if err != nil {
		return nil, err
	}
	merge, err := e.db.GetMerge(ctx, conflict.MergeID)
	if err != nil {
		return nil, err
	}
	if merge.Status.IsTerminal() {
		return nil, fmt.Errorf("%w: merge %s is %s", ErrInvalidState, merge.ID, merge.Status)
	}

	var resolvedValue map[string]any
	switch resolution {
	case models.ResolutionKeepSource:
		resolvedValue = conflict.SourceValue
	case models.ResolutionKeepTarget:
		resolvedValue = conflict.TargetValue
	case models.ResolutionManual:
		if manualValue == nil {
			return nil, fmt.Errorf("%w: manual resolution requires a value", ErrInvalidState)
		}
		resolvedValue = manualValue
	default:
		return nil, fmt.Errorf("%w: resolution %s", ErrInvalidState, resolution)
	}

	if err := e.db.ResolveConflict(ctx, conflict.ID, resolution, resolvedValue, resolvedBy); err != nil {
		return nil, err
	}

	e.publish(Event{
		Type:     EventConflictResolved,
		BranchID: merge.TargetBranchID,
		Payload: map[string]any{
			"merge_id":    merge.ID,
			"conflict_id": conflict.ID,
			"node_id":     conflict.NodeID,
			"resolution":  string(resolution),
		},
	})

	return e.db.GetConflict(ctx, conflict.ID)
}

// CompleteMerge finalizes a merge once no conflict is pending. The merged
// snapshot starts from the target's current snapshot, adds every source node
// the target lacks, then overlays each resolved conflict's resolved value.
// The result is committed on the target branch and the source branch leaves
// the active state.
func (e *Engine) CompleteMerge(ctx context.Context, mergeID, user string) error {
	merge, err := e.db.GetMerge(ctx, mergeID)
	if err != nil {
		return err
	}
	if merge.Status.IsTerminal() {
		return fmt.Errorf("%w: merge %s is %s", ErrInvalidState, merge.ID, merge.Status)
	}

	source, err := e.db.GetBranch(ctx, merge.SourceBranchID)
	if err != nil {
		return err
	}
	target, err := e.db.GetBranch(ctx, merge.TargetBranchID)
	if err != nil {
		return err
	}
	if !e.auth.CanWrite(target, user) {
		return fmt.Errorf("%w: %s on branch %s", ErrBranchNotWritable, user, target.Name)
	}

	pending, err := e.db.CountPendingConflicts(ctx, merge.ID)
	if err != nil {
		return err
	}
	if pending > 0 {
		return fmt.Errorf("%w: %d conflicts pending on merge %s", ErrConflicts, pending, merge.ID)
	}

	if err := e.db.UpdateMergeStatus(ctx, merge.ID, models.MergeStatusInProgress); err != nil {
		return err
	}

	sourceSnap, err := e.db.HeadSnapshot(ctx, source)
	if err != nil {
		return err
	}
	targetSnap, err := e.db.HeadSnapshot(ctx, target)
	if err != nil {
		return err
	}
	conflicts, err := e.db.ListConflicts(ctx, merge.ID)
	if err != nil {
		return err
	}

	merged := buildMergedSnapshot(sourceSnap, targetSnap, conflicts)

	message := fmt.Sprintf("Merge branch '%s' into '%s'", source.Name, target.Name)
	if merge.Strategy == models.MergeStrategySquash && merge.SquashMessage != "" {
		message = merge.SquashMessage
	}

	targetParentHash := ""
	if target.HeadCommitID != "" {
		head, err := e.db.GetCommit(ctx, target.HeadCommitID)
		if err != nil {
			return err
		}
		targetParentHash = head.Hash
	}

	now := e.now().UTC()
	hash, err := snapshot.HashCommit(merged, targetParentHash, message, user, now)
	if err != nil {
		return fmt.Errorf("failed to hash merge commit: %w", err)
	}

	mergeCommit := &models.Commit{
		ID:        newID(),
		BranchID:  target.ID,
		Message:   message,
		Hash:      hash,
		ParentID:  target.HeadCommitID,
		Snapshot:  merged,
		Delta:     snapshot.Diff(targetSnap, merged),
		Author:    user,
		CreatedAt: now,
	}
	// Squash folds the source history into a single-parent commit; the other
	// strategies record the source head as a second parent.
	if merge.Strategy != models.MergeStrategySquash {
		mergeCommit.MergeParentID = merge.SourceCommitID
	}

	sourceStatus := models.BranchStatusMerged
	if merge.DeleteSource {
		sourceStatus = models.BranchStatusClosed
	}

	if err := e.db.CompleteMerge(ctx, merge, mergeCommit, target.HeadCommitID, sourceStatus); err != nil {
		return err
	}

	e.invalidateComparisons(ctx, source.ID)
	e.invalidateComparisons(ctx, target.ID)
	e.logger.Printf("completed merge %s: %s into %s as %s", merge.ID, source.Name, target.Name, hash)
	e.publish(Event{
		Type:      EventMergeCompleted,
		ProjectID: target.ProjectID,
		BranchID:  target.ID,
		Payload: map[string]any{
			"merge_id":        merge.ID,
			"merge_commit_id": mergeCommit.ID,
			"source":          source.Name,
			"target":          target.Name,
		},
	})

	return nil
}

// AbortMerge abandons a merge that has not completed. Resolved conflicts
// keep their resolutions for the record; no branch changes.
func (e *Engine) AbortMerge(ctx context.Context, mergeID string) error {
	return e.closeMerge(ctx, mergeID, models.MergeStatusAborted)
}

// CancelMerge withdraws a merge request before completion.
func (e *Engine) CancelMerge(ctx context.Context, mergeID string) error {
	return e.closeMerge(ctx, mergeID, models.MergeStatusCancelled)
}

func (e *Engine) closeMerge(ctx context.Context, mergeID string, status models.MergeStatus) error {
	merge, err := e.db.GetMerge(ctx, mergeID)
	if err != nil {
		return err
	}
	if merge.Status.IsTerminal() {
		return fmt.Errorf("%w: merge %s is %s", ErrInvalidState, merge.ID, merge.Status)
	}
	if err := e.db.UpdateMergeStatus(ctx, merge.ID, status); err != nil {
		return err
	}
	e.publish(Event{
		Type:     EventMergeAborted,
		BranchID: merge.TargetBranchID,
		Payload:  map[string]any{"merge_id": merge.ID, "status": string(status)},
	})
	return nil
}

// buildMergedSnapshot assembles the post-merge document: the target's
// snapshot, plus every source node the target lacks, with each resolved
// conflict's value overlaid last.
func buildMergedSnapshot(source, target snapshot.Snapshot, conflicts []*models.Conflict) snapshot.Snapshot {
	merged := target.Clone()

	for id, props := range source.Clone() {
		if _, ok := merged[id]; !ok {
			merged[id] = props
		}
	}

	for _, c := range conflicts {
		if !c.Resolution.IsResolved() || c.ResolvedValue == nil {
			continue
		}
		node, ok := merged[c.NodeID]
		if !ok {
			node = snapshot.Properties{}
			merged[c.NodeID] = node
		}
		for property, value := range c.ResolvedValue {
			// A nil resolution means the winning side does not carry the
			// property at all.
			if value == nil {
				delete(node, property)
				continue
			}
			node[property] = value
		}
	}

	return merged
}
