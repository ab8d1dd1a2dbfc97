package engine

import (
	"context"
	"fmt"

	"github.com/trellishq/trellis/internal/models"
	"github.com/trellishq/trellis/internal/snapshot"
)

// CommitRequest carries everything needed to record a new commit.
type CommitRequest struct {
	BranchID    string
	Snapshot    snapshot.Snapshot
	Message     string
	Description string
	Author      string
	CoAuthors   []string
	IsAutoSave  bool
	Tags        []string
}

// Commit records a full document snapshot on a branch and advances its head.
//
// The branch must be active and writable by the author. The stored delta is
// the structural diff against the previous head snapshot; a first commit on
// an empty branch reports every node as added. If another writer advances
// the head concurrently the call fails with ErrStaleHead and nothing is
// written; the caller should re-read and retry.
func (e *Engine) Commit(ctx context.Context, req CommitRequest) (*models.Commit, error) {
	branch, err := e.db.GetBranch(ctx, req.BranchID)
	if err != nil {
		return nil, err
	}
	if branch.Status != models.BranchStatusActive {
		return nil, fmt.Errorf("%w: branch %s is %s", ErrInvalidState, branch.Name, branch.Status)
	}
	if !e.auth.CanWrite(branch, req.Author) {
		return nil, fmt.Errorf("%w: %s on branch %s", ErrBranchNotWritable, req.Author, branch.Name)
	}
	if err := req.Snapshot.Validate(); err != nil {
		return nil, fmt.Errorf("invalid snapshot: %w", err)
	}

	parentSnap, err := e.db.HeadSnapshot(ctx, branch)
	if err != nil {
		return nil, err
	}
	delta := snapshot.Diff(parentSnap, req.Snapshot)

	parentHash := ""
	if branch.HeadCommitID != "" {
		parent, err := e.db.GetCommit(ctx, branch.HeadCommitID)
		if err != nil {
			return nil, err
		}
		parentHash = parent.Hash
	}

	now := e.now().UTC()
	hash, err := snapshot.HashCommit(req.Snapshot, parentHash, req.Message, req.Author, now)
	if err != nil {
		return nil, fmt.Errorf("failed to hash commit: %w", err)
	}

	commit := &models.Commit{
		ID:          newID(),
		BranchID:    branch.ID,
		Message:     req.Message,
		Description: req.Description,
		Hash:        hash,
		ParentID:    branch.HeadCommitID,
		Snapshot:    req.Snapshot.Clone(),
		Delta:       delta,
		Author:      req.Author,
		CoAuthors:   req.CoAuthors,
		CreatedAt:   now,
		IsAutoSave:  req.IsAutoSave,
		Tags:        req.Tags,
	}

	if err := e.db.CreateCommit(ctx, commit, branch.HeadCommitID); err != nil {
		return nil, err
	}

	e.invalidateComparisons(ctx, branch.ID)
	e.logger.Printf("commit %s on branch %s (%d added, %d modified, %d deleted)",
		hash, branch.Name, len(delta.Added), len(delta.Modified), len(delta.Deleted))
	e.publish(Event{
		Type:      EventCommitCreated,
		ProjectID: branch.ProjectID,
		BranchID:  branch.ID,
		Payload: map[string]any{
			"commit_id": commit.ID,
			"hash":      commit.Hash,
			"message":   commit.Message,
			"author":    commit.Author,
		},
	})

	return commit, nil
}

// CherryPick re-applies an existing commit's snapshot onto another branch.
//
// The picked commit keeps the original document content verbatim but gets a
// new identity: its parent is the target branch's head, so its content hash
// necessarily differs from the original's.
func (e *Engine) CherryPick(ctx context.Context, commitID, targetBranchID, author string) (*models.Commit, error) {
	original, err := e.db.GetCommit(ctx, commitID)
	if err != nil {
		return nil, err
	}
	sourceBranch, err := e.db.GetBranch(ctx, original.BranchID)
	if err != nil {
		return nil, err
	}

	message := fmt.Sprintf("Cherry-pick %s from %s: %s",
		shortHash(original.Hash), sourceBranch.Name, original.Message)

	return e.Commit(ctx, CommitRequest{
		BranchID: targetBranchID,
		Snapshot: original.Snapshot,
		Message:  message,
		Author:   author,
		Tags:     []string{"cherry-pick"},
	})
}

// GetCommit retrieves a commit by id.
func (e *Engine) GetCommit(ctx context.Context, id string) (*models.Commit, error) {
	return e.db.GetCommit(ctx, id)
}

// GetCommitByHash retrieves a commit by its content hash.
func (e *Engine) GetCommitByHash(ctx context.Context, hash string) (*models.Commit, error) {
	return e.db.GetCommitByHash(ctx, hash)
}

// Log returns a branch's history newest-first, following the first-parent
// chain from its head so forks include inherited commits. A non-empty
// fromHash starts the page after that commit; limit <= 0 returns everything.
func (e *Engine) Log(ctx context.Context, branchID string, limit int, fromHash string) ([]*models.Commit, error) {
	branch, err := e.db.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if branch.HeadCommitID == "" {
		return nil, nil
	}
	return e.db.ListHistory(ctx, branch.HeadCommitID, limit, fromHash)
}

// invalidateComparisons drops every cached comparison touching the branch,
// both the persisted rows and the front cache.
func (e *Engine) invalidateComparisons(ctx context.Context, branchID string) {
	if err := e.db.MarkComparisonsStale(ctx, branchID); err != nil {
		e.logger.Printf("warning: failed to mark comparisons stale for %s: %v", branchID, err)
	}
	e.compare.invalidateBranch(ctx, branchID)
}

func shortHash(hash string) string {
	if len(hash) <= 12 {
		return hash
	}
	return hash[:12]
}
