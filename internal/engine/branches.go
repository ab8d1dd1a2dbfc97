package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/trellishq/trellis/internal/models"
	"github.com/trellishq/trellis/internal/store"
)

// ForkRequest describes a new branch forked from an existing one.
type ForkRequest struct {
	ParentBranchID string
	Name           string
	Type           models.BranchType

	// FromCommitID forks from a specific commit instead of the parent's
	// head. The commit must be reachable from the parent branch.
	FromCommitID string

	CreatedBy     string
	Collaborators []string
	IsProtected   bool
}

// Fork creates a new branch whose history starts at the parent's head (or
// at FromCommitID). The fork shares all inherited commits with its parent;
// commits made after the fork are isolated to each branch.
func (e *Engine) Fork(ctx context.Context, req ForkRequest) (*models.Branch, error) {
	parent, err := e.db.GetBranch(ctx, req.ParentBranchID)
	if err != nil {
		return nil, err
	}

	branchPoint := parent.HeadCommitID
	if req.FromCommitID != "" {
		commit, err := e.db.GetCommit(ctx, req.FromCommitID)
		if err != nil {
			return nil, err
		}
		if parent.HeadCommitID == "" {
			return nil, fmt.Errorf("%w: branch %s has no commits", ErrInvalidState, parent.Name)
		}
		ancestors, err := e.db.AncestorDepths(ctx, parent.HeadCommitID)
		if err != nil {
			return nil, err
		}
		if _, ok := ancestors[commit.ID]; !ok {
			return nil, fmt.Errorf("%w: commit %s is not on branch %s",
				ErrInvalidState, shortHash(commit.Hash), parent.Name)
		}
		branchPoint = commit.ID
	}

	branchType := req.Type
	if branchType == "" {
		branchType = models.BranchTypeFeature
	}

	now := e.now().UTC()
	branch := &models.Branch{
		ID:                  newID(),
		ProjectID:           parent.ProjectID,
		Name:                req.Name,
		Type:                branchType,
		Status:              models.BranchStatusActive,
		ParentBranchID:      parent.ID,
		BranchPointCommitID: branchPoint,
		HeadCommitID:        branchPoint,
		IsProtected:         req.IsProtected,
		Collaborators:       req.Collaborators,
		CreatedBy:           req.CreatedBy,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	if err := e.db.CreateBranch(ctx, branch); err != nil {
		return nil, err
	}

	e.logger.Printf("forked branch %s from %s at %s", branch.Name, parent.Name, branchPoint)
	e.publish(Event{
		Type:      EventBranchForked,
		ProjectID: branch.ProjectID,
		BranchID:  branch.ID,
		Payload: map[string]any{
			"name":             branch.Name,
			"parent_branch_id": parent.ID,
			"branch_point":     branchPoint,
		},
	})

	return branch, nil
}

// CreateRootBranch creates a project's first branch: no parent, no history.
// It becomes the project default when the project has none yet.
func (e *Engine) CreateRootBranch(ctx context.Context, projectID, name, createdBy string) (*models.Branch, error) {
	isDefault := false
	if _, err := e.db.GetDefaultBranch(ctx, projectID); err != nil {
		if !errors.Is(err, store.ErrBranchNotFound) {
			return nil, err
		}
		isDefault = true
	}

	now := e.now().UTC()
	branch := &models.Branch{
		ID:        newID(),
		ProjectID: projectID,
		Name:      name,
		Type:      models.BranchTypeMain,
		Status:    models.BranchStatusActive,
		IsDefault: isDefault,
		CreatedBy: createdBy,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.db.CreateBranch(ctx, branch); err != nil {
		return nil, err
	}
	return branch, nil
}

// GetBranch retrieves a branch by id.
func (e *Engine) GetBranch(ctx context.Context, id string) (*models.Branch, error) {
	return e.db.GetBranch(ctx, id)
}

// GetBranchByName retrieves a branch by project and name.
func (e *Engine) GetBranchByName(ctx context.Context, projectID, name string) (*models.Branch, error) {
	return e.db.GetBranchByName(ctx, projectID, name)
}

// ListBranches returns a project's branches in creation order.
func (e *Engine) ListBranches(ctx context.Context, projectID string) ([]*models.Branch, error) {
	return e.db.ListBranches(ctx, projectID)
}

// Archive retires a branch. Its history stays queryable but no commits or
// merges are accepted until it is restored. The default branch can never be
// archived.
func (e *Engine) Archive(ctx context.Context, branchID string) (*models.Branch, error) {
	branch, err := e.db.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if branch.IsDefault {
		return nil, fmt.Errorf("%w: cannot archive default branch %s", ErrInvalidState, branch.Name)
	}
	if branch.Status == models.BranchStatusArchived {
		return nil, fmt.Errorf("%w: branch %s already archived", ErrInvalidState, branch.Name)
	}

	if err := e.db.UpdateBranchStatus(ctx, branch.ID, models.BranchStatusArchived); err != nil {
		return nil, err
	}
	branch.Status = models.BranchStatusArchived

	e.publish(Event{
		Type:      EventBranchArchived,
		ProjectID: branch.ProjectID,
		BranchID:  branch.ID,
		Payload:   map[string]any{"name": branch.Name},
	})
	return branch, nil
}

// Restore reactivates an archived branch.
func (e *Engine) Restore(ctx context.Context, branchID string) (*models.Branch, error) {
	branch, err := e.db.GetBranch(ctx, branchID)
	if err != nil {
		return nil, err
	}
	if branch.Status != models.BranchStatusArchived {
		return nil, fmt.Errorf("%w: branch %s is %s, not archived",
			ErrInvalidState, branch.Name, branch.Status)
	}

	if err := e.db.UpdateBranchStatus(ctx, branch.ID, models.BranchStatusActive); err != nil {
		return nil, err
	}
	branch.Status = models.BranchStatusActive

	e.publish(Event{
		Type:      EventBranchRestored,
		ProjectID: branch.ProjectID,
		BranchID:  branch.ID,
		Payload:   map[string]any{"name": branch.Name},
	})
	return branch, nil
}

// SetDefault makes the branch its project's default. Only active branches
// qualify.
func (e *Engine) SetDefault(ctx context.Context, branchID string) error {
	branch, err := e.db.GetBranch(ctx, branchID)
	if err != nil {
		return err
	}
	if branch.Status != models.BranchStatusActive {
		return fmt.Errorf("%w: branch %s is %s", ErrInvalidState, branch.Name, branch.Status)
	}
	return e.db.SetDefaultBranch(ctx, branch.ProjectID, branch.ID)
}

// Divergence reports how two branches relate through the commit graph.
type Divergence struct {
	// Ahead counts commits reachable from branch A's head but not B's.
	Ahead int `json:"ahead"`
	// Behind counts commits reachable from branch B's head but not A's.
	Behind int `json:"behind"`
	// MergeBaseID is the nearest common ancestor commit, empty when the
	// branches share no history.
	MergeBaseID string `json:"merge_base_id,omitempty"`
}

// AheadBehind computes branch A's divergence from branch B: ahead/behind
// counts plus the merge base (lowest common ancestor of the two heads).
func (e *Engine) AheadBehind(ctx context.Context, branchAID, branchBID string) (*Divergence, error) {
	branchA, err := e.db.GetBranch(ctx, branchAID)
	if err != nil {
		return nil, err
	}
	branchB, err := e.db.GetBranch(ctx, branchBID)
	if err != nil {
		return nil, err
	}

	ancestorsA, err := e.headAncestors(ctx, branchA)
	if err != nil {
		return nil, err
	}
	ancestorsB, err := e.headAncestors(ctx, branchB)
	if err != nil {
		return nil, err
	}

	div := &Divergence{}
	bestDepth := -1
	for id, depth := range ancestorsA {
		if _, shared := ancestorsB[id]; !shared {
			div.Ahead++
			continue
		}
		if bestDepth == -1 || depth < bestDepth {
			bestDepth = depth
			div.MergeBaseID = id
		}
	}
	for id := range ancestorsB {
		if _, shared := ancestorsA[id]; !shared {
			div.Behind++
		}
	}
	return div, nil
}

// headAncestors returns the ancestor depth map of a branch head, or an
// empty map for a branch with no commits.
func (e *Engine) headAncestors(ctx context.Context, branch *models.Branch) (map[string]int, error) {
	if branch.HeadCommitID == "" {
		return map[string]int{}, nil
	}
	return e.db.AncestorDepths(ctx, branch.HeadCommitID)
}
