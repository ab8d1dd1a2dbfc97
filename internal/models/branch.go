// Package models defines the persistent entities of the version-control
// engine: branches, commits, merges, conflicts, and cached comparisons.
package models

import (
	"fmt"
	"time"
)

// BranchType classifies the intent of a branch.
type BranchType string

const (
	BranchTypeMain       BranchType = "main"
	BranchTypeFeature    BranchType = "feature"
	BranchTypeExperiment BranchType = "experiment"
	BranchTypeHotfix     BranchType = "hotfix"
	BranchTypeReview     BranchType = "review"
)

// IsValid reports whether the branch type is a known value.
func (t BranchType) IsValid() bool {
	switch t {
	case BranchTypeMain, BranchTypeFeature, BranchTypeExperiment, BranchTypeHotfix, BranchTypeReview:
		return true
	}
	return false
}

// BranchStatus is the lifecycle state of a branch. Merging or archiving a
// branch changes its status; only explicit deletion removes the row.
type BranchStatus string

const (
	BranchStatusActive   BranchStatus = "active"
	BranchStatusMerged   BranchStatus = "merged"
	BranchStatusClosed   BranchStatus = "closed"
	BranchStatusArchived BranchStatus = "archived"
)

// IsValid reports whether the branch status is a known value.
func (s BranchStatus) IsValid() bool {
	switch s {
	case BranchStatusActive, BranchStatusMerged, BranchStatusClosed, BranchStatusArchived:
		return true
	}
	return false
}

// Branch is a named, mutable pointer to a commit, representing one line of
// development on a project's design document.
type Branch struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Name      string     `json:"name"`
	Type      BranchType `json:"type"`

	Status BranchStatus `json:"status"`

	// ParentBranchID records forking lineage only; the parent does not own
	// this branch's commits.
	ParentBranchID string `json:"parent_branch_id,omitempty"`

	// BranchPointCommitID is the commit this branch was forked from.
	BranchPointCommitID string `json:"branch_point_commit_id,omitempty"`

	// HeadCommitID is the branch's current head. Empty until the first commit.
	HeadCommitID string `json:"head_commit_id,omitempty"`

	IsDefault      bool `json:"is_default"`
	IsProtected    bool `json:"is_protected"`
	RequiresReview bool `json:"requires_review"`
	MinReviewers   int  `json:"min_reviewers"`

	Collaborators []string `json:"collaborators,omitempty"`

	CreatedBy string    `json:"created_by"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks required fields and enum values.
func (b *Branch) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("id is required")
	}
	if b.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if b.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(b.Name) > 200 {
		return fmt.Errorf("name must be 200 characters or less (got %d)", len(b.Name))
	}
	if !b.Type.IsValid() {
		return fmt.Errorf("invalid branch type: %s", b.Type)
	}
	if !b.Status.IsValid() {
		return fmt.Errorf("invalid branch status: %s", b.Status)
	}
	if b.MinReviewers < 0 {
		return fmt.Errorf("min_reviewers cannot be negative (got %d)", b.MinReviewers)
	}
	return nil
}

// SetDefaults applies default values for optional fields.
func (b *Branch) SetDefaults() {
	if b.Type == "" {
		b.Type = BranchTypeFeature
	}
	if b.Status == "" {
		b.Status = BranchStatusActive
	}
	if b.Collaborators == nil {
		b.Collaborators = []string{}
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}
}
