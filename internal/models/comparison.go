package models

import (
	"fmt"
	"time"
)

// Comparison is a cached branch-to-branch diff summary for display. It is
// safely recomputable and never authoritative: actual conflicts are decided
// by the merge coordinator at merge time.
type Comparison struct {
	ID string `json:"id"`

	BaseBranchID    string `json:"base_branch_id"`
	CompareBranchID string `json:"compare_branch_id"`

	// BaseCommitID and CompareCommitID pin the heads at comparison time.
	BaseCommitID    string `json:"base_commit_id,omitempty"`
	CompareCommitID string `json:"compare_commit_id,omitempty"`

	AddedNodeIDs    []string `json:"added_node_ids"`
	ModifiedNodeIDs []string `json:"modified_node_ids"`
	DeletedNodeIDs  []string `json:"deleted_node_ids"`

	AddedCount    int `json:"added_count"`
	ModifiedCount int `json:"modified_count"`
	DeletedCount  int `json:"deleted_count"`

	// ConflictNodeIDs is a best-effort heuristic: modified nodes where both
	// sides diverged from the branch-point ancestor value.
	ConflictNodeIDs []string `json:"conflict_node_ids"`

	IsStale   bool      `json:"is_stale"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Validate checks required fields.
func (c *Comparison) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.BaseBranchID == "" {
		return fmt.Errorf("base_branch_id is required")
	}
	if c.CompareBranchID == "" {
		return fmt.Errorf("compare_branch_id is required")
	}
	if c.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if c.ExpiresAt.Before(c.CreatedAt) {
		return fmt.Errorf("expires_at precedes created_at")
	}
	return nil
}

// Expired reports whether the cache entry is past its expiry at the given time.
func (c *Comparison) Expired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
