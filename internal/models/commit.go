package models

import (
	"fmt"
	"time"

	"github.com/trellishq/trellis/internal/snapshot"
)

// Commit is an immutable, hashed record pairing a full document snapshot with
// authorship and lineage metadata. Commits are append-only: never mutated or
// deleted once written.
type Commit struct {
	ID       string `json:"id"`
	BranchID string `json:"branch_id"`

	Message     string `json:"message"`
	Description string `json:"description,omitempty"`

	// Hash is the CIDv1 content hash over snapshot, parent hash, message,
	// author, and commit time.
	Hash string `json:"hash"`

	// ParentID forms the commit DAG. Empty only for a root commit.
	ParentID string `json:"parent_id,omitempty"`

	// MergeParentID is the second parent carried by merge commits.
	MergeParentID string `json:"merge_parent_id,omitempty"`

	Snapshot snapshot.Snapshot `json:"snapshot"`

	// Delta is the precomputed diff summary versus the parent commit.
	Delta snapshot.Delta `json:"delta"`

	Author    string   `json:"author"`
	CoAuthors []string `json:"co_authors,omitempty"`

	CreatedAt  time.Time `json:"created_at"`
	IsAutoSave bool      `json:"is_auto_save"`
	Tags       []string  `json:"tags,omitempty"`
}

// Validate checks required fields.
func (c *Commit) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.BranchID == "" {
		return fmt.Errorf("branch_id is required")
	}
	if c.Hash == "" {
		return fmt.Errorf("hash is required")
	}
	if c.Author == "" {
		return fmt.Errorf("author is required")
	}
	if c.CreatedAt.IsZero() {
		return fmt.Errorf("created_at is required")
	}
	if c.Snapshot == nil {
		return fmt.Errorf("snapshot is required")
	}
	return nil
}

// IsMerge reports whether the commit carries a second parent.
func (c *Commit) IsMerge() bool {
	return c.MergeParentID != ""
}

// IsRoot reports whether the commit has no parent.
func (c *Commit) IsRoot() bool {
	return c.ParentID == ""
}
