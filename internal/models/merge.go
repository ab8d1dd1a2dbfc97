package models

import (
	"fmt"
	"time"
)

// MergeStrategy selects how a merge commit is produced.
type MergeStrategy string

const (
	MergeStrategyFastForward MergeStrategy = "fast-forward"
	MergeStrategyMergeCommit MergeStrategy = "merge-commit"
	MergeStrategySquash      MergeStrategy = "squash"
	MergeStrategyRebase      MergeStrategy = "rebase"
)

// IsValid reports whether the strategy is a known value.
func (s MergeStrategy) IsValid() bool {
	switch s {
	case MergeStrategyFastForward, MergeStrategyMergeCommit, MergeStrategySquash, MergeStrategyRebase:
		return true
	}
	return false
}

// MergeStatus is the state machine position of a merge:
//
//	pending → in_progress → {completed | conflicted}
//	conflicted → completed (after resolution)
//	any non-completed → cancelled | aborted
type MergeStatus string

const (
	MergeStatusPending    MergeStatus = "pending"
	MergeStatusInProgress MergeStatus = "in_progress"
	MergeStatusConflicted MergeStatus = "conflicted"
	MergeStatusCompleted  MergeStatus = "completed"
	MergeStatusCancelled  MergeStatus = "cancelled"
	MergeStatusAborted    MergeStatus = "aborted"
)

// IsValid reports whether the merge status is a known value.
func (s MergeStatus) IsValid() bool {
	switch s {
	case MergeStatusPending, MergeStatusInProgress, MergeStatusConflicted,
		MergeStatusCompleted, MergeStatusCancelled, MergeStatusAborted:
		return true
	}
	return false
}

// IsTerminal reports whether no further transitions are allowed.
func (s MergeStatus) IsTerminal() bool {
	switch s {
	case MergeStatusCompleted, MergeStatusCancelled, MergeStatusAborted:
		return true
	}
	return false
}

// Merge records one attempt to reconcile a source branch into a target branch.
type Merge struct {
	ID             string `json:"id"`
	SourceBranchID string `json:"source_branch_id"`
	TargetBranchID string `json:"target_branch_id"`

	Strategy MergeStrategy `json:"strategy"`
	Status   MergeStatus   `json:"status"`

	// MergeCommitID is set once the merge completes.
	MergeCommitID string `json:"merge_commit_id,omitempty"`

	// SourceCommitID and TargetCommitID pin the branch heads at request time.
	SourceCommitID string `json:"source_commit_id,omitempty"`
	TargetCommitID string `json:"target_commit_id,omitempty"`

	InitiatedBy   string `json:"initiated_by"`
	SquashMessage string `json:"squash_message,omitempty"`
	DeleteSource  bool   `json:"delete_source_after_merge"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Validate checks required fields and enum values.
func (m *Merge) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("id is required")
	}
	if m.SourceBranchID == "" {
		return fmt.Errorf("source_branch_id is required")
	}
	if m.TargetBranchID == "" {
		return fmt.Errorf("target_branch_id is required")
	}
	if m.SourceBranchID == m.TargetBranchID {
		return fmt.Errorf("source and target branches must differ")
	}
	if !m.Strategy.IsValid() {
		return fmt.Errorf("invalid merge strategy: %s", m.Strategy)
	}
	if !m.Status.IsValid() {
		return fmt.Errorf("invalid merge status: %s", m.Status)
	}
	if m.InitiatedBy == "" {
		return fmt.Errorf("initiated_by is required")
	}
	return nil
}

// ConflictKind classifies what kind of disagreement a conflict represents.
type ConflictKind string

const (
	ConflictKindProperty ConflictKind = "property"
	ConflictKindPosition ConflictKind = "position"
	ConflictKindDeletion ConflictKind = "deletion"
	ConflictKindCreation ConflictKind = "creation"
	ConflictKindStyle    ConflictKind = "style"
)

// IsValid reports whether the conflict kind is a known value.
func (k ConflictKind) IsValid() bool {
	switch k {
	case ConflictKindProperty, ConflictKindPosition, ConflictKindDeletion,
		ConflictKindCreation, ConflictKindStyle:
		return true
	}
	return false
}

// ConflictResolution is how a conflict was (or is yet to be) settled.
type ConflictResolution string

const (
	ResolutionPending    ConflictResolution = "pending"
	ResolutionKeepSource ConflictResolution = "keep-source"
	ResolutionKeepTarget ConflictResolution = "keep-target"
	ResolutionManual     ConflictResolution = "manual"
)

// IsValid reports whether the resolution is a known value.
func (r ConflictResolution) IsValid() bool {
	switch r {
	case ResolutionPending, ResolutionKeepSource, ResolutionKeepTarget, ResolutionManual:
		return true
	}
	return false
}

// IsResolved reports whether the conflict no longer blocks merge completion.
func (r ConflictResolution) IsResolved() bool {
	return r.IsValid() && r != ResolutionPending
}

// Conflict is a single property-level disagreement between two branches'
// current values for the same node. Immutable except for resolution fields.
type Conflict struct {
	ID      string `json:"id"`
	MergeID string `json:"merge_id"`

	Kind ConflictKind `json:"kind"`

	NodeID   string `json:"node_id"`
	NodeType string `json:"node_type,omitempty"`
	NodeName string `json:"node_name,omitempty"`

	PropertyPath string `json:"property_path"`

	// SourceValue and TargetValue each hold {property: value} for the
	// conflicting key. BaseValue is the branch-point ancestor's value when
	// known; it is advisory only (two-way detection).
	SourceValue map[string]any `json:"source_value"`
	TargetValue map[string]any `json:"target_value"`
	BaseValue   map[string]any `json:"base_value,omitempty"`

	Resolution    ConflictResolution `json:"resolution"`
	ResolvedValue map[string]any     `json:"resolved_value,omitempty"`
	ResolvedBy    string             `json:"resolved_by,omitempty"`
	ResolvedAt    *time.Time         `json:"resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Validate checks required fields and enum values.
func (c *Conflict) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("id is required")
	}
	if c.MergeID == "" {
		return fmt.Errorf("merge_id is required")
	}
	if !c.Kind.IsValid() {
		return fmt.Errorf("invalid conflict kind: %s", c.Kind)
	}
	if c.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if c.PropertyPath == "" {
		return fmt.Errorf("property_path is required")
	}
	if !c.Resolution.IsValid() {
		return fmt.Errorf("invalid resolution: %s", c.Resolution)
	}
	return nil
}
