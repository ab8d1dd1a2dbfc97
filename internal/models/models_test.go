package models

import (
	"testing"
	"time"
)

func validBranch() *Branch {
	b := &Branch{
		ID:        "br-1",
		ProjectID: "proj-1",
		Name:      "main",
		Type:      BranchTypeMain,
		CreatedBy: "user-1",
	}
	b.SetDefaults()
	return b
}

func TestBranchValidate(t *testing.T) {
	if err := validBranch().Validate(); err != nil {
		t.Errorf("Valid branch rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Branch)
	}{
		{"missing id", func(b *Branch) { b.ID = "" }},
		{"missing project", func(b *Branch) { b.ProjectID = "" }},
		{"missing name", func(b *Branch) { b.Name = "" }},
		{"bad type", func(b *Branch) { b.Type = "trunk" }},
		{"bad status", func(b *Branch) { b.Status = "paused" }},
		{"negative reviewers", func(b *Branch) { b.MinReviewers = -1 }},
	}
	for _, tc := range cases {
		b := validBranch()
		tc.mutate(b)
		if err := b.Validate(); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}
}

func TestBranchSetDefaults(t *testing.T) {
	b := &Branch{ID: "br-1", ProjectID: "p", Name: "n", CreatedBy: "u"}
	b.SetDefaults()

	if b.Type != BranchTypeFeature {
		t.Errorf("Default type = %s, want feature", b.Type)
	}
	if b.Status != BranchStatusActive {
		t.Errorf("Default status = %s, want active", b.Status)
	}
	if b.Collaborators == nil {
		t.Error("Collaborators should default to empty slice")
	}
	if b.CreatedAt.IsZero() || b.UpdatedAt.IsZero() {
		t.Error("Timestamps should be defaulted")
	}
}

func TestCommitValidate(t *testing.T) {
	c := &Commit{
		ID:        "c-1",
		BranchID:  "br-1",
		Message:   "initial",
		Hash:      "bafy123",
		Author:    "user-1",
		CreatedAt: time.Now(),
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Valid commit rejected: %v", err)
	}

	c.Hash = ""
	if err := c.Validate(); err == nil {
		t.Error("Expected error for missing hash")
	}
}

func TestCommitLineage(t *testing.T) {
	root := &Commit{}
	if !root.IsRoot() || root.IsMerge() {
		t.Error("Commit without parents should be root and not merge")
	}

	merge := &Commit{ParentID: "p1", MergeParentID: "p2"}
	if merge.IsRoot() || !merge.IsMerge() {
		t.Error("Commit with two parents should be a merge and not root")
	}
}

func TestMergeValidate(t *testing.T) {
	m := &Merge{
		ID:             "m-1",
		SourceBranchID: "br-1",
		TargetBranchID: "br-2",
		Strategy:       MergeStrategyMergeCommit,
		Status:         MergeStatusPending,
		InitiatedBy:    "user-1",
	}
	if err := m.Validate(); err != nil {
		t.Errorf("Valid merge rejected: %v", err)
	}

	m.TargetBranchID = m.SourceBranchID
	if err := m.Validate(); err == nil {
		t.Error("Expected error for source == target")
	}
}

func TestMergeStatusTransitions(t *testing.T) {
	terminal := []MergeStatus{MergeStatusCompleted, MergeStatusCancelled, MergeStatusAborted}
	for _, s := range terminal {
		if !s.IsTerminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	open := []MergeStatus{MergeStatusPending, MergeStatusInProgress, MergeStatusConflicted}
	for _, s := range open {
		if s.IsTerminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
	if MergeStatus("paused").IsValid() {
		t.Error("Unknown status should be invalid")
	}
}

func TestConflictResolutionStates(t *testing.T) {
	if ResolutionPending.IsResolved() {
		t.Error("pending should not count as resolved")
	}
	for _, r := range []ConflictResolution{ResolutionKeepSource, ResolutionKeepTarget, ResolutionManual} {
		if !r.IsResolved() {
			t.Errorf("%s should count as resolved", r)
		}
	}
	if ConflictResolution("defer").IsResolved() {
		t.Error("unknown resolution should not count as resolved")
	}
}

func TestConflictValidate(t *testing.T) {
	c := &Conflict{
		ID:           "cf-1",
		MergeID:      "m-1",
		Kind:         ConflictKindProperty,
		NodeID:       "n1",
		PropertyPath: "x",
		Resolution:   ResolutionPending,
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Valid conflict rejected: %v", err)
	}

	c.Kind = "layout"
	if err := c.Validate(); err == nil {
		t.Error("Expected error for unknown conflict kind")
	}
}

func TestComparisonExpiry(t *testing.T) {
	now := time.Now()
	cmp := &Comparison{
		ID:              "cp-1",
		BaseBranchID:    "br-1",
		CompareBranchID: "br-2",
		CreatedAt:       now,
		ExpiresAt:       now.Add(5 * time.Minute),
	}
	if err := cmp.Validate(); err != nil {
		t.Errorf("Valid comparison rejected: %v", err)
	}
	if cmp.Expired(now.Add(time.Minute)) {
		t.Error("Comparison should not be expired before its expiry")
	}
	if !cmp.Expired(now.Add(10 * time.Minute)) {
		t.Error("Comparison should be expired past its expiry")
	}

	cmp.ExpiresAt = now.Add(-time.Minute)
	if err := cmp.Validate(); err == nil {
		t.Error("Expected error when expires_at precedes created_at")
	}
}
