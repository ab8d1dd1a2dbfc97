package engine

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/trellishq/trellis/internal/models"
	"github.com/trellishq/trellis/internal/snapshot"
)

// Detect compares two branches' head snapshots and returns the conflicts a
// merge between them would raise. Read-only: nothing is persisted.
func (e *Engine) Detect(ctx context.Context, sourceBranchID, targetBranchID string) ([]*models.Conflict, error) {
	source, err := e.db.GetBranch(ctx, sourceBranchID)
	if err != nil {
		return nil, err
	}
	target, err := e.db.GetBranch(ctx, targetBranchID)
	if err != nil {
		return nil, err
	}

	sourceSnap, err := e.db.HeadSnapshot(ctx, source)
	if err != nil {
		return nil, err
	}
	targetSnap, err := e.db.HeadSnapshot(ctx, target)
	if err != nil {
		return nil, err
	}
	baseSnap, err := e.branchPointSnapshot(ctx, source)
	if err != nil {
		return nil, err
	}

	return detectConflicts("", sourceSnap, targetSnap, baseSnap, e.now().UTC()), nil
}

// detectConflicts emits one conflict per property where the two snapshots
// hold different values for a node present in both. Detection is two-way: a
// property that changed on only one side still conflicts whenever the
// current values disagree, and a property present on only one side conflicts
// against a nil counterpart. The branch-point snapshot only annotates each
// conflict with the ancestral value for display; it never suppresses one.
func detectConflicts(mergeID string, source, target, base snapshot.Snapshot, now time.Time) []*models.Conflict {
	var conflicts []*models.Conflict

	for _, nodeID := range sortedSharedIDs(source, target) {
		sourceProps := source[nodeID]
		targetProps := target[nodeID]
		baseProps, inBase := base[nodeID]

		for _, property := range sortedPropertyKeys(sourceProps, targetProps) {
			if property == "id" || property == "children" {
				continue
			}
			sourceValue, inSource := sourceProps[property]
			targetValue, inTarget := targetProps[property]
			if inSource == inTarget && snapshot.ValuesEqual(sourceValue, targetValue) {
				continue
			}

			kind := classifyProperty(property)
			_, propInBase := baseProps[property]
			if inSource != inTarget && propInBase {
				// One side removed a property the ancestor had.
				kind = models.ConflictKindDeletion
			}
			if !inBase {
				// Both sides created the same node id independently.
				kind = models.ConflictKindCreation
			}

			c := &models.Conflict{
				ID:           newID(),
				MergeID:      mergeID,
				Kind:         kind,
				NodeID:       nodeID,
				NodeType:     stringProp(sourceProps, targetProps, "type"),
				NodeName:     stringProp(sourceProps, targetProps, "name"),
				PropertyPath: property,
				SourceValue:  map[string]any{property: sourceValue},
				TargetValue:  map[string]any{property: targetValue},
				Resolution:   models.ResolutionPending,
				CreatedAt:    now,
			}
			if baseValue, ok := baseProps[property]; ok {
				c.BaseValue = map[string]any{property: baseValue}
			}
			conflicts = append(conflicts, c)
		}
	}

	return conflicts
}

func sortedSharedIDs(source, target snapshot.Snapshot) []string {
	var ids []string
	for id := range source {
		if _, ok := target[id]; ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func sortedPropertyKeys(a, b snapshot.Properties) []string {
	keys := make(map[string]struct{}, len(a)+len(b))
	for k := range a {
		keys[k] = struct{}{}
	}
	for k := range b {
		keys[k] = struct{}{}
	}
	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)
	return sorted
}

// classifyProperty buckets a property name into a conflict kind so clients
// can group geometry and styling disagreements separately.
func classifyProperty(property string) models.ConflictKind {
	switch property {
	case "x", "y", "width", "height", "rotation", "z_index", "position":
		return models.ConflictKindPosition
	case "fill", "stroke", "opacity", "color", "background", "style":
		return models.ConflictKindStyle
	}
	if strings.HasPrefix(property, "font") {
		return models.ConflictKindStyle
	}
	return models.ConflictKindProperty
}

// branchPointSnapshot loads the snapshot at the branch's fork point, or an
// empty snapshot for a root branch.
func (e *Engine) branchPointSnapshot(ctx context.Context, branch *models.Branch) (snapshot.Snapshot, error) {
	if branch.BranchPointCommitID == "" {
		return snapshot.Snapshot{}, nil
	}
	commit, err := e.db.GetCommit(ctx, branch.BranchPointCommitID)
	if err != nil {
		return nil, err
	}
	return commit.Snapshot, nil
}

func stringProp(primary, fallback snapshot.Properties, key string) string {
	if s, ok := primary[key].(string); ok {
		return s
	}
	if s, ok := fallback[key].(string); ok {
		return s
	}
	return ""
}
