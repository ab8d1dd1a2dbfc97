package snapshot

import (
	"encoding/json"
	"reflect"
	"sort"
)

// excludedProperties are never compared property-by-property. The id mirrors
// the map key, and children is an opaque reference list owned by the document
// layer, not this engine.
var excludedProperties = map[string]struct{}{
	"id":       {},
	"children": {},
}

// NodeSummary identifies a node that was added or deleted between snapshots.
// Name and Type are carried along when the node declares them, for display.
type NodeSummary struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Type string `json:"type,omitempty"`
}

// PropertyChange records one property whose value differs between snapshots.
type PropertyChange struct {
	Property string `json:"property"`
	OldValue any    `json:"old_value"`
	NewValue any    `json:"new_value"`
}

// NodeChange records all property-level changes on a single surviving node.
type NodeChange struct {
	ID      string           `json:"id"`
	Changes []PropertyChange `json:"changed_properties"`
}

// Delta is the structural difference between two snapshots. It is
// descriptive, not a patch format: applying it is not defined.
type Delta struct {
	Added    []NodeSummary `json:"added"`
	Modified []NodeChange  `json:"modified"`
	Deleted  []NodeSummary `json:"deleted"`
}

// Empty reports whether the delta carries no changes.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Deleted) == 0
}

// AddedIDs returns the ids of added nodes in sorted order.
func (d Delta) AddedIDs() []string { return summaryIDs(d.Added) }

// DeletedIDs returns the ids of deleted nodes in sorted order.
func (d Delta) DeletedIDs() []string { return summaryIDs(d.Deleted) }

// ModifiedIDs returns the ids of modified nodes in sorted order.
func (d Delta) ModifiedIDs() []string {
	ids := make([]string, 0, len(d.Modified))
	for _, change := range d.Modified {
		ids = append(ids, change.ID)
	}
	sort.Strings(ids)
	return ids
}

func summaryIDs(summaries []NodeSummary) []string {
	ids := make([]string, 0, len(summaries))
	for _, s := range summaries {
		ids = append(ids, s.ID)
	}
	sort.Strings(ids)
	return ids
}

// Diff computes the structural difference between two snapshots. It is a pure
// function: no side effects, deterministic output ordering (node id, then
// property name), safe for concurrent use. Node identity is the map key, so
// reordering children without mutating properties is never reported.
func Diff(old, new Snapshot) Delta {
	var delta Delta

	for _, id := range new.NodeIDs() {
		newProps := new[id]
		oldProps, existed := old[id]
		if !existed {
			delta.Added = append(delta.Added, summarize(id, newProps))
			continue
		}
		if changes := diffProperties(oldProps, newProps); len(changes) > 0 {
			delta.Modified = append(delta.Modified, NodeChange{ID: id, Changes: changes})
		}
	}

	for _, id := range old.NodeIDs() {
		if _, survives := new[id]; !survives {
			delta.Deleted = append(delta.Deleted, summarize(id, old[id]))
		}
	}

	return delta
}

// diffProperties compares two property bags, skipping excluded keys.
// Properties present on only one side are reported with a nil counterpart.
func diffProperties(old, new Properties) []PropertyChange {
	keys := make(map[string]struct{}, len(old)+len(new))
	for k := range old {
		keys[k] = struct{}{}
	}
	for k := range new {
		keys[k] = struct{}{}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		if _, excluded := excludedProperties[k]; excluded {
			continue
		}
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	var changes []PropertyChange
	for _, k := range sorted {
		oldVal, hadOld := old[k]
		newVal, hasNew := new[k]
		if hadOld && hasNew && ValuesEqual(oldVal, newVal) {
			continue
		}
		if !hadOld && !hasNew {
			continue
		}
		changes = append(changes, PropertyChange{Property: k, OldValue: oldVal, NewValue: newVal})
	}
	return changes
}

func summarize(id string, props Properties) NodeSummary {
	summary := NodeSummary{ID: id}
	if name, ok := props["name"].(string); ok {
		summary.Name = name
	}
	if typ, ok := props["type"].(string); ok {
		summary.Type = typ
	}
	return summary
}

// ValuesEqual performs deep value equality over the JSON value set. Numeric
// values compare by value regardless of Go type, so snapshots built in code
// (int) compare equal to snapshots round-tripped through JSON (float64).
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	if af, aok := asFloat(a); aok {
		bf, bok := asFloat(b)
		return bok && af == bf
	}

	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	case map[string]any:
		bv, ok := toMap(b)
		return ok && mapsEqual(av, bv)
	case Properties:
		bv, ok := toMap(b)
		return ok && mapsEqual(av, bv)
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !ValuesEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return reflect.DeepEqual(a, b)
	}
}

func mapsEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	for k, av := range a {
		bv, ok := b[k]
		if !ok || !ValuesEqual(av, bv) {
			return false
		}
	}
	return true
}

func toMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Properties:
		return m, true
	default:
		return nil, false
	}
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}
