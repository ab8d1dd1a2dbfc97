package snapshot

import (
	"reflect"
	"testing"
)

func TestDiffIdenticalSnapshots(t *testing.T) {
	snap := Snapshot{
		"n1": {"type": "frame", "x": 10, "children": []any{"n2"}},
		"n2": {"type": "text", "content": "hello"},
	}

	delta := Diff(snap, snap)
	if !delta.Empty() {
		t.Errorf("Expected empty delta for identical snapshots, got %+v", delta)
	}
}

func TestDiffAddedModifiedDeleted(t *testing.T) {
	old := Snapshot{
		"n1": {"x": 10, "y": 20},
		"n2": {"content": "old"},
		"n3": {"x": 1},
	}
	new := Snapshot{
		"n1": {"x": 99, "y": 20},
		"n2": {"content": "old"},
		"n4": {"x": 5},
	}

	delta := Diff(old, new)

	if got := delta.AddedIDs(); !reflect.DeepEqual(got, []string{"n4"}) {
		t.Errorf("Added = %v, want [n4]", got)
	}
	if got := delta.DeletedIDs(); !reflect.DeepEqual(got, []string{"n3"}) {
		t.Errorf("Deleted = %v, want [n3]", got)
	}
	if got := delta.ModifiedIDs(); !reflect.DeepEqual(got, []string{"n1"}) {
		t.Errorf("Modified = %v, want [n1]", got)
	}

	changes := delta.Modified[0].Changes
	if len(changes) != 1 {
		t.Fatalf("Expected 1 property change on n1, got %d", len(changes))
	}
	if changes[0].Property != "x" {
		t.Errorf("Changed property = %s, want x", changes[0].Property)
	}
	if !ValuesEqual(changes[0].OldValue, 10) || !ValuesEqual(changes[0].NewValue, 99) {
		t.Errorf("Change values = %v -> %v, want 10 -> 99", changes[0].OldValue, changes[0].NewValue)
	}
}

func TestDiffExcludesIDAndChildren(t *testing.T) {
	old := Snapshot{
		"n1": {"id": "n1", "children": []any{"a", "b"}, "x": 1},
	}
	new := Snapshot{
		"n1": {"id": "n1", "children": []any{"b", "a"}, "x": 1},
	}

	delta := Diff(old, new)
	if !delta.Empty() {
		t.Errorf("children reorder should not be a modification, got %+v", delta)
	}
}

func TestDiffOneSidedProperty(t *testing.T) {
	old := Snapshot{"n1": {"x": 1}}
	new := Snapshot{"n1": {"x": 1, "label": "added"}}

	delta := Diff(old, new)
	if len(delta.Modified) != 1 {
		t.Fatalf("Expected n1 modified, got %+v", delta)
	}
	change := delta.Modified[0].Changes[0]
	if change.Property != "label" || change.OldValue != nil {
		t.Errorf("Expected label with nil old value, got %+v", change)
	}
}

func TestDiffDeterministicOrdering(t *testing.T) {
	old := Snapshot{}
	new := Snapshot{
		"c": {"x": 1},
		"a": {"x": 1},
		"b": {"x": 1},
	}

	for i := 0; i < 10; i++ {
		delta := Diff(old, new)
		if got := delta.AddedIDs(); !reflect.DeepEqual(got, []string{"a", "b", "c"}) {
			t.Fatalf("Added order = %v, want [a b c]", got)
		}
	}
}

func TestValuesEqualNumericCoercion(t *testing.T) {
	cases := []struct {
		a, b any
		want bool
	}{
		{10, float64(10), true},
		{int64(3), 3, true},
		{10, float64(10.5), false},
		{"10", 10, false},
		{true, true, true},
		{nil, nil, true},
		{nil, 0, false},
		{map[string]any{"a": 1}, map[string]any{"a": float64(1)}, true},
		{[]any{1, "x"}, []any{float64(1), "x"}, true},
		{[]any{1}, []any{1, 2}, false},
	}
	for _, tc := range cases {
		if got := ValuesEqual(tc.a, tc.b); got != tc.want {
			t.Errorf("ValuesEqual(%v, %v) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestSnapshotValidate(t *testing.T) {
	valid := Snapshot{"n1": {"id": "n1", "x": 1}}
	if err := valid.Validate(); err != nil {
		t.Errorf("Valid snapshot rejected: %v", err)
	}

	mismatched := Snapshot{"n1": {"id": "other"}}
	if err := mismatched.Validate(); err == nil {
		t.Error("Expected error for mismatched id property")
	}

	empty := Snapshot{"": {"x": 1}}
	if err := empty.Validate(); err == nil {
		t.Error("Expected error for empty node id")
	}

	nilProps := Snapshot{"n1": nil}
	if err := nilProps.Validate(); err == nil {
		t.Error("Expected error for nil properties")
	}
}

func TestSnapshotCloneIsDeep(t *testing.T) {
	original := Snapshot{
		"n1": {"nested": map[string]any{"x": 1}, "list": []any{"a"}},
	}
	clone := original.Clone()

	clone["n1"]["nested"].(map[string]any)["x"] = 99
	clone["n1"]["list"].([]any)[0] = "b"

	if original["n1"]["nested"].(map[string]any)["x"] != 1 {
		t.Error("Clone shares nested map with original")
	}
	if original["n1"]["list"].([]any)[0] != "a" {
		t.Error("Clone shares slice with original")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	snap := Snapshot{"n1": {"x": float64(10), "name": "box"}}

	data, err := snap.Encode()
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	decoded, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !ValuesEqual(map[string]any(decoded["n1"]), map[string]any(snap["n1"])) {
		t.Errorf("Round trip mismatch: %v != %v", decoded, snap)
	}
}
