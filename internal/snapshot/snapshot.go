// Package snapshot defines the document snapshot model and structural diffing.
//
// A snapshot is a full point-in-time representation of a design document as a
// flat map of node id to property bag. Hierarchy is expressed through the
// opaque "children" property on each node; the diff engine treats it as a
// reference list and never compares it property-by-property.
package snapshot

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Properties is the schemaless property bag of a single design node.
// Values are the JSON value set: string, float64, bool, nil, nested
// map[string]any and []any.
type Properties map[string]any

// Snapshot maps stable node ids to node property bags.
type Snapshot map[string]Properties

// Validate rejects malformed snapshots at the engine boundary so the differ
// never has to raise domain errors itself.
func (s Snapshot) Validate() error {
	for id, props := range s {
		if id == "" {
			return fmt.Errorf("snapshot contains a node with an empty id")
		}
		if props == nil {
			return fmt.Errorf("node %s has no properties", id)
		}
		if declared, ok := props["id"]; ok {
			str, isString := declared.(string)
			if !isString {
				return fmt.Errorf("node %s declares a non-string id property", id)
			}
			if str != id {
				return fmt.Errorf("node %s declares mismatched id property %q", id, str)
			}
		}
	}
	return nil
}

// Clone returns a deep copy of the snapshot.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for id, props := range s {
		out[id] = cloneProperties(props)
	}
	return out
}

func cloneProperties(props Properties) Properties {
	out := make(Properties, len(props))
	for k, v := range props {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case Properties:
		return map[string]any(cloneProperties(val))
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return val
	}
}

// NodeIDs returns the snapshot's node ids in sorted order.
func (s Snapshot) NodeIDs() []string {
	ids := make([]string, 0, len(s))
	for id := range s {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Encode serializes the snapshot to canonical JSON. encoding/json writes map
// keys in sorted order, so equal snapshots always encode to equal bytes.
func (s Snapshot) Encode() ([]byte, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode snapshot: %w", err)
	}
	return data, nil
}

// Decode parses a snapshot from its JSON serialization.
func Decode(data []byte) (Snapshot, error) {
	if len(data) == 0 {
		return Snapshot{}, nil
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if s == nil {
		s = Snapshot{}
	}
	return s, nil
}
