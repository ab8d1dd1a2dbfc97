package snapshot

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// hashEnvelope is the canonical byte layout hashed for a commit. Field order
// is fixed by the struct definition and the snapshot encodes with sorted keys,
// so the same inputs always hash identically.
type hashEnvelope struct {
	Snapshot   Snapshot `json:"snapshot"`
	ParentHash string   `json:"parent_hash"`
	Message    string   `json:"message"`
	AuthorID   string   `json:"author_id"`
	CommitTime int64    `json:"commit_time"`
}

// HashCommit computes the content hash for a commit as a CIDv1 string (raw
// codec, SHA2-256). The wall-clock commit time participates in the hash, so
// committing identical content twice yields distinct hashes, matching
// conventional version-control semantics.
func HashCommit(snap Snapshot, parentHash, message, authorID string, committedAt time.Time) (string, error) {
	payload, err := json.Marshal(hashEnvelope{
		Snapshot:   snap,
		ParentHash: parentHash,
		Message:    message,
		AuthorID:   authorID,
		CommitTime: committedAt.UnixNano(),
	})
	if err != nil {
		return "", fmt.Errorf("failed to serialize commit for hashing: %w", err)
	}

	mh, err := multihash.Sum(payload, multihash.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("multihash: %w", err)
	}
	return cid.NewCidV1(cid.Raw, mh).String(), nil
}
