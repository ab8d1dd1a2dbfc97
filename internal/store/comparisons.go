package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trellishq/trellis/internal/models"
)

const comparisonColumns = `id, base_branch_id, compare_branch_id, base_commit_id,
	compare_commit_id, added_node_ids, modified_node_ids, deleted_node_ids,
	conflict_node_ids, is_stale, created_at, expires_at`

// SaveComparison stores a computed branch comparison for reuse until expiry.
func (db *DB) SaveComparison(ctx context.Context, cmp *models.Comparison) error {
	if err := cmp.Validate(); err != nil {
		return fmt.Errorf("invalid comparison: %w", err)
	}

	added, err := marshalJSON(cmp.AddedNodeIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal added node ids: %w", err)
	}
	modified, err := marshalJSON(cmp.ModifiedNodeIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal modified node ids: %w", err)
	}
	deleted, err := marshalJSON(cmp.DeletedNodeIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal deleted node ids: %w", err)
	}
	conflicts, err := marshalJSON(cmp.ConflictNodeIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal conflict node ids: %w", err)
	}

	query := `
	INSERT INTO comparisons (` + comparisonColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.conn.ExecContext(ctx, query,
		cmp.ID,
		cmp.BaseBranchID,
		cmp.CompareBranchID,
		nullString(cmp.BaseCommitID),
		nullString(cmp.CompareCommitID),
		added,
		modified,
		deleted,
		conflicts,
		boolToInt(cmp.IsStale),
		formatTime(cmp.CreatedAt),
		formatTime(cmp.ExpiresAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert comparison %s: %w", cmp.ID, err)
	}
	return nil
}

// GetFreshComparison returns the newest non-stale, non-expired comparison for
// the branch pair, or ErrComparisonNotFound when a recompute is needed.
func (db *DB) GetFreshComparison(ctx context.Context, baseBranchID, compareBranchID string, now time.Time) (*models.Comparison, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+comparisonColumns+` FROM comparisons
		 WHERE base_branch_id = ? AND compare_branch_id = ?
		   AND is_stale = 0 AND expires_at > ?
		 ORDER BY created_at DESC LIMIT 1`,
		baseBranchID, compareBranchID, formatTime(now))
	return scanComparison(row)
}

// MarkComparisonsStale invalidates every cached comparison touching the
// branch. Called after any head movement so viewers never see outdated diffs.
func (db *DB) MarkComparisonsStale(ctx context.Context, branchID string) error {
	_, err := db.conn.ExecContext(ctx,
		`UPDATE comparisons SET is_stale = 1
		 WHERE base_branch_id = ? OR compare_branch_id = ?`,
		branchID, branchID)
	if err != nil {
		return fmt.Errorf("failed to mark comparisons stale: %w", err)
	}
	return nil
}

// PurgeExpiredComparisons deletes stale and expired cache rows, returning how
// many were removed.
func (db *DB) PurgeExpiredComparisons(ctx context.Context, now time.Time) (int64, error) {
	res, err := db.conn.ExecContext(ctx,
		`DELETE FROM comparisons WHERE is_stale = 1 OR expires_at <= ?`,
		formatTime(now))
	if err != nil {
		return 0, fmt.Errorf("failed to purge comparisons: %w", err)
	}
	return res.RowsAffected()
}

func scanComparison(row rowScanner) (*models.Comparison, error) {
	var (
		cmp                                  models.Comparison
		baseCommitID, compareCommitID        sql.NullString
		added, modified, deleted, conflicts  string
		isStale                              int
		createdAt, expiresAt                 string
	)

	err := row.Scan(
		&cmp.ID,
		&cmp.BaseBranchID,
		&cmp.CompareBranchID,
		&baseCommitID,
		&compareCommitID,
		&added,
		&modified,
		&deleted,
		&conflicts,
		&isStale,
		&createdAt,
		&expiresAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrComparisonNotFound
		}
		return nil, fmt.Errorf("failed to scan comparison: %w", err)
	}

	cmp.BaseCommitID = baseCommitID.String
	cmp.CompareCommitID = compareCommitID.String
	cmp.IsStale = isStale == 1
	cmp.CreatedAt = parseTime(createdAt)
	cmp.ExpiresAt = parseTime(expiresAt)

	cmp.AddedNodeIDs = []string{}
	cmp.ModifiedNodeIDs = []string{}
	cmp.DeletedNodeIDs = []string{}
	cmp.ConflictNodeIDs = []string{}
	if err := unmarshalJSON(added, &cmp.AddedNodeIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal added node ids: %w", err)
	}
	if err := unmarshalJSON(modified, &cmp.ModifiedNodeIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal modified node ids: %w", err)
	}
	if err := unmarshalJSON(deleted, &cmp.DeletedNodeIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deleted node ids: %w", err)
	}
	if err := unmarshalJSON(conflicts, &cmp.ConflictNodeIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal conflict node ids: %w", err)
	}

	cmp.AddedCount = len(cmp.AddedNodeIDs)
	cmp.ModifiedCount = len(cmp.ModifiedNodeIDs)
	cmp.DeletedCount = len(cmp.DeletedNodeIDs)

	return &cmp, nil
}
