package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trellishq/trellis/internal/models"
)

const mergeColumns = `id, source_branch_id, target_branch_id, strategy, status,
	merge_commit_id, source_commit_id, target_commit_id, initiated_by,
	squash_message, delete_source, created_at, updated_at, completed_at`

const conflictColumns = `id, merge_id, kind, node_id, node_type, node_name,
	property_path, source_value, target_value, base_value, resolution,
	resolved_value, resolved_by, resolved_at, created_at`

// CreateMerge records a merge request.
func (db *DB) CreateMerge(ctx context.Context, merge *models.Merge) error {
	if err := merge.Validate(); err != nil {
		return fmt.Errorf("invalid merge: %w", err)
	}

	query := `
	INSERT INTO merges (` + mergeColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := db.conn.ExecContext(ctx, query,
		merge.ID,
		merge.SourceBranchID,
		merge.TargetBranchID,
		string(merge.Strategy),
		string(merge.Status),
		nullString(merge.MergeCommitID),
		nullString(merge.SourceCommitID),
		nullString(merge.TargetCommitID),
		merge.InitiatedBy,
		nullString(merge.SquashMessage),
		boolToInt(merge.DeleteSource),
		formatTime(merge.CreatedAt),
		formatTime(merge.UpdatedAt),
		timeToNullString(merge.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert merge %s: %w", merge.ID, err)
	}
	return nil
}

// GetMerge retrieves a merge by id.
func (db *DB) GetMerge(ctx context.Context, id string) (*models.Merge, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+mergeColumns+` FROM merges WHERE id = ?`, id)
	return scanMerge(row)
}

// FindOpenMerge returns the non-terminal merge for a source/target pair, if
// any. At most one merge per pair may be open at a time.
func (db *DB) FindOpenMerge(ctx context.Context, sourceBranchID, targetBranchID string) (*models.Merge, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+mergeColumns+` FROM merges
		 WHERE source_branch_id = ? AND target_branch_id = ?
		   AND status NOT IN ('completed', 'cancelled', 'aborted')
		 ORDER BY created_at DESC LIMIT 1`,
		sourceBranchID, targetBranchID)
	return scanMerge(row)
}

// ListMerges returns merges touching the branch as source or target,
// newest-first.
func (db *DB) ListMerges(ctx context.Context, branchID string) ([]*models.Merge, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+mergeColumns+` FROM merges
		 WHERE source_branch_id = ? OR target_branch_id = ?
		 ORDER BY created_at DESC, id DESC`,
		branchID, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list merges: %w", err)
	}
	defer rows.Close()

	var merges []*models.Merge
	for rows.Next() {
		merge, err := scanMerge(rows)
		if err != nil {
			return nil, err
		}
		merges = append(merges, merge)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating merges: %w", err)
	}
	return merges, nil
}

// UpdateMergeStatus transitions a merge's status.
func (db *DB) UpdateMergeStatus(ctx context.Context, id string, status models.MergeStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: merge status %s", ErrInvalidInput, status)
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE merges SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update merge %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrMergeNotFound
	}
	return nil
}

// CreateConflicts inserts the detected conflicts for a merge in one
// transaction and marks the merge conflicted.
func (db *DB) CreateConflicts(ctx context.Context, mergeID string, conflicts []*models.Conflict) error {
	for _, c := range conflicts {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("invalid conflict: %w", err)
		}
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO conflicts (` + conflictColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	for _, c := range conflicts {
		sourceValue, err := marshalJSON(c.SourceValue)
		if err != nil {
			return fmt.Errorf("failed to marshal source value: %w", err)
		}
		targetValue, err := marshalJSON(c.TargetValue)
		if err != nil {
			return fmt.Errorf("failed to marshal target value: %w", err)
		}
		baseValue, err := marshalJSON(c.BaseValue)
		if err != nil {
			return fmt.Errorf("failed to marshal base value: %w", err)
		}
		resolvedValue, err := marshalJSON(c.ResolvedValue)
		if err != nil {
			return fmt.Errorf("failed to marshal resolved value: %w", err)
		}

		if _, err := tx.ExecContext(ctx, query,
			c.ID,
			c.MergeID,
			string(c.Kind),
			c.NodeID,
			nullString(c.NodeType),
			nullString(c.NodeName),
			c.PropertyPath,
			sourceValue,
			targetValue,
			nullString(baseValue),
			string(c.Resolution),
			nullString(resolvedValue),
			nullString(c.ResolvedBy),
			timeToNullString(c.ResolvedAt),
			formatTime(c.CreatedAt),
		); err != nil {
			return fmt.Errorf("failed to insert conflict %s: %w", c.ID, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE merges SET status = ?, updated_at = ? WHERE id = ?`,
		string(models.MergeStatusConflicted), formatTime(time.Now()), mergeID); err != nil {
		return fmt.Errorf("failed to mark merge conflicted: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetConflict retrieves a conflict by id.
func (db *DB) GetConflict(ctx context.Context, id string) (*models.Conflict, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+conflictColumns+` FROM conflicts WHERE id = ?`, id)
	return scanConflict(row)
}

// ListConflicts returns a merge's conflicts ordered by node then property.
func (db *DB) ListConflicts(ctx context.Context, mergeID string) ([]*models.Conflict, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+conflictColumns+` FROM conflicts
		 WHERE merge_id = ? ORDER BY node_id ASC, property_path ASC`,
		mergeID)
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []*models.Conflict
	for rows.Next() {
		conflict, err := scanConflict(rows)
		if err != nil {
			return nil, err
		}
		conflicts = append(conflicts, conflict)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}
	return conflicts, nil
}

// CountPendingConflicts returns how many of a merge's conflicts are still
// unresolved.
func (db *DB) CountPendingConflicts(ctx context.Context, mergeID string) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conflicts WHERE merge_id = ? AND resolution = 'pending'`,
		mergeID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending conflicts: %w", err)
	}
	return count, nil
}

// ResolveConflict records a resolution. Only the resolution fields change;
// the detected values are immutable.
func (db *DB) ResolveConflict(ctx context.Context, id string, resolution models.ConflictResolution, resolvedValue map[string]any, resolvedBy string) error {
	if !resolution.IsResolved() {
		return fmt.Errorf("%w: resolution %s", ErrInvalidInput, resolution)
	}
	value, err := marshalJSON(resolvedValue)
	if err != nil {
		return fmt.Errorf("failed to marshal resolved value: %w", err)
	}

	res, err := db.conn.ExecContext(ctx,
		`UPDATE conflicts
		 SET resolution = ?, resolved_value = ?, resolved_by = ?, resolved_at = ?
		 WHERE id = ?`,
		string(resolution), nullString(value), nullString(resolvedBy),
		formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrConflictNotFound
	}
	return nil
}

// CompleteMerge finalizes a merge in one transaction: it re-checks that no
// conflict is still pending, inserts the merge commit, advances the target
// head with an expected-head compare-and-swap, marks the merge completed,
// and transitions the source branch to its post-merge status. Any failure
// rolls everything back.
func (db *DB) CompleteMerge(ctx context.Context, merge *models.Merge, mergeCommit *models.Commit, expectedTargetHead string, sourceStatus models.BranchStatus) error {
	if err := mergeCommit.Validate(); err != nil {
		return fmt.Errorf("invalid merge commit: %w", err)
	}
	if !sourceStatus.IsValid() {
		return fmt.Errorf("%w: branch status %s", ErrInvalidInput, sourceStatus)
	}

	delta, err := marshalJSON(mergeCommit.Delta)
	if err != nil {
		return fmt.Errorf("failed to marshal delta: %w", err)
	}
	coAuthors, err := marshalJSON(mergeCommit.CoAuthors)
	if err != nil {
		return fmt.Errorf("failed to marshal co-authors: %w", err)
	}
	tags, err := marshalJSON(mergeCommit.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	if err := db.putSnapshot(ctx, mergeCommit.Hash, mergeCommit.Snapshot); err != nil {
		return err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// Re-check inside the transaction: a resolution could have been undone
	// or a late conflict inserted between the caller's check and now.
	var pending int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM conflicts WHERE merge_id = ? AND resolution = 'pending'`,
		merge.ID).Scan(&pending); err != nil {
		return fmt.Errorf("failed to count pending conflicts: %w", err)
	}
	if pending > 0 {
		return ErrConflictsPending
	}

	if err := insertCommitTx(ctx, tx, mergeCommit, delta, coAuthors, tags); err != nil {
		return err
	}
	if err := advanceHeadTx(ctx, tx, merge.TargetBranchID, expectedTargetHead, mergeCommit.ID); err != nil {
		return err
	}

	now := time.Now()
	res, err := tx.ExecContext(ctx,
		`UPDATE merges
		 SET status = ?, merge_commit_id = ?, updated_at = ?, completed_at = ?
		 WHERE id = ? AND status NOT IN ('completed', 'cancelled', 'aborted')`,
		string(models.MergeStatusCompleted), mergeCommit.ID,
		formatTime(now), formatTime(now), merge.ID)
	if err != nil {
		return fmt.Errorf("failed to complete merge %s: %w", merge.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrMergeNotFound
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE branches SET status = ?, updated_at = ? WHERE id = ?`,
		string(sourceStatus), formatTime(now), merge.SourceBranchID); err != nil {
		return fmt.Errorf("failed to update source branch: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func scanMerge(row rowScanner) (*models.Merge, error) {
	var (
		merge                             models.Merge
		strategy, status                  string
		mergeCommitID, sourceCommitID     sql.NullString
		targetCommitID, squashMessage     sql.NullString
		deleteSource                      int
		createdAt, updatedAt              string
		completedAt                       sql.NullString
	)

	err := row.Scan(
		&merge.ID,
		&merge.SourceBranchID,
		&merge.TargetBranchID,
		&strategy,
		&status,
		&mergeCommitID,
		&sourceCommitID,
		&targetCommitID,
		&merge.InitiatedBy,
		&squashMessage,
		&deleteSource,
		&createdAt,
		&updatedAt,
		&completedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrMergeNotFound
		}
		return nil, fmt.Errorf("failed to scan merge: %w", err)
	}

	merge.Strategy = models.MergeStrategy(strategy)
	merge.Status = models.MergeStatus(status)
	merge.MergeCommitID = mergeCommitID.String
	merge.SourceCommitID = sourceCommitID.String
	merge.TargetCommitID = targetCommitID.String
	merge.SquashMessage = squashMessage.String
	merge.DeleteSource = deleteSource == 1
	merge.CreatedAt = parseTime(createdAt)
	merge.UpdatedAt = parseTime(updatedAt)
	merge.CompletedAt = nullStringToTime(completedAt)

	return &merge, nil
}

func scanConflict(row rowScanner) (*models.Conflict, error) {
	var (
		conflict                             models.Conflict
		kind, resolution                     string
		nodeType, nodeName                   sql.NullString
		sourceValue, targetValue             string
		baseValue, resolvedValue, resolvedBy sql.NullString
		resolvedAt                           sql.NullString
		createdAt                            string
	)

	err := row.Scan(
		&conflict.ID,
		&conflict.MergeID,
		&kind,
		&conflict.NodeID,
		&nodeType,
		&nodeName,
		&conflict.PropertyPath,
		&sourceValue,
		&targetValue,
		&baseValue,
		&resolution,
		&resolvedValue,
		&resolvedBy,
		&resolvedAt,
		&createdAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrConflictNotFound
		}
		return nil, fmt.Errorf("failed to scan conflict: %w", err)
	}

	conflict.Kind = models.ConflictKind(kind)
	conflict.NodeType = nodeType.String
	conflict.NodeName = nodeName.String
	conflict.Resolution = models.ConflictResolution(resolution)
	conflict.ResolvedBy = resolvedBy.String
	conflict.ResolvedAt = nullStringToTime(resolvedAt)
	conflict.CreatedAt = parseTime(createdAt)

	if err := unmarshalJSON(sourceValue, &conflict.SourceValue); err != nil {
		return nil, fmt.Errorf("failed to unmarshal source value: %w", err)
	}
	if err := unmarshalJSON(targetValue, &conflict.TargetValue); err != nil {
		return nil, fmt.Errorf("failed to unmarshal target value: %w", err)
	}
	if err := unmarshalJSON(baseValue.String, &conflict.BaseValue); err != nil {
		return nil, fmt.Errorf("failed to unmarshal base value: %w", err)
	}
	if err := unmarshalJSON(resolvedValue.String, &conflict.ResolvedValue); err != nil {
		return nil, fmt.Errorf("failed to unmarshal resolved value: %w", err)
	}

	return &conflict, nil
}
