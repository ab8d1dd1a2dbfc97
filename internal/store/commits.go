package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trellishq/trellis/internal/models"
	"github.com/trellishq/trellis/internal/snapshot"
)

const commitColumns = `id, branch_id, message, description, hash, parent_id,
	merge_parent_id, snapshot_key, delta, author, co_authors, created_at,
	is_auto_save, tags`

// CreateCommit persists a commit and advances the branch head in a single
// transaction. The head advance is a compare-and-swap against expectedHead
// (empty string for a branch with no head yet): if another writer advanced
// the head since the caller read it, the transaction fails with ErrStaleHead
// and nothing is written.
func (db *DB) CreateCommit(ctx context.Context, commit *models.Commit, expectedHead string) error {
	if err := commit.Validate(); err != nil {
		return fmt.Errorf("invalid commit: %w", err)
	}

	delta, err := marshalJSON(commit.Delta)
	if err != nil {
		return fmt.Errorf("failed to marshal delta: %w", err)
	}
	coAuthors, err := marshalJSON(commit.CoAuthors)
	if err != nil {
		return fmt.Errorf("failed to marshal co-authors: %w", err)
	}
	tags, err := marshalJSON(commit.Tags)
	if err != nil {
		return fmt.Errorf("failed to marshal tags: %w", err)
	}

	// Content-addressed blob write happens before the transaction; an
	// orphaned blob from a failed transaction is unreachable and harmless.
	if err := db.putSnapshot(ctx, commit.Hash, commit.Snapshot); err != nil {
		return err
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertCommitTx(ctx, tx, commit, delta, coAuthors, tags); err != nil {
		return err
	}
	if err := advanceHeadTx(ctx, tx, commit.BranchID, expectedHead, commit.ID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertCommitTx(ctx context.Context, tx *sql.Tx, commit *models.Commit, delta, coAuthors, tags string) error {
	query := `
	INSERT INTO commits (` + commitColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		commit.ID,
		commit.BranchID,
		commit.Message,
		nullString(commit.Description),
		commit.Hash,
		nullString(commit.ParentID),
		nullString(commit.MergeParentID),
		snapshotKey(commit.Hash),
		delta,
		commit.Author,
		coAuthors,
		formatTime(commit.CreatedAt),
		boolToInt(commit.IsAutoSave),
		tags,
	)
	if err != nil {
		return fmt.Errorf("failed to insert commit %s: %w", commit.ID, err)
	}
	return nil
}

// advanceHeadTx performs the expected-head compare-and-swap inside tx.
func advanceHeadTx(ctx context.Context, tx *sql.Tx, branchID, expectedHead, newHead string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE branches SET head_commit_id = ?, updated_at = ?
		 WHERE id = ? AND COALESCE(head_commit_id, '') = ?`,
		newHead, formatTime(time.Now()), branchID, expectedHead)
	if err != nil {
		return fmt.Errorf("failed to advance head of branch %s: %w", branchID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 1 {
		return nil
	}

	var exists int
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM branches WHERE id = ?`, branchID).Scan(&exists); err != nil {
		return fmt.Errorf("failed to check branch %s: %w", branchID, err)
	}
	if exists == 0 {
		return ErrBranchNotFound
	}
	return ErrStaleHead
}

// GetCommit retrieves a commit, including its snapshot, by id.
func (db *DB) GetCommit(ctx context.Context, id string) (*models.Commit, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+commitColumns+` FROM commits WHERE id = ?`, id)
	return db.scanCommit(ctx, row)
}

// GetCommitByHash retrieves a commit by its content hash.
func (db *DB) GetCommitByHash(ctx context.Context, hash string) (*models.Commit, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+commitColumns+` FROM commits WHERE hash = ?`, hash)
	return db.scanCommit(ctx, row)
}

// ListCommits returns a branch's commits newest-first. When fromHash is set,
// listing starts after that commit; limit <= 0 means no limit.
func (db *DB) ListCommits(ctx context.Context, branchID string, limit int, fromHash string) ([]*models.Commit, error) {
	query := `SELECT ` + commitColumns + ` FROM commits
		WHERE branch_id = ? ORDER BY created_at DESC, id DESC`
	rows, err := db.conn.QueryContext(ctx, query, branchID)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits: %w", err)
	}
	defer rows.Close()

	var commits []*models.Commit
	skipping := fromHash != ""
	for rows.Next() {
		commit, err := db.scanCommit(ctx, rows)
		if err != nil {
			return nil, err
		}
		if skipping {
			if commit.Hash == fromHash {
				skipping = false
			}
			continue
		}
		commits = append(commits, commit)
		if limit > 0 && len(commits) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating commits: %w", err)
	}
	return commits, nil
}

// ListHistory returns the first-parent chain starting at the given commit,
// newest-first. This is the branch log: it crosses branch boundaries so a
// fork shows the history it inherited. When fromHash is set, listing starts
// after that commit; limit <= 0 means no limit.
func (db *DB) ListHistory(ctx context.Context, headCommitID string, limit int, fromHash string) ([]*models.Commit, error) {
	query := `
	WITH RECURSIVE history(commit_id, depth) AS (
		SELECT id, 0 FROM commits WHERE id = ?
		UNION ALL
		SELECT c.parent_id, h.depth + 1
		FROM history h JOIN commits c ON c.id = h.commit_id
		WHERE c.parent_id IS NOT NULL
	)
	SELECT ` + commitColumns + ` FROM commits
	JOIN history ON commits.id = history.commit_id
	ORDER BY history.depth ASC
	`
	rows, err := db.conn.QueryContext(ctx, query, headCommitID)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var commits []*models.Commit
	skipping := fromHash != ""
	for rows.Next() {
		commit, err := db.scanCommit(ctx, rows)
		if err != nil {
			return nil, err
		}
		if skipping {
			if commit.Hash == fromHash {
				skipping = false
			}
			continue
		}
		commits = append(commits, commit)
		if limit > 0 && len(commits) >= limit {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history: %w", err)
	}
	return commits, nil
}

// AncestorDepths returns every commit reachable from the given commit via
// parent and merge-parent links, mapped to its minimum distance. The walk is
// a recursive CTE over id references, so it terminates for any acyclic graph.
func (db *DB) AncestorDepths(ctx context.Context, commitID string) (map[string]int, error) {
	query := `
	WITH RECURSIVE ancestors(id, depth) AS (
		SELECT id, 0 FROM commits WHERE id = ?
		UNION
		SELECT c.parent_id, a.depth + 1
		FROM ancestors a JOIN commits c ON c.id = a.id
		WHERE c.parent_id IS NOT NULL
		UNION
		SELECT c.merge_parent_id, a.depth + 1
		FROM ancestors a JOIN commits c ON c.id = a.id
		WHERE c.merge_parent_id IS NOT NULL
	)
	SELECT id, MIN(depth) FROM ancestors GROUP BY id
	`
	rows, err := db.conn.QueryContext(ctx, query, commitID)
	if err != nil {
		return nil, fmt.Errorf("failed to walk ancestors of %s: %w", commitID, err)
	}
	defer rows.Close()

	depths := make(map[string]int)
	for rows.Next() {
		var id string
		var depth int
		if err := rows.Scan(&id, &depth); err != nil {
			return nil, fmt.Errorf("failed to scan ancestor: %w", err)
		}
		depths[id] = depth
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating ancestors: %w", err)
	}
	if len(depths) == 0 {
		return nil, ErrCommitNotFound
	}
	return depths, nil
}

func (db *DB) scanCommit(ctx context.Context, row rowScanner) (*models.Commit, error) {
	var (
		commit                          models.Commit
		description, parentID, mergeID  sql.NullString
		snapKey, delta, coAuthors, tags string
		createdAt                       string
		isAutoSave                      int
	)

	err := row.Scan(
		&commit.ID,
		&commit.BranchID,
		&commit.Message,
		&description,
		&commit.Hash,
		&parentID,
		&mergeID,
		&snapKey,
		&delta,
		&commit.Author,
		&coAuthors,
		&createdAt,
		&isAutoSave,
		&tags,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrCommitNotFound
		}
		return nil, fmt.Errorf("failed to scan commit: %w", err)
	}

	commit.Description = description.String
	commit.ParentID = parentID.String
	commit.MergeParentID = mergeID.String
	commit.CreatedAt = parseTime(createdAt)
	commit.IsAutoSave = isAutoSave == 1

	if err := unmarshalJSON(delta, &commit.Delta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal delta: %w", err)
	}
	if err := unmarshalJSON(coAuthors, &commit.CoAuthors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal co-authors: %w", err)
	}
	if err := unmarshalJSON(tags, &commit.Tags); err != nil {
		return nil, fmt.Errorf("failed to unmarshal tags: %w", err)
	}

	snap, err := db.getSnapshot(ctx, snapKey)
	if err != nil {
		return nil, err
	}
	commit.Snapshot = snap

	return &commit, nil
}

// HeadSnapshot loads the snapshot at a branch's head, or an empty snapshot
// for a branch with no commits yet.
func (db *DB) HeadSnapshot(ctx context.Context, branch *models.Branch) (snapshot.Snapshot, error) {
	if branch.HeadCommitID == "" {
		return snapshot.Snapshot{}, nil
	}
	head, err := db.GetCommit(ctx, branch.HeadCommitID)
	if err != nil {
		return nil, err
	}
	return head.Snapshot, nil
}
