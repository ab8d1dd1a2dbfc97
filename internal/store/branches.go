package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/trellishq/trellis/internal/models"
)

const branchColumns = `id, project_id, name, type, status, parent_branch_id,
	branch_point_commit_id, head_commit_id, is_default, is_protected,
	requires_review, min_reviewers, collaborators, created_by, created_at, updated_at`

// CreateBranch inserts a new branch. Branch names are unique per project.
func (db *DB) CreateBranch(ctx context.Context, branch *models.Branch) error {
	branch.SetDefaults()
	if err := branch.Validate(); err != nil {
		return fmt.Errorf("invalid branch: %w", err)
	}

	collaborators, err := marshalJSON(branch.Collaborators)
	if err != nil {
		return fmt.Errorf("failed to marshal collaborators: %w", err)
	}

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM branches WHERE project_id = ? AND name = ?`,
		branch.ProjectID, branch.Name).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check branch name: %w", err)
	}
	if exists > 0 {
		return ErrBranchExists
	}

	if branch.IsDefault {
		if _, err := tx.ExecContext(ctx,
			`UPDATE branches SET is_default = 0 WHERE project_id = ? AND is_default = 1`,
			branch.ProjectID); err != nil {
			return fmt.Errorf("failed to clear previous default: %w", err)
		}
	}

	query := `
	INSERT INTO branches (` + branchColumns + `)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, query,
		branch.ID,
		branch.ProjectID,
		branch.Name,
		string(branch.Type),
		string(branch.Status),
		nullString(branch.ParentBranchID),
		nullString(branch.BranchPointCommitID),
		nullString(branch.HeadCommitID),
		boolToInt(branch.IsDefault),
		boolToInt(branch.IsProtected),
		boolToInt(branch.RequiresReview),
		branch.MinReviewers,
		collaborators,
		branch.CreatedBy,
		formatTime(branch.CreatedAt),
		formatTime(branch.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert branch %s: %w", branch.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetBranch retrieves a branch by id.
func (db *DB) GetBranch(ctx context.Context, id string) (*models.Branch, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE id = ?`, id)
	return scanBranch(row)
}

// GetBranchByName retrieves a branch by project and name.
func (db *DB) GetBranchByName(ctx context.Context, projectID, name string) (*models.Branch, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE project_id = ? AND name = ?`,
		projectID, name)
	return scanBranch(row)
}

// GetDefaultBranch retrieves the project's default branch.
func (db *DB) GetDefaultBranch(ctx context.Context, projectID string) (*models.Branch, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE project_id = ? AND is_default = 1`,
		projectID)
	return scanBranch(row)
}

// ListBranches returns a project's branches ordered by creation time.
func (db *DB) ListBranches(ctx context.Context, projectID string) ([]*models.Branch, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+branchColumns+` FROM branches WHERE project_id = ? ORDER BY created_at ASC, id ASC`,
		projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list branches: %w", err)
	}
	defer rows.Close()

	var branches []*models.Branch
	for rows.Next() {
		branch, err := scanBranch(rows)
		if err != nil {
			return nil, err
		}
		branches = append(branches, branch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating branches: %w", err)
	}
	return branches, nil
}

// UpdateBranchStatus sets a branch's lifecycle status.
func (db *DB) UpdateBranchStatus(ctx context.Context, id string, status models.BranchStatus) error {
	if !status.IsValid() {
		return fmt.Errorf("%w: branch status %s", ErrInvalidInput, status)
	}
	res, err := db.conn.ExecContext(ctx,
		`UPDATE branches SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("failed to update branch %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrBranchNotFound
	}
	return nil
}

// SetDefaultBranch makes the branch the project default, clearing the
// previous default inside the same transaction.
func (db *DB) SetDefaultBranch(ctx context.Context, projectID, branchID string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE branches SET is_default = 0, updated_at = ? WHERE project_id = ? AND is_default = 1`,
		formatTime(time.Now()), projectID); err != nil {
		return fmt.Errorf("failed to clear previous default: %w", err)
	}

	res, err := tx.ExecContext(ctx,
		`UPDATE branches SET is_default = 1, updated_at = ? WHERE id = ? AND project_id = ?`,
		formatTime(time.Now()), branchID, projectID)
	if err != nil {
		return fmt.Errorf("failed to set default branch: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrBranchNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// DeleteBranch removes a branch row. History survives: commits reference the
// branch id but are never deleted.
func (db *DB) DeleteBranch(ctx context.Context, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM branches WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete branch %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrBranchNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBranch(row rowScanner) (*models.Branch, error) {
	var (
		branch                                        models.Branch
		typ, status                                   string
		parentID, branchPoint, headID                 sql.NullString
		isDefault, isProtected, requiresReview        int
		collaborators, createdAt, updatedAt           string
	)

	err := row.Scan(
		&branch.ID,
		&branch.ProjectID,
		&branch.Name,
		&typ,
		&status,
		&parentID,
		&branchPoint,
		&headID,
		&isDefault,
		&isProtected,
		&requiresReview,
		&branch.MinReviewers,
		&collaborators,
		&branch.CreatedBy,
		&createdAt,
		&updatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrBranchNotFound
		}
		return nil, fmt.Errorf("failed to scan branch: %w", err)
	}

	branch.Type = models.BranchType(typ)
	branch.Status = models.BranchStatus(status)
	branch.ParentBranchID = parentID.String
	branch.BranchPointCommitID = branchPoint.String
	branch.HeadCommitID = headID.String
	branch.IsDefault = isDefault == 1
	branch.IsProtected = isProtected == 1
	branch.RequiresReview = requiresReview == 1
	branch.CreatedAt = parseTime(createdAt)
	branch.UpdatedAt = parseTime(updatedAt)

	branch.Collaborators = []string{}
	if err := unmarshalJSON(collaborators, &branch.Collaborators); err != nil {
		return nil, fmt.Errorf("failed to unmarshal collaborators: %w", err)
	}

	return &branch, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
