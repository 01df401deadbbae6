package db

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/hubwatch/hubwatch/internal/models"
)

// SaveCheckRun upserts a check run by external ID. Older runs of the same
// named check are superseded at aggregation time, not deleted here.
func (db *DB) SaveCheckRun(ctx context.Context, run *models.CheckRun) error {
	query := `
	INSERT INTO check_runs (id, repository_id, commit_sha, name, status, conclusion, details_url, started_at, completed_at)
	VALUES (:id, :repository_id, :commit_sha, :name, :status, :conclusion, :details_url, :started_at, :completed_at)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		conclusion = excluded.conclusion,
		details_url = excluded.details_url,
		completed_at = excluded.completed_at
	`

	if _, err := db.NamedExecContext(ctx, query, run); err != nil {
		return fmt.Errorf("failed to save check run %s: %w", run.Name, err)
	}
	return nil
}

// SaveCommitStatus upserts a commit status by external ID.
func (db *DB) SaveCommitStatus(ctx context.Context, st *models.CommitStatus) error {
	query := `
	INSERT INTO commit_statuses (id, repository_id, commit_sha, context, state, description, target_url, created_at)
	VALUES (:id, :repository_id, :commit_sha, :context, :state, :description, :target_url, :created_at)
	ON CONFLICT(id) DO UPDATE SET
		state = excluded.state,
		description = excluded.description,
		target_url = excluded.target_url
	`

	if _, err := db.NamedExecContext(ctx, query, st); err != nil {
		return fmt.Errorf("failed to save commit status %s: %w", st.Context, err)
	}
	return nil
}

// ListCheckRunsForCommits batch-loads check runs for a set of commits within
// one repository, newest first, for the aggregator's single-pass dedup walk.
func (db *DB) ListCheckRunsForCommits(ctx context.Context, repoID int64, shas []string) ([]models.CheckRun, error) {
	if len(shas) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		`SELECT * FROM check_runs WHERE repository_id = ? AND commit_sha IN (?)
		 ORDER BY started_at DESC, id DESC`, repoID, shas)
	if err != nil {
		return nil, fmt.Errorf("failed to build check run query: %w", err)
	}

	var runs []models.CheckRun
	if err := db.SelectContext(ctx, &runs, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list check runs: %w", err)
	}
	return runs, nil
}

// ListCommitStatusesForCommits batch-loads commit statuses for a set of
// commits within one repository, newest first.
func (db *DB) ListCommitStatusesForCommits(ctx context.Context, repoID int64, shas []string) ([]models.CommitStatus, error) {
	if len(shas) == 0 {
		return nil, nil
	}

	query, args, err := sqlx.In(
		`SELECT * FROM commit_statuses WHERE repository_id = ? AND commit_sha IN (?)
		 ORDER BY created_at DESC, id DESC`, repoID, shas)
	if err != nil {
		return nil, fmt.Errorf("failed to build commit status query: %w", err)
	}

	var statuses []models.CommitStatus
	if err := db.SelectContext(ctx, &statuses, db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to list commit statuses: %w", err)
	}
	return statuses, nil
}
