package db

import (
	"context"
	"fmt"
	"time"

	"github.com/hubwatch/hubwatch/internal/models"
)

// UpsertIssue writes an issue's scalar fields keyed on (repository_id,
// number). Last-write-wins by the remote updated_at marker, so replaying a
// stale event cannot roll forward state backwards. The issues API and pulls
// API report different external ids for the same entity; whichever view
// arrives first fixes the stored id, since child rows reference it. The
// sync_status columns are owned by the history syncer and never touched
// here.
func (db *DB) UpsertIssue(ctx context.Context, issue *models.Issue) error {
	query := `
	INSERT INTO issues (
		id, repository_id, number, title, body, state, locked, is_pull_request,
		author_id, milestone_id, created_at, updated_at, closed_at,
		draft, merged, head_ref, head_sha, base_ref, base_sha,
		additions, deletions, changed_files
	) VALUES (
		:id, :repository_id, :number, :title, :body, :state, :locked, :is_pull_request,
		:author_id, :milestone_id, :created_at, :updated_at, :closed_at,
		:draft, :merged, :head_ref, :head_sha, :base_ref, :base_sha,
		:additions, :deletions, :changed_files
	)
	ON CONFLICT(repository_id, number) DO UPDATE SET
		title = excluded.title,
		body = excluded.body,
		state = excluded.state,
		locked = excluded.locked,
		is_pull_request = excluded.is_pull_request,
		author_id = excluded.author_id,
		milestone_id = excluded.milestone_id,
		updated_at = excluded.updated_at,
		closed_at = excluded.closed_at,
		draft = excluded.draft,
		merged = excluded.merged,
		head_ref = excluded.head_ref,
		head_sha = excluded.head_sha,
		base_ref = excluded.base_ref,
		base_sha = excluded.base_sha,
		additions = excluded.additions,
		deletions = excluded.deletions,
		changed_files = excluded.changed_files
	WHERE excluded.updated_at >= issues.updated_at
	`

	if _, err := db.NamedExecContext(ctx, query, issue); err != nil {
		return fmt.Errorf("failed to save issue #%d: %w", issue.Number, err)
	}
	return nil
}

// GetIssue gets an issue by its (repository, number) identity.
func (db *DB) GetIssue(ctx context.Context, repoID int64, number int) (*models.Issue, error) {
	var issue models.Issue
	err := db.GetContext(ctx, &issue,
		`SELECT * FROM issues WHERE repository_id = ? AND number = ?`, repoID, number)
	if err != nil {
		return nil, notFound(err)
	}
	return &issue, nil
}

// GetIssueByID gets an issue by its external ID.
func (db *DB) GetIssueByID(ctx context.Context, id int64) (*models.Issue, error) {
	var issue models.Issue
	err := db.GetContext(ctx, &issue, `SELECT * FROM issues WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &issue, nil
}

// TryBeginSync flips an issue into the syncing state. It is an advisory
// gate: false means another worker already holds it, and a rare double fetch
// is wasted work rather than a correctness problem.
func (db *DB) TryBeginSync(ctx context.Context, issueID int64) (bool, error) {
	res, err := db.ExecContext(ctx,
		`UPDATE issues SET sync_status = ? WHERE id = ? AND sync_status != ?`,
		models.SyncStatusSyncing, issueID, models.SyncStatusSyncing)
	if err != nil {
		return false, fmt.Errorf("failed to begin sync: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkSynced records a completed full-history fetch.
func (db *DB) MarkSynced(ctx context.Context, issueID int64, at time.Time) error {
	_, err := db.ExecContext(ctx,
		`UPDATE issues SET sync_status = ?, synced_at = ? WHERE id = ?`,
		models.SyncStatusSynced, at, issueID)
	if err != nil {
		return fmt.Errorf("failed to mark issue synced: %w", err)
	}
	return nil
}

// RestoreSyncStatus puts a failed sync back to its prior state, leaving
// synced_at untouched so reads keep serving the previous snapshot. The
// condition guards against clobbering a concurrent sync that succeeded.
func (db *DB) RestoreSyncStatus(ctx context.Context, issueID int64, prior string) error {
	_, err := db.ExecContext(ctx,
		`UPDATE issues SET sync_status = ? WHERE id = ? AND sync_status = ?`,
		prior, issueID, models.SyncStatusSyncing)
	if err != nil {
		return fmt.Errorf("failed to restore sync status: %w", err)
	}
	return nil
}

// Relation set accessors. The reconciler reads the current set, computes the
// delta against the desired set and applies it through the Add/Remove pairs.

func (db *DB) ListAssigneeIDs(ctx context.Context, issueID int64) ([]int64, error) {
	var ids []int64
	err := db.SelectContext(ctx, &ids,
		`SELECT user_id FROM issue_assignees WHERE issue_id = ?`, issueID)
	return ids, err
}

func (db *DB) AddAssignee(ctx context.Context, issueID, userID int64) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO issue_assignees (issue_id, user_id) VALUES (?, ?)
		 ON CONFLICT(issue_id, user_id) DO NOTHING`, issueID, userID)
	return err
}

func (db *DB) RemoveAssignee(ctx context.Context, issueID, userID int64) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM issue_assignees WHERE issue_id = ? AND user_id = ?`, issueID, userID)
	return err
}

func (db *DB) ListIssueLabelIDs(ctx context.Context, issueID int64) ([]int64, error) {
	var ids []int64
	err := db.SelectContext(ctx, &ids,
		`SELECT label_id FROM issue_labels WHERE issue_id = ?`, issueID)
	return ids, err
}

func (db *DB) AddIssueLabel(ctx context.Context, issueID, labelID int64) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO issue_labels (issue_id, label_id) VALUES (?, ?)
		 ON CONFLICT(issue_id, label_id) DO NOTHING`, issueID, labelID)
	return err
}

func (db *DB) RemoveIssueLabel(ctx context.Context, issueID, labelID int64) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM issue_labels WHERE issue_id = ? AND label_id = ?`, issueID, labelID)
	return err
}

func (db *DB) ListReviewRequestIDs(ctx context.Context, issueID int64) ([]int64, error) {
	var ids []int64
	err := db.SelectContext(ctx, &ids,
		`SELECT user_id FROM review_requests WHERE issue_id = ?`, issueID)
	return ids, err
}

func (db *DB) AddReviewRequest(ctx context.Context, issueID, userID int64) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO review_requests (issue_id, user_id) VALUES (?, ?)
		 ON CONFLICT(issue_id, user_id) DO NOTHING`, issueID, userID)
	return err
}

func (db *DB) RemoveReviewRequest(ctx context.Context, issueID, userID int64) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM review_requests WHERE issue_id = ? AND user_id = ?`, issueID, userID)
	return err
}

// SaveComment upserts a comment by external ID.
func (db *DB) SaveComment(ctx context.Context, comment *models.Comment) error {
	query := `
	INSERT INTO comments (id, issue_id, author_id, body, created_at, updated_at)
	VALUES (:id, :issue_id, :author_id, :body, :created_at, :updated_at)
	ON CONFLICT(id) DO UPDATE SET
		body = excluded.body,
		updated_at = excluded.updated_at
	WHERE excluded.updated_at >= comments.updated_at
	`

	if _, err := db.NamedExecContext(ctx, query, comment); err != nil {
		return fmt.Errorf("failed to save comment: %w", err)
	}
	return nil
}

// ListComments returns an issue's comments oldest first.
func (db *DB) ListComments(ctx context.Context, issueID int64) ([]models.Comment, error) {
	var comments []models.Comment
	err := db.SelectContext(ctx, &comments,
		`SELECT * FROM comments WHERE issue_id = ? ORDER BY created_at`, issueID)
	return comments, err
}

// CountCommentsByOthers counts comments on an issue not authored by userID.
func (db *DB) CountCommentsByOthers(ctx context.Context, issueID, userID int64) (int, error) {
	var n int
	err := db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM comments WHERE issue_id = ? AND (author_id IS NULL OR author_id != ?)`,
		issueID, userID)
	return n, err
}

// HasMaintainerComment reports whether any repository collaborator has
// commented on the issue. Computed read-side, never persisted.
func (db *DB) HasMaintainerComment(ctx context.Context, issueID int64) (bool, error) {
	var n int
	err := db.GetContext(ctx, &n, `
	SELECT COUNT(*) FROM comments c
	JOIN issues i ON i.id = c.issue_id
	JOIN collaborators col ON col.repository_id = i.repository_id AND col.user_id = c.author_id
	WHERE c.issue_id = ?`, issueID)
	return n > 0, err
}

// SaveReview upserts a review by external ID.
func (db *DB) SaveReview(ctx context.Context, review *models.Review) error {
	query := `
	INSERT INTO reviews (id, issue_id, author_id, body, state, commit_sha, submitted_at)
	VALUES (:id, :issue_id, :author_id, :body, :state, :commit_sha, :submitted_at)
	ON CONFLICT(id) DO UPDATE SET
		body = excluded.body,
		state = excluded.state,
		commit_sha = excluded.commit_sha,
		submitted_at = excluded.submitted_at
	`

	if _, err := db.NamedExecContext(ctx, query, review); err != nil {
		return fmt.Errorf("failed to save review: %w", err)
	}
	return nil
}

// ListReviews returns a pull request's reviews oldest first.
func (db *DB) ListReviews(ctx context.Context, issueID int64) ([]models.Review, error) {
	var reviews []models.Review
	err := db.SelectContext(ctx, &reviews,
		`SELECT * FROM reviews WHERE issue_id = ? ORDER BY submitted_at`, issueID)
	return reviews, err
}

// SaveReviewComment upserts a review comment. The parent review reference is
// resolved from the external ID if the review is already mirrored; otherwise
// review_id stays NULL to be patched by ResolveReviewComments once the parent
// arrives.
func (db *DB) SaveReviewComment(ctx context.Context, rc *models.ReviewComment) error {
	query := `
	INSERT INTO review_comments (id, issue_id, review_external_id, review_id, author_id, body, path, created_at, updated_at)
	VALUES (:id, :issue_id, :review_external_id,
		(SELECT id FROM reviews WHERE id = :review_external_id),
		:author_id, :body, :path, :created_at, :updated_at)
	ON CONFLICT(id) DO UPDATE SET
		body = excluded.body,
		updated_at = excluded.updated_at
	WHERE excluded.updated_at >= review_comments.updated_at
	`

	if _, err := db.NamedExecContext(ctx, query, rc); err != nil {
		return fmt.Errorf("failed to save review comment: %w", err)
	}
	return nil
}

// ResolveReviewComments fills in parent review references that were unknown
// when the comments were written (reviews paginating in after their
// comments).
func (db *DB) ResolveReviewComments(ctx context.Context, issueID int64) error {
	_, err := db.ExecContext(ctx, `
	UPDATE review_comments
	SET review_id = (SELECT id FROM reviews WHERE reviews.id = review_comments.review_external_id)
	WHERE issue_id = ? AND review_id IS NULL AND review_external_id IS NOT NULL
	  AND EXISTS (SELECT 1 FROM reviews WHERE reviews.id = review_comments.review_external_id)`,
		issueID)
	if err != nil {
		return fmt.Errorf("failed to resolve review comments: %w", err)
	}
	return nil
}

// ListReviewComments returns a pull request's review comments oldest first.
func (db *DB) ListReviewComments(ctx context.Context, issueID int64) ([]models.ReviewComment, error) {
	var rcs []models.ReviewComment
	err := db.SelectContext(ctx, &rcs,
		`SELECT * FROM review_comments WHERE issue_id = ? ORDER BY created_at`, issueID)
	return rcs, err
}

// ReplaceLinkedIssues rebuilds the "PR closes issue" relation for one PR
// wholesale from the authoritative closing-references query.
func (db *DB) ReplaceLinkedIssues(ctx context.Context, prID int64, issueIDs []int64) error {
	tx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM linked_prs WHERE pr_id = ?`, prID); err != nil {
		return fmt.Errorf("failed to clear linked issues: %w", err)
	}
	for _, issueID := range issueIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO linked_prs (issue_id, pr_id) VALUES (?, ?)
			 ON CONFLICT(issue_id, pr_id) DO NOTHING`, issueID, prID)
		if err != nil {
			return fmt.Errorf("failed to link issue %d: %w", issueID, err)
		}
	}

	return tx.Commit()
}

// ListLinkedPRs returns the pull requests that close the given issue.
func (db *DB) ListLinkedPRs(ctx context.Context, issueID int64) ([]models.Issue, error) {
	var prs []models.Issue
	err := db.SelectContext(ctx, &prs, `
	SELECT i.* FROM issues i
	JOIN linked_prs l ON l.pr_id = i.id
	WHERE l.issue_id = ? ORDER BY i.number`, issueID)
	return prs, err
}

// ListLinkedIssues returns the issues the given pull request closes.
func (db *DB) ListLinkedIssues(ctx context.Context, prID int64) ([]models.Issue, error) {
	var issues []models.Issue
	err := db.SelectContext(ctx, &issues, `
	SELECT i.* FROM issues i
	JOIN linked_prs l ON l.issue_id = i.id
	WHERE l.pr_id = ? ORDER BY i.number`, prID)
	return issues, err
}
