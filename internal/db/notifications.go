package db

import (
	"context"
	"fmt"
	"time"

	"github.com/hubwatch/hubwatch/internal/models"
)

// SaveSubscription upserts a user's repository-level preferences.
func (db *DB) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	query := `
	INSERT INTO subscriptions (user_id, repository_id, issues, pull_requests, releases, ci_failures, mentions, all_activity)
	VALUES (:user_id, :repository_id, :issues, :pull_requests, :releases, :ci_failures, :mentions, :all_activity)
	ON CONFLICT(user_id, repository_id) DO UPDATE SET
		issues = excluded.issues,
		pull_requests = excluded.pull_requests,
		releases = excluded.releases,
		ci_failures = excluded.ci_failures,
		mentions = excluded.mentions,
		all_activity = excluded.all_activity
	`

	if _, err := db.NamedExecContext(ctx, query, sub); err != nil {
		return fmt.Errorf("failed to save subscription: %w", err)
	}
	return nil
}

// ListSubscriptions returns all repository-level subscriptions for a
// repository; the fan-out engine gates them by flag.
func (db *DB) ListSubscriptions(ctx context.Context, repoID int64) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := db.SelectContext(ctx, &subs,
		`SELECT * FROM subscriptions WHERE repository_id = ?`, repoID)
	return subs, err
}

// GrantIssueSubscription opts a user into a single issue's activity.
// Idempotent; granted automatically on involvement (author, assignee,
// requested reviewer, commenter).
func (db *DB) GrantIssueSubscription(ctx context.Context, userID, issueID int64) error {
	_, err := db.ExecContext(ctx,
		`INSERT INTO issue_subscriptions (user_id, issue_id, created_at) VALUES (?, ?, ?)
		 ON CONFLICT(user_id, issue_id) DO NOTHING`,
		userID, issueID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to grant issue subscription: %w", err)
	}
	return nil
}

// ListIssueSubscriberIDs returns the users opted into a specific issue.
func (db *DB) ListIssueSubscriberIDs(ctx context.Context, issueID int64) ([]int64, error) {
	var ids []int64
	err := db.SelectContext(ctx, &ids,
		`SELECT user_id FROM issue_subscriptions WHERE issue_id = ?`, issueID)
	return ids, err
}

// UpsertNotification writes a notification with soft-unique (user, issue)
// semantics: a second event for the same pair refreshes the existing row
// (new action, body, actor, unread) instead of inserting a duplicate. The
// uniqueness is enforced here, at the application level, because issue_id is
// nullable (release notifications have no issue).
func (db *DB) UpsertNotification(ctx context.Context, n *models.Notification) error {
	now := time.Now().UTC()

	if n.IssueID != nil {
		res, err := db.ExecContext(ctx, `
		UPDATE notifications
		SET kind = ?, action = ?, actor_id = ?, title = ?, body = ?, read = 0, updated_at = ?
		WHERE user_id = ? AND issue_id = ?`,
			n.Kind, n.Action, n.ActorID, n.Title, n.Body, now, n.UserID, *n.IssueID)
		if err != nil {
			return fmt.Errorf("failed to refresh notification: %w", err)
		}
		if affected, _ := res.RowsAffected(); affected > 0 {
			return nil
		}
	}

	n.CreatedAt = now
	n.UpdatedAt = now
	query := `
	INSERT INTO notifications (user_id, repository_id, issue_id, kind, action, actor_id, title, body, read, created_at, updated_at)
	VALUES (:user_id, :repository_id, :issue_id, :kind, :action, :actor_id, :title, :body, 0, :created_at, :updated_at)
	`

	if _, err := db.NamedExecContext(ctx, query, n); err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// ListNotifications returns a user's notifications, most recent activity
// first.
func (db *DB) ListNotifications(ctx context.Context, userID int64) ([]models.Notification, error) {
	var ns []models.Notification
	err := db.SelectContext(ctx, &ns,
		`SELECT * FROM notifications WHERE user_id = ? ORDER BY updated_at DESC`, userID)
	return ns, err
}

// GetNotification returns the notification row for a (user, issue) pair.
func (db *DB) GetNotification(ctx context.Context, userID, issueID int64) (*models.Notification, error) {
	var n models.Notification
	err := db.GetContext(ctx, &n,
		`SELECT * FROM notifications WHERE user_id = ? AND issue_id = ?`, userID, issueID)
	if err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

// MarkNotificationRead flips a single notification to read.
func (db *DB) MarkNotificationRead(ctx context.Context, id int64) error {
	_, err := db.ExecContext(ctx, `UPDATE notifications SET read = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}
