// Package reconcile converges locally mirrored issue state to match a
// remote snapshot. Scalar fields go through a last-write-wins upsert; each
// many-valued relation is diffed against its desired set and patched with
// the minimal insert/delete delta, so reapplying the same snapshot is a
// no-op.
package reconcile

import (
	"context"
	"fmt"
	"log"

	"github.com/hubwatch/hubwatch/internal/db"
	"github.com/hubwatch/hubwatch/internal/models"
)

// Reconciler upserts issues and reconciles their relation sets.
type Reconciler struct {
	db *db.DB
}

// New creates a new reconciler.
func New(database *db.DB) *Reconciler {
	return &Reconciler{db: database}
}

// ReconcileIssue writes the snapshot's scalar fields keyed on
// (repository, number), then reconciles assignees, labels and requested
// reviewers against the snapshot's desired sets. Users referenced by
// relations are ensured (shadow rows) first; a row that still fails is
// logged and skipped without aborting the rest. Newly inserted assignee and
// reviewer relations auto-subscribe that user to the issue.
func (r *Reconciler) ReconcileIssue(ctx context.Context, snap *models.IssueSnapshot) (*models.Issue, error) {
	if snap.Author != nil {
		if err := r.db.EnsureUser(ctx, snap.Author); err != nil {
			return nil, err
		}
	}

	if err := r.db.UpsertIssue(ctx, &snap.Issue); err != nil {
		return nil, err
	}

	// The stored row is authoritative from here: a racing event with a newer
	// updated_at marker may have won the scalar upsert.
	issue, err := r.db.GetIssue(ctx, snap.Issue.RepositoryID, snap.Issue.Number)
	if err != nil {
		return nil, fmt.Errorf("failed to reload issue #%d: %w", snap.Issue.Number, err)
	}

	if snap.Author != nil {
		if err := r.db.GrantIssueSubscription(ctx, snap.Author.ID, issue.ID); err != nil {
			log.Printf("reconcile: subscribe author %s to issue #%d: %v", snap.Author.Login, issue.Number, err)
		}
	}

	if err := r.reconcileAssignees(ctx, issue, snap.Assignees); err != nil {
		return nil, err
	}
	if err := r.reconcileLabels(ctx, issue, snap.Labels); err != nil {
		return nil, err
	}
	if issue.IsPullRequest {
		if err := r.reconcileReviewers(ctx, issue, snap.Reviewers); err != nil {
			return nil, err
		}
	}

	return issue, nil
}

func (r *Reconciler) reconcileAssignees(ctx context.Context, issue *models.Issue, desired []models.User) error {
	current, err := r.db.ListAssigneeIDs(ctx, issue.ID)
	if err != nil {
		return fmt.Errorf("failed to list assignees: %w", err)
	}

	toAdd, toRemove := diffUsers(current, desired)

	for _, id := range toRemove {
		if err := r.db.RemoveAssignee(ctx, issue.ID, id); err != nil {
			return fmt.Errorf("failed to remove assignee %d: %w", id, err)
		}
	}
	for _, user := range toAdd {
		if err := r.db.EnsureUser(ctx, &user); err != nil {
			log.Printf("reconcile: ensure assignee %s: %v", user.Login, err)
			continue
		}
		if err := r.db.AddAssignee(ctx, issue.ID, user.ID); err != nil {
			log.Printf("reconcile: add assignee %s to issue #%d: %v", user.Login, issue.Number, err)
			continue
		}
		// Involvement grants a per-issue subscription.
		if err := r.db.GrantIssueSubscription(ctx, user.ID, issue.ID); err != nil {
			log.Printf("reconcile: subscribe assignee %s to issue #%d: %v", user.Login, issue.Number, err)
		}
	}

	return nil
}

func (r *Reconciler) reconcileReviewers(ctx context.Context, issue *models.Issue, desired []models.User) error {
	current, err := r.db.ListReviewRequestIDs(ctx, issue.ID)
	if err != nil {
		return fmt.Errorf("failed to list review requests: %w", err)
	}

	toAdd, toRemove := diffUsers(current, desired)

	for _, id := range toRemove {
		if err := r.db.RemoveReviewRequest(ctx, issue.ID, id); err != nil {
			return fmt.Errorf("failed to remove review request %d: %w", id, err)
		}
	}
	for _, user := range toAdd {
		if err := r.db.EnsureUser(ctx, &user); err != nil {
			log.Printf("reconcile: ensure reviewer %s: %v", user.Login, err)
			continue
		}
		if err := r.db.AddReviewRequest(ctx, issue.ID, user.ID); err != nil {
			log.Printf("reconcile: add reviewer %s to PR #%d: %v", user.Login, issue.Number, err)
			continue
		}
		if err := r.db.GrantIssueSubscription(ctx, user.ID, issue.ID); err != nil {
			log.Printf("reconcile: subscribe reviewer %s to PR #%d: %v", user.Login, issue.Number, err)
		}
	}

	return nil
}

func (r *Reconciler) reconcileLabels(ctx context.Context, issue *models.Issue, desired []models.Label) error {
	current, err := r.db.ListIssueLabelIDs(ctx, issue.ID)
	if err != nil {
		return fmt.Errorf("failed to list issue labels: %w", err)
	}

	currentSet := make(map[int64]bool, len(current))
	for _, id := range current {
		currentSet[id] = true
	}
	desiredSet := make(map[int64]bool, len(desired))
	for _, l := range desired {
		desiredSet[l.ID] = true
	}

	for _, id := range current {
		if !desiredSet[id] {
			if err := r.db.RemoveIssueLabel(ctx, issue.ID, id); err != nil {
				return fmt.Errorf("failed to remove label %d: %w", id, err)
			}
		}
	}
	for _, label := range desired {
		if currentSet[label.ID] {
			continue
		}
		if err := r.db.SaveLabel(ctx, &label); err != nil {
			log.Printf("reconcile: save label %s: %v", label.Name, err)
			continue
		}
		if err := r.db.AddIssueLabel(ctx, issue.ID, label.ID); err != nil {
			log.Printf("reconcile: add label %s to issue #%d: %v", label.Name, issue.Number, err)
		}
	}

	return nil
}

// diffUsers computes desired − current (toAdd) and current − desired
// (toRemove) by user ID.
func diffUsers(current []int64, desired []models.User) (toAdd []models.User, toRemove []int64) {
	currentSet := make(map[int64]bool, len(current))
	for _, id := range current {
		currentSet[id] = true
	}
	desiredSet := make(map[int64]bool, len(desired))
	for _, u := range desired {
		desiredSet[u.ID] = true
	}

	for _, u := range desired {
		if !currentSet[u.ID] {
			toAdd = append(toAdd, u)
		}
	}
	for _, id := range current {
		if !desiredSet[id] {
			toRemove = append(toRemove, id)
		}
	}
	return toAdd, toRemove
}
