// Package notify computes notification recipients for state-change events
// and materializes de-duplicated notification rows. Recipients are the union
// of flag-gated repository subscribers, the subject's involved users,
// resolvable mentions, and issue-gated all-activity subscribers; each
// recipient is notified at most once per event.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"regexp"
	"unicode/utf8"

	"github.com/hubwatch/hubwatch/internal/db"
	"github.com/hubwatch/hubwatch/internal/models"
)

// Semantic event actions.
const (
	ActionOpened          = "opened"
	ActionClosed          = "closed"
	ActionReopened        = "reopened"
	ActionCommented       = "commented"
	ActionMerged          = "merged"
	ActionReviewSubmitted = "review_submitted"
	ActionReviewRequested = "review_requested"
	ActionReadyForReview  = "ready_for_review"
	ActionPublished       = "published"
	ActionWorkflowFailed  = "workflow_failed"
)

const bodySnippetLen = 200

// GitHub username: alphanumeric with single interior hyphens, max 39 chars.
var mentionPattern = regexp.MustCompile(`@([a-zA-Z0-9](?:-?[a-zA-Z0-9]){0,38})`)

// Event is one semantic state change to fan out.
type Event struct {
	Repo   *models.Repository
	Issue  *models.Issue // nil for repository-scoped events (releases, CI)
	Kind   string        // models.Notification* kind
	Action string
	Actor  *models.User
	Title  string
	Body   string // triggering text, scanned for mentions and snipped
}

// Engine computes recipients and writes notification rows.
type Engine struct {
	db *db.DB
	// devMode allows self-notification, for exercising the pipeline against
	// one's own test account.
	devMode bool
}

// New creates a new fan-out engine.
func New(database *db.DB, devMode bool) *Engine {
	return &Engine{db: database, devMode: devMode}
}

// Fanout computes the recipient set for the event and upserts one
// notification per recipient. Rule failures for individual recipients are
// logged and skipped; the event is never retried (idempotence comes from the
// soft-unique notification upsert, not redelivery).
func (e *Engine) Fanout(ctx context.Context, ev *Event) error {
	if ev.Repo == nil {
		return fmt.Errorf("notify: event without repository")
	}

	if e.skipAuthorSilence(ctx, ev) {
		return nil
	}

	subs, err := e.db.ListSubscriptions(ctx, ev.Repo.ID)
	if err != nil {
		return fmt.Errorf("failed to list subscriptions: %w", err)
	}
	subByUser := make(map[int64]models.Subscription, len(subs))
	for _, sub := range subs {
		subByUser[sub.UserID] = sub
	}

	// First-write-wins within one event: a user eligible through several
	// rules still gets a single notification.
	recipients := make(map[int64]bool)
	add := func(userID int64) { recipients[userID] = true }

	// Rule 1: repository subscribers whose flag matches the event.
	for _, sub := range subs {
		if flagSet(sub, ev.Kind, ev.Action) {
			add(sub.UserID)
		}
	}

	// Rule 2: the subject's author, assignees and requested reviewers are
	// always eligible, independent of flags.
	if ev.Issue != nil {
		if ev.Issue.AuthorID != nil {
			add(*ev.Issue.AuthorID)
		}
		assignees, err := e.db.ListAssigneeIDs(ctx, ev.Issue.ID)
		if err != nil {
			return fmt.Errorf("failed to list assignees: %w", err)
		}
		for _, id := range assignees {
			add(id)
		}
		reviewers, err := e.db.ListReviewRequestIDs(ctx, ev.Issue.ID)
		if err != nil {
			return fmt.Errorf("failed to list review requests: %w", err)
		}
		for _, id := range reviewers {
			add(id)
		}
	}

	// Rule 3: resolvable mentions with the mentions flag set. Unknown logins
	// are dropped silently; mention text alone never creates users.
	for _, login := range ParseMentions(ev.Body) {
		user, err := e.db.GetUserByLogin(ctx, login)
		if err != nil {
			if errors.Is(err, db.ErrNotFound) {
				continue
			}
			log.Printf("notify: resolve mention @%s: %v", login, err)
			continue
		}
		if subByUser[user.ID].Mentions {
			add(user.ID)
		}
	}

	// Rule 4: all-activity subscribers, double-gated by a per-issue
	// subscription so the firehose only covers issues they have touched.
	if ev.Issue != nil {
		issueSubs, err := e.db.ListIssueSubscriberIDs(ctx, ev.Issue.ID)
		if err != nil {
			return fmt.Errorf("failed to list issue subscribers: %w", err)
		}
		for _, id := range issueSubs {
			if subByUser[id].AllActivity {
				add(id)
			}
		}
	}

	// Self-notification suppression. CI failures are the exception: the
	// author of the failing commit wants to hear about their own build.
	if ev.Actor != nil && !e.devMode && ev.Kind != models.NotificationCI {
		delete(recipients, ev.Actor.ID)
	}

	for userID := range recipients {
		n := &models.Notification{
			UserID:       userID,
			RepositoryID: ev.Repo.ID,
			Kind:         ev.Kind,
			Action:       ev.Action,
			Title:        ev.Title,
			Body:         snippet(ev.Body),
		}
		if ev.Issue != nil {
			id := ev.Issue.ID
			n.IssueID = &id
		}
		if ev.Actor != nil {
			id := ev.Actor.ID
			n.ActorID = &id
		}
		if err := e.db.UpsertNotification(ctx, n); err != nil {
			log.Printf("notify: write notification for user %d: %v", userID, err)
		}
	}

	return nil
}

// skipAuthorSilence implements the author-comment asymmetry: a comment by
// the issue's own author fans out only if someone else has commented before
// (answering a question is activity; posting into silence is not).
func (e *Engine) skipAuthorSilence(ctx context.Context, ev *Event) bool {
	if ev.Action != ActionCommented || ev.Issue == nil || ev.Actor == nil {
		return false
	}
	if ev.Issue.AuthorID == nil || *ev.Issue.AuthorID != ev.Actor.ID {
		return false
	}
	n, err := e.db.CountCommentsByOthers(ctx, ev.Issue.ID, ev.Actor.ID)
	if err != nil {
		log.Printf("notify: count comments on issue %d: %v", ev.Issue.ID, err)
		return false
	}
	return n == 0
}

// flagSet maps an event onto the repository-level boolean it is gated by.
// Events without a dedicated flag (closes, comments, reviews) reach users
// only through involvement, mentions or the all-activity gate.
func flagSet(sub models.Subscription, kind, action string) bool {
	switch kind {
	case models.NotificationIssue:
		return action == ActionOpened && sub.Issues
	case models.NotificationPullRequest:
		return (action == ActionOpened || action == ActionReadyForReview) && sub.PullRequests
	case models.NotificationRelease:
		return sub.Releases
	case models.NotificationCI:
		return sub.CIFailures
	}
	return false
}

// ParseMentions extracts candidate usernames from @-mentions in text.
func ParseMentions(text string) []string {
	matches := mentionPattern.FindAllStringSubmatch(text, -1)
	seen := make(map[string]bool, len(matches))
	var logins []string
	for _, m := range matches {
		if !seen[m[1]] {
			seen[m[1]] = true
			logins = append(logins, m[1])
		}
	}
	return logins
}

func snippet(body string) string {
	if utf8.RuneCountInString(body) <= bodySnippetLen {
		return body
	}
	runes := []rune(body)
	return string(runes[:bodySnippetLen]) + "…"
}
