// Package webhook receives signed platform events, classifies them by
// (topic, action) and dispatches to reconciliation and notification. Every
// handler defers to convergent upserts, so redelivered or reordered events
// are safe to re-run.
package webhook

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/google/go-github/v57/github"

	"github.com/hubwatch/hubwatch/internal/db"
	"github.com/hubwatch/hubwatch/internal/models"
	"github.com/hubwatch/hubwatch/internal/notify"
	"github.com/hubwatch/hubwatch/internal/reconcile"
	"github.com/hubwatch/hubwatch/internal/sync"
)

// Router dispatches webhook deliveries.
type Router struct {
	db         *db.DB
	reconciler *reconcile.Reconciler
	syncer     *sync.Syncer
	notifier   *notify.Engine
	secret     []byte
}

// NewRouter creates a new webhook router.
func NewRouter(database *db.DB, reconciler *reconcile.Reconciler, syncer *sync.Syncer, notifier *notify.Engine, secret string) *Router {
	return &Router{
		db:         database,
		reconciler: reconciler,
		syncer:     syncer,
		notifier:   notifier,
		secret:     []byte(secret),
	}
}

// ServeHTTP accepts one delivery. Only a bad signature is rejected; a
// payload that fails to parse or a handler that fails is logged and answered
// with 200 so the sender does not retry a delivery we can never process.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	payload, err := github.ValidatePayload(r, rt.secret)
	if err != nil {
		log.Printf("webhook: invalid signature: %v", err)
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	topic := github.WebHookType(r)
	delivery := github.DeliveryID(r)

	event, err := github.ParseWebHook(topic, payload)
	if err != nil {
		log.Printf("webhook: delivery %s: malformed %s payload: %v", delivery, topic, err)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := rt.Dispatch(r.Context(), delivery, topic, event); err != nil {
		log.Printf("webhook: delivery %s (%s): %v", delivery, topic, err)
	}
	w.WriteHeader(http.StatusOK)
}

// Dispatch routes one parsed event to its handler. Unknown topics are logged
// and ignored; a handler panic is contained so one malformed delivery cannot
// poison unrelated processing.
func (rt *Router) Dispatch(ctx context.Context, delivery, topic string, event interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("webhook: delivery %s (%s): panic: %v", delivery, topic, r)
			err = nil
		}
	}()

	switch ev := event.(type) {
	case *github.InstallationEvent:
		return rt.handleInstallation(ctx, ev)
	case *github.InstallationRepositoriesEvent:
		return rt.handleInstallationRepositories(ctx, ev)
	case *github.RepositoryEvent:
		return rt.handleRepository(ctx, ev)
	case *github.IssuesEvent:
		return rt.handleIssues(ctx, ev)
	case *github.IssueCommentEvent:
		return rt.handleIssueComment(ctx, ev)
	case *github.LabelEvent:
		return rt.handleLabel(ctx, ev)
	case *github.MilestoneEvent:
		return rt.handleMilestone(ctx, ev)
	case *github.PullRequestEvent:
		return rt.handlePullRequest(ctx, ev)
	case *github.PullRequestReviewEvent:
		return rt.handlePullRequestReview(ctx, ev)
	case *github.PullRequestReviewCommentEvent:
		return rt.handlePullRequestReviewComment(ctx, ev)
	case *github.MemberEvent:
		return rt.handleMember(ctx, ev)
	case *github.ReleaseEvent:
		return rt.handleRelease(ctx, ev)
	case *github.WorkflowRunEvent:
		return rt.handleWorkflowRun(ctx, ev)
	case *github.CheckRunEvent:
		return rt.handleCheckRun(ctx, ev)
	case *github.StatusEvent:
		return rt.handleStatus(ctx, ev)
	default:
		log.Printf("webhook: delivery %s: ignoring unhandled topic %s", delivery, topic)
		return nil
	}
}

// repoFor is the onboarding gate: events for repositories nobody has added
// yet are dropped, so broad webhook scope cannot grow storage unboundedly.
func (rt *Router) repoFor(ctx context.Context, ghRepo *github.Repository) (*models.Repository, bool) {
	if ghRepo == nil {
		return nil, false
	}
	repo, err := rt.db.GetRepository(ctx, ghRepo.GetID())
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			log.Printf("webhook: dropping event for %s: repository not onboarded", ghRepo.GetFullName())
		} else {
			log.Printf("webhook: lookup repository %s: %v", ghRepo.GetFullName(), err)
		}
		return nil, false
	}
	return repo, true
}
