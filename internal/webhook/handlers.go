package webhook

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/google/go-github/v57/github"

	"github.com/hubwatch/hubwatch/internal/api"
	"github.com/hubwatch/hubwatch/internal/models"
	"github.com/hubwatch/hubwatch/internal/notify"
)

func (rt *Router) handleInstallation(ctx context.Context, ev *github.InstallationEvent) error {
	switch ev.GetAction() {
	case "created":
		for _, ghRepo := range ev.Repositories {
			if err := rt.saveInstalledRepo(ctx, ghRepo); err != nil {
				return err
			}
		}
	case "deleted":
		for _, ghRepo := range ev.Repositories {
			if err := rt.db.DeleteRepository(ctx, ghRepo.GetID()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (rt *Router) handleInstallationRepositories(ctx context.Context, ev *github.InstallationRepositoriesEvent) error {
	for _, ghRepo := range ev.RepositoriesAdded {
		if err := rt.saveInstalledRepo(ctx, ghRepo); err != nil {
			return err
		}
	}
	for _, ghRepo := range ev.RepositoriesRemoved {
		if err := rt.db.DeleteRepository(ctx, ghRepo.GetID()); err != nil {
			return err
		}
	}
	return nil
}

// saveInstalledRepo onboards a repository from the truncated payload the
// installation topics carry (no owner object, just full_name).
func (rt *Router) saveInstalledRepo(ctx context.Context, ghRepo *github.Repository) error {
	fullName := ghRepo.GetFullName()
	owner, name, found := strings.Cut(fullName, "/")
	if !found {
		return fmt.Errorf("unexpected repository name %q", fullName)
	}
	return rt.db.SaveRepository(ctx, &models.Repository{
		ID:          ghRepo.GetID(),
		Owner:       owner,
		Name:        name,
		FullName:    fullName,
		Private:     ghRepo.GetPrivate(),
		SyncEnabled: true,
	})
}

func (rt *Router) handleRepository(ctx context.Context, ev *github.RepositoryEvent) error {
	repo, ok := rt.repoFor(ctx, ev.GetRepo())
	if !ok {
		return nil
	}

	switch ev.GetAction() {
	case "deleted":
		return rt.db.DeleteRepository(ctx, repo.ID)
	default:
		// edited, renamed, privatized, publicized: refresh the mirror.
		updated := api.ConvertRepository(ev.GetRepo())
		updated.SyncEnabled = repo.SyncEnabled
		return rt.db.SaveRepository(ctx, updated)
	}
}

func (rt *Router) handleIssues(ctx context.Context, ev *github.IssuesEvent) error {
	repo, ok := rt.repoFor(ctx, ev.GetRepo())
	if !ok {
		return nil
	}

	snap := api.ConvertIssue(ev.GetIssue(), repo.ID)
	issue, err := rt.reconciler.ReconcileIssue(ctx, snap)
	if err != nil {
		return err
	}

	if !issue.Synced() {
		if err := rt.syncer.FullSync(ctx, repo, issue); err != nil {
			log.Printf("webhook: history sync for issue #%d: %v", issue.Number, err)
		}
	}

	switch ev.GetAction() {
	case "opened", "closed", "reopened":
		return rt.notifier.Fanout(ctx, &notify.Event{
			Repo:   repo,
			Issue:  issue,
			Kind:   issueKind(issue),
			Action: ev.GetAction(),
			Actor:  api.ConvertUser(ev.GetSender()),
			Title:  issue.Title,
			Body:   issue.Body,
		})
	}
	return nil
}

func (rt *Router) handleIssueComment(ctx context.Context, ev *github.IssueCommentEvent) error {
	repo, ok := rt.repoFor(ctx, ev.GetRepo())
	if !ok {
		return nil
	}

	snap := api.ConvertIssue(ev.GetIssue(), repo.ID)
	issue, err := rt.reconciler.ReconcileIssue(ctx, snap)
	if err != nil {
		return err
	}

	if !issue.Synced() {
		// The full history fetch subsumes this comment's payload.
		if err := rt.syncer.FullSync(ctx, repo, issue); err != nil {
			return err
		}
	} else {
		comment := api.ConvertComment(ev.GetComment(), issue.ID)
		switch ev.GetAction() {
		case "deleted":
			// Deletions are rare; the next full refresh trues them up.
		default:
			if err := rt.syncer.SaveComment(ctx, comment); err != nil {
				return err
			}
		}
	}

	if ev.GetAction() != "created" {
		return nil
	}
	return rt.notifier.Fanout(ctx, &notify.Event{
		Repo:   repo,
		Issue:  issue,
		Kind:   issueKind(issue),
		Action: notify.ActionCommented,
		Actor:  api.ConvertUser(ev.GetSender()),
		Title:  issue.Title,
		Body:   ev.GetComment().GetBody(),
	})
}

func (rt *Router) handleLabel(ctx context.Context, ev *github.LabelEvent) error {
	if _, ok := rt.repoFor(ctx, ev.GetRepo()); !ok {
		return nil
	}

	switch ev.GetAction() {
	case "deleted":
		return rt.db.DeleteLabel(ctx, ev.GetLabel().GetID())
	default:
		return rt.db.SaveLabel(ctx, api.ConvertLabel(ev.GetLabel()))
	}
}

func (rt *Router) handleMilestone(ctx context.Context, ev *github.MilestoneEvent) error {
	repo, ok := rt.repoFor(ctx, ev.GetRepo())
	if !ok {
		return nil
	}

	switch ev.GetAction() {
	case "deleted":
		return rt.db.DeleteMilestone(ctx, ev.GetMilestone().GetID())
	default:
		return rt.db.SaveMilestone(ctx, api.ConvertMilestone(ev.GetMilestone(), repo.ID))
	}
}

func (rt *Router) handlePullRequest(ctx context.Context, ev *github.PullRequestEvent) error {
	repo, ok := rt.repoFor(ctx, ev.GetRepo())
	if !ok {
		return nil
	}

	snap := api.ConvertPullRequest(ev.GetPullRequest(), repo.ID)
	pr, err := rt.reconciler.ReconcileIssue(ctx, snap)
	if err != nil {
		return err
	}

	if !pr.Synced() {
		if err := rt.syncer.FullSync(ctx, repo, pr); err != nil {
			log.Printf("webhook: history sync for PR #%d: %v", pr.Number, err)
		}
	}

	action := ev.GetAction()
	switch action {
	case "opened", "edited", "synchronize", "closed":
		// The platform emits no fine-grained link events; re-read the
		// authoritative closing references whenever they may have changed.
		if err := rt.syncer.RebuildLinks(ctx, repo, pr); err != nil {
			log.Printf("webhook: rebuild links for PR #%d: %v", pr.Number, err)
		}
	}

	var notifyAction string
	switch {
	case action == "opened":
		notifyAction = notify.ActionOpened
	case action == "closed" && pr.Merged:
		notifyAction = notify.ActionMerged
	case action == "closed":
		notifyAction = notify.ActionClosed
	case action == "reopened":
		notifyAction = notify.ActionReopened
	case action == "ready_for_review":
		notifyAction = notify.ActionReadyForReview
	case action == "review_requested":
		notifyAction = notify.ActionReviewRequested
	default:
		return nil
	}

	return rt.notifier.Fanout(ctx, &notify.Event{
		Repo:   repo,
		Issue:  pr,
		Kind:   models.NotificationPullRequest,
		Action: notifyAction,
		Actor:  api.ConvertUser(ev.GetSender()),
		Title:  pr.Title,
		Body:   pr.Body,
	})
}

func (rt *Router) handlePullRequestReview(ctx context.Context, ev *github.PullRequestReviewEvent) error {
	repo, ok := rt.repoFor(ctx, ev.GetRepo())
	if !ok {
		return nil
	}

	snap := api.ConvertPullRequest(ev.GetPullRequest(), repo.ID)
	pr, err := rt.reconciler.ReconcileIssue(ctx, snap)
	if err != nil {
		return err
	}

	if !pr.Synced() {
		if err := rt.syncer.FullSync(ctx, repo, pr); err != nil {
			return err
		}
	} else if err := rt.syncer.SaveReview(ctx, api.ConvertReview(ev.GetReview(), pr.ID)); err != nil {
		return err
	}

	if ev.GetAction() != "submitted" {
		return nil
	}
	return rt.notifier.Fanout(ctx, &notify.Event{
		Repo:   repo,
		Issue:  pr,
		Kind:   models.NotificationPullRequest,
		Action: notify.ActionReviewSubmitted,
		Actor:  api.ConvertUser(ev.GetSender()),
		Title:  pr.Title,
		Body:   ev.GetReview().GetBody(),
	})
}

func (rt *Router) handlePullRequestReviewComment(ctx context.Context, ev *github.PullRequestReviewCommentEvent) error {
	repo, ok := rt.repoFor(ctx, ev.GetRepo())
	if !ok {
		return nil
	}

	snap := api.ConvertPullRequest(ev.GetPullRequest(), repo.ID)
	pr, err := rt.reconciler.ReconcileIssue(ctx, snap)
	if err != nil {
		return err
	}

	if !pr.Synced() {
		return rt.syncer.FullSync(ctx, repo, pr)
	}
	return rt.syncer.SaveReviewComment(ctx, api.ConvertReviewComment(ev.GetComment(), pr.ID))
}

func (rt *Router) handleMember(ctx context.Context, ev *github.MemberEvent) error {
	repo, ok := rt.repoFor(ctx, ev.GetRepo())
	if !ok {
		return nil
	}

	member := api.ConvertUser(ev.GetMember())
	if member == nil {
		return nil
	}

	switch ev.GetAction() {
	case "added":
		if err := rt.db.EnsureUser(ctx, member); err != nil {
			return err
		}
		return rt.db.AddCollaborator(ctx, repo.ID, member.ID)
	case "removed":
		return rt.db.RemoveCollaborator(ctx, repo.ID, member.ID)
	}
	return nil
}

func (rt *Router) handleRelease(ctx context.Context, ev *github.ReleaseEvent) error {
	repo, ok := rt.repoFor(ctx, ev.GetRepo())
	if !ok {
		return nil
	}
	if ev.GetAction() != "published" {
		return nil
	}

	release := ev.GetRelease()
	title := release.GetName()
	if title == "" {
		title = release.GetTagName()
	}
	return rt.notifier.Fanout(ctx, &notify.Event{
		Repo:   repo,
		Kind:   models.NotificationRelease,
		Action: notify.ActionPublished,
		Actor:  api.ConvertUser(ev.GetSender()),
		Title:  title,
		Body:   release.GetBody(),
	})
}

func (rt *Router) handleWorkflowRun(ctx context.Context, ev *github.WorkflowRunEvent) error {
	repo, ok := rt.repoFor(ctx, ev.GetRepo())
	if !ok {
		return nil
	}
	if ev.GetAction() != "completed" {
		return nil
	}

	run := ev.GetWorkflowRun()
	switch run.GetConclusion() {
	case models.ConclusionFailure, models.ConclusionTimedOut:
	default:
		return nil
	}

	return rt.notifier.Fanout(ctx, &notify.Event{
		Repo:   repo,
		Kind:   models.NotificationCI,
		Action: notify.ActionWorkflowFailed,
		Actor:  api.ConvertUser(run.GetActor()),
		Title:  fmt.Sprintf("%s failed on %s", run.GetName(), run.GetHeadBranch()),
		Body:   run.GetHTMLURL(),
	})
}

func (rt *Router) handleCheckRun(ctx context.Context, ev *github.CheckRunEvent) error {
	repo, ok := rt.repoFor(ctx, ev.GetRepo())
	if !ok {
		return nil
	}
	return rt.db.SaveCheckRun(ctx, api.ConvertCheckRun(ev.GetCheckRun(), repo.ID))
}

func (rt *Router) handleStatus(ctx context.Context, ev *github.StatusEvent) error {
	repo, ok := rt.repoFor(ctx, ev.GetRepo())
	if !ok {
		return nil
	}
	return rt.db.SaveCommitStatus(ctx, &models.CommitStatus{
		ID:           ev.GetID(),
		RepositoryID: repo.ID,
		CommitSHA:    ev.GetSHA(),
		Context:      ev.GetContext(),
		State:        ev.GetState(),
		Description:  ev.GetDescription(),
		TargetURL:    ev.GetTargetURL(),
		CreatedAt:    ev.GetCreatedAt().Time,
	})
}

func issueKind(issue *models.Issue) string {
	if issue.IsPullRequest {
		return models.NotificationPullRequest
	}
	return models.NotificationIssue
}
