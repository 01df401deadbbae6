package api

import (
	"time"

	"github.com/google/go-github/v57/github"

	"github.com/hubwatch/hubwatch/internal/models"
)

// ConvertRepository converts a GitHub repository to our model.
func ConvertRepository(repo *github.Repository) *models.Repository {
	return &models.Repository{
		ID:          repo.GetID(),
		Owner:       repo.GetOwner().GetLogin(),
		Name:        repo.GetName(),
		FullName:    repo.GetFullName(),
		Private:     repo.GetPrivate(),
		SyncEnabled: true,
	}
}

// ConvertUser converts a GitHub user to our model.
func ConvertUser(user *github.User) *models.User {
	if user == nil {
		return nil
	}
	return &models.User{
		ID:        user.GetID(),
		Login:     user.GetLogin(),
		AvatarURL: user.GetAvatarURL(),
	}
}

// ConvertLabel converts a GitHub label to our model.
func ConvertLabel(label *github.Label) *models.Label {
	return &models.Label{
		ID:          label.GetID(),
		Name:        label.GetName(),
		Color:       label.GetColor(),
		Description: label.GetDescription(),
	}
}

// ConvertMilestone converts a GitHub milestone to our model.
func ConvertMilestone(m *github.Milestone, repoID int64) *models.Milestone {
	var dueOn *time.Time
	if m.DueOn != nil {
		t := m.DueOn.Time
		dueOn = &t
	}
	return &models.Milestone{
		ID:           m.GetID(),
		RepositoryID: repoID,
		Number:       m.GetNumber(),
		Title:        m.GetTitle(),
		State:        m.GetState(),
		DueOn:        dueOn,
	}
}

// ConvertIssue converts a GitHub issue to a reconciler snapshot. Issues that
// are really pull requests carry the discriminator but not the PR-only
// fields; those arrive via ConvertPullRequest.
func ConvertIssue(issue *github.Issue, repoID int64) *models.IssueSnapshot {
	author := ConvertUser(issue.User)

	snap := &models.IssueSnapshot{
		Issue: models.Issue{
			ID:            issue.GetID(),
			RepositoryID:  repoID,
			Number:        issue.GetNumber(),
			Title:         issue.GetTitle(),
			Body:          issue.GetBody(),
			State:         issue.GetState(),
			Locked:        issue.GetLocked(),
			IsPullRequest: issue.IsPullRequest(),
			CreatedAt:     issue.GetCreatedAt().Time,
			UpdatedAt:     issue.GetUpdatedAt().Time,
			ClosedAt:      timestampPtr(issue.ClosedAt),
		},
		Author: author,
	}
	if author != nil {
		snap.Issue.AuthorID = &author.ID
	}
	if issue.Milestone != nil {
		id := issue.Milestone.GetID()
		snap.Issue.MilestoneID = &id
	}
	for _, u := range issue.Assignees {
		if c := ConvertUser(u); c != nil {
			snap.Assignees = append(snap.Assignees, *c)
		}
	}
	for _, l := range issue.Labels {
		snap.Labels = append(snap.Labels, *ConvertLabel(l))
	}

	return snap
}

// ConvertPullRequest converts a GitHub pull request to a reconciler
// snapshot, the PR variant of ConvertIssue.
func ConvertPullRequest(pr *github.PullRequest, repoID int64) *models.IssueSnapshot {
	author := ConvertUser(pr.User)

	snap := &models.IssueSnapshot{
		Issue: models.Issue{
			ID:            pr.GetID(),
			RepositoryID:  repoID,
			Number:        pr.GetNumber(),
			Title:         pr.GetTitle(),
			Body:          pr.GetBody(),
			State:         pr.GetState(),
			Locked:        pr.GetLocked(),
			IsPullRequest: true,
			CreatedAt:     pr.GetCreatedAt().Time,
			UpdatedAt:     pr.GetUpdatedAt().Time,
			ClosedAt:      timestampPtr(pr.ClosedAt),
			Draft:         pr.GetDraft(),
			Merged:        pr.GetMerged(),
			HeadRef:       pr.GetHead().GetRef(),
			HeadSHA:       pr.GetHead().GetSHA(),
			BaseRef:       pr.GetBase().GetRef(),
			BaseSHA:       pr.GetBase().GetSHA(),
			Additions:     pr.GetAdditions(),
			Deletions:     pr.GetDeletions(),
			ChangedFiles:  pr.GetChangedFiles(),
		},
		Author: author,
	}
	if author != nil {
		snap.Issue.AuthorID = &author.ID
	}
	if pr.Milestone != nil {
		id := pr.Milestone.GetID()
		snap.Issue.MilestoneID = &id
	}
	for _, u := range pr.Assignees {
		if c := ConvertUser(u); c != nil {
			snap.Assignees = append(snap.Assignees, *c)
		}
	}
	for _, l := range pr.Labels {
		snap.Labels = append(snap.Labels, *ConvertLabel(l))
	}
	for _, u := range pr.RequestedReviewers {
		if c := ConvertUser(u); c != nil {
			snap.Reviewers = append(snap.Reviewers, *c)
		}
	}

	return snap
}

// ConvertComment converts a GitHub issue comment to our model.
func ConvertComment(comment *github.IssueComment, issueID int64) *models.Comment {
	author := ConvertUser(comment.User)
	c := &models.Comment{
		ID:        comment.GetID(),
		IssueID:   issueID,
		Body:      comment.GetBody(),
		CreatedAt: comment.GetCreatedAt().Time,
		UpdatedAt: comment.GetUpdatedAt().Time,
		Author:    author,
	}
	if author != nil {
		c.AuthorID = &author.ID
	}
	return c
}

// ConvertReview converts a GitHub pull request review to our model. Review
// states arrive upper-cased from the list API and lower-cased from webhook
// payloads; normalized here.
func ConvertReview(review *github.PullRequestReview, issueID int64) *models.Review {
	author := ConvertUser(review.User)
	r := &models.Review{
		ID:          review.GetID(),
		IssueID:     issueID,
		Body:        review.GetBody(),
		State:       normalizeReviewState(review.GetState()),
		CommitSHA:   review.GetCommitID(),
		SubmittedAt: timestampPtr(review.SubmittedAt),
		Author:      author,
	}
	if author != nil {
		r.AuthorID = &author.ID
	}
	return r
}

// ConvertReviewComment converts a GitHub inline review comment to our model.
func ConvertReviewComment(comment *github.PullRequestComment, issueID int64) *models.ReviewComment {
	author := ConvertUser(comment.User)
	rc := &models.ReviewComment{
		ID:        comment.GetID(),
		IssueID:   issueID,
		Body:      comment.GetBody(),
		Path:      comment.GetPath(),
		CreatedAt: comment.GetCreatedAt().Time,
		UpdatedAt: comment.GetUpdatedAt().Time,
		Author:    author,
	}
	if author != nil {
		rc.AuthorID = &author.ID
	}
	if comment.PullRequestReviewID != nil {
		id := comment.GetPullRequestReviewID()
		rc.ReviewExternalID = &id
	}
	return rc
}

// ConvertCheckRun converts a GitHub check run to our model.
func ConvertCheckRun(run *github.CheckRun, repoID int64) *models.CheckRun {
	return &models.CheckRun{
		ID:           run.GetID(),
		RepositoryID: repoID,
		CommitSHA:    run.GetHeadSHA(),
		Name:         run.GetName(),
		Status:       run.GetStatus(),
		Conclusion:   run.GetConclusion(),
		DetailsURL:   run.GetDetailsURL(),
		StartedAt:    run.GetStartedAt().Time,
		CompletedAt:  timestampPtr(run.CompletedAt),
	}
}

// ConvertCommitStatus converts a legacy commit status to our model. The sha
// is passed in because the list API reports statuses for the requested ref
// without repeating it.
func ConvertCommitStatus(st *github.RepoStatus, repoID int64, sha string) *models.CommitStatus {
	return &models.CommitStatus{
		ID:           st.GetID(),
		RepositoryID: repoID,
		CommitSHA:    sha,
		Context:      st.GetContext(),
		State:        st.GetState(),
		Description:  st.GetDescription(),
		TargetURL:    st.GetTargetURL(),
		CreatedAt:    st.GetCreatedAt().Time,
	}
}

func timestampPtr(ts *github.Timestamp) *time.Time {
	if ts == nil {
		return nil
	}
	t := ts.Time
	return &t
}

func normalizeReviewState(state string) string {
	switch state {
	case "APPROVED", "approved":
		return models.ReviewApproved
	case "CHANGES_REQUESTED", "changes_requested":
		return models.ReviewChangesRequested
	case "COMMENTED", "commented":
		return models.ReviewCommented
	case "DISMISSED", "dismissed":
		return models.ReviewDismissed
	case "PENDING", "pending":
		return models.ReviewPending
	default:
		return state
	}
}
