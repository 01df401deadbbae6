package api

import (
	"testing"
	"time"

	"github.com/google/go-github/v57/github"

	"github.com/hubwatch/hubwatch/internal/models"
)

func TestConvertIssue(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ghIssue := &github.Issue{
		ID:     github.Int64(100),
		Number: github.Int(5),
		Title:  github.String("flaky test"),
		Body:   github.String("it fails"),
		State:  github.String("open"),
		User:   &github.User{ID: github.Int64(3), Login: github.String("bob")},
		Assignees: []*github.User{
			{ID: github.Int64(2), Login: github.String("alice")},
		},
		Labels: []*github.Label{
			{ID: github.Int64(10), Name: github.String("bug")},
		},
		CreatedAt: &github.Timestamp{Time: now},
		UpdatedAt: &github.Timestamp{Time: now},
	}

	snap := ConvertIssue(ghIssue, 1)
	if snap.Issue.ID != 100 || snap.Issue.Number != 5 || snap.Issue.RepositoryID != 1 {
		t.Errorf("identity fields: %+v", snap.Issue)
	}
	if snap.Issue.IsPullRequest {
		t.Error("plain issue flagged as pull request")
	}
	if snap.Author == nil || snap.Author.Login != "bob" {
		t.Errorf("author: %+v", snap.Author)
	}
	if snap.Issue.AuthorID == nil || *snap.Issue.AuthorID != 3 {
		t.Errorf("author id: %v", snap.Issue.AuthorID)
	}
	if len(snap.Assignees) != 1 || snap.Assignees[0].Login != "alice" {
		t.Errorf("assignees: %+v", snap.Assignees)
	}
	if len(snap.Labels) != 1 || snap.Labels[0].Name != "bug" {
		t.Errorf("labels: %+v", snap.Labels)
	}
}

func TestConvertIssueDetectsPullRequest(t *testing.T) {
	ghIssue := &github.Issue{
		ID:               github.Int64(100),
		Number:           github.Int(5),
		PullRequestLinks: &github.PullRequestLinks{URL: github.String("http://example.com/pr/5")},
	}
	snap := ConvertIssue(ghIssue, 1)
	if !snap.Issue.IsPullRequest {
		t.Error("issue with pull request links should carry the discriminator")
	}
}

func TestConvertPullRequest(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ghPR := &github.PullRequest{
		ID:        github.Int64(200),
		Number:    github.Int(6),
		Title:     github.String("fix it"),
		State:     github.String("open"),
		Draft:     github.Bool(true),
		User:      &github.User{ID: github.Int64(3), Login: github.String("bob")},
		Head:      &github.PullRequestBranch{Ref: github.String("fix"), SHA: github.String("abc")},
		Base:      &github.PullRequestBranch{Ref: github.String("main"), SHA: github.String("def")},
		CreatedAt: &github.Timestamp{Time: now},
		UpdatedAt: &github.Timestamp{Time: now},
		RequestedReviewers: []*github.User{
			{ID: github.Int64(2), Login: github.String("alice")},
		},
	}

	snap := ConvertPullRequest(ghPR, 1)
	if !snap.Issue.IsPullRequest || !snap.Issue.Draft {
		t.Errorf("PR flags: %+v", snap.Issue)
	}
	if snap.Issue.HeadSHA != "abc" || snap.Issue.BaseRef != "main" {
		t.Errorf("branch fields: %+v", snap.Issue)
	}
	if len(snap.Reviewers) != 1 || snap.Reviewers[0].Login != "alice" {
		t.Errorf("reviewers: %+v", snap.Reviewers)
	}
}

func TestConvertReviewNormalizesState(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"APPROVED", models.ReviewApproved},
		{"approved", models.ReviewApproved},
		{"CHANGES_REQUESTED", models.ReviewChangesRequested},
		{"commented", models.ReviewCommented},
		{"weird_future_state", "weird_future_state"},
	}
	for _, tc := range cases {
		review := ConvertReview(&github.PullRequestReview{
			ID:    github.Int64(900),
			State: github.String(tc.in),
		}, 1)
		if review.State != tc.want {
			t.Errorf("state %q normalized to %q, want %q", tc.in, review.State, tc.want)
		}
	}
}

func TestConvertReviewCommentCarriesParentReference(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rc := ConvertReviewComment(&github.PullRequestComment{
		ID:                  github.Int64(500),
		Body:                github.String("nit"),
		Path:                github.String("main.go"),
		PullRequestReviewID: github.Int64(900),
		CreatedAt:           &github.Timestamp{Time: now},
		UpdatedAt:           &github.Timestamp{Time: now},
	}, 1)

	if rc.ReviewExternalID == nil || *rc.ReviewExternalID != 900 {
		t.Errorf("external review reference: %v", rc.ReviewExternalID)
	}
	if rc.ReviewID != nil {
		t.Error("local review reference is resolved lazily, must start nil")
	}
}

func TestConvertCheckRun(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	run := ConvertCheckRun(&github.CheckRun{
		ID:         github.Int64(10),
		HeadSHA:    github.String("abc"),
		Name:       github.String("build"),
		Status:     github.String("completed"),
		Conclusion: github.String("success"),
		StartedAt:  &github.Timestamp{Time: now},
	}, 1)

	if run.RepositoryID != 1 || run.CommitSHA != "abc" || run.Name != "build" {
		t.Errorf("check run: %+v", run)
	}
	if run.CompletedAt != nil {
		t.Error("missing completion time should stay nil")
	}
}

func TestConvertUserNil(t *testing.T) {
	if ConvertUser(nil) != nil {
		t.Error("nil user should convert to nil")
	}
}
