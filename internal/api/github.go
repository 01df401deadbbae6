// Package api wraps the GitHub REST and GraphQL clients behind converters
// into the local models. It is the External Platform Client: outbound
// fetches only, no local state.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/hubwatch/hubwatch/internal/models"
)

// GitHubClient represents a client for the GitHub REST API.
type GitHubClient struct {
	client *github.Client
}

// NewGitHubClient creates a new GitHub API client. An empty token yields an
// unauthenticated client, useful against public repositories and test
// servers.
func NewGitHubClient(token string) *GitHubClient {
	var tc *http.Client

	if token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: token},
		)
		tc = oauth2.NewClient(context.Background(), ts)
	}

	return &GitHubClient{client: github.NewClient(tc)}
}

// NewGitHubClientFromHTTP builds a client over a caller-supplied HTTP
// client, e.g. one pointed at an httptest server.
func NewGitHubClientFromHTTP(httpClient *http.Client, baseURL string) (*GitHubClient, error) {
	client, err := github.NewClient(httpClient).WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to build client: %w", err)
	}
	return &GitHubClient{client: client}, nil
}

// GetRepository gets a repository by owner and name.
func (c *GitHubClient) GetRepository(ctx context.Context, owner, name string) (*models.Repository, error) {
	repo, _, err := c.client.Repositories.Get(ctx, owner, name)
	if err != nil {
		return nil, fmt.Errorf("failed to get repository: %w", err)
	}
	return ConvertRepository(repo), nil
}

// GetIssue fetches the current snapshot of an issue.
func (c *GitHubClient) GetIssue(ctx context.Context, owner, name string, repoID int64, number int) (*models.IssueSnapshot, error) {
	issue, _, err := c.client.Issues.Get(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get issue #%d: %w", number, err)
	}
	return ConvertIssue(issue, repoID), nil
}

// GetPullRequest fetches the current snapshot of a pull request, including
// the PR-only fields the issues API does not report.
func (c *GitHubClient) GetPullRequest(ctx context.Context, owner, name string, repoID int64, number int) (*models.IssueSnapshot, error) {
	pr, _, err := c.client.PullRequests.Get(ctx, owner, name, number)
	if err != nil {
		return nil, fmt.Errorf("failed to get pull request #%d: %w", number, err)
	}
	return ConvertPullRequest(pr, repoID), nil
}

// ListIssuesSince pages through issues (and PRs) updated since a given time,
// newest first.
func (c *GitHubClient) ListIssuesSince(ctx context.Context, owner, name string, repoID int64, since time.Time) ([]*models.IssueSnapshot, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: 100},
	}
	if !since.IsZero() {
		opts.Since = since
	}

	var snaps []*models.IssueSnapshot
	for {
		issues, resp, err := c.client.Issues.ListByRepo(ctx, owner, name, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list issues: %w", err)
		}
		for _, issue := range issues {
			snaps = append(snaps, ConvertIssue(issue, repoID))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return snaps, nil
}

// ListComments pages through an issue's comments.
func (c *GitHubClient) ListComments(ctx context.Context, owner, name string, issueID int64, number int) ([]models.Comment, error) {
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var all []models.Comment
	for {
		comments, resp, err := c.client.Issues.ListComments(ctx, owner, name, number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list comments: %w", err)
		}
		for _, comment := range comments {
			all = append(all, *ConvertComment(comment, issueID))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// ListReviews pages through a pull request's reviews.
func (c *GitHubClient) ListReviews(ctx context.Context, owner, name string, issueID int64, number int) ([]models.Review, error) {
	opts := &github.ListOptions{PerPage: 100}

	var all []models.Review
	for {
		reviews, resp, err := c.client.PullRequests.ListReviews(ctx, owner, name, number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list reviews: %w", err)
		}
		for _, review := range reviews {
			all = append(all, *ConvertReview(review, issueID))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// ListReviewComments pages through a pull request's inline review comments.
func (c *GitHubClient) ListReviewComments(ctx context.Context, owner, name string, issueID int64, number int) ([]models.ReviewComment, error) {
	opts := &github.PullRequestListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var all []models.ReviewComment
	for {
		comments, resp, err := c.client.PullRequests.ListComments(ctx, owner, name, number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list review comments: %w", err)
		}
		for _, comment := range comments {
			all = append(all, *ConvertReviewComment(comment, issueID))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// ListChecksForCommit pages through the check runs reported for a commit.
func (c *GitHubClient) ListChecksForCommit(ctx context.Context, owner, name string, repoID int64, sha string) ([]models.CheckRun, error) {
	opts := &github.ListCheckRunsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var all []models.CheckRun
	for {
		results, resp, err := c.client.Checks.ListCheckRunsForRef(ctx, owner, name, sha, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list check runs for %s: %w", sha, err)
		}
		for _, run := range results.CheckRuns {
			all = append(all, *ConvertCheckRun(run, repoID))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}

// ListCommitStatusesForCommit pages through the legacy commit statuses
// reported for a commit.
func (c *GitHubClient) ListCommitStatusesForCommit(ctx context.Context, owner, name string, repoID int64, sha string) ([]models.CommitStatus, error) {
	opts := &github.ListOptions{PerPage: 100}

	var all []models.CommitStatus
	for {
		statuses, resp, err := c.client.Repositories.ListStatuses(ctx, owner, name, sha, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list commit statuses for %s: %w", sha, err)
		}
		for _, st := range statuses {
			all = append(all, *ConvertCommitStatus(st, repoID, sha))
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return all, nil
}
