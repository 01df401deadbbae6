package sync

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hubwatch/hubwatch/internal/db"
	"github.com/hubwatch/hubwatch/internal/models"
	"github.com/hubwatch/hubwatch/internal/reconcile"
)

func newTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.New(":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	database.SetMaxOpenConns(1)
	if err := database.Initialize(); err != nil {
		t.Fatalf("initialize schema: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

// fakePlatform serves canned history and records call counts.
type fakePlatform struct {
	repo           *models.Repository
	snapshots      map[int]*models.IssueSnapshot
	comments       []models.Comment
	reviews        []models.Review
	reviewComments []models.ReviewComment

	failComments bool
	commentCalls atomic.Int64
}

func (f *fakePlatform) GetRepository(ctx context.Context, owner, name string) (*models.Repository, error) {
	if f.repo == nil {
		return nil, errors.New("no such repository")
	}
	return f.repo, nil
}

func (f *fakePlatform) GetIssue(ctx context.Context, owner, name string, repoID int64, number int) (*models.IssueSnapshot, error) {
	snap, ok := f.snapshots[number]
	if !ok {
		return nil, errors.New("no such issue")
	}
	return snap, nil
}

func (f *fakePlatform) GetPullRequest(ctx context.Context, owner, name string, repoID int64, number int) (*models.IssueSnapshot, error) {
	return f.GetIssue(ctx, owner, name, repoID, number)
}

func (f *fakePlatform) ListIssuesSince(ctx context.Context, owner, name string, repoID int64, since time.Time) ([]*models.IssueSnapshot, error) {
	var snaps []*models.IssueSnapshot
	for _, snap := range f.snapshots {
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

func (f *fakePlatform) ListComments(ctx context.Context, owner, name string, issueID int64, number int) ([]models.Comment, error) {
	f.commentCalls.Add(1)
	if f.failComments {
		return nil, errors.New("transient API failure")
	}
	return f.comments, nil
}

func (f *fakePlatform) ListReviews(ctx context.Context, owner, name string, issueID int64, number int) ([]models.Review, error) {
	return f.reviews, nil
}

func (f *fakePlatform) ListReviewComments(ctx context.Context, owner, name string, issueID int64, number int) ([]models.ReviewComment, error) {
	return f.reviewComments, nil
}

type fakeLinker struct {
	numbers []int
}

func (f *fakeLinker) ClosingIssueNumbers(ctx context.Context, owner, name string, prNumber int) ([]int, error) {
	return f.numbers, nil
}

func seedWorld(t *testing.T, database *db.DB) (*models.Repository, *models.Issue) {
	t.Helper()
	ctx := context.Background()
	repo := &models.Repository{ID: 1, Owner: "acme", Name: "widgets", FullName: "acme/widgets", SyncEnabled: true}
	if err := database.SaveRepository(ctx, repo); err != nil {
		t.Fatal(err)
	}
	if err := database.SaveUser(ctx, &models.User{ID: 7, Login: "alice"}); err != nil {
		t.Fatal(err)
	}
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	issue := &models.Issue{
		ID: 100, RepositoryID: 1, Number: 5, Title: "flaky test",
		State: "open", CreatedAt: now, UpdatedAt: now,
	}
	if err := database.UpsertIssue(ctx, issue); err != nil {
		t.Fatal(err)
	}
	return repo, issue
}

func TestFullSyncBackfillsHistory(t *testing.T) {
	database := newTestDB(t)
	repo, issue := seedWorld(t, database)
	ctx := context.Background()

	now := time.Now().UTC()
	aliceID := int64(7)
	platform := &fakePlatform{
		comments: []models.Comment{
			{ID: 1, IssueID: issue.ID, AuthorID: &aliceID, Body: "first", CreatedAt: now, UpdatedAt: now},
			{ID: 2, IssueID: issue.ID, AuthorID: &aliceID, Body: "second", CreatedAt: now, UpdatedAt: now},
		},
	}
	s := New(database, platform, nil, reconcile.New(database))

	if err := s.FullSync(ctx, repo, issue); err != nil {
		t.Fatal(err)
	}

	got, err := database.GetIssueByID(ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Synced() {
		t.Errorf("expected synced, got %s", got.SyncStatus)
	}
	comments, err := database.ListComments(ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(comments) != 2 {
		t.Errorf("expected 2 backfilled comments, got %d", len(comments))
	}

	// Commenting grants the involvement subscription.
	subs, err := database.ListIssueSubscriberIDs(ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(subs) != 1 || subs[0] != aliceID {
		t.Errorf("commenter should be subscribed, got %v", subs)
	}
}

func TestFullSyncFailureRestoresStatus(t *testing.T) {
	database := newTestDB(t)
	repo, issue := seedWorld(t, database)
	ctx := context.Background()

	platform := &fakePlatform{failComments: true}
	s := New(database, platform, nil, reconcile.New(database))

	if err := s.FullSync(ctx, repo, issue); err == nil {
		t.Fatal("expected sync error")
	}

	got, err := database.GetIssueByID(ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SyncStatus != models.SyncStatusUnsynced {
		t.Errorf("failed first sync should restore unsynced, got %s", got.SyncStatus)
	}

	// A previously synced issue keeps serving its snapshot after a failed
	// refresh.
	if err := database.MarkSynced(ctx, issue.ID, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	got, err = database.GetIssueByID(ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.FullSync(ctx, repo, got); err == nil {
		t.Fatal("expected sync error")
	}
	got, err = database.GetIssueByID(ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.SyncStatus != models.SyncStatusSynced {
		t.Errorf("failed refresh should restore synced, got %s", got.SyncStatus)
	}
}

func TestFullSyncSkipsWhileSyncing(t *testing.T) {
	database := newTestDB(t)
	repo, issue := seedWorld(t, database)
	ctx := context.Background()

	// Simulate another worker holding the durable gate.
	ok, err := database.TryBeginSync(ctx, issue.ID)
	if err != nil || !ok {
		t.Fatalf("begin sync: ok=%v err=%v", ok, err)
	}

	platform := &fakePlatform{}
	s := New(database, platform, nil, reconcile.New(database))
	if err := s.FullSync(ctx, repo, issue); err != nil {
		t.Fatalf("losing the gate should be a no-op, got %v", err)
	}
	if platform.commentCalls.Load() != 0 {
		t.Errorf("gated sync should not hit the platform, got %d calls", platform.commentCalls.Load())
	}
}

func TestFullSyncPullRequestHistory(t *testing.T) {
	database := newTestDB(t)
	repo, _ := seedWorld(t, database)
	ctx := context.Background()

	now := time.Now().UTC()
	pr := &models.Issue{
		ID: 200, RepositoryID: 1, Number: 6, Title: "fix it",
		State: "open", IsPullRequest: true, CreatedAt: now, UpdatedAt: now,
	}
	if err := database.UpsertIssue(ctx, pr); err != nil {
		t.Fatal(err)
	}

	aliceID := int64(7)
	reviewID := int64(900)
	submitted := now
	platform := &fakePlatform{
		reviews: []models.Review{
			{ID: reviewID, IssueID: pr.ID, AuthorID: &aliceID, State: models.ReviewApproved, SubmittedAt: &submitted},
		},
		reviewComments: []models.ReviewComment{
			{ID: 500, IssueID: pr.ID, ReviewExternalID: &reviewID, AuthorID: &aliceID, Body: "nit", Path: "main.go", CreatedAt: now, UpdatedAt: now},
		},
	}
	// PR #6 closes issue #5.
	linker := &fakeLinker{numbers: []int{5}}
	s := New(database, platform, linker, reconcile.New(database))

	if err := s.FullSync(ctx, repo, pr); err != nil {
		t.Fatal(err)
	}

	reviews, err := database.ListReviews(ctx, pr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(reviews) != 1 {
		t.Fatalf("expected 1 review, got %d", len(reviews))
	}

	rcs, err := database.ListReviewComments(ctx, pr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(rcs) != 1 || rcs[0].ReviewID == nil || *rcs[0].ReviewID != reviewID {
		t.Errorf("review comment parent should be resolved, got %+v", rcs)
	}

	linked, err := database.ListLinkedIssues(ctx, pr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(linked) != 1 || linked[0].Number != 5 {
		t.Errorf("expected linked issue #5, got %+v", linked)
	}
}

func TestRebuildLinksSkipsUnknownIssues(t *testing.T) {
	database := newTestDB(t)
	repo, issue := seedWorld(t, database)
	ctx := context.Background()

	now := time.Now().UTC()
	pr := &models.Issue{
		ID: 200, RepositoryID: 1, Number: 6, Title: "fix it",
		State: "open", IsPullRequest: true, CreatedAt: now, UpdatedAt: now,
	}
	if err := database.UpsertIssue(ctx, pr); err != nil {
		t.Fatal(err)
	}

	// #999 was never mirrored; only #5 resolves.
	linker := &fakeLinker{numbers: []int{5, 999}}
	s := New(database, &fakePlatform{}, linker, reconcile.New(database))

	if err := s.RebuildLinks(ctx, repo, pr); err != nil {
		t.Fatal(err)
	}
	linked, err := database.ListLinkedIssues(ctx, pr.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(linked) != 1 || linked[0].ID != issue.ID {
		t.Errorf("expected only the mirrored issue linked, got %+v", linked)
	}
}

func TestEnsureFreshSyncsUnsyncedInline(t *testing.T) {
	database := newTestDB(t)
	repo, issue := seedWorld(t, database)
	ctx := context.Background()

	platform := &fakePlatform{}
	s := New(database, platform, nil, reconcile.New(database))

	if err := s.EnsureFresh(ctx, repo, issue); err != nil {
		t.Fatal(err)
	}
	got, err := database.GetIssueByID(ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Synced() {
		t.Errorf("unsynced read should sync inline, got %s", got.SyncStatus)
	}
	if platform.commentCalls.Load() != 1 {
		t.Errorf("expected 1 history fetch, got %d", platform.commentCalls.Load())
	}
}

func TestEnsureFreshFreshSnapshotIsNoop(t *testing.T) {
	database := newTestDB(t)
	repo, issue := seedWorld(t, database)
	ctx := context.Background()

	if err := database.MarkSynced(ctx, issue.ID, time.Now().UTC()); err != nil {
		t.Fatal(err)
	}
	got, err := database.GetIssueByID(ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}

	platform := &fakePlatform{}
	s := New(database, platform, nil, reconcile.New(database))
	if err := s.EnsureFresh(ctx, repo, got); err != nil {
		t.Fatal(err)
	}
	if platform.commentCalls.Load() != 0 {
		t.Errorf("fresh snapshot should not refetch, got %d calls", platform.commentCalls.Load())
	}
}

func TestSyncRepositoryBackfill(t *testing.T) {
	database := newTestDB(t)
	ctx := context.Background()

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	repo := &models.Repository{ID: 1, Owner: "acme", Name: "widgets", FullName: "acme/widgets", SyncEnabled: true}
	platform := &fakePlatform{
		repo: repo,
		snapshots: map[int]*models.IssueSnapshot{
			5: {
				Issue:  models.Issue{ID: 100, RepositoryID: 1, Number: 5, Title: "a", State: "open", CreatedAt: now, UpdatedAt: now},
				Author: &models.User{ID: 7, Login: "alice"},
			},
			6: {
				Issue:  models.Issue{ID: 200, RepositoryID: 1, Number: 6, Title: "b", State: "open", CreatedAt: now, UpdatedAt: now},
				Author: &models.User{ID: 7, Login: "alice"},
			},
		},
	}
	s := New(database, platform, nil, reconcile.New(database))
	s.SetWorkers(2)

	if err := s.SyncRepository(ctx, "acme", "widgets"); err != nil {
		t.Fatal(err)
	}

	for _, number := range []int{5, 6} {
		issue, err := database.GetIssue(ctx, 1, number)
		if err != nil {
			t.Fatalf("issue #%d: %v", number, err)
		}
		if !issue.Synced() {
			t.Errorf("issue #%d should be synced, got %s", number, issue.SyncStatus)
		}
	}

	stored, err := database.GetRepository(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if stored.LastSyncedAt == nil {
		t.Error("sync watermark should advance")
	}
}

func TestParseRepositoryString(t *testing.T) {
	owner, name, err := ParseRepositoryString("acme/widgets")
	if err != nil {
		t.Fatal(err)
	}
	if owner != "acme" || name != "widgets" {
		t.Errorf("got %s/%s", owner, name)
	}
	if _, _, err := ParseRepositoryString("not-a-repo"); err == nil {
		t.Error("expected error for malformed repository string")
	}
}
