package reconcile

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/hubwatch/hubwatch/internal/db"
	"github.com/hubwatch/hubwatch/internal/models"
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

	repo := &models.Repository{ID: 1, Owner: "acme", Name: "widgets", FullName: "acme/widgets", SyncEnabled: true}
	if err := database.SaveRepository(context.Background(), repo); err != nil {
		t.Fatalf("save repository: %v", err)
	}
	return database
}

func snapshot(assignees ...models.User) *models.IssueSnapshot {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	return &models.IssueSnapshot{
		Issue: models.Issue{
			ID: 100, RepositoryID: 1, Number: 5,
			Title: "flaky test", State: "open",
			CreatedAt: now, UpdatedAt: now,
		},
		Author:    &models.User{ID: 1, Login: "author"},
		Assignees: assignees,
	}
}

func assigneeIDs(t *testing.T, database *db.DB, issueID int64) []int64 {
	t.Helper()
	ids, err := database.ListAssigneeIDs(context.Background(), issueID)
	if err != nil {
		t.Fatal(err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func TestReconcileAssigneeSetDiff(t *testing.T) {
	database := newTestDB(t)
	r := New(database)
	ctx := context.Background()

	alice := models.User{ID: 2, Login: "alice"}
	bob := models.User{ID: 3, Login: "bob"}
	carol := models.User{ID: 4, Login: "carol"}

	issue, err := r.ReconcileIssue(ctx, snapshot(alice, bob))
	if err != nil {
		t.Fatal(err)
	}
	if got := assigneeIDs(t, database, issue.ID); len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("expected assignees {alice,bob}, got %v", got)
	}

	// {alice, bob} -> {bob, carol}: alice removed, carol added, bob untouched.
	if _, err := r.ReconcileIssue(ctx, snapshot(bob, carol)); err != nil {
		t.Fatal(err)
	}
	if got := assigneeIDs(t, database, issue.ID); len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Fatalf("expected assignees {bob,carol}, got %v", got)
	}
}

func TestReconcileIsIdempotent(t *testing.T) {
	database := newTestDB(t)
	r := New(database)
	ctx := context.Background()

	snap := snapshot(models.User{ID: 2, Login: "alice"})
	issue, err := r.ReconcileIssue(ctx, snap)
	if err != nil {
		t.Fatal(err)
	}
	before := assigneeIDs(t, database, issue.ID)

	if _, err := r.ReconcileIssue(ctx, snap); err != nil {
		t.Fatal(err)
	}
	after := assigneeIDs(t, database, issue.ID)

	if len(before) != len(after) || before[0] != after[0] {
		t.Errorf("reapplying the same snapshot changed relations: %v -> %v", before, after)
	}
}

func TestReconcileGrantsSubscriptions(t *testing.T) {
	database := newTestDB(t)
	r := New(database)
	ctx := context.Background()

	issue, err := r.ReconcileIssue(ctx, snapshot(models.User{ID: 2, Login: "alice"}))
	if err != nil {
		t.Fatal(err)
	}

	subs, err := database.ListIssueSubscriberIDs(ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	got := map[int64]bool{}
	for _, id := range subs {
		got[id] = true
	}
	if !got[1] || !got[2] {
		t.Errorf("author and assignee should be subscribed, got %v", subs)
	}
}

func TestReconcileEnsuresShadowUsers(t *testing.T) {
	database := newTestDB(t)
	r := New(database)
	ctx := context.Background()

	// Assignee was never mirrored before this snapshot.
	if _, err := r.ReconcileIssue(ctx, snapshot(models.User{ID: 9, Login: "mallory"})); err != nil {
		t.Fatal(err)
	}

	user, err := database.GetUser(ctx, 9)
	if err != nil {
		t.Fatal(err)
	}
	if !user.Shadow {
		t.Error("relation-referenced user should be a shadow row")
	}
}

func TestReconcileReviewersOnlyForPRs(t *testing.T) {
	database := newTestDB(t)
	r := New(database)
	ctx := context.Background()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	snap := &models.IssueSnapshot{
		Issue: models.Issue{
			ID: 200, RepositoryID: 1, Number: 6,
			Title: "add retries", State: "open", IsPullRequest: true,
			CreatedAt: now, UpdatedAt: now,
		},
		Author:    &models.User{ID: 1, Login: "author"},
		Reviewers: []models.User{{ID: 2, Login: "alice"}},
	}
	issue, err := r.ReconcileIssue(ctx, snap)
	if err != nil {
		t.Fatal(err)
	}

	ids, err := database.ListReviewRequestIDs(ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != 2 {
		t.Errorf("expected requested reviewer alice, got %v", ids)
	}

	// Review request withdrawn.
	snap.Reviewers = nil
	if _, err := r.ReconcileIssue(ctx, snap); err != nil {
		t.Fatal(err)
	}
	ids, err = database.ListReviewRequestIDs(ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("expected no requested reviewers, got %v", ids)
	}
}

func TestReconcileLabels(t *testing.T) {
	database := newTestDB(t)
	r := New(database)
	ctx := context.Background()

	snap := snapshot()
	snap.Labels = []models.Label{{ID: 10, Name: "bug", Color: "ff0000"}, {ID: 11, Name: "p1"}}
	issue, err := r.ReconcileIssue(ctx, snap)
	if err != nil {
		t.Fatal(err)
	}

	snap.Labels = []models.Label{{ID: 11, Name: "p1"}}
	if _, err := r.ReconcileIssue(ctx, snap); err != nil {
		t.Fatal(err)
	}

	ids, err := database.ListIssueLabelIDs(ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 || ids[0] != 11 {
		t.Errorf("expected only label p1, got %v", ids)
	}
}
