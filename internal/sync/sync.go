// Package sync is the history syncer: it backfills the full
// comment/review/check history of an issue on first contact, keeps the
// per-issue unsynced → syncing → synced state machine, and re-fetches stale
// issues in the background to recover from webhooks that never arrived.
package sync

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/hubwatch/hubwatch/internal/db"
	"github.com/hubwatch/hubwatch/internal/models"
	"github.com/hubwatch/hubwatch/internal/reconcile"
)

// DefaultStaleAfter is how old a synced snapshot may get before a read
// triggers a background re-fetch.
const DefaultStaleAfter = 5 * time.Minute

const refreshTimeout = 2 * time.Minute

// Platform is the slice of the External Platform Client the syncer consumes.
type Platform interface {
	GetRepository(ctx context.Context, owner, name string) (*models.Repository, error)
	GetIssue(ctx context.Context, owner, name string, repoID int64, number int) (*models.IssueSnapshot, error)
	GetPullRequest(ctx context.Context, owner, name string, repoID int64, number int) (*models.IssueSnapshot, error)
	ListIssuesSince(ctx context.Context, owner, name string, repoID int64, since time.Time) ([]*models.IssueSnapshot, error)
	ListComments(ctx context.Context, owner, name string, issueID int64, number int) ([]models.Comment, error)
	ListReviews(ctx context.Context, owner, name string, issueID int64, number int) ([]models.Review, error)
	ListReviewComments(ctx context.Context, owner, name string, issueID int64, number int) ([]models.ReviewComment, error)
}

// Linker resolves the authoritative "PR closes issues" references.
type Linker interface {
	ClosingIssueNumbers(ctx context.Context, owner, name string, prNumber int) ([]int, error)
}

// Syncer handles syncing issue history from the platform to the local store.
type Syncer struct {
	db         *db.DB
	platform   Platform
	linker     Linker
	reconciler *reconcile.Reconciler
	staleAfter time.Duration
	// Collapses concurrent full-history fetches for the same issue within
	// this process; the sync_status column is the cross-process half of the
	// gate.
	group   singleflight.Group
	workers int
}

// New creates a new syncer. linker may be nil when no GraphQL credential is
// available; linked references are then skipped.
func New(database *db.DB, platform Platform, linker Linker, reconciler *reconcile.Reconciler) *Syncer {
	return &Syncer{
		db:         database,
		platform:   platform,
		linker:     linker,
		reconciler: reconciler,
		staleAfter: DefaultStaleAfter,
		workers:    5,
	}
}

// SetStaleAfter overrides the staleness threshold.
func (s *Syncer) SetStaleAfter(d time.Duration) {
	s.staleAfter = d
}

// SetWorkers sets the number of parallel workers for full repository syncs.
func (s *Syncer) SetWorkers(workers int) {
	if workers < 1 {
		workers = 1
	}
	if workers > 10 {
		workers = 10 // avoid hammering the API
	}
	s.workers = workers
}

// FullSync fetches the complete history of one issue and reconciles it. The
// advisory gate means a concurrent full sync for the same issue elsewhere
// turns this call into a no-op; a rare double fetch converges to the same
// upserts either way.
func (s *Syncer) FullSync(ctx context.Context, repo *models.Repository, issue *models.Issue) error {
	key := fmt.Sprintf("%d/%d", repo.ID, issue.Number)
	_, err, _ := s.group.Do(key, func() (interface{}, error) {
		return nil, s.fullSync(ctx, repo, issue)
	})
	return err
}

func (s *Syncer) fullSync(ctx context.Context, repo *models.Repository, issue *models.Issue) error {
	prior := issue.SyncStatus
	if prior == "" || prior == models.SyncStatusSyncing {
		prior = models.SyncStatusUnsynced
	}

	ok, err := s.db.TryBeginSync(ctx, issue.ID)
	if err != nil {
		return err
	}
	if !ok {
		// Another worker is already fetching; its result subsumes ours.
		return nil
	}

	if err := s.fetchHistory(ctx, repo, issue); err != nil {
		// A failed fetch must not poison reads: restore the prior state so a
		// previously synced snapshot keeps serving, and an unsynced issue is
		// retried on the next triggering event.
		if rerr := s.db.RestoreSyncStatus(ctx, issue.ID, prior); rerr != nil {
			log.Printf("sync: restore status for issue #%d: %v", issue.Number, rerr)
		}
		return fmt.Errorf("failed to sync history for issue #%d: %w", issue.Number, err)
	}

	return s.db.MarkSynced(ctx, issue.ID, time.Now().UTC())
}

func (s *Syncer) fetchHistory(ctx context.Context, repo *models.Repository, issue *models.Issue) error {
	comments, err := s.platform.ListComments(ctx, repo.Owner, repo.Name, issue.ID, issue.Number)
	if err != nil {
		return err
	}
	for i := range comments {
		if err := s.saveComment(ctx, &comments[i]); err != nil {
			return err
		}
	}

	if !issue.IsPullRequest {
		return nil
	}

	reviews, err := s.platform.ListReviews(ctx, repo.Owner, repo.Name, issue.ID, issue.Number)
	if err != nil {
		return err
	}
	for i := range reviews {
		if err := s.saveReview(ctx, &reviews[i]); err != nil {
			return err
		}
	}

	reviewComments, err := s.platform.ListReviewComments(ctx, repo.Owner, repo.Name, issue.ID, issue.Number)
	if err != nil {
		return err
	}
	for i := range reviewComments {
		if err := s.saveReviewComment(ctx, &reviewComments[i]); err != nil {
			return err
		}
	}
	// Reviews and their comments paginate independently; patch up parent
	// references that arrived out of order.
	if err := s.db.ResolveReviewComments(ctx, issue.ID); err != nil {
		return err
	}

	if err := s.RebuildLinks(ctx, repo, issue); err != nil {
		// Links are enrichment, not history; don't fail the whole sync.
		log.Printf("sync: rebuild links for PR #%d: %v", issue.Number, err)
	}

	return nil
}

// SaveComment upserts a single comment (the steady-state webhook path) and
// grants the commenter their involvement subscription.
func (s *Syncer) SaveComment(ctx context.Context, comment *models.Comment) error {
	return s.saveComment(ctx, comment)
}

func (s *Syncer) saveComment(ctx context.Context, comment *models.Comment) error {
	if comment.Author != nil {
		if err := s.db.EnsureUser(ctx, comment.Author); err != nil {
			return err
		}
	}
	if err := s.db.SaveComment(ctx, comment); err != nil {
		return err
	}
	if comment.AuthorID != nil {
		if err := s.db.GrantIssueSubscription(ctx, *comment.AuthorID, comment.IssueID); err != nil {
			log.Printf("sync: subscribe commenter %d to issue %d: %v", *comment.AuthorID, comment.IssueID, err)
		}
	}
	return nil
}

// SaveReview upserts a single review and grants the reviewer their
// involvement subscription.
func (s *Syncer) SaveReview(ctx context.Context, review *models.Review) error {
	return s.saveReview(ctx, review)
}

func (s *Syncer) saveReview(ctx context.Context, review *models.Review) error {
	if review.Author != nil {
		if err := s.db.EnsureUser(ctx, review.Author); err != nil {
			return err
		}
	}
	if err := s.db.SaveReview(ctx, review); err != nil {
		return err
	}
	if review.AuthorID != nil {
		if err := s.db.GrantIssueSubscription(ctx, *review.AuthorID, review.IssueID); err != nil {
			log.Printf("sync: subscribe reviewer %d to issue %d: %v", *review.AuthorID, review.IssueID, err)
		}
	}
	return nil
}

// SaveReviewComment upserts a single inline review comment.
func (s *Syncer) SaveReviewComment(ctx context.Context, rc *models.ReviewComment) error {
	return s.saveReviewComment(ctx, rc)
}

func (s *Syncer) saveReviewComment(ctx context.Context, rc *models.ReviewComment) error {
	if rc.Author != nil {
		if err := s.db.EnsureUser(ctx, rc.Author); err != nil {
			return err
		}
	}
	return s.db.SaveReviewComment(ctx, rc)
}

// RebuildLinks replaces the linked-issue set for a pull request from the
// authoritative closing-references query. Issues the PR closes in other
// repositories (or ones not yet mirrored) are skipped.
func (s *Syncer) RebuildLinks(ctx context.Context, repo *models.Repository, pr *models.Issue) error {
	if s.linker == nil || !pr.IsPullRequest {
		return nil
	}

	numbers, err := s.linker.ClosingIssueNumbers(ctx, repo.Owner, repo.Name, pr.Number)
	if err != nil {
		return err
	}

	var issueIDs []int64
	for _, number := range numbers {
		linked, err := s.db.GetIssue(ctx, repo.ID, number)
		if err != nil {
			if err == db.ErrNotFound {
				continue
			}
			return err
		}
		issueIDs = append(issueIDs, linked.ID)
	}

	return s.db.ReplaceLinkedIssues(ctx, pr.ID, issueIDs)
}

// EnsureFresh is the stale-read path. An issue never synced is fetched
// synchronously (the caller falls back to the cached snapshot if this
// fails); a synced-but-stale issue is refreshed in the background without
// blocking the read.
func (s *Syncer) EnsureFresh(ctx context.Context, repo *models.Repository, issue *models.Issue) error {
	if !issue.Synced() {
		return s.FullSync(ctx, repo, issue)
	}

	if issue.SyncedAt != nil && time.Since(*issue.SyncedAt) > s.staleAfter {
		// Fire and forget: detached from the request context so the response
		// never waits on it, failures logged and swallowed.
		issueCopy := *issue
		repoCopy := *repo
		go func() {
			refreshCtx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
			defer cancel()
			if err := s.refresh(refreshCtx, &repoCopy, &issueCopy); err != nil {
				log.Printf("sync: background refresh of issue #%d: %v", issueCopy.Number, err)
			}
		}()
	}

	return nil
}

// refresh re-fetches the issue's scalar snapshot and full history.
func (s *Syncer) refresh(ctx context.Context, repo *models.Repository, issue *models.Issue) error {
	snap, err := s.fetchSnapshot(ctx, repo, issue.IsPullRequest, issue.Number)
	if err != nil {
		return err
	}
	fresh, err := s.reconciler.ReconcileIssue(ctx, snap)
	if err != nil {
		return err
	}
	return s.FullSync(ctx, repo, fresh)
}

func (s *Syncer) fetchSnapshot(ctx context.Context, repo *models.Repository, isPR bool, number int) (*models.IssueSnapshot, error) {
	if isPR {
		return s.platform.GetPullRequest(ctx, repo.Owner, repo.Name, repo.ID, number)
	}
	return s.platform.GetIssue(ctx, repo.Owner, repo.Name, repo.ID, number)
}

// SyncRepository onboards (or refreshes) a whole repository: it mirrors the
// repository record, reconciles every issue updated since the last sync and
// backfills history for each, then advances the sync watermark.
func (s *Syncer) SyncRepository(ctx context.Context, owner, name string) error {
	fullName := fmt.Sprintf("%s/%s", owner, name)

	repo, err := s.platform.GetRepository(ctx, owner, name)
	if err != nil {
		return fmt.Errorf("failed to get repository %s: %w", fullName, err)
	}
	if err := s.db.SaveRepository(ctx, repo); err != nil {
		return fmt.Errorf("failed to save repository %s: %w", fullName, err)
	}

	var since time.Time
	if stored, err := s.db.GetRepository(ctx, repo.ID); err == nil && stored.LastSyncedAt != nil {
		since = *stored.LastSyncedAt
	}

	log.Printf("Syncing repository %s (last sync: %v)", fullName, since)

	snaps, err := s.platform.ListIssuesSince(ctx, owner, name, repo.ID, since)
	if err != nil {
		return fmt.Errorf("failed to list issues for %s: %w", fullName, err)
	}
	log.Printf("Found %d issues updated since last sync", len(snaps))

	start := time.Now().UTC()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, snap := range snaps {
		snap := snap
		g.Go(func() error {
			if err := s.syncOne(gctx, repo, snap); err != nil {
				// One bad issue must not sink the repository sync.
				log.Printf("sync: issue #%d: %v", snap.Issue.Number, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	if err := s.db.UpdateLastSyncedAt(ctx, repo.ID, start); err != nil {
		return fmt.Errorf("failed to update sync watermark for %s: %w", fullName, err)
	}

	log.Printf("Successfully synced repository %s (%d issues processed)", fullName, len(snaps))
	return nil
}

// ParseRepositoryString parses a repository string in the format "owner/name".
func ParseRepositoryString(repoStr string) (string, string, error) {
	parts := strings.Split(repoStr, "/")
	if len(parts) != 2 {
		return "", "", fmt.Errorf("invalid repository format, expected 'owner/name', got '%s'", repoStr)
	}
	return parts[0], parts[1], nil
}

func (s *Syncer) syncOne(ctx context.Context, repo *models.Repository, snap *models.IssueSnapshot) error {
	// The issues list API omits PR-only fields and requested reviewers;
	// refetch PRs through the pulls API for the complete snapshot.
	if snap.Issue.IsPullRequest {
		full, err := s.platform.GetPullRequest(ctx, repo.Owner, repo.Name, repo.ID, snap.Issue.Number)
		if err != nil {
			return err
		}
		snap = full
	}

	issue, err := s.reconciler.ReconcileIssue(ctx, snap)
	if err != nil {
		return err
	}
	return s.FullSync(ctx, repo, issue)
}
