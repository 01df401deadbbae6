// Package ci merges the two independent CI reporting APIs (check runs and
// legacy commit statuses) into one ranked view per commit. Integrations use
// either API inconsistently, so both streams are consulted and only the
// newest entry per named check (or status context) survives.
package ci

import (
	"context"
	"fmt"
	"log"

	"golang.org/x/sync/errgroup"

	"github.com/hubwatch/hubwatch/internal/db"
	"github.com/hubwatch/hubwatch/internal/models"
)

// Pair identifies one (repository, head commit) to aggregate.
type Pair struct {
	RepoID int64
	SHA    string
}

// StatusEntry is one unified status line: the latest run of one named check
// or one status context on a commit, in the checks vocabulary.
type StatusEntry struct {
	Name        string `json:"name"`
	Status      string `json:"status"`
	Conclusion  string `json:"conclusion,omitempty"`
	DetailsURL  string `json:"detailsUrl,omitempty"`
	Description string `json:"description,omitempty"`
}

// Source is the slice of the External Platform Client used to refresh the
// mirrored streams before aggregation.
type Source interface {
	ListChecksForCommit(ctx context.Context, owner, name string, repoID int64, sha string) ([]models.CheckRun, error)
	ListCommitStatusesForCommit(ctx context.Context, owner, name string, repoID int64, sha string) ([]models.CommitStatus, error)
}

// Aggregator computes unified CI status for batches of commits.
type Aggregator struct {
	db      *db.DB
	source  Source
	workers int
}

// New creates a new aggregator. source may be nil; aggregation then serves
// whatever the webhook stream has already mirrored.
func New(database *db.DB, source Source) *Aggregator {
	return &Aggregator{db: database, source: source, workers: 5}
}

// Refresh pulls both reporting streams for every pair from the platform and
// mirrors them. A failed fetch is logged and skipped for that commit only;
// previously persisted rows remain authoritative.
func (a *Aggregator) Refresh(ctx context.Context, pairs []Pair) error {
	if a.source == nil || len(pairs) == 0 {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for _, pair := range pairs {
		pair := pair
		g.Go(func() error {
			if err := a.refreshPair(gctx, pair); err != nil {
				log.Printf("ci: refresh %s: %v", pair.SHA, err)
			}
			return nil
		})
	}
	return g.Wait()
}

func (a *Aggregator) refreshPair(ctx context.Context, pair Pair) error {
	repo, err := a.db.GetRepository(ctx, pair.RepoID)
	if err != nil {
		return fmt.Errorf("failed to resolve repository %d: %w", pair.RepoID, err)
	}

	runs, err := a.source.ListChecksForCommit(ctx, repo.Owner, repo.Name, repo.ID, pair.SHA)
	if err != nil {
		return err
	}
	for i := range runs {
		if err := a.db.SaveCheckRun(ctx, &runs[i]); err != nil {
			return err
		}
	}

	statuses, err := a.source.ListCommitStatusesForCommit(ctx, repo.Owner, repo.Name, repo.ID, pair.SHA)
	if err != nil {
		return err
	}
	for i := range statuses {
		if err := a.db.SaveCommitStatus(ctx, &statuses[i]); err != nil {
			return err
		}
	}

	return nil
}

// Aggregate returns the unified, deduplicated status list per pair from the
// mirrored streams. Each stream arrives newest-first; a single walk with a
// seen-set per (commit, discriminator) keeps only the latest run of each
// named check. Dedup is discriminator-scoped, not global, because one
// commit legitimately has many checks in flight at once.
func (a *Aggregator) Aggregate(ctx context.Context, pairs []Pair) (map[Pair][]StatusEntry, error) {
	result := make(map[Pair][]StatusEntry, len(pairs))
	if len(pairs) == 0 {
		return result, nil
	}

	// Batch the store lookups per repository.
	shasByRepo := make(map[int64][]string)
	for _, pair := range pairs {
		shasByRepo[pair.RepoID] = append(shasByRepo[pair.RepoID], pair.SHA)
		result[pair] = nil
	}

	type key struct {
		pair Pair
		name string
	}
	seen := make(map[key]bool)

	for repoID, shas := range shasByRepo {
		runs, err := a.db.ListCheckRunsForCommits(ctx, repoID, shas)
		if err != nil {
			return nil, err
		}
		for _, run := range runs {
			k := key{Pair{repoID, run.CommitSHA}, "check:" + run.Name}
			if seen[k] {
				continue
			}
			seen[k] = true
			result[k.pair] = append(result[k.pair], StatusEntry{
				Name:       run.Name,
				Status:     run.Status,
				Conclusion: run.Conclusion,
				DetailsURL: run.DetailsURL,
			})
		}

		statuses, err := a.db.ListCommitStatusesForCommits(ctx, repoID, shas)
		if err != nil {
			return nil, err
		}
		for _, st := range statuses {
			k := key{Pair{repoID, st.CommitSHA}, "status:" + st.Context}
			if seen[k] {
				continue
			}
			seen[k] = true
			status, conclusion := normalizeStatusState(st.State)
			result[k.pair] = append(result[k.pair], StatusEntry{
				Name:        st.Context,
				Status:      status,
				Conclusion:  conclusion,
				DetailsURL:  st.TargetURL,
				Description: st.Description,
			})
		}
	}

	return result, nil
}

// ForCommit is the single-pair convenience used by the read surface.
func (a *Aggregator) ForCommit(ctx context.Context, repoID int64, sha string) ([]StatusEntry, error) {
	pairs := []Pair{{RepoID: repoID, SHA: sha}}
	if err := a.Refresh(ctx, pairs); err != nil {
		return nil, err
	}
	agg, err := a.Aggregate(ctx, pairs)
	if err != nil {
		return nil, err
	}
	return agg[pairs[0]], nil
}

// Passing reports whether a commit's unified status counts as green: no
// entries at all, or every entry concluded success or skipped.
func Passing(entries []StatusEntry) bool {
	for _, e := range entries {
		if e.Conclusion != models.ConclusionSuccess && e.Conclusion != models.ConclusionSkipped {
			return false
		}
	}
	return true
}

// normalizeStatusState maps the commit-status vocabulary onto the checks
// vocabulary: pending → in-progress with no conclusion, success → completed/
// success, error and failure → completed/failure.
func normalizeStatusState(state string) (status, conclusion string) {
	switch state {
	case "pending":
		return models.CheckStatusInProgress, ""
	case "success":
		return models.CheckStatusCompleted, models.ConclusionSuccess
	case "error", "failure":
		return models.CheckStatusCompleted, models.ConclusionFailure
	default:
		return models.CheckStatusCompleted, state
	}
}
