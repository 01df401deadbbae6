package models

import (
	"time"
)

// Sync lifecycle of an issue's full history fetch. Stored on the issue row so
// the gate survives process restarts.
const (
	SyncStatusUnsynced = "unsynced"
	SyncStatusSyncing  = "syncing"
	SyncStatusSynced   = "synced"
)

// Check run / normalized status lifecycle.
const (
	CheckStatusQueued     = "queued"
	CheckStatusInProgress = "in_progress"
	CheckStatusCompleted  = "completed"
)

// Check conclusions. Commit statuses are normalized into this vocabulary
// before aggregation.
const (
	ConclusionSuccess        = "success"
	ConclusionFailure        = "failure"
	ConclusionNeutral        = "neutral"
	ConclusionCancelled      = "cancelled"
	ConclusionSkipped        = "skipped"
	ConclusionTimedOut       = "timed_out"
	ConclusionActionRequired = "action_required"
)

// Review states as reported by the platform.
const (
	ReviewApproved         = "approved"
	ReviewChangesRequested = "changes_requested"
	ReviewCommented        = "commented"
	ReviewDismissed        = "dismissed"
	ReviewPending          = "pending"
)

// Repository represents a mirrored GitHub repository.
type Repository struct {
	ID           int64      `db:"id" json:"id"`
	Owner        string     `db:"owner" json:"owner"`
	Name         string     `db:"name" json:"name"`
	FullName     string     `db:"full_name" json:"fullName"`
	Private      bool       `db:"private" json:"private"`
	SyncEnabled  bool       `db:"sync_enabled" json:"syncEnabled"`
	LastSyncedAt *time.Time `db:"last_synced_at" json:"lastSyncedAt,omitempty"`
}

// User represents a GitHub user. Shadow users are placeholder rows created
// when a relation references a user we have not mirrored yet; they are
// overwritten opportunistically when real data arrives.
type User struct {
	ID        int64  `db:"id" json:"id"`
	Login     string `db:"login" json:"login"`
	AvatarURL string `db:"avatar_url" json:"avatarUrl"`
	Shadow    bool   `db:"shadow" json:"-"`
}

// Issue represents a GitHub issue or pull request. The upsert identity is
// (RepositoryID, Number), not the external ID alone: issue and PR numbering
// can collide across the two API views of the same entity.
type Issue struct {
	ID            int64      `db:"id" json:"id"`
	RepositoryID  int64      `db:"repository_id" json:"repositoryId"`
	Number        int        `db:"number" json:"number"`
	Title         string     `db:"title" json:"title"`
	Body          string     `db:"body" json:"body"`
	State         string     `db:"state" json:"state"`
	Locked        bool       `db:"locked" json:"locked"`
	IsPullRequest bool       `db:"is_pull_request" json:"isPullRequest"`
	AuthorID      *int64     `db:"author_id" json:"authorId,omitempty"`
	MilestoneID   *int64     `db:"milestone_id" json:"milestoneId,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updatedAt"`
	ClosedAt      *time.Time `db:"closed_at" json:"closedAt,omitempty"`

	// Pull-request-only fields; zero-valued for plain issues.
	Draft        bool   `db:"draft" json:"draft,omitempty"`
	Merged       bool   `db:"merged" json:"merged,omitempty"`
	HeadRef      string `db:"head_ref" json:"headRef,omitempty"`
	HeadSHA      string `db:"head_sha" json:"headSha,omitempty"`
	BaseRef      string `db:"base_ref" json:"baseRef,omitempty"`
	BaseSHA      string `db:"base_sha" json:"baseSha,omitempty"`
	Additions    int    `db:"additions" json:"additions,omitempty"`
	Deletions    int    `db:"deletions" json:"deletions,omitempty"`
	ChangedFiles int    `db:"changed_files" json:"changedFiles,omitempty"`

	// History-sync state machine (unsynced → syncing → synced).
	SyncStatus string     `db:"sync_status" json:"-"`
	SyncedAt   *time.Time `db:"synced_at" json:"-"`
}

// Synced reports whether full history has been fetched for the issue.
func (i *Issue) Synced() bool {
	return i.SyncStatus == SyncStatusSynced
}

// IssueSnapshot is the remote system's latest known state of an issue and
// its many-valued relations, as handed to the reconciler. The relation
// slices are desired sets: after reconciliation the junction rows equal them
// exactly.
type IssueSnapshot struct {
	Issue     Issue
	Author    *User
	Assignees []User
	Labels    []Label
	Reviewers []User
}

// Comment represents an issue comment.
type Comment struct {
	ID        int64     `db:"id" json:"id"`
	IssueID   int64     `db:"issue_id" json:"issueId"`
	AuthorID  *int64    `db:"author_id" json:"authorId,omitempty"`
	Body      string    `db:"body" json:"body"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`

	// Author is carried alongside when converting from the platform; it is
	// persisted to the users table, not this row.
	Author *User `db:"-" json:"author,omitempty"`
}

// Review represents a pull request review.
type Review struct {
	ID          int64      `db:"id" json:"id"`
	IssueID     int64      `db:"issue_id" json:"issueId"`
	AuthorID    *int64     `db:"author_id" json:"authorId,omitempty"`
	Body        string     `db:"body" json:"body"`
	State       string     `db:"state" json:"state"`
	CommitSHA   string     `db:"commit_sha" json:"commitSha"`
	SubmittedAt *time.Time `db:"submitted_at" json:"submittedAt,omitempty"`

	Author *User `db:"-" json:"author,omitempty"`
}

// ReviewComment represents an inline pull request review comment.
// ReviewExternalID references the parent review by its platform ID; ReviewID
// is the locally resolved reference, filled lazily because the parent review
// may not have been mirrored yet when comments paginate in out of order.
type ReviewComment struct {
	ID               int64     `db:"id" json:"id"`
	IssueID          int64     `db:"issue_id" json:"issueId"`
	ReviewExternalID *int64    `db:"review_external_id" json:"-"`
	ReviewID         *int64    `db:"review_id" json:"reviewId,omitempty"`
	AuthorID         *int64    `db:"author_id" json:"authorId,omitempty"`
	Body             string    `db:"body" json:"body"`
	Path             string    `db:"path" json:"path"`
	CreatedAt        time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time `db:"updated_at" json:"updatedAt"`

	Author *User `db:"-" json:"author,omitempty"`
}

// Label represents a repository label.
type Label struct {
	ID          int64  `db:"id" json:"id"`
	Name        string `db:"name" json:"name"`
	Color       string `db:"color" json:"color"`
	Description string `db:"description" json:"description"`
}

// Milestone represents a repository milestone.
type Milestone struct {
	ID           int64      `db:"id" json:"id"`
	RepositoryID int64      `db:"repository_id" json:"repositoryId"`
	Number       int        `db:"number" json:"number"`
	Title        string     `db:"title" json:"title"`
	State        string     `db:"state" json:"state"`
	DueOn        *time.Time `db:"due_on" json:"dueOn,omitempty"`
}

// CheckRun is one run of a named check against a commit, reported by the
// checks API. Rows for the same (repository, sha, name) are superseded by
// newer ones at aggregation time, never deleted.
type CheckRun struct {
	ID           int64      `db:"id" json:"id"`
	RepositoryID int64      `db:"repository_id" json:"repositoryId"`
	CommitSHA    string     `db:"commit_sha" json:"commitSha"`
	Name         string     `db:"name" json:"name"`
	Status       string     `db:"status" json:"status"`
	Conclusion   string     `db:"conclusion" json:"conclusion"`
	DetailsURL   string     `db:"details_url" json:"detailsUrl"`
	StartedAt    time.Time  `db:"started_at" json:"startedAt"`
	CompletedAt  *time.Time `db:"completed_at" json:"completedAt,omitempty"`
}

// CommitStatus is one report from the legacy commit-status API, keyed by
// context string. State vocabulary is {pending, success, error, failure},
// normalized into the check vocabulary during aggregation.
type CommitStatus struct {
	ID           int64     `db:"id" json:"id"`
	RepositoryID int64     `db:"repository_id" json:"repositoryId"`
	CommitSHA    string    `db:"commit_sha" json:"commitSha"`
	Context      string    `db:"context" json:"context"`
	State        string    `db:"state" json:"state"`
	Description  string    `db:"description" json:"description"`
	TargetURL    string    `db:"target_url" json:"targetUrl"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// Subscription holds a user's repository-level notification preferences.
type Subscription struct {
	UserID       int64 `db:"user_id" json:"userId"`
	RepositoryID int64 `db:"repository_id" json:"repositoryId"`
	Issues       bool  `db:"issues" json:"issues"`
	PullRequests bool  `db:"pull_requests" json:"pullRequests"`
	Releases     bool  `db:"releases" json:"releases"`
	CIFailures   bool  `db:"ci_failures" json:"ciFailures"`
	Mentions     bool  `db:"mentions" json:"mentions"`
	AllActivity  bool  `db:"all_activity" json:"allActivity"`
}

// IssueSubscription is a per-issue opt-in, auto-granted to authors,
// assignees, requested reviewers and commenters. It gates the all-activity
// firehose down to issues the user has actually touched.
type IssueSubscription struct {
	UserID    int64     `db:"user_id" json:"userId"`
	IssueID   int64     `db:"issue_id" json:"issueId"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// Notification kinds.
const (
	NotificationIssue       = "issue"
	NotificationPullRequest = "pull_request"
	NotificationRelease     = "release"
	NotificationCI          = "ci"
)

// Notification is one per-user, per-subject notification row.
// (UserID, IssueID) is a soft-unique key: a new event for an already-notified
// pair refreshes the existing row instead of appending another.
type Notification struct {
	ID           int64     `db:"id" json:"id"`
	UserID       int64     `db:"user_id" json:"userId"`
	RepositoryID int64     `db:"repository_id" json:"repositoryId"`
	IssueID      *int64    `db:"issue_id" json:"issueId,omitempty"`
	Kind         string    `db:"kind" json:"kind"`
	Action       string    `db:"action" json:"action"`
	ActorID      *int64    `db:"actor_id" json:"actorId,omitempty"`
	Title        string    `db:"title" json:"title"`
	Body         string    `db:"body" json:"body"`
	Read         bool      `db:"read" json:"read"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}
