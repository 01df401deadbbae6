package db

const schema = `
CREATE TABLE IF NOT EXISTS repositories (
	id INTEGER PRIMARY KEY,
	owner TEXT NOT NULL,
	name TEXT NOT NULL,
	full_name TEXT NOT NULL UNIQUE,
	private BOOLEAN NOT NULL DEFAULT 0,
	sync_enabled BOOLEAN NOT NULL DEFAULT 1,
	last_synced_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY,
	login TEXT NOT NULL UNIQUE,
	avatar_url TEXT NOT NULL DEFAULT '',
	shadow BOOLEAN NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS milestones (
	id INTEGER PRIMARY KEY,
	repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	number INTEGER NOT NULL,
	title TEXT NOT NULL,
	state TEXT NOT NULL,
	due_on TIMESTAMP,
	UNIQUE(repository_id, number)
);

CREATE TABLE IF NOT EXISTS issues (
	id INTEGER PRIMARY KEY,
	repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	number INTEGER NOT NULL,
	title TEXT NOT NULL,
	body TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	locked BOOLEAN NOT NULL DEFAULT 0,
	is_pull_request BOOLEAN NOT NULL DEFAULT 0,
	author_id INTEGER REFERENCES users(id),
	milestone_id INTEGER,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	closed_at TIMESTAMP,
	draft BOOLEAN NOT NULL DEFAULT 0,
	merged BOOLEAN NOT NULL DEFAULT 0,
	head_ref TEXT NOT NULL DEFAULT '',
	head_sha TEXT NOT NULL DEFAULT '',
	base_ref TEXT NOT NULL DEFAULT '',
	base_sha TEXT NOT NULL DEFAULT '',
	additions INTEGER NOT NULL DEFAULT 0,
	deletions INTEGER NOT NULL DEFAULT 0,
	changed_files INTEGER NOT NULL DEFAULT 0,
	sync_status TEXT NOT NULL DEFAULT 'unsynced',
	synced_at TIMESTAMP,
	UNIQUE(repository_id, number)
);

CREATE TABLE IF NOT EXISTS labels (
	id INTEGER PRIMARY KEY,
	name TEXT NOT NULL,
	color TEXT NOT NULL DEFAULT '',
	description TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS issue_labels (
	issue_id INTEGER NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	label_id INTEGER NOT NULL REFERENCES labels(id) ON DELETE CASCADE,
	PRIMARY KEY (issue_id, label_id)
);

CREATE TABLE IF NOT EXISTS issue_assignees (
	issue_id INTEGER NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users(id),
	PRIMARY KEY (issue_id, user_id)
);

CREATE TABLE IF NOT EXISTS review_requests (
	issue_id INTEGER NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users(id),
	PRIMARY KEY (issue_id, user_id)
);

CREATE TABLE IF NOT EXISTS comments (
	id INTEGER PRIMARY KEY,
	issue_id INTEGER NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	author_id INTEGER REFERENCES users(id),
	body TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS reviews (
	id INTEGER PRIMARY KEY,
	issue_id INTEGER NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	author_id INTEGER REFERENCES users(id),
	body TEXT NOT NULL DEFAULT '',
	state TEXT NOT NULL,
	commit_sha TEXT NOT NULL DEFAULT '',
	submitted_at TIMESTAMP
);

CREATE TABLE IF NOT EXISTS review_comments (
	id INTEGER PRIMARY KEY,
	issue_id INTEGER NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	review_external_id INTEGER,
	review_id INTEGER REFERENCES reviews(id),
	author_id INTEGER REFERENCES users(id),
	body TEXT NOT NULL DEFAULT '',
	path TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS check_runs (
	id INTEGER PRIMARY KEY,
	repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	commit_sha TEXT NOT NULL,
	name TEXT NOT NULL,
	status TEXT NOT NULL,
	conclusion TEXT NOT NULL DEFAULT '',
	details_url TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMP NOT NULL,
	completed_at TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_check_runs_commit ON check_runs(repository_id, commit_sha);

CREATE TABLE IF NOT EXISTS commit_statuses (
	id INTEGER PRIMARY KEY,
	repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	commit_sha TEXT NOT NULL,
	context TEXT NOT NULL,
	state TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	target_url TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commit_statuses_commit ON commit_statuses(repository_id, commit_sha);

CREATE TABLE IF NOT EXISTS linked_prs (
	issue_id INTEGER NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	pr_id INTEGER NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	PRIMARY KEY (issue_id, pr_id)
);

CREATE TABLE IF NOT EXISTS collaborators (
	repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users(id),
	PRIMARY KEY (repository_id, user_id)
);

CREATE TABLE IF NOT EXISTS subscriptions (
	user_id INTEGER NOT NULL REFERENCES users(id),
	repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	issues BOOLEAN NOT NULL DEFAULT 0,
	pull_requests BOOLEAN NOT NULL DEFAULT 0,
	releases BOOLEAN NOT NULL DEFAULT 0,
	ci_failures BOOLEAN NOT NULL DEFAULT 0,
	mentions BOOLEAN NOT NULL DEFAULT 0,
	all_activity BOOLEAN NOT NULL DEFAULT 0,
	PRIMARY KEY (user_id, repository_id)
);

CREATE TABLE IF NOT EXISTS issue_subscriptions (
	user_id INTEGER NOT NULL REFERENCES users(id),
	issue_id INTEGER NOT NULL REFERENCES issues(id) ON DELETE CASCADE,
	created_at TIMESTAMP NOT NULL,
	PRIMARY KEY (user_id, issue_id)
);

CREATE TABLE IF NOT EXISTS notifications (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id),
	repository_id INTEGER NOT NULL REFERENCES repositories(id) ON DELETE CASCADE,
	issue_id INTEGER REFERENCES issues(id) ON DELETE CASCADE,
	kind TEXT NOT NULL,
	action TEXT NOT NULL,
	actor_id INTEGER,
	title TEXT NOT NULL DEFAULT '',
	body TEXT NOT NULL DEFAULT '',
	read BOOLEAN NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_notifications_user ON notifications(user_id, read);
`
