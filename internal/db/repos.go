package db

import (
	"context"
	"fmt"
	"time"

	"github.com/hubwatch/hubwatch/internal/models"
)

// SaveRepository upserts a repository keyed by its full name.
func (db *DB) SaveRepository(ctx context.Context, repo *models.Repository) error {
	query := `
	INSERT INTO repositories (id, owner, name, full_name, private, sync_enabled)
	VALUES (:id, :owner, :name, :full_name, :private, :sync_enabled)
	ON CONFLICT(full_name) DO UPDATE SET
		owner = excluded.owner,
		name = excluded.name,
		private = excluded.private
	`

	if _, err := db.NamedExecContext(ctx, query, repo); err != nil {
		return fmt.Errorf("failed to save repository: %w", err)
	}
	return nil
}

// GetRepository gets a repository by its external ID.
func (db *DB) GetRepository(ctx context.Context, id int64) (*models.Repository, error) {
	var repo models.Repository
	err := db.GetContext(ctx, &repo, `SELECT * FROM repositories WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &repo, nil
}

// GetRepositoryByFullName gets a repository by its "owner/name" full name.
func (db *DB) GetRepositoryByFullName(ctx context.Context, fullName string) (*models.Repository, error) {
	var repo models.Repository
	err := db.GetContext(ctx, &repo, `SELECT * FROM repositories WHERE full_name = ?`, fullName)
	if err != nil {
		return nil, notFound(err)
	}
	return &repo, nil
}

// DeleteRepository removes a repository; dependent rows cascade.
func (db *DB) DeleteRepository(ctx context.Context, id int64) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM repositories WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete repository: %w", err)
	}
	return nil
}

// UpdateLastSyncedAt records the completion of a full repository sync.
func (db *DB) UpdateLastSyncedAt(ctx context.Context, repoID int64, at time.Time) error {
	_, err := db.ExecContext(ctx, `UPDATE repositories SET last_synced_at = ? WHERE id = ?`, at, repoID)
	if err != nil {
		return fmt.Errorf("failed to update last synced time: %w", err)
	}
	return nil
}

// SaveUser upserts a user. A real (non-shadow) save clears any shadow flag.
func (db *DB) SaveUser(ctx context.Context, user *models.User) error {
	query := `
	INSERT INTO users (id, login, avatar_url, shadow)
	VALUES (:id, :login, :avatar_url, :shadow)
	ON CONFLICT(id) DO UPDATE SET
		login = excluded.login,
		avatar_url = excluded.avatar_url,
		shadow = excluded.shadow
	`

	if _, err := db.NamedExecContext(ctx, query, user); err != nil {
		return fmt.Errorf("failed to save user %s: %w", user.Login, err)
	}
	return nil
}

// EnsureUser makes sure a user row exists before a relation references it.
// It inserts a shadow placeholder when the user is unknown and leaves an
// existing real row untouched.
func (db *DB) EnsureUser(ctx context.Context, user *models.User) error {
	query := `
	INSERT INTO users (id, login, avatar_url, shadow)
	VALUES (?, ?, ?, 1)
	ON CONFLICT(id) DO UPDATE SET
		login = excluded.login,
		avatar_url = CASE WHEN excluded.avatar_url != '' THEN excluded.avatar_url ELSE users.avatar_url END
	`

	if _, err := db.ExecContext(ctx, query, user.ID, user.Login, user.AvatarURL); err != nil {
		return fmt.Errorf("failed to ensure user %s: %w", user.Login, err)
	}
	return nil
}

// GetUser gets a user by external ID.
func (db *DB) GetUser(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := db.GetContext(ctx, &user, `SELECT * FROM users WHERE id = ?`, id)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// GetUserByLogin gets a user by login. Mention resolution depends on this
// returning ErrNotFound for logins that were never mirrored.
func (db *DB) GetUserByLogin(ctx context.Context, login string) (*models.User, error) {
	var user models.User
	err := db.GetContext(ctx, &user, `SELECT * FROM users WHERE login = ?`, login)
	if err != nil {
		return nil, notFound(err)
	}
	return &user, nil
}

// SaveLabel upserts a label by external ID.
func (db *DB) SaveLabel(ctx context.Context, label *models.Label) error {
	query := `
	INSERT INTO labels (id, name, color, description)
	VALUES (:id, :name, :color, :description)
	ON CONFLICT(id) DO UPDATE SET
		name = excluded.name,
		color = excluded.color,
		description = excluded.description
	`

	if _, err := db.NamedExecContext(ctx, query, label); err != nil {
		return fmt.Errorf("failed to save label %s: %w", label.Name, err)
	}
	return nil
}

// DeleteLabel removes a label and its junction rows.
func (db *DB) DeleteLabel(ctx context.Context, id int64) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM labels WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete label: %w", err)
	}
	return nil
}

// SaveMilestone upserts a milestone keyed by (repository, number).
func (db *DB) SaveMilestone(ctx context.Context, m *models.Milestone) error {
	query := `
	INSERT INTO milestones (id, repository_id, number, title, state, due_on)
	VALUES (:id, :repository_id, :number, :title, :state, :due_on)
	ON CONFLICT(repository_id, number) DO UPDATE SET
		title = excluded.title,
		state = excluded.state,
		due_on = excluded.due_on
	`

	if _, err := db.NamedExecContext(ctx, query, m); err != nil {
		return fmt.Errorf("failed to save milestone %s: %w", m.Title, err)
	}
	return nil
}

// DeleteMilestone removes a milestone.
func (db *DB) DeleteMilestone(ctx context.Context, id int64) error {
	if _, err := db.ExecContext(ctx, `DELETE FROM milestones WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete milestone: %w", err)
	}
	return nil
}

// AddCollaborator records repository membership, used for the
// maintainer-comment read-side computation.
func (db *DB) AddCollaborator(ctx context.Context, repoID, userID int64) error {
	query := `
	INSERT INTO collaborators (repository_id, user_id)
	VALUES (?, ?)
	ON CONFLICT(repository_id, user_id) DO NOTHING
	`

	if _, err := db.ExecContext(ctx, query, repoID, userID); err != nil {
		return fmt.Errorf("failed to add collaborator: %w", err)
	}
	return nil
}

// RemoveCollaborator drops repository membership.
func (db *DB) RemoveCollaborator(ctx context.Context, repoID, userID int64) error {
	_, err := db.ExecContext(ctx,
		`DELETE FROM collaborators WHERE repository_id = ? AND user_id = ?`, repoID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove collaborator: %w", err)
	}
	return nil
}
