package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/quickshow-booking/internal/model"
)

// UserRepo persists users mirrored from the auth provider.
type UserRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewUserRepo returns a UserRepo bound to db.
func NewUserRepo(db *sql.DB) *UserRepo {
	return &UserRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Upsert inserts the user or overwrites the existing row with the same id.
// Repeated deliveries of the same create/update event leave the row in the
// same state.
func (r *UserRepo) Upsert(ctx context.Context, u model.User) error {
	now := r.now()
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, email, name, image_url, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)
		 ON DUPLICATE KEY UPDATE email = VALUES(email), name = VALUES(name), image_url = VALUES(image_url), updated_at = VALUES(updated_at)`,
		u.ID, strings.ToLower(strings.TrimSpace(u.Email)), u.Name, u.ImageURL, now, now)
	return err
}

// Delete removes the user with the given id.  It reports whether a row was
// removed; deleting an absent user is not an error.
func (r *UserRepo) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetByIDs returns the users whose ids are in ids.  Unknown ids are
// silently skipped.  An empty input returns an empty slice without a query.
func (r *UserRepo) GetByIDs(ctx context.Context, ids []string) ([]model.User, error) {
	users := make([]model.User, 0, len(ids))
	if len(ids) == 0 {
		return users, nil
	}
	args := make([]interface{}, 0, len(ids))
	placeholders := make([]string, 0, len(ids))
	for _, id := range ids {
		args = append(args, id)
		placeholders = append(placeholders, "?")
	}
	q := `SELECT id, email, name, image_url, created_at, updated_at FROM users
	      WHERE id IN (` + strings.Join(placeholders, ",") + `) ORDER BY id`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.ImageURL, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// ListAfter returns up to limit users whose id sorts after afterID.  Pass
// an empty afterID to start from the beginning.  Paging by id keeps the
// broadcast stable while users are being added.
func (r *UserRepo) ListAfter(ctx context.Context, afterID string, limit int) ([]model.User, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, email, name, image_url, created_at, updated_at FROM users WHERE id > ? ORDER BY id LIMIT ?`,
		afterID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := make([]model.User, 0, limit)
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.ImageURL, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}
