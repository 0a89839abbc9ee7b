package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"
)

// ReminderRepo records which (show, user) pairs already received a show
// reminder so that overlapping or repeated sweeps do not send twice.
type ReminderRepo struct {
	db *sql.DB
}

// NewReminderRepo returns a ReminderRepo bound to db.
func NewReminderRepo(db *sql.DB) *ReminderRepo { return &ReminderRepo{db: db} }

// SentTo returns the subset of userIDs that already have a delivery
// marker for showID.
func (r *ReminderRepo) SentTo(ctx context.Context, showID string, userIDs []string) (map[string]bool, error) {
	sent := make(map[string]bool)
	if len(userIDs) == 0 {
		return sent, nil
	}
	args := make([]interface{}, 0, len(userIDs)+1)
	args = append(args, showID)
	placeholders := make([]string, 0, len(userIDs))
	for _, id := range userIDs {
		args = append(args, id)
		placeholders = append(placeholders, "?")
	}
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id FROM reminder_deliveries WHERE show_id = ? AND user_id IN (`+strings.Join(placeholders, ",")+`)`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var uid string
		if err := rows.Scan(&uid); err != nil {
			return nil, err
		}
		sent[uid] = true
	}
	return sent, rows.Err()
}

// MarkSent stores a delivery marker.  Marking the same pair twice is a
// no-op.
func (r *ReminderRepo) MarkSent(ctx context.Context, showID, userID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT IGNORE INTO reminder_deliveries (show_id, user_id, sent_at) VALUES (?, ?, ?)`,
		showID, userID, at.UTC())
	return err
}
