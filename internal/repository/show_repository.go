// Package repository contains data access logic for the booking backend.
// This file defines the Show repository.  A show row embeds its occupied
// seat map as a JSON column guarded by a version counter; every write to
// the map goes through a version-checked UPDATE.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/quickshow-booking/internal/model"
)

// ShowRepo manages persistence for shows.
type ShowRepo struct {
	db *sql.DB
}

// NewShowRepo constructs a ShowRepo given a DB handle.
func NewShowRepo(db *sql.DB) *ShowRepo { return &ShowRepo{db: db} }

const showColumns = `id, movie_id, show_datetime, show_price_cents, occupied_seats, version, created_at, updated_at`

func scanShow(row rowScanner) (model.Show, error) {
	var s model.Show
	if err := row.Scan(&s.ID, &s.MovieID, &s.ShowDateTime, &s.PriceCents, &s.OccupiedSeats,
		&s.Version, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return model.Show{}, err
	}
	s.ShowDateTime = s.ShowDateTime.UTC()
	return s, nil
}

// GetByID fetches a show by id.  It returns ErrShowNotFound when no row
// exists.
func (r *ShowRepo) GetByID(ctx context.Context, id string) (model.Show, error) {
	s, err := scanShow(r.db.QueryRowContext(ctx, `SELECT `+showColumns+` FROM shows WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Show{}, ErrShowNotFound
	}
	return s, err
}

// ListStartingBetween returns the shows whose start time falls within
// [from, to] inclusive, joined with their movie.  Shows whose movie row
// is missing are returned with a nil Movie so callers decide whether to
// skip them.
func (r *ShowRepo) ListStartingBetween(ctx context.Context, from, to time.Time) ([]model.ShowWithMovie, error) {
	const q = `SELECT s.id, s.movie_id, s.show_datetime, s.show_price_cents, s.occupied_seats, s.version, s.created_at, s.updated_at,
	                  m.id, m.title, m.backdrop_path
	           FROM shows s
	           LEFT JOIN movies m ON m.id = s.movie_id
	           WHERE s.show_datetime >= ? AND s.show_datetime <= ?
	           ORDER BY s.show_datetime ASC`
	rows, err := r.db.QueryContext(ctx, q, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.ShowWithMovie, 0)
	for rows.Next() {
		var sw model.ShowWithMovie
		var movieID, title, backdrop sql.NullString
		if err := rows.Scan(&sw.ID, &sw.MovieID, &sw.ShowDateTime, &sw.PriceCents, &sw.OccupiedSeats,
			&sw.Version, &sw.CreatedAt, &sw.UpdatedAt, &movieID, &title, &backdrop); err != nil {
			return nil, err
		}
		sw.ShowDateTime = sw.ShowDateTime.UTC()
		if movieID.Valid {
			sw.Movie = &model.Movie{ID: movieID.String, Title: title.String, BackdropPath: backdrop.String}
		}
		out = append(out, sw)
	}
	return out, rows.Err()
}

// releaseSeatsTx removes seats from a show's seat map inside tx.  The show
// row is locked with FOR UPDATE and the write is additionally guarded by
// the version column.  Seats already absent are ignored; the row is still
// rewritten so the version advances.  It returns the seats removed.
func releaseSeatsTx(ctx context.Context, tx *sql.Tx, showID string, seats []string, now time.Time) ([]string, error) {
	var occupied model.SeatMap
	var version uint32
	err := tx.QueryRowContext(ctx,
		`SELECT occupied_seats, version FROM shows WHERE id = ? FOR UPDATE`, showID).Scan(&occupied, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrShowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock show: %w", err)
	}
	removed := occupied.Release(seats)
	res, err := tx.ExecContext(ctx,
		`UPDATE shows SET occupied_seats = ?, version = version + 1, updated_at = ? WHERE id = ? AND version = ?`,
		occupied, now, showID, version)
	if err != nil {
		return nil, fmt.Errorf("update show seats: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n != 1 {
		return nil, fmt.Errorf("show %s: %w", showID, ErrVersionConflict)
	}
	return removed, nil
}
