package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/quickshow-booking/internal/model"
)

// ReleaseOutcome describes how ReleaseUnpaid resolved a hold.
type ReleaseOutcome string

const (
	// ReleaseNotFound means the booking no longer exists; another path
	// already resolved it.
	ReleaseNotFound ReleaseOutcome = "not_found"
	// ReleasePaid means payment landed first and the hold became a sale.
	ReleasePaid ReleaseOutcome = "paid"
	// ReleaseReleased means the seats were freed and the booking deleted.
	ReleaseReleased ReleaseOutcome = "released"
)

// ReleaseResult reports what ReleaseUnpaid did.  Released lists the seat
// ids that were actually removed from the show's seat map.  ShowMissing is
// set when the booking referenced a show row that no longer exists; the
// booking is deleted without any show write in that case.
type ReleaseResult struct {
	Outcome     ReleaseOutcome
	ShowID      string
	Released    []string
	ShowMissing bool
}

// BookingDetail joins a booking with the show, movie and user it refers
// to.  Movie and User are nil when the referenced rows are missing.
type BookingDetail struct {
	Booking model.Booking
	Show    model.Show
	Movie   *model.Movie
	User    *model.User
}

// UnpaidRef identifies an unpaid booking and when it was created.  It is
// used to re-arm release timers at startup.
type UnpaidRef struct {
	ID        string
	CreatedAt time.Time
}

// BookingRepo provides data access to the bookings table.  All timestamps
// are written in UTC.
type BookingRepo struct {
	db  *sql.DB
	now func() time.Time
}

// NewBookingRepo returns a new BookingRepo bound to the provided database.
func NewBookingRepo(db *sql.DB) *BookingRepo {
	return &BookingRepo{db: db, now: func() time.Time { return time.Now().UTC() }}
}

const bookingColumns = `id, user_id, show_id, amount_cents, booked_seats, is_paid, payment_link, paid_at, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (model.Booking, error) {
	var b model.Booking
	var link sql.NullString
	var paidAt sql.NullTime
	err := row.Scan(&b.ID, &b.UserID, &b.ShowID, &b.AmountCents, &b.BookedSeats, &b.IsPaid,
		&link, &paidAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return model.Booking{}, err
	}
	if link.Valid {
		l := link.String
		b.PaymentLink = &l
	}
	if paidAt.Valid {
		t := paidAt.Time.UTC()
		b.PaidAt = &t
	}
	return b, nil
}

// GetByID fetches a booking by id.  It returns ErrBookingNotFound when no
// row exists.
func (r *BookingRepo) GetByID(ctx context.Context, id string) (model.Booking, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id)
	b, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Booking{}, ErrBookingNotFound
	}
	return b, err
}

// MarkPaid flips is_paid from false to true with a single conditional
// UPDATE.  It reports whether this call performed the transition.  When
// the booking is already paid it returns (false, nil).  When the booking
// no longer exists (it was released) it returns ErrHoldExpired.
//
// The conditional write serialises with ReleaseUnpaid, which holds the
// booking row lock for the duration of the release transaction.
func (r *BookingRepo) MarkPaid(ctx context.Context, id string) (bool, error) {
	now := r.now()
	res, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET is_paid = 1, paid_at = ?, updated_at = ? WHERE id = ? AND is_paid = 0`,
		now, now, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 1 {
		return true, nil
	}
	var paid bool
	err = r.db.QueryRowContext(ctx, `SELECT is_paid FROM bookings WHERE id = ?`, id).Scan(&paid)
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrHoldExpired
	}
	if err != nil {
		return false, err
	}
	return false, nil
}

// ReleaseUnpaid resolves an expired hold in a single transaction.  The
// booking row is locked first; if it is missing or paid nothing is
// written.  Otherwise exactly the booking's seats are removed from the
// show's seat map (one show write, version checked) and the booking is
// deleted (one delete, conditional on is_paid = 0).  Any error rolls the
// whole transaction back so either both writes happen or neither does.
func (r *BookingRepo) ReleaseUnpaid(ctx context.Context, id string) (ReleaseResult, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return ReleaseResult{}, fmt.Errorf("begin release tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	b, err := scanBooking(tx.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ? FOR UPDATE`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ReleaseResult{Outcome: ReleaseNotFound}, nil
	}
	if err != nil {
		return ReleaseResult{}, fmt.Errorf("lock booking: %w", err)
	}
	result := ReleaseResult{ShowID: b.ShowID}
	if b.IsPaid {
		result.Outcome = ReleasePaid
		return result, nil
	}

	removed, err := releaseSeatsTx(ctx, tx, b.ShowID, b.BookedSeats, r.now())
	switch {
	case errors.Is(err, ErrShowNotFound):
		result.ShowMissing = true
	case err != nil:
		return ReleaseResult{}, err
	default:
		result.Released = removed
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM bookings WHERE id = ? AND is_paid = 0`, id)
	if err != nil {
		return ReleaseResult{}, fmt.Errorf("delete booking: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return ReleaseResult{}, err
	} else if n != 1 {
		return ReleaseResult{}, fmt.Errorf("delete booking %s: %w", id, ErrVersionConflict)
	}
	if err := tx.Commit(); err != nil {
		return ReleaseResult{}, fmt.Errorf("commit release: %w", err)
	}
	committed = true
	result.Outcome = ReleaseReleased
	return result, nil
}

// ListUnpaid returns unpaid bookings ordered by creation time, oldest
// first.  At most limit rows are returned.
func (r *BookingRepo) ListUnpaid(ctx context.Context, limit int) ([]UnpaidRef, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, created_at FROM bookings WHERE is_paid = 0 ORDER BY created_at ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	refs := make([]UnpaidRef, 0)
	for rows.Next() {
		var ref UnpaidRef
		if err := rows.Scan(&ref.ID, &ref.CreatedAt); err != nil {
			return nil, err
		}
		ref.CreatedAt = ref.CreatedAt.UTC()
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// GetDetail loads a booking together with its show, movie and user.  It
// returns ErrBookingNotFound when the booking does not exist and
// ErrShowNotFound when the booking's show is gone.
func (r *BookingRepo) GetDetail(ctx context.Context, id string) (BookingDetail, error) {
	b, err := r.GetByID(ctx, id)
	if err != nil {
		return BookingDetail{}, err
	}
	const q = `SELECT s.id, s.movie_id, s.show_datetime, s.show_price_cents, s.occupied_seats, s.version, s.created_at, s.updated_at,
	                  m.id, m.title, m.backdrop_path,
	                  u.id, u.email, u.name, u.image_url
	           FROM shows s
	           LEFT JOIN movies m ON m.id = s.movie_id
	           LEFT JOIN users u ON u.id = ?
	           WHERE s.id = ?`
	var d BookingDetail
	d.Booking = b
	var movieID, title, backdrop sql.NullString
	var userID, email, name, image sql.NullString
	err = r.db.QueryRowContext(ctx, q, b.UserID, b.ShowID).Scan(
		&d.Show.ID, &d.Show.MovieID, &d.Show.ShowDateTime, &d.Show.PriceCents, &d.Show.OccupiedSeats,
		&d.Show.Version, &d.Show.CreatedAt, &d.Show.UpdatedAt,
		&movieID, &title, &backdrop,
		&userID, &email, &name, &image,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return BookingDetail{}, ErrShowNotFound
	}
	if err != nil {
		return BookingDetail{}, err
	}
	d.Show.ShowDateTime = d.Show.ShowDateTime.UTC()
	if movieID.Valid {
		d.Movie = &model.Movie{ID: movieID.String, Title: title.String, BackdropPath: backdrop.String}
	}
	if userID.Valid {
		d.User = &model.User{ID: userID.String, Email: email.String, Name: name.String, ImageURL: image.String}
	}
	return d, nil
}
