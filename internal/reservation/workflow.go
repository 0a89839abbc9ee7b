// Package reservation runs the seat hold lifecycle.  A new unpaid booking
// arms a durable release timer for HoldDuration after its creation.  When
// the timer fires the booking is released unless payment landed first.
// Payment confirmation and release serialise on the booking row, so at
// most one of them wins for a given booking.
package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iliyamo/quickshow-booking/internal/model"
	"github.com/iliyamo/quickshow-booking/internal/repository"
	"github.com/iliyamo/quickshow-booking/internal/timer"
)

// HoldDuration is how long an unpaid booking keeps its seats.
const HoldDuration = 10 * time.Minute

// Store is the booking persistence the workflow needs.
type Store interface {
	ReleaseUnpaid(ctx context.Context, id string) (repository.ReleaseResult, error)
	MarkPaid(ctx context.Context, id string) (bool, error)
	ListUnpaid(ctx context.Context, limit int) ([]repository.UnpaidRef, error)
}

// Timer is a durable keyed timer.
type Timer interface {
	Schedule(ctx context.Context, key string, at time.Time) error
	Cancel(ctx context.Context, key string) error
}

// Workflow wires the booking store to the release timer.
type Workflow struct {
	store     Store
	timer     Timer
	now       func() time.Time
	log       *logrus.Entry
	onRelease func(ctx context.Context, showID string)
}

// New returns a Workflow.
func New(store Store, timer Timer) *Workflow {
	return &Workflow{
		store: store,
		timer: timer,
		now:   time.Now,
		log:   logrus.WithField("component", "reservation"),
	}
}

// OnRelease registers fn to run after a release has committed, with the
// id of the show whose seats were freed.
func (w *Workflow) OnRelease(fn func(ctx context.Context, showID string)) { w.onRelease = fn }

// ReleaseAt returns the deadline of a hold created at createdAt.
func ReleaseAt(createdAt time.Time) time.Time { return createdAt.Add(HoldDuration) }

// ScheduleReleaseCheck arms the release timer for bookingID.  A zero
// createdAt is treated as now.  Re-scheduling the same booking replaces
// the previous deadline, so redelivered events are harmless.
func (w *Workflow) ScheduleReleaseCheck(ctx context.Context, bookingID string, createdAt time.Time) error {
	if bookingID == "" {
		return errors.New("reservation: empty booking id")
	}
	if createdAt.IsZero() {
		createdAt = w.now()
	}
	at := ReleaseAt(createdAt)
	if err := w.timer.Schedule(ctx, bookingID, at); err != nil {
		return fmt.Errorf("schedule release of %s: %w", bookingID, err)
	}
	w.log.WithFields(logrus.Fields{"booking_id": bookingID, "release_at": at.UTC().Format(time.RFC3339)}).
		Debug("release check scheduled")
	return nil
}

// Resolve runs the deadline check for bookingID.  A missing or paid
// booking is a terminal no-op.  Store errors are returned so the timer
// retries them.
func (w *Workflow) Resolve(ctx context.Context, bookingID string) (repository.ReleaseResult, error) {
	log := w.log.WithField("booking_id", bookingID)
	res, err := w.store.ReleaseUnpaid(ctx, bookingID)
	if err != nil {
		log.WithError(err).Warn("release failed")
		return repository.ReleaseResult{}, err
	}
	switch res.Outcome {
	case repository.ReleaseNotFound:
		log.Info("booking already resolved")
	case repository.ReleasePaid:
		log.WithField("show_id", res.ShowID).Info("booking paid, hold kept")
	case repository.ReleaseReleased:
		entry := log.WithFields(logrus.Fields{"show_id": res.ShowID, "seats": res.Released})
		if res.ShowMissing {
			entry.Warn("booking released, show no longer exists")
		} else {
			entry.Info("unpaid booking released")
			if w.onRelease != nil {
				w.onRelease(context.WithoutCancel(ctx), res.ShowID)
			}
		}
	}
	return res, nil
}

// Fire adapts Resolve to the timer handler signature.  An empty key or an
// undecodable booking row can never succeed, so those failures are marked
// permanent and dead-lettered without retries.
func (w *Workflow) Fire(ctx context.Context, bookingID string) error {
	if bookingID == "" {
		return timer.Permanent(errors.New("reservation: empty booking id"))
	}
	_, err := w.Resolve(ctx, bookingID)
	if errors.Is(err, model.ErrBadColumn) {
		return timer.Permanent(err)
	}
	return err
}

// ConfirmPayment marks bookingID paid.  It reports whether this call made
// the transition.  repository.ErrHoldExpired means the hold was released
// first and the payment must be refunded by the caller.  The release timer
// is cancelled on success; a failed cancel is harmless because Resolve
// observes the paid flag.
func (w *Workflow) ConfirmPayment(ctx context.Context, bookingID string) (bool, error) {
	won, err := w.store.MarkPaid(ctx, bookingID)
	if err != nil {
		return false, err
	}
	if err := w.timer.Cancel(ctx, bookingID); err != nil {
		w.log.WithError(err).WithField("booking_id", bookingID).Warn("release timer cancel failed")
	}
	return won, nil
}

// Reconcile arms a release timer for every unpaid booking, up to limit.
// It covers bookings whose check request never reached the timer.
// It returns the number of timers scheduled.
func (w *Workflow) Reconcile(ctx context.Context, limit int) (int, error) {
	refs, err := w.store.ListUnpaid(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("list unpaid bookings: %w", err)
	}
	n := 0
	for _, ref := range refs {
		if err := w.ScheduleReleaseCheck(ctx, ref.ID, ref.CreatedAt); err != nil {
			return n, err
		}
		n++
	}
	if n > 0 {
		w.log.WithField("count", n).Info("release timers reconciled")
	}
	return n, nil
}
