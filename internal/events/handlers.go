package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/quickshow-booking/internal/model"
	"github.com/iliyamo/quickshow-booking/internal/notify"
	"github.com/iliyamo/quickshow-booking/internal/repository"
)

// UserStore is the user persistence the handlers need.
type UserStore interface {
	Upsert(ctx context.Context, u model.User) error
	Delete(ctx context.Context, id string) (bool, error)
	ListAfter(ctx context.Context, afterID string, limit int) ([]model.User, error)
}

// BookingReader loads a booking with everything a confirmation needs.
type BookingReader interface {
	GetDetail(ctx context.Context, id string) (repository.BookingDetail, error)
}

// Reservations is the hold lifecycle.
type Reservations interface {
	ScheduleReleaseCheck(ctx context.Context, bookingID string, createdAt time.Time) error
	ConfirmPayment(ctx context.Context, bookingID string) (bool, error)
}

// Publisher sends an envelope to the event transport.
type Publisher interface {
	Publish(ctx context.Context, env Envelope) error
}

// Handlers holds the dependencies of the built-in event handlers.
type Handlers struct {
	Users        UserStore
	Bookings     BookingReader
	Reservations Reservations
	Publisher    Publisher
	Notifier     notify.Notifier
	Render       notify.Renderer

	// BroadcastConcurrency bounds concurrent sends of show.added.
	BroadcastConcurrency int
	// BroadcastPage is the user page size of show.added.
	BroadcastPage int
}

// Register binds every built-in handler on reg.
func (h *Handlers) Register(reg *Registry) error {
	table := []struct {
		name string
		fn   HandlerFunc
	}{
		{UserCreated, h.upsertUser},
		{UserUpdated, h.upsertUser},
		{UserDeleted, h.deleteUser},
		{PaymentCheckRequested, h.paymentCheck},
		{PaymentSucceeded, h.paymentSucceeded},
		{ShowBooked, h.showBooked},
		{ShowAdded, h.showAdded},
	}
	for _, e := range table {
		if err := reg.Register(e.name, e.fn); err != nil {
			return err
		}
	}
	return nil
}

// DisplayName picks the name stored for a user: the display name when
// present, otherwise first and last name joined.
func DisplayName(d UserData) string {
	if n := strings.TrimSpace(d.DisplayName); n != "" {
		return n
	}
	return strings.TrimSpace(strings.TrimSpace(d.FirstName) + " " + strings.TrimSpace(d.LastName))
}

func (h *Handlers) upsertUser(ctx context.Context, env Envelope) error {
	var d UserData
	if err := env.Bind(&d); err != nil {
		return err
	}
	if d.ID == "" || strings.TrimSpace(d.Email) == "" {
		return fmt.Errorf("%w: user event needs id and email", ErrMalformed)
	}
	return h.Users.Upsert(ctx, model.User{
		ID:       d.ID,
		Email:    d.Email,
		Name:     DisplayName(d),
		ImageURL: d.AvatarURL,
	})
}

func (h *Handlers) deleteUser(ctx context.Context, env Envelope) error {
	var d UserRef
	if err := env.Bind(&d); err != nil {
		return err
	}
	if d.ID == "" {
		return fmt.Errorf("%w: user.deleted needs id", ErrMalformed)
	}
	removed, err := h.Users.Delete(ctx, d.ID)
	if err != nil {
		return err
	}
	if !removed {
		logrus.WithField("user_id", d.ID).Debug("user already absent")
	}
	return nil
}

func (h *Handlers) paymentCheck(ctx context.Context, env Envelope) error {
	var d PaymentCheck
	if err := env.Bind(&d); err != nil {
		return err
	}
	if d.BookingID == "" {
		return fmt.Errorf("%w: payment check needs booking_id", ErrMalformed)
	}
	return h.Reservations.ScheduleReleaseCheck(ctx, d.BookingID, d.CreatedAt)
}

// paymentSucceeded records the payment and asks for a confirmation mail.
// The show.booked envelope id is derived from the booking id, so a replay
// after a partial failure re-publishes without sending a second mail.
func (h *Handlers) paymentSucceeded(ctx context.Context, env Envelope) error {
	var d BookingRef
	if err := env.Bind(&d); err != nil {
		return err
	}
	if d.BookingID == "" {
		return fmt.Errorf("%w: payment needs booking_id", ErrMalformed)
	}
	log := logrus.WithField("booking_id", d.BookingID)
	won, err := h.Reservations.ConfirmPayment(ctx, d.BookingID)
	if errors.Is(err, repository.ErrHoldExpired) {
		log.Warn("payment arrived after the hold was released, refund required")
		return nil
	}
	if err != nil {
		return err
	}
	if !won {
		log.Debug("payment already recorded")
	}
	booked, err := NewKeyedEnvelope(ShowBooked, d.BookingID, BookingRef{BookingID: d.BookingID})
	if err != nil {
		return err
	}
	return h.Publisher.Publish(ctx, booked)
}

func (h *Handlers) showBooked(ctx context.Context, env Envelope) error {
	var d BookingRef
	if err := env.Bind(&d); err != nil {
		return err
	}
	if d.BookingID == "" {
		return fmt.Errorf("%w: show.booked needs booking_id", ErrMalformed)
	}
	log := logrus.WithField("booking_id", d.BookingID)
	detail, err := h.Bookings.GetDetail(ctx, d.BookingID)
	if errors.Is(err, repository.ErrBookingNotFound) || errors.Is(err, repository.ErrShowNotFound) {
		log.WithError(err).Warn("confirmation skipped")
		return nil
	}
	if err != nil {
		return err
	}
	if detail.User == nil || detail.User.Email == "" {
		log.Warn("confirmation skipped, user unknown")
		return nil
	}
	title := ""
	if detail.Movie != nil {
		title = detail.Movie.Title
	}
	subject, body, err := h.Render.Confirmation(notify.Confirmation{
		UserName:   detail.User.Name,
		MovieTitle: title,
		ShowTime:   detail.Show.ShowDateTime,
		Seats:      detail.Booking.BookedSeats,
		Amount:     formatCents(detail.Booking.AmountCents),
		BookingID:  detail.Booking.ID,
	})
	if err != nil {
		return err
	}
	return h.Notifier.Send(ctx, detail.User.Email, subject, body)
}

// showAdded announces a new show to every user.  Recipients are paged and
// sent concurrently; individual failures are counted, never returned.  A
// store failure is returned only before the first page was sent.
func (h *Handlers) showAdded(ctx context.Context, env Envelope) error {
	var d NewShowData
	if err := env.Bind(&d); err != nil {
		return err
	}
	if strings.TrimSpace(d.MovieTitle) == "" {
		return fmt.Errorf("%w: show.added needs movie_title", ErrMalformed)
	}
	page := h.BroadcastPage
	if page <= 0 {
		page = 500
	}
	limit := h.BroadcastConcurrency
	if limit <= 0 {
		limit = 8
	}

	var sent, failed atomic.Int64
	after := ""
	for {
		users, err := h.Users.ListAfter(ctx, after, page)
		if err != nil && after == "" {
			// Nobody was notified yet, so a redelivery is safe.
			return fmt.Errorf("list users: %w", err)
		}
		if err != nil {
			// Earlier pages were sent; a redelivery would announce twice.
			logrus.WithError(err).WithFields(logrus.Fields{"movie": d.MovieTitle, "after": after}).
				Error("new show broadcast stopped early")
			break
		}
		if len(users) == 0 {
			break
		}
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for _, u := range users {
			if u.Email == "" {
				continue
			}
			g.Go(func() error {
				subject, body, err := h.Render.NewShow(notify.NewShow{UserName: u.Name, MovieTitle: d.MovieTitle})
				if err == nil {
					err = h.Notifier.Send(gctx, u.Email, subject, body)
				}
				if err != nil {
					failed.Add(1)
					logrus.WithError(err).WithField("user_id", u.ID).Warn("new show notice not delivered")
					return nil
				}
				sent.Add(1)
				return nil
			})
		}
		_ = g.Wait()
		after = users[len(users)-1].ID
		if len(users) < page {
			break
		}
	}
	logrus.WithFields(logrus.Fields{"movie": d.MovieTitle, "sent": sent.Load(), "failed": failed.Load()}).
		Info("new show broadcast finished")
	return nil
}

func formatCents(c uint32) string {
	if c == 0 {
		return ""
	}
	return fmt.Sprintf("%d.%02d", c/100, c%100)
}
