package events

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/quickshow-booking/internal/model"
	"github.com/iliyamo/quickshow-booking/internal/notify"
	"github.com/iliyamo/quickshow-booking/internal/repository"
)

type memUsers struct {
	mu    sync.Mutex
	users map[string]model.User
	// listErr, when set, fails ListAfter for the returned cursors.
	listErr func(after string) error
}

func (m *memUsers) Upsert(_ context.Context, u model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *memUsers) Delete(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.users[id]
	delete(m.users, id)
	return ok, nil
}

func (m *memUsers) ListAfter(_ context.Context, after string, limit int) ([]model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		if err := m.listErr(after); err != nil {
			return nil, err
		}
	}
	ids := make([]string, 0, len(m.users))
	for id := range m.users {
		if id > after {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if len(ids) > limit {
		ids = ids[:limit]
	}
	out := make([]model.User, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.users[id])
	}
	return out, nil
}

type fakeReservations struct {
	scheduled map[string]time.Time
	paid      map[string]bool
	expired   map[string]bool
}

func (f *fakeReservations) ScheduleReleaseCheck(_ context.Context, id string, createdAt time.Time) error {
	f.scheduled[id] = createdAt
	return nil
}

func (f *fakeReservations) ConfirmPayment(_ context.Context, id string) (bool, error) {
	if f.expired[id] {
		return false, repository.ErrHoldExpired
	}
	if f.paid[id] {
		return false, nil
	}
	f.paid[id] = true
	return true, nil
}

type capturePublisher struct{ sent []Envelope }

func (c *capturePublisher) Publish(_ context.Context, env Envelope) error {
	c.sent = append(c.sent, env)
	return nil
}

type fakeBookings map[string]repository.BookingDetail

func (f fakeBookings) GetDetail(_ context.Context, id string) (repository.BookingDetail, error) {
	d, ok := f[id]
	if !ok {
		return repository.BookingDetail{}, repository.ErrBookingNotFound
	}
	return d, nil
}

type mailbox struct {
	mu   sync.Mutex
	to   []string
	subj []string
	fail map[string]bool
}

func (m *mailbox) Send(_ context.Context, to, subject, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail[to] {
		return errors.New("rejected")
	}
	m.to = append(m.to, to)
	m.subj = append(m.subj, subject)
	return nil
}

type harness struct {
	d     *Dispatcher
	users *memUsers
	res   *fakeReservations
	pub   *capturePublisher
	mail  *mailbox
}

func newHarness(t *testing.T, bookings fakeBookings) *harness {
	t.Helper()
	h := &harness{
		users: &memUsers{users: map[string]model.User{}},
		res:   &fakeReservations{scheduled: map[string]time.Time{}, paid: map[string]bool{}, expired: map[string]bool{}},
		pub:   &capturePublisher{},
		mail:  &mailbox{},
	}
	handlers := &Handlers{
		Users:         h.users,
		Bookings:      bookings,
		Reservations:  h.res,
		Publisher:     h.pub,
		Notifier:      h.mail,
		Render:        notify.NewRenderer("UTC"),
		BroadcastPage: 2,
	}
	reg := NewRegistry()
	require.NoError(t, handlers.Register(reg))
	h.d = NewDispatcher(reg, nil)
	return h
}

func (h *harness) send(t *testing.T, name string, data any) error {
	t.Helper()
	env, err := NewEnvelope(name, data)
	require.NoError(t, err)
	return h.d.Handle(context.Background(), env)
}

func TestRegisterCoversAllEvents(t *testing.T) {
	reg := NewRegistry()
	require.NoError(t, (&Handlers{}).Register(reg))
	assert.ElementsMatch(t, []string{UserCreated, UserUpdated, UserDeleted, PaymentCheckRequested,
		PaymentSucceeded, ShowBooked, ShowAdded}, reg.Names())
	assert.Error(t, (&Handlers{}).Register(reg))
}

func TestUserLifecycleIsReplaySafe(t *testing.T) {
	h := newHarness(t, nil)
	created := UserData{ID: "u1", Email: "ada@example.com", FirstName: "Ada", LastName: "Lovelace", AvatarURL: "https://img/a"}

	require.NoError(t, h.send(t, UserCreated, created))
	require.NoError(t, h.send(t, UserCreated, created))
	assert.Equal(t, "Ada Lovelace", h.users.users["u1"].Name)

	created.DisplayName = "Countess"
	require.NoError(t, h.send(t, UserUpdated, created))
	assert.Equal(t, "Countess", h.users.users["u1"].Name)

	require.NoError(t, h.send(t, UserDeleted, UserRef{ID: "u1"}))
	require.NoError(t, h.send(t, UserDeleted, UserRef{ID: "u1"}))
	assert.Empty(t, h.users.users)

	assert.ErrorIs(t, h.send(t, UserCreated, UserData{ID: "u2"}), ErrMalformed)
}

func TestPaymentCheckSchedulesRelease(t *testing.T) {
	h := newHarness(t, nil)
	created := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, h.send(t, PaymentCheckRequested, PaymentCheck{BookingID: "b1", CreatedAt: created}))
	assert.Equal(t, created, h.res.scheduled["b1"])
	assert.ErrorIs(t, h.send(t, PaymentCheckRequested, PaymentCheck{}), ErrMalformed)
}

func TestPaymentSucceededPublishesKeyedShowBooked(t *testing.T) {
	h := newHarness(t, nil)

	require.NoError(t, h.send(t, PaymentSucceeded, BookingRef{BookingID: "b1"}))
	require.NoError(t, h.send(t, PaymentSucceeded, BookingRef{BookingID: "b1"}))
	require.Len(t, h.pub.sent, 2)
	assert.Equal(t, ShowBooked, h.pub.sent[0].Name)
	assert.Equal(t, h.pub.sent[0].ID, h.pub.sent[1].ID)
	assert.True(t, h.res.paid["b1"])
}

func TestPaymentAfterExpiryIsTerminal(t *testing.T) {
	h := newHarness(t, nil)
	h.res.expired["b1"] = true

	require.NoError(t, h.send(t, PaymentSucceeded, BookingRef{BookingID: "b1"}))
	assert.Empty(t, h.pub.sent)
}

func TestShowBookedSendsConfirmation(t *testing.T) {
	detail := repository.BookingDetail{
		Booking: model.Booking{ID: "b1", UserID: "u1", AmountCents: 2450, BookedSeats: model.SeatList{"A1"}},
		Show:    model.Show{ID: "s1", ShowDateTime: time.Date(2025, 1, 1, 18, 0, 0, 0, time.UTC)},
		Movie:   &model.Movie{Title: "Dune"},
		User:    &model.User{ID: "u1", Email: "ada@example.com", Name: "Ada"},
	}
	h := newHarness(t, fakeBookings{"b1": detail})

	require.NoError(t, h.send(t, ShowBooked, BookingRef{BookingID: "b1"}))
	require.NoError(t, h.send(t, ShowBooked, BookingRef{BookingID: "missing"}))
	assert.Equal(t, []string{"ada@example.com"}, h.mail.to)
	assert.Equal(t, []string{`Payment Confirmation: "Dune" booked!`}, h.mail.subj)
}

func TestShowAddedBroadcastsToAllPages(t *testing.T) {
	h := newHarness(t, nil)
	for _, id := range []string{"u1", "u2", "u3", "u4", "u5"} {
		h.users.users[id] = model.User{ID: id, Email: id + "@example.com", Name: id}
	}
	h.users.users["u6"] = model.User{ID: "u6"}
	h.mail.fail = map[string]bool{"u3@example.com": true}

	require.NoError(t, h.send(t, ShowAdded, NewShowData{MovieTitle: "Dune"}))
	assert.ElementsMatch(t, []string{"u1@example.com", "u2@example.com", "u4@example.com", "u5@example.com"}, h.mail.to)
	assert.ErrorIs(t, h.send(t, ShowAdded, NewShowData{}), ErrMalformed)
}

func TestShowAddedStoreFailureAfterFirstPageIsNotRetried(t *testing.T) {
	h := newHarness(t, nil)
	for _, id := range []string{"u1", "u2", "u3", "u4"} {
		h.users.users[id] = model.User{ID: id, Email: id + "@example.com", Name: id}
	}
	h.users.listErr = func(after string) error {
		if after != "" {
			return errors.New("connection reset")
		}
		return nil
	}

	require.NoError(t, h.send(t, ShowAdded, NewShowData{MovieTitle: "Dune"}))
	assert.ElementsMatch(t, []string{"u1@example.com", "u2@example.com"}, h.mail.to)
}

func TestShowAddedStoreFailureBeforeAnySendIsRetried(t *testing.T) {
	h := newHarness(t, nil)
	h.users.users["u1"] = model.User{ID: "u1", Email: "u1@example.com"}
	h.users.listErr = func(string) error { return errors.New("connection reset") }

	err := h.send(t, ShowAdded, NewShowData{MovieTitle: "Dune"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrMalformed)
	assert.Empty(t, h.mail.to)
}

func TestDisplayName(t *testing.T) {
	assert.Equal(t, "Ada", DisplayName(UserData{FirstName: " Ada "}))
	assert.Equal(t, "Ada L", DisplayName(UserData{FirstName: "Ada", LastName: "L"}))
	assert.Equal(t, "Boss", DisplayName(UserData{DisplayName: " Boss ", FirstName: "Ada"}))
}
