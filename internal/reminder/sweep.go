// Package reminder sends show reminders a fixed lead time before the show
// starts.  A sweep looks at shows starting inside a short window ending at
// now+Lead, builds one task per distinct seat holder and show, and fans the
// tasks out to the notifier with bounded concurrency.
//
// Delivered reminders are recorded per (show, user), which makes sweeps
// idempotent.  Widening the window with Lookback lets a later sweep retry
// reminders that failed, without sending duplicates.
package reminder

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/quickshow-booking/internal/model"
	"github.com/iliyamo/quickshow-booking/internal/notify"
)

// NoReminders is the result message of a sweep that found nothing to send.
const NoReminders = "No reminders to send."

// Shows lists shows by start time.
type Shows interface {
	ListStartingBetween(ctx context.Context, from, to time.Time) ([]model.ShowWithMovie, error)
}

// Users resolves user ids to users.  Unknown ids are omitted.
type Users interface {
	GetByIDs(ctx context.Context, ids []string) ([]model.User, error)
}

// Markers records delivered reminders.
type Markers interface {
	SentTo(ctx context.Context, showID string, userIDs []string) (map[string]bool, error)
	MarkSent(ctx context.Context, showID, userID string, at time.Time) error
}

// Task is one reminder to one user for one show.
type Task struct {
	ShowID     string
	UserID     string
	UserEmail  string
	UserName   string
	MovieTitle string
	ShowTime   time.Time
}

// Result summarises a sweep.
type Result struct {
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Message string `json:"message"`
}

// Options tunes the sweep window and fan-out.
type Options struct {
	Lead        time.Duration
	Window      time.Duration
	Lookback    time.Duration
	Concurrency int
}

// Sweeper runs reminder sweeps.
type Sweeper struct {
	shows    Shows
	users    Users
	markers  Markers
	notifier notify.Notifier
	render   notify.Renderer
	opts     Options
}

// NewSweeper returns a Sweeper.  markers may be nil, in which case no
// delivery records are kept.
func NewSweeper(shows Shows, users Users, markers Markers, n notify.Notifier, r notify.Renderer, opts Options) *Sweeper {
	if opts.Lead <= 0 {
		opts.Lead = 8 * time.Hour
	}
	if opts.Window <= 0 {
		opts.Window = 10 * time.Minute
	}
	if opts.Lookback < 0 {
		opts.Lookback = 0
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	return &Sweeper{shows: shows, users: users, markers: markers, notifier: n, render: r, opts: opts}
}

// Window returns the inclusive start-time window considered at now.
func (s *Sweeper) Window(now time.Time) (from, to time.Time) {
	to = now.Add(s.opts.Lead)
	from = to.Add(-s.opts.Window - s.opts.Lookback)
	return from, to
}

// BuildTasks returns the reminders due at now.  Shows without a movie or
// without occupied seats yield no tasks.  A user holding several seats on
// a show yields one task.  Users already reminded for a show are skipped.
func (s *Sweeper) BuildTasks(ctx context.Context, now time.Time) ([]Task, error) {
	from, to := s.Window(now)
	shows, err := s.shows.ListStartingBetween(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("list shows: %w", err)
	}
	tasks := make([]Task, 0)
	for _, sh := range shows {
		if sh.Movie == nil || len(sh.OccupiedSeats) == 0 {
			continue
		}
		holders := sh.OccupiedSeats.Holders()
		if len(holders) == 0 {
			continue
		}
		var sent map[string]bool
		if s.markers != nil {
			if sent, err = s.markers.SentTo(ctx, sh.ID, holders); err != nil {
				return nil, fmt.Errorf("reminder markers for show %s: %w", sh.ID, err)
			}
		}
		pending := make([]string, 0, len(holders))
		for _, id := range holders {
			if !sent[id] {
				pending = append(pending, id)
			}
		}
		users, err := s.users.GetByIDs(ctx, pending)
		if err != nil {
			return nil, fmt.Errorf("load users for show %s: %w", sh.ID, err)
		}
		for _, u := range users {
			if u.Email == "" {
				continue
			}
			tasks = append(tasks, Task{
				ShowID:     sh.ID,
				UserID:     u.ID,
				UserEmail:  u.Email,
				UserName:   u.Name,
				MovieTitle: sh.Movie.Title,
				ShowTime:   sh.ShowDateTime,
			})
		}
	}
	return tasks, nil
}

// Run performs one sweep at now.  Individual delivery failures are counted
// and never abort the sweep; only a failure to build the task list is
// returned as an error.
func (s *Sweeper) Run(ctx context.Context, now time.Time) (Result, error) {
	log := logrus.WithField("component", "reminder")
	tasks, err := s.BuildTasks(ctx, now)
	if err != nil {
		return Result{}, err
	}
	if len(tasks) == 0 {
		return Result{Message: NoReminders}, nil
	}

	var sent, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Concurrency)
	for _, task := range tasks {
		g.Go(func() error {
			if err := s.deliver(gctx, task); err != nil {
				failed.Add(1)
				log.WithError(err).WithFields(logrus.Fields{"show_id": task.ShowID, "user_id": task.UserID}).
					Warn("reminder not delivered")
				return nil
			}
			sent.Add(1)
			if s.markers != nil {
				if err := s.markers.MarkSent(gctx, task.ShowID, task.UserID, now); err != nil {
					log.WithError(err).WithField("show_id", task.ShowID).Warn("reminder marker not written")
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Sent: int(sent.Load()), Failed: int(failed.Load())}
	res.Message = fmt.Sprintf("Sent %d reminder(s), %d failed.", res.Sent, res.Failed)
	log.WithFields(logrus.Fields{"sent": res.Sent, "failed": res.Failed}).Info("reminder sweep finished")
	return res, nil
}

func (s *Sweeper) deliver(ctx context.Context, t Task) error {
	subject, body, err := s.render.Reminder(notify.Reminder{
		UserName:   t.UserName,
		MovieTitle: t.MovieTitle,
		ShowTime:   t.ShowTime,
	})
	if err != nil {
		return err
	}
	return s.notifier.Send(ctx, t.UserEmail, subject, body)
}
