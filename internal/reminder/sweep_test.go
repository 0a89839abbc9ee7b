package reminder

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/quickshow-booking/internal/model"
	"github.com/iliyamo/quickshow-booking/internal/notify"
)

var now = time.Date(2025, 1, 1, 8, 0, 0, 0, time.UTC)

type fakeShows struct {
	shows []model.ShowWithMovie
	err   error
}

func (f *fakeShows) ListStartingBetween(_ context.Context, from, to time.Time) ([]model.ShowWithMovie, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []model.ShowWithMovie
	for _, s := range f.shows {
		if !s.ShowDateTime.Before(from) && !s.ShowDateTime.After(to) {
			out = append(out, s)
		}
	}
	return out, nil
}

type fakeUsers map[string]model.User

func (f fakeUsers) GetByIDs(_ context.Context, ids []string) ([]model.User, error) {
	var out []model.User
	for _, id := range ids {
		if u, ok := f[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeMarkers struct {
	mu   sync.Mutex
	sent map[string]bool
}

func (f *fakeMarkers) SentTo(_ context.Context, showID string, ids []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[string]bool{}
	for _, id := range ids {
		if f.sent[showID+"/"+id] {
			out[id] = true
		}
	}
	return out, nil
}

func (f *fakeMarkers) MarkSent(_ context.Context, showID, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sent == nil {
		f.sent = map[string]bool{}
	}
	f.sent[showID+"/"+userID] = true
	return nil
}

type recordingNotifier struct {
	mu   sync.Mutex
	to   []string
	fail map[string]bool
}

func (r *recordingNotifier) Send(_ context.Context, to, _, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail[to] {
		return errors.New("smtp 451")
	}
	r.to = append(r.to, to)
	return nil
}

func show(id string, at time.Time, seats model.SeatMap) model.ShowWithMovie {
	return model.ShowWithMovie{
		Show:  model.Show{ID: id, ShowDateTime: at, OccupiedSeats: seats},
		Movie: &model.Movie{ID: "m-" + id, Title: "Movie " + id},
	}
}

func users(ids ...string) fakeUsers {
	out := fakeUsers{}
	for _, id := range ids {
		out[id] = model.User{ID: id, Name: "User " + id, Email: id + "@example.com"}
	}
	return out
}

func newSweeper(shows *fakeShows, u fakeUsers, m Markers, n notify.Notifier, opts Options) *Sweeper {
	return NewSweeper(shows, u, m, n, notify.NewRenderer("UTC"), opts)
}

func TestWindow(t *testing.T) {
	s := newSweeper(&fakeShows{}, nil, nil, nil, Options{})
	from, to := s.Window(now)
	assert.Equal(t, now.Add(8*time.Hour-10*time.Minute), from)
	assert.Equal(t, now.Add(8*time.Hour), to)

	s = newSweeper(&fakeShows{}, nil, nil, nil, Options{Lookback: 8 * time.Hour})
	from, _ = s.Window(now)
	assert.Equal(t, now.Add(-10*time.Minute), from)
}

func TestBuildTasksWindowing(t *testing.T) {
	shows := &fakeShows{shows: []model.ShowWithMovie{
		show("late", now.Add(8*time.Hour+time.Minute), model.SeatMap{"A1": "u1"}),
		show("inside", now.Add(8*time.Hour-5*time.Minute), model.SeatMap{"A1": "u1"}),
		show("empty", now.Add(8*time.Hour-2*time.Minute), model.SeatMap{}),
	}}
	s := newSweeper(shows, users("u1"), nil, &recordingNotifier{}, Options{})

	tasks, err := s.BuildTasks(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "inside", tasks[0].ShowID)
	assert.Equal(t, "Movie inside", tasks[0].MovieTitle)
}

func TestBuildTasksSkipsShowWithoutMovie(t *testing.T) {
	sh := show("s1", now.Add(8*time.Hour), model.SeatMap{"A1": "u1"})
	sh.Movie = nil
	s := newSweeper(&fakeShows{shows: []model.ShowWithMovie{sh}}, users("u1"), nil, &recordingNotifier{}, Options{})

	tasks, err := s.BuildTasks(context.Background(), now)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestBuildTasksDedupsUserSeats(t *testing.T) {
	shows := &fakeShows{shows: []model.ShowWithMovie{
		show("s1", now.Add(8*time.Hour), model.SeatMap{"A1": "u1", "A2": "u1", "B1": "u2"}),
	}}
	s := newSweeper(shows, users("u1", "u2"), nil, &recordingNotifier{}, Options{})

	tasks, err := s.BuildTasks(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "u1", tasks[0].UserID)
	assert.Equal(t, "u2", tasks[1].UserID)
}

func TestBuildTasksSkipsUnknownUsers(t *testing.T) {
	shows := &fakeShows{shows: []model.ShowWithMovie{
		show("s1", now.Add(8*time.Hour), model.SeatMap{"A1": "u1", "B1": "ghost"}),
	}}
	s := newSweeper(shows, users("u1"), nil, &recordingNotifier{}, Options{})

	tasks, err := s.BuildTasks(context.Background(), now)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestRunPartialFailure(t *testing.T) {
	shows := &fakeShows{shows: []model.ShowWithMovie{
		show("s1", now.Add(8*time.Hour), model.SeatMap{"A1": "u1", "A2": "u2", "A3": "u3"}),
	}}
	n := &recordingNotifier{fail: map[string]bool{"u2@example.com": true}}
	s := newSweeper(shows, users("u1", "u2", "u3"), nil, n, Options{Concurrency: 2})

	res, err := s.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, "Sent 2 reminder(s), 1 failed.", res.Message)
	assert.ElementsMatch(t, []string{"u1@example.com", "u3@example.com"}, n.to)
}

func TestRunNothingToSend(t *testing.T) {
	s := newSweeper(&fakeShows{}, users(), nil, &recordingNotifier{}, Options{})

	res, err := s.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, Result{Message: NoReminders}, res)
}

func TestRunQueryFailure(t *testing.T) {
	s := newSweeper(&fakeShows{err: errors.New("db down")}, users(), nil, &recordingNotifier{}, Options{})

	_, err := s.Run(context.Background(), now)
	assert.Error(t, err)
}

func TestRunWithMarkersRetriesOnlyFailures(t *testing.T) {
	shows := &fakeShows{shows: []model.ShowWithMovie{
		show("s1", now.Add(8*time.Hour), model.SeatMap{"A1": "u1", "A2": "u2"}),
	}}
	markers := &fakeMarkers{}
	n := &recordingNotifier{fail: map[string]bool{"u2@example.com": true}}
	s := newSweeper(shows, users("u1", "u2"), markers, n, Options{Lookback: time.Hour})

	res, err := s.Run(context.Background(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, 1, res.Failed)

	// The next sweep overlaps thanks to the lookback; only u2 is retried.
	n.fail = nil
	res, err = s.Run(context.Background(), now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Sent)
	assert.Equal(t, []string{"u1@example.com", "u2@example.com"}, n.to)

	res, err = s.Run(context.Background(), now.Add(40*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, NoReminders, res.Message)
}

func TestScheduleRegistersCronJob(t *testing.T) {
	sched, err := gocron.NewScheduler()
	require.NoError(t, err)
	defer func() { _ = sched.Shutdown() }()
	sw := newSweeper(&fakeShows{}, users(), nil, &recordingNotifier{}, Options{})

	job, err := Schedule(context.Background(), sched, "0 */8 * * *", sw)
	require.NoError(t, err)
	assert.Equal(t, JobName, job.Name())
	assert.Len(t, sched.Jobs(), 1)

	_, err = Schedule(context.Background(), sched, "not a cron", sw)
	assert.Error(t, err)
}
