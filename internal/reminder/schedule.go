package reminder

import (
	"context"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
)

// JobName names the sweep job in the scheduler.
const JobName = "reminder-sweep"

// Schedule registers the sweep on s with the given cron expression.  The
// job runs in singleton mode: a run that would overlap a still-running
// sweep is skipped.  ctx bounds every run.
func Schedule(ctx context.Context, s gocron.Scheduler, cron string, sw *Sweeper) (gocron.Job, error) {
	return s.NewJob(
		gocron.CronJob(cron, false),
		gocron.NewTask(func() {
			res, err := sw.Run(ctx, time.Now().UTC())
			if err != nil {
				logrus.WithError(err).WithField("component", "reminder").Error("reminder sweep failed")
				return
			}
			logrus.WithField("component", "reminder").Info(res.Message)
		}),
		gocron.WithName(JobName),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
}
