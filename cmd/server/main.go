package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iliyamo/quickshow-booking/internal/config"
	"github.com/iliyamo/quickshow-booking/internal/database"
	"github.com/iliyamo/quickshow-booking/internal/events"
	"github.com/iliyamo/quickshow-booking/internal/handler"
	"github.com/iliyamo/quickshow-booking/internal/middleware"
	"github.com/iliyamo/quickshow-booking/internal/notify"
	"github.com/iliyamo/quickshow-booking/internal/queue"
	"github.com/iliyamo/quickshow-booking/internal/reminder"
	"github.com/iliyamo/quickshow-booking/internal/repository"
	"github.com/iliyamo/quickshow-booking/internal/reservation"
	"github.com/iliyamo/quickshow-booking/internal/router"
	"github.com/iliyamo/quickshow-booking/internal/timer"
)

// reconcileLimit bounds how many unpaid holds are re-armed at startup.
const reconcileLimit = 10000

func main() {
	cfg := config.Load() // Load environment config
	config.SetupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).Fatal("server exited")
	}
	logrus.Info("shutdown complete")
}

func run(ctx context.Context, cfg config.Config) error {
	db, err := database.Open(ctx, database.Options{
		User: cfg.DBUser, Password: cfg.DBPass, Host: cfg.DBHost, Port: cfg.DBPort, Name: cfg.DBName,
	})
	if err != nil {
		return err
	}
	defer db.Close()
	if err := database.EnsureSchema(ctx, db); err != nil {
		return err
	}

	rdb, err := config.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer rdb.Close()

	bookings := repository.NewBookingRepo(db)
	shows := repository.NewShowRepo(db)
	users := repository.NewUserRepo(db)
	reminders := repository.NewReminderRepo(db)

	releaseQueue := timer.New(rdb, timer.Options{
		Prefix:       cfg.Release.KeyPrefix,
		PollInterval: cfg.Release.PollInterval,
		BatchSize:    cfg.Release.BatchSize,
		MaxAttempts:  cfg.Release.MaxAttempts,
		BaseBackoff:  cfg.Release.BaseBackoff,
		MaxBackoff:   cfg.Release.MaxBackoff,
		Lease:        cfg.Release.Lease,
	})
	wf := reservation.New(bookings, releaseQueue)
	wf.OnRelease(func(ctx context.Context, showID string) {
		if err := middleware.Forget(ctx, cfg.Cache, rdb, router.SeatsPath(showID)); err != nil {
			logrus.WithError(err).WithField("show_id", showID).Warn("seat cache invalidation failed")
		}
	})
	if n, err := wf.Reconcile(ctx, reconcileLimit); err != nil {
		logrus.WithError(err).Warn("release timer reconcile failed")
	} else {
		logrus.WithField("holds", n).Info("release timers re-armed")
	}

	notifier, err := newNotifier(cfg.Mail)
	if err != nil {
		return err
	}
	renderer := notify.NewRenderer(cfg.Mail.TimeZone)

	publisher, closePublisher := newPublisher(cfg.Events)
	defer closePublisher()

	reg := events.NewRegistry()
	hs := &events.Handlers{
		Users:        users,
		Bookings:     bookings,
		Reservations: wf,
		Publisher:    publisher,
		Notifier:     notifier,
		Render:       renderer,
	}
	if err := hs.Register(reg); err != nil {
		return err
	}
	logrus.WithField("events", reg.Names()).Info("event handlers registered")
	dispatcher := events.NewDispatcher(reg, events.NewRedisDeduper(rdb, "booking", cfg.Events.DedupTTL, cfg.Events.ClaimTTL))

	sched, err := gocron.NewScheduler(gocron.WithLocation(time.UTC))
	if err != nil {
		return err
	}
	sweeper := reminder.NewSweeper(shows, users, reminders, notifier, renderer, reminder.Options{
		Lead:        cfg.Reminder.Lead,
		Window:      cfg.Reminder.Window,
		Lookback:    cfg.Reminder.Lookback,
		Concurrency: cfg.Reminder.Concurrency,
	})
	if _, err := reminder.Schedule(ctx, sched, cfg.Reminder.Cron, sweeper); err != nil {
		return err
	}
	sched.Start()
	defer func() {
		if err := sched.Shutdown(); err != nil {
			logrus.WithError(err).Warn("scheduler shutdown")
		}
	}()

	e := router.New(router.Deps{
		Events: &handler.EventsHandler{Publisher: publisher, Known: reg.Has},
		Shows:  &handler.ShowHandler{Shows: shows},
		Timers: &handler.TimersHandler{Timers: releaseQueue},
		Ready: map[string]handler.Pinger{
			"mysql": db,
			"redis": handler.PingFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
		},
		JWTSecret: cfg.Events.JWTSecret,
		RateLimit: cfg.RateLimit,
		Cache:     cfg.Cache,
		Redis:     rdb,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return releaseQueue.Run(gctx, wf.Fire) })
	g.Go(func() error { return newConsumer(cfg.Events, dispatcher.Dispatch)(gctx) })
	g.Go(func() error {
		addr := ":" + cfg.Port // Address string with port
		logrus.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env, "transport": cfg.Events.Transport}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newNotifier(mc config.MailConfig) (notify.Notifier, error) {
	if !mc.Enabled {
		logrus.Info("mail disabled, notifications are logged only")
		return notify.LogNotifier{}, nil
	}
	return notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     mc.Host,
		Port:     mc.Port,
		Username: mc.Username,
		Password: mc.Password,
		From:     mc.From,
		FromName: mc.FromName,
		Timeout:  mc.Timeout,
	})
}

func newPublisher(ec config.EventsConfig) (events.Publisher, func()) {
	if ec.Transport == "kafka" {
		p := queue.NewKafkaPublisher(ec.KafkaBrokers, ec.KafkaTopic)
		return p, func() { _ = p.Close() }
	}
	return &queue.AMQPPublisher{URL: ec.AMQPURL, Queue: ec.Queue}, func() {}
}

func newConsumer(ec config.EventsConfig, dispatch queue.DispatchFunc) func(context.Context) error {
	if ec.Transport == "kafka" {
		return queue.NewKafkaConsumer(ec.KafkaBrokers, ec.KafkaGroup, ec.KafkaTopic, dispatch).Run
	}
	c := &queue.AMQPConsumer{URL: ec.AMQPURL, Queue: ec.Queue, Prefetch: 16, Dispatch: dispatch}
	return c.Run
}
