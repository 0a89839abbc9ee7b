// Package timer implements durable one-shot timers on top of Redis.  A
// timer is a key (for example a booking id) with a due time.  Timers live
// in a sorted set scored by due time in milliseconds, so they survive
// process restarts and are shared by every replica.
//
// A poller claims due keys atomically with a Lua script, moving them into
// an in-flight set scored by a lease deadline.  A handler error re-arms
// the key with exponential backoff until MaxAttempts is reached, after
// which the key is parked in a dead-letter hash with the last error.
// In-flight keys whose lease expires (the process died mid-handler) are
// moved back to the due set by the next claim.
package timer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Handler processes a fired timer.  Returning nil completes the timer.
type Handler func(ctx context.Context, key string) error

// Options configures a Queue.  Zero values are replaced by defaults.
type Options struct {
	Prefix       string
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
	BaseBackoff  time.Duration
	MaxBackoff   time.Duration
	Lease        time.Duration
}

func (o Options) withDefaults() Options {
	if o.Prefix == "" {
		o.Prefix = "timer"
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 50
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 8
	}
	if o.BaseBackoff <= 0 {
		o.BaseBackoff = 5 * time.Second
	}
	if o.MaxBackoff < o.BaseBackoff {
		o.MaxBackoff = o.BaseBackoff
	}
	if o.Lease <= 0 {
		o.Lease = time.Minute
	}
	return o
}

// Queue is a Redis-backed durable timer queue.
type Queue struct {
	rdb  *redis.Client
	opts Options
	now  func() time.Time
}

// New returns a Queue using rdb for storage.
func New(rdb *redis.Client, opts Options) *Queue {
	return &Queue{rdb: rdb, opts: opts.withDefaults(), now: time.Now}
}

func (q *Queue) dueKey() string      { return q.opts.Prefix + ":due" }
func (q *Queue) inflightKey() string { return q.opts.Prefix + ":inflight" }
func (q *Queue) attemptsKey() string { return q.opts.Prefix + ":attempts" }
func (q *Queue) deadKey() string     { return q.opts.Prefix + ":dead" }

// claimScript re-queues expired leases, then moves up to ARGV[2] due keys
// into the in-flight set with lease deadline ARGV[3].
var claimScript = redis.NewScript(`
	local now = ARGV[1]
	local stale = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now)
	for _, k in ipairs(stale) do
		redis.call('ZREM', KEYS[2], k)
		redis.call('ZADD', KEYS[1], now, k)
	end
	local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now, 'LIMIT', 0, tonumber(ARGV[2]))
	for _, k in ipairs(due) do
		redis.call('ZREM', KEYS[1], k)
		redis.call('ZADD', KEYS[2], ARGV[3], k)
	end
	return due
`)

// Schedule arms key to fire at at.  Scheduling an existing key replaces
// its due time.
func (q *Queue) Schedule(ctx context.Context, key string, at time.Time) error {
	if key == "" {
		return errors.New("timer: empty key")
	}
	err := q.rdb.ZAdd(ctx, q.dueKey(), redis.Z{Score: float64(at.UnixMilli()), Member: key}).Err()
	if err != nil {
		return fmt.Errorf("timer: schedule %s: %w", key, err)
	}
	return nil
}

// Cancel removes key from every set.  Cancelling an unknown key is a no-op.
func (q *Queue) Cancel(ctx context.Context, key string) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.dueKey(), key)
		p.ZRem(ctx, q.inflightKey(), key)
		p.HDel(ctx, q.attemptsKey(), key)
		return nil
	})
	return err
}

// DueAt reports when key is scheduled to fire.  ok is false when key is not
// pending.
func (q *Queue) DueAt(ctx context.Context, key string) (at time.Time, ok bool, err error) {
	score, err := q.rdb.ZScore(ctx, q.dueKey(), key).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(int64(score)).UTC(), true, nil
}

// Dead returns dead-lettered keys mapped to the last error message.
func (q *Queue) Dead(ctx context.Context) (map[string]string, error) {
	return q.rdb.HGetAll(ctx, q.deadKey()).Result()
}

// Run polls for due timers until ctx is cancelled.  Each poll drains all
// currently due keys in batches.
func (q *Queue) Run(ctx context.Context, h Handler) error {
	ticker := time.NewTicker(q.opts.PollInterval)
	defer ticker.Stop()
	logrus.WithField("prefix", q.opts.Prefix).Info("timer poller started")
	for {
		select {
		case <-ctx.Done():
			logrus.WithField("prefix", q.opts.Prefix).Info("timer poller stopped")
			return ctx.Err()
		case <-ticker.C:
			for {
				n, err := q.Poll(ctx, h)
				if err != nil {
					if ctx.Err() == nil {
						logrus.WithError(err).Warn("timer poll failed")
					}
					break
				}
				if n < q.opts.BatchSize {
					break
				}
			}
		}
	}
}

// Poll claims one batch of due keys and runs h on each.  It returns the
// number of keys claimed.
func (q *Queue) Poll(ctx context.Context, h Handler) (int, error) {
	now := q.now()
	keys, err := claimScript.Run(ctx, q.rdb,
		[]string{q.dueKey(), q.inflightKey()},
		now.UnixMilli(), q.opts.BatchSize, now.Add(q.opts.Lease).UnixMilli(),
	).StringSlice()
	if err != nil {
		return 0, fmt.Errorf("timer: claim: %w", err)
	}
	for _, key := range keys {
		if ctx.Err() != nil {
			// Unprocessed keys stay in-flight and are re-queued once the lease lapses.
			return len(keys), ctx.Err()
		}
		q.fire(ctx, h, key)
	}
	return len(keys), nil
}

func (q *Queue) fire(ctx context.Context, h Handler, key string) {
	log := logrus.WithFields(logrus.Fields{"timer": q.opts.Prefix, "key": key})
	herr := h(ctx, key)
	if herr == nil {
		if err := q.complete(ctx, key); err != nil {
			log.WithError(err).Warn("timer completion not recorded")
		}
		return
	}

	attempts, err := q.rdb.HIncrBy(ctx, q.attemptsKey(), key, 1).Result()
	if err != nil {
		log.WithError(err).Warn("timer attempt count unavailable, lease will re-queue")
		return
	}
	if IsPermanent(herr) || int(attempts) >= q.opts.MaxAttempts {
		log.WithError(herr).WithField("attempts", attempts).Error("timer dead-lettered")
		if err := q.deadLetter(ctx, key, herr); err != nil {
			log.WithError(err).Warn("dead-letter write failed")
		}
		return
	}
	delay := q.Backoff(int(attempts))
	log.WithError(herr).WithFields(logrus.Fields{"attempts": attempts, "retry_in": delay.String()}).Warn("timer handler failed")
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.inflightKey(), key)
		p.ZAdd(ctx, q.dueKey(), redis.Z{Score: float64(q.now().Add(delay).UnixMilli()), Member: key})
		return nil
	})
	if err != nil {
		log.WithError(err).Warn("timer re-arm failed, lease will re-queue")
	}
}

func (q *Queue) complete(ctx context.Context, key string) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.inflightKey(), key)
		p.HDel(ctx, q.attemptsKey(), key)
		return nil
	})
	return err
}

func (q *Queue) deadLetter(ctx context.Context, key string, cause error) error {
	_, err := q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRem(ctx, q.inflightKey(), key)
		p.HDel(ctx, q.attemptsKey(), key)
		p.HSet(ctx, q.deadKey(), key, cause.Error())
		return nil
	})
	return err
}

// Backoff returns the delay before retry number attempt (1-based):
// BaseBackoff doubled per attempt, capped at MaxBackoff.
func (q *Queue) Backoff(attempt int) time.Duration {
	d := q.opts.BaseBackoff
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= q.opts.MaxBackoff {
			return q.opts.MaxBackoff
		}
	}
	return d
}

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks err as not worth retrying; the timer is dead-lettered on
// the first failure.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was marked by Permanent.
func IsPermanent(err error) bool {
	var perm *permanentError
	return errors.As(err, &perm)
}

// Attempts reports how many times key has failed so far.
func (q *Queue) Attempts(ctx context.Context, key string) (int, error) {
	v, err := q.rdb.HGet(ctx, q.attemptsKey(), key).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(v)
}
