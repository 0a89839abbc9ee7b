package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrInFlight is returned by Claim when another attempt holds the claim.
// It is transient: the transport redelivers and a later attempt either
// sees the event done or finds the stale claim expired.
var ErrInFlight = errors.New("event is being processed")

// Deduper remembers processed envelope ids.
type Deduper interface {
	// Claim reports whether this attempt should run the handler.  It
	// returns false for an event already done and ErrInFlight while a
	// claim by another attempt is live.
	Claim(ctx context.Context, id string) (bool, error)
	// Complete records id as done.
	Complete(ctx context.Context, id string) error
	// Release forgets id so a redelivery is processed again.
	Release(ctx context.Context, id string) error
}

// KeyDedup is the redis key pattern for a processed envelope id.
const KeyDedup = "dedup:%s:%s"

const (
	stateProcessing = "processing"
	stateDone       = "done"
)

// RedisDeduper claims ids with SET NX.  A claim lives for the processing
// TTL only, so a process that dies mid-handler does not block the event
// for longer than that.  Done ids are kept for the full TTL.
type RedisDeduper struct {
	rdb        *redis.Client
	service    string
	ttl        time.Duration
	processing time.Duration
}

// NewRedisDeduper returns a RedisDeduper.  service namespaces the keys.
func NewRedisDeduper(rdb *redis.Client, service string, ttl, processing time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 48 * time.Hour
	}
	if processing <= 0 {
		processing = 5 * time.Minute
	}
	return &RedisDeduper{rdb: rdb, service: service, ttl: ttl, processing: processing}
}

func (d *RedisDeduper) key(id string) string { return fmt.Sprintf(KeyDedup, d.service, id) }

func (d *RedisDeduper) Claim(ctx context.Context, id string) (bool, error) {
	ok, err := d.rdb.SetNX(ctx, d.key(id), stateProcessing, d.processing).Result()
	if err != nil || ok {
		return ok, err
	}
	state, err := d.rdb.Get(ctx, d.key(id)).Result()
	switch {
	case errors.Is(err, redis.Nil):
		// The other claim lapsed between the two calls.
		return false, ErrInFlight
	case err != nil:
		return false, err
	case state == stateDone:
		return false, nil
	}
	return false, ErrInFlight
}

func (d *RedisDeduper) Complete(ctx context.Context, id string) error {
	return d.rdb.Set(ctx, d.key(id), stateDone, d.ttl).Err()
}

func (d *RedisDeduper) Release(ctx context.Context, id string) error {
	return d.rdb.Del(ctx, d.key(id)).Err()
}
