// Package queue carries event envelopes over the message broker.  The
// RabbitMQ consumer and publisher are the default transport; Kafka is the
// alternative selected by EVENT_TRANSPORT.
package queue

import (
    "context"
    "errors"
    "fmt"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/quickshow-booking/internal/events"
)

// DispatchFunc handles one raw message body.
type DispatchFunc func(ctx context.Context, body []byte) error

// AMQPConsumer consumes a durable RabbitMQ queue and hands every delivery
// to a DispatchFunc.
type AMQPConsumer struct {
    URL      string
    Queue    string
    Prefetch int
    Dispatch DispatchFunc
    // RetryDelay is the first pause before a failed delivery is requeued.
    // It doubles per consecutive failure up to 30s.  Defaults to 500ms.
    RetryDelay time.Duration
}

const maxRetryDelay = 30 * time.Second

// retryDelay tracks the pause between consecutive requeues.
type retryDelay struct {
    base, max, cur time.Duration
}

func (r *retryDelay) next() time.Duration {
    if r.cur == 0 {
        r.cur = r.base
    } else if r.cur < r.max {
        r.cur = min(r.cur*2, r.max)
    }
    return r.cur
}

func (r *retryDelay) reset() { r.cur = 0 }

// acknowledger is the settle half of amqp.Delivery.
type acknowledger interface {
    Ack(multiple bool) error
    Nack(multiple, requeue bool) error
}

// Run connects and consumes until ctx is cancelled.  Broker failures are
// retried with exponential backoff (1s doubling to 30s).
func (c *AMQPConsumer) Run(ctx context.Context) error {
    log := logrus.WithFields(logrus.Fields{"component": "amqp-consumer", "queue": c.Queue})
    backoff := time.Second
    for {
        conn, err := amqp.Dial(c.URL)
        if err != nil {
            log.WithError(err).Warnf("dial failed, retrying in %s", backoff)
            if !sleep(ctx, backoff) {
                return ctx.Err()
            }
            if backoff < 30*time.Second {
                backoff *= 2
            }
            continue
        }
        backoff = time.Second

        err = c.consumeLoop(ctx, conn)
        _ = conn.Close()
        if ctx.Err() != nil {
            return ctx.Err()
        }
        log.WithError(err).Warn("consume loop ended, reconnecting")
        if !sleep(ctx, 2*time.Second) {
            return ctx.Err()
        }
    }
}

func (c *AMQPConsumer) consumeLoop(ctx context.Context, conn *amqp.Connection) error {
    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("channel open: %w", err)
    }
    defer func() { _ = ch.Close() }()

    prefetch := c.Prefetch
    if prefetch <= 0 {
        prefetch = 50
    }
    if err := ch.Qos(prefetch, 0, false); err != nil {
        return fmt.Errorf("set qos: %w", err)
    }
    if _, err := declare(ch, c.Queue); err != nil {
        return err
    }
    msgs, err := ch.Consume(c.Queue, "", false, false, false, false, nil)
    if err != nil {
        return fmt.Errorf("queue consume: %w", err)
    }
    logrus.WithField("queue", c.Queue).Info("event consumer ready")

    base := c.RetryDelay
    if base <= 0 {
        base = 500 * time.Millisecond
    }
    delay := &retryDelay{base: base, max: max(base, maxRetryDelay)}
    for {
        select {
        case <-ctx.Done():
            return ctx.Err()
        case d, ok := <-msgs:
            if !ok {
                return errors.New("deliveries channel closed")
            }
            settle(ctx, &d, d.Body, c.Dispatch, delay)
        }
    }
}

// settle dispatches body and acknowledges the delivery.  Malformed
// payloads are rejected without requeue.  Other failures are requeued
// after the next retry delay, which holds the consumer back while the
// failure persists; cancelling ctx cuts the wait short.
func settle(ctx context.Context, d acknowledger, body []byte, dispatch DispatchFunc, delay *retryDelay) {
    err := dispatch(ctx, body)
    switch {
    case err == nil:
        delay.reset()
        _ = d.Ack(false)
    case errors.Is(err, events.ErrMalformed):
        delay.reset()
        _ = d.Nack(false, false)
    default:
        wait := delay.next()
        logrus.WithError(err).WithField("retry_in", wait.String()).Warn("delivery failed, requeueing")
        sleep(ctx, wait)
        _ = d.Nack(false, true)
    }
}

func declare(ch *amqp.Channel, queue string) (amqp.Queue, error) {
    q, err := ch.QueueDeclare(queue, true, false, false, false, nil)
    if err != nil {
        return q, fmt.Errorf("queue declare %s: %w", queue, err)
    }
    return q, nil
}

func sleep(ctx context.Context, d time.Duration) bool {
    t := time.NewTimer(d)
    defer t.Stop()
    select {
    case <-ctx.Done():
        return false
    case <-t.C:
        return true
    }
}
