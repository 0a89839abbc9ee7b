package queue

import (
    "context"
    "encoding/json"
    "errors"
    "fmt"
    "time"

    "github.com/segmentio/kafka-go"
    "github.com/sirupsen/logrus"

    "github.com/iliyamo/quickshow-booking/internal/events"
)

// messageReader is the subset of *kafka.Reader the consumer uses.
type messageReader interface {
    FetchMessage(ctx context.Context) (kafka.Message, error)
    CommitMessages(ctx context.Context, msgs ...kafka.Message) error
    Close() error
}

// KafkaConsumer reads a topic in a consumer group and commits offsets
// manually after each message is settled.
type KafkaConsumer struct {
    r        messageReader
    dispatch DispatchFunc
    backoff  time.Duration
}

// NewKafkaConsumer returns a consumer for topic in group.
func NewKafkaConsumer(brokers []string, group, topic string, dispatch DispatchFunc) *KafkaConsumer {
    r := kafka.NewReader(kafka.ReaderConfig{
        Brokers:        brokers,
        GroupID:        group,
        Topic:          topic,
        MinBytes:       1,
        MaxBytes:       10e6,
        CommitInterval: 0,
    })
    return &KafkaConsumer{r: r, dispatch: dispatch, backoff: time.Second}
}

// Run consumes until ctx is cancelled.  A transiently failing message is
// retried in place with backoff; offsets are never committed past it, so
// ordering within a partition is preserved.  Malformed messages are logged
// and committed.
func (c *KafkaConsumer) Run(ctx context.Context) error {
    defer func() { _ = c.r.Close() }()
    log := logrus.WithField("component", "kafka-consumer")
    for {
        m, err := c.r.FetchMessage(ctx)
        if err != nil {
            if ctx.Err() != nil {
                return ctx.Err()
            }
            return fmt.Errorf("kafka fetch: %w", err)
        }
        if err := c.handle(ctx, m); err != nil {
            return err
        }
        if err := c.r.CommitMessages(ctx, m); err != nil {
            if ctx.Err() != nil {
                return ctx.Err()
            }
            log.WithError(err).WithField("offset", m.Offset).Warn("offset commit failed")
        }
    }
}

// handle dispatches m until it succeeds, is malformed, or ctx ends.
func (c *KafkaConsumer) handle(ctx context.Context, m kafka.Message) error {
    wait := c.backoff
    for {
        err := c.dispatch(ctx, m.Value)
        if err == nil || errors.Is(err, events.ErrMalformed) {
            return nil
        }
        logrus.WithError(err).WithFields(logrus.Fields{"partition": m.Partition, "offset": m.Offset}).
            Warnf("event failed, retrying in %s", wait)
        if !sleep(ctx, wait) {
            return ctx.Err()
        }
        if wait < 30*time.Second {
            wait *= 2
        }
    }
}

// KafkaPublisher writes envelopes to a topic keyed by envelope id.
type KafkaPublisher struct {
    w *kafka.Writer
}

// NewKafkaPublisher returns a synchronous publisher requiring all acks.
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
    return &KafkaPublisher{w: &kafka.Writer{
        Addr:         kafka.TCP(brokers...),
        Topic:        topic,
        Balancer:     &kafka.Hash{},
        RequiredAcks: kafka.RequireAll,
    }}
}

// Publish writes env and waits for the broker acknowledgement.
func (p *KafkaPublisher) Publish(ctx context.Context, env events.Envelope) error {
    msg, err := kafkaMessage(env)
    if err != nil {
        return err
    }
    if err := p.w.WriteMessages(ctx, msg); err != nil {
        return fmt.Errorf("kafka publish %s: %w", env.Name, err)
    }
    return nil
}

// Close flushes and closes the writer.
func (p *KafkaPublisher) Close() error { return p.w.Close() }

func kafkaMessage(env events.Envelope) (kafka.Message, error) {
    if err := env.Validate(); err != nil {
        return kafka.Message{}, err
    }
    body, err := json.Marshal(env)
    if err != nil {
        return kafka.Message{}, fmt.Errorf("marshal envelope: %w", err)
    }
    return kafka.Message{
        Key:     []byte(env.ID),
        Value:   body,
        Time:    env.TS,
        Headers: []kafka.Header{{Key: "event", Value: []byte(env.Name)}},
    }, nil
}
