package queue

import (
    "context"
    "encoding/json"
    "fmt"
    "time"

    amqp "github.com/rabbitmq/amqp091-go"

    "github.com/iliyamo/quickshow-booking/internal/events"
)

// AMQPPublisher publishes envelopes to a durable RabbitMQ queue through
// the default exchange.  Each call dials its own connection.
type AMQPPublisher struct {
    URL   string
    Queue string
}

// Publish sends env as a persistent JSON message.
func (p *AMQPPublisher) Publish(ctx context.Context, env events.Envelope) error {
    pub, err := publishing(env)
    if err != nil {
        return err
    }
    conn, err := amqp.Dial(p.URL)
    if err != nil {
        return fmt.Errorf("rabbitmq dial: %w", err)
    }
    defer func() { _ = conn.Close() }()

    ch, err := conn.Channel()
    if err != nil {
        return fmt.Errorf("rabbitmq channel: %w", err)
    }
    defer func() { _ = ch.Close() }()

    if _, err := declare(ch, p.Queue); err != nil {
        return err
    }
    if err := ch.PublishWithContext(ctx, "", p.Queue, false, false, pub); err != nil {
        return fmt.Errorf("rabbitmq publish %s: %w", env.Name, err)
    }
    return nil
}

func publishing(env events.Envelope) (amqp.Publishing, error) {
    if err := env.Validate(); err != nil {
        return amqp.Publishing{}, err
    }
    body, err := json.Marshal(env)
    if err != nil {
        return amqp.Publishing{}, fmt.Errorf("marshal envelope: %w", err)
    }
    ts := env.TS
    if ts.IsZero() {
        ts = time.Now().UTC()
    }
    return amqp.Publishing{
        ContentType:  "application/json",
        DeliveryMode: amqp.Persistent,
        MessageId:    env.ID,
        Type:         env.Name,
        Timestamp:    ts,
        Body:         body,
    }, nil
}
