package events

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
)

// Dispatcher decodes envelopes and runs the registered handler.
type Dispatcher struct {
	reg   *Registry
	dedup Deduper
	log   *logrus.Entry
}

// NewDispatcher returns a Dispatcher.  dedup may be nil to disable
// de-duplication.
func NewDispatcher(reg *Registry, dedup Deduper) *Dispatcher {
	return &Dispatcher{reg: reg, dedup: dedup, log: logrus.WithField("component", "events")}
}

// Dispatch handles one raw message.  It returns nil when the message is
// done with (handled, duplicate or unknown), an error wrapping ErrMalformed
// when it can never be handled, and any other error when a redelivery
// should retry it.
func (d *Dispatcher) Dispatch(ctx context.Context, body []byte) error {
	env, err := Decode(body)
	if err != nil {
		d.log.WithError(err).Warn("dropping malformed event")
		return err
	}
	return d.Handle(ctx, env)
}

// Handle runs the handler for an already decoded envelope.
func (d *Dispatcher) Handle(ctx context.Context, env Envelope) error {
	log := d.log.WithFields(logrus.Fields{"event": env.Name, "event_id": env.ID})
	h, ok := d.reg.Lookup(env.Name)
	if !ok {
		log.Warn("no handler for event, acknowledged")
		return nil
	}
	if d.dedup != nil {
		first, err := d.dedup.Claim(ctx, env.ID)
		if err != nil {
			return fmt.Errorf("dedup claim: %w", err)
		}
		if !first {
			log.Info("duplicate event skipped")
			return nil
		}
	}
	// Claim bookkeeping must outlive a cancelled delivery context, or a
	// redelivery would find a claim that nobody holds.
	bg := context.WithoutCancel(ctx)
	if err := h(ctx, env); err != nil {
		if d.dedup != nil {
			if rerr := d.dedup.Release(bg, env.ID); rerr != nil {
				log.WithError(rerr).Warn("dedup release failed")
			}
		}
		log.WithError(err).Warn("event handler failed")
		return err
	}
	if d.dedup != nil {
		if err := d.dedup.Complete(bg, env.ID); err != nil {
			log.WithError(err).Warn("dedup completion not recorded")
		}
	}
	log.Debug("event handled")
	return nil
}
