// Package events routes inbound domain events to their handlers.  Events
// travel as JSON envelopes carrying a unique id, a name and a payload.
// Delivery is at least once, so the dispatcher de-duplicates by envelope
// id and every handler tolerates replays.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event names.
const (
	UserCreated           = "user.created"
	UserUpdated           = "user.updated"
	UserDeleted           = "user.deleted"
	PaymentCheckRequested = "payment.check_requested"
	PaymentSucceeded      = "payment.succeeded"
	ShowBooked            = "show.booked"
	ShowAdded             = "show.added"
)

// ErrMalformed marks payloads that can never be processed.  Transports
// drop such messages instead of redelivering them.
var ErrMalformed = errors.New("malformed event")

// Envelope is the wire format of every event.
type Envelope struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Data json.RawMessage `json:"data"`
	TS   time.Time       `json:"ts"`
}

// NewEnvelope wraps data in an envelope with a random id.
func NewEnvelope(name string, data any) (Envelope, error) {
	return newEnvelope(uuid.NewString(), name, data)
}

// eventNS seeds deterministic envelope ids.
var eventNS = uuid.MustParse("6f1c2b1e-4c53-4a55-9d7a-3f2a4a0f8c11")

// NewKeyedEnvelope wraps data in an envelope whose id is derived from name
// and key.  Publishing the same (name, key) twice yields the same id, so the
// dispatcher processes it once.
func NewKeyedEnvelope(name, key string, data any) (Envelope, error) {
	return newEnvelope(uuid.NewSHA1(eventNS, []byte(name+":"+key)).String(), name, data)
}

func newEnvelope(id, name string, data any) (Envelope, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", name, err)
	}
	return Envelope{ID: id, Name: name, Data: raw, TS: time.Now().UTC()}, nil
}

// Decode parses and validates an envelope.  Errors wrap ErrMalformed.
func Decode(body []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if err := env.Validate(); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks the envelope header.
func (e Envelope) Validate() error {
	switch {
	case e.ID == "":
		return fmt.Errorf("%w: missing id", ErrMalformed)
	case e.Name == "":
		return fmt.Errorf("%w: missing name", ErrMalformed)
	}
	return nil
}

// Bind decodes the payload into v.  Errors wrap ErrMalformed.
func (e Envelope) Bind(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%w: %s has no data", ErrMalformed, e.Name)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrMalformed, e.Name, err)
	}
	return nil
}

// UserData is the payload of user.created and user.updated.
type UserData struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url"`
}

// UserRef is the payload of user.deleted.
type UserRef struct {
	ID string `json:"id"`
}

// PaymentCheck is the payload of payment.check_requested.
type PaymentCheck struct {
	BookingID string    `json:"booking_id"`
	CreatedAt time.Time `json:"created_at"`
}

// BookingRef is the payload of payment.succeeded and show.booked.
type BookingRef struct {
	BookingID string `json:"booking_id"`
}

// NewShowData is the payload of show.added.
type NewShowData struct {
	MovieTitle string `json:"movie_title"`
}
