// Package events fans domain events out to anchoring sinks after the
// originating transaction has committed. Delivery is fire-and-forget and
// never affects domain state.
package events

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/sha3"
	"gorm.io/datatypes"
)

// Type identifies a domain event.
type Type string

const (
	TypeSubmissionDecided Type = "submission.decided"
	TypeMintRecorded      Type = "mint.recorded"
	TypeCreditsRetired    Type = "credits.retired"
	TypeListingCreated    Type = "listing.created"
	TypeListingCancelled  Type = "listing.cancelled"
	TypeTradeSettled      Type = "trade.settled"
)

// Event is an immutable record of something that already happened.
type Event struct {
	ID          uuid.UUID         `json:"id"`
	Type        Type              `json:"type"`
	AggregateID uuid.UUID         `json:"aggregate_id"`
	OccurredAt  time.Time         `json:"occurred_at"`
	Payload     datatypes.JSONMap `json:"payload"`
	// Digest is the hex Keccak-256 of the event body, the value an
	// anchoring chain commits to.
	Digest      string            `json:"digest"`
}

// New stamps an event with a fresh id and the current time.
func New(t Type, aggregateID uuid.UUID, payload map[string]interface{}) Event {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	e := Event{
		ID:          id,
		Type:        t,
		AggregateID: aggregateID,
		OccurredAt:  time.Now().UTC(),
		Payload:     datatypes.JSONMap(payload),
	}
	e.Digest = e.ComputeDigest()
	return e
}

// ComputeDigest hashes the event without its digest. Map keys are encoded
// in sorted order so the result is stable.
func (e Event) ComputeDigest() string {
	body, err := json.Marshal(struct {
		ID          uuid.UUID              `json:"id"`
		Type        Type                   `json:"type"`
		AggregateID uuid.UUID              `json:"aggregate_id"`
		OccurredAt  time.Time              `json:"occurred_at"`
		Payload     map[string]interface{} `json:"payload"`
	}{e.ID, e.Type, e.AggregateID, e.OccurredAt, e.Payload})
	if err != nil {
		return ""
	}
	h := sha3.NewLegacyKeccak256()
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// Publisher accepts events for asynchronous delivery.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// Sink delivers events to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, event Event) error
}

// NopPublisher discards every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) {}
