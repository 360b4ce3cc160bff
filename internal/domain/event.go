package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// OriginSystem identifies which ledger produced an event.
type OriginSystem string

const (
	OriginPlanning  OriginSystem = "system_a" // aggregate/planning ledger
	OriginWarehouse OriginSystem = "system_b" // bin-level/warehouse ledger
)

// IsValid checks if the origin system is one of the two ledgers
func (o OriginSystem) IsValid() bool {
	return o == OriginPlanning || o == OriginWarehouse
}

// EventType identifies the kind of inventory-affecting action an event carries.
type EventType string

const (
	EventAllocate EventType = "allocate"
	EventMove     EventType = "move"
	EventAdjust   EventType = "adjust"
	EventReceive  EventType = "receive"
	EventIssue    EventType = "issue"
)

// IsValid checks if the event type is a known inventory action
func (t EventType) IsValid() bool {
	switch t {
	case EventAllocate, EventMove, EventAdjust, EventReceive, EventIssue:
		return true
	}
	return false
}

// InventoryEvent is an immutable record of one inventory-affecting action in
// either ledger. It is created by the originating ledger at local commit time
// and never mutated afterwards; delivery is at-least-once and application is
// made exactly-once-in-effect through the idempotency key.
type InventoryEvent struct {
	ID               string       `bson:"eventId" json:"eventId"`
	Origin           OriginSystem `bson:"origin" json:"origin"`
	Type             EventType    `bson:"type" json:"type"`
	MaterialID       string       `bson:"materialId" json:"materialId"`
	Quantity         int64        `bson:"quantity" json:"quantity"` // signed
	SourceLocation   string       `bson:"sourceLocation,omitempty" json:"sourceLocation,omitempty"`
	DestLocation     string       `bson:"destLocation,omitempty" json:"destLocation,omitempty"`
	LogicalTimestamp int64        `bson:"logicalTimestamp" json:"logicalTimestamp"`
	IdempotencyKey   string       `bson:"idempotencyKey" json:"idempotencyKey"`
	OccurredAt       time.Time    `bson:"occurredAt" json:"occurredAt"`
}

// NewInventoryEvent creates an InventoryEvent and derives its idempotency key.
func NewInventoryEvent(id string, origin OriginSystem, eventType EventType, materialID string, quantity int64, sourceLocation, destLocation string, logicalTimestamp int64) (*InventoryEvent, error) {
	if id == "" {
		return nil, ErrMissingEventID
	}
	if !origin.IsValid() {
		return nil, ErrInvalidOrigin
	}
	if !eventType.IsValid() {
		return nil, ErrInvalidEventType
	}
	if materialID == "" {
		return nil, ErrMissingMaterial
	}
	// A zero quantity has no inventory effect and would only burn a queue slot.
	if quantity == 0 {
		return nil, ErrInvalidQuantity
	}

	return &InventoryEvent{
		ID:               id,
		Origin:           origin,
		Type:             eventType,
		MaterialID:       materialID,
		Quantity:         quantity,
		SourceLocation:   sourceLocation,
		DestLocation:     destLocation,
		LogicalTimestamp: logicalTimestamp,
		IdempotencyKey:   DeriveIdempotencyKey(id, eventType, materialID, logicalTimestamp),
		OccurredAt:       time.Now().UTC(),
	}, nil
}

// DeriveIdempotencyKey computes the deterministic hash over origin event id,
// event type, material id and logical timestamp. This derivation is a wire
// contract: downstream systems use the key as a natural upsert key, so the
// input ordering and separator must never change.
func DeriveIdempotencyKey(originID string, eventType EventType, materialID string, logicalTimestamp int64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d", originID, eventType, materialID, logicalTimestamp)
	return hex.EncodeToString(h.Sum(nil))
}

// SubKey returns the idempotency key for the i-th fan-out sub-update of this
// event. Each sub-update carries its own key so it is independently idempotent
// against the target ledger.
func (e *InventoryEvent) SubKey(index int) string {
	return fmt.Sprintf("%s-%02d", e.IdempotencyKey, index)
}

// TargetLocation returns the location the event acts on in its origin ledger:
// destination for inbound movements, source for outbound ones.
func (e *InventoryEvent) TargetLocation() string {
	switch e.Type {
	case EventIssue:
		return e.SourceLocation
	default:
		if e.DestLocation != "" {
			return e.DestLocation
		}
		return e.SourceLocation
	}
}
