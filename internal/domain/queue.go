package domain

import (
	"hash/fnv"
	"math/rand"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// SyncDirection identifies which way an event flows between the ledgers.
type SyncDirection string

const (
	DirectionPlanningToWarehouse SyncDirection = "a_to_b"
	DirectionWarehouseToPlanning SyncDirection = "b_to_a"
)

// IsValid checks if the direction is one of the two sync flows
func (d SyncDirection) IsValid() bool {
	return d == DirectionPlanningToWarehouse || d == DirectionWarehouseToPlanning
}

// EntryStatus is the delivery state of a queue entry.
type EntryStatus string

const (
	StatusPending      EntryStatus = "pending"
	StatusInFlight     EntryStatus = "in_flight"
	StatusApplied      EntryStatus = "applied"
	StatusDeadLettered EntryStatus = "dead_lettered"
)

// IsTerminal reports whether the status is a terminal delivery state.
func (s EntryStatus) IsTerminal() bool {
	return s == StatusApplied || s == StatusDeadLettered
}

// Backoff parameters for transient retry scheduling.
const (
	DefaultMaxAttempts    = 5
	DefaultBackoffBase    = 2 * time.Second
	DefaultBackoffCap     = 5 * time.Minute
	DefaultJitterFraction = 0.2
)

// SyncQueueEntry wraps an InventoryEvent with delivery metadata. Entries are
// mutated only through the lease/ack/fail contract; two workers can never hold
// the same entry because acks are validated against the lease token.
type SyncQueueEntry struct {
	ID             primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Event          InventoryEvent     `bson:"event" json:"event"`
	Direction      SyncDirection      `bson:"direction" json:"direction"`
	Status         EntryStatus        `bson:"status" json:"status"`
	Partition      uint32             `bson:"partition" json:"partition"`
	AttemptCount   int                `bson:"attemptCount" json:"attemptCount"`
	MaxAttempts    int                `bson:"maxAttempts" json:"maxAttempts"`
	NextRetryAt    time.Time          `bson:"nextRetryAt" json:"nextRetryAt"`
	LeaseToken     string             `bson:"leaseToken,omitempty" json:"-"`
	LeaseExpiresAt *time.Time         `bson:"leaseExpiresAt,omitempty" json:"leaseExpiresAt,omitempty"`
	LastError      string             `bson:"lastError,omitempty" json:"lastError,omitempty"`
	EnqueuedAt     time.Time          `bson:"enqueuedAt" json:"enqueuedAt"`
	AppliedAt      *time.Time         `bson:"appliedAt,omitempty" json:"appliedAt,omitempty"`
	ApplyLatencyMs int64              `bson:"applyLatencyMs,omitempty" json:"applyLatencyMs,omitempty"`
}

// NewSyncQueueEntry wraps an event for delivery in the given direction.
func NewSyncQueueEntry(event *InventoryEvent, direction SyncDirection, partitionCount, maxAttempts int) (*SyncQueueEntry, error) {
	if !direction.IsValid() {
		return nil, ErrInvalidOrigin
	}
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	now := time.Now().UTC()
	return &SyncQueueEntry{
		Event:       *event,
		Direction:   direction,
		Status:      StatusPending,
		Partition:   PartitionFor(event.MaterialID, event.TargetLocation(), partitionCount),
		MaxAttempts: maxAttempts,
		NextRetryAt: now,
		EnqueuedAt:  now,
	}, nil
}

// PartitionFor hashes (material, location) onto a partition. Entries in the
// same partition are applied strictly in enqueue order; different partitions
// proceed independently.
func PartitionFor(materialID, locationID string, partitionCount int) uint32 {
	if partitionCount <= 0 {
		partitionCount = 1
	}
	h := fnv.New32a()
	h.Write([]byte(materialID))
	h.Write([]byte{0})
	h.Write([]byte(locationID))
	return h.Sum32() % uint32(partitionCount)
}

// MarkApplied transitions the entry to its successful terminal state.
func (e *SyncQueueEntry) MarkApplied(latency time.Duration) {
	now := time.Now().UTC()
	e.Status = StatusApplied
	e.AppliedAt = &now
	e.ApplyLatencyMs = latency.Milliseconds()
	e.LeaseToken = ""
	e.LeaseExpiresAt = nil
	e.LastError = ""
}

// MarkTransientFailure records a retryable failure: the attempt count is
// incremented and the entry returns to pending with an exponential-backoff
// retry time, or dead-letters once the attempt bound is reached.
func (e *SyncQueueEntry) MarkTransientFailure(cause error, base, cap time.Duration) {
	e.AttemptCount++
	e.LastError = cause.Error()
	e.LeaseToken = ""
	e.LeaseExpiresAt = nil

	if e.AttemptCount >= e.MaxAttempts {
		e.Status = StatusDeadLettered
		return
	}

	e.Status = StatusPending
	e.NextRetryAt = time.Now().UTC().Add(BackoffDelay(e.AttemptCount, base, cap))
}

// MarkPermanentFailure dead-letters the entry without further retries.
func (e *SyncQueueEntry) MarkPermanentFailure(cause error) {
	e.AttemptCount++
	e.Status = StatusDeadLettered
	e.LastError = cause.Error()
	e.LeaseToken = ""
	e.LeaseExpiresAt = nil
}

// MarkConfigurationBlocked returns the entry to pending without consuming an
// attempt. Missing mappings are operational configuration gaps, not delivery
// failures; the entry waits for the mapping to be corrected.
func (e *SyncQueueEntry) MarkConfigurationBlocked(cause error, retryAfter time.Duration) {
	e.Status = StatusPending
	e.LastError = cause.Error()
	e.LeaseToken = ""
	e.LeaseExpiresAt = nil
	e.NextRetryAt = time.Now().UTC().Add(retryAfter)
}

// ResetForRequeue clears failure state so a dead-lettered entry can be
// redelivered after operator intervention.
func (e *SyncQueueEntry) ResetForRequeue() error {
	if e.Status != StatusDeadLettered {
		return ErrEntryNotTerminal
	}
	e.Status = StatusPending
	e.AttemptCount = 0
	e.LastError = ""
	e.NextRetryAt = time.Now().UTC()
	return nil
}

// BackoffDelay computes base * 2^(attempts-1) capped at cap, with a random
// jitter of ±DefaultJitterFraction to avoid retry thundering herds.
func BackoffDelay(attempts int, base, cap time.Duration) time.Duration {
	if base <= 0 {
		base = DefaultBackoffBase
	}
	if cap <= 0 {
		cap = DefaultBackoffCap
	}
	if attempts < 1 {
		attempts = 1
	}

	delay := base
	for i := 1; i < attempts; i++ {
		delay *= 2
		if delay >= cap {
			delay = cap
			break
		}
	}
	if delay > cap {
		delay = cap
	}

	jitter := time.Duration((rand.Float64()*2 - 1) * DefaultJitterFraction * float64(delay))
	delay += jitter
	if delay < 0 {
		delay = 0
	}
	return delay
}
