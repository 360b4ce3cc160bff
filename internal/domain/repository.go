package domain

import (
	"context"
	"time"
)

// SyncQueueRepository is the durable event queue. All mutation goes through
// the enqueue/lease/ack/fail contract; acks and fails are validated against
// the lease token so two workers can never finalize the same entry.
type SyncQueueRepository interface {
	// Enqueue persists an entry, using the event's idempotency key as a
	// natural key: re-enqueueing the same event is a no-op that returns the
	// existing entry.
	Enqueue(ctx context.Context, entry *SyncQueueEntry) (*SyncQueueEntry, error)

	// LeaseNext leases up to limit partition-head entries from the given
	// partitions. Only the oldest non-terminal entry of each partition is
	// eligible, which is what guarantees per-partition ordering; entries
	// whose lease has expired are reclaimed. Leased entries carry a fresh
	// lease token and expiry.
	LeaseNext(ctx context.Context, workerID string, partitions []uint32, limit int, leaseFor time.Duration) ([]*SyncQueueEntry, error)

	// Ack finalizes a leased entry as applied and moves it out of the live
	// queue into the archive. Fails with ErrLeaseMismatch if the token does
	// not match the current lease.
	Ack(ctx context.Context, entry *SyncQueueEntry, token string) error

	// Fail records a failed attempt. The entry's status, attempt count and
	// retry time must already be updated by the caller (MarkTransientFailure
	// and friends); Fail persists them under the same token check as Ack.
	Fail(ctx context.Context, entry *SyncQueueEntry, token string) error

	// FindDeadLettered lists dead-lettered entries for operator review.
	FindDeadLettered(ctx context.Context, limit int) ([]*SyncQueueEntry, error)

	// FindByID fetches a single entry.
	FindByID(ctx context.Context, entryID string) (*SyncQueueEntry, error)

	// Requeue resets a dead-lettered entry for redelivery.
	Requeue(ctx context.Context, entryID string) (*SyncQueueEntry, error)

	// Discard archives a dead-lettered entry without applying it.
	Discard(ctx context.Context, entryID string) error

	// CountByStatus returns queue depth per status.
	CountByStatus(ctx context.Context) (map[EntryStatus]int64, error)
}

// MappingRepository manages the location mapping registry.
type MappingRepository interface {
	// Save upserts a mapping after validating bin disjointness against the
	// rest of the registry. Returns ErrMappingConflict when a bin in the
	// mapping is already claimed by another aggregate location.
	Save(ctx context.Context, mapping *LocationMapping) error

	// FindByAggregateLocation resolves the fan-out set for an aggregate
	// location. Returns ErrMappingNotFound when no active mapping exists.
	FindByAggregateLocation(ctx context.Context, aggregateLocationID string) (*LocationMapping, error)

	// FindByBinLocation resolves the aggregate location owning a bin.
	// Returns ErrMappingNotFound when the bin is unmapped.
	FindByBinLocation(ctx context.Context, binLocationID string) (*LocationMapping, error)

	// FindAll lists active mappings, for reconciliation enumeration.
	FindAll(ctx context.Context) ([]*LocationMapping, error)
}

// VarianceRepository stores reconciliation variance records.
type VarianceRepository interface {
	Save(ctx context.Context, record *VarianceRecord) error
	Update(ctx context.Context, record *VarianceRecord) error
	FindByID(ctx context.Context, id string) (*VarianceRecord, error)
	FindOutstanding(ctx context.Context, classification Classification, limit int) ([]*VarianceRecord, error)
	FindByRunID(ctx context.Context, runID string) ([]*VarianceRecord, error)
}

// RunRepository stores reconciliation run records.
type RunRepository interface {
	Save(ctx context.Context, run *ReconciliationRun) error
	Update(ctx context.Context, run *ReconciliationRun) error
	FindByID(ctx context.Context, runID string) (*ReconciliationRun, error)
	FindRecent(ctx context.Context, limit int) ([]*ReconciliationRun, error)
}

// LedgerReader is the read interface a ledger exposes for current
// quantities. Implementations classify failures as transient or permanent
// per the queue's error taxonomy.
type LedgerReader interface {
	// GetQuantity reads one (material, location) pair.
	GetQuantity(ctx context.Context, materialID, locationID string) (*QuantityRecord, error)

	// ListQuantities enumerates pairs page by page for reconciliation.
	// An empty returned token means the listing is exhausted.
	ListQuantities(ctx context.Context, scope ReconciliationScope, pageToken string, pageSize int) ([]*QuantityRecord, string, error)
}

// LedgerWriter is the idempotent write interface a ledger exposes. The
// idempotency key is the natural key: re-applying an adjustment with a key
// the ledger has already seen is a no-op on the ledger side.
type LedgerWriter interface {
	ApplyAdjustment(ctx context.Context, adj *LedgerAdjustment) error
}

// LedgerAdjustment is one idempotent quantity change addressed to a single
// location of the target ledger.
type LedgerAdjustment struct {
	IdempotencyKey string    `json:"idempotencyKey"`
	MaterialID     string    `json:"materialId"`
	LocationID     string    `json:"locationId"`
	Quantity       int64     `json:"quantity"`
	EventType      EventType `json:"eventType"`
	Reason         string    `json:"reason,omitempty"`
}
