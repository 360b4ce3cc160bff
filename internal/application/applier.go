package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/wms-platform/inventory-sync-service/internal/domain"
	"github.com/wms-platform/inventory-sync-service/pkg/cloudevents"
	"github.com/wms-platform/inventory-sync-service/pkg/kafka"
	"github.com/wms-platform/inventory-sync-service/pkg/logging"
	"github.com/wms-platform/inventory-sync-service/pkg/metrics"
)

// ApplierConfig holds the delivery loop settings.
type ApplierConfig struct {
	WorkerCount          int
	PartitionCount       int
	BatchSize            int
	LeaseTimeout         time.Duration
	PollInterval         time.Duration
	BackoffBase          time.Duration
	BackoffCap           time.Duration
	MappingRetryInterval time.Duration
}

// Applier drains the sync queue: each worker owns a disjoint set of
// partitions and applies their head entries to the target ledger in enqueue
// order. Ordering holds because a partition has at most one entry in flight;
// cross-partition progress is independent.
type Applier struct {
	config    ApplierConfig
	queue     domain.SyncQueueRepository
	mappings  domain.MappingRepository
	planning  domain.LedgerWriter
	warehouse domain.LedgerWriter
	producer  eventPublisher
	factory   *cloudevents.EventFactory
	metrics   *metrics.Metrics
	logger    *logging.Logger

	mu      sync.Mutex
	blocked map[string]struct{} // entry ids waiting on a mapping fix
}

// NewApplier creates the delivery loop over the queue and both ledgers.
func NewApplier(
	config ApplierConfig,
	queue domain.SyncQueueRepository,
	mappings domain.MappingRepository,
	planning domain.LedgerWriter,
	warehouse domain.LedgerWriter,
	producer eventPublisher,
	factory *cloudevents.EventFactory,
	m *metrics.Metrics,
	logger *logging.Logger,
) *Applier {
	if config.BatchSize <= 0 {
		config.BatchSize = 16
	}
	return &Applier{
		config:    config,
		queue:     queue,
		mappings:  mappings,
		planning:  planning,
		warehouse: warehouse,
		producer:  producer,
		factory:   factory,
		metrics:   m,
		logger:    logger,
		blocked:   make(map[string]struct{}),
	}
}

// Start runs the workers until ctx is cancelled. It blocks.
func (a *Applier) Start(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < a.config.WorkerCount; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			a.runWorker(ctx, worker)
		}(i)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.reportDepth(ctx)
	}()

	wg.Wait()
}

// workerPartitions returns the partitions owned by one worker. Ownership is
// static modulo assignment so two workers never poll the same partition.
func (a *Applier) workerPartitions(worker int) []uint32 {
	var partitions []uint32
	for p := 0; p < a.config.PartitionCount; p++ {
		if p%a.config.WorkerCount == worker {
			partitions = append(partitions, uint32(p))
		}
	}
	return partitions
}

func (a *Applier) runWorker(ctx context.Context, worker int) {
	workerID := fmt.Sprintf("worker-%d", worker)
	logger := a.logger.WithWorker(workerID)
	partitions := a.workerPartitions(worker)
	if len(partitions) == 0 {
		return
	}

	logger.Info("Sync worker started", "partitions", len(partitions))

	for {
		select {
		case <-ctx.Done():
			logger.Info("Sync worker stopping")
			return
		default:
		}

		entries, err := a.queue.LeaseNext(ctx, workerID, partitions, a.config.BatchSize, a.config.LeaseTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("Failed to lease queue entries", "error", err)
			a.sleep(ctx, a.config.PollInterval)
			continue
		}

		if len(entries) == 0 {
			a.sleep(ctx, a.config.PollInterval)
			continue
		}

		for _, entry := range entries {
			a.safeProcess(ctx, logger, entry)
		}
	}
}

// safeProcess contains a panic from entry processing to the single entry.
// The worker keeps running and the entry's lease expires for a later pass.
func (a *Applier) safeProcess(ctx context.Context, logger *logging.Logger, entry *domain.SyncQueueEntry) {
	defer func() {
		if recovered := recover(); recovered != nil {
			logger.Panic(ctx, recovered)
		}
	}()
	a.processEntry(ctx, logger, entry)
}

func (a *Applier) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// processEntry applies one leased entry and finalizes it under its lease
// token. Every failure path goes through the taxonomy: configuration
// problems park the entry without consuming an attempt, permanent failures
// dead-letter immediately, everything else retries with backoff.
func (a *Applier) processEntry(ctx context.Context, logger *logging.Logger, entry *domain.SyncQueueEntry) {
	token := entry.LeaseToken
	start := time.Now()
	attempt := entry.AttemptCount + 1

	applyErr := a.apply(ctx, entry)
	elapsed := time.Since(start)

	switch {
	case applyErr == nil:
		entry.MarkApplied(elapsed)
		if err := a.queue.Ack(ctx, entry, token); err != nil {
			logger.Warn("Failed to ack applied entry",
				"entryId", entry.ID.Hex(), "error", err)
			return
		}
		a.clearBlocked(entry)
		a.metrics.RecordEntryApplied(string(entry.Direction), elapsed)
		logger.SyncApply(ctx, entry.ID.Hex(), entry.Event.MaterialID, entry.Partition, attempt, string(entry.Status), elapsed, nil)
		a.publishApplied(ctx, entry)

	case domain.IsConfiguration(applyErr):
		entry.MarkConfigurationBlocked(applyErr, a.config.MappingRetryInterval)
		if err := a.queue.Fail(ctx, entry, token); err != nil {
			logger.Warn("Failed to park blocked entry",
				"entryId", entry.ID.Hex(), "error", err)
			return
		}
		a.markBlocked(entry)
		logger.Warn("Entry blocked on location mapping",
			"entryId", entry.ID.Hex(),
			"materialId", entry.Event.MaterialID,
			"location", entry.Event.TargetLocation(),
			"error", applyErr,
		)

	case domain.IsPermanent(applyErr):
		entry.MarkPermanentFailure(applyErr)
		if err := a.queue.Fail(ctx, entry, token); err != nil {
			logger.Warn("Failed to dead-letter entry",
				"entryId", entry.ID.Hex(), "error", err)
			return
		}
		a.clearBlocked(entry)
		a.metrics.RecordEntryDeadLettered(string(entry.Direction), "permanent")
		logger.DeadLetter(ctx, entry.ID.Hex(), entry.Event.MaterialID, entry.LastError, entry.AttemptCount)
		a.publishDeadLettered(ctx, entry)

	default:
		entry.MarkTransientFailure(applyErr, a.config.BackoffBase, a.config.BackoffCap)
		if err := a.queue.Fail(ctx, entry, token); err != nil {
			logger.Warn("Failed to record entry failure",
				"entryId", entry.ID.Hex(), "error", err)
			return
		}
		a.clearBlocked(entry)
		if entry.Status == domain.StatusDeadLettered {
			a.metrics.RecordEntryDeadLettered(string(entry.Direction), "attempts_exhausted")
			logger.DeadLetter(ctx, entry.ID.Hex(), entry.Event.MaterialID, entry.LastError, entry.AttemptCount)
			a.publishDeadLettered(ctx, entry)
		} else {
			a.metrics.RecordEntryRetried(string(entry.Direction))
			logger.SyncApply(ctx, entry.ID.Hex(), entry.Event.MaterialID, entry.Partition, attempt, string(entry.Status), elapsed, applyErr)
		}
	}
}

// apply translates the entry's event into adjustments on the target ledger.
func (a *Applier) apply(ctx context.Context, entry *domain.SyncQueueEntry) error {
	switch entry.Direction {
	case domain.DirectionPlanningToWarehouse:
		return a.applyToWarehouse(ctx, entry)
	case domain.DirectionWarehouseToPlanning:
		return a.applyToPlanning(ctx, entry)
	default:
		return domain.Permanent(fmt.Errorf("entry %s has unknown direction %q", entry.ID.Hex(), entry.Direction))
	}
}

// applyToWarehouse fans one aggregate-location event out to its bin
// locations. Each sub-update carries its own idempotency key, so a retry
// after a partial failure re-sends all shares and the ones already applied
// are no-ops on the warehouse side.
func (a *Applier) applyToWarehouse(ctx context.Context, entry *domain.SyncQueueEntry) error {
	location := entry.Event.TargetLocation()
	mapping, err := a.mappings.FindByAggregateLocation(ctx, location)
	if err != nil {
		return err
	}

	subUpdates, err := mapping.FanOut(&entry.Event)
	if err != nil {
		return domain.Permanent(fmt.Errorf("fan-out for %s failed: %w", location, err))
	}

	for _, sub := range subUpdates {
		if sub.Quantity == 0 {
			continue
		}
		adj := &domain.LedgerAdjustment{
			IdempotencyKey: sub.IdempotencyKey,
			MaterialID:     entry.Event.MaterialID,
			LocationID:     sub.BinLocationID,
			Quantity:       sub.Quantity,
			EventType:      entry.Event.Type,
			Reason:         "sync:" + entry.Event.ID,
		}
		if err := a.warehouse.ApplyAdjustment(ctx, adj); err != nil {
			return err
		}
	}
	return nil
}

// applyToPlanning rolls one bin-level event up to its aggregate location as a
// single adjustment.
func (a *Applier) applyToPlanning(ctx context.Context, entry *domain.SyncQueueEntry) error {
	location := entry.Event.TargetLocation()
	mapping, err := a.mappings.FindByBinLocation(ctx, location)
	if err != nil {
		return err
	}

	adj := &domain.LedgerAdjustment{
		IdempotencyKey: entry.Event.IdempotencyKey,
		MaterialID:     entry.Event.MaterialID,
		LocationID:     mapping.AggregateLocationID,
		Quantity:       entry.Event.Quantity,
		EventType:      entry.Event.Type,
		Reason:         "sync:" + entry.Event.ID,
	}
	return a.planning.ApplyAdjustment(ctx, adj)
}

func (a *Applier) publishApplied(ctx context.Context, entry *domain.SyncQueueEntry) {
	if a.producer == nil {
		return
	}
	event := a.factory.CreateEntryAppliedEvent(ctx,
		entry.ID.Hex(), entry.Event.ID, entry.Event.MaterialID,
		string(entry.Direction), entry.AttemptCount, entry.ApplyLatencyMs)
	if err := a.producer.PublishEvent(ctx, kafka.Topics.SyncEvents, event); err != nil {
		a.logger.Warn("Failed to publish entry-applied event",
			"entryId", entry.ID.Hex(), "error", err)
	}
}

func (a *Applier) publishDeadLettered(ctx context.Context, entry *domain.SyncQueueEntry) {
	if a.producer == nil {
		return
	}
	event := a.factory.CreateEntryDeadLetteredEvent(ctx,
		entry.ID.Hex(), entry.Event.ID, entry.Event.MaterialID,
		string(entry.Direction), entry.AttemptCount, entry.LastError)
	if err := a.producer.PublishEvent(ctx, kafka.Topics.SyncEvents, event); err != nil {
		a.logger.Warn("Failed to publish dead-letter event",
			"entryId", entry.ID.Hex(), "error", err)
	}
}

func (a *Applier) markBlocked(entry *domain.SyncQueueEntry) {
	a.mu.Lock()
	a.blocked[entry.ID.Hex()] = struct{}{}
	count := len(a.blocked)
	a.mu.Unlock()
	a.metrics.SetMappingAlerts(count)
}

func (a *Applier) clearBlocked(entry *domain.SyncQueueEntry) {
	a.mu.Lock()
	_, was := a.blocked[entry.ID.Hex()]
	if was {
		delete(a.blocked, entry.ID.Hex())
	}
	count := len(a.blocked)
	a.mu.Unlock()
	if was {
		a.metrics.SetMappingAlerts(count)
	}
}

// reportDepth refreshes the queue depth gauges on a fixed cadence.
func (a *Applier) reportDepth(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			counts, err := a.queue.CountByStatus(ctx)
			if err != nil {
				if ctx.Err() == nil {
					a.logger.Warn("Failed to count queue depth", "error", err)
				}
				continue
			}
			for _, status := range []domain.EntryStatus{
				domain.StatusPending, domain.StatusInFlight,
				domain.StatusApplied, domain.StatusDeadLettered,
			} {
				a.metrics.SetQueueDepth(string(status), counts[status])
			}
		}
	}
}
