package application

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/inventory-sync-service/internal/domain"
	"github.com/wms-platform/inventory-sync-service/pkg/cloudevents"
	sharedtesting "github.com/wms-platform/inventory-sync-service/pkg/testing"
)

type applierFixture struct {
	applier   *Applier
	queue     *fakeQueueRepo
	mappings  *fakeMappingRepo
	planning  *fakeLedger
	warehouse *fakeLedger
	publisher *fakePublisher
}

func newApplierFixture(t *testing.T) *applierFixture {
	t.Helper()
	f := &applierFixture{
		queue:     newFakeQueueRepo(),
		mappings:  newFakeMappingRepo(),
		planning:  newFakeLedger(),
		warehouse: newFakeLedger(),
		publisher: &fakePublisher{},
	}
	f.applier = NewApplier(ApplierConfig{
		WorkerCount:          1,
		PartitionCount:       16,
		BatchSize:            16,
		LeaseTimeout:         30 * time.Second,
		PollInterval:         10 * time.Millisecond,
		BackoffBase:          time.Millisecond,
		BackoffCap:           10 * time.Millisecond,
		MappingRetryInterval: time.Minute,
	}, f.queue, f.mappings, f.planning, f.warehouse, f.publisher,
		cloudevents.NewEventFactory(cloudevents.SourceSyncEngine),
		testMetrics(), testLogger())
	return f
}

func (f *applierFixture) addMapping(t *testing.T, agg string, bins ...domain.BinAllocation) {
	t.Helper()
	require.NoError(t, f.mappings.Save(context.Background(), &domain.LocationMapping{
		AggregateLocationID: agg,
		Bins:                bins,
		Active:              true,
	}))
}

func (f *applierFixture) enqueue(t *testing.T, origin domain.OriginSystem, eventType domain.EventType, qty int64, dest string) *domain.SyncQueueEntry {
	t.Helper()
	event, err := domain.NewInventoryEvent("evt-"+dest, origin, eventType, "MAT-100", qty, "", dest, time.Now().UnixNano())
	require.NoError(t, err)

	direction := directionFor(origin)
	entry, err := domain.NewSyncQueueEntry(event, direction, 16, 3)
	require.NoError(t, err)

	stored, err := f.queue.Enqueue(context.Background(), entry)
	require.NoError(t, err)
	return stored
}

func (f *applierFixture) lease(t *testing.T, entry *domain.SyncQueueEntry) *domain.SyncQueueEntry {
	t.Helper()
	leased, err := f.queue.LeaseNext(context.Background(), "worker-0", []uint32{entry.Partition}, 1, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	return leased[0]
}

func TestProcessEntryFansOutToWarehouse(t *testing.T) {
	f := newApplierFixture(t)
	f.addMapping(t, "AGG-A",
		domain.BinAllocation{BinLocationID: "WH-A-01", Weight: 0.6, Default: true},
		domain.BinAllocation{BinLocationID: "WH-A-02", Weight: 0.4},
	)
	entry := f.enqueue(t, domain.OriginPlanning, domain.EventReceive, 10, "AGG-A")
	leased := f.lease(t, entry)

	f.applier.processEntry(context.Background(), testLogger(), leased)

	assert.Equal(t, domain.StatusApplied, leased.Status)
	require.Equal(t, 2, f.warehouse.appliedCount())
	assert.Equal(t, int64(6), f.warehouse.applied[0].Quantity)
	assert.Equal(t, "WH-A-01", f.warehouse.applied[0].LocationID)
	assert.Equal(t, int64(4), f.warehouse.applied[1].Quantity)
	assert.Equal(t, "WH-A-02", f.warehouse.applied[1].LocationID)
	assert.Len(t, f.publisher.eventsOfType(cloudevents.EntryApplied), 1)
}

func TestProcessEntryRollsUpToPlanning(t *testing.T) {
	f := newApplierFixture(t)
	f.addMapping(t, "AGG-A",
		domain.BinAllocation{BinLocationID: "WH-A-01", Weight: 1},
	)
	entry := f.enqueue(t, domain.OriginWarehouse, domain.EventIssue, -5, "")
	entry.Event.SourceLocation = "WH-A-01"
	leased := f.lease(t, entry)

	f.applier.processEntry(context.Background(), testLogger(), leased)

	assert.Equal(t, domain.StatusApplied, leased.Status)
	require.Equal(t, 1, f.planning.appliedCount())
	assert.Equal(t, "AGG-A", f.planning.applied[0].LocationID)
	assert.Equal(t, int64(-5), f.planning.applied[0].Quantity)
	assert.Equal(t, entry.Event.IdempotencyKey, f.planning.applied[0].IdempotencyKey)
	assert.Equal(t, 0, f.warehouse.appliedCount())
}

func TestProcessEntryRetriesSubUpdatesIdempotently(t *testing.T) {
	f := newApplierFixture(t)
	f.addMapping(t, "AGG-A",
		domain.BinAllocation{BinLocationID: "WH-A-01", Weight: 0.5},
		domain.BinAllocation{BinLocationID: "WH-A-02", Weight: 0.5},
	)
	entry := f.enqueue(t, domain.OriginPlanning, domain.EventReceive, 8, "AGG-A")
	leased := f.lease(t, entry)

	// First share lands, then the ledger goes away.
	require.NoError(t, f.warehouse.ApplyAdjustment(context.Background(), &domain.LedgerAdjustment{
		IdempotencyKey: entry.Event.SubKey(0),
		MaterialID:     "MAT-100",
		LocationID:     "WH-A-01",
		Quantity:       4,
	}))

	f.applier.processEntry(context.Background(), testLogger(), leased)

	// The retry re-sends both shares; the first collapses on its key.
	assert.Equal(t, domain.StatusApplied, leased.Status)
	require.Equal(t, 2, f.warehouse.appliedCount())
	assert.Equal(t, "WH-A-02", f.warehouse.applied[1].LocationID)
}

func TestProcessEntryTransientFailureRetries(t *testing.T) {
	f := newApplierFixture(t)
	f.addMapping(t, "AGG-A", domain.BinAllocation{BinLocationID: "WH-A-01", Weight: 1})
	f.warehouse.applyErr = domain.Transient(errors.New("ledger unavailable"))

	entry := f.enqueue(t, domain.OriginPlanning, domain.EventReceive, 5, "AGG-A")
	leased := f.lease(t, entry)

	f.applier.processEntry(context.Background(), testLogger(), leased)

	assert.Equal(t, domain.StatusPending, leased.Status)
	assert.Equal(t, 1, leased.AttemptCount)
	assert.Contains(t, leased.LastError, "ledger unavailable")
	assert.Empty(t, f.publisher.eventsOfType(cloudevents.EntryDeadLettered))
}

func TestProcessEntryPermanentFailureDeadLetters(t *testing.T) {
	f := newApplierFixture(t)
	f.addMapping(t, "AGG-A", domain.BinAllocation{BinLocationID: "WH-A-01", Weight: 1})
	f.warehouse.applyErr = domain.Permanent(errors.New("material rejected"))

	entry := f.enqueue(t, domain.OriginPlanning, domain.EventReceive, 5, "AGG-A")
	leased := f.lease(t, entry)

	f.applier.processEntry(context.Background(), testLogger(), leased)

	assert.Equal(t, domain.StatusDeadLettered, leased.Status)
	assert.Len(t, f.publisher.eventsOfType(cloudevents.EntryDeadLettered), 1)
}

func TestProcessEntryExhaustedAttemptsDeadLetters(t *testing.T) {
	f := newApplierFixture(t)
	f.addMapping(t, "AGG-A", domain.BinAllocation{BinLocationID: "WH-A-01", Weight: 1})
	f.warehouse.applyErr = domain.Transient(errors.New("still down"))

	entry := f.enqueue(t, domain.OriginPlanning, domain.EventReceive, 5, "AGG-A")

	for i := 0; i < 3; i++ {
		entry.NextRetryAt = time.Now().UTC().Add(-time.Second)
		entry.Status = domain.StatusPending
		f.queue.entries[entry.ID.Hex()] = entry
		leased := f.lease(t, entry)
		f.applier.processEntry(context.Background(), testLogger(), leased)
		entry = f.queue.entries[entry.ID.Hex()]
	}

	assert.Equal(t, domain.StatusDeadLettered, entry.Status)
	assert.Equal(t, 3, entry.AttemptCount)
	assert.Len(t, f.publisher.eventsOfType(cloudevents.EntryDeadLettered), 1)
}

func TestProcessEntryMappingMissBlocksWithoutConsumingAttempt(t *testing.T) {
	f := newApplierFixture(t)
	// No mapping registered for AGG-A.
	entry := f.enqueue(t, domain.OriginPlanning, domain.EventReceive, 5, "AGG-A")
	leased := f.lease(t, entry)

	f.applier.processEntry(context.Background(), testLogger(), leased)

	assert.Equal(t, domain.StatusPending, leased.Status)
	assert.Equal(t, 0, leased.AttemptCount)
	assert.True(t, leased.NextRetryAt.After(time.Now().UTC().Add(30*time.Second)))
	assert.Empty(t, f.publisher.eventsOfType(cloudevents.EntryDeadLettered))
}

func TestWorkerPartitionsAreDisjoint(t *testing.T) {
	f := newApplierFixture(t)
	f.applier.config.WorkerCount = 3
	f.applier.config.PartitionCount = 16

	seen := make(map[uint32]int)
	for worker := 0; worker < 3; worker++ {
		for _, p := range f.applier.workerPartitions(worker) {
			seen[p]++
		}
	}

	assert.Len(t, seen, 16)
	for p, count := range seen {
		assert.Equal(t, 1, count, "partition %d owned by %d workers", p, count)
	}
}

func TestStartDrainsQueue(t *testing.T) {
	f := newApplierFixture(t)
	f.addMapping(t, "AGG-A", domain.BinAllocation{BinLocationID: "WH-A-01", Weight: 1, Default: true})
	f.enqueue(t, domain.OriginPlanning, domain.EventReceive, 10, "AGG-A")

	ctx, cancel := sharedtesting.CreateTestContext(5 * time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		f.applier.Start(ctx)
		close(done)
	}()

	sharedtesting.AssertEventually(t, func() bool {
		return f.warehouse.appliedCount() == 1
	}, 2*time.Second, "worker loop did not apply the pending entry")

	cancel()
	<-done
}

func TestStartStopsOnContextCancel(t *testing.T) {
	f := newApplierFixture(t)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		f.applier.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("applier did not stop on cancel")
	}
}
