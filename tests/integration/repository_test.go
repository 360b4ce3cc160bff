package integration

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/wms-platform/inventory-sync-service/internal/domain"
	"github.com/wms-platform/inventory-sync-service/internal/infrastructure/mongodb"
	sharedtesting "github.com/wms-platform/inventory-sync-service/pkg/testing"
)

func newTestEntry(t *testing.T, eventID string, partitionCount int) *domain.SyncQueueEntry {
	t.Helper()

	// A fixed logical timestamp keeps the idempotency key stable across
	// redeliveries of the same event id.
	event, err := domain.NewInventoryEvent(
		eventID,
		domain.OriginPlanning,
		domain.EventAdjust,
		"MAT-100",
		25,
		"",
		"AGG-A",
		1700000000000,
	)
	require.NoError(t, err)

	entry, err := domain.NewSyncQueueEntry(event, domain.DirectionPlanningToWarehouse, partitionCount, 3)
	require.NoError(t, err)
	return entry
}

func setupQueueRepository(t *testing.T) (*mongodb.SyncQueueRepository, *sharedtesting.MongoDBContainer, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	mongoContainer, err := sharedtesting.NewMongoDBContainer(ctx)
	require.NoError(t, err)

	client, err := mongoContainer.GetPlatformClient(ctx, "test_sync_db")
	require.NoError(t, err)

	repo := mongodb.NewSyncQueueRepository(client)

	cleanup := func() {
		if err := client.Close(ctx); err != nil {
			t.Logf("Failed to disconnect MongoDB client: %v", err)
		}
		if err := mongoContainer.Close(ctx); err != nil {
			t.Logf("Failed to close MongoDB container: %v", err)
		}
	}

	return repo, mongoContainer, cleanup
}

func allPartitions(count int) []uint32 {
	partitions := make([]uint32, count)
	for i := range partitions {
		partitions[i] = uint32(i)
	}
	return partitions
}

func TestSyncQueueRepository_Enqueue(t *testing.T) {
	repo, _, cleanup := setupQueueRepository(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	t.Run("Enqueue new entry", func(t *testing.T) {
		entry := newTestEntry(t, "evt-enqueue-1", 16)

		stored, err := repo.Enqueue(ctx, entry)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, stored.Status)
		assert.False(t, stored.ID.IsZero())

		found, err := repo.FindByID(ctx, stored.ID.Hex())
		require.NoError(t, err)
		assert.Equal(t, "evt-enqueue-1", found.Event.ID)
	})

	t.Run("Redelivered event returns existing entry", func(t *testing.T) {
		first := newTestEntry(t, "evt-enqueue-2", 16)
		stored, err := repo.Enqueue(ctx, first)
		require.NoError(t, err)

		replay := newTestEntry(t, "evt-enqueue-2", 16)
		again, err := repo.Enqueue(ctx, replay)
		require.NoError(t, err)

		assert.Equal(t, stored.ID, again.ID)
	})
}

func TestSyncQueueRepository_LeaseAndAck(t *testing.T) {
	repo, mongoContainer, cleanup := setupQueueRepository(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entry := newTestEntry(t, "evt-lease-1", 16)
	stored, err := repo.Enqueue(ctx, entry)
	require.NoError(t, err)

	t.Run("Lease claims the partition head", func(t *testing.T) {
		leased, err := repo.LeaseNext(ctx, "worker-0", allPartitions(16), 10, 30*time.Second)
		require.NoError(t, err)
		require.Len(t, leased, 1)
		assert.Equal(t, stored.ID, leased[0].ID)
		assert.Equal(t, domain.StatusInFlight, leased[0].Status)
		assert.NotEmpty(t, leased[0].LeaseToken)
	})

	t.Run("Leased entry is not re-claimable", func(t *testing.T) {
		leased, err := repo.LeaseNext(ctx, "worker-1", allPartitions(16), 10, 30*time.Second)
		require.NoError(t, err)
		assert.Empty(t, leased)
	})

	t.Run("Ack with wrong token fails", func(t *testing.T) {
		current, err := repo.FindByID(ctx, stored.ID.Hex())
		require.NoError(t, err)

		current.MarkApplied(10 * time.Millisecond)
		err = repo.Ack(ctx, current, "not-the-token")
		assert.ErrorIs(t, err, domain.ErrLeaseMismatch)
	})

	t.Run("Ack moves the entry to the archive", func(t *testing.T) {
		current, err := repo.FindByID(ctx, stored.ID.Hex())
		require.NoError(t, err)
		token := current.LeaseToken

		current.MarkApplied(10 * time.Millisecond)
		require.NoError(t, repo.Ack(ctx, current, token))

		// Applied entries leave the live collection so partition-head
		// scans never pay for finished work.
		_, err = repo.FindByID(ctx, stored.ID.Hex())
		assert.ErrorIs(t, err, domain.ErrEntryNotFound)

		raw, err := mongoContainer.GetClient(ctx)
		require.NoError(t, err)
		defer raw.Disconnect(ctx)

		archived, err := raw.Database("test_sync_db").Collection("sync_queue_archive").
			CountDocuments(ctx, bson.M{"entry.event.idempotencyKey": current.Event.IdempotencyKey})
		require.NoError(t, err)
		assert.Equal(t, int64(1), archived)
	})

	t.Run("Ack of an archived entry reports entry not found", func(t *testing.T) {
		gone := stored
		gone.MarkApplied(10 * time.Millisecond)
		err := repo.Ack(ctx, gone, "stale-token")
		assert.ErrorIs(t, err, domain.ErrEntryNotFound)
	})
}

func TestSyncQueueRepository_PartitionOrdering(t *testing.T) {
	repo, _, cleanup := setupQueueRepository(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// All events share a material so they land on the same partition.
	var entries []*domain.SyncQueueEntry
	for i := 0; i < 3; i++ {
		entry := newTestEntry(t, fmt.Sprintf("evt-order-%d", i), 16)
		entry.EnqueuedAt = entry.EnqueuedAt.Add(time.Duration(i) * time.Millisecond)
		stored, err := repo.Enqueue(ctx, entry)
		require.NoError(t, err)
		entries = append(entries, stored)
	}

	// Only the oldest entry of the partition is claimable at a time.
	leased, err := repo.LeaseNext(ctx, "worker-0", allPartitions(16), 10, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, entries[0].ID, leased[0].ID)

	leased[0].MarkApplied(time.Millisecond)
	require.NoError(t, repo.Ack(ctx, leased[0], leased[0].LeaseToken))

	next, err := repo.LeaseNext(ctx, "worker-0", allPartitions(16), 10, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, next, 1)
	assert.Equal(t, entries[1].ID, next[0].ID)
}

func TestSyncQueueRepository_EnqueueOrderBreaksTimestampTies(t *testing.T) {
	repo, _, cleanup := setupQueueRepository(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Two events for the same partition landing in the same millisecond.
	// Enqueue order decides which one is the head.
	enqueuedAt := time.Now().UTC().Truncate(time.Millisecond)
	var entries []*domain.SyncQueueEntry
	for i := 0; i < 2; i++ {
		entry := newTestEntry(t, fmt.Sprintf("evt-tie-%d", i), 16)
		entry.EnqueuedAt = enqueuedAt
		stored, err := repo.Enqueue(ctx, entry)
		require.NoError(t, err)
		entries = append(entries, stored)
	}

	leased, err := repo.LeaseNext(ctx, "worker-0", allPartitions(16), 10, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	assert.Equal(t, entries[0].ID, leased[0].ID)
}

func TestSyncQueueRepository_FailAndRetry(t *testing.T) {
	repo, _, cleanup := setupQueueRepository(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entry := newTestEntry(t, "evt-fail-1", 16)
	_, err := repo.Enqueue(ctx, entry)
	require.NoError(t, err)

	leased, err := repo.LeaseNext(ctx, "worker-0", allPartitions(16), 10, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	claimed := leased[0]
	token := claimed.LeaseToken
	claimed.MarkTransientFailure(fmt.Errorf("ledger unavailable"), time.Second, time.Minute)
	require.NoError(t, repo.Fail(ctx, claimed, token))

	failed, err := repo.FindByID(ctx, claimed.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, failed.Status)
	assert.Equal(t, 1, failed.AttemptCount)
	assert.Contains(t, failed.LastError, "ledger unavailable")
	assert.True(t, failed.NextRetryAt.After(time.Now().UTC()))

	// The entry is back to pending, so the old lease token no longer
	// authorizes a late Ack.
	failed.MarkApplied(time.Millisecond)
	err = repo.Ack(ctx, failed, token)
	assert.ErrorIs(t, err, domain.ErrEntryNotLeased)
}

func TestSyncQueueRepository_ExpiredLeaseReclaim(t *testing.T) {
	repo, mongoContainer, cleanup := setupQueueRepository(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entry := newTestEntry(t, "evt-reclaim-1", 16)
	stored, err := repo.Enqueue(ctx, entry)
	require.NoError(t, err)

	leased, err := repo.LeaseNext(ctx, "worker-0", allPartitions(16), 10, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, leased, 1)
	firstToken := leased[0].LeaseToken

	// Backdate the lease expiry to simulate a worker that died mid-apply.
	raw, err := mongoContainer.GetClient(ctx)
	require.NoError(t, err)
	defer raw.Disconnect(ctx)

	_, err = raw.Database("test_sync_db").Collection("sync_queue").UpdateOne(ctx,
		bson.M{"_id": stored.ID},
		bson.M{"$set": bson.M{"leaseExpiresAt": time.Now().UTC().Add(-time.Minute)}})
	require.NoError(t, err)

	reclaimed, err := repo.LeaseNext(ctx, "worker-1", allPartitions(16), 10, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, reclaimed, 1)
	assert.Equal(t, stored.ID, reclaimed[0].ID)
	assert.NotEqual(t, firstToken, reclaimed[0].LeaseToken)

	// The dead worker's token must not finalize the reclaimed entry.
	stale, err := repo.FindByID(ctx, stored.ID.Hex())
	require.NoError(t, err)
	stale.MarkApplied(time.Millisecond)
	err = repo.Ack(ctx, stale, firstToken)
	assert.ErrorIs(t, err, domain.ErrLeaseMismatch)

	// The new holder can.
	reclaimed[0].MarkApplied(time.Millisecond)
	require.NoError(t, repo.Ack(ctx, reclaimed[0], reclaimed[0].LeaseToken))
}

func TestSyncQueueRepository_DeadLetterLifecycle(t *testing.T) {
	repo, mongoContainer, cleanup := setupQueueRepository(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entry := newTestEntry(t, "evt-dlq-1", 16)
	_, err := repo.Enqueue(ctx, entry)
	require.NoError(t, err)

	leased, err := repo.LeaseNext(ctx, "worker-0", allPartitions(16), 10, 30*time.Second)
	require.NoError(t, err)
	require.Len(t, leased, 1)

	claimed := leased[0]
	token := claimed.LeaseToken
	claimed.MarkPermanentFailure(fmt.Errorf("unknown material"))
	require.NoError(t, repo.Fail(ctx, claimed, token))

	t.Run("Dead-lettered entries are listed", func(t *testing.T) {
		deadLetters, err := repo.FindDeadLettered(ctx, 10)
		require.NoError(t, err)
		require.Len(t, deadLetters, 1)
		assert.Equal(t, domain.StatusDeadLettered, deadLetters[0].Status)
	})

	t.Run("Requeue resets the attempt budget", func(t *testing.T) {
		requeued, err := repo.Requeue(ctx, claimed.ID.Hex())
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, requeued.Status)
		assert.Equal(t, 0, requeued.AttemptCount)
	})

	t.Run("Requeue of a pending entry is rejected", func(t *testing.T) {
		_, err := repo.Requeue(ctx, claimed.ID.Hex())
		assert.ErrorIs(t, err, domain.ErrEntryNotTerminal)
	})

	t.Run("Discard archives the entry", func(t *testing.T) {
		// Walk the entry back to dead-lettered first.
		leased, err := repo.LeaseNext(ctx, "worker-0", allPartitions(16), 10, 30*time.Second)
		require.NoError(t, err)
		require.Len(t, leased, 1)

		leased[0].MarkPermanentFailure(fmt.Errorf("unknown material"))
		require.NoError(t, repo.Fail(ctx, leased[0], leased[0].LeaseToken))

		require.NoError(t, repo.Discard(ctx, claimed.ID.Hex()))

		_, err = repo.FindByID(ctx, claimed.ID.Hex())
		assert.ErrorIs(t, err, domain.ErrEntryNotFound)

		// The repository has no read path for the archive, so check the
		// collection directly.
		raw, err := mongoContainer.GetClient(ctx)
		require.NoError(t, err)
		defer raw.Disconnect(ctx)

		archived, err := raw.Database("test_sync_db").Collection("sync_queue_archive").
			CountDocuments(ctx, bson.M{"entry.event.idempotencyKey": claimed.Event.IdempotencyKey})
		require.NoError(t, err)
		assert.Equal(t, int64(1), archived)
	})
}

func TestSyncQueueRepository_CountByStatus(t *testing.T) {
	repo, _, cleanup := setupQueueRepository(t)
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for i := 0; i < 3; i++ {
		entry := newTestEntry(t, fmt.Sprintf("evt-count-%d", i), 16)
		_, err := repo.Enqueue(ctx, entry)
		require.NoError(t, err)
	}

	counts, err := repo.CountByStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), counts[domain.StatusPending])
	assert.Zero(t, counts[domain.StatusInFlight])
}

func TestMappingRepository_RoundTrip(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	mongoContainer, err := sharedtesting.NewMongoDBContainer(ctx)
	require.NoError(t, err)
	defer mongoContainer.Close(ctx)

	client, err := mongoContainer.GetPlatformClient(ctx, "test_sync_db")
	require.NoError(t, err)
	defer client.Close(ctx)

	repo := mongodb.NewMappingRepository(client)

	mapping := &domain.LocationMapping{
		AggregateLocationID: "AGG-A",
		Bins: []domain.BinAllocation{
			{BinLocationID: "WH-A-01", Weight: 0.6, Default: true},
			{BinLocationID: "WH-A-02", Weight: 0.4},
		},
		Active: true,
	}
	require.NoError(t, repo.Save(ctx, mapping))

	t.Run("Find by aggregate location", func(t *testing.T) {
		found, err := repo.FindByAggregateLocation(ctx, "AGG-A")
		require.NoError(t, err)
		assert.Len(t, found.Bins, 2)
	})

	t.Run("Find by bin location", func(t *testing.T) {
		found, err := repo.FindByBinLocation(ctx, "WH-A-02")
		require.NoError(t, err)
		assert.Equal(t, "AGG-A", found.AggregateLocationID)
	})

	t.Run("Unknown location misses", func(t *testing.T) {
		_, err := repo.FindByAggregateLocation(ctx, "AGG-UNKNOWN")
		assert.ErrorIs(t, err, domain.ErrMappingNotFound)
	})

	t.Run("Bin claimed by another mapping conflicts", func(t *testing.T) {
		conflicting := &domain.LocationMapping{
			AggregateLocationID: "AGG-B",
			Bins: []domain.BinAllocation{
				{BinLocationID: "WH-A-01", Weight: 1, Default: true},
			},
			Active: true,
		}
		err := repo.Save(ctx, conflicting)
		assert.ErrorIs(t, err, domain.ErrMappingConflict)
	})
}
