package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/wms-platform/inventory-sync-service/internal/domain"
	platformdb "github.com/wms-platform/inventory-sync-service/pkg/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// SyncQueueRepository is the MongoDB implementation of the durable event
// queue. The unique index on the event idempotency key makes Enqueue a
// replay-safe upsert, and lease claims go through findOneAndUpdate so a
// partition head can only ever be held by one worker.
type SyncQueueRepository struct {
	collection *platformdb.CircuitBreakerCollection
	archive    *platformdb.CircuitBreakerCollection
}

func NewSyncQueueRepository(db *platformdb.CircuitBreakerClient) *SyncQueueRepository {
	repo := &SyncQueueRepository{
		collection: db.Collection("sync_queue"),
		archive:    db.Collection("sync_queue_archive"),
	}
	repo.ensureIndexes(context.Background())

	return repo
}

func (r *SyncQueueRepository) ensureIndexes(ctx context.Context) {
	indexes := []mongo.IndexModel{
		// Replay detection: one entry per origin event
		{
			Keys: bson.D{{Key: "event.idempotencyKey", Value: 1}},
			Options: options.Index().
				SetName("idx_idempotency_key").
				SetUnique(true),
		},
		// Partition-head lookup
		{Keys: bson.D{
			{Key: "partition", Value: 1},
			{Key: "status", Value: 1},
			{Key: "enqueuedAt", Value: 1},
		}},
		// Dead-letter review and status counts
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "enqueuedAt", Value: -1},
		}},
	}
	r.collection.Indexes().CreateMany(ctx, indexes)

	// Archived entries age out after 90 days
	r.archive.CreateIndex(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "archivedAt", Value: 1}},
		Options: options.Index().
			SetName("idx_archivedAt_ttl").
			SetExpireAfterSeconds(7776000),
	})
}

// Enqueue persists an entry. A replayed event (same idempotency key) is a
// no-op that returns the entry already in the queue.
func (r *SyncQueueRepository) Enqueue(ctx context.Context, entry *domain.SyncQueueEntry) (*domain.SyncQueueEntry, error) {
	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}

	_, err := r.collection.InsertOne(ctx, entry)
	if err == nil {
		return entry, nil
	}

	if mongo.IsDuplicateKeyError(err) {
		var existing domain.SyncQueueEntry
		findErr := r.collection.FindOne(ctx, bson.M{
			"event.idempotencyKey": entry.Event.IdempotencyKey,
		}).Decode(&existing)
		if findErr != nil {
			return nil, fmt.Errorf("failed to load existing entry after duplicate enqueue: %w", findErr)
		}
		return &existing, nil
	}

	return nil, fmt.Errorf("failed to enqueue entry: %w", err)
}

// LeaseNext claims up to limit partition-head entries. Only the oldest
// non-terminal entry of each partition is a candidate; an entry is claimable
// when it is pending with its retry time reached, or in flight with an
// expired lease (worker crash reclaim). Claiming is a guarded
// findOneAndUpdate so concurrent workers cannot double-lease.
func (r *SyncQueueRepository) LeaseNext(ctx context.Context, workerID string, partitions []uint32, limit int, leaseFor time.Duration) ([]*domain.SyncQueueEntry, error) {
	if limit <= 0 || len(partitions) == 0 {
		return nil, nil
	}

	now := time.Now().UTC()

	// Find the head entry of each requested partition.
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"partition": bson.M{"$in": partitions},
			"status":    bson.M{"$in": []string{string(domain.StatusPending), string(domain.StatusInFlight)}},
		}}},
		// ObjectIDs rise monotonically at enqueue time, so they break
		// ties between entries sharing an enqueuedAt millisecond.
		{{Key: "$sort", Value: bson.D{{Key: "enqueuedAt", Value: 1}, {Key: "_id", Value: 1}}}},
		{{Key: "$group", Value: bson.M{
			"_id":  "$partition",
			"head": bson.M{"$first": "$$ROOT"},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to find partition heads: %w", err)
	}
	defer cursor.Close(ctx)

	var heads []struct {
		Head domain.SyncQueueEntry `bson:"head"`
	}
	if err := cursor.All(ctx, &heads); err != nil {
		return nil, fmt.Errorf("failed to decode partition heads: %w", err)
	}

	leased := make([]*domain.SyncQueueEntry, 0, limit)
	for _, h := range heads {
		if len(leased) >= limit {
			break
		}

		head := h.Head
		claimable := false
		switch head.Status {
		case domain.StatusPending:
			claimable = !head.NextRetryAt.After(now)
		case domain.StatusInFlight:
			claimable = head.LeaseExpiresAt != nil && head.LeaseExpiresAt.Before(now)
		}
		if !claimable {
			continue
		}

		token := uuid.New().String()
		expires := now.Add(leaseFor)

		// Guard against the head having been claimed since the aggregate ran.
		filter := bson.M{
			"_id":    head.ID,
			"status": head.Status,
		}
		if head.Status == domain.StatusInFlight {
			filter["leaseToken"] = head.LeaseToken
		}

		var claimed domain.SyncQueueEntry
		err := r.collection.FindOneAndUpdate(ctx, filter,
			bson.M{"$set": bson.M{
				"status":         domain.StatusInFlight,
				"leaseToken":     token,
				"leaseExpiresAt": expires,
				"leasedBy":       workerID,
			}},
			options.FindOneAndUpdate().SetReturnDocument(options.After),
		).Decode(&claimed)
		if err != nil {
			if errors.Is(err, mongo.ErrNoDocuments) {
				continue // lost the race, another worker has it
			}
			return leased, fmt.Errorf("failed to claim partition head: %w", err)
		}

		leased = append(leased, &claimed)
	}

	return leased, nil
}

// Ack finalizes a leased entry as applied under the lease token guard and
// moves it to the archive collection. Applied entries leave the hot
// collection so partition-head scans only ever see live work.
func (r *SyncQueueRepository) Ack(ctx context.Context, entry *domain.SyncQueueEntry, token string) error {
	err := r.collection.FindOneAndDelete(ctx, bson.M{
		"_id":        entry.ID,
		"status":     domain.StatusInFlight,
		"leaseToken": token,
	}).Err()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return r.classifyGuardMiss(ctx, entry.ID)
	}
	if err != nil {
		return fmt.Errorf("failed to ack entry: %w", err)
	}

	archived := bson.M{
		"entry":      entry,
		"archivedAt": time.Now().UTC(),
	}
	if _, err := r.archive.InsertOne(ctx, archived); err != nil {
		return fmt.Errorf("failed to archive applied entry: %w", err)
	}
	return nil
}

// Fail persists the entry's failure state (already computed by the domain
// transition) under the same lease token guard as Ack.
func (r *SyncQueueRepository) Fail(ctx context.Context, entry *domain.SyncQueueEntry, token string) error {
	result, err := r.collection.UpdateOne(ctx,
		bson.M{
			"_id":        entry.ID,
			"status":     domain.StatusInFlight,
			"leaseToken": token,
		},
		bson.M{
			"$set": bson.M{
				"status":       entry.Status,
				"attemptCount": entry.AttemptCount,
				"nextRetryAt":  entry.NextRetryAt,
				"lastError":    entry.LastError,
			},
			"$unset": bson.M{
				"leaseToken":     "",
				"leaseExpiresAt": "",
				"leasedBy":       "",
			},
		},
	)
	if err != nil {
		return fmt.Errorf("failed to record entry failure: %w", err)
	}
	if result.MatchedCount == 0 {
		return r.classifyGuardMiss(ctx, entry.ID)
	}
	return nil
}

func (r *SyncQueueRepository) classifyGuardMiss(ctx context.Context, entryID primitive.ObjectID) error {
	var entry domain.SyncQueueEntry
	err := r.collection.FindOne(ctx, bson.M{"_id": entryID}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.ErrEntryNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to inspect entry after guard miss: %w", err)
	}
	// An expired lease gets reaped back to pending before the late writer
	// arrives; only an in-flight entry can carry a mismatched token.
	if entry.Status != domain.StatusInFlight {
		return domain.ErrEntryNotLeased
	}
	return domain.ErrLeaseMismatch
}

// FindDeadLettered lists dead-lettered entries, newest first.
func (r *SyncQueueRepository) FindDeadLettered(ctx context.Context, limit int) ([]*domain.SyncQueueEntry, error) {
	opts := options.Find().
		SetSort(platformdb.SortDescending("enqueuedAt")).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{"status": domain.StatusDeadLettered}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var entries []*domain.SyncQueueEntry
	err = cursor.All(ctx, &entries)
	return entries, err
}

func (r *SyncQueueRepository) FindByID(ctx context.Context, entryID string) (*domain.SyncQueueEntry, error) {
	oid, err := platformdb.ParseID(entryID)
	if err != nil {
		return nil, domain.ErrEntryNotFound
	}

	var entry domain.SyncQueueEntry
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrEntryNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find entry: %w", err)
	}
	return &entry, nil
}

// Requeue resets a dead-lettered entry to pending with a fresh attempt
// budget. The status guard keeps a concurrently applied entry from being
// reset.
func (r *SyncQueueRepository) Requeue(ctx context.Context, entryID string) (*domain.SyncQueueEntry, error) {
	oid, err := platformdb.ParseID(entryID)
	if err != nil {
		return nil, domain.ErrEntryNotFound
	}

	var entry domain.SyncQueueEntry
	err = r.collection.FindOneAndUpdate(ctx,
		bson.M{
			"_id":    oid,
			"status": domain.StatusDeadLettered,
		},
		bson.M{"$set": bson.M{
			"status":       domain.StatusPending,
			"attemptCount": 0,
			"lastError":    "",
			"nextRetryAt":  time.Now().UTC(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, findErr := r.FindByID(ctx, entryID); findErr != nil {
			return nil, findErr
		}
		return nil, domain.ErrEntryNotTerminal
	}
	if err != nil {
		return nil, fmt.Errorf("failed to requeue entry: %w", err)
	}
	return &entry, nil
}

// Discard moves a dead-lettered entry to the archive collection without
// applying it.
func (r *SyncQueueRepository) Discard(ctx context.Context, entryID string) error {
	oid, err := platformdb.ParseID(entryID)
	if err != nil {
		return domain.ErrEntryNotFound
	}

	var entry domain.SyncQueueEntry
	err = r.collection.FindOneAndDelete(ctx, bson.M{
		"_id":    oid,
		"status": domain.StatusDeadLettered,
	}).Decode(&entry)
	if errors.Is(err, mongo.ErrNoDocuments) {
		if _, findErr := r.FindByID(ctx, entryID); findErr != nil {
			return findErr
		}
		return domain.ErrEntryNotTerminal
	}
	if err != nil {
		return fmt.Errorf("failed to discard entry: %w", err)
	}

	archived := bson.M{
		"entry":      entry,
		"archivedAt": time.Now().UTC(),
	}
	if _, err := r.archive.InsertOne(ctx, archived); err != nil {
		return fmt.Errorf("failed to archive discarded entry: %w", err)
	}
	return nil
}

// CountByStatus returns queue depth per delivery status.
func (r *SyncQueueRepository) CountByStatus(ctx context.Context) (map[domain.EntryStatus]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$group", Value: bson.M{
			"_id":   "$status",
			"count": bson.M{"$sum": 1},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to count entries by status: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Status string `bson:"_id"`
		Count  int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	counts := make(map[domain.EntryStatus]int64, len(rows))
	for _, row := range rows {
		counts[domain.EntryStatus(row.Status)] = row.Count
	}
	return counts, nil
}
