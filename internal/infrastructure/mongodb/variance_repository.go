package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/wms-platform/inventory-sync-service/internal/domain"
	platformdb "github.com/wms-platform/inventory-sync-service/pkg/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// VarianceRepository stores reconciliation variance records.
type VarianceRepository struct {
	collection *platformdb.CircuitBreakerCollection
}

func NewVarianceRepository(db *platformdb.CircuitBreakerClient) *VarianceRepository {
	repo := &VarianceRepository{
		collection: db.Collection("variances"),
	}
	repo.ensureIndexes(context.Background())

	return repo
}

func (r *VarianceRepository) ensureIndexes(ctx context.Context) {
	indexes := []mongo.IndexModel{
		// Run drill-down
		{Keys: bson.D{
			{Key: "runId", Value: 1},
			{Key: "detectedAt", Value: -1},
		}},
		// Outstanding review queue
		{Keys: bson.D{
			{Key: "classification", Value: 1},
			{Key: "resolution", Value: 1},
			{Key: "detectedAt", Value: -1},
		}},
		// Pair history
		{Keys: bson.D{
			{Key: "materialId", Value: 1},
			{Key: "aggregateLocationId", Value: 1},
			{Key: "detectedAt", Value: -1},
		}},
	}
	r.collection.Indexes().CreateMany(ctx, indexes)
}

func (r *VarianceRepository) Save(ctx context.Context, record *domain.VarianceRecord) error {
	if record.ID.IsZero() {
		record.ID = primitive.NewObjectID()
	}

	_, err := r.collection.InsertOne(ctx, record)
	if err != nil {
		return fmt.Errorf("failed to save variance: %w", err)
	}
	return nil
}

func (r *VarianceRepository) Update(ctx context.Context, record *domain.VarianceRecord) error {
	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": record.ID}, record)
	if err != nil {
		return fmt.Errorf("failed to update variance: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrVarianceNotFound
	}
	return nil
}

func (r *VarianceRepository) FindByID(ctx context.Context, id string) (*domain.VarianceRecord, error) {
	oid, err := platformdb.ParseID(id)
	if err != nil {
		return nil, domain.ErrVarianceNotFound
	}

	var record domain.VarianceRecord
	err = r.collection.FindOne(ctx, bson.M{"_id": oid}).Decode(&record)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrVarianceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find variance: %w", err)
	}
	return &record, nil
}

// FindOutstanding lists unresolved variances, oldest first so operators work
// the backlog in detection order. An empty classification matches all.
func (r *VarianceRepository) FindOutstanding(ctx context.Context, classification domain.Classification, limit int) ([]*domain.VarianceRecord, error) {
	filter := bson.M{
		"resolution": bson.M{"$in": []string{
			string(domain.ResolutionNone),
			string(domain.ResolutionFlaggedForReview),
		}},
	}
	if classification != "" {
		filter["classification"] = classification
	}

	opts := options.Find().
		SetSort(platformdb.SortAscending("detectedAt")).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list outstanding variances: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*domain.VarianceRecord
	err = cursor.All(ctx, &records)
	return records, err
}

// CountOutstanding returns the number of unresolved variances per
// classification.
func (r *VarianceRepository) CountOutstanding(ctx context.Context) (map[domain.Classification]int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{
			"resolution": bson.M{"$in": []string{
				string(domain.ResolutionNone),
				string(domain.ResolutionFlaggedForReview),
			}},
		}}},
		{{Key: "$group", Value: bson.M{
			"_id":   "$classification",
			"count": bson.M{"$sum": 1},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to count outstanding variances: %w", err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Classification string `bson:"_id"`
		Count          int64  `bson:"count"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return nil, err
	}

	counts := make(map[domain.Classification]int64, len(rows))
	for _, row := range rows {
		counts[domain.Classification(row.Classification)] = row.Count
	}
	return counts, nil
}

func (r *VarianceRepository) FindByRunID(ctx context.Context, runID string) ([]*domain.VarianceRecord, error) {
	opts := options.Find().SetSort(platformdb.SortAscending("detectedAt"))

	cursor, err := r.collection.Find(ctx, bson.M{"runId": runID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list run variances: %w", err)
	}
	defer cursor.Close(ctx)

	var records []*domain.VarianceRecord
	err = cursor.All(ctx, &records)
	return records, err
}
