package mongodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/wms-platform/inventory-sync-service/internal/domain"
	platformdb "github.com/wms-platform/inventory-sync-service/pkg/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// RunRepository stores reconciliation run records.
type RunRepository struct {
	collection *platformdb.CircuitBreakerCollection
}

func NewRunRepository(db *platformdb.CircuitBreakerClient) *RunRepository {
	repo := &RunRepository{
		collection: db.Collection("reconciliation_runs"),
	}
	repo.ensureIndexes(context.Background())

	return repo
}

func (r *RunRepository) ensureIndexes(ctx context.Context) {
	indexes := []mongo.IndexModel{
		{Keys: bson.D{
			{Key: "startedAt", Value: -1},
		}},
		{Keys: bson.D{
			{Key: "status", Value: 1},
			{Key: "startedAt", Value: -1},
		}},
	}
	r.collection.Indexes().CreateMany(ctx, indexes)
}

func (r *RunRepository) Save(ctx context.Context, run *domain.ReconciliationRun) error {
	_, err := r.collection.InsertOne(ctx, run)
	if err != nil {
		return fmt.Errorf("failed to save reconciliation run: %w", err)
	}
	return nil
}

func (r *RunRepository) Update(ctx context.Context, run *domain.ReconciliationRun) error {
	result, err := r.collection.ReplaceOne(ctx, bson.M{"_id": run.ID}, run)
	if err != nil {
		return fmt.Errorf("failed to update reconciliation run: %w", err)
	}
	if result.MatchedCount == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

func (r *RunRepository) FindByID(ctx context.Context, runID string) (*domain.ReconciliationRun, error) {
	var run domain.ReconciliationRun
	err := r.collection.FindOne(ctx, bson.M{"_id": runID}).Decode(&run)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find reconciliation run: %w", err)
	}
	return &run, nil
}

func (r *RunRepository) FindRecent(ctx context.Context, limit int) ([]*domain.ReconciliationRun, error) {
	opts := options.Find().
		SetSort(platformdb.SortDescending("startedAt")).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, bson.M{}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list reconciliation runs: %w", err)
	}
	defer cursor.Close(ctx)

	var runs []*domain.ReconciliationRun
	err = cursor.All(ctx, &runs)
	return runs, err
}
