package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wms-platform/inventory-sync-service/internal/domain"
	platformdb "github.com/wms-platform/inventory-sync-service/pkg/mongodb"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MappingRepository stores the aggregate-to-bin location registry.
type MappingRepository struct {
	collection *platformdb.CircuitBreakerCollection
}

func NewMappingRepository(db *platformdb.CircuitBreakerClient) *MappingRepository {
	repo := &MappingRepository{
		collection: db.Collection("location_mappings"),
	}
	repo.ensureIndexes(context.Background())

	return repo
}

func (r *MappingRepository) ensureIndexes(ctx context.Context) {
	indexes := []mongo.IndexModel{
		// Reverse lookup from bin to owning aggregate location
		{Keys: bson.D{
			{Key: "bins.binLocationId", Value: 1},
			{Key: "active", Value: 1},
		}},
	}
	r.collection.Indexes().CreateMany(ctx, indexes)
}

// Save upserts a mapping after checking that none of its bins is claimed by
// another active mapping. Bin ownership must stay disjoint or reverse
// resolution becomes ambiguous.
func (r *MappingRepository) Save(ctx context.Context, mapping *domain.LocationMapping) error {
	if err := mapping.Validate(); err != nil {
		return err
	}

	conflictFilter := bson.M{
		"_id":               bson.M{"$ne": mapping.AggregateLocationID},
		"active":            true,
		"bins.binLocationId": bson.M{"$in": mapping.BinIDs()},
	}
	count, err := r.collection.CountDocuments(ctx, conflictFilter)
	if err != nil {
		return fmt.Errorf("failed to check mapping disjointness: %w", err)
	}
	if count > 0 {
		return domain.ErrMappingConflict
	}

	mapping.UpdatedAt = time.Now().UTC()

	_, err = r.collection.ReplaceOne(ctx,
		bson.M{"_id": mapping.AggregateLocationID},
		mapping,
		options.Replace().SetUpsert(true),
	)
	if err != nil {
		return fmt.Errorf("failed to save mapping: %w", err)
	}
	return nil
}

func (r *MappingRepository) FindByAggregateLocation(ctx context.Context, aggregateLocationID string) (*domain.LocationMapping, error) {
	var mapping domain.LocationMapping
	err := r.collection.FindOne(ctx, bson.M{
		"_id":    aggregateLocationID,
		"active": true,
	}).Decode(&mapping)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrMappingNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find mapping: %w", err)
	}
	return &mapping, nil
}

func (r *MappingRepository) FindByBinLocation(ctx context.Context, binLocationID string) (*domain.LocationMapping, error) {
	cursor, err := r.collection.Find(ctx, bson.M{
		"bins.binLocationId": binLocationID,
		"active":             true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find mapping by bin: %w", err)
	}
	defer cursor.Close(ctx)

	var mappings []*domain.LocationMapping
	if err := cursor.All(ctx, &mappings); err != nil {
		return nil, err
	}

	switch len(mappings) {
	case 0:
		return nil, domain.ErrMappingNotFound
	case 1:
		return mappings[0], nil
	default:
		return nil, domain.ErrMappingConflict
	}
}

func (r *MappingRepository) FindAll(ctx context.Context) ([]*domain.LocationMapping, error) {
	cursor, err := r.collection.Find(ctx,
		bson.M{"active": true},
		options.Find().SetSort(platformdb.SortAscending("_id")),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer cursor.Close(ctx)

	var mappings []*domain.LocationMapping
	err = cursor.All(ctx, &mappings)
	return mappings, err
}
