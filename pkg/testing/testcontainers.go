package testing

import (
	"context"
	"fmt"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/wms-platform/inventory-sync-service/pkg/logging"
	"github.com/wms-platform/inventory-sync-service/pkg/metrics"
	platformdb "github.com/wms-platform/inventory-sync-service/pkg/mongodb"
)

// MongoDBContainer wraps a testcontainers MongoDB instance
type MongoDBContainer struct {
	Container *mongodb.MongoDBContainer
	URI       string
}

// NewMongoDBContainer creates a new MongoDB testcontainer
func NewMongoDBContainer(ctx context.Context) (*MongoDBContainer, error) {
	mongoContainer, err := mongodb.Run(ctx,
		"mongo:6",
		mongodb.WithUsername("test"),
		mongodb.WithPassword("test"),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to start mongodb container: %w", err)
	}

	uri, err := mongoContainer.ConnectionString(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get connection string: %w", err)
	}

	return &MongoDBContainer{
		Container: mongoContainer,
		URI:       uri,
	}, nil
}

// Close terminates the MongoDB container
func (m *MongoDBContainer) Close(ctx context.Context) error {
	if m.Container != nil {
		return m.Container.Terminate(ctx)
	}
	return nil
}

// GetPlatformClient builds the instrumented, circuit breaker protected
// client stack against the test container, matching production wiring.
func (m *MongoDBContainer) GetPlatformClient(ctx context.Context, database string) (*platformdb.CircuitBreakerClient, error) {
	cfg := platformdb.DefaultConfig()
	cfg.URI = m.URI
	cfg.Database = database

	client, err := platformdb.NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect platform client: %w", err)
	}

	logger := logging.New(logging.DefaultConfig("integration-test"))
	instrumented := platformdb.NewInstrumentedClient(client, metrics.New(metrics.DefaultConfig("integration_test")), logger)
	return platformdb.NewCircuitBreakerClient(instrumented, logger), nil
}

// GetClient creates a MongoDB client connected to the test container
func (m *MongoDBContainer) GetClient(ctx context.Context) (*mongo.Client, error) {
	clientOptions := options.Client().ApplyURI(m.URI)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	// Ping to verify connection
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return client, nil
}
