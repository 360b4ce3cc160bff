package mongodb

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/wms-platform/inventory-sync-service/pkg/resilience"
)

func newOpenBreaker(t *testing.T) *resilience.CircuitBreaker {
	t.Helper()

	cb := resilience.NewCircuitBreaker(&resilience.CircuitBreakerConfig{
		Name:                  "mongodb-test",
		MaxRequests:           1,
		Interval:              time.Minute,
		Timeout:               time.Minute,
		FailureThreshold:      1,
		SuccessThreshold:      1,
		FailureRatioThreshold: 0.5,
		MinRequestsToTrip:     100,
	}, slog.Default())

	_, err := cb.Execute(context.Background(), func() (interface{}, error) {
		return nil, errors.New("connection refused")
	})
	require.Error(t, err)
	return cb
}

func TestFindOneSurfacesOpenBreaker(t *testing.T) {
	// The underlying collection must never be reached once the breaker is
	// open, so a nil collection doubles as the assertion for that.
	coll := &CircuitBreakerCollection{circuitBreaker: newOpenBreaker(t)}

	res := coll.FindOne(context.Background(), bson.M{"_id": "anything"})

	err := res.Err()
	require.Error(t, err)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
	assert.NotErrorIs(t, err, mongo.ErrNoDocuments)

	var doc bson.M
	decodeErr := res.Decode(&doc)
	assert.ErrorIs(t, decodeErr, resilience.ErrCircuitOpen)
}

func TestFindOneAndUpdateSurfacesOpenBreaker(t *testing.T) {
	coll := &CircuitBreakerCollection{circuitBreaker: newOpenBreaker(t)}

	res := coll.FindOneAndUpdate(context.Background(), bson.M{}, bson.M{"$set": bson.M{"x": 1}})

	require.Error(t, res.Err())
	assert.ErrorIs(t, res.Err(), resilience.ErrCircuitOpen)
	assert.NotErrorIs(t, res.Err(), mongo.ErrNoDocuments)
}
