package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/inventory-sync-service/internal/domain"
	"github.com/wms-platform/inventory-sync-service/pkg/cloudevents"
	"github.com/wms-platform/inventory-sync-service/pkg/errors"
)

func newTestSyncService(queue *fakeQueueRepo) *SyncService {
	return NewSyncService(queue, &fakePublisher{},
		cloudevents.NewEventFactory(cloudevents.SourceSyncEngine),
		testMetrics(), testLogger(), 16, 5)
}

func enqueueCmd() EnqueueEventCommand {
	return EnqueueEventCommand{
		EventID:          "evt-1",
		Origin:           string(domain.OriginPlanning),
		EventType:        string(domain.EventReceive),
		MaterialID:       "MAT-100",
		Quantity:         10,
		DestLocation:     "AGG-A",
		LogicalTimestamp: 42,
	}
}

func TestEnqueueEvent(t *testing.T) {
	queue := newFakeQueueRepo()
	svc := newTestSyncService(queue)

	dto, err := svc.EnqueueEvent(context.Background(), enqueueCmd())
	require.NoError(t, err)

	assert.Equal(t, "evt-1", dto.EventID)
	assert.Equal(t, string(domain.DirectionPlanningToWarehouse), dto.Direction)
	assert.Equal(t, string(domain.StatusPending), dto.Status)
	assert.NotEmpty(t, dto.IdempotencyKey)
	assert.Len(t, queue.entries, 1)
}

func TestEnqueueEventWarehouseOriginFlowsToPlanning(t *testing.T) {
	queue := newFakeQueueRepo()
	svc := newTestSyncService(queue)

	cmd := enqueueCmd()
	cmd.Origin = string(domain.OriginWarehouse)
	cmd.DestLocation = "WH-A-01"

	dto, err := svc.EnqueueEvent(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, string(domain.DirectionWarehouseToPlanning), dto.Direction)
}

func TestEnqueueEventDuplicateReturnsExisting(t *testing.T) {
	queue := newFakeQueueRepo()
	svc := newTestSyncService(queue)

	first, err := svc.EnqueueEvent(context.Background(), enqueueCmd())
	require.NoError(t, err)

	second, err := svc.EnqueueEvent(context.Background(), enqueueCmd())
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Len(t, queue.entries, 1)
}

func TestEnqueueEventValidation(t *testing.T) {
	svc := newTestSyncService(newFakeQueueRepo())

	tests := []struct {
		name   string
		mutate func(*EnqueueEventCommand)
	}{
		{"missing event id", func(c *EnqueueEventCommand) { c.EventID = "" }},
		{"unknown origin", func(c *EnqueueEventCommand) { c.Origin = "system_c" }},
		{"unknown event type", func(c *EnqueueEventCommand) { c.EventType = "teleport" }},
		{"missing material", func(c *EnqueueEventCommand) { c.MaterialID = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := enqueueCmd()
			tt.mutate(&cmd)

			_, err := svc.EnqueueEvent(context.Background(), cmd)
			require.Error(t, err)
			assert.True(t, errors.IsAppError(err))
		})
	}
}
