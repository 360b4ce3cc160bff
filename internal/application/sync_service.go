package application

import (
	"context"
	"fmt"

	"github.com/wms-platform/inventory-sync-service/internal/domain"
	"github.com/wms-platform/inventory-sync-service/pkg/cloudevents"
	"github.com/wms-platform/inventory-sync-service/pkg/errors"
	"github.com/wms-platform/inventory-sync-service/pkg/logging"
	"github.com/wms-platform/inventory-sync-service/pkg/metrics"
)

// eventPublisher is the slice of the Kafka producer the services need.
type eventPublisher interface {
	PublishEvent(ctx context.Context, topic string, event *cloudevents.WMSCloudEvent) error
	PublishBatch(ctx context.Context, topic string, events []*cloudevents.WMSCloudEvent) error
}

// SyncService handles event intake: validating ledger events and enqueueing
// them for delivery to the opposite ledger.
type SyncService struct {
	queue          domain.SyncQueueRepository
	producer       eventPublisher
	eventFactory   *cloudevents.EventFactory
	metrics        *metrics.Metrics
	logger         *logging.Logger
	partitionCount int
	maxAttempts    int
}

// NewSyncService creates a new SyncService
func NewSyncService(
	queue domain.SyncQueueRepository,
	producer eventPublisher,
	eventFactory *cloudevents.EventFactory,
	m *metrics.Metrics,
	logger *logging.Logger,
	partitionCount int,
	maxAttempts int,
) *SyncService {
	return &SyncService{
		queue:          queue,
		producer:       producer,
		eventFactory:   eventFactory,
		metrics:        m,
		logger:         logger,
		partitionCount: partitionCount,
		maxAttempts:    maxAttempts,
	}
}

// EnqueueEvent validates a ledger event and enqueues it for the opposite
// ledger. Redelivery of an event already enqueued returns the existing entry
// unchanged, so at-least-once intake never duplicates work.
func (s *SyncService) EnqueueEvent(ctx context.Context, cmd EnqueueEventCommand) (*QueueEntryDTO, error) {
	event, err := domain.NewInventoryEvent(
		cmd.EventID,
		domain.OriginSystem(cmd.Origin),
		domain.EventType(cmd.EventType),
		cmd.MaterialID,
		cmd.Quantity,
		cmd.SourceLocation,
		cmd.DestLocation,
		cmd.LogicalTimestamp,
	)
	if err != nil {
		return nil, errors.ErrValidation(err.Error())
	}

	direction := directionFor(event.Origin)
	entry, err := domain.NewSyncQueueEntry(event, direction, s.partitionCount, s.maxAttempts)
	if err != nil {
		return nil, errors.ErrValidation(err.Error())
	}

	stored, err := s.queue.Enqueue(ctx, entry)
	if err != nil {
		s.logger.Error("Failed to enqueue event", "eventId", cmd.EventID, "error", err)
		return nil, fmt.Errorf("failed to enqueue event: %w", err)
	}

	// A replayed event comes back with the original entry id; only a fresh
	// insert counts toward enqueue metrics.
	if stored.ID == entry.ID {
		s.metrics.RecordEntryEnqueued(string(direction), string(event.Type))
		s.logger.Info("Enqueued sync entry",
			"entryId", stored.ID.Hex(),
			"eventId", event.ID,
			"materialId", event.MaterialID,
			"direction", direction,
			"partition", stored.Partition,
		)
	} else {
		s.logger.Debug("Duplicate event intake ignored",
			"eventId", event.ID,
			"entryId", stored.ID.Hex(),
		)
	}

	return ToQueueEntryDTO(stored), nil
}

// directionFor maps an event's origin ledger to the sync flow it rides.
func directionFor(origin domain.OriginSystem) domain.SyncDirection {
	if origin == domain.OriginPlanning {
		return domain.DirectionPlanningToWarehouse
	}
	return domain.DirectionWarehouseToPlanning
}
