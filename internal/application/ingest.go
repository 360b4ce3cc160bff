package application

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wms-platform/inventory-sync-service/pkg/cloudevents"
	apperrors "github.com/wms-platform/inventory-sync-service/pkg/errors"
	"github.com/wms-platform/inventory-sync-service/pkg/kafka"
	"github.com/wms-platform/inventory-sync-service/pkg/logging"
)

// IngestService consumes inventory events from both ledgers' Kafka topics and
// feeds them into the sync queue. Intake is at-least-once: the consumer only
// commits offsets after a successful enqueue, and the queue's idempotency key
// de-duplicates redeliveries.
type IngestService struct {
	sync   *SyncService
	logger *logging.Logger
}

// NewIngestService creates a new IngestService
func NewIngestService(sync *SyncService, logger *logging.Logger) *IngestService {
	return &IngestService{
		sync:   sync,
		logger: logger,
	}
}

// eventSubscriber is the consumer-side subscription surface the intake needs.
type eventSubscriber interface {
	SubscribeAll(topic string, handler kafka.EventHandler)
}

// Register subscribes the intake handlers on both ledger topics.
func (s *IngestService) Register(consumer eventSubscriber) {
	consumer.SubscribeAll(kafka.Topics.PlanningEvents, s.handleLedgerEvent)
	consumer.SubscribeAll(kafka.Topics.WarehouseEvents, s.handleLedgerEvent)
}

// handleLedgerEvent parses one ledger CloudEvent and enqueues it. Malformed
// payloads are logged and dropped so they cannot wedge the topic; enqueue
// failures propagate so the offset is not committed and the message retries.
func (s *IngestService) handleLedgerEvent(ctx context.Context, event *cloudevents.WMSCloudEvent) error {
	logger := s.logger
	if event.CorrelationID != "" {
		logger = logger.WithCorrelationID(event.CorrelationID)
	}

	data, err := decodeInventoryEventData(event)
	if err != nil {
		logger.Error("Dropping malformed ledger event",
			"eventId", event.ID,
			"eventType", event.Type,
			"error", err,
		)
		return nil
	}

	// Some ledger producers carry the origin only as a header extension.
	if data.Origin == "" {
		if origin, ok := event.GetExtension(cloudevents.ExtOrigin); ok {
			data.Origin, _ = origin.(string)
		}
	}

	cmd := EnqueueEventCommand{
		EventID:          data.EventID,
		Origin:           data.Origin,
		EventType:        data.EventType,
		MaterialID:       data.MaterialID,
		Quantity:         data.Quantity,
		SourceLocation:   data.SourceLocation,
		DestLocation:     data.DestLocation,
		LogicalTimestamp: data.LogicalTimestamp,
	}

	if _, err := s.sync.EnqueueEvent(ctx, cmd); err != nil {
		// Validation failures are poison messages, not retryable intake
		// errors.
		if apperrors.IsAppError(err) {
			logger.Error("Dropping invalid ledger event",
				"eventId", data.EventID,
				"materialId", data.MaterialID,
				"error", err,
			)
			return nil
		}
		return err
	}
	return nil
}

// decodeInventoryEventData recovers the typed payload from the CloudEvent's
// generic data field.
func decodeInventoryEventData(event *cloudevents.WMSCloudEvent) (*cloudevents.InventoryEventData, error) {
	raw, err := json.Marshal(event.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode event data: %w", err)
	}

	var data cloudevents.InventoryEventData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to decode inventory event data: %w", err)
	}
	if data.EventID == "" {
		return nil, fmt.Errorf("event data missing eventId")
	}
	return &data, nil
}
