package cloudevents

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventFactory creates CloudEvents for sync engine domain events
type EventFactory struct {
	source string
}

// NewEventFactory creates a new EventFactory for a specific source
func NewEventFactory(source string) *EventFactory {
	return &EventFactory{source: source}
}

// CreateEvent creates a new WMSCloudEvent with the given parameters
func (f *EventFactory) CreateEvent(
	ctx context.Context,
	eventType string,
	subject string,
	data interface{},
) *WMSCloudEvent {
	event := &WMSCloudEvent{
		SpecVersion:     "1.0",
		Type:            eventType,
		Source:          f.source,
		Subject:         subject,
		ID:              uuid.New().String(),
		Time:            time.Now().UTC(),
		DataContentType: "application/json",
		Data:            data,
		Extensions:      make(map[string]interface{}),
	}

	return event
}

// CreateEventWithCorrelation creates an event with correlation tracking
func (f *EventFactory) CreateEventWithCorrelation(
	ctx context.Context,
	eventType string,
	subject string,
	data interface{},
	correlationID string,
) *WMSCloudEvent {
	return f.CreateEvent(ctx, eventType, subject, data).WithCorrelation(correlationID)
}

// CreateEntryAppliedEvent creates an EntryApplied event
func (f *EventFactory) CreateEntryAppliedEvent(
	ctx context.Context,
	entryID string,
	eventID string,
	materialID string,
	direction string,
	attempts int,
	applyLatencyMs int64,
) *WMSCloudEvent {
	data := EntryAppliedData{
		EntryID:        entryID,
		EventID:        eventID,
		MaterialID:     materialID,
		Direction:      direction,
		Attempts:       attempts,
		ApplyLatencyMs: applyLatencyMs,
	}
	event := f.CreateEvent(ctx, EntryApplied, "sync-entry/"+entryID, data)
	event.SetExtension(ExtMaterialID, materialID)
	return event
}

// CreateEntryDeadLetteredEvent creates an EntryDeadLettered event
func (f *EventFactory) CreateEntryDeadLetteredEvent(
	ctx context.Context,
	entryID string,
	eventID string,
	materialID string,
	direction string,
	attempts int,
	lastError string,
) *WMSCloudEvent {
	data := EntryDeadLetteredData{
		EntryID:    entryID,
		EventID:    eventID,
		MaterialID: materialID,
		Direction:  direction,
		Attempts:   attempts,
		LastError:  lastError,
	}
	event := f.CreateEvent(ctx, EntryDeadLettered, "sync-entry/"+entryID, data)
	event.SetExtension(ExtMaterialID, materialID)
	return event
}

// CreateReconciliationCompletedEvent creates a ReconciliationCompleted event
func (f *EventFactory) CreateReconciliationCompletedEvent(
	ctx context.Context,
	data ReconciliationCompletedData,
) *WMSCloudEvent {
	return f.CreateEvent(ctx, ReconciliationCompleted, "reconciliation-run/"+data.RunID, data).
		WithRun(data.RunID)
}

// CreateVarianceDetectedEvent creates a VarianceDetected event
func (f *EventFactory) CreateVarianceDetectedEvent(
	ctx context.Context,
	data VarianceDetectedData,
) *WMSCloudEvent {
	event := f.CreateEvent(ctx, VarianceDetected, "variance/"+data.VarianceID, data).
		WithRun(data.RunID)
	event.SetExtension(ExtMaterialID, data.MaterialID)
	return event
}
