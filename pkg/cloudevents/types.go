package cloudevents

import (
	"time"
)

// EventType constants for sync engine domain events
const (
	// Queue lifecycle events
	EntryEnqueued     = "wms.sync.entry-enqueued"
	EntryApplied      = "wms.sync.entry-applied"
	EntryDeadLettered = "wms.sync.entry-dead-lettered"
	EntryRequeued     = "wms.sync.entry-requeued"

	// Reconciliation events
	ReconciliationStarted   = "wms.reconciliation.started"
	ReconciliationCompleted = "wms.reconciliation.completed"
	VarianceDetected        = "wms.reconciliation.variance-detected"
	CorrectionIssued        = "wms.reconciliation.correction-issued"

	// Ledger events consumed from the two systems
	InventoryEventPlanning  = "wms.inventory.planning-event"
	InventoryEventWarehouse = "wms.inventory.warehouse-event"
	InventoryAdjusted       = "wms.inventory.adjusted"
)

// Source constants for event sources
const (
	SourceSyncEngine      = "/wms/inventory-sync-service"
	SourcePlanningLedger  = "/wms/planning-ledger"
	SourceWarehouseLedger = "/wms/warehouse-ledger"
)

// WMSCloudEvent represents a CloudEvents v1.0 compliant event for WMS
type WMSCloudEvent struct {
	SpecVersion     string                 `json:"specversion"`
	Type            string                 `json:"type"`
	Source          string                 `json:"source"`
	Subject         string                 `json:"subject,omitempty"`
	ID              string                 `json:"id"`
	Time            time.Time              `json:"time"`
	DataContentType string                 `json:"datacontenttype"`
	Data            interface{}            `json:"data"`
	Extensions      map[string]interface{} `json:"-"`

	// WMS-specific extensions
	CorrelationID string `json:"wmscorrelationid,omitempty"`
	RunID         string `json:"wmsrunid,omitempty"`
}

// EntryAppliedData represents the data payload for EntryApplied events
type EntryAppliedData struct {
	EntryID        string `json:"entryId"`
	EventID        string `json:"eventId"`
	MaterialID     string `json:"materialId"`
	Direction      string `json:"direction"`
	Attempts       int    `json:"attempts"`
	ApplyLatencyMs int64  `json:"applyLatencyMs"`
}

// EntryDeadLetteredData represents the data payload for EntryDeadLettered events
type EntryDeadLetteredData struct {
	EntryID    string `json:"entryId"`
	EventID    string `json:"eventId"`
	MaterialID string `json:"materialId"`
	Direction  string `json:"direction"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"lastError"`
}

// ReconciliationCompletedData represents the data payload for
// ReconciliationCompleted events
type ReconciliationCompletedData struct {
	RunID             string `json:"runId"`
	Status            string `json:"status"`
	PairsChecked      int    `json:"pairsChecked"`
	MatchedCount      int    `json:"matchedCount"`
	MinorCount        int    `json:"minorCount"`
	MajorCount        int    `json:"majorCount"`
	CorrectionsIssued int    `json:"correctionsIssued"`
	DurationMs        int64  `json:"durationMs"`
}

// VarianceDetectedData represents the data payload for VarianceDetected events
type VarianceDetectedData struct {
	VarianceID          string  `json:"varianceId"`
	RunID               string  `json:"runId"`
	MaterialID          string  `json:"materialId"`
	AggregateLocationID string  `json:"aggregateLocationId"`
	PlanningQty         int64   `json:"planningQty"`
	WarehouseQty        int64   `json:"warehouseQty"`
	DeltaPct            float64 `json:"deltaPct"`
	Classification      string  `json:"classification"`
}

// InventoryEventData represents the data payload carried by ledger intake
// events. It mirrors the wire shape both ledgers publish.
type InventoryEventData struct {
	EventID          string `json:"eventId"`
	Origin           string `json:"origin"`
	EventType        string `json:"eventType"`
	MaterialID       string `json:"materialId"`
	Quantity         int64  `json:"quantity"`
	SourceLocation   string `json:"sourceLocation,omitempty"`
	DestLocation     string `json:"destLocation,omitempty"`
	LogicalTimestamp int64  `json:"logicalTimestamp"`
}
