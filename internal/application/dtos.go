package application

import (
	"time"

	"github.com/wms-platform/inventory-sync-service/internal/domain"
)

// QueueEntryDTO represents a sync queue entry in responses
type QueueEntryDTO struct {
	ID               string     `json:"id"`
	EventID          string     `json:"eventId"`
	Origin           string     `json:"origin"`
	EventType        string     `json:"eventType"`
	MaterialID       string     `json:"materialId"`
	Quantity         int64      `json:"quantity"`
	SourceLocation   string     `json:"sourceLocation,omitempty"`
	DestLocation     string     `json:"destLocation,omitempty"`
	LogicalTimestamp int64      `json:"logicalTimestamp"`
	IdempotencyKey   string     `json:"idempotencyKey"`
	Direction        string     `json:"direction"`
	Status           string     `json:"status"`
	Partition        uint32     `json:"partition"`
	AttemptCount     int        `json:"attemptCount"`
	MaxAttempts      int        `json:"maxAttempts"`
	NextRetryAt      time.Time  `json:"nextRetryAt"`
	LastError        string     `json:"lastError,omitempty"`
	EnqueuedAt       time.Time  `json:"enqueuedAt"`
	AppliedAt        *time.Time `json:"appliedAt,omitempty"`
	ApplyLatencyMs   int64      `json:"applyLatencyMs,omitempty"`
}

// QueueStatsDTO represents queue depth per delivery state
type QueueStatsDTO struct {
	Pending      int64 `json:"pending"`
	InFlight     int64 `json:"inFlight"`
	Applied      int64 `json:"applied"`
	DeadLettered int64 `json:"deadLettered"`
}

// MappingDTO represents a location mapping in responses
type MappingDTO struct {
	AggregateLocationID string             `json:"aggregateLocationId"`
	Bins                []BinAllocationDTO `json:"bins"`
	Active              bool               `json:"active"`
	UpdatedAt           time.Time          `json:"updatedAt"`
}

// BinAllocationDTO represents one bin share of a mapping
type BinAllocationDTO struct {
	BinLocationID string  `json:"binLocationId"`
	Weight        float64 `json:"weight"`
	Default       bool    `json:"default,omitempty"`
}

// VarianceDTO represents a reconciliation variance in responses
type VarianceDTO struct {
	ID                  string     `json:"id"`
	MaterialID          string     `json:"materialId"`
	AggregateLocationID string     `json:"aggregateLocationId"`
	BinLocationIDs      []string   `json:"binLocationIds"`
	PlanningQty         int64      `json:"planningQty"`
	WarehouseQty        int64      `json:"warehouseQty"`
	Delta               int64      `json:"delta"`
	DeltaPct            float64    `json:"deltaPct"`
	Classification      string     `json:"classification"`
	Resolution          string     `json:"resolution"`
	CorrectionKey       string     `json:"correctionKey,omitempty"`
	RunID               string     `json:"runId"`
	ResolvedBy          string     `json:"resolvedBy,omitempty"`
	ResolutionNote      string     `json:"resolutionNote,omitempty"`
	DetectedAt          time.Time  `json:"detectedAt"`
	ResolvedAt          *time.Time `json:"resolvedAt,omitempty"`
}

// RunDTO represents a reconciliation run in responses
type RunDTO struct {
	ID                string     `json:"id"`
	Scope             ScopeDTO   `json:"scope"`
	Status            string     `json:"status"`
	PairsChecked      int        `json:"pairsChecked"`
	MatchedCount      int        `json:"matchedCount"`
	MinorCount        int        `json:"minorCount"`
	MajorCount        int        `json:"majorCount"`
	CorrectionsIssued int        `json:"correctionsIssued"`
	Error             string     `json:"error,omitempty"`
	StartedAt         time.Time  `json:"startedAt"`
	CompletedAt       *time.Time `json:"completedAt,omitempty"`
	DurationMs        int64      `json:"durationMs"`
}

// ScopeDTO represents a reconciliation scope filter
type ScopeDTO struct {
	MaterialIDs          []string `json:"materialIds,omitempty"`
	AggregateLocationIDs []string `json:"aggregateLocationIds,omitempty"`
}

// SnapshotDTO represents a combined two-ledger inventory snapshot
type SnapshotDTO struct {
	MaterialID          string    `json:"materialId"`
	AggregateLocationID string    `json:"aggregateLocationId"`
	BinLocationIDs      []string  `json:"binLocationIds"`
	PlanningOnHand      int64     `json:"planningOnHand"`
	PlanningAllocated   int64     `json:"planningAllocated"`
	PlanningAvailable   int64     `json:"planningAvailable"`
	WarehouseOnHand     int64     `json:"warehouseOnHand"`
	WarehouseAllocated  int64     `json:"warehouseAllocated"`
	WarehouseAvailable  int64     `json:"warehouseAvailable"`
	LastSyncedAt        time.Time `json:"lastSyncedAt"`
	Stale               bool      `json:"stale"`
	GeneratedAt         time.Time `json:"generatedAt"`
}

// ToQueueEntryDTO converts a domain queue entry to its DTO
func ToQueueEntryDTO(entry *domain.SyncQueueEntry) *QueueEntryDTO {
	return &QueueEntryDTO{
		ID:               entry.ID.Hex(),
		EventID:          entry.Event.ID,
		Origin:           string(entry.Event.Origin),
		EventType:        string(entry.Event.Type),
		MaterialID:       entry.Event.MaterialID,
		Quantity:         entry.Event.Quantity,
		SourceLocation:   entry.Event.SourceLocation,
		DestLocation:     entry.Event.DestLocation,
		LogicalTimestamp: entry.Event.LogicalTimestamp,
		IdempotencyKey:   entry.Event.IdempotencyKey,
		Direction:        string(entry.Direction),
		Status:           string(entry.Status),
		Partition:        entry.Partition,
		AttemptCount:     entry.AttemptCount,
		MaxAttempts:      entry.MaxAttempts,
		NextRetryAt:      entry.NextRetryAt,
		LastError:        entry.LastError,
		EnqueuedAt:       entry.EnqueuedAt,
		AppliedAt:        entry.AppliedAt,
		ApplyLatencyMs:   entry.ApplyLatencyMs,
	}
}

// ToQueueEntryDTOs converts a slice of queue entries
func ToQueueEntryDTOs(entries []*domain.SyncQueueEntry) []*QueueEntryDTO {
	dtos := make([]*QueueEntryDTO, len(entries))
	for i, entry := range entries {
		dtos[i] = ToQueueEntryDTO(entry)
	}
	return dtos
}

// ToMappingDTO converts a domain mapping to its DTO
func ToMappingDTO(mapping *domain.LocationMapping) *MappingDTO {
	bins := make([]BinAllocationDTO, len(mapping.Bins))
	for i, bin := range mapping.Bins {
		bins[i] = BinAllocationDTO{
			BinLocationID: bin.BinLocationID,
			Weight:        bin.Weight,
			Default:       bin.Default,
		}
	}
	return &MappingDTO{
		AggregateLocationID: mapping.AggregateLocationID,
		Bins:                bins,
		Active:              mapping.Active,
		UpdatedAt:           mapping.UpdatedAt,
	}
}

// ToMappingDTOs converts a slice of mappings
func ToMappingDTOs(mappings []*domain.LocationMapping) []*MappingDTO {
	dtos := make([]*MappingDTO, len(mappings))
	for i, m := range mappings {
		dtos[i] = ToMappingDTO(m)
	}
	return dtos
}

// ToVarianceDTO converts a domain variance record to its DTO
func ToVarianceDTO(v *domain.VarianceRecord) *VarianceDTO {
	return &VarianceDTO{
		ID:                  v.ID.Hex(),
		MaterialID:          v.MaterialID,
		AggregateLocationID: v.AggregateLocationID,
		BinLocationIDs:      v.BinLocationIDs,
		PlanningQty:         v.PlanningQty,
		WarehouseQty:        v.WarehouseQty,
		Delta:               v.Delta,
		DeltaPct:            v.DeltaPct,
		Classification:      string(v.Classification),
		Resolution:          string(v.Resolution),
		CorrectionKey:       v.CorrectionKey,
		RunID:               v.RunID,
		ResolvedBy:          v.ResolvedBy,
		ResolutionNote:      v.ResolutionNote,
		DetectedAt:          v.DetectedAt,
		ResolvedAt:          v.ResolvedAt,
	}
}

// ToVarianceDTOs converts a slice of variance records
func ToVarianceDTOs(records []*domain.VarianceRecord) []*VarianceDTO {
	dtos := make([]*VarianceDTO, len(records))
	for i, v := range records {
		dtos[i] = ToVarianceDTO(v)
	}
	return dtos
}

// ToRunDTO converts a domain reconciliation run to its DTO
func ToRunDTO(run *domain.ReconciliationRun) *RunDTO {
	return &RunDTO{
		ID: run.ID,
		Scope: ScopeDTO{
			MaterialIDs:          run.Scope.MaterialIDs,
			AggregateLocationIDs: run.Scope.AggregateLocationIDs,
		},
		Status:            string(run.Status),
		PairsChecked:      run.PairsChecked,
		MatchedCount:      run.MatchedCount,
		MinorCount:        run.MinorCount,
		MajorCount:        run.MajorCount,
		CorrectionsIssued: run.CorrectionsIssued,
		Error:             run.Error,
		StartedAt:         run.StartedAt,
		CompletedAt:       run.CompletedAt,
		DurationMs:        run.Duration().Milliseconds(),
	}
}

// ToRunDTOs converts a slice of runs
func ToRunDTOs(runs []*domain.ReconciliationRun) []*RunDTO {
	dtos := make([]*RunDTO, len(runs))
	for i, r := range runs {
		dtos[i] = ToRunDTO(r)
	}
	return dtos
}

// ToSnapshotDTO converts a domain snapshot to its DTO
func ToSnapshotDTO(s *domain.InventorySnapshot) *SnapshotDTO {
	return &SnapshotDTO{
		MaterialID:          s.MaterialID,
		AggregateLocationID: s.AggregateLocationID,
		BinLocationIDs:      s.BinLocationIDs,
		PlanningOnHand:      s.PlanningOnHand,
		PlanningAllocated:   s.PlanningAllocated,
		PlanningAvailable:   s.PlanningAvailable,
		WarehouseOnHand:     s.WarehouseOnHand,
		WarehouseAllocated:  s.WarehouseAllocated,
		WarehouseAvailable:  s.WarehouseAvailable,
		LastSyncedAt:        s.LastSyncedAt,
		Stale:               s.Stale,
		GeneratedAt:         s.GeneratedAt,
	}
}
