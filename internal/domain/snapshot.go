package domain

import "time"

// QuantityRecord is a ledger's current view of one (material, location) pair.
type QuantityRecord struct {
	MaterialID string    `json:"materialId"`
	LocationID string    `json:"locationId"`
	OnHand     int64     `json:"onHand"`
	Allocated  int64     `json:"allocated"`
	Available  int64     `json:"available"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// InventorySnapshot is a derived, point-in-time combination of both ledgers'
// views for one (material, aggregate location) pair. Snapshots are read-only
// conveniences, never a source of truth, and are regenerated on demand.
type InventorySnapshot struct {
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
