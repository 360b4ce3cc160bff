package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wms-platform/inventory-sync-service/internal/domain"
	apperrors "github.com/wms-platform/inventory-sync-service/pkg/errors"
	"github.com/wms-platform/inventory-sync-service/pkg/logging"
)

// SnapshotService builds on-demand combined views of both ledgers for one
// (material, aggregate location) pair. Snapshots are a read convenience and
// never a source of truth; they are cached inside the freshness window to
// keep browsing cheap and rebuilt from the live ledgers after it.
type SnapshotService struct {
	mappings  domain.MappingRepository
	planning  domain.LedgerReader
	warehouse domain.LedgerReader
	freshness time.Duration
	logger    *logging.Logger

	mu    sync.RWMutex
	cache map[string]*domain.InventorySnapshot
}

// NewSnapshotService creates a new SnapshotService
func NewSnapshotService(
	mappings domain.MappingRepository,
	planning domain.LedgerReader,
	warehouse domain.LedgerReader,
	freshness time.Duration,
	logger *logging.Logger,
) *SnapshotService {
	return &SnapshotService{
		mappings:  mappings,
		planning:  planning,
		warehouse: warehouse,
		freshness: freshness,
		logger:    logger,
		cache:     make(map[string]*domain.InventorySnapshot),
	}
}

// GetSnapshot returns the combined view for a pair, served from cache while
// inside the freshness window.
func (s *SnapshotService) GetSnapshot(ctx context.Context, query GetSnapshotQuery) (*SnapshotDTO, error) {
	if query.MaterialID == "" || query.AggregateLocationID == "" {
		return nil, apperrors.ErrValidation("materialId and aggregateLocationId are required")
	}

	key := query.MaterialID + "|" + query.AggregateLocationID

	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && time.Since(cached.GeneratedAt) < s.freshness {
		return ToSnapshotDTO(cached), nil
	}

	snapshot, err := s.build(ctx, query.MaterialID, query.AggregateLocationID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	s.cache[key] = snapshot
	s.mu.Unlock()

	return ToSnapshotDTO(snapshot), nil
}

// build assembles a snapshot from the live ledgers.
func (s *SnapshotService) build(ctx context.Context, materialID, aggregateLocationID string) (*domain.InventorySnapshot, error) {
	mapping, err := s.mappings.FindByAggregateLocation(ctx, aggregateLocationID)
	if err != nil {
		if errors.Is(err, domain.ErrMappingNotFound) {
			return nil, apperrors.ErrNotFoundWithID("location mapping", aggregateLocationID)
		}
		return nil, fmt.Errorf("failed to resolve mapping: %w", err)
	}

	planning, err := s.planning.GetQuantity(ctx, materialID, aggregateLocationID)
	if err != nil {
		if errors.Is(err, domain.ErrUnknownMaterial) {
			return nil, apperrors.ErrNotFoundWithID("material", materialID)
		}
		return nil, fmt.Errorf("failed to read planning quantity: %w", err)
	}

	snapshot := &domain.InventorySnapshot{
		MaterialID:          materialID,
		AggregateLocationID: aggregateLocationID,
		BinLocationIDs:      mapping.BinIDs(),
		PlanningOnHand:      planning.OnHand,
		PlanningAllocated:   planning.Allocated,
		PlanningAvailable:   planning.Available,
		LastSyncedAt:        planning.UpdatedAt,
		GeneratedAt:         time.Now().UTC(),
	}

	var newestWarehouse time.Time
	for _, bin := range mapping.Bins {
		record, err := s.warehouse.GetQuantity(ctx, materialID, bin.BinLocationID)
		if err != nil {
			if errors.Is(err, domain.ErrUnknownMaterial) {
				continue
			}
			return nil, fmt.Errorf("failed to read warehouse quantity for bin %s: %w", bin.BinLocationID, err)
		}
		snapshot.WarehouseOnHand += record.OnHand
		snapshot.WarehouseAllocated += record.Allocated
		snapshot.WarehouseAvailable += record.Available
		if record.UpdatedAt.After(newestWarehouse) {
			newestWarehouse = record.UpdatedAt
		}
	}

	if newestWarehouse.After(snapshot.LastSyncedAt) {
		snapshot.LastSyncedAt = newestWarehouse
	}

	// Either ledger falling behind the freshness window makes the whole
	// snapshot stale, and so does one side trailing the other by more than
	// the window: a sync for this pair may still be in flight.
	skew := planning.UpdatedAt.Sub(newestWarehouse)
	if skew < 0 {
		skew = -skew
	}
	now := snapshot.GeneratedAt
	snapshot.Stale = now.Sub(planning.UpdatedAt) > s.freshness ||
		now.Sub(newestWarehouse) > s.freshness ||
		skew > s.freshness

	return snapshot, nil
}

// Invalidate drops the cached snapshot for a pair, forcing the next read to
// rebuild from the ledgers.
func (s *SnapshotService) Invalidate(materialID, aggregateLocationID string) {
	s.mu.Lock()
	delete(s.cache, materialID+"|"+aggregateLocationID)
	s.mu.Unlock()
}
