package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/wms-platform/inventory-sync-service/internal/domain"
	"github.com/wms-platform/inventory-sync-service/pkg/cloudevents"
	apperrors "github.com/wms-platform/inventory-sync-service/pkg/errors"
	"github.com/wms-platform/inventory-sync-service/pkg/kafka"
	"github.com/wms-platform/inventory-sync-service/pkg/logging"
	"github.com/wms-platform/inventory-sync-service/pkg/metrics"
)

// AdminService handles the operator surface: dead-letter review, mapping
// administration, variance resolution and queue statistics.
type AdminService struct {
	queue        domain.SyncQueueRepository
	mappings     domain.MappingRepository
	variances    domain.VarianceRepository
	producer     eventPublisher
	eventFactory *cloudevents.EventFactory
	metrics      *metrics.Metrics
	logger       *logging.Logger
}

// NewAdminService creates a new AdminService
func NewAdminService(
	queue domain.SyncQueueRepository,
	mappings domain.MappingRepository,
	variances domain.VarianceRepository,
	producer eventPublisher,
	eventFactory *cloudevents.EventFactory,
	m *metrics.Metrics,
	logger *logging.Logger,
) *AdminService {
	return &AdminService{
		queue:        queue,
		mappings:     mappings,
		variances:    variances,
		producer:     producer,
		eventFactory: eventFactory,
		metrics:      m,
		logger:       logger,
	}
}

// ListDeadLetters lists dead-lettered entries for review.
func (s *AdminService) ListDeadLetters(ctx context.Context, query ListDeadLettersQuery) ([]*QueueEntryDTO, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}
	entries, err := s.queue.FindDeadLettered(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letters: %w", err)
	}
	return ToQueueEntryDTOs(entries), nil
}

// GetEntry fetches one queue entry.
func (s *AdminService) GetEntry(ctx context.Context, query GetEntryQuery) (*QueueEntryDTO, error) {
	entry, err := s.queue.FindByID(ctx, query.EntryID)
	if err != nil {
		if errors.Is(err, domain.ErrEntryNotFound) {
			return nil, apperrors.ErrNotFoundWithID("queue entry", query.EntryID)
		}
		return nil, fmt.Errorf("failed to get entry: %w", err)
	}
	return ToQueueEntryDTO(entry), nil
}

// RequeueEntry resets a dead-lettered entry for redelivery.
func (s *AdminService) RequeueEntry(ctx context.Context, cmd RequeueEntryCommand) (*QueueEntryDTO, error) {
	entry, err := s.queue.Requeue(ctx, cmd.EntryID)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrEntryNotFound):
			return nil, apperrors.ErrNotFoundWithID("queue entry", cmd.EntryID)
		case errors.Is(err, domain.ErrEntryNotTerminal):
			return nil, apperrors.ErrConflict("entry is not dead-lettered")
		default:
			return nil, fmt.Errorf("failed to requeue entry: %w", err)
		}
	}

	s.logger.Info("Requeued dead-lettered entry",
		"entryId", cmd.EntryID,
		"materialId", entry.Event.MaterialID,
		"requestedBy", cmd.RequestedBy,
	)

	if s.producer != nil {
		event := s.eventFactory.CreateEventWithCorrelation(ctx, cloudevents.EntryRequeued,
			"sync-entry/"+cmd.EntryID, ToQueueEntryDTO(entry),
			logging.CorrelationIDFromContext(ctx))
		if err := s.producer.PublishEvent(ctx, kafka.Topics.SyncEvents, event); err != nil {
			s.logger.Warn("Failed to publish requeue event", "entryId", cmd.EntryID, "error", err)
		}
	}

	return ToQueueEntryDTO(entry), nil
}

// DiscardEntry archives a dead-lettered entry without applying it.
func (s *AdminService) DiscardEntry(ctx context.Context, cmd DiscardEntryCommand) error {
	if err := s.queue.Discard(ctx, cmd.EntryID); err != nil {
		switch {
		case errors.Is(err, domain.ErrEntryNotFound):
			return apperrors.ErrNotFoundWithID("queue entry", cmd.EntryID)
		case errors.Is(err, domain.ErrEntryNotTerminal):
			return apperrors.ErrConflict("entry is not dead-lettered")
		default:
			return fmt.Errorf("failed to discard entry: %w", err)
		}
	}

	s.logger.Info("Discarded dead-lettered entry",
		"entryId", cmd.EntryID,
		"requestedBy", cmd.RequestedBy,
	)
	return nil
}

// QueueStats returns queue depth per delivery state and refreshes the depth
// gauges as a side effect.
func (s *AdminService) QueueStats(ctx context.Context) (*QueueStatsDTO, error) {
	counts, err := s.queue.CountByStatus(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count queue: %w", err)
	}

	for status, count := range counts {
		s.metrics.SetQueueDepth(string(status), count)
	}

	return &QueueStatsDTO{
		Pending:      counts[domain.StatusPending],
		InFlight:     counts[domain.StatusInFlight],
		Applied:      counts[domain.StatusApplied],
		DeadLettered: counts[domain.StatusDeadLettered],
	}, nil
}

// SaveMapping creates or replaces a location mapping.
func (s *AdminService) SaveMapping(ctx context.Context, cmd SaveMappingCommand) (*MappingDTO, error) {
	bins := make([]domain.BinAllocation, len(cmd.Bins))
	for i, bin := range cmd.Bins {
		bins[i] = domain.BinAllocation{
			BinLocationID: bin.BinLocationID,
			Weight:        bin.Weight,
			Default:       bin.Default,
		}
	}
	mapping := &domain.LocationMapping{
		AggregateLocationID: cmd.AggregateLocationID,
		Bins:                bins,
		Active:              cmd.Active,
	}

	if err := s.mappings.Save(ctx, mapping); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidMapping):
			return nil, apperrors.ErrValidation(err.Error())
		case errors.Is(err, domain.ErrMappingConflict):
			return nil, apperrors.ErrConflict(err.Error())
		default:
			return nil, fmt.Errorf("failed to save mapping: %w", err)
		}
	}

	s.logger.Info("Saved location mapping",
		"aggregateLocationId", cmd.AggregateLocationID,
		"bins", len(cmd.Bins),
		"active", cmd.Active,
	)
	return ToMappingDTO(mapping), nil
}

// GetMapping fetches the mapping for an aggregate location.
func (s *AdminService) GetMapping(ctx context.Context, aggregateLocationID string) (*MappingDTO, error) {
	mapping, err := s.mappings.FindByAggregateLocation(ctx, aggregateLocationID)
	if err != nil {
		if errors.Is(err, domain.ErrMappingNotFound) {
			return nil, apperrors.ErrNotFoundWithID("location mapping", aggregateLocationID)
		}
		return nil, fmt.Errorf("failed to get mapping: %w", err)
	}
	return ToMappingDTO(mapping), nil
}

// ListMappings lists all active mappings.
func (s *AdminService) ListMappings(ctx context.Context) ([]*MappingDTO, error) {
	mappings, err := s.mappings.FindAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	return ToMappingDTOs(mappings), nil
}

// ListVariances lists outstanding variances, optionally filtered by
// classification.
func (s *AdminService) ListVariances(ctx context.Context, query ListVariancesQuery) ([]*VarianceDTO, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 50
	}
	records, err := s.variances.FindOutstanding(ctx, domain.Classification(query.Classification), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list variances: %w", err)
	}
	return ToVarianceDTOs(records), nil
}

// GetVariance fetches one variance record.
func (s *AdminService) GetVariance(ctx context.Context, varianceID string) (*VarianceDTO, error) {
	record, err := s.variances.FindByID(ctx, varianceID)
	if err != nil {
		if errors.Is(err, domain.ErrVarianceNotFound) {
			return nil, apperrors.ErrNotFoundWithID("variance", varianceID)
		}
		return nil, fmt.Errorf("failed to get variance: %w", err)
	}
	return ToVarianceDTO(record), nil
}

// ResolveVariance records an operator decision on a flagged variance.
func (s *AdminService) ResolveVariance(ctx context.Context, cmd ResolveVarianceCommand) (*VarianceDTO, error) {
	record, err := s.variances.FindByID(ctx, cmd.VarianceID)
	if err != nil {
		if errors.Is(err, domain.ErrVarianceNotFound) {
			return nil, apperrors.ErrNotFoundWithID("variance", cmd.VarianceID)
		}
		return nil, fmt.Errorf("failed to get variance: %w", err)
	}

	if err := record.Resolve(domain.Resolution(cmd.Resolution), cmd.ResolvedBy, cmd.Note); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidResolution):
			return nil, apperrors.ErrValidation(err.Error())
		case errors.Is(err, domain.ErrVarianceResolved):
			return nil, apperrors.ErrConflict(err.Error())
		default:
			return nil, err
		}
	}

	if err := s.variances.Update(ctx, record); err != nil {
		return nil, fmt.Errorf("failed to update variance: %w", err)
	}

	s.logger.Info("Resolved variance",
		"varianceId", cmd.VarianceID,
		"resolution", cmd.Resolution,
		"resolvedBy", cmd.ResolvedBy,
	)
	return ToVarianceDTO(record), nil
}
