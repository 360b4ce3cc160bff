package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wms-platform/inventory-sync-service/internal/domain"
	"github.com/wms-platform/inventory-sync-service/pkg/cloudevents"
	apperrors "github.com/wms-platform/inventory-sync-service/pkg/errors"
	"github.com/wms-platform/inventory-sync-service/pkg/kafka"
	"github.com/wms-platform/inventory-sync-service/pkg/logging"
	"github.com/wms-platform/inventory-sync-service/pkg/metrics"
	"github.com/wms-platform/inventory-sync-service/pkg/resilience"
)

// ReconciliationConfig holds the periodic comparison settings.
type ReconciliationConfig struct {
	ChunkSize      int
	MinorThreshold float64
	AutoCorrect    bool
	PartitionCount int
	MaxAttempts    int
}

// ReconciliationService walks both ledgers, classifies quantity differences
// per mapped pair and either issues idempotent corrections (minor) or flags
// variances for review (major). The planning ledger is the system of record:
// corrections always move the warehouse side toward it.
type ReconciliationService struct {
	config    ReconciliationConfig
	retry     *resilience.RetryConfig
	runs      domain.RunRepository
	variances domain.VarianceRepository
	mappings  domain.MappingRepository
	queue     domain.SyncQueueRepository
	planning  domain.LedgerReader
	warehouse domain.LedgerReader
	producer  eventPublisher
	factory   *cloudevents.EventFactory
	metrics   *metrics.Metrics
	logger    *logging.Logger
}

// NewReconciliationService creates a new ReconciliationService
func NewReconciliationService(
	config ReconciliationConfig,
	runs domain.RunRepository,
	variances domain.VarianceRepository,
	mappings domain.MappingRepository,
	queue domain.SyncQueueRepository,
	planning domain.LedgerReader,
	warehouse domain.LedgerReader,
	producer eventPublisher,
	factory *cloudevents.EventFactory,
	m *metrics.Metrics,
	logger *logging.Logger,
) *ReconciliationService {
	if config.ChunkSize <= 0 {
		config.ChunkSize = 200
	}

	// Ledger reads within a chunk retry transient failures in place, so one
	// blip does not abort the whole run.
	retry := resilience.DefaultRetryConfig()
	retry.RetryableErrors = domain.IsTransient

	return &ReconciliationService{
		config:    config,
		retry:     retry,
		runs:      runs,
		variances: variances,
		mappings:  mappings,
		queue:     queue,
		planning:  planning,
		warehouse: warehouse,
		producer:  producer,
		factory:   factory,
		metrics:   m,
		logger:    logger,
	}
}

// Execute runs one full reconciliation pass over the scope and blocks until
// it finishes, fails or observes cancellation. Cancellation is cooperative:
// it is checked between chunks, and a cancelled run keeps the counts of the
// chunks that completed.
func (s *ReconciliationService) Execute(ctx context.Context, cmd StartRunCommand) (*RunDTO, error) {
	scope := domain.ReconciliationScope{
		MaterialIDs:          cmd.MaterialIDs,
		AggregateLocationIDs: cmd.AggregateLocationIDs,
	}

	run := domain.NewReconciliationRun(scope)
	if err := s.runs.Save(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to start reconciliation run: %w", err)
	}

	s.logger.Info("Reconciliation run started", "runId", run.ID)

	if err := s.walk(ctx, run); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			run.Cancel()
		} else {
			run.Fail(err)
		}
		s.finish(run)
		return ToRunDTO(run), err
	}

	run.Complete()
	s.finish(run)
	return ToRunDTO(run), nil
}

// ledgerPage is one chunk of planning ledger records.
type ledgerPage struct {
	records []*domain.QuantityRecord
	next    string
}

// walk pages through the planning ledger and reconciles each mapped pair.
func (s *ReconciliationService) walk(ctx context.Context, run *domain.ReconciliationRun) error {
	pageToken := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		page, err := resilience.RetryWithResult(ctx, s.retry, func() (ledgerPage, error) {
			records, next, err := s.planning.ListQuantities(ctx, run.Scope, pageToken, s.config.ChunkSize)
			return ledgerPage{records: records, next: next}, err
		})
		if err != nil {
			return fmt.Errorf("failed to list planning quantities: %w", err)
		}

		var detected []*cloudevents.WMSCloudEvent
		for _, record := range page.records {
			event, err := s.reconcilePair(ctx, run, record)
			if err != nil {
				return err
			}
			if event != nil {
				detected = append(detected, event)
			}
		}
		s.publishVariances(ctx, detected)

		if page.next == "" {
			return nil
		}
		pageToken = page.next
	}
}

// reconcilePair compares one (material, aggregate location) pair across the
// two ledgers. A detected variance comes back as its wire event so the caller
// can batch the page's notifications.
func (s *ReconciliationService) reconcilePair(ctx context.Context, run *domain.ReconciliationRun, planning *domain.QuantityRecord) (*cloudevents.WMSCloudEvent, error) {
	mapping, err := s.mappings.FindByAggregateLocation(ctx, planning.LocationID)
	if err != nil {
		if errors.Is(err, domain.ErrMappingNotFound) {
			// An unmapped aggregate location has no warehouse counterpart to
			// compare against.
			s.logger.Debug("Skipping unmapped location",
				"runId", run.ID, "locationId", planning.LocationID)
			return nil, nil
		}
		return nil, fmt.Errorf("failed to resolve mapping for %s: %w", planning.LocationID, err)
	}

	warehouseQty, err := s.sumWarehouse(ctx, planning.MaterialID, mapping)
	if err != nil {
		return nil, err
	}

	class, _ := domain.Classify(planning.OnHand, warehouseQty, s.config.MinorThreshold)
	run.Record(class)

	if class == domain.ClassMatched {
		return nil, nil
	}

	s.metrics.RecordVariance(string(class))
	variance := domain.NewVarianceRecord(run.ID, planning.MaterialID, planning.LocationID,
		mapping.BinIDs(), planning.OnHand, warehouseQty, s.config.MinorThreshold)

	switch {
	case class == domain.ClassMinor && s.config.AutoCorrect:
		if err := s.issueCorrection(ctx, run, variance, mapping); err != nil {
			return nil, err
		}
	default:
		variance.MarkFlagged()
	}

	if err := s.variances.Save(ctx, variance); err != nil {
		return nil, fmt.Errorf("failed to save variance: %w", err)
	}

	return s.factory.CreateVarianceDetectedEvent(ctx, cloudevents.VarianceDetectedData{
		VarianceID:          variance.ID.Hex(),
		RunID:               variance.RunID,
		MaterialID:          variance.MaterialID,
		AggregateLocationID: variance.AggregateLocationID,
		PlanningQty:         variance.PlanningQty,
		WarehouseQty:        variance.WarehouseQty,
		DeltaPct:            variance.DeltaPct,
		Classification:      string(variance.Classification),
	}), nil
}

// sumWarehouse totals the on-hand quantity across a mapping's bins. A bin
// the warehouse has never stocked for this material simply contributes zero.
func (s *ReconciliationService) sumWarehouse(ctx context.Context, materialID string, mapping *domain.LocationMapping) (int64, error) {
	var total int64
	for _, bin := range mapping.Bins {
		record, err := resilience.RetryWithResult(ctx, s.retry, func() (*domain.QuantityRecord, error) {
			return s.warehouse.GetQuantity(ctx, materialID, bin.BinLocationID)
		})
		if err != nil {
			if errors.Is(err, domain.ErrUnknownMaterial) {
				continue
			}
			return 0, fmt.Errorf("failed to read warehouse quantity for %s/%s: %w", materialID, bin.BinLocationID, err)
		}
		total += record.OnHand
	}
	return total, nil
}

// issueCorrection enqueues an adjustment that moves the warehouse quantity
// to the planning quantity. The correction's idempotency key is a
// fingerprint of the observed state, so a later run over the same unchanged
// delta enqueues nothing new and the correction stays single-shot.
func (s *ReconciliationService) issueCorrection(ctx context.Context, run *domain.ReconciliationRun, variance *domain.VarianceRecord, mapping *domain.LocationMapping) error {
	event, err := domain.NewInventoryEvent(
		"recon-"+uuid.New().String(),
		domain.OriginPlanning,
		domain.EventAdjust,
		variance.MaterialID,
		variance.Delta,
		"",
		variance.AggregateLocationID,
		time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to build correction event: %w", err)
	}
	event.IdempotencyKey = variance.CorrectionEventKey()

	entry, err := domain.NewSyncQueueEntry(event, domain.DirectionPlanningToWarehouse,
		s.config.PartitionCount, s.config.MaxAttempts)
	if err != nil {
		return fmt.Errorf("failed to build correction entry: %w", err)
	}

	stored, err := s.queue.Enqueue(ctx, entry)
	if err != nil {
		return fmt.Errorf("failed to enqueue correction: %w", err)
	}

	variance.MarkAutoCorrected(event.IdempotencyKey)

	// Only a freshly inserted correction counts; a replayed fingerprint means
	// a previous run already issued this exact correction.
	if stored.ID == entry.ID {
		run.CorrectionsIssued++
		s.metrics.RecordCorrectionIssued()
		s.logger.Info("Issued auto-correction",
			"runId", run.ID,
			"materialId", variance.MaterialID,
			"locationId", variance.AggregateLocationID,
			"delta", variance.Delta,
			"entryId", stored.ID.Hex(),
		)
	}
	return nil
}

// publishVariances emits one page's variance notifications in a single batch.
// Publishing is best-effort; the variances are already persisted.
func (s *ReconciliationService) publishVariances(ctx context.Context, events []*cloudevents.WMSCloudEvent) {
	if s.producer == nil || len(events) == 0 {
		return
	}
	if err := s.producer.PublishBatch(ctx, kafka.Topics.ReconciliationEvents, events); err != nil {
		s.logger.Warn("Failed to publish variance events",
			"count", len(events), "error", err)
	}
}

// finish persists the terminal run state and emits the completion signals.
// It uses a detached context so that the run record survives the
// cancellation that ended the run.
func (s *ReconciliationService) finish(run *domain.ReconciliationRun) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.runs.Update(ctx, run); err != nil {
		s.logger.Error("Failed to persist run state", "runId", run.ID, "error", err)
	}

	s.metrics.RecordReconciliationRun(string(run.Status), run.Duration())
	s.logger.ReconciliationRun(ctx, run.ID, string(run.Status),
		run.PairsChecked, run.MinorCount, run.MajorCount, run.CorrectionsIssued, run.Duration())

	if s.producer != nil {
		event := s.factory.CreateReconciliationCompletedEvent(ctx, cloudevents.ReconciliationCompletedData{
			RunID:             run.ID,
			Status:            string(run.Status),
			PairsChecked:      run.PairsChecked,
			MatchedCount:      run.MatchedCount,
			MinorCount:        run.MinorCount,
			MajorCount:        run.MajorCount,
			CorrectionsIssued: run.CorrectionsIssued,
			DurationMs:        run.Duration().Milliseconds(),
		})
		if err := s.producer.PublishEvent(ctx, kafka.Topics.ReconciliationEvents, event); err != nil {
			s.logger.Warn("Failed to publish run completion", "runId", run.ID, "error", err)
		}
	}
}

// GetRun fetches a reconciliation run by id.
func (s *ReconciliationService) GetRun(ctx context.Context, runID string) (*RunDTO, error) {
	run, err := s.runs.FindByID(ctx, runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			return nil, apperrors.ErrNotFoundWithID("reconciliation run", runID)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return ToRunDTO(run), nil
}

// ListRuns lists the most recent reconciliation runs.
func (s *ReconciliationService) ListRuns(ctx context.Context, query ListRunsQuery) ([]*RunDTO, error) {
	limit := query.Limit
	if limit <= 0 {
		limit = 20
	}
	runs, err := s.runs.FindRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return ToRunDTOs(runs), nil
}
