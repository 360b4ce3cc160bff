package application

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/wms-platform/inventory-sync-service/internal/domain"
	"github.com/wms-platform/inventory-sync-service/pkg/cloudevents"
	"github.com/wms-platform/inventory-sync-service/pkg/logging"
	"github.com/wms-platform/inventory-sync-service/pkg/metrics"
)

func testLogger() *logging.Logger {
	return logging.New(&logging.Config{ServiceName: "test", Level: logging.LevelError})
}

func testMetrics() *metrics.Metrics {
	return metrics.New(metrics.DefaultConfig("test"))
}

type fakeQueueRepo struct {
	mu         sync.Mutex
	entries    map[string]*domain.SyncQueueEntry // by id hex
	byIdemKey  map[string]*domain.SyncQueueEntry
	enqueueErr error
	ackErr     error
	failErr    error
}

func newFakeQueueRepo() *fakeQueueRepo {
	return &fakeQueueRepo{
		entries:   make(map[string]*domain.SyncQueueEntry),
		byIdemKey: make(map[string]*domain.SyncQueueEntry),
	}
}

func (f *fakeQueueRepo) Enqueue(ctx context.Context, entry *domain.SyncQueueEntry) (*domain.SyncQueueEntry, error) {
	if f.enqueueErr != nil {
		return nil, f.enqueueErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.byIdemKey[entry.Event.IdempotencyKey]; ok {
		return existing, nil
	}
	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	f.entries[entry.ID.Hex()] = entry
	f.byIdemKey[entry.Event.IdempotencyKey] = entry
	return entry, nil
}

func (f *fakeQueueRepo) LeaseNext(ctx context.Context, workerID string, partitions []uint32, limit int, leaseFor time.Duration) ([]*domain.SyncQueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	heads := make(map[uint32]*domain.SyncQueueEntry)
	owned := make(map[uint32]bool, len(partitions))
	for _, p := range partitions {
		owned[p] = true
	}
	for _, entry := range f.entries {
		if entry.Status.IsTerminal() || !owned[entry.Partition] {
			continue
		}
		head, ok := heads[entry.Partition]
		if !ok || entry.EnqueuedAt.Before(head.EnqueuedAt) ||
			(entry.EnqueuedAt.Equal(head.EnqueuedAt) && entry.ID.Hex() < head.ID.Hex()) {
			heads[entry.Partition] = entry
		}
	}

	now := time.Now().UTC()
	var leased []*domain.SyncQueueEntry
	for _, entry := range heads {
		if entry.Status != domain.StatusPending || entry.NextRetryAt.After(now) {
			continue
		}
		expiry := now.Add(leaseFor)
		entry.Status = domain.StatusInFlight
		entry.LeaseToken = primitive.NewObjectID().Hex()
		entry.LeaseExpiresAt = &expiry
		// Hand out a copy, like the real repo returning a decoded document:
		// callers mutate the leased entry before finalizing, and the stored
		// copy must keep its in-flight status for the token guard.
		leasedCopy := *entry
		leased = append(leased, &leasedCopy)
		if len(leased) >= limit {
			break
		}
	}
	sort.Slice(leased, func(i, j int) bool { return leased[i].EnqueuedAt.Before(leased[j].EnqueuedAt) })
	return leased, nil
}

func (f *fakeQueueRepo) finalize(entry *domain.SyncQueueEntry, token string) error {
	stored, ok := f.entries[entry.ID.Hex()]
	if !ok {
		return domain.ErrEntryNotFound
	}
	if stored.Status != domain.StatusInFlight {
		return domain.ErrEntryNotLeased
	}
	if stored.LeaseToken != token {
		return domain.ErrLeaseMismatch
	}
	*stored = *entry
	return nil
}

func (f *fakeQueueRepo) Ack(ctx context.Context, entry *domain.SyncQueueEntry, token string) error {
	if f.ackErr != nil {
		return f.ackErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.finalize(entry, token); err != nil {
		return err
	}
	// Acked entries move to the archive, out of the live queue.
	delete(f.entries, entry.ID.Hex())
	delete(f.byIdemKey, entry.Event.IdempotencyKey)
	return nil
}

func (f *fakeQueueRepo) Fail(ctx context.Context, entry *domain.SyncQueueEntry, token string) error {
	if f.failErr != nil {
		return f.failErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finalize(entry, token)
}

func (f *fakeQueueRepo) FindDeadLettered(ctx context.Context, limit int) ([]*domain.SyncQueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.SyncQueueEntry
	for _, entry := range f.entries {
		if entry.Status == domain.StatusDeadLettered {
			out = append(out, entry)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeQueueRepo) FindByID(ctx context.Context, entryID string) (*domain.SyncQueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[entryID]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	return entry, nil
}

func (f *fakeQueueRepo) Requeue(ctx context.Context, entryID string) (*domain.SyncQueueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[entryID]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	if err := entry.ResetForRequeue(); err != nil {
		return nil, err
	}
	return entry, nil
}

func (f *fakeQueueRepo) Discard(ctx context.Context, entryID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[entryID]
	if !ok {
		return domain.ErrEntryNotFound
	}
	if entry.Status != domain.StatusDeadLettered {
		return domain.ErrEntryNotTerminal
	}
	delete(f.entries, entryID)
	delete(f.byIdemKey, entry.Event.IdempotencyKey)
	return nil
}

func (f *fakeQueueRepo) CountByStatus(ctx context.Context) (map[domain.EntryStatus]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	counts := make(map[domain.EntryStatus]int64)
	for _, entry := range f.entries {
		counts[entry.Status]++
	}
	return counts, nil
}

type fakeMappingRepo struct {
	mu       sync.Mutex
	mappings map[string]*domain.LocationMapping // by aggregate location
	saveErr  error
}

func newFakeMappingRepo() *fakeMappingRepo {
	return &fakeMappingRepo{mappings: make(map[string]*domain.LocationMapping)}
}

func (f *fakeMappingRepo) Save(ctx context.Context, mapping *domain.LocationMapping) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	if err := mapping.Validate(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for agg, other := range f.mappings {
		if agg == mapping.AggregateLocationID || !other.Active {
			continue
		}
		for _, bin := range mapping.Bins {
			for _, existing := range other.Bins {
				if bin.BinLocationID == existing.BinLocationID {
					return domain.ErrMappingConflict
				}
			}
		}
	}
	mapping.UpdatedAt = time.Now().UTC()
	f.mappings[mapping.AggregateLocationID] = mapping
	return nil
}

func (f *fakeMappingRepo) FindByAggregateLocation(ctx context.Context, aggregateLocationID string) (*domain.LocationMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	mapping, ok := f.mappings[aggregateLocationID]
	if !ok || !mapping.Active {
		return nil, domain.ErrMappingNotFound
	}
	return mapping, nil
}

func (f *fakeMappingRepo) FindByBinLocation(ctx context.Context, binLocationID string) (*domain.LocationMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, mapping := range f.mappings {
		if !mapping.Active {
			continue
		}
		for _, bin := range mapping.Bins {
			if bin.BinLocationID == binLocationID {
				return mapping, nil
			}
		}
	}
	return nil, domain.ErrMappingNotFound
}

func (f *fakeMappingRepo) FindAll(ctx context.Context) ([]*domain.LocationMapping, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.LocationMapping
	for _, mapping := range f.mappings {
		if mapping.Active {
			out = append(out, mapping)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AggregateLocationID < out[j].AggregateLocationID
	})
	return out, nil
}

type fakeVarianceRepo struct {
	mu      sync.Mutex
	records map[string]*domain.VarianceRecord
	saveErr error
}

func newFakeVarianceRepo() *fakeVarianceRepo {
	return &fakeVarianceRepo{records: make(map[string]*domain.VarianceRecord)}
}

func (f *fakeVarianceRepo) Save(ctx context.Context, record *domain.VarianceRecord) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if record.ID.IsZero() {
		record.ID = primitive.NewObjectID()
	}
	f.records[record.ID.Hex()] = record
	return nil
}

func (f *fakeVarianceRepo) Update(ctx context.Context, record *domain.VarianceRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.records[record.ID.Hex()]; !ok {
		return domain.ErrVarianceNotFound
	}
	f.records[record.ID.Hex()] = record
	return nil
}

func (f *fakeVarianceRepo) FindByID(ctx context.Context, id string) (*domain.VarianceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.records[id]
	if !ok {
		return nil, domain.ErrVarianceNotFound
	}
	return record, nil
}

func (f *fakeVarianceRepo) FindOutstanding(ctx context.Context, classification domain.Classification, limit int) ([]*domain.VarianceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.VarianceRecord
	for _, record := range f.records {
		if classification != "" && record.Classification != classification {
			continue
		}
		if record.Resolution == domain.ResolutionNone || record.Resolution == domain.ResolutionFlaggedForReview {
			out = append(out, record)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeVarianceRepo) FindByRunID(ctx context.Context, runID string) ([]*domain.VarianceRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.VarianceRecord
	for _, record := range f.records {
		if record.RunID == runID {
			out = append(out, record)
		}
	}
	return out, nil
}

type fakeRunRepo struct {
	mu   sync.Mutex
	runs map[string]*domain.ReconciliationRun
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{runs: make(map[string]*domain.ReconciliationRun)}
}

func (f *fakeRunRepo) Save(ctx context.Context, run *domain.ReconciliationRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
	return nil
}

func (f *fakeRunRepo) Update(ctx context.Context, run *domain.ReconciliationRun) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.runs[run.ID]; !ok {
		return domain.ErrRunNotFound
	}
	f.runs[run.ID] = run
	return nil
}

func (f *fakeRunRepo) FindByID(ctx context.Context, runID string) (*domain.ReconciliationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return run, nil
}

func (f *fakeRunRepo) FindRecent(ctx context.Context, limit int) ([]*domain.ReconciliationRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.ReconciliationRun
	for _, run := range f.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// fakeLedger implements both the reader and writer side of one ledger.
type fakeLedger struct {
	mu         sync.Mutex
	quantities map[string]*domain.QuantityRecord // by material|location
	applied    []*domain.LedgerAdjustment
	seenKeys   map[string]bool
	applyErr   error
	readErr    error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{
		quantities: make(map[string]*domain.QuantityRecord),
		seenKeys:   make(map[string]bool),
	}
}

func (f *fakeLedger) setQuantity(materialID, locationID string, onHand int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.quantities[materialID+"|"+locationID] = &domain.QuantityRecord{
		MaterialID: materialID,
		LocationID: locationID,
		OnHand:     onHand,
		Available:  onHand,
		UpdatedAt:  time.Now().UTC(),
	}
}

func (f *fakeLedger) GetQuantity(ctx context.Context, materialID, locationID string) (*domain.QuantityRecord, error) {
	if f.readErr != nil {
		return nil, f.readErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	record, ok := f.quantities[materialID+"|"+locationID]
	if !ok {
		return nil, domain.Permanent(domain.ErrUnknownMaterial)
	}
	return record, nil
}

func (f *fakeLedger) ListQuantities(ctx context.Context, scope domain.ReconciliationScope, pageToken string, pageSize int) ([]*domain.QuantityRecord, string, error) {
	if f.readErr != nil {
		return nil, "", f.readErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for key := range f.quantities {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var out []*domain.QuantityRecord
	for _, key := range keys {
		record := f.quantities[key]
		if !scope.IncludesMaterial(record.MaterialID) || !scope.IncludesLocation(record.LocationID) {
			continue
		}
		out = append(out, record)
	}
	return out, "", nil
}

func (f *fakeLedger) ApplyAdjustment(ctx context.Context, adj *domain.LedgerAdjustment) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seenKeys[adj.IdempotencyKey] {
		return nil
	}
	f.seenKeys[adj.IdempotencyKey] = true
	f.applied = append(f.applied, adj)
	return nil
}

func (f *fakeLedger) appliedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.applied)
}

type fakePublisher struct {
	mu        sync.Mutex
	published []*cloudevents.WMSCloudEvent
	topics    []string
	err       error
}

func (f *fakePublisher) PublishEvent(ctx context.Context, topic string, event *cloudevents.WMSCloudEvent) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, event)
	f.topics = append(f.topics, topic)
	return nil
}

func (f *fakePublisher) PublishBatch(ctx context.Context, topic string, events []*cloudevents.WMSCloudEvent) error {
	if f.err != nil {
		return f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, event := range events {
		f.published = append(f.published, event)
		f.topics = append(f.topics, topic)
	}
	return nil
}

func (f *fakePublisher) eventsOfType(eventType string) []*cloudevents.WMSCloudEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*cloudevents.WMSCloudEvent
	for _, event := range f.published {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}
