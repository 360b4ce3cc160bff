package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wms-platform/inventory-sync-service/internal/domain"
	"github.com/wms-platform/inventory-sync-service/pkg/cloudevents"
)

type reconFixture struct {
	service   *ReconciliationService
	runs      *fakeRunRepo
	variances *fakeVarianceRepo
	mappings  *fakeMappingRepo
	queue     *fakeQueueRepo
	planning  *fakeLedger
	warehouse *fakeLedger
	publisher *fakePublisher
}

func newReconFixture(t *testing.T, autoCorrect bool) *reconFixture {
	t.Helper()
	f := &reconFixture{
		runs:      newFakeRunRepo(),
		variances: newFakeVarianceRepo(),
		mappings:  newFakeMappingRepo(),
		queue:     newFakeQueueRepo(),
		planning:  newFakeLedger(),
		warehouse: newFakeLedger(),
		publisher: &fakePublisher{},
	}
	f.service = NewReconciliationService(ReconciliationConfig{
		ChunkSize:      100,
		MinorThreshold: 0.02,
		AutoCorrect:    autoCorrect,
		PartitionCount: 16,
		MaxAttempts:    5,
	}, f.runs, f.variances, f.mappings, f.queue, f.planning, f.warehouse,
		f.publisher, cloudevents.NewEventFactory(cloudevents.SourceSyncEngine),
		testMetrics(), testLogger())
	return f
}

func (f *reconFixture) addPair(t *testing.T, material, agg, bin string, planningQty, warehouseQty int64) {
	t.Helper()
	require.NoError(t, f.mappings.Save(context.Background(), &domain.LocationMapping{
		AggregateLocationID: agg,
		Bins:                []domain.BinAllocation{{BinLocationID: bin, Weight: 1}},
		Active:              true,
	}))
	f.planning.setQuantity(material, agg, planningQty)
	f.warehouse.setQuantity(material, bin, warehouseQty)
}

func TestExecuteMatchedPair(t *testing.T) {
	f := newReconFixture(t, true)
	f.addPair(t, "MAT-1", "AGG-A", "WH-A-01", 100, 100)

	dto, err := f.service.Execute(context.Background(), StartRunCommand{})
	require.NoError(t, err)

	assert.Equal(t, string(domain.RunCompleted), dto.Status)
	assert.Equal(t, 1, dto.PairsChecked)
	assert.Equal(t, 1, dto.MatchedCount)
	assert.Equal(t, 0, dto.CorrectionsIssued)
	assert.Empty(t, f.queue.entries)
}

func TestExecuteMinorVarianceAutoCorrects(t *testing.T) {
	f := newReconFixture(t, true)
	// 100 vs 98 is exactly the 2% boundary, minor inclusive.
	f.addPair(t, "MAT-1", "AGG-A", "WH-A-01", 100, 98)

	dto, err := f.service.Execute(context.Background(), StartRunCommand{})
	require.NoError(t, err)

	assert.Equal(t, 1, dto.MinorCount)
	assert.Equal(t, 1, dto.CorrectionsIssued)

	require.Len(t, f.queue.entries, 1)
	for _, entry := range f.queue.entries {
		assert.Equal(t, domain.DirectionPlanningToWarehouse, entry.Direction)
		assert.Equal(t, domain.EventAdjust, entry.Event.Type)
		assert.Equal(t, int64(2), entry.Event.Quantity)
		assert.Equal(t, "AGG-A", entry.Event.DestLocation)
	}

	records, err := f.variances.FindByRunID(context.Background(), dto.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.ClassMinor, records[0].Classification)
	assert.Equal(t, domain.ResolutionAutoCorrected, records[0].Resolution)
	assert.NotEmpty(t, records[0].CorrectionKey)
}

func TestExecuteRepeatedRunsCollapseCorrections(t *testing.T) {
	f := newReconFixture(t, true)
	f.addPair(t, "MAT-1", "AGG-A", "WH-A-01", 100, 99)

	first, err := f.service.Execute(context.Background(), StartRunCommand{})
	require.NoError(t, err)
	assert.Equal(t, 1, first.CorrectionsIssued)

	// The delta is unchanged, so the second run's correction has the same
	// fingerprint key and the enqueue is a no-op.
	second, err := f.service.Execute(context.Background(), StartRunCommand{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.CorrectionsIssued)
	assert.Len(t, f.queue.entries, 1)
}

func TestExecuteMajorVarianceFlagsForReview(t *testing.T) {
	f := newReconFixture(t, true)
	f.addPair(t, "MAT-1", "AGG-A", "WH-A-01", 100, 50)

	dto, err := f.service.Execute(context.Background(), StartRunCommand{})
	require.NoError(t, err)

	assert.Equal(t, 1, dto.MajorCount)
	assert.Equal(t, 0, dto.CorrectionsIssued)
	assert.Empty(t, f.queue.entries)

	records, err := f.variances.FindByRunID(context.Background(), dto.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.ClassMajor, records[0].Classification)
	assert.Equal(t, domain.ResolutionFlaggedForReview, records[0].Resolution)

	assert.Len(t, f.publisher.eventsOfType(cloudevents.VarianceDetected), 1)
}

func TestExecuteMinorVarianceWithoutAutoCorrectFlags(t *testing.T) {
	f := newReconFixture(t, false)
	f.addPair(t, "MAT-1", "AGG-A", "WH-A-01", 100, 99)

	dto, err := f.service.Execute(context.Background(), StartRunCommand{})
	require.NoError(t, err)

	assert.Equal(t, 1, dto.MinorCount)
	assert.Equal(t, 0, dto.CorrectionsIssued)
	assert.Empty(t, f.queue.entries)

	records, err := f.variances.FindByRunID(context.Background(), dto.ID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, domain.ResolutionFlaggedForReview, records[0].Resolution)
}

func TestExecuteNegativeWarehouseQuantityIsMajor(t *testing.T) {
	f := newReconFixture(t, true)
	f.addPair(t, "MAT-1", "AGG-A", "WH-A-01", 10, -1)

	dto, err := f.service.Execute(context.Background(), StartRunCommand{})
	require.NoError(t, err)

	assert.Equal(t, 1, dto.MajorCount)
	assert.Equal(t, 0, dto.CorrectionsIssued)
}

func TestExecuteSkipsUnmappedLocations(t *testing.T) {
	f := newReconFixture(t, true)
	f.planning.setQuantity("MAT-1", "AGG-UNMAPPED", 100)

	dto, err := f.service.Execute(context.Background(), StartRunCommand{})
	require.NoError(t, err)

	assert.Equal(t, 0, dto.PairsChecked)
	assert.Equal(t, string(domain.RunCompleted), dto.Status)
}

func TestExecuteScopeFilters(t *testing.T) {
	f := newReconFixture(t, true)
	f.addPair(t, "MAT-1", "AGG-A", "WH-A-01", 100, 100)
	f.addPair(t, "MAT-2", "AGG-B", "WH-B-01", 50, 50)

	dto, err := f.service.Execute(context.Background(), StartRunCommand{
		MaterialIDs: []string{"MAT-1"},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, dto.PairsChecked)
}

func TestExecuteCancelledContext(t *testing.T) {
	f := newReconFixture(t, true)
	f.addPair(t, "MAT-1", "AGG-A", "WH-A-01", 100, 100)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dto, err := f.service.Execute(ctx, StartRunCommand{})
	require.Error(t, err)
	assert.Equal(t, string(domain.RunCancelled), dto.Status)

	// The terminal state survives the cancelled request context.
	stored, findErr := f.runs.FindByID(context.Background(), dto.ID)
	require.NoError(t, findErr)
	assert.Equal(t, domain.RunCancelled, stored.Status)
}

func TestExecutePublishesCompletion(t *testing.T) {
	f := newReconFixture(t, true)
	f.addPair(t, "MAT-1", "AGG-A", "WH-A-01", 100, 100)

	_, err := f.service.Execute(context.Background(), StartRunCommand{})
	require.NoError(t, err)

	completions := f.publisher.eventsOfType(cloudevents.ReconciliationCompleted)
	require.Len(t, completions, 1)
	data, ok := completions[0].Data.(cloudevents.ReconciliationCompletedData)
	require.True(t, ok)
	assert.Equal(t, 1, data.PairsChecked)
	assert.Equal(t, string(domain.RunCompleted), data.Status)
}

func TestGetRunAndListRuns(t *testing.T) {
	f := newReconFixture(t, true)
	f.addPair(t, "MAT-1", "AGG-A", "WH-A-01", 100, 100)

	created, err := f.service.Execute(context.Background(), StartRunCommand{})
	require.NoError(t, err)

	fetched, err := f.service.GetRun(context.Background(), created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, fetched.ID)

	runs, err := f.service.ListRuns(context.Background(), ListRunsQuery{Limit: 10})
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	_, err = f.service.GetRun(context.Background(), "missing")
	assert.Error(t, err)
}
