package domain

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a reconciliation run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunCancelled RunStatus = "cancelled"
	RunFailed    RunStatus = "failed"
)

// ReconciliationScope narrows a run to a subset of materials and/or aggregate
// locations. Empty slices mean no filter on that axis.
type ReconciliationScope struct {
	MaterialIDs          []string `bson:"materialIds,omitempty" json:"materialIds,omitempty"`
	AggregateLocationIDs []string `bson:"aggregateLocationIds,omitempty" json:"aggregateLocationIds,omitempty"`
}

// IncludesMaterial reports whether the scope covers the material.
func (s ReconciliationScope) IncludesMaterial(materialID string) bool {
	if len(s.MaterialIDs) == 0 {
		return true
	}
	for _, id := range s.MaterialIDs {
		if id == materialID {
			return true
		}
	}
	return false
}

// IncludesLocation reports whether the scope covers the aggregate location.
func (s ReconciliationScope) IncludesLocation(locationID string) bool {
	if len(s.AggregateLocationIDs) == 0 {
		return true
	}
	for _, id := range s.AggregateLocationIDs {
		if id == locationID {
			return true
		}
	}
	return false
}

// ReconciliationRun is one execution of the reconciliation engine over a
// scope.
type ReconciliationRun struct {
	ID                 string              `bson:"_id" json:"id"`
	Scope              ReconciliationScope `bson:"scope" json:"scope"`
	Status             RunStatus           `bson:"status" json:"status"`
	PairsChecked       int                 `bson:"pairsChecked" json:"pairsChecked"`
	MatchedCount       int                 `bson:"matchedCount" json:"matchedCount"`
	MinorCount         int                 `bson:"minorCount" json:"minorCount"`
	MajorCount         int                 `bson:"majorCount" json:"majorCount"`
	CorrectionsIssued  int                 `bson:"correctionsIssued" json:"correctionsIssued"`
	Error              string              `bson:"error,omitempty" json:"error,omitempty"`
	StartedAt          time.Time           `bson:"startedAt" json:"startedAt"`
	CompletedAt        *time.Time          `bson:"completedAt,omitempty" json:"completedAt,omitempty"`
}

// NewReconciliationRun starts a run over the given scope.
func NewReconciliationRun(scope ReconciliationScope) *ReconciliationRun {
	return &ReconciliationRun{
		ID:        uuid.New().String(),
		Scope:     scope,
		Status:    RunRunning,
		StartedAt: time.Now().UTC(),
	}
}

// Record tallies one classified pair.
func (r *ReconciliationRun) Record(class Classification) {
	r.PairsChecked++
	switch class {
	case ClassMatched:
		r.MatchedCount++
	case ClassMinor:
		r.MinorCount++
	case ClassMajor:
		r.MajorCount++
	}
}

// Complete finalizes the run in the completed state.
func (r *ReconciliationRun) Complete() {
	now := time.Now().UTC()
	r.Status = RunCompleted
	r.CompletedAt = &now
}

// Cancel finalizes the run after cooperative cancellation. Counts reflect the
// chunks that finished before the cancellation was observed.
func (r *ReconciliationRun) Cancel() {
	now := time.Now().UTC()
	r.Status = RunCancelled
	r.CompletedAt = &now
}

// Fail finalizes the run with an error.
func (r *ReconciliationRun) Fail(err error) {
	now := time.Now().UTC()
	r.Status = RunFailed
	r.Error = err.Error()
	r.CompletedAt = &now
}

// Duration returns the elapsed run time, zero if still running.
func (r *ReconciliationRun) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}
