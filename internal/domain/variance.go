package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Classification buckets a detected quantity difference.
type Classification string

const (
	ClassMatched Classification = "matched"
	ClassMinor   Classification = "minor"
	ClassMajor   Classification = "major"
)

// Resolution records what was done about a variance.
type Resolution string

const (
	ResolutionNone             Resolution = "none"
	ResolutionAutoCorrected    Resolution = "auto_corrected"
	ResolutionFlaggedForReview Resolution = "flagged_for_review"
	ResolutionManuallyResolved Resolution = "manually_resolved"
	ResolutionDismissed        Resolution = "dismissed"
)

// Classify buckets the difference between the planning quantity (qtyA, the
// system of record) and the summed warehouse quantity (qtyB). The boundary is
// inclusive on the minor side. A zero/zero pair is matched by definition, and
// a negative warehouse quantity is always major regardless of percentage
// since it can only mean data corruption.
func Classify(qtyA, qtyB int64, minorThreshold float64) (Classification, float64) {
	if qtyB < 0 {
		return ClassMajor, DeltaPct(qtyA, qtyB)
	}

	delta := qtyA - qtyB
	if delta == 0 {
		return ClassMatched, 0
	}

	pct := DeltaPct(qtyA, qtyB)
	if pct <= minorThreshold {
		return ClassMinor, pct
	}
	return ClassMajor, pct
}

// DeltaPct is |qtyA - qtyB| / max(1, qtyA). The max guard keeps a zero
// planning quantity from dividing by zero.
func DeltaPct(qtyA, qtyB int64) float64 {
	denom := qtyA
	if denom < 1 {
		denom = 1
	}
	return math.Abs(float64(qtyA-qtyB)) / float64(denom)
}

// VarianceRecord is one detected discrepancy between the two ledgers for a
// (material, aggregate location) pair. Records are append-only audit data;
// only the resolution fields are ever updated after creation.
type VarianceRecord struct {
	ID                  primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	MaterialID          string             `bson:"materialId" json:"materialId"`
	AggregateLocationID string             `bson:"aggregateLocationId" json:"aggregateLocationId"`
	BinLocationIDs      []string           `bson:"binLocationIds" json:"binLocationIds"`
	PlanningQty         int64              `bson:"planningQty" json:"planningQty"`
	WarehouseQty        int64              `bson:"warehouseQty" json:"warehouseQty"`
	Delta               int64              `bson:"delta" json:"delta"`
	DeltaPct            float64            `bson:"deltaPct" json:"deltaPct"`
	Classification      Classification     `bson:"classification" json:"classification"`
	Resolution          Resolution         `bson:"resolution" json:"resolution"`
	CorrectionKey       string             `bson:"correctionKey,omitempty" json:"correctionKey,omitempty"`
	RunID               string             `bson:"runId" json:"runId"`
	ResolvedBy          string             `bson:"resolvedBy,omitempty" json:"resolvedBy,omitempty"`
	ResolutionNote      string             `bson:"resolutionNote,omitempty" json:"resolutionNote,omitempty"`
	DetectedAt          time.Time          `bson:"detectedAt" json:"detectedAt"`
	ResolvedAt          *time.Time         `bson:"resolvedAt,omitempty" json:"resolvedAt,omitempty"`
}

// NewVarianceRecord builds a variance for a reconciled pair, classifying it
// against the configured minor threshold.
func NewVarianceRecord(runID, materialID, aggregateLocationID string, binIDs []string, qtyA, qtyB int64, minorThreshold float64) *VarianceRecord {
	class, pct := Classify(qtyA, qtyB, minorThreshold)
	return &VarianceRecord{
		MaterialID:          materialID,
		AggregateLocationID: aggregateLocationID,
		BinLocationIDs:      binIDs,
		PlanningQty:         qtyA,
		WarehouseQty:        qtyB,
		Delta:               qtyA - qtyB,
		DeltaPct:            pct,
		Classification:      class,
		Resolution:          ResolutionNone,
		RunID:               runID,
		DetectedAt:          time.Now().UTC(),
	}
}

// CorrectionEventKey derives the idempotency key for the auto-correction
// event of this variance. The key is a fingerprint of the observed state
// (material, location, both quantities), not of the run, so repeated runs
// over an unchanged delta produce the same key and the enqueue collapses to
// a no-op.
func (v *VarianceRecord) CorrectionEventKey() string {
	h := sha256.New()
	fmt.Fprintf(h, "correction|%s|%s|%d|%d", v.MaterialID, v.AggregateLocationID, v.PlanningQty, v.WarehouseQty)
	return hex.EncodeToString(h.Sum(nil))
}

// MarkAutoCorrected records that a correction event was issued for this
// variance.
func (v *VarianceRecord) MarkAutoCorrected(correctionKey string) {
	now := time.Now().UTC()
	v.Resolution = ResolutionAutoCorrected
	v.CorrectionKey = correctionKey
	v.ResolvedAt = &now
}

// MarkFlagged records that the variance requires human review.
func (v *VarianceRecord) MarkFlagged() {
	v.Resolution = ResolutionFlaggedForReview
}

// Resolve records an operator decision on a flagged variance.
func (v *VarianceRecord) Resolve(resolution Resolution, resolvedBy, note string) error {
	if resolution != ResolutionManuallyResolved && resolution != ResolutionDismissed {
		return ErrInvalidResolution
	}
	if v.Resolution == ResolutionManuallyResolved || v.Resolution == ResolutionDismissed {
		return ErrVarianceResolved
	}
	now := time.Now().UTC()
	v.Resolution = resolution
	v.ResolvedBy = resolvedBy
	v.ResolutionNote = note
	v.ResolvedAt = &now
	return nil
}
