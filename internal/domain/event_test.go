package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInventoryEvent(t *testing.T) {
	t.Run("creates valid event with derived idempotency key", func(t *testing.T) {
		event, err := NewInventoryEvent("evt-001", OriginPlanning, EventReceive, "MAT-100", 25, "", "AGG-01", 42)

		require.NoError(t, err)
		assert.Equal(t, "evt-001", event.ID)
		assert.Equal(t, OriginPlanning, event.Origin)
		assert.Equal(t, EventReceive, event.Type)
		assert.Equal(t, int64(25), event.Quantity)
		assert.NotEmpty(t, event.IdempotencyKey)
		assert.Equal(t, DeriveIdempotencyKey("evt-001", EventReceive, "MAT-100", 42), event.IdempotencyKey)
		assert.False(t, event.OccurredAt.IsZero())
	})

	t.Run("rejects missing event id", func(t *testing.T) {
		_, err := NewInventoryEvent("", OriginPlanning, EventReceive, "MAT-100", 25, "", "AGG-01", 42)
		assert.ErrorIs(t, err, ErrMissingEventID)
	})

	t.Run("rejects unknown origin", func(t *testing.T) {
		_, err := NewInventoryEvent("evt-001", OriginSystem("erp"), EventReceive, "MAT-100", 25, "", "AGG-01", 42)
		assert.ErrorIs(t, err, ErrInvalidOrigin)
	})

	t.Run("rejects unknown event type", func(t *testing.T) {
		_, err := NewInventoryEvent("evt-001", OriginPlanning, EventType("teleport"), "MAT-100", 25, "", "AGG-01", 42)
		assert.ErrorIs(t, err, ErrInvalidEventType)
	})

	t.Run("rejects missing material", func(t *testing.T) {
		_, err := NewInventoryEvent("evt-001", OriginPlanning, EventReceive, "", 25, "", "AGG-01", 42)
		assert.ErrorIs(t, err, ErrMissingMaterial)
	})

	t.Run("rejects zero quantity", func(t *testing.T) {
		_, err := NewInventoryEvent("evt-001", OriginPlanning, EventAdjust, "MAT-100", 0, "", "AGG-01", 42)
		assert.ErrorIs(t, err, ErrInvalidQuantity)
	})

	t.Run("allows negative quantity for downward adjustments", func(t *testing.T) {
		event, err := NewInventoryEvent("evt-002", OriginWarehouse, EventAdjust, "MAT-100", -3, "", "BIN-01", 43)
		require.NoError(t, err)
		assert.Equal(t, int64(-3), event.Quantity)
	})
}

func TestDeriveIdempotencyKey(t *testing.T) {
	t.Run("is deterministic for identical inputs", func(t *testing.T) {
		a := DeriveIdempotencyKey("evt-001", EventReceive, "MAT-100", 42)
		b := DeriveIdempotencyKey("evt-001", EventReceive, "MAT-100", 42)
		assert.Equal(t, a, b)
		assert.Len(t, a, 64) // sha256 hex
	})

	t.Run("differs when any input differs", func(t *testing.T) {
		base := DeriveIdempotencyKey("evt-001", EventReceive, "MAT-100", 42)

		assert.NotEqual(t, base, DeriveIdempotencyKey("evt-002", EventReceive, "MAT-100", 42))
		assert.NotEqual(t, base, DeriveIdempotencyKey("evt-001", EventAdjust, "MAT-100", 42))
		assert.NotEqual(t, base, DeriveIdempotencyKey("evt-001", EventReceive, "MAT-200", 42))
		assert.NotEqual(t, base, DeriveIdempotencyKey("evt-001", EventReceive, "MAT-100", 43))
	})
}

func TestSubKey(t *testing.T) {
	event, err := NewInventoryEvent("evt-001", OriginPlanning, EventReceive, "MAT-100", 10, "", "AGG-01", 42)
	require.NoError(t, err)

	t.Run("suffixes the base key with the sub-update index", func(t *testing.T) {
		assert.Equal(t, event.IdempotencyKey+"-00", event.SubKey(0))
		assert.Equal(t, event.IdempotencyKey+"-01", event.SubKey(1))
		assert.Equal(t, event.IdempotencyKey+"-11", event.SubKey(11))
	})

	t.Run("sub-keys are distinct from each other and the base key", func(t *testing.T) {
		assert.NotEqual(t, event.SubKey(0), event.SubKey(1))
		assert.NotEqual(t, event.IdempotencyKey, event.SubKey(0))
	})
}

func TestTargetLocation(t *testing.T) {
	tests := []struct {
		name      string
		eventType EventType
		source    string
		dest      string
		expected  string
	}{
		{"issue acts on source", EventIssue, "AGG-01", "", "AGG-01"},
		{"receive acts on destination", EventReceive, "", "AGG-02", "AGG-02"},
		{"move acts on destination", EventMove, "AGG-01", "AGG-02", "AGG-02"},
		{"adjust without destination falls back to source", EventAdjust, "AGG-01", "", "AGG-01"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event, err := NewInventoryEvent("evt-001", OriginPlanning, tt.eventType, "MAT-100", 5, tt.source, tt.dest, 1)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, event.TargetLocation())
		})
	}
}
