package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFanOutEvent(t *testing.T, quantity int64) *InventoryEvent {
	t.Helper()
	event, err := NewInventoryEvent("evt-fan", OriginPlanning, EventReceive, "MAT-100", quantity, "", "AGG-01", 7)
	require.NoError(t, err)
	return event
}

func TestLocationMappingValidate(t *testing.T) {
	tests := []struct {
		name    string
		mapping LocationMapping
		wantErr bool
	}{
		{
			name: "valid mapping",
			mapping: LocationMapping{
				AggregateLocationID: "AGG-01",
				Bins: []BinAllocation{
					{BinLocationID: "BIN-A", Weight: 0.6},
					{BinLocationID: "BIN-B", Weight: 0.4},
				},
			},
		},
		{
			name:    "missing aggregate location",
			mapping: LocationMapping{Bins: []BinAllocation{{BinLocationID: "BIN-A", Weight: 1}}},
			wantErr: true,
		},
		{
			name:    "no bins",
			mapping: LocationMapping{AggregateLocationID: "AGG-01"},
			wantErr: true,
		},
		{
			name: "negative weight",
			mapping: LocationMapping{
				AggregateLocationID: "AGG-01",
				Bins:                []BinAllocation{{BinLocationID: "BIN-A", Weight: -0.5}},
			},
			wantErr: true,
		},
		{
			name: "duplicate bin",
			mapping: LocationMapping{
				AggregateLocationID: "AGG-01",
				Bins: []BinAllocation{
					{BinLocationID: "BIN-A", Weight: 0.5},
					{BinLocationID: "BIN-A", Weight: 0.5},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.mapping.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidMapping)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFanOut(t *testing.T) {
	t.Run("splits ten units at sixty forty into six and four", func(t *testing.T) {
		mapping := &LocationMapping{
			AggregateLocationID: "AGG-01",
			Bins: []BinAllocation{
				{BinLocationID: "BIN-A", Weight: 0.6},
				{BinLocationID: "BIN-B", Weight: 0.4},
			},
		}

		updates, err := mapping.FanOut(newFanOutEvent(t, 10))
		require.NoError(t, err)
		require.Len(t, updates, 2)

		assert.Equal(t, int64(6), updates[0].Quantity)
		assert.Equal(t, "BIN-A", updates[0].BinLocationID)
		assert.Equal(t, int64(4), updates[1].Quantity)
		assert.Equal(t, "BIN-B", updates[1].BinLocationID)
	})

	t.Run("shares always sum to the event quantity", func(t *testing.T) {
		mapping := &LocationMapping{
			AggregateLocationID: "AGG-01",
			Bins: []BinAllocation{
				{BinLocationID: "BIN-A", Weight: 1},
				{BinLocationID: "BIN-B", Weight: 1},
				{BinLocationID: "BIN-C", Weight: 1},
			},
		}

		for _, qty := range []int64{1, 2, 3, 7, 100, 101} {
			updates, err := mapping.FanOut(newFanOutEvent(t, qty))
			require.NoError(t, err)

			var sum int64
			for _, u := range updates {
				sum += u.Quantity
			}
			assert.Equal(t, qty, sum, "quantity %d", qty)
		}
	})

	t.Run("remainder goes to the default bin first", func(t *testing.T) {
		mapping := &LocationMapping{
			AggregateLocationID: "AGG-01",
			Bins: []BinAllocation{
				{BinLocationID: "BIN-A", Weight: 1},
				{BinLocationID: "BIN-B", Weight: 1, Default: true},
			},
		}

		updates, err := mapping.FanOut(newFanOutEvent(t, 3))
		require.NoError(t, err)
		require.Len(t, updates, 2)

		assert.Equal(t, int64(1), updates[0].Quantity)
		assert.Equal(t, int64(2), updates[1].Quantity)
	})

	t.Run("negative quantities split symmetrically", func(t *testing.T) {
		mapping := &LocationMapping{
			AggregateLocationID: "AGG-01",
			Bins: []BinAllocation{
				{BinLocationID: "BIN-A", Weight: 0.6},
				{BinLocationID: "BIN-B", Weight: 0.4},
			},
		}

		updates, err := mapping.FanOut(newFanOutEvent(t, -10))
		require.NoError(t, err)

		assert.Equal(t, int64(-6), updates[0].Quantity)
		assert.Equal(t, int64(-4), updates[1].Quantity)
	})

	t.Run("each sub-update carries its own idempotency key", func(t *testing.T) {
		mapping := &LocationMapping{
			AggregateLocationID: "AGG-01",
			Bins: []BinAllocation{
				{BinLocationID: "BIN-A", Weight: 0.6},
				{BinLocationID: "BIN-B", Weight: 0.4},
			},
		}

		event := newFanOutEvent(t, 10)
		updates, err := mapping.FanOut(event)
		require.NoError(t, err)

		assert.Equal(t, event.SubKey(0), updates[0].IdempotencyKey)
		assert.Equal(t, event.SubKey(1), updates[1].IdempotencyKey)
		assert.NotEqual(t, updates[0].IdempotencyKey, updates[1].IdempotencyKey)
	})

	t.Run("single bin receives everything", func(t *testing.T) {
		mapping := &LocationMapping{
			AggregateLocationID: "AGG-01",
			Bins:                []BinAllocation{{BinLocationID: "BIN-A", Weight: 1}},
		}

		updates, err := mapping.FanOut(newFanOutEvent(t, 17))
		require.NoError(t, err)
		require.Len(t, updates, 1)
		assert.Equal(t, int64(17), updates[0].Quantity)
	})

	t.Run("all-zero weights are rejected", func(t *testing.T) {
		mapping := &LocationMapping{
			AggregateLocationID: "AGG-01",
			Bins: []BinAllocation{
				{BinLocationID: "BIN-A", Weight: 0},
				{BinLocationID: "BIN-B", Weight: 0},
			},
		}

		_, err := mapping.FanOut(newFanOutEvent(t, 10))
		assert.ErrorIs(t, err, ErrInvalidMapping)
	})
}
