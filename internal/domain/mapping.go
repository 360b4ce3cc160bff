package domain

import "time"

// BinAllocation is one bin-level location within an aggregate location's
// fan-out set, with its share of any quantity split.
type BinAllocation struct {
	BinLocationID string  `bson:"binLocationId" json:"binLocationId"`
	Weight        float64 `bson:"weight" json:"weight"`
	Default       bool    `bson:"default,omitempty" json:"default,omitempty"`
}

// LocationMapping is the bidirectional association between one aggregate
// (planning) location and the bin-level (warehouse) locations backing it.
// Mappings are administrative configuration and read-only to the engine.
// Every active bin location belongs to exactly one mapping; an aggregate
// location may fan out to many bins.
type LocationMapping struct {
	AggregateLocationID string          `bson:"_id" json:"aggregateLocationId"`
	Bins                []BinAllocation `bson:"bins" json:"bins"`
	Active              bool            `bson:"active" json:"active"`
	UpdatedAt           time.Time       `bson:"updatedAt" json:"updatedAt"`
}

// Validate checks structural soundness: at least one bin, positive weights,
// no duplicate bin ids within the mapping.
func (m *LocationMapping) Validate() error {
	if m.AggregateLocationID == "" || len(m.Bins) == 0 {
		return ErrInvalidMapping
	}
	seen := make(map[string]struct{}, len(m.Bins))
	for _, bin := range m.Bins {
		if bin.BinLocationID == "" || bin.Weight < 0 {
			return ErrInvalidMapping
		}
		if _, dup := seen[bin.BinLocationID]; dup {
			return ErrInvalidMapping
		}
		seen[bin.BinLocationID] = struct{}{}
	}
	return nil
}

// BinIDs returns the bin location ids in mapping order.
func (m *LocationMapping) BinIDs() []string {
	ids := make([]string, len(m.Bins))
	for i, bin := range m.Bins {
		ids[i] = bin.BinLocationID
	}
	return ids
}

// SubUpdate is one weighted share of an event quantity, addressed to a single
// bin location and carrying its own idempotency key.
type SubUpdate struct {
	BinLocationID  string
	Quantity       int64
	IdempotencyKey string
}

// FanOut splits quantity across the mapping's bins by weight. Shares are
// floored and the remainder is distributed by largest fractional part, first
// to the default bin if one is flagged, so the shares always sum to quantity
// exactly (e.g. 10 units at 60/40 become 6 and 4).
func (m *LocationMapping) FanOut(event *InventoryEvent) ([]SubUpdate, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}

	total := 0.0
	for _, bin := range m.Bins {
		total += bin.Weight
	}
	if total == 0 {
		return nil, ErrInvalidMapping
	}

	qty := event.Quantity
	negative := qty < 0
	if negative {
		qty = -qty
	}

	type share struct {
		index int
		whole int64
		frac  float64
	}

	shares := make([]share, len(m.Bins))
	var allocated int64
	for i, bin := range m.Bins {
		exact := float64(qty) * bin.Weight / total
		whole := int64(exact)
		shares[i] = share{index: i, whole: whole, frac: exact - float64(whole)}
		allocated += whole
	}

	// Distribute the rounding remainder: default bin first, then by largest
	// fractional part, mapping order breaking ties.
	remainder := qty - allocated
	for remainder > 0 {
		best := -1
		for i := range shares {
			if m.Bins[shares[i].index].Default && shares[i].frac > 0 {
				best = i
				break
			}
			if best == -1 || shares[i].frac > shares[best].frac {
				best = i
			}
		}
		shares[best].whole++
		shares[best].frac = 0
		remainder--
	}

	updates := make([]SubUpdate, 0, len(shares))
	for _, s := range shares {
		q := s.whole
		if negative {
			q = -q
		}
		updates = append(updates, SubUpdate{
			BinLocationID:  m.Bins[s.index].BinLocationID,
			Quantity:       q,
			IdempotencyKey: event.SubKey(s.index),
		})
	}
	return updates, nil
}
