package book

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/depthmap/internal/domain"
	"github.com/shopspring/decimal"
)

type parsedLevel struct {
	key   string
	price decimal.Decimal
	qty   decimal.Decimal
}

func parseLevels(in []domain.LevelUpdate) ([]parsedLevel, error) {
	out := make([]parsedLevel, 0, len(in))
	for _, u := range in {
		price, err := decimal.NewFromString(u.Price)
		if err != nil {
			return nil, fmt.Errorf("%w: price %q", domain.ErrMalformedUpdate, u.Price)
		}
		qty, err := decimal.NewFromString(u.Quantity)
		if err != nil {
			return nil, fmt.Errorf("%w: quantity %q", domain.ErrMalformedUpdate, u.Quantity)
		}
		if price.IsNegative() || qty.IsNegative() {
			return nil, fmt.Errorf("%w: negative level %s@%s", domain.ErrMalformedUpdate, u.Quantity, u.Price)
		}
		out = append(out, parsedLevel{key: price.String(), price: price, qty: qty})
	}
	return out, nil
}

// Apply applies one depth diff to s and returns a change record for every
// level it touched.
//
// A diff whose final id is not newer than s.LastUpdateID is rejected with
// domain.ErrStaleUpdate and leaves s untouched. A diff carrying an
// unparseable number is rejected with domain.ErrMalformedUpdate, also
// without mutation. Removing a level emits a change only when that level
// held quantity before.
func Apply(s *State, u domain.DepthUpdate, now time.Time) ([]domain.PriceLevelChange, error) {
	if u.FinalUpdateID <= s.LastUpdateID {
		return nil, domain.ErrStaleUpdate
	}

	bids, err := parseLevels(u.Bids)
	if err != nil {
		return nil, err
	}
	asks, err := parseLevels(u.Asks)
	if err != nil {
		return nil, err
	}

	changes := make([]domain.PriceLevelChange, 0, len(bids)+len(asks))
	changes = applySide(s.bids, domain.SideBid, bids, now, changes)
	changes = applySide(s.asks, domain.SideAsk, asks, now, changes)

	s.LastUpdateID = u.FinalUpdateID
	s.LastUpdateTime = now
	return changes, nil
}

func applySide(m map[string]level, side domain.Side, levels []parsedLevel, now time.Time, changes []domain.PriceLevelChange) []domain.PriceLevelChange {
	for _, l := range levels {
		old := decimal.Zero
		if prev, ok := m[l.key]; ok {
			old = prev.qty
		}

		var delta decimal.Decimal
		if l.qty.IsZero() {
			delete(m, l.key)
			if !old.IsPositive() {
				continue
			}
			delta = old.Neg()
		} else {
			m[l.key] = level{price: l.price, qty: l.qty}
			delta = l.qty.Sub(old)
		}

		c := domain.PriceLevelChange{
			Timestamp: now,
			Price:     l.price.InexactFloat64(),
			Side:      side,
		}
		if side == domain.SideBid {
			c.BidDelta = delta.InexactFloat64()
		} else {
			c.AskDelta = delta.InexactFloat64()
		}
		changes = append(changes, c)
	}
	return changes
}
