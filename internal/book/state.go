// Package book holds the in-memory order-book replica and the pure
// computations over it: diff application, metrics and liquidity bands.
package book

import (
	"fmt"
	"sort"
	"time"

	"github.com/alanyoungcy/depthmap/internal/domain"
	"github.com/shopspring/decimal"
)

// level is one resting price level. The map key is the canonical decimal
// string of price, so "100.10" and "100.1" address the same level.
type level struct {
	price decimal.Decimal
	qty   decimal.Decimal
}

// State is the mutable order-book replica for one symbol. A price key is
// present only while its quantity is strictly positive. State is not safe for
// concurrent use; Replica serializes access to it.
type State struct {
	Symbol         string
	LastUpdateID   int64
	LastUpdateTime time.Time

	bids map[string]level
	asks map[string]level
}

// NewState returns an empty, not-ready replica for symbol.
func NewState(symbol string) *State {
	return &State{
		Symbol: symbol,
		bids:   make(map[string]level),
		asks:   make(map[string]level),
	}
}

func (s *State) side(side domain.Side) map[string]level {
	if side == domain.SideBid {
		return s.bids
	}
	return s.asks
}

// Seed replaces the whole book with a REST depth snapshot. All levels are
// parsed before anything is replaced, so a malformed seed leaves the state
// untouched.
func (s *State) Seed(seed domain.DepthSeed, now time.Time) error {
	bids, err := parseLevels(seed.Bids)
	if err != nil {
		return fmt.Errorf("book: seed bids: %w", err)
	}
	asks, err := parseLevels(seed.Asks)
	if err != nil {
		return fmt.Errorf("book: seed asks: %w", err)
	}

	s.bids = make(map[string]level, len(bids))
	s.asks = make(map[string]level, len(asks))
	for _, l := range bids {
		if l.qty.IsPositive() {
			s.bids[l.key] = level{price: l.price, qty: l.qty}
		}
	}
	for _, l := range asks {
		if l.qty.IsPositive() {
			s.asks[l.key] = level{price: l.price, qty: l.qty}
		}
	}
	s.LastUpdateID = seed.LastUpdateID
	s.LastUpdateTime = now
	return nil
}

// FromSnapshot rebuilds a State from a materialized snapshot. Only the
// levels the snapshot kept are present, so full-depth volumes are those of
// the truncated book.
func FromSnapshot(snap domain.Snapshot) *State {
	s := NewState(snap.Symbol)
	fill := func(dst map[string]level, src []domain.PriceLevel) {
		for _, pl := range src {
			if pl.Volume <= 0 {
				continue
			}
			p := decimal.NewFromFloat(pl.Price)
			dst[p.String()] = level{price: p, qty: decimal.NewFromFloat(pl.Volume)}
		}
	}
	fill(s.bids, snap.Bids)
	fill(s.asks, snap.Asks)
	s.LastUpdateTime = snap.Timestamp
	return s
}

// Reset empties both sides and forgets the sequence position.
func (s *State) Reset() {
	s.bids = make(map[string]level)
	s.asks = make(map[string]level)
	s.LastUpdateID = 0
	s.LastUpdateTime = time.Time{}
}

// Ready reports whether both sides hold at least one level.
func (s *State) Ready() bool {
	return len(s.bids) > 0 && len(s.asks) > 0
}

// Depth returns the number of levels on one side.
func (s *State) Depth(side domain.Side) int {
	return len(s.side(side))
}

// Quantity returns the resting quantity at price on one side. The price is
// normalized, so any decimal spelling of the same value matches.
func (s *State) Quantity(side domain.Side, price string) (float64, bool) {
	p, err := decimal.NewFromString(price)
	if err != nil {
		return 0, false
	}
	l, ok := s.side(side)[p.String()]
	if !ok {
		return 0, false
	}
	return l.qty.InexactFloat64(), true
}

// Levels returns one side sorted best-first (bids descending, asks
// ascending), truncated to limit when limit > 0.
func (s *State) Levels(side domain.Side, limit int) []domain.PriceLevel {
	m := s.side(side)
	sorted := make([]level, 0, len(m))
	for _, l := range m {
		sorted = append(sorted, l)
	}
	if side == domain.SideBid {
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].price.GreaterThan(sorted[j].price) })
	} else {
		sort.Slice(sorted, func(i, j int) bool { return sorted[i].price.LessThan(sorted[j].price) })
	}
	if limit > 0 && len(sorted) > limit {
		sorted = sorted[:limit]
	}

	out := make([]domain.PriceLevel, len(sorted))
	for i, l := range sorted {
		out[i] = domain.PriceLevel{Price: l.price.InexactFloat64(), Volume: l.qty.InexactFloat64()}
	}
	return out
}

// volume sums every quantity on one side at full depth.
func (s *State) volume(side domain.Side) decimal.Decimal {
	total := decimal.Zero
	for _, l := range s.side(side) {
		total = total.Add(l.qty)
	}
	return total
}
