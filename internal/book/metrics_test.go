package book

import (
	"math"
	"testing"

	"github.com/alanyoungcy/depthmap/internal/domain"
)

func stateWith(t *testing.T, bids, asks []domain.LevelUpdate) *State {
	t.Helper()
	s := NewState("TRXUSDT")
	if err := s.Seed(domain.DepthSeed{LastUpdateID: 1, Bids: bids, Asks: asks}, t0); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return s
}

func TestCalculateMetrics(t *testing.T) {
	s := stateWith(t, []domain.LevelUpdate{lv("100", "2")}, []domain.LevelUpdate{lv("101", "1")})

	m, ok := Calculate(s)
	if !ok {
		t.Fatal("expected metrics to be ready")
	}
	if m.BestBid != 100 || m.BestAsk != 101 {
		t.Fatalf("unexpected best levels: %+v", m)
	}
	if m.MidPrice != 100.5 || m.Spread != 1 {
		t.Fatalf("expected mid 100.5 spread 1, got %v %v", m.MidPrice, m.Spread)
	}
	if m.BidVolume != 2 || m.AskVolume != 1 {
		t.Fatalf("unexpected volumes: %v %v", m.BidVolume, m.AskVolume)
	}
	if math.Abs(m.Imbalance-1.0/3.0) > 1e-12 {
		t.Fatalf("expected imbalance 1/3, got %v", m.Imbalance)
	}
}

func TestCalculateUsesFullDepth(t *testing.T) {
	s := stateWith(t,
		[]domain.LevelUpdate{lv("99", "1"), lv("100", "2"), lv("98", "4")},
		[]domain.LevelUpdate{lv("103", "1"), lv("101", "1")},
	)
	m, _ := Calculate(s)
	if m.BestBid != 100 || m.BestAsk != 101 || m.BidVolume != 7 || m.AskVolume != 2 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestCalculateNotReady(t *testing.T) {
	s := stateWith(t, []domain.LevelUpdate{lv("100", "2")}, nil)
	if _, ok := Calculate(s); ok {
		t.Fatal("expected not-ready with empty ask side")
	}
	if _, ok := Calculate(NewState("X")); ok {
		t.Fatal("expected not-ready for empty book")
	}
}

func TestImbalanceBounds(t *testing.T) {
	cases := []struct {
		bid, ask, want float64
	}{
		{0, 0, 0},
		{5, 0, 1},
		{0, 5, -1},
		{3, 1, 0.5},
	}
	for _, c := range cases {
		if got := Imbalance(c.bid, c.ask); got != c.want {
			t.Errorf("Imbalance(%v, %v) = %v, expected %v", c.bid, c.ask, got, c.want)
		}
	}
}

// ─── liquidity ────────────────────────────────────────────────────────────────

func TestLiquidityBand(t *testing.T) {
	s := stateWith(t,
		[]domain.LevelUpdate{lv("99", "2"), lv("96", "3"), lv("80", "100")},
		[]domain.LevelUpdate{lv("101", "1"), lv("104", "3"), lv("120", "50")},
	)
	band, ok := Liquidity(s, 0.05)
	if !ok {
		t.Fatal("expected band")
	}
	if band.CurrentPrice != 100 {
		t.Fatalf("expected mid 100, got %v", band.CurrentPrice)
	}
	if math.Abs(band.LowerBound-95) > 1e-9 || math.Abs(band.UpperBound-105) > 1e-9 {
		t.Fatalf("unexpected bounds %v..%v", band.LowerBound, band.UpperBound)
	}
	if band.BidLiquidity != 5 || band.AskLiquidity != 4 {
		t.Fatalf("expected 5/4 liquidity, got %v/%v", band.BidLiquidity, band.AskLiquidity)
	}
	if band.LiquidityRatio != 1.25 {
		t.Fatalf("expected ratio 1.25, got %v", band.LiquidityRatio)
	}
}

func TestLiquidityRatioSentinel(t *testing.T) {
	s := stateWith(t,
		[]domain.LevelUpdate{lv("99", "2")},
		[]domain.LevelUpdate{lv("200", "1")},
	)
	band, ok := Liquidity(s, 0.01)
	if !ok {
		t.Fatal("expected band")
	}
	if band.AskLiquidity != 0 || band.LiquidityRatio != LiquidityRatioSentinel {
		t.Fatalf("expected sentinel ratio, got ask=%v ratio=%v", band.AskLiquidity, band.LiquidityRatio)
	}
}
