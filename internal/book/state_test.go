package book

import (
	"errors"
	"testing"

	"github.com/alanyoungcy/depthmap/internal/domain"
)

func TestSeedSkipsEmptyLevels(t *testing.T) {
	s := NewState("TRXUSDT")
	err := s.Seed(domain.DepthSeed{
		LastUpdateID: 42,
		Bids:         []domain.LevelUpdate{lv("0.1201", "10"), lv("0.1200", "0")},
		Asks:         []domain.LevelUpdate{lv("0.1203", "4")},
	}, t0)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	if s.Depth(domain.SideBid) != 1 || s.Depth(domain.SideAsk) != 1 {
		t.Fatalf("expected 1/1 levels, got %d/%d", s.Depth(domain.SideBid), s.Depth(domain.SideAsk))
	}
	if s.LastUpdateID != 42 {
		t.Fatalf("expected lastUpdateId 42, got %d", s.LastUpdateID)
	}
}

func TestSeedMalformedKeepsPreviousBook(t *testing.T) {
	s := seededState(t)
	err := s.Seed(domain.DepthSeed{
		LastUpdateID: 99,
		Bids:         []domain.LevelUpdate{lv("1", "1")},
		Asks:         []domain.LevelUpdate{lv("x", "1")},
	}, t0)
	if !errors.Is(err, domain.ErrMalformedUpdate) {
		t.Fatalf("expected ErrMalformedUpdate, got %v", err)
	}
	if s.LastUpdateID != 5 || s.Depth(domain.SideBid) != 2 {
		t.Fatalf("seed failure mutated state: id=%d bids=%d", s.LastUpdateID, s.Depth(domain.SideBid))
	}
}

func TestLevelsSortedAndTruncated(t *testing.T) {
	s := seededState(t)

	bids := s.Levels(domain.SideBid, 0)
	if len(bids) != 2 || bids[0].Price != 100 || bids[1].Price != 99 {
		t.Fatalf("bids not descending: %v", bids)
	}
	asks := s.Levels(domain.SideAsk, 1)
	if len(asks) != 1 || asks[0].Price != 101 || asks[0].Volume != 1 {
		t.Fatalf("asks not truncated ascending: %v", asks)
	}
}

func TestQuantityMatchesAnySpelling(t *testing.T) {
	s := seededState(t)
	q, ok := s.Quantity(domain.SideAsk, "102.0")
	if !ok || q != 3 {
		t.Fatalf("expected 3 at 102.0, got %v (found %v)", q, ok)
	}
	if _, ok := s.Quantity(domain.SideAsk, "not-a-price"); ok {
		t.Fatal("expected lookup of malformed price to miss")
	}
}

func TestResetMakesBookNotReady(t *testing.T) {
	s := seededState(t)
	s.Reset()
	if s.Ready() || s.LastUpdateID != 0 {
		t.Fatalf("expected empty book after reset, ready=%v id=%d", s.Ready(), s.LastUpdateID)
	}
}

// ─── FromSnapshot ───

func TestFromSnapshot(t *testing.T) {
	snap := domain.Snapshot{
		Symbol: "TRXUSDT",
		Bids:   []domain.PriceLevel{{Price: 99, Volume: 2}, {Price: 98, Volume: 0}},
		Asks:   []domain.PriceLevel{{Price: 101, Volume: 1}},
	}
	s := FromSnapshot(snap)
	if !s.Ready() {
		t.Fatal("expected rebuilt state to be ready")
	}
	if s.Depth(domain.SideBid) != 1 {
		t.Fatalf("expected zero-volume level to be skipped, got %d bids", s.Depth(domain.SideBid))
	}
	if q, ok := s.Quantity(domain.SideAsk, "101.0"); !ok || q != 1 {
		t.Fatalf("expected ask 101 qty 1, got %v %v", q, ok)
	}
}
