package book

import (
	"testing"

	"github.com/alanyoungcy/depthmap/internal/domain"
)

func change(price float64) domain.PriceLevelChange {
	return domain.PriceLevelChange{Price: price, BidDelta: 1, Side: domain.SideBid}
}

func TestChangeBufferDropsOldest(t *testing.T) {
	b := NewChangeBuffer(3)
	if n := b.Add(change(1), change(2)); n != 0 {
		t.Fatalf("expected no eviction, got %d", n)
	}
	if n := b.Add(change(3), change(4), change(5)); n != 2 {
		t.Fatalf("expected 2 evictions, got %d", n)
	}

	got := b.Drain()
	if len(got) != 3 || got[0].Price != 3 || got[2].Price != 5 {
		t.Fatalf("expected newest three changes, got %+v", got)
	}
	if b.Len() != 0 || b.Dropped() != 2 {
		t.Fatalf("expected empty buffer with 2 dropped, got len=%d dropped=%d", b.Len(), b.Dropped())
	}
	if b.Drain() != nil {
		t.Fatal("expected nil drain on empty buffer")
	}
}

func TestChangeBufferDefaultCap(t *testing.T) {
	b := NewChangeBuffer(0)
	for i := 0; i < DefaultPendingCap+10; i++ {
		b.Add(change(float64(i)))
	}
	if b.Len() != DefaultPendingCap {
		t.Fatalf("expected %d buffered, got %d", DefaultPendingCap, b.Len())
	}
}
