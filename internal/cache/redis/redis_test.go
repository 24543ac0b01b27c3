package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/alanyoungcy/depthmap/internal/domain"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	c, err := New(context.Background(), ClientConfig{Addr: mr.Addr()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c, mr
}

// ─── Client ───

func TestNew_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	if _, err := New(context.Background(), ClientConfig{Addr: addr, DialTimeout: 100 * time.Millisecond}); err == nil {
		t.Fatal("expected an error for a closed server")
	}
}

// ─── BookCache ───

func TestBookCache_RoundTrip(t *testing.T) {
	c, _ := newTestClient(t)
	bc := NewBookCache(c, time.Minute)
	ctx := context.Background()

	if _, err := bc.GetSnapshot(ctx, "TRXUSDT"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	ts := time.Date(2024, 3, 1, 12, 0, 0, 250e6, time.UTC)
	snap := domain.Snapshot{
		ID:        9,
		Symbol:    "TRXUSDT",
		Timestamp: ts,
		Bids:      []domain.PriceLevel{{Price: 0.1201, Volume: 10}, {Price: 0.12, Volume: 5}},
		Asks:      []domain.PriceLevel{{Price: 0.1203, Volume: 4}},
		MidPrice:  0.1202,
		Spread:    0.0002,
		BidVolume: 15,
		AskVolume: 4,
		Imbalance: 11.0 / 19,
	}
	if err := bc.SetSnapshot(ctx, "TRXUSDT", snap); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := bc.GetSnapshot(ctx, "TRXUSDT")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != 9 || !got.Timestamp.Equal(ts) {
		t.Fatalf("unexpected meta %+v", got)
	}
	if len(got.Bids) != 2 || got.Bids[0].Price != 0.1201 || got.Bids[0].Volume != 10 {
		t.Fatalf("expected bids highest first, got %+v", got.Bids)
	}
	if len(got.Asks) != 1 || got.Asks[0].Volume != 4 {
		t.Fatalf("unexpected asks %+v", got.Asks)
	}
	if got.BidVolume != 15 || got.Imbalance != snap.Imbalance {
		t.Fatalf("expected metrics to round-trip, got %+v", got)
	}

	bid, ask, err := bc.GetBBO(ctx, "TRXUSDT")
	if err != nil || bid != 0.1201 || ask != 0.1203 {
		t.Fatalf("expected bbo 0.1201/0.1203, got %v/%v (%v)", bid, ask, err)
	}
}

func TestBookCache_ReplaceAndExpire(t *testing.T) {
	c, mr := newTestClient(t)
	bc := NewBookCache(c, 10*time.Second)
	ctx := context.Background()

	bc.SetSnapshot(ctx, "TRXUSDT", domain.Snapshot{
		Bids: []domain.PriceLevel{{Price: 1, Volume: 1}, {Price: 2, Volume: 1}},
		Asks: []domain.PriceLevel{{Price: 3, Volume: 1}},
	})
	bc.SetSnapshot(ctx, "TRXUSDT", domain.Snapshot{
		Bids: []domain.PriceLevel{{Price: 1.5, Volume: 1}},
		Asks: []domain.PriceLevel{{Price: 3, Volume: 2}},
	})

	got, _ := bc.GetSnapshot(ctx, "TRXUSDT")
	if len(got.Bids) != 1 || got.Bids[0].Price != 1.5 {
		t.Fatalf("expected the second snapshot to replace the first, got %+v", got.Bids)
	}

	mr.FastForward(11 * time.Second)
	if _, err := bc.GetSnapshot(ctx, "TRXUSDT"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected mirror to expire, got %v", err)
	}
	if _, _, err := bc.GetBBO(ctx, "TRXUSDT"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected bbo to expire, got %v", err)
	}
}

// ─── QueryCache ───

func TestQueryCache(t *testing.T) {
	c, mr := newTestClient(t)
	qc := NewQueryCache(c)
	ctx := context.Background()

	if _, err := qc.Get(ctx, "k"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := qc.Set(ctx, "k", []byte("v"), time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err := qc.Get(ctx, "k")
	if err != nil || string(v) != "v" {
		t.Fatalf("expected v, got %q (%v)", v, err)
	}
	mr.FastForward(2 * time.Second)
	if _, err := qc.Get(ctx, "k"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected entry to expire, got %v", err)
	}
}

// ─── LockManager ───

func TestLockManager(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	unlock, err := lm.Acquire(ctx, "retention", time.Minute)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := lm.Acquire(ctx, "retention", time.Minute); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("expected ErrLockHeld, got %v", err)
	}

	unlock()
	unlock()
	if mr.Exists("lock:retention") {
		t.Fatal("expected lock key to be released")
	}

	again, err := lm.Acquire(ctx, "retention", time.Minute)
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	again()
}

func TestLockManager_StaleHolderCannotRelease(t *testing.T) {
	c, mr := newTestClient(t)
	lm := NewLockManager(c)
	ctx := context.Background()

	stale, _ := lm.Acquire(ctx, "retention", time.Second)
	mr.FastForward(2 * time.Second)

	if _, err := lm.Acquire(ctx, "retention", time.Minute); err != nil {
		t.Fatalf("expected expired lock to be takeable, got %v", err)
	}
	stale()
	if !mr.Exists("lock:retention") {
		t.Fatal("expected the new holder's lock to survive a stale unlock")
	}
}

// ─── RateLimiter ───

func TestRateLimiter(t *testing.T) {
	c, _ := newTestClient(t)
	rl := NewRateLimiter(c)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, err := rl.Allow(ctx, "1.2.3.4", 3, time.Second)
		if err != nil || !ok {
			t.Fatalf("request %d: expected allowed, got %v (%v)", i, ok, err)
		}
	}
	if ok, _ := rl.Allow(ctx, "1.2.3.4", 3, time.Second); ok {
		t.Fatal("expected the fourth request to be rejected")
	}
	if ok, _ := rl.Allow(ctx, "5.6.7.8", 3, time.Second); !ok {
		t.Fatal("expected other keys to be independent")
	}

	now = now.Add(1100 * time.Millisecond)
	if ok, _ := rl.Allow(ctx, "1.2.3.4", 3, time.Second); !ok {
		t.Fatal("expected the window to slide")
	}
}

// ─── SignalBus ───

func TestSignalBus_PatternSubscribe(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "ch:snapshot:*")
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := bus.Publish(ctx, domain.SnapshotChannel("TRXUSDT"), []byte(`{"id":1}`)); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case msg := <-ch:
		if string(msg) != `{"id":1}` {
			t.Fatalf("unexpected payload %s", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	cancel()
	select {
	case _, ok := <-ch:
		for ok {
			_, ok = <-ch
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected channel to close after cancel")
	}
}

func TestSignalBus_Stream(t *testing.T) {
	c, _ := newTestClient(t)
	bus := NewSignalBus(c)
	ctx := context.Background()

	msgs, err := bus.StreamRead(ctx, domain.RetentionStream, "0", 10)
	if err != nil || len(msgs) != 0 {
		t.Fatalf("expected empty stream, got %v (%v)", msgs, err)
	}

	bus.StreamAppend(ctx, domain.RetentionStream, []byte("a"))
	bus.StreamAppend(ctx, domain.RetentionStream, []byte("b"))

	msgs, err = bus.StreamRead(ctx, domain.RetentionStream, "0", 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(msgs) != 2 || string(msgs[0].Payload) != "a" || string(msgs[1].Payload) != "b" {
		t.Fatalf("unexpected messages %+v", msgs)
	}

	rest, _ := bus.StreamRead(ctx, domain.RetentionStream, msgs[0].ID, 10)
	if len(rest) != 1 || string(rest[0].Payload) != "b" {
		t.Fatalf("expected only b after the first id, got %+v", rest)
	}
}
