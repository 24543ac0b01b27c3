package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/depthmap/internal/book"
	"github.com/alanyoungcy/depthmap/internal/domain"
	"github.com/alanyoungcy/depthmap/internal/metrics"
)

func seedOf(id int64) domain.DepthSeed {
	return domain.DepthSeed{
		LastUpdateID: id,
		Bids:         []domain.LevelUpdate{{Price: "100", Quantity: "1"}},
		Asks:         []domain.LevelUpdate{{Price: "101", Quantity: "2"}},
	}
}

func newIngest(t *testing.T, seeds SeedSource, opts ...book.Option) (*IngestService, *book.Replica) {
	t.Helper()
	r := book.NewReplica("TRXUSDT", opts...)
	return NewIngestService(r, seeds, 1000, time.Second, metrics.New(), quietLogger()), r
}

// ─── Resync ───

func TestResync_SeedsReplica(t *testing.T) {
	var gotLimit int
	svc, r := newIngest(t, seedFunc(func(_ context.Context, symbol string, limit int) (domain.DepthSeed, error) {
		gotLimit = limit
		return seedOf(10), nil
	}))

	if err := svc.Resync(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotLimit != 1000 {
		t.Fatalf("expected limit 1000, got %d", gotLimit)
	}
	st := r.Status()
	if !st.Ready || st.LastUpdateID != 10 {
		t.Fatalf("expected ready replica at 10, got %+v", st)
	}
}

func TestResync_FailureLeavesNotReady(t *testing.T) {
	fail := false
	svc, r := newIngest(t, seedFunc(func(context.Context, string, int) (domain.DepthSeed, error) {
		if fail {
			return domain.DepthSeed{}, domain.ErrUpstreamUnavailable
		}
		return seedOf(10), nil
	}))
	svc.Resync(context.Background())

	fail = true
	err := svc.Resync(context.Background())
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	if r.Status().Ready {
		t.Fatal("expected replica to be reset after a failed seed")
	}
}

func TestResync_Timeout(t *testing.T) {
	svc, _ := newIngest(t, seedFunc(func(ctx context.Context, _ string, _ int) (domain.DepthSeed, error) {
		<-ctx.Done()
		return domain.DepthSeed{}, ctx.Err()
	}))
	svc.seedTimeout = 10 * time.Millisecond

	if err := svc.Resync(context.Background()); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

// ─── HandleMessage ───

func TestHandleMessage(t *testing.T) {
	svc, r := newIngest(t, seedFunc(func(context.Context, string, int) (domain.DepthSeed, error) {
		return seedOf(10), nil
	}))
	svc.Resync(context.Background())
	ctx := context.Background()

	if err := svc.HandleMessage(ctx, []byte(`{"e":"depthUpdate","s":"TRXUSDT","U":11,"u":12,"b":[["100","3"]],"a":[]}`)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if st := r.Status(); st.LastUpdateID != 12 || st.PendingChanges != 1 {
		t.Fatalf("expected update 12 with 1 pending change, got %+v", st)
	}

	// Already applied: swallowed.
	if err := svc.HandleMessage(ctx, []byte(`{"s":"TRXUSDT","U":5,"u":9,"b":[["100","9"]],"a":[]}`)); err != nil {
		t.Fatalf("expected stale update to be swallowed, got %v", err)
	}
	if q, _ := r.Current(1); q.Bids[0].Volume != 3 {
		t.Fatalf("expected stale update to leave bid at 3, got %v", q.Bids[0].Volume)
	}

	if err := svc.HandleMessage(ctx, []byte(`{"s":"TRXUSDT","U":13,"u":13,"b":[["100","abc"]],"a":[]}`)); !errors.Is(err, domain.ErrMalformedMessage) {
		t.Fatalf("expected malformed error, got %v", err)
	}
	if err := svc.HandleMessage(ctx, []byte(`{"s":"BTCUSDT","U":13,"u":13,"b":[],"a":[]}`)); !errors.Is(err, domain.ErrMalformedMessage) {
		t.Fatalf("expected foreign symbol to be rejected, got %v", err)
	}
}

func TestHandleMessage_Gap(t *testing.T) {
	svc, _ := newIngest(t, seedFunc(func(context.Context, string, int) (domain.DepthSeed, error) {
		return seedOf(10), nil
	}), book.WithGapDetection(true))
	svc.Resync(context.Background())

	err := svc.HandleMessage(context.Background(), []byte(`{"s":"TRXUSDT","U":20,"u":21,"b":[],"a":[]}`))
	if !errors.Is(err, domain.ErrSequenceGap) {
		t.Fatalf("expected ErrSequenceGap, got %v", err)
	}
}
