package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alanyoungcy/depthmap/internal/book"
	"github.com/alanyoungcy/depthmap/internal/domain"
	"github.com/alanyoungcy/depthmap/internal/metrics"
	"github.com/alanyoungcy/depthmap/internal/server/handler"
	"github.com/alanyoungcy/depthmap/internal/service"
)

// ─── Fakes ───

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeQuery struct {
	ready     bool
	snaps     []domain.Snapshot
	lastRange service.RangeQuery
	lastHeat  service.HeatmapQuery
	storeErr  error
}

func (f *fakeQuery) Symbol() string { return "TRXUSDT" }

func (f *fakeQuery) Current(_ context.Context, levels int) (service.CurrentBook, error) {
	if !f.ready {
		return service.CurrentBook{}, domain.ErrNotReady
	}
	bids := []domain.PriceLevel{{Price: 0.1, Volume: 10}, {Price: 0.09, Volume: 5}}
	if levels < len(bids) {
		bids = bids[:levels]
	}
	return service.CurrentBook{
		Symbol:  "TRXUSDT",
		Bids:    bids,
		Asks:    []domain.PriceLevel{{Price: 0.11, Volume: 7}},
		Metrics: domain.Metrics{BestBid: 0.1, BestAsk: 0.11},
		Source:  "live",
	}, nil
}

func (f *fakeQuery) Liquidity(_ context.Context, depth float64) (domain.LiquidityBand, error) {
	if !f.ready {
		return domain.LiquidityBand{}, domain.ErrNotReady
	}
	return domain.LiquidityBand{Symbol: "TRXUSDT", Depth: depth, LiquidityRatio: 2}, nil
}

func (f *fakeQuery) Ticks(_ context.Context, q service.RangeQuery) ([]domain.Snapshot, error) {
	f.lastRange = q
	if f.storeErr != nil {
		return nil, f.storeErr
	}
	return f.snaps, nil
}

func (f *fakeQuery) Heatmap(_ context.Context, q service.HeatmapQuery) (domain.HeatmapGrid, error) {
	f.lastHeat = q
	return domain.HeatmapGrid{
		Symbol:     "TRXUSDT",
		Times:      []string{},
		Prices:     []float64{},
		BidVolumes: [][]float64{},
		AskVolumes: [][]float64{},
		CVD:        []float64{},
		BucketSize: q.BucketSize,
	}, nil
}

func (f *fakeQuery) Changes(_ context.Context, id int64) ([]domain.PriceLevelChange, error) {
	return []domain.PriceLevelChange{{SnapshotID: id, Price: 0.1, BidDelta: 1, Side: domain.SideBid}}, nil
}

func (f *fakeQuery) Latest(context.Context, string) (domain.Snapshot, error) {
	if len(f.snaps) == 0 {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	return f.snaps[len(f.snaps)-1], nil
}

type countingLimiter struct {
	mu    sync.Mutex
	limit int
	seen  map[string]int
	err   error
}

func (l *countingLimiter) Allow(_ context.Context, key string, _ int, _ time.Duration) (bool, error) {
	if l.err != nil {
		return false, l.err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.seen == nil {
		l.seen = make(map[string]int)
	}
	l.seen[key]++
	return l.seen[key] <= l.limit, nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type testEnv struct {
	query   *fakeQuery
	metrics *metrics.Metrics
	handler http.Handler
}

func newEnv(t *testing.T, cfg Config, limiter domain.RateLimiter, checks map[string]handler.Pinger) *testEnv {
	t.Helper()
	q := &fakeQuery{ready: true}
	m := metrics.New()
	log := quietLogger()
	h := NewHandler(cfg, Handlers{
		Health:    handler.NewHealthHandler(checks, log),
		Status:    handler.NewStatusHandler("server", "sqlite", "TRXUSDT", time.Now(), nil, nil),
		OrderBook: handler.NewOrderBookHandler(q, log),
	}, limiter, m, log)
	return &testEnv{query: q, metrics: m, handler: h}
}

func (e *testEnv) get(path string, hdr ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

// ─── Order book endpoints ───

func TestCurrent_NotReady(t *testing.T) {
	env := newEnv(t, Config{}, nil, nil)
	env.query.ready = false

	rec := env.get("/api/orderbook/current")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "order book not initialized" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestCurrent_Levels(t *testing.T) {
	env := newEnv(t, Config{}, nil, nil)

	rec := env.get("/api/orderbook/current?levels=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") == "" {
		t.Fatal("expected a generated request id")
	}
	var body struct {
		Bids    []domain.PriceLevel `json:"bids"`
		BestBid float64             `json:"bestBid"`
		Source  string              `json:"source"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Bids) != 1 || body.BestBid != 0.1 || body.Source != "live" {
		t.Fatalf("unexpected body: %+v", body)
	}
}

func TestRequestID_Echoed(t *testing.T) {
	env := newEnv(t, Config{}, nil, nil)
	rec := env.get("/api/orderbook/current", "X-Request-ID", "abc-123")
	if got := rec.Header().Get("X-Request-ID"); got != "abc-123" {
		t.Fatalf("expected echoed request id, got %q", got)
	}
}

func TestTicks_ParsesRangeAndInterval(t *testing.T) {
	env := newEnv(t, Config{}, nil, nil)
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	env.query.snaps = []domain.Snapshot{{ID: 7, Symbol: "TRXUSDT", Timestamp: ts, MidPrice: 0.105}}

	rec := env.get("/api/orderbook/ticks?start=2024-03-01T11:00:00Z&end=2024-03-01%2013:00:00.000&interval=%25Y-%25m-%25d%20%25H:%25M")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	q := env.query.lastRange
	if !q.Start.Equal(ts.Add(-time.Hour)) || !q.End.Equal(ts.Add(time.Hour)) {
		t.Fatalf("unexpected range %v - %v", q.Start, q.End)
	}
	if q.Interval != time.Minute {
		t.Fatalf("expected 1m interval, got %v", q.Interval)
	}

	var ticks []map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &ticks); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(ticks) != 1 || ticks[0]["timestamp"] != "2024-03-01 12:00:00.000" {
		t.Fatalf("unexpected ticks: %v", ticks)
	}
}

func TestTicks_BadTime(t *testing.T) {
	env := newEnv(t, Config{}, nil, nil)
	rec := env.get("/api/orderbook/ticks?start=yesterday")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestTicks_StoreFailure(t *testing.T) {
	env := newEnv(t, Config{}, nil, nil)
	env.query.storeErr = errors.New("disk on fire")
	rec := env.get("/api/orderbook/ticks")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "disk on fire") {
		t.Fatal("internal error leaked to the client")
	}
}

func TestHeatmap_EmptyAndDefaults(t *testing.T) {
	env := newEnv(t, Config{}, nil, nil)
	rec := env.get("/api/orderbook/heatmap?maxBuckets=50&timeInterval=30s")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"times":[]`) {
		t.Fatalf("expected empty times array, got %s", rec.Body.String())
	}
	q := env.query.lastHeat
	if q.BucketSize != 0.001 || q.MaxBuckets != 50 || q.Interval != 30*time.Second {
		t.Fatalf("unexpected heatmap query: %+v", q)
	}
}

func TestLiquidity_Depth(t *testing.T) {
	env := newEnv(t, Config{}, nil, nil)
	rec := env.get("/api/orderbook/liquidity?depth=0.1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var band domain.LiquidityBand
	if err := json.Unmarshal(rec.Body.Bytes(), &band); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if band.Depth != 0.1 {
		t.Fatalf("expected depth 0.1, got %v", band.Depth)
	}
}

func TestChanges_Validation(t *testing.T) {
	env := newEnv(t, Config{}, nil, nil)
	if rec := env.get("/api/orderbook/changes"); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without snapshot_id, got %d", rec.Code)
	}
	rec := env.get("/api/orderbook/changes?snapshot_id=9")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"snapshotId":9`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestLatest_NotFound(t *testing.T) {
	env := newEnv(t, Config{}, nil, nil)
	if rec := env.get("/api/orderbook/latest"); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

type fakeBookStatus struct {
	bid, ask float64
}

func (fakeBookStatus) ReplicaStatus() (book.Status, bool) { return book.Status{}, false }

func (f fakeBookStatus) MirrorBBO(context.Context) (float64, float64, bool) {
	return f.bid, f.ask, f.bid > 0
}

// ─── Status, health, metrics ───

func TestRoot(t *testing.T) {
	env := newEnv(t, Config{}, nil, nil)
	rec := env.get("/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "TRXUSDT") {
		t.Fatalf("unexpected banner %q", rec.Body.String())
	}
}

func TestStatus(t *testing.T) {
	env := newEnv(t, Config{}, nil, nil)
	rec := env.get("/api/status")
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["mode"] != "server" || body["storage_driver"] != "sqlite" {
		t.Fatalf("unexpected status %v", body)
	}
	if _, ok := body["feed"]; ok {
		t.Fatal("expected no feed section without a feed")
	}
}

func TestStatus_MirroredBBO(t *testing.T) {
	h := handler.NewStatusHandler("server", "sqlite", "TRXUSDT", time.Now(), fakeBookStatus{bid: 0.12, ask: 0.1201}, nil)
	rec := httptest.NewRecorder()
	h.GetStatus(rec, httptest.NewRequest(http.MethodGet, "/api/status", nil))

	var body struct {
		Mirror map[string]float64 `json:"mirror"`
		Book   any                `json:"book"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Mirror["bestBid"] != 0.12 || body.Mirror["bestAsk"] != 0.1201 {
		t.Fatalf("expected mirrored bbo 0.12/0.1201, got %v", body.Mirror)
	}
	if body.Book != nil {
		t.Fatalf("expected no replica section, got %v", body.Book)
	}
}

func TestHealth_DependencyDown(t *testing.T) {
	env := newEnv(t, Config{}, nil, map[string]handler.Pinger{
		"store": pinger{},
		"redis": pinger{err: errors.New("connection refused")},
	})
	rec := env.get("/api/health")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"redis":"down"`) {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}

func TestMetricsEndpoint_CountsRequests(t *testing.T) {
	env := newEnv(t, Config{}, nil, nil)
	env.get("/api/orderbook/current")

	rec := env.get("/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := `depthmap_http_requests_total{method="GET",status="200"} 1`
	if !strings.Contains(rec.Body.String(), want) {
		t.Fatalf("expected %q in exposition", want)
	}
}

// ─── Middleware ───

func TestRateLimit_APIOnly(t *testing.T) {
	limiter := &countingLimiter{limit: 1}
	env := newEnv(t, Config{RateLimit: 1, RateWindow: time.Second}, limiter, nil)

	if rec := env.get("/api/orderbook/current"); rec.Code != http.StatusOK {
		t.Fatalf("expected first request 200, got %d", rec.Code)
	}
	rec := env.get("/api/orderbook/current")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("expected Retry-After 1, got %q", rec.Header().Get("Retry-After"))
	}
	if rec := env.get("/"); rec.Code != http.StatusOK {
		t.Fatalf("expected root unlimited, got %d", rec.Code)
	}
}

func TestRateLimit_FailsOpen(t *testing.T) {
	limiter := &countingLimiter{err: errors.New("redis down")}
	env := newEnv(t, Config{RateLimit: 1, RateWindow: time.Second}, limiter, nil)
	for i := 0; i < 3; i++ {
		if rec := env.get("/api/orderbook/current"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
}

func TestCORS_Preflight(t *testing.T) {
	env := newEnv(t, Config{CORSOrigins: []string{"https://app.example.com"}}, nil, nil)

	req := httptest.NewRequest(http.MethodOptions, "/api/orderbook/current", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://app.example.com" {
		t.Fatalf("unexpected allow-origin %q", got)
	}

	rec = env.get("/api/orderbook/current", "Origin", "https://evil.example.com")
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Fatalf("expected no allow-origin for unknown origin, got %q", got)
	}
}
