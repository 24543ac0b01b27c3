package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/alanyoungcy/depthmap/internal/book"
	"github.com/alanyoungcy/depthmap/internal/domain"
	"github.com/alanyoungcy/depthmap/internal/heatmap"
)

const (
	// DefaultCurrentLevels is the number of levels per side served by Current.
	DefaultCurrentLevels = 100
	// TickLevels is the number of levels per side kept in every tick.
	TickLevels = 20
	// DefaultLiquidityDepth is the fraction of mid used for liquidity bands.
	DefaultLiquidityDepth = 0.05
	// DefaultLookback is the window used when a query has no start time.
	DefaultLookback = time.Hour
)

// CurrentBook is the live book as served by the API.
type CurrentBook struct {
	Symbol       string              `json:"symbol"`
	LastUpdateID int64               `json:"lastUpdateId,omitempty"`
	Timestamp    string              `json:"timestamp"`
	Bids         []domain.PriceLevel `json:"bids"`
	Asks         []domain.PriceLevel `json:"asks"`
	domain.Metrics
	Source string `json:"source"`
}

// RangeQuery selects stored snapshots.
type RangeQuery struct {
	Symbol   string
	Start    time.Time
	End      time.Time
	Interval time.Duration
}

// HeatmapQuery selects and buckets stored snapshots.
type HeatmapQuery struct {
	RangeQuery
	BucketSize float64
	MaxBuckets int
}

// QueryService answers read queries from the live replica, the redis mirror
// and the snapshot store.
type QueryService struct {
	symbol   string
	replica  *book.Replica
	store    domain.SnapshotStore
	books    domain.BookCache
	cache    domain.QueryCache
	cacheTTL time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewQueryService creates a QueryService. replica is nil when the process
// does not ingest; books and cache may be nil when redis is disabled.
func NewQueryService(
	symbol string,
	replica *book.Replica,
	store domain.SnapshotStore,
	books domain.BookCache,
	cache domain.QueryCache,
	cacheTTL time.Duration,
	logger *slog.Logger,
) *QueryService {
	return &QueryService{
		symbol:   symbol,
		replica:  replica,
		store:    store,
		books:    books,
		cache:    cache,
		cacheTTL: cacheTTL,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "query")),
	}
}

// Symbol returns the default symbol for queries that omit one.
func (s *QueryService) Symbol() string { return s.symbol }

// Current returns the top levels of the live book. Without a local replica
// it serves the copy mirrored to redis by the ingesting process.
func (s *QueryService) Current(ctx context.Context, levels int) (CurrentBook, error) {
	if levels <= 0 {
		levels = DefaultCurrentLevels
	}

	if s.replica != nil {
		if v, ok := s.replica.Current(levels); ok {
			return CurrentBook{
				Symbol:       v.Symbol,
				LastUpdateID: v.LastUpdateID,
				Timestamp:    domain.FormatTimestamp(v.LastUpdateTime),
				Bids:         v.Bids,
				Asks:         v.Asks,
				Metrics:      v.Metrics,
				Source:       "live",
			}, nil
		}
		return CurrentBook{}, domain.ErrNotReady
	}

	snap, err := s.mirrored(ctx)
	if err != nil {
		return CurrentBook{}, err
	}
	// Volumes and imbalance come from the full book the ingester measured,
	// not from the truncated mirror.
	return CurrentBook{
		Symbol:    snap.Symbol,
		Timestamp: domain.FormatTimestamp(snap.Timestamp),
		Bids:      truncate(snap.Bids, levels),
		Asks:      truncate(snap.Asks, levels),
		Metrics: domain.Metrics{
			BestBid:   snap.BestBid(),
			BestAsk:   snap.BestAsk(),
			MidPrice:  snap.MidPrice,
			Spread:    snap.Spread,
			BidVolume: snap.BidVolume,
			AskVolume: snap.AskVolume,
			Imbalance: snap.Imbalance,
		},
		Source: "cache",
	}, nil
}

// Liquidity returns the bid/ask liquidity within depth of the mid price.
// Without a local replica the band only covers the mirrored levels.
func (s *QueryService) Liquidity(ctx context.Context, depth float64) (domain.LiquidityBand, error) {
	if depth <= 0 {
		depth = DefaultLiquidityDepth
	}
	if s.replica != nil {
		band, ok := s.replica.Liquidity(depth)
		if !ok {
			return domain.LiquidityBand{}, domain.ErrNotReady
		}
		return band, nil
	}

	snap, err := s.mirrored(ctx)
	if err != nil {
		return domain.LiquidityBand{}, err
	}
	band, ok := book.Liquidity(book.FromSnapshot(snap), depth)
	if !ok {
		return domain.LiquidityBand{}, domain.ErrNotReady
	}
	return band, nil
}

// Ticks returns stored snapshots in range, each cut to TickLevels per side.
// An empty range yields an empty slice.
func (s *QueryService) Ticks(ctx context.Context, q RangeQuery) ([]domain.Snapshot, error) {
	q = s.normalizeRange(q)
	snaps, err := s.snapshots(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query: ticks: %w", err)
	}
	for i := range snaps {
		snaps[i].Bids = truncate(snaps[i].Bids, TickLevels)
		snaps[i].Asks = truncate(snaps[i].Asks, TickLevels)
	}
	if snaps == nil {
		snaps = []domain.Snapshot{}
	}
	return snaps, nil
}

// Heatmap buckets stored snapshots into a price/time grid. Results are cached
// when a query cache is configured.
func (s *QueryService) Heatmap(ctx context.Context, q HeatmapQuery) (domain.HeatmapGrid, error) {
	q.RangeQuery = s.normalizeRange(q.RangeQuery)
	if q.BucketSize <= 0 {
		q.BucketSize = heatmap.DefaultBucketSize
	}
	if q.MaxBuckets <= 0 {
		q.MaxBuckets = heatmap.DefaultMaxBuckets
	}

	key := heatmapCacheKey(q)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var grid domain.HeatmapGrid
			if err := json.Unmarshal(raw, &grid); err == nil {
				return grid, nil
			}
		} else if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("heatmap cache read failed", slog.String("error", err.Error()))
		}
	}

	snaps, err := s.snapshots(ctx, q.RangeQuery)
	if err != nil {
		return domain.HeatmapGrid{}, fmt.Errorf("query: heatmap: %w", err)
	}
	grid := heatmap.Aggregate(q.Symbol, snaps, q.BucketSize, q.MaxBuckets)

	if s.cache != nil && s.cacheTTL > 0 && !grid.Empty() {
		if raw, err := json.Marshal(grid); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.cacheTTL); err != nil {
				s.logger.Warn("heatmap cache write failed", slog.String("error", err.Error()))
			}
		}
	}
	return grid, nil
}

// Changes returns the price-level changes recorded with one snapshot.
func (s *QueryService) Changes(ctx context.Context, snapshotID int64) ([]domain.PriceLevelChange, error) {
	changes, err := s.store.ListChanges(ctx, snapshotID)
	if err != nil {
		return nil, fmt.Errorf("query: changes for %d: %w", snapshotID, err)
	}
	if changes == nil {
		changes = []domain.PriceLevelChange{}
	}
	return changes, nil
}

// Latest returns the newest stored snapshot.
func (s *QueryService) Latest(ctx context.Context, symbol string) (domain.Snapshot, error) {
	if symbol == "" {
		symbol = s.symbol
	}
	return s.store.Latest(ctx, symbol)
}

// ReplicaStatus returns the local replica status, or false when this process
// does not ingest.
func (s *QueryService) ReplicaStatus() (book.Status, bool) {
	if s.replica == nil {
		return book.Status{}, false
	}
	return s.replica.Status(), true
}

// MirrorBBO returns the best bid and ask mirrored to redis. ok is false when
// nothing is mirrored or redis is disabled.
func (s *QueryService) MirrorBBO(ctx context.Context) (bestBid, bestAsk float64, ok bool) {
	if s.books == nil {
		return 0, 0, false
	}
	bid, ask, err := s.books.GetBBO(ctx, s.symbol)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("mirrored bbo unavailable", slog.String("error", err.Error()))
		}
		return 0, 0, false
	}
	return bid, ask, true
}

// snapshots loads the range from the store. Stores group in SQL; GroupLast
// runs again on the result so a store that returns ungrouped rows still
// yields one snapshot per interval. On grouped rows it is a no-op.
func (s *QueryService) snapshots(ctx context.Context, q RangeQuery) ([]domain.Snapshot, error) {
	snaps, err := s.store.QuerySnapshots(ctx, q.Symbol, domain.TimeRange{Start: q.Start, End: q.End}, q.Interval)
	if err != nil {
		return nil, err
	}
	return heatmap.GroupLast(snaps, q.Interval), nil
}

func (s *QueryService) mirrored(ctx context.Context) (domain.Snapshot, error) {
	if s.books == nil {
		return domain.Snapshot{}, domain.ErrNotReady
	}
	snap, err := s.books.GetSnapshot(ctx, s.symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Snapshot{}, domain.ErrNotReady
		}
		return domain.Snapshot{}, fmt.Errorf("query: mirrored book: %w", err)
	}
	if len(snap.Bids) == 0 || len(snap.Asks) == 0 {
		return domain.Snapshot{}, domain.ErrNotReady
	}
	return snap, nil
}

func (s *QueryService) normalizeRange(q RangeQuery) RangeQuery {
	if q.Symbol == "" {
		q.Symbol = s.symbol
	}
	if q.End.IsZero() {
		q.End = s.now().Truncate(time.Second)
	}
	if q.Start.IsZero() {
		q.Start = q.End.Add(-DefaultLookback)
	}
	q.Start = q.Start.UTC()
	q.End = q.End.UTC()
	return q
}

func heatmapCacheKey(q HeatmapQuery) string {
	return "heatmap:" + q.Symbol +
		":" + strconv.FormatInt(q.Start.UnixMilli(), 10) +
		":" + strconv.FormatInt(q.End.UnixMilli(), 10) +
		":" + strconv.FormatInt(int64(q.Interval/time.Millisecond), 10) +
		":" + strconv.FormatFloat(q.BucketSize, 'g', -1, 64) +
		":" + strconv.Itoa(q.MaxBuckets)
}

func truncate(levels []domain.PriceLevel, n int) []domain.PriceLevel {
	if levels == nil {
		return []domain.PriceLevel{}
	}
	if n > 0 && len(levels) > n {
		return levels[:n]
	}
	return levels
}
