package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/alanyoungcy/depthmap/internal/domain"
	"github.com/alanyoungcy/depthmap/internal/heatmap"
	"github.com/alanyoungcy/depthmap/internal/service"
)

// OrderBookQuerier is the read side the order-book endpoints need.
type OrderBookQuerier interface {
	Symbol() string
	Current(ctx context.Context, levels int) (service.CurrentBook, error)
	Liquidity(ctx context.Context, depth float64) (domain.LiquidityBand, error)
	Ticks(ctx context.Context, q service.RangeQuery) ([]domain.Snapshot, error)
	Heatmap(ctx context.Context, q service.HeatmapQuery) (domain.HeatmapGrid, error)
	Changes(ctx context.Context, snapshotID int64) ([]domain.PriceLevelChange, error)
	Latest(ctx context.Context, symbol string) (domain.Snapshot, error)
}

// OrderBookHandler serves the live book and the stored history.
type OrderBookHandler struct {
	query  OrderBookQuerier
	logger *slog.Logger
}

// NewOrderBookHandler creates an OrderBookHandler.
func NewOrderBookHandler(query OrderBookQuerier, logger *slog.Logger) *OrderBookHandler {
	return &OrderBookHandler{query: query, logger: logHandler(logger, "orderbook")}
}

// tick is one stored snapshot as rendered by the ticks endpoint.
type tick struct {
	ID        int64               `json:"id"`
	Timestamp string              `json:"timestamp"`
	MidPrice  float64             `json:"midPrice"`
	Spread    float64             `json:"spread"`
	BidVolume float64             `json:"bidVolume"`
	AskVolume float64             `json:"askVolume"`
	Imbalance float64             `json:"imbalance"`
	Bids      []domain.PriceLevel `json:"bids"`
	Asks      []domain.PriceLevel `json:"asks"`
}

func toTick(s domain.Snapshot) tick {
	return tick{
		ID:        s.ID,
		Timestamp: domain.FormatTimestamp(s.Timestamp),
		MidPrice:  s.MidPrice,
		Spread:    s.Spread,
		BidVolume: s.BidVolume,
		AskVolume: s.AskVolume,
		Imbalance: s.Imbalance,
		Bids:      s.Bids,
		Asks:      s.Asks,
	}
}

// Current returns the live sorted levels and metrics.
// GET /api/orderbook/current?levels=N
func (h *OrderBookHandler) Current(w http.ResponseWriter, r *http.Request) {
	cur, err := h.query.Current(r.Context(), queryInt(r, "levels", service.DefaultCurrentLevels))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, cur)
}

// Ticks returns stored snapshots in range, top levels only.
// GET /api/orderbook/ticks?symbol&start&end&interval
func (h *OrderBookHandler) Ticks(w http.ResponseWriter, r *http.Request) {
	q, ok := h.parseRange(w, r, "interval")
	if !ok {
		return
	}
	snaps, err := h.query.Ticks(r.Context(), q)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	ticks := make([]tick, len(snaps))
	for i, s := range snaps {
		ticks[i] = toTick(s)
	}
	writeJSON(w, http.StatusOK, ticks)
}

// Heatmap returns the bucketed price/time grid.
// GET /api/orderbook/heatmap?symbol&start&end&timeInterval&bucketSize&maxBuckets
func (h *OrderBookHandler) Heatmap(w http.ResponseWriter, r *http.Request) {
	rq, ok := h.parseRange(w, r, "timeInterval")
	if !ok {
		return
	}
	grid, err := h.query.Heatmap(r.Context(), service.HeatmapQuery{
		RangeQuery: rq,
		BucketSize: queryFloat(r, "bucketSize", heatmap.DefaultBucketSize),
		MaxBuckets: queryInt(r, "maxBuckets", heatmap.DefaultMaxBuckets),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, grid)
}

// Liquidity returns bid/ask liquidity within a band around mid.
// GET /api/orderbook/liquidity?depth=0.05
func (h *OrderBookHandler) Liquidity(w http.ResponseWriter, r *http.Request) {
	band, err := h.query.Liquidity(r.Context(), queryFloat(r, "depth", service.DefaultLiquidityDepth))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, band)
}

// Changes returns the price-level changes recorded with one snapshot.
// GET /api/orderbook/changes?snapshot_id=N
func (h *OrderBookHandler) Changes(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("snapshot_id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "snapshot_id must be a positive integer")
		return
	}
	changes, err := h.query.Changes(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, changes)
}

// Latest returns the newest stored snapshot.
// GET /api/orderbook/latest?symbol
func (h *OrderBookHandler) Latest(w http.ResponseWriter, r *http.Request) {
	snap, err := h.query.Latest(r.Context(), r.URL.Query().Get("symbol"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, toTick(snap))
}

// parseRange reads symbol, start, end and the named interval parameter. On an
// unparseable value it writes a 400 and returns false. An inverted range is
// not an error; it selects nothing.
func (h *OrderBookHandler) parseRange(w http.ResponseWriter, r *http.Request, intervalParam string) (service.RangeQuery, bool) {
	q := r.URL.Query()

	start, err := parseTime(q.Get("start"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "start: "+err.Error())
		return service.RangeQuery{}, false
	}
	end, err := parseTime(q.Get("end"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "end: "+err.Error())
		return service.RangeQuery{}, false
	}
	interval, err := parseInterval(q.Get(intervalParam))
	if err != nil {
		writeError(w, http.StatusBadRequest, intervalParam+": "+err.Error())
		return service.RangeQuery{}, false
	}

	return service.RangeQuery{
		Symbol:   q.Get("symbol"),
		Start:    start,
		End:      end,
		Interval: interval,
	}, true
}
