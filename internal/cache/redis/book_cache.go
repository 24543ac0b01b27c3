package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/alanyoungcy/depthmap/internal/domain"
	"github.com/redis/go-redis/v9"
)

// DefaultMirrorTTL expires a mirrored book that stopped being refreshed.
const DefaultMirrorTTL = 30 * time.Second

// BookCache implements domain.BookCache using Redis sorted sets and hashes.
//
// Key schema:
//
//	book:{symbol}:bids      - sorted set of bid prices (score = price)
//	book:{symbol}:asks      - sorted set of ask prices (score = price)
//	book:{symbol}:bid:size  - hash price -> volume for bids
//	book:{symbol}:ask:size  - hash price -> volume for asks
//	book:{symbol}:meta      - hash with id, ts and the snapshot metrics
type BookCache struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewBookCache creates a BookCache. A non-positive ttl uses DefaultMirrorTTL.
func NewBookCache(c *Client, ttl time.Duration) *BookCache {
	if ttl <= 0 {
		ttl = DefaultMirrorTTL
	}
	return &BookCache{rdb: c.Underlying(), ttl: ttl}
}

func bookBidsKey(symbol string) string    { return "book:" + symbol + ":bids" }
func bookAsksKey(symbol string) string    { return "book:" + symbol + ":asks" }
func bookBidSizeKey(symbol string) string { return "book:" + symbol + ":bid:size" }
func bookAskSizeKey(symbol string) string { return "book:" + symbol + ":ask:size" }
func bookMetaKey(symbol string) string    { return "book:" + symbol + ":meta" }

func fmtFloat(f float64) string { return strconv.FormatFloat(f, 'f', -1, 64) }

// SetSnapshot atomically replaces the mirrored book of symbol.
func (bc *BookCache) SetSnapshot(ctx context.Context, symbol string, snap domain.Snapshot) error {
	keys := []string{
		bookBidsKey(symbol), bookAsksKey(symbol),
		bookBidSizeKey(symbol), bookAskSizeKey(symbol), bookMetaKey(symbol),
	}

	pipe := bc.rdb.TxPipeline()
	pipe.Del(ctx, keys...)

	writeSide := func(zKey, hKey string, levels []domain.PriceLevel) {
		for _, lvl := range levels {
			p := fmtFloat(lvl.Price)
			pipe.ZAdd(ctx, zKey, redis.Z{Score: lvl.Price, Member: p})
			pipe.HSet(ctx, hKey, p, fmtFloat(lvl.Volume))
		}
	}
	writeSide(keys[0], keys[2], snap.Bids)
	writeSide(keys[1], keys[3], snap.Asks)

	pipe.HSet(ctx, keys[4],
		"id", strconv.FormatInt(snap.ID, 10),
		"ts", strconv.FormatInt(snap.Timestamp.UnixMilli(), 10),
		"best_bid", fmtFloat(snap.BestBid()),
		"best_ask", fmtFloat(snap.BestAsk()),
		"mid", fmtFloat(snap.MidPrice),
		"spread", fmtFloat(snap.Spread),
		"bid_volume", fmtFloat(snap.BidVolume),
		"ask_volume", fmtFloat(snap.AskVolume),
		"imbalance", fmtFloat(snap.Imbalance),
	)
	for _, k := range keys {
		pipe.Expire(ctx, k, bc.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set book %s: %w", symbol, err)
	}
	return nil
}

// GetSnapshot rebuilds the mirrored book of symbol. It returns
// domain.ErrNotFound when nothing is mirrored.
func (bc *BookCache) GetSnapshot(ctx context.Context, symbol string) (domain.Snapshot, error) {
	pipe := bc.rdb.Pipeline()
	bidsCmd := pipe.ZRevRangeWithScores(ctx, bookBidsKey(symbol), 0, -1)
	asksCmd := pipe.ZRangeWithScores(ctx, bookAsksKey(symbol), 0, -1)
	bidSizeCmd := pipe.HGetAll(ctx, bookBidSizeKey(symbol))
	askSizeCmd := pipe.HGetAll(ctx, bookAskSizeKey(symbol))
	metaCmd := pipe.HGetAll(ctx, bookMetaKey(symbol))

	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return domain.Snapshot{}, fmt.Errorf("redis: get book %s: %w", symbol, err)
	}

	meta, _ := metaCmd.Result()
	if len(meta) == 0 {
		return domain.Snapshot{}, domain.ErrNotFound
	}

	snap := domain.Snapshot{Symbol: symbol}
	snap.ID, _ = strconv.ParseInt(meta["id"], 10, 64)
	if ms, err := strconv.ParseInt(meta["ts"], 10, 64); err == nil {
		snap.Timestamp = time.UnixMilli(ms).UTC()
	}
	snap.MidPrice, _ = strconv.ParseFloat(meta["mid"], 64)
	snap.Spread, _ = strconv.ParseFloat(meta["spread"], 64)
	snap.BidVolume, _ = strconv.ParseFloat(meta["bid_volume"], 64)
	snap.AskVolume, _ = strconv.ParseFloat(meta["ask_volume"], 64)
	snap.Imbalance, _ = strconv.ParseFloat(meta["imbalance"], 64)

	bidSizes, _ := bidSizeCmd.Result()
	bidsZ, _ := bidsCmd.Result()
	snap.Bids = readSide(bidsZ, bidSizes)

	askSizes, _ := askSizeCmd.Result()
	asksZ, _ := asksCmd.Result()
	snap.Asks = readSide(asksZ, askSizes)

	return snap, nil
}

func readSide(zs []redis.Z, sizes map[string]string) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(zs))
	for _, z := range zs {
		p, ok := z.Member.(string)
		if !ok {
			continue
		}
		vol, _ := strconv.ParseFloat(sizes[p], 64)
		out = append(out, domain.PriceLevel{Price: z.Score, Volume: vol})
	}
	return out
}

// GetBBO returns the mirrored best bid and ask. It returns
// domain.ErrNotFound when nothing is mirrored.
func (bc *BookCache) GetBBO(ctx context.Context, symbol string) (bestBid, bestAsk float64, err error) {
	vals, err := bc.rdb.HMGet(ctx, bookMetaKey(symbol), "best_bid", "best_ask").Result()
	if err != nil {
		return 0, 0, fmt.Errorf("redis: get bbo %s: %w", symbol, err)
	}
	if len(vals) != 2 || vals[0] == nil || vals[1] == nil {
		return 0, 0, domain.ErrNotFound
	}
	bestBid, _ = strconv.ParseFloat(vals[0].(string), 64)
	bestAsk, _ = strconv.ParseFloat(vals[1].(string), 64)
	return bestBid, bestAsk, nil
}

var _ domain.BookCache = (*BookCache)(nil)
