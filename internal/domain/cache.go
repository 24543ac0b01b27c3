package domain

import (
	"context"
	"time"
)

// BookCache mirrors the live top-of-book so other processes can serve it.
type BookCache interface {
	SetSnapshot(ctx context.Context, symbol string, snap Snapshot) error
	GetSnapshot(ctx context.Context, symbol string) (Snapshot, error)
	GetBBO(ctx context.Context, symbol string) (bestBid, bestAsk float64, err error)
}

// QueryCache stores rendered query results for a short time.
type QueryCache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// RateLimiter provides distributed rate limiting.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// LockManager provides distributed locking.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (unlock func(), err error)
}

// StreamMessage represents a single entry from a Redis stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// SnapshotChannel is the pub/sub channel carrying saved snapshot summaries.
func SnapshotChannel(symbol string) string { return "ch:snapshot:" + symbol }

// RetentionStream is the stream recording every retention run.
const RetentionStream = "stream:retention"
