package service

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/alanyoungcy/depthmap/internal/domain"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// memStore is an in-memory SnapshotStore.
type memStore struct {
	mu      sync.Mutex
	snaps   []domain.Snapshot
	changes map[int64][]domain.PriceLevelChange
	queries int

	lastInterval time.Duration
}

func newMemStore() *memStore {
	return &memStore{changes: make(map[int64][]domain.PriceLevelChange)}
}

func (m *memStore) SaveSnapshot(_ context.Context, snap domain.Snapshot, changes []domain.PriceLevelChange) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap.ID = int64(len(m.snaps) + 1)
	m.snaps = append(m.snaps, snap)
	for i := range changes {
		changes[i].SnapshotID = snap.ID
	}
	m.changes[snap.ID] = changes
	return snap.ID, nil
}

func (m *memStore) QuerySnapshots(_ context.Context, symbol string, r domain.TimeRange, interval time.Duration) ([]domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queries++
	var out []domain.Snapshot
	for _, s := range m.snaps {
		if s.Symbol == symbol && !s.Timestamp.Before(r.Start) && !s.Timestamp.After(r.End) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	m.lastInterval = interval
	return out, nil
}

func (m *memStore) Latest(_ context.Context, symbol string) (domain.Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.snaps) - 1; i >= 0; i-- {
		if m.snaps[i].Symbol == symbol {
			return m.snaps[i], nil
		}
	}
	return domain.Snapshot{}, domain.ErrNotFound
}

func (m *memStore) ListChanges(_ context.Context, id int64) ([]domain.PriceLevelChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.changes[id], nil
}

func (m *memStore) ListBefore(context.Context, time.Time, int64, int) ([]domain.Snapshot, error) {
	return nil, nil
}

func (m *memStore) DeleteBefore(context.Context, time.Time) (domain.PruneResult, error) {
	return domain.PruneResult{}, nil
}

func (m *memStore) Close() error { return nil }

// memCache is an in-memory QueryCache and BookCache.
type memCache struct {
	mu    sync.Mutex
	blobs map[string][]byte
	books map[string]domain.Snapshot
}

func newMemCache() *memCache {
	return &memCache{blobs: map[string][]byte{}, books: map[string]domain.Snapshot{}}
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.blobs[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return v, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blobs[key] = value
	return nil
}

func (c *memCache) SetSnapshot(_ context.Context, symbol string, snap domain.Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.books[symbol] = snap
	return nil
}

func (c *memCache) GetSnapshot(_ context.Context, symbol string) (domain.Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.books[symbol]
	if !ok {
		return domain.Snapshot{}, domain.ErrNotFound
	}
	return s, nil
}

func (c *memCache) GetBBO(ctx context.Context, symbol string) (float64, float64, error) {
	s, err := c.GetSnapshot(ctx, symbol)
	if err != nil {
		return 0, 0, err
	}
	return s.BestBid(), s.BestAsk(), nil
}

// seedFunc adapts a function to SeedSource.
type seedFunc func(ctx context.Context, symbol string, limit int) (domain.DepthSeed, error)

func (f seedFunc) DepthSnapshot(ctx context.Context, symbol string, limit int) (domain.DepthSeed, error) {
	return f(ctx, symbol, limit)
}
