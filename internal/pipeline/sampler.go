package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alanyoungcy/depthmap/internal/book"
	"github.com/alanyoungcy/depthmap/internal/domain"
	"github.com/alanyoungcy/depthmap/internal/metrics"
)

const (
	// DefaultSampleInterval is the sampler cadence.
	DefaultSampleInterval = 500 * time.Millisecond
	// DefaultQueueSize bounds snapshots waiting for the writer.
	DefaultQueueSize = 64
	// MirrorLevels is how many levels per side are mirrored to the book cache.
	MirrorLevels = 100

	writeTimeout = 5 * time.Second
)

type sample struct {
	snap    domain.Snapshot
	changes []domain.PriceLevelChange
}

// SamplerConfig tunes a Sampler.
type SamplerConfig struct {
	Interval  time.Duration
	Depth     int
	QueueSize int
}

// Sampler freezes the replica on a fixed cadence and hands each snapshot to a
// single writer goroutine. A slow store never delays the next tick; when the
// queue is full the sample is dropped and counted.
type Sampler struct {
	replica  *book.Replica
	store    domain.SnapshotStore
	bus      domain.SignalBus
	books    domain.BookCache
	interval time.Duration
	depth    int
	queue    chan sample
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewSampler creates a Sampler. bus and books may be nil.
func NewSampler(
	replica *book.Replica,
	store domain.SnapshotStore,
	bus domain.SignalBus,
	books domain.BookCache,
	cfg SamplerConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Sampler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultSampleInterval
	}
	if cfg.Depth <= 0 {
		cfg.Depth = book.DefaultSnapshotDepth
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	return &Sampler{
		replica:  replica,
		store:    store,
		bus:      bus,
		books:    books,
		interval: cfg.Interval,
		depth:    cfg.Depth,
		queue:    make(chan sample, cfg.QueueSize),
		metrics:  m,
		logger:   logger.With(slog.String("component", "sampler")),
	}
}

// Run ticks until ctx is cancelled, then lets the writer finish what is
// already queued.
func (s *Sampler) Run(ctx context.Context) error {
	s.logger.Info("sampler started",
		slog.Duration("interval", s.interval),
		slog.Int("depth", s.depth),
	)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writeLoop()
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(s.queue)
			wg.Wait()
			s.logger.Info("sampler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.Tick()
		}
	}
}

// Tick takes one sample and queues it for writing. It reports whether a
// sample was queued.
func (s *Sampler) Tick() bool {
	snap, changes, ok := s.replica.Sample(s.depth)
	if !ok {
		s.metrics.SnapshotsSkipped.Inc()
		return false
	}

	select {
	case s.queue <- sample{snap: snap, changes: changes}:
		s.metrics.PersistQueueDepth.Set(float64(len(s.queue)))
		return true
	default:
		s.metrics.SnapshotsSkipped.Inc()
		s.metrics.PersistenceFailures.Inc()
		s.logger.Warn("persist queue full, dropping snapshot",
			slog.Int("changes", len(changes)),
		)
		return false
	}
}

func (s *Sampler) writeLoop() {
	for smp := range s.queue {
		s.metrics.PersistQueueDepth.Set(float64(len(s.queue)))
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := s.write(ctx, smp); err != nil {
			s.metrics.PersistenceFailures.Inc()
			s.logger.Error("snapshot write failed",
				slog.String("error", err.Error()),
				slog.String("timestamp", domain.FormatTimestamp(smp.snap.Timestamp)),
			)
		}
		cancel()
	}
}

// write persists one sample and then fans it out. Fan-out failures are only
// logged.
func (s *Sampler) write(ctx context.Context, smp sample) error {
	id, err := s.store.SaveSnapshot(ctx, smp.snap, smp.changes)
	if err != nil {
		return fmt.Errorf("sampler: %w: %v", domain.ErrPersistenceFailure, err)
	}
	smp.snap.ID = id
	s.metrics.SnapshotsSaved.Inc()

	if s.books != nil {
		mirror := smp.snap
		if len(mirror.Bids) > MirrorLevels {
			mirror.Bids = mirror.Bids[:MirrorLevels]
		}
		if len(mirror.Asks) > MirrorLevels {
			mirror.Asks = mirror.Asks[:MirrorLevels]
		}
		if err := s.books.SetSnapshot(ctx, mirror.Symbol, mirror); err != nil {
			s.logger.Warn("book mirror failed", slog.String("error", err.Error()))
		}
	}

	if s.bus != nil {
		payload, _ := json.Marshal(domain.NewSnapshotEvent(smp.snap, len(smp.changes)))
		if err := s.bus.Publish(ctx, domain.SnapshotChannel(smp.snap.Symbol), payload); err != nil {
			s.logger.Warn("snapshot publish failed", slog.String("error", err.Error()))
		}
	}
	return nil
}
