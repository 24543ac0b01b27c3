package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/depthmap/internal/domain"
	"github.com/alanyoungcy/depthmap/internal/metrics"
)

const (
	// DefaultPruneInterval is how often retention runs.
	DefaultPruneInterval = time.Hour
	// DefaultRetention is how long snapshots are kept.
	DefaultRetention = 7 * 24 * time.Hour

	pruneLockKey = "retention"
)

// PrunerConfig tunes a Pruner.
type PrunerConfig struct {
	Interval  time.Duration
	Retention time.Duration
	LockTTL   time.Duration
}

// Pruner deletes snapshots, and the changes that reference them, once they
// fall out of the retention window. When an archiver is configured the
// expiring snapshots are copied to cold storage first and nothing is deleted
// if the copy fails.
type Pruner struct {
	store     domain.SnapshotStore
	archiver  domain.Archiver
	locks     domain.LockManager
	bus       domain.SignalBus
	interval  time.Duration
	retention time.Duration
	lockTTL   time.Duration
	now       func() time.Time
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewPruner creates a Pruner. archiver, locks and bus may be nil.
func NewPruner(
	store domain.SnapshotStore,
	archiver domain.Archiver,
	locks domain.LockManager,
	bus domain.SignalBus,
	cfg PrunerConfig,
	m *metrics.Metrics,
	logger *slog.Logger,
) *Pruner {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPruneInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	return &Pruner{
		store:     store,
		archiver:  archiver,
		locks:     locks,
		bus:       bus,
		interval:  cfg.Interval,
		retention: cfg.Retention,
		lockTTL:   cfg.LockTTL,
		now:       time.Now,
		metrics:   m,
		logger:    logger.With(slog.String("component", "pruner")),
	}
}

type pruneEvent struct {
	Cutoff    string `json:"cutoff"`
	Archived  int64  `json:"archived"`
	Snapshots int64  `json:"snapshots"`
	Changes   int64  `json:"changes"`
}

// Run executes a single retention run. Another instance holding the lock is
// not an error; the run is simply skipped.
func (p *Pruner) Run(ctx context.Context) (domain.PruneResult, error) {
	cutoff := p.now().UTC().Add(-p.retention)

	if p.locks != nil {
		unlock, err := p.locks.Acquire(ctx, pruneLockKey, p.lockTTL)
		if errors.Is(err, domain.ErrLockHeld) {
			p.logger.Info("retention lock held elsewhere, skipping run")
			return domain.PruneResult{}, nil
		}
		if err != nil {
			return domain.PruneResult{}, fmt.Errorf("pruner: acquire lock: %w", err)
		}
		defer unlock()
	}

	p.logger.Info("starting retention run",
		slog.Time("cutoff", cutoff),
		slog.Duration("retention", p.retention),
	)

	var archived int64
	if p.archiver != nil {
		n, err := p.archiver.ArchiveSnapshots(ctx, cutoff)
		if err != nil {
			return domain.PruneResult{}, fmt.Errorf("pruner: archive before %v: %w", cutoff, err)
		}
		archived = n
		p.metrics.ArchivedSnapshot.Add(float64(n))
	}

	res, err := p.store.DeleteBefore(ctx, cutoff)
	if err != nil {
		return domain.PruneResult{}, fmt.Errorf("pruner: delete before %v: %w", cutoff, err)
	}
	p.metrics.PrunedChanges.Add(float64(res.Changes))
	p.metrics.PrunedSnapshots.Add(float64(res.Snapshots))

	p.logger.Info("retention run complete",
		slog.Int64("archived", archived),
		slog.Int64("snapshots_deleted", res.Snapshots),
		slog.Int64("changes_deleted", res.Changes),
	)

	if p.bus != nil {
		payload, _ := json.Marshal(pruneEvent{
			Cutoff:    domain.FormatTimestamp(cutoff),
			Archived:  archived,
			Snapshots: res.Snapshots,
			Changes:   res.Changes,
		})
		if err := p.bus.StreamAppend(ctx, domain.RetentionStream, payload); err != nil {
			p.logger.Warn("retention event append failed", slog.String("error", err.Error()))
		}
	}
	return res, nil
}

// RunLoop runs retention immediately and then on every interval until ctx is
// cancelled. Failed runs are logged and retried on the next tick.
func (p *Pruner) RunLoop(ctx context.Context) error {
	p.logger.Info("pruner started", slog.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if _, err := p.Run(ctx); err != nil && ctx.Err() == nil {
			p.logger.Error("retention run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			p.logger.Info("pruner stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
