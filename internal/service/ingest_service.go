package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alanyoungcy/depthmap/internal/book"
	"github.com/alanyoungcy/depthmap/internal/domain"
	"github.com/alanyoungcy/depthmap/internal/metrics"
	"github.com/alanyoungcy/depthmap/internal/platform/binance"
)

// SeedSource fetches the REST depth snapshot used to rebuild the replica.
type SeedSource interface {
	DepthSnapshot(ctx context.Context, symbol string, limit int) (domain.DepthSeed, error)
}

// IngestService turns raw stream frames into replica updates and reseeds the
// replica whenever the stream (re)connects.
type IngestService struct {
	replica     *book.Replica
	seeds       SeedSource
	seedLimit   int
	seedTimeout time.Duration
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewIngestService creates an IngestService.
func NewIngestService(
	replica *book.Replica,
	seeds SeedSource,
	seedLimit int,
	seedTimeout time.Duration,
	m *metrics.Metrics,
	logger *slog.Logger,
) *IngestService {
	if seedLimit <= 0 {
		seedLimit = 1000
	}
	if seedTimeout <= 0 {
		seedTimeout = 10 * time.Second
	}
	return &IngestService{
		replica:     replica,
		seeds:       seeds,
		seedLimit:   seedLimit,
		seedTimeout: seedTimeout,
		metrics:     m,
		logger:      logger.With(slog.String("component", "ingest")),
	}
}

// HandleMessage decodes one frame and applies it. Stale diffs are counted and
// swallowed. Malformed frames and sequence gaps are returned so the feed
// connection can drop the frame or resynchronize.
func (s *IngestService) HandleMessage(ctx context.Context, raw []byte) error {
	u, err := binance.DecodeDepthEvent(raw)
	if err != nil {
		s.metrics.UpdatesMalformed.Inc()
		return err
	}
	if u.Symbol != "" && !strings.EqualFold(u.Symbol, s.replica.Symbol()) {
		s.metrics.UpdatesMalformed.Inc()
		return fmt.Errorf("%w: unexpected symbol %q", domain.ErrMalformedMessage, u.Symbol)
	}

	_, evicted, err := s.replica.Apply(u)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrStaleUpdate):
		s.metrics.UpdatesStale.Inc()
		return nil
	case errors.Is(err, domain.ErrMalformedMessage):
		s.metrics.UpdatesMalformed.Inc()
		return err
	case errors.Is(err, domain.ErrSequenceGap):
		s.metrics.SequenceGaps.Inc()
		return err
	default:
		return fmt.Errorf("ingest: apply update %d: %w", u.FinalUpdateID, err)
	}

	s.metrics.UpdatesApplied.Inc()
	if evicted > 0 {
		s.metrics.ChangesDropped.Add(float64(evicted))
		s.logger.Debug("pending change buffer full, dropped oldest",
			slog.Int("evicted", evicted),
		)
	}
	return nil
}

// Resync rebuilds the replica from a fresh REST snapshot. On failure the
// replica is emptied so it reports not-ready until the next attempt.
func (s *IngestService) Resync(ctx context.Context) error {
	seedCtx, cancel := context.WithTimeout(ctx, s.seedTimeout)
	defer cancel()

	seed, err := s.seeds.DepthSnapshot(seedCtx, s.replica.Symbol(), s.seedLimit)
	if err == nil {
		err = s.replica.Seed(seed)
	}
	if err != nil {
		s.replica.Reset()
		s.metrics.SeedFailures.Inc()
		return fmt.Errorf("ingest: seed %s: %w", s.replica.Symbol(), err)
	}

	s.metrics.SeedsCompleted.Inc()
	s.logger.Info("replica seeded",
		slog.String("symbol", s.replica.Symbol()),
		slog.Int64("last_update_id", seed.LastUpdateID),
		slog.Int("bids", len(seed.Bids)),
		slog.Int("asks", len(seed.Asks)),
	)
	return nil
}
