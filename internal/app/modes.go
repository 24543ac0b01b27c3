package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	s3blob "github.com/alanyoungcy/depthmap/internal/blob/s3"
	"github.com/alanyoungcy/depthmap/internal/book"
	"github.com/alanyoungcy/depthmap/internal/feed"
	"github.com/alanyoungcy/depthmap/internal/pipeline"
	"github.com/alanyoungcy/depthmap/internal/platform/binance"
	"github.com/alanyoungcy/depthmap/internal/server"
	"github.com/alanyoungcy/depthmap/internal/server/handler"
	"github.com/alanyoungcy/depthmap/internal/server/ws"
	"github.com/alanyoungcy/depthmap/internal/service"
)

const shutdownTimeout = 5 * time.Second

// IngestMode keeps the replica in sync with the exchange and persists
// snapshots. When metrics are enabled /metrics is served on the server port.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startIngest(ctx, g, deps)

	if a.cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", deps.Metrics.Handler())
		a.startHTTP(ctx, g, &http.Server{
			Addr:         fmt.Sprintf(":%d", a.cfg.Server.Port),
			Handler:      mux,
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		})
	}

	return g.Wait()
}

// ServerMode answers queries from the store and the redis mirror only.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startServer(ctx, g, deps, nil, nil)
	return g.Wait()
}

// FullMode runs ingestion and the query API in one process; live queries
// read the in-memory replica directly.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)
	replica, conn := a.startIngest(ctx, g, deps)
	a.startServer(ctx, g, deps, replica, conn)
	return g.Wait()
}

// startIngest builds the replica, the feed connection and the background
// pipeline and schedules them on g.
func (a *App) startIngest(ctx context.Context, g *errgroup.Group, deps *Dependencies) (*book.Replica, *feed.Connection) {
	fc := a.cfg.Feed

	replica := book.NewReplica(fc.Symbol,
		book.WithPendingCap(a.cfg.Book.PendingCap),
		book.WithGapDetection(fc.ResyncOnGap),
	)

	rest := binance.NewRESTClient(fc.RESTURL, fc.SeedTimeout.Duration)
	ingest := service.NewIngestService(
		replica,
		rest,
		fc.SeedLimit,
		fc.SeedTimeout.Duration,
		deps.Metrics,
		a.logger,
	)

	var speed time.Duration
	if fc.UpdateSpeed != "" {
		speed, _ = time.ParseDuration(fc.UpdateSpeed)
	}
	dialer := binance.NewDialer(binance.DepthStreamURL(fc.WSURL, fc.Symbol, speed))
	dial := func(ctx context.Context) (feed.Stream, error) {
		conn, err := dialer.Dial(ctx)
		if err != nil {
			return nil, err
		}
		return conn, nil
	}

	var policy feed.DelayPolicy = feed.FixedDelay(fc.ReconnectDelay.Duration)
	if fc.MaxReconnectDelay.Duration > fc.ReconnectDelay.Duration {
		policy = feed.ExponentialBackoff{
			Base:   fc.ReconnectDelay.Duration,
			Max:    fc.MaxReconnectDelay.Duration,
			Jitter: 0.2,
		}
	}

	m := deps.Metrics
	conn := feed.NewConnection(dial, ingest.HandleMessage, a.logger,
		feed.WithDelayPolicy(policy),
		feed.WithDialTimeout(fc.DialTimeout.Duration),
		feed.WithOnConnect(ingest.Resync),
		feed.WithStateObserver(func(s feed.State) {
			if s == feed.StateConnected {
				m.FeedState.Set(1)
				return
			}
			m.FeedState.Set(0)
			m.Reconnects.Inc()
		}),
	)

	a.logger.InfoContext(ctx, "depth feed configured",
		slog.String("url", dialer.URL()),
		slog.String("symbol", fc.Symbol),
		slog.Int("seed_limit", fc.SeedLimit),
	)

	g.Go(func() error {
		err := conn.Run(ctx)
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("feed: %w", err)
	})

	sampler := pipeline.NewSampler(replica, deps.Store, deps.SignalBus, deps.BookCache,
		pipeline.SamplerConfig{
			Interval:  a.cfg.Sampler.Interval.Duration,
			Depth:     a.cfg.Book.Depth,
			QueueSize: a.cfg.Sampler.QueueSize,
		},
		m, a.logger,
	)

	var pruner *pipeline.Pruner
	if a.cfg.Retention.Enabled {
		pruner = pipeline.NewPruner(deps.Store, deps.Archiver, deps.LockManager, deps.SignalBus,
			pipeline.PrunerConfig{
				Interval:  a.cfg.Retention.Interval.Duration,
				Retention: a.cfg.Retention.MaxAge.Duration,
				LockTTL:   a.cfg.Retention.LockTTL.Duration,
			},
			m, a.logger,
		)
	}

	orch := pipeline.NewOrchestrator(sampler, pruner, a.logger)
	g.Go(func() error { return orch.Run(ctx) })

	return replica, conn
}

// startServer builds the query service and HTTP handlers and schedules the
// server, its shutdown and the optional websocket hub on g. replica and conn
// are nil outside full mode.
func (a *App) startServer(
	ctx context.Context,
	g *errgroup.Group,
	deps *Dependencies,
	replica *book.Replica,
	conn *feed.Connection,
) {
	sc := a.cfg.Server
	symbol := a.cfg.Feed.Symbol

	query := service.NewQueryService(symbol, replica, deps.Store, deps.BookCache, deps.QueryCache,
		sc.CacheTTL.Duration, a.logger)

	checks := make(map[string]handler.Pinger, len(deps.Health))
	for name, p := range deps.Health {
		checks[name] = p
	}

	var fs handler.FeedStatus
	if conn != nil {
		fs = conn
	}

	handlers := server.Handlers{
		Health:    handler.NewHealthHandler(checks, a.logger),
		Status:    handler.NewStatusHandler(a.cfg.Mode, a.cfg.Storage.Driver, symbol, a.startedAt, query, fs),
		OrderBook: handler.NewOrderBookHandler(query, a.logger),
	}
	if deps.BlobReader != nil {
		handlers.Archive = handler.NewArchiveHandler(deps.BlobReader, s3blob.ArchivePrefix, symbol, a.logger)
	}
	if deps.SignalBus != nil {
		handlers.Retention = handler.NewRetentionHandler(deps.SignalBus, a.logger)

		hub := ws.NewHub(deps.SignalBus, ws.Config{
			Mode:      a.cfg.Mode,
			Symbol:    symbol,
			StartedAt: a.startedAt,
		}, a.logger)
		handlers.Hub = hub
		g.Go(func() error {
			if err := hub.Run(ctx); err != nil {
				return fmt.Errorf("ws hub: %w", err)
			}
			return nil
		})
	}

	var limiter = deps.RateLimiter
	if sc.RateLimit <= 0 {
		limiter = nil
	}
	m := deps.Metrics
	if !a.cfg.Metrics.Enabled {
		m = nil
	}

	srv := server.NewServer(server.Config{
		Port:        sc.Port,
		CORSOrigins: sc.CORSOrigins,
		RateLimit:   sc.RateLimit,
		RateWindow:  sc.RateWindow.Duration,
	}, handlers, limiter, m, a.logger)

	g.Go(srv.Start)
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// startHTTP runs a bare http.Server on g until ctx is cancelled.
func (a *App) startHTTP(ctx context.Context, g *errgroup.Group, srv *http.Server) {
	g.Go(func() error {
		a.logger.InfoContext(ctx, "metrics listener starting", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
