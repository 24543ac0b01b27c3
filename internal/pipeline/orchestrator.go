package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Orchestrator runs the periodic background tasks: the snapshot sampler and
// the retention pruner. Either may be nil.
type Orchestrator struct {
	sampler *Sampler
	pruner  *Pruner
	logger  *slog.Logger
}

// NewOrchestrator creates a new Orchestrator.
func NewOrchestrator(sampler *Sampler, pruner *Pruner, logger *slog.Logger) *Orchestrator {
	return &Orchestrator{
		sampler: sampler,
		pruner:  pruner,
		logger:  logger.With(slog.String("component", "pipeline")),
	}
}

// Run starts the tasks as concurrent goroutines using an errgroup. The tasks
// are independent; a slow retention run never holds up sampling.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("pipeline orchestrator starting",
		slog.Bool("sampler", o.sampler != nil),
		slog.Bool("pruner", o.pruner != nil),
	)

	g, ctx := errgroup.WithContext(ctx)

	if o.sampler != nil {
		g.Go(func() error {
			err := o.sampler.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("sampler: %w", err)
		})
	}

	if o.pruner != nil {
		g.Go(func() error {
			err := o.pruner.RunLoop(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("pruner: %w", err)
		})
	}

	err := g.Wait()
	o.logger.Info("pipeline orchestrator stopped")
	return err
}
