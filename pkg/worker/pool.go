package worker

import (
	"context"
	"errors"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Pool runs several workers over one queue.
type Pool struct {
	worker *Worker
	size   int
}

// NewPool creates a pool of size workers sharing w. Size defaults to 1.
func NewPool(w *Worker, size int) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{worker: w, size: size}
}

// Run processes tasks until ctx is cancelled. Task handling failures are
// logged and do not stop the pool; Run returns the context error once all
// workers have drained.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.size; i++ {
		g.Go(func() error {
			for {
				processed, err := p.worker.ProcessOne(ctx)
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				if err != nil {
					p.worker.logger.ErrorContext(ctx, "task failed", slog.Any("error", err))
				}
				if !processed && err == nil {
					// Queue handed back nothing without an error; only
					// possible on shutdown.
					return ctx.Err()
				}
			}
		})
	}
	return g.Wait()
}
