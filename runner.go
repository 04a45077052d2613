package ramify

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/petrijr/ramify/internal/taskqueue"
	"github.com/petrijr/ramify/pkg/worker"
)

// Runner bundles an Engine, a task queue, and background goroutines that
// process queued work and fire due timers. It turns the synchronous engine
// into a self-driving single-process deployment:
//
//	runner, _ := ramify.NewLocalRunner()
//	ramify.NewDefinition("greeter", "Greeter").
//	    Start("start").Log("hello", "hi").
//	    Connect("start", "Done", "hello").
//	    MustRegister(ctx, runner.Engine)
//
//	_ = runner.Start(ctx, 2)
//	_ = runner.StartWorkflowAsync(ctx, "greeter", nil, "")
//	...
//	runner.Stop()
type Runner struct {
	// Engine executes the workflows.
	Engine Engine

	// Queue feeds the workers.
	Queue taskqueue.Queue

	// Worker processes tasks from Queue using Engine.
	Worker *worker.Worker

	// TimerInterval is how often due timers are swept. Zero means one
	// second. Set before Start.
	TimerInterval time.Duration

	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewRunner wraps an existing engine and queue.
func NewRunner(eng Engine, queue taskqueue.Queue, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		Engine: eng,
		Queue:  queue,
		Worker: worker.New(eng, queue, logger),
		logger: logger,
	}
}

// NewLocalRunner constructs a Runner backed by an in-memory engine and
// queue. Intended for development, tests, and single-process deployments
// that can afford to lose state on restart.
func NewLocalRunner() (*Runner, error) {
	eng, err := NewInMemoryEngine()
	if err != nil {
		return nil, err
	}
	return NewRunner(eng, taskqueue.NewInMemoryQueue(1024), nil), nil
}

// Start launches workerCount worker goroutines plus the timer sweep. It
// returns an error when the runner is already started; Stop resets it.
func (r *Runner) Start(ctx context.Context, workerCount int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running {
		return errors.New("ramify: runner already started")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	interval := r.TimerInterval
	if interval <= 0 {
		interval = time.Second
	}

	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true

	pool := worker.NewPool(r.Worker, workerCount)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		_ = pool.Run(ctx)
	}()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.sweepTimers(ctx, interval)
	}()

	return nil
}

func (r *Runner) sweepTimers(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Engine.ResumeDueTimers(ctx, time.Now())
			if err != nil && !errors.Is(err, context.Canceled) {
				r.logger.WarnContext(ctx, "timer sweep failed", slog.Any("error", err))
				continue
			}
			if n > 0 {
				r.logger.DebugContext(ctx, "timers fired", slog.Int("count", n))
			}
		}
	}
}

// Stop cancels the background goroutines and waits for them to exit.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	cancel := r.cancel
	r.running = false
	r.cancel = nil
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	r.wg.Wait()
}

// StartWorkflowAsync enqueues a workflow start; a worker runs it.
func (r *Runner) StartWorkflowAsync(ctx context.Context, definitionID string, input map[string]any, correlationID string) error {
	return r.Worker.EnqueueStartWorkflow(ctx, definitionID, input, correlationID)
}

// SignalAsync enqueues the delivery of a named signal.
func (r *Runner) SignalAsync(ctx context.Context, signalName, correlationID string, payload map[string]any) error {
	return r.Worker.EnqueueSignal(ctx, signalName, correlationID, payload)
}

// ResumeAsync enqueues the resumption of a halted instance.
func (r *Runner) ResumeAsync(ctx context.Context, instanceID, activityID string, input map[string]any) error {
	return r.Worker.EnqueueResume(ctx, instanceID, activityID, input)
}
