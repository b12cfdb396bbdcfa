package downloader

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"github.com/kyleparry1/givenergy-data-downloader/internal/logging"
)

// Pool runs requests through an Executor with bounded parallelism.
type Pool struct {
	exec    Executor
	workers int
	logger  *slog.Logger
}

// NewPool creates a pool of workers executing with exec.
// workers <= 0 selects DefaultWorkers.
func NewPool(exec Executor, workers int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Pool{exec: exec, workers: workers, logger: logger}
}

// Workers returns the concurrency limit.
func (p *Pool) Workers() int {
	return p.workers
}

// RunAll executes every request and returns once all have finished.
// The result holds exactly one Outcome per request, at the request's index.
// Failures, including panics inside the executor, never stop other requests.
func (p *Pool) RunAll(ctx context.Context, reqs []Request) []Outcome {
	outcomes := make([]Outcome, len(reqs))
	if len(reqs) == 0 {
		return outcomes
	}

	type job struct {
		index int
		req   Request
	}

	workers := min(p.workers, len(reqs))
	jobs := make(chan job)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				outcomes[j.index] = p.execute(ctx, j.req)
			}
		}()
	}

	// Feed jobs in submission order. Every request is handed out even when
	// ctx is done so that each one still produces an Outcome.
	for i, req := range reqs {
		jobs <- job{index: i, req: req}
	}
	close(jobs)

	wg.Wait()
	return outcomes
}

// execute runs one request, turning a panic into a failed Outcome.
func (p *Pool) execute(ctx context.Context, req Request) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %v", ErrTaskPanic, r)
			p.logger.Error("Task panicked.",
				slog.String("date", req.Key.String()),
				"error", err,
				slog.String("stack", string(debug.Stack())),
			)
			out = Outcome{Key: req.Key, Err: err}
		}
	}()
	return p.exec.Execute(ctx, req)
}
