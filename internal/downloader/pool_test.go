package downloader

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kyleparry1/givenergy-data-downloader/internal/daterange"
)

// countingExecutor tracks how many executions overlap.
type countingExecutor struct {
	running  atomic.Int32
	peak     atomic.Int32
	calls    atomic.Int32
	delay    time.Duration
	failKeys map[string]bool
	panicKey map[string]bool

	mu   sync.Mutex
	seen map[string]int
}

func (e *countingExecutor) Execute(ctx context.Context, req Request) Outcome {
	n := e.running.Add(1)
	defer e.running.Add(-1)
	for {
		p := e.peak.Load()
		if n <= p || e.peak.CompareAndSwap(p, n) {
			break
		}
	}
	e.calls.Add(1)

	e.mu.Lock()
	if e.seen == nil {
		e.seen = make(map[string]int)
	}
	e.seen[req.Key.String()]++
	e.mu.Unlock()

	time.Sleep(e.delay)

	key := req.Key.String()
	if e.panicKey[key] {
		panic("unexpected nil map in " + key)
	}
	if e.failKeys[key] {
		return Outcome{Key: req.Key, Attempts: req.MaxAttempts, Err: errors.New("boom")}
	}
	return Outcome{Key: req.Key, Success: true, Attempts: 1}
}

func makeRequests(t *testing.T, start, end string) []Request {
	t.Helper()
	seq, err := daterange.Range(daterange.MustParse(start), daterange.MustParse(end))
	if err != nil {
		t.Fatalf("Range: %v", err)
	}
	var reqs []Request
	for k := range seq {
		reqs = append(reqs, NewRequest(k, "http://example.invalid", nil, nil, 3))
	}
	return reqs
}

func TestRunAllBoundedConcurrency(t *testing.T) {
	exec := &countingExecutor{
		delay:    20 * time.Millisecond,
		failKeys: map[string]bool{"2024-01-03": true, "2024-01-07": true},
		panicKey: map[string]bool{"2024-01-05": true, "2024-01-11": true},
	}
	pool := NewPool(exec, 5, nil)

	reqs := makeRequests(t, "2024-01-01", "2024-01-12")
	if len(reqs) != 12 {
		t.Fatalf("expected 12 requests, got %d", len(reqs))
	}

	outcomes := pool.RunAll(context.Background(), reqs)

	if len(outcomes) != 12 {
		t.Fatalf("expected 12 outcomes, got %d", len(outcomes))
	}
	if peak := exec.peak.Load(); peak > 5 {
		t.Errorf("expected at most 5 concurrent executions, observed %d", peak)
	}
	if peak := exec.peak.Load(); peak < 2 {
		t.Errorf("expected executions to overlap, observed peak %d", peak)
	}
	if exec.calls.Load() != 12 {
		t.Errorf("expected 12 executions, got %d", exec.calls.Load())
	}
	for key, n := range exec.seen {
		if n != 1 {
			t.Errorf("date %s executed %d times", key, n)
		}
	}

	failed := 0
	for i, o := range outcomes {
		if o.Key != reqs[i].Key {
			t.Errorf("outcome %d: expected key %s, got %s", i, reqs[i].Key, o.Key)
		}
		if !o.Success {
			failed++
		}
	}
	if failed != 4 {
		t.Errorf("expected 4 failed outcomes, got %d", failed)
	}

	for _, i := range []int{4, 10} { // 2024-01-05 and 2024-01-11
		if !errors.Is(outcomes[i].Err, ErrTaskPanic) {
			t.Errorf("outcome %d: expected ErrTaskPanic, got %v", i, outcomes[i].Err)
		}
	}
}

func TestRunAllFewerRequestsThanWorkers(t *testing.T) {
	exec := &countingExecutor{}
	pool := NewPool(exec, 5, nil)

	outcomes := pool.RunAll(context.Background(), makeRequests(t, "2024-01-01", "2024-01-02"))
	if len(outcomes) != 2 {
		t.Fatalf("expected 2 outcomes, got %d", len(outcomes))
	}
	for _, o := range outcomes {
		if !o.Success {
			t.Errorf("expected success for %s", o.Key)
		}
	}
}

func TestRunAllEmpty(t *testing.T) {
	pool := NewPool(&countingExecutor{}, 5, nil)
	if outcomes := pool.RunAll(context.Background(), nil); len(outcomes) != 0 {
		t.Errorf("expected no outcomes, got %d", len(outcomes))
	}
}

func TestRunAllSingleWorkerIsSerial(t *testing.T) {
	exec := &countingExecutor{delay: 5 * time.Millisecond}
	pool := NewPool(exec, 1, nil)

	pool.RunAll(context.Background(), makeRequests(t, "2024-01-01", "2024-01-06"))
	if peak := exec.peak.Load(); peak != 1 {
		t.Errorf("expected serial execution, observed peak %d", peak)
	}
}

func TestNewPoolDefaultWorkers(t *testing.T) {
	if w := NewPool(&countingExecutor{}, 0, nil).Workers(); w != DefaultWorkers {
		t.Errorf("expected %d workers, got %d", DefaultWorkers, w)
	}
}

func TestRunAllCancelledContextStillReturnsAll(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	pool := NewPool(&countingExecutor{}, 3, nil)
	outcomes := pool.RunAll(ctx, makeRequests(t, "2024-01-01", "2024-01-10"))
	if len(outcomes) != 10 {
		t.Errorf("expected 10 outcomes, got %d", len(outcomes))
	}
}
