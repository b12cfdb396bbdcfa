package downloader

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/url"
	"time"

	fetchhttp "github.com/kyleparry1/givenergy-data-downloader/internal/http"
	"github.com/kyleparry1/givenergy-data-downloader/internal/logging"
	"github.com/kyleparry1/givenergy-data-downloader/internal/progress"
	"github.com/kyleparry1/givenergy-data-downloader/internal/storage"
)

// TaskOptions configures a Task.
type TaskOptions struct {
	// RetryBackoff is the wait before the second attempt, doubled for each
	// further attempt. Zero retries immediately.
	RetryBackoff time.Duration

	// RetryMaxBackoff caps the wait between attempts.
	// Default: 30s
	RetryMaxBackoff time.Duration

	// Progress is an optional progress reporter.
	Progress *progress.Reporter

	// Recorder optionally receives attempt and result events.
	Recorder Recorder

	// RunID tags recorded events.
	RunID string

	// Logger receives attempt logs. Default: discard.
	Logger *slog.Logger
}

// Task resolves one date to a stored report, retrying failed attempts.
// A Task holds no per-request state and may run many requests concurrently.
type Task struct {
	fetcher Fetcher
	sink    Writer
	opts    TaskOptions
}

// NewTask creates a Task fetching with fetcher and storing to sink.
func NewTask(fetcher Fetcher, sink Writer, opts TaskOptions) *Task {
	if opts.RetryMaxBackoff <= 0 {
		opts.RetryMaxBackoff = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Task{fetcher: fetcher, sink: sink, opts: opts}
}

// Execute makes up to req.MaxAttempts attempts and returns on the first
// success. Every failure stays inside the returned Outcome.
func (t *Task) Execute(ctx context.Context, req Request) Outcome {
	start := time.Now()
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}

	date := req.Key.String()
	l := t.opts.Logger.With(slog.String("date", date))
	if t.opts.Progress != nil {
		t.opts.Progress.TaskStarted()
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			if err := t.backoff(ctx, attempt-1); err != nil {
				lastErr = errors.Join(lastErr, err)
				break
			}
		}

		attempts = attempt
		attemptStart := time.Now()
		path, size, err := t.attempt(ctx, req)
		if err == nil {
			elapsed := time.Since(start)
			l.Info("Saved report.",
				slog.String("path", path),
				slog.Int64("bytes", size),
				slog.Int("attempt", attempt),
				slog.Duration("duration", elapsed.Round(time.Millisecond)),
			)
			t.record(ctx, Event{
				Key:      date,
				Kind:     EventSaved,
				Attempt:  attempt,
				Path:     path,
				Bytes:    size,
				Duration: time.Since(attemptStart),
			})
			if t.opts.Progress != nil {
				t.opts.Progress.TaskCompleted(size)
			}
			return Outcome{
				Key:      req.Key,
				Success:  true,
				Attempts: attempt,
				Path:     path,
				Bytes:    size,
				Duration: elapsed,
			}
		}

		lastErr = err
		t.logAttemptFailure(l, attempt, maxAttempts, err)
		t.record(ctx, Event{
			Key:        date,
			Kind:       EventAttemptFailed,
			Attempt:    attempt,
			StatusCode: statusCode(err),
			Message:    err.Error(),
			Duration:   time.Since(attemptStart),
		})
		if t.opts.Progress != nil {
			t.opts.Progress.AttemptFailed()
		}
	}

	exhausted := &ExhaustedError{Key: req.Key, Attempts: attempts, Last: lastErr}
	l.Error("Giving up on date.", slog.Int("attempts", attempts), "error", lastErr)
	t.record(ctx, Event{
		Key:        date,
		Kind:       EventExhausted,
		Attempt:    attempts,
		StatusCode: statusCode(lastErr),
		Message:    exhausted.Error(),
		Duration:   time.Since(start),
	})
	if t.opts.Progress != nil {
		t.opts.Progress.TaskFailed()
	}

	return Outcome{
		Key:      req.Key,
		Attempts: attempts,
		Err:      exhausted,
		Duration: time.Since(start),
	}
}

// attempt performs one POST and, on a 200, one write.
func (t *Task) attempt(ctx context.Context, req Request) (string, int64, error) {
	resp, err := t.fetcher.Post(ctx, fetchhttp.Request{
		URL:     req.URL,
		Query:   url.Values{"date": {req.Key.String()}},
		Headers: req.Headers,
		Cookies: req.Cookies,
	})
	if err != nil {
		return "", 0, err
	}

	path, err := t.sink.Write(ctx, storage.ReportName(req.Key.String()), resp.Body)
	if err != nil {
		return "", 0, err
	}
	return path, int64(len(resp.Body)), nil
}

func (t *Task) logAttemptFailure(l *slog.Logger, attempt, maxAttempts int, err error) {
	attrs := []any{
		slog.Int("attempt", attempt),
		slog.Int("max_attempts", maxAttempts),
	}

	var statusErr *fetchhttp.StatusError
	switch {
	case errors.As(err, &statusErr):
		attrs = append(attrs, slog.Int("status", statusErr.Code), slog.String("kind", "status"))
	case errors.Is(err, fetchhttp.ErrTransport):
		attrs = append(attrs, slog.String("kind", "transport"))
	case errors.Is(err, storage.ErrPersist):
		attrs = append(attrs, slog.String("kind", "persist"))
	default:
		attrs = append(attrs, slog.String("kind", "other"))
	}
	attrs = append(attrs, "error", err)

	l.Error("Attempt failed.", attrs...)
}

// record forwards e to the recorder. Recorder failures are logged and
// otherwise ignored so the journal can never fail a download.
func (t *Task) record(ctx context.Context, e Event) {
	if t.opts.Recorder == nil {
		return
	}
	e.RunID = t.opts.RunID
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	if err := t.opts.Recorder.Record(ctx, e); err != nil {
		t.opts.Logger.Warn("Failed to record event.", "event", string(e.Kind), "date", e.Key, "error", err)
	}
}

// backoff waits for an exponentially increasing duration with jitter.
// It returns immediately when no backoff is configured.
func (t *Task) backoff(ctx context.Context, retry int) error {
	if t.opts.RetryBackoff <= 0 {
		return nil
	}

	backoff := t.opts.RetryBackoff * time.Duration(1<<uint(retry-1))
	if backoff > t.opts.RetryMaxBackoff || backoff <= 0 {
		backoff = t.opts.RetryMaxBackoff
	}

	// Add jitter: 0.5 to 1.5 of backoff
	jitter := time.Duration(float64(backoff) * (0.5 + rand.Float64()))

	timer := time.NewTimer(jitter)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func statusCode(err error) int {
	var statusErr *fetchhttp.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code
	}
	return 0
}
