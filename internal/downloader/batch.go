package downloader

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"time"

	"github.com/kyleparry1/givenergy-data-downloader/internal/daterange"
	"github.com/kyleparry1/givenergy-data-downloader/internal/logging"
)

// BatchOptions is the read-only run configuration shared by every request.
type BatchOptions struct {
	URL         string
	Headers     map[string]string
	Cookies     map[string]string
	MaxAttempts int

	// RunID tags log lines and recorded run events.
	RunID string

	// Recorder optionally receives run start/end events.
	Recorder Recorder

	// OnFailure is called once per failed date after the batch has finished,
	// in ascending date order.
	OnFailure func(Outcome)

	// Logger receives batch logs. Default: discard.
	Logger *slog.Logger
}

// Summary is the aggregate result of a batch.
type Summary struct {
	RunID     string
	Total     int
	Succeeded int
	Failed    []daterange.DateKey // ascending
	Outcomes  []Outcome           // in date order
	Bytes     int64
	Duration  time.Duration
}

// FailedStrings returns the failed dates as YYYY-MM-DD strings.
func (s Summary) FailedStrings() []string {
	out := make([]string, len(s.Failed))
	for i, k := range s.Failed {
		out[i] = k.String()
	}
	return out
}

// Batch fans a date range out to a Pool and aggregates the outcomes.
type Batch struct {
	pool *Pool
	opts BatchOptions
}

// NewBatch creates a batch dispatching to pool.
func NewBatch(pool *Pool, opts BatchOptions) *Batch {
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	return &Batch{pool: pool, opts: opts}
}

// RunRange downloads every date from start to end inclusive. It fails before
// dispatching anything when the range is invalid.
func (b *Batch) RunRange(ctx context.Context, start, end daterange.DateKey) (Summary, error) {
	seq, err := daterange.Range(start, end)
	if err != nil {
		return Summary{}, err
	}
	return b.Run(ctx, seq), nil
}

// Run downloads every date in keys and blocks until all have finished.
// Individual failures are reported in the Summary, never as an error.
func (b *Batch) Run(ctx context.Context, keys iter.Seq[daterange.DateKey]) Summary {
	start := time.Now()
	l := b.opts.Logger
	if b.opts.RunID != "" {
		l = l.With(slog.String("run_id", b.opts.RunID))
	}

	var reqs []Request
	for k := range keys {
		reqs = append(reqs, NewRequest(k, b.opts.URL, b.opts.Headers, b.opts.Cookies, b.opts.MaxAttempts))
	}

	l.Info("Starting download.", slog.Int("dates", len(reqs)), slog.Int("workers", b.pool.Workers()))
	b.record(ctx, Event{Kind: EventRunStart, Message: fmt.Sprintf("%d dates", len(reqs))})

	outcomes := b.pool.RunAll(ctx, reqs)
	summary := Summarize(outcomes)
	summary.RunID = b.opts.RunID
	summary.Duration = time.Since(start)

	for _, o := range summary.Outcomes {
		if o.Success {
			continue
		}
		l.Warn("Failed to download date.", slog.String("date", o.Key.String()), "error", o.Err)
		if b.opts.OnFailure != nil {
			b.opts.OnFailure(o)
		}
	}

	l.Info("All downloads completed.",
		slog.Int("dates", summary.Total),
		slog.Int("succeeded", summary.Succeeded),
		slog.Int("failed", len(summary.Failed)),
		slog.Duration("duration", summary.Duration.Round(time.Millisecond)),
	)
	b.record(ctx, Event{
		Kind:     EventRunEnd,
		Message:  fmt.Sprintf("%d/%d succeeded", summary.Succeeded, summary.Total),
		Bytes:    summary.Bytes,
		Duration: summary.Duration,
	})

	return summary
}

func (b *Batch) record(ctx context.Context, e Event) {
	if b.opts.Recorder == nil {
		return
	}
	e.RunID = b.opts.RunID
	e.Time = time.Now().UTC()
	if err := b.opts.Recorder.Record(ctx, e); err != nil {
		b.opts.Logger.Warn("Failed to record event.", "event", string(e.Kind), "error", err)
	}
}

// Summarize aggregates outcomes. The result does not depend on the order of
// outcomes.
func Summarize(outcomes []Outcome) Summary {
	sorted := slices.Clone(outcomes)
	slices.SortStableFunc(sorted, func(a, b Outcome) int {
		return a.Key.Compare(b.Key)
	})

	s := Summary{Total: len(sorted), Outcomes: sorted}
	for _, o := range sorted {
		if o.Success {
			s.Succeeded++
			s.Bytes += o.Bytes
			continue
		}
		s.Failed = append(s.Failed, o.Key)
	}
	return s
}
