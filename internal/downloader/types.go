package downloader

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/kyleparry1/givenergy-data-downloader/internal/daterange"
	fetchhttp "github.com/kyleparry1/givenergy-data-downloader/internal/http"
)

// DefaultMaxAttempts is the number of attempts made per date when the
// request does not say otherwise.
const DefaultMaxAttempts = 3

// DefaultWorkers is the pool size used when none is configured.
const DefaultWorkers = 5

// Common errors.
var (
	ErrExhausted = errors.New("downloader: all attempts failed")
	ErrTaskPanic = errors.New("downloader: task panicked")
)

// ExhaustedError is the Outcome error of a date whose every attempt failed.
// It unwraps to both ErrExhausted and the error of the last attempt.
type ExhaustedError struct {
	Key      daterange.DateKey
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("download %s failed after %d attempts: %v", e.Key, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() []error { return []error{ErrExhausted, e.Last} }

// Request is the immutable description of one date's download.
type Request struct {
	Key         daterange.DateKey
	URL         string
	Headers     map[string]string
	Cookies     map[string]string
	MaxAttempts int
}

// NewRequest builds a Request, copying headers and cookies so that later
// changes to the caller's maps cannot leak into running tasks.
func NewRequest(key daterange.DateKey, url string, headers, cookies map[string]string, maxAttempts int) Request {
	if maxAttempts <= 0 {
		maxAttempts = DefaultMaxAttempts
	}
	return Request{
		Key:         key,
		URL:         url,
		Headers:     maps.Clone(headers),
		Cookies:     maps.Clone(cookies),
		MaxAttempts: maxAttempts,
	}
}

// Outcome is the final verdict for one date.
type Outcome struct {
	Key      daterange.DateKey
	Success  bool
	Attempts int
	Err      error // last observed error, nil on success

	Path     string // where the report was stored, empty on failure
	Bytes    int64
	Duration time.Duration
}

// Executor runs a single Request to completion. Implementations must not
// return before the request is resolved one way or the other.
type Executor interface {
	Execute(ctx context.Context, req Request) Outcome
}

// Fetcher performs one HTTP attempt. *fetchhttp.Client satisfies it.
type Fetcher interface {
	Post(ctx context.Context, r fetchhttp.Request) (*fetchhttp.Response, error)
}

// Writer persists a report body. *storage.Sink satisfies it.
type Writer interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// EventKind names a journal event.
type EventKind string

const (
	EventRunStart      EventKind = "run_start"
	EventAttemptFailed EventKind = "attempt_failed"
	EventSaved         EventKind = "saved"
	EventExhausted     EventKind = "exhausted"
	EventRunEnd        EventKind = "run_end"
)

// Event is one entry of the run history.
type Event struct {
	RunID      string
	Key        string // date key, empty for run-level events
	Kind       EventKind
	Time       time.Time
	Attempt    int
	StatusCode int
	Message    string
	Path       string
	Bytes      int64
	Duration   time.Duration
}

// Recorder receives run history events. It must be safe for concurrent use.
type Recorder interface {
	Record(ctx context.Context, e Event) error
}
