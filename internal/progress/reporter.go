package progress

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Options configures the progress reporter.
type Options struct {
	// TotalTasks is the number of dates in the batch.
	TotalTasks int

	// Workers is the number of parallel workers.
	Workers int

	// Output is where to write progress output.
	// Default: os.Stdout
	Output io.Writer

	// UpdateInterval is how often to update the progress display.
	// Default: 500ms
	UpdateInterval time.Duration

	// SourceURL is the endpoint being fetched (for display).
	SourceURL string

	// DateRange is a display label such as "2024-01-01..2024-01-31".
	DateRange string
}

// Reporter outputs human-readable progress information.
type Reporter struct {
	opts Options

	mu             sync.Mutex
	completedBytes atomic.Int64
	completedTasks atomic.Int32
	failedTasks    atomic.Int32
	failedAttempts atomic.Int32
	inProgress     atomic.Int32
	startTime      time.Time
	lastUpdate     time.Time
	lastBytes      int64
	stopCh         chan struct{}
	doneCh         chan struct{}
	started        bool
	stopped        bool
}

// NewReporter creates a new progress reporter.
func NewReporter(opts Options) *Reporter {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.UpdateInterval == 0 {
		opts.UpdateInterval = 500 * time.Millisecond
	}

	return &Reporter{
		opts:   opts,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins outputting progress information.
func (r *Reporter) Start() {
	r.mu.Lock()
	r.started = true
	r.startTime = time.Now()
	r.lastUpdate = r.startTime
	r.mu.Unlock()

	fmt.Fprintf(r.opts.Output, "[fetchdata] Fetching: %s\n", r.opts.SourceURL)
	fmt.Fprintf(r.opts.Output, "[fetchdata] Dates: %d (%s) | Workers: %d\n",
		r.opts.TotalTasks,
		r.opts.DateRange,
		r.opts.Workers,
	)

	go r.updateLoop()
}

// Stop stops the reporter and prints the final status. It blocks until the
// final line has been written.
func (r *Reporter) Stop() {
	r.mu.Lock()
	if r.stopped || !r.started {
		r.stopped = true
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()

	close(r.stopCh)
	<-r.doneCh
}

// TaskStarted marks a date as in progress.
func (r *Reporter) TaskStarted() {
	r.inProgress.Add(1)
}

// AttemptFailed counts a failed attempt; the date stays in progress.
func (r *Reporter) AttemptFailed() {
	r.failedAttempts.Add(1)
}

// TaskCompleted marks a date as stored with size bytes.
func (r *Reporter) TaskCompleted(size int64) {
	r.completedBytes.Add(size)
	r.completedTasks.Add(1)
	r.inProgress.Add(-1)
}

// TaskFailed marks a date as given up (removes from in-progress).
func (r *Reporter) TaskFailed() {
	r.failedTasks.Add(1)
	r.inProgress.Add(-1)
}

// updateLoop periodically updates the progress display.
func (r *Reporter) updateLoop() {
	defer close(r.doneCh)

	ticker := time.NewTicker(r.opts.UpdateInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			r.printFinalStatus()
			return
		case <-ticker.C:
			r.printProgress()
		}
	}
}

// printProgress outputs the current progress.
func (r *Reporter) printProgress() {
	now := time.Now()
	completed := r.completedBytes.Load()
	done := int(r.completedTasks.Load())
	failed := int(r.failedTasks.Load())
	inProgress := int(r.inProgress.Load())

	elapsed := now.Sub(r.lastUpdate).Seconds()
	if elapsed < 0.1 {
		elapsed = 0.1
	}
	speed := float64(completed-r.lastBytes) / elapsed

	r.lastUpdate = now
	r.lastBytes = completed

	var percent float64
	eta := "calculating..."
	if r.opts.TotalTasks > 0 {
		finished := done + failed
		percent = float64(finished) / float64(r.opts.TotalTasks) * 100
		if finished > 0 {
			perTask := now.Sub(r.startTime) / time.Duration(finished)
			eta = formatDuration(perTask * time.Duration(r.opts.TotalTasks-finished))
		}
	}

	pending := r.opts.TotalTasks - done - failed - inProgress
	if pending < 0 {
		pending = 0
	}

	fmt.Fprintf(r.opts.Output, "[fetchdata] Progress: %.1f%% | %d/%d dates | %s | Speed: %s/s | ETA: %s\n",
		percent,
		done+failed,
		r.opts.TotalTasks,
		formatBytes(completed),
		formatBytes(int64(speed)),
		eta,
	)
	fmt.Fprintf(r.opts.Output, "[fetchdata] Dates: %d saved | %d failed | %d in-progress | %d pending | %d retries\n",
		done,
		failed,
		inProgress,
		pending,
		r.failedAttempts.Load(),
	)
}

// printFinalStatus outputs the final status.
func (r *Reporter) printFinalStatus() {
	completed := r.completedBytes.Load()
	duration := time.Since(r.startTime)
	avgSpeed := float64(completed) / max(duration.Seconds(), 0.001)

	fmt.Fprintf(r.opts.Output, "[fetchdata] Dates: %d saved | %d failed | %d retries\n",
		r.completedTasks.Load(),
		r.failedTasks.Load(),
		r.failedAttempts.Load(),
	)
	fmt.Fprintf(r.opts.Output, "[fetchdata] Total time: %s | %s | Average speed: %s/s\n",
		formatDuration(duration),
		formatBytes(completed),
		formatBytes(int64(avgSpeed)),
	)
}

// formatBytes formats bytes as a human-readable IEC string.
func formatBytes(b int64) string {
	units := []string{"KiB", "MiB", "GiB", "TiB"}
	if b < 1024 {
		return fmt.Sprintf("%d B", b)
	}

	v := float64(b)
	unit := ""
	for _, u := range units {
		v /= 1024
		unit = u
		if v < 1024 {
			break
		}
	}
	if v < 10 {
		return fmt.Sprintf("%.1f %s", v, unit)
	}
	return fmt.Sprintf("%.0f %s", v, unit)
}

// formatDuration formats a duration as a human-readable string.
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %dm %ds", h, m, s)
}

// FormatBytes is exported for use by other packages.
func FormatBytes(b int64) string {
	return formatBytes(b)
}

// FormatDuration is exported for use by other packages.
func FormatDuration(d time.Duration) string {
	return formatDuration(d)
}

// ParseBytes parses a human-readable byte string. IEC suffixes (KiB, MiB,
// GiB, TiB) are powers of 1024, SI suffixes (KB, MB, GB, TB) powers of 1000.
func ParseBytes(s string) (int64, error) {
	s = strings.TrimSpace(s)

	suffixes := []struct {
		suffix     string
		multiplier float64
	}{
		{"TiB", 1 << 40},
		{"GiB", 1 << 30},
		{"MiB", 1 << 20},
		{"KiB", 1 << 10},
		{"TB", 1e12},
		{"GB", 1e9},
		{"MB", 1e6},
		{"KB", 1e3},
		{"B", 1},
	}

	multiplier := 1.0
	for _, sf := range suffixes {
		if strings.HasSuffix(s, sf.suffix) {
			multiplier = sf.multiplier
			s = strings.TrimSpace(strings.TrimSuffix(s, sf.suffix))
			break
		}
	}

	value, err := strconv.ParseFloat(s, 64)
	if err != nil || value < 0 {
		return 0, fmt.Errorf("invalid byte string: %s", s)
	}

	return int64(value * multiplier), nil
}
