package downloader

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/kyleparry1/givenergy-data-downloader/internal/daterange"
	fetchhttp "github.com/kyleparry1/givenergy-data-downloader/internal/http"
	"github.com/kyleparry1/givenergy-data-downloader/internal/storage"
)

// reportServer serves a CSV per date and answers failDate with a 500.
func reportServer(t *testing.T, failDate string) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		date := r.URL.Query().Get("date")
		if date == failDate {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Write(reportBody(date))
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func reportBody(date string) []byte {
	return []byte("Date,Time,Solar\n" + date + ",00:00,0\n" + date + ",00:05,0.1\n")
}

func newTestBatch(t *testing.T, url, dir string, opts BatchOptions) *Batch {
	t.Helper()
	sink, err := storage.Open(context.Background(), dir)
	if err != nil {
		t.Fatalf("open sink: %v", err)
	}
	t.Cleanup(func() { sink.Close() })

	task := NewTask(fetchhttp.NewClient(fetchhttp.DefaultOptions()), sink, TaskOptions{
		Recorder: opts.Recorder,
		RunID:    opts.RunID,
		Logger:   opts.Logger,
	})
	opts.URL = url
	opts.Headers = map[string]string{"Authorization": "Bearer token"}
	opts.Cookies = map[string]string{"session": "abc"}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	return NewBatch(NewPool(task, 5, opts.Logger), opts)
}

func TestRunRangeEndToEnd(t *testing.T) {
	server, calls := reportServer(t, "2024-01-02")
	dir := t.TempDir()

	var (
		mu       sync.Mutex
		reported []string
	)
	var logs logBuffer
	batch := newTestBatch(t, server.URL, dir, BatchOptions{
		RunID:  "run-e2e",
		Logger: newTestLogger(&logs),
		OnFailure: func(o Outcome) {
			mu.Lock()
			defer mu.Unlock()
			reported = append(reported, o.Key.String())
		},
	})

	summary, err := batch.RunRange(context.Background(),
		daterange.MustParse("2024-01-01"), daterange.MustParse("2024-01-03"))
	if err != nil {
		t.Fatalf("RunRange: %v", err)
	}

	if summary.Total != 3 {
		t.Errorf("expected 3 dates, got %d", summary.Total)
	}
	if summary.Succeeded != 2 {
		t.Errorf("expected 2 successes, got %d", summary.Succeeded)
	}
	if got := summary.FailedStrings(); !slices.Equal(got, []string{"2024-01-02"}) {
		t.Errorf("expected failed [2024-01-02], got %v", got)
	}
	if !slices.Equal(reported, []string{"2024-01-02"}) {
		t.Errorf("expected one failure notice for 2024-01-02, got %v", reported)
	}
	if summary.RunID != "run-e2e" {
		t.Errorf("expected run id run-e2e, got %q", summary.RunID)
	}

	// 1 request each for the good dates, 3 for the failing one.
	if n := calls.Load(); n != 5 {
		t.Errorf("expected 5 requests, got %d", n)
	}

	for _, date := range []string{"2024-01-01", "2024-01-03"} {
		got, err := os.ReadFile(filepath.Join(dir, "system_data_"+date+".csv"))
		if err != nil {
			t.Fatalf("read %s: %v", date, err)
		}
		if !bytes.Equal(got, reportBody(date)) {
			t.Errorf("%s: unexpected content %q", date, got)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "system_data_2024-01-02.csv")); !os.IsNotExist(err) {
		t.Errorf("expected no report for the failed date, stat err = %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("expected 2 files in data dir, got %d", len(entries))
	}

	if n := logs.count(`"msg":"Attempt failed."`); n != 3 {
		t.Errorf("expected 3 failed attempts logged, got %d", n)
	}
	if n := logs.count(`"msg":"All downloads completed."`); n != 1 {
		t.Errorf("expected completion log, got %d", n)
	}

	var wantBytes int64
	for _, date := range []string{"2024-01-01", "2024-01-03"} {
		wantBytes += int64(len(reportBody(date)))
	}
	if summary.Bytes != wantBytes {
		t.Errorf("expected %d bytes, got %d", wantBytes, summary.Bytes)
	}
}

func TestRunRangeIdempotent(t *testing.T) {
	server, _ := reportServer(t, "2024-01-02")
	dir := t.TempDir()
	start, end := daterange.MustParse("2024-01-01"), daterange.MustParse("2024-01-03")

	run := func() (Summary, map[string][]byte) {
		batch := newTestBatch(t, server.URL, dir, BatchOptions{})
		summary, err := batch.RunRange(context.Background(), start, end)
		if err != nil {
			t.Fatalf("RunRange: %v", err)
		}
		files := make(map[string][]byte)
		entries, err := os.ReadDir(dir)
		if err != nil {
			t.Fatalf("read dir: %v", err)
		}
		for _, e := range entries {
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				t.Fatalf("read %s: %v", e.Name(), err)
			}
			files[e.Name()] = data
		}
		return summary, files
	}

	first, firstFiles := run()
	second, secondFiles := run()

	if !slices.Equal(first.FailedStrings(), second.FailedStrings()) {
		t.Errorf("failed dates differ: %v vs %v", first.FailedStrings(), second.FailedStrings())
	}
	if len(firstFiles) != len(secondFiles) {
		t.Fatalf("file count differs: %d vs %d", len(firstFiles), len(secondFiles))
	}
	for name, data := range firstFiles {
		if !bytes.Equal(data, secondFiles[name]) {
			t.Errorf("%s changed between runs", name)
		}
	}
}

func TestRunRangeInvalid(t *testing.T) {
	server, calls := reportServer(t, "")
	batch := newTestBatch(t, server.URL, t.TempDir(), BatchOptions{})

	_, err := batch.RunRange(context.Background(),
		daterange.MustParse("2024-01-05"), daterange.MustParse("2024-01-01"))
	if !errors.Is(err, daterange.ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}
	if calls.Load() != 0 {
		t.Errorf("expected no requests for an invalid range, got %d", calls.Load())
	}
}

func TestRunSingleDate(t *testing.T) {
	server, calls := reportServer(t, "")
	dir := t.TempDir()
	batch := newTestBatch(t, server.URL, dir, BatchOptions{})

	summary := batch.Run(context.Background(), daterange.Single(daterange.MustParse("2024-02-29")))
	if summary.Total != 1 || summary.Succeeded != 1 {
		t.Errorf("expected one success, got %+v", summary)
	}
	if calls.Load() != 1 {
		t.Errorf("expected 1 request, got %d", calls.Load())
	}
	if _, err := os.Stat(filepath.Join(dir, "system_data_2024-02-29.csv")); err != nil {
		t.Errorf("expected report: %v", err)
	}
}

func TestRunRecordsRunEvents(t *testing.T) {
	server, _ := reportServer(t, "2024-01-02")
	rec := &memRecorder{}
	batch := newTestBatch(t, server.URL, t.TempDir(), BatchOptions{RunID: "run-7", Recorder: rec})

	if _, err := batch.RunRange(context.Background(),
		daterange.MustParse("2024-01-01"), daterange.MustParse("2024-01-02")); err != nil {
		t.Fatalf("RunRange: %v", err)
	}

	events := rec.all()
	if len(events) == 0 {
		t.Fatal("expected events")
	}
	if events[0].Kind != EventRunStart {
		t.Errorf("expected first event %s, got %s", EventRunStart, events[0].Kind)
	}
	if last := events[len(events)-1]; last.Kind != EventRunEnd {
		t.Errorf("expected last event %s, got %s", EventRunEnd, last.Kind)
	}

	counts := make(map[EventKind]int)
	for _, e := range events {
		counts[e.Kind]++
		if e.RunID != "run-7" {
			t.Errorf("event %s: expected run id run-7, got %q", e.Kind, e.RunID)
		}
	}
	if counts[EventSaved] != 1 {
		t.Errorf("expected 1 saved event, got %d", counts[EventSaved])
	}
	if counts[EventAttemptFailed] != 3 {
		t.Errorf("expected 3 attempt_failed events, got %d", counts[EventAttemptFailed])
	}
	if counts[EventExhausted] != 1 {
		t.Errorf("expected 1 exhausted event, got %d", counts[EventExhausted])
	}
}

func TestSummarizeOrdersByDate(t *testing.T) {
	d := daterange.MustParse
	outcomes := []Outcome{
		{Key: d("2024-01-03"), Success: true, Bytes: 10},
		{Key: d("2024-01-05"), Err: errors.New("x")},
		{Key: d("2024-01-01"), Success: true, Bytes: 5},
		{Key: d("2024-01-02"), Err: errors.New("y")},
	}

	s := Summarize(outcomes)
	if s.Total != 4 || s.Succeeded != 2 {
		t.Errorf("unexpected counts: %+v", s)
	}
	if s.Bytes != 15 {
		t.Errorf("expected 15 bytes, got %d", s.Bytes)
	}
	if got := s.FailedStrings(); !slices.Equal(got, []string{"2024-01-02", "2024-01-05"}) {
		t.Errorf("expected sorted failures, got %v", got)
	}
	for i := 1; i < len(s.Outcomes); i++ {
		if s.Outcomes[i-1].Key.Compare(s.Outcomes[i].Key) > 0 {
			t.Errorf("outcomes not in date order at %d", i)
		}
	}

	// Input order must not matter.
	slices.Reverse(outcomes)
	if got := Summarize(outcomes).FailedStrings(); !slices.Equal(got, s.FailedStrings()) {
		t.Errorf("summary depends on input order: %v", got)
	}
}

func TestSummarizeEmpty(t *testing.T) {
	s := Summarize(nil)
	if s.Total != 0 || s.Succeeded != 0 || len(s.Failed) != 0 {
		t.Errorf("expected empty summary, got %+v", s)
	}
}
