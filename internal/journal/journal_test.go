package journal

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kyleparry1/givenergy-data-downloader/internal/downloader"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(context.Background(), filepath.Join(t.TempDir(), "state", "fetch.duckdb"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndHistory(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []downloader.Event{
		{RunID: "run-1", Kind: downloader.EventRunStart, Time: base, Message: "2 dates"},
		{RunID: "run-1", Key: "2024-01-01", Kind: downloader.EventSaved, Time: base.Add(time.Second), Attempt: 1, Path: "/data/system_data_2024-01-01.csv", Bytes: 120, Duration: 250 * time.Millisecond},
		{RunID: "run-1", Key: "2024-01-02", Kind: downloader.EventAttemptFailed, Time: base.Add(2 * time.Second), Attempt: 1, StatusCode: 500, Message: "unexpected status"},
		{RunID: "run-1", Key: "2024-01-02", Kind: downloader.EventExhausted, Time: base.Add(3 * time.Second), Attempt: 3, StatusCode: 500},
		{RunID: "run-1", Kind: downloader.EventRunEnd, Time: base.Add(4 * time.Second), Message: "1/2 succeeded"},
	}
	for _, e := range events {
		if err := j.Record(ctx, e); err != nil {
			t.Fatalf("Record %s: %v", e.Kind, err)
		}
	}

	got, err := j.History(ctx, Filter{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != len(events) {
		t.Fatalf("expected %d events, got %d", len(events), len(got))
	}
	if got[0].Kind != downloader.EventRunEnd {
		t.Errorf("expected newest event first, got %s", got[0].Kind)
	}

	saved := got[len(got)-2]
	if saved.Kind != downloader.EventSaved {
		t.Fatalf("expected saved event, got %s", saved.Kind)
	}
	if saved.Key != "2024-01-01" || saved.Attempt != 1 || saved.Bytes != 120 {
		t.Errorf("saved event round trip mismatch: %+v", saved)
	}
	if saved.Path != "/data/system_data_2024-01-01.csv" {
		t.Errorf("unexpected path %q", saved.Path)
	}
	if saved.Duration != 250*time.Millisecond {
		t.Errorf("expected 250ms, got %v", saved.Duration)
	}
	if !saved.Time.Equal(base.Add(time.Second)) {
		t.Errorf("expected time %v, got %v", base.Add(time.Second), saved.Time)
	}
}

func TestHistoryFilters(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		for _, date := range []string{"2024-01-01", "2024-01-02"} {
			e := downloader.Event{
				RunID:   fmt.Sprintf("run-%d", i),
				Key:     date,
				Kind:    downloader.EventAttemptFailed,
				Time:    base.Add(time.Duration(i) * time.Minute),
				Attempt: 1,
			}
			if err := j.Record(ctx, e); err != nil {
				t.Fatalf("Record: %v", err)
			}
		}
	}
	if err := j.Record(ctx, downloader.Event{RunID: "run-2", Key: "2024-01-01", Kind: downloader.EventSaved, Time: base.Add(time.Hour)}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	tests := []struct {
		name   string
		filter Filter
		want   int
	}{
		{name: "all", filter: Filter{}, want: 7},
		{name: "by date", filter: Filter{Date: "2024-01-02"}, want: 3},
		{name: "by event", filter: Filter{Event: "saved"}, want: 1},
		{name: "by run", filter: Filter{RunID: "run-2"}, want: 3},
		{name: "date and event", filter: Filter{Date: "2024-01-01", Event: "attempt_failed"}, want: 3},
		{name: "limit", filter: Filter{Limit: 2}, want: 2},
		{name: "no match", filter: Filter{Date: "1999-01-01"}, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := j.History(ctx, tt.filter)
			if err != nil {
				t.Fatalf("History: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("expected %d events, got %d", tt.want, len(got))
			}
		})
	}
}

func TestLastOutcome(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)

	if _, _, found, err := j.LastOutcome(ctx, "2024-01-01"); err != nil || found {
		t.Fatalf("expected no outcome, got found=%v err=%v", found, err)
	}

	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	for i, kind := range []downloader.EventKind{downloader.EventExhausted, downloader.EventAttemptFailed, downloader.EventSaved, downloader.EventAttemptFailed} {
		if err := j.Record(ctx, downloader.Event{RunID: "r", Key: "2024-01-01", Kind: kind, Time: base.Add(time.Duration(i) * time.Minute)}); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	kind, at, found, err := j.LastOutcome(ctx, "2024-01-01")
	if err != nil {
		t.Fatalf("LastOutcome: %v", err)
	}
	if !found || kind != downloader.EventSaved {
		t.Errorf("expected saved, got %s (found=%v)", kind, found)
	}
	if !at.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("unexpected time %v", at)
	}
}

func TestRecordConcurrent(t *testing.T) {
	ctx := context.Background()
	j := openJournal(t)

	var wg sync.WaitGroup
	for w := 0; w < 5; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				e := downloader.Event{RunID: "run", Key: fmt.Sprintf("2024-01-%02d", i+1), Kind: downloader.EventAttemptFailed, Attempt: w + 1}
				if err := j.Record(ctx, e); err != nil {
					t.Errorf("Record: %v", err)
				}
			}
		}(w)
	}
	wg.Wait()

	got, err := j.History(ctx, Filter{Limit: 1000})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 50 {
		t.Errorf("expected 50 events, got %d", len(got))
	}
}

func TestReopenKeepsHistory(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "fetch.duckdb")

	j, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := j.Record(ctx, downloader.Event{RunID: "r1", Kind: downloader.EventRunStart}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	j.Close()

	j, err = Open(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer j.Close()
	if err := j.Record(ctx, downloader.Event{RunID: "r2", Kind: downloader.EventRunStart}); err != nil {
		t.Fatalf("Record: %v", err)
	}

	got, err := j.History(ctx, Filter{})
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 events across runs, got %d", len(got))
	}
}

func TestOpenEmptyPath(t *testing.T) {
	if _, err := Open(context.Background(), ""); !errors.Is(err, ErrJournal) {
		t.Errorf("expected ErrJournal, got %v", err)
	}
}

func TestDisplay(t *testing.T) {
	var buf bytes.Buffer
	Display(&buf, []downloader.Event{
		{RunID: "0f6a1c2e-9b7d-4d7e-8a55-3c1f2b0e9d11", Key: "2024-01-01", Kind: downloader.EventSaved, Time: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), Attempt: 2, Path: "/data/system_data_2024-01-01.csv", Duration: 1500 * time.Millisecond},
		{RunID: "0f6a1c2e-9b7d-4d7e-8a55-3c1f2b0e9d11", Key: "2024-01-02", Kind: downloader.EventExhausted, Time: time.Date(2024, 3, 1, 12, 0, 1, 0, time.UTC), Attempt: 3, StatusCode: 500, Message: "gave up"},
	})

	out := buf.String()
	for _, want := range []string{
		"0f6a1c2e ",
		"2024-01-01",
		"saved",
		"2024-03-01 12:00:00",
		"1500",
		"(Output: system_data_2024-01-01.csv)",
		"exhausted",
		"500",
		"gave up",
		"Displayed 2 records.",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}
