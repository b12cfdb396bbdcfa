// Package journal keeps a DuckDB history of download runs. Every attempt,
// saved report and exhausted date is appended as one row, which lets the
// history command answer questions like "when did 2024-01-02 last fail".
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb" // Driver

	"github.com/kyleparry1/givenergy-data-downloader/internal/downloader"
)

// ErrJournal wraps every failure to open, write or query the journal.
var ErrJournal = errors.New("journal")

const schemaSequenceSQL = `CREATE SEQUENCE IF NOT EXISTS fetch_event_log_id_seq;`
const schemaTableSQL = `
CREATE TABLE IF NOT EXISTS fetch_event_log (
    log_id          BIGINT PRIMARY KEY DEFAULT nextval('fetch_event_log_id_seq'),
    run_id          VARCHAR NOT NULL,
    date_key        VARCHAR,               -- YYYY-MM-DD, NULL for run events
    event           VARCHAR NOT NULL,
    event_timestamp TIMESTAMP NOT NULL,
    attempt         INTEGER,
    status_code     INTEGER,
    message         VARCHAR,
    output_path     VARCHAR,
    bytes           BIGINT,
    duration_ms     BIGINT
);
CREATE INDEX IF NOT EXISTS idx_fetch_event_log_date ON fetch_event_log (date_key);
CREATE INDEX IF NOT EXISTS idx_fetch_event_log_event_time ON fetch_event_log (event, event_timestamp);
`

// Journal is an append-only event log backed by a DuckDB file.
// It implements downloader.Recorder.
type Journal struct {
	db   *sql.DB
	path string

	// DuckDB allows a single writer; inserts from pool workers are serialized.
	mu sync.Mutex
}

var _ downloader.Recorder = (*Journal)(nil)

// Open opens or creates the journal at path and makes sure the schema
// exists.
func Open(ctx context.Context, path string) (*Journal, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrJournal)
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: create directory for %s: %w", ErrJournal, path, err)
		}
	}

	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrJournal, path, err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping %s: %w", ErrJournal, path, err)
	}

	if err := InitializeSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Journal{db: db, path: path}, nil
}

// InitializeSchema creates the sequence before the table that uses it.
func InitializeSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaSequenceSQL); err != nil && !alreadyExists(err) {
		return fmt.Errorf("%w: create sequence: %w", ErrJournal, err)
	}
	if _, err := db.ExecContext(ctx, schemaTableSQL); err != nil && !alreadyExists(err) {
		return fmt.Errorf("%w: create table: %w", ErrJournal, err)
	}
	return nil
}

func alreadyExists(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "already exists")
}

// Path returns the database file the journal writes to.
func (j *Journal) Path() string { return j.path }

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Record appends e to the log.
func (j *Journal) Record(ctx context.Context, e downloader.Event) error {
	const query = `
        INSERT INTO fetch_event_log (run_id, date_key, event, event_timestamp, attempt, status_code, message, output_path, bytes, duration_ms)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
    `
	ts := e.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	_, err := j.db.ExecContext(ctx, query,
		e.RunID,
		nullString(e.Key),
		string(e.Kind),
		ts.UTC(),
		nullInt(int64(e.Attempt)),
		nullInt(int64(e.StatusCode)),
		nullString(e.Message),
		nullString(e.Path),
		nullInt(e.Bytes),
		sql.NullInt64{Int64: e.Duration.Milliseconds(), Valid: e.Duration > 0},
	)
	if err != nil {
		return fmt.Errorf("%w: record %s for %q: %w", ErrJournal, e.Kind, e.Key, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(n int64) sql.NullInt64 {
	return sql.NullInt64{Int64: n, Valid: n != 0}
}

// Filter narrows a History query. Zero values match everything.
type Filter struct {
	Date  string
	Event string
	RunID string
	Limit int // default 50
}

// History returns matching events, newest first.
func (j *Journal) History(ctx context.Context, f Filter) ([]downloader.Event, error) {
	query := `
        SELECT run_id, date_key, event, event_timestamp, attempt, status_code, message, output_path, bytes, duration_ms
        FROM fetch_event_log
    `
	var (
		conditions []string
		args       []any
	)
	if f.Date != "" {
		conditions = append(conditions, "date_key = ?")
		args = append(args, f.Date)
	}
	if f.Event != "" {
		conditions = append(conditions, "event = ?")
		args = append(args, f.Event)
	}
	if f.RunID != "" {
		conditions = append(conditions, "run_id = ?")
		args = append(args, f.RunID)
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY event_timestamp DESC, log_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query event log: %w", ErrJournal, err)
	}
	defer rows.Close()

	var events []downloader.Event
	for rows.Next() {
		var (
			e                            downloader.Event
			event                        string
			dateKey, message, outputPath sql.NullString
			attempt, statusCode          sql.NullInt32
			size, durationMs             sql.NullInt64
		)
		if err := rows.Scan(&e.RunID, &dateKey, &event, &e.Time, &attempt, &statusCode, &message, &outputPath, &size, &durationMs); err != nil {
			return nil, fmt.Errorf("%w: scan event log row: %w", ErrJournal, err)
		}
		e.Key = dateKey.String
		e.Kind = downloader.EventKind(event)
		e.Attempt = int(attempt.Int32)
		e.StatusCode = int(statusCode.Int32)
		e.Message = message.String
		e.Path = outputPath.String
		e.Bytes = size.Int64
		e.Duration = time.Duration(durationMs.Int64) * time.Millisecond
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate event log rows: %w", ErrJournal, err)
	}
	return events, nil
}

// LastOutcome reports the most recent saved or exhausted event for date.
// found is false when the date has never finished a download.
func (j *Journal) LastOutcome(ctx context.Context, date string) (kind downloader.EventKind, at time.Time, found bool, err error) {
	const query = `
        SELECT event, event_timestamp
        FROM fetch_event_log
        WHERE date_key = ? AND event IN (?, ?)
        ORDER BY event_timestamp DESC, log_id DESC
        LIMIT 1;
    `
	var event string
	row := j.db.QueryRowContext(ctx, query, date, string(downloader.EventSaved), string(downloader.EventExhausted))
	if err := row.Scan(&event, &at); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", time.Time{}, false, nil
		}
		return "", time.Time{}, false, fmt.Errorf("%w: query last outcome for %s: %w", ErrJournal, date, err)
	}
	return downloader.EventKind(event), at, true, nil
}

// Display writes events as a fixed-width table.
func Display(w io.Writer, events []downloader.Event) {
	fmt.Fprintf(w, "%-10s | %-10s | %-14s | %-20s | %-7s | %-6s | %-10s | %s\n",
		"Run", "Date", "Event", "Timestamp (UTC)", "Attempt", "Status", "DurationMS", "Details")
	fmt.Fprintln(w, strings.Repeat("-", 110))

	for _, e := range events {
		attempt, status, duration := "", "", ""
		if e.Attempt > 0 {
			attempt = fmt.Sprintf("%d", e.Attempt)
		}
		if e.StatusCode > 0 {
			status = fmt.Sprintf("%d", e.StatusCode)
		}
		if e.Duration > 0 {
			duration = fmt.Sprintf("%d", e.Duration.Milliseconds())
		}

		details := e.Message
		if e.Path != "" {
			if details != "" {
				details += " "
			}
			details += fmt.Sprintf("(Output: %s)", filepath.Base(e.Path))
		}

		fmt.Fprintf(w, "%-10s | %-10s | %-14s | %-20s | %-7s | %-6s | %-10s | %s\n",
			shortID(e.RunID), e.Key, e.Kind, e.Time.UTC().Format(time.DateTime), attempt, status, duration, details)
	}
	fmt.Fprintf(w, "Displayed %d records.\n", len(events))
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
