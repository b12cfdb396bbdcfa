// Package progress provides progress reporting for a batch of daily downloads.
//
// The Reporter writes periodic human-readable status lines; the Console
// prints per-date failure notices and the end-of-run summary. Both write to
// the terminal, never to the log file.
//
// # Usage
//
//	reporter := progress.NewReporter(progress.Options{
//	    TotalTasks: len(dates),
//	    Workers:    5,
//	    Output:     os.Stdout,
//	})
//
//	reporter.Start()
//	defer reporter.Stop()
//
//	// Update as dates finish
//	reporter.TaskCompleted(size)
//
// # Output Format
//
//	[fetchdata] Fetching: https://example.com/export
//	[fetchdata] Dates: 31 (2024-01-01..2024-01-31) | Workers: 5
//	[fetchdata] Progress: 45.2% | 14/31 dates | 1.2 MiB | Speed: 80 KiB/s | ETA: 12s
//	[fetchdata] Dates: 13 saved | 1 failed | 5 in-progress | 12 pending | 4 retries
package progress
