// Package downloader fetches a batch of daily reports in parallel.
//
// It is built from three layers:
//   - Task resolves one date: POST, check for 200, store the body, and retry
//     the whole attempt on any failure up to the request's MaxAttempts.
//   - Pool runs Tasks with bounded parallelism and waits for all of them.
//   - Batch expands a date range into requests, runs them through a Pool
//     and aggregates a Summary.
//
// # Usage
//
//	task := downloader.NewTask(client, sink, downloader.TaskOptions{Logger: logger})
//	pool := downloader.NewPool(task, 5, logger)
//	batch := downloader.NewBatch(pool, downloader.BatchOptions{
//	    URL:         cfg.BaseURL,
//	    Headers:     cfg.Headers,
//	    Cookies:     cfg.Cookies,
//	    MaxAttempts: 3,
//	})
//	summary, err := batch.RunRange(ctx, start, end)
//
// # Failure Isolation
//
// Every error of an attempt (transport, non-200 status, failed write) is
// handled inside the Task. Only the Outcome crosses the task boundary, and
// the Pool converts a panicking Task into a failed Outcome, so one date can
// never stop the others. Cancelling ctx makes pending attempts fail fast
// but still yields one Outcome per date.
package downloader
