// Package http provides the HTTP client used to fetch daily reports.
//
// This package handles:
//   - Connection pooling shared by all download workers
//   - One POST per call with query, headers and cookies attached
//   - Classification of failures into status and transport errors
//   - Optional client-wide rate limiting
//
// Retrying is deliberately left to the caller so that every attempt, including
// the write of the response, goes through the same retry path.
//
// # Usage
//
//	client := http.NewClient(http.Options{
//	    Timeout:   30 * time.Second,
//	    RateLimit: 2, // requests per second, 0 = unlimited
//	})
//
//	resp, err := client.Post(ctx, http.Request{
//	    URL:     baseURL,
//	    Query:   url.Values{"date": {"2024-01-01"}},
//	    Headers: headers,
//	    Cookies: cookies,
//	})
//	var statusErr *http.StatusError
//	if errors.As(err, &statusErr) {
//	    // statusErr.Code
//	}
package http
