package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"
	"gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"

	// Bucket URL schemes accepted for the output location.
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/memblob"
	_ "gocloud.dev/blob/s3blob"
)

// ErrPersist matches every failure to store a report.
var ErrPersist = errors.New("storage: persist failed")

// PersistError records a failed write of one object.
type PersistError struct {
	Key  string
	Code gcerrors.ErrorCode
	Err  error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("%s: %s (%s): %v", ErrPersist.Error(), e.Key, e.Code, e.Err)
}

func (e *PersistError) Unwrap() []error { return []error{ErrPersist, e.Err} }

// ReportName returns the object name for one day's report.
func ReportName(dateKey string) string {
	return "system_data_" + dateKey + ".csv"
}

// Sink stores report bodies in a bucket. Local directories are opened with
// fileblob; anything with a URL scheme goes through blob.OpenBucket.
// A Sink is safe for concurrent use as long as callers write distinct keys.
type Sink struct {
	bucket   *blob.Bucket
	location string
	local    string
}

// Open opens the output location. A plain path is created when missing.
func Open(ctx context.Context, location string) (*Sink, error) {
	if location == "" {
		return nil, errors.New("storage: empty output location")
	}

	if !hasScheme(location) {
		dir, err := filepath.Abs(location)
		if err != nil {
			return nil, fmt.Errorf("resolve output dir %s: %w", location, err)
		}
		bkt, err := fileblob.OpenBucket(dir, &fileblob.Options{
			CreateDir: true,
			NoTempDir: true,
			Metadata:  fileblob.MetadataDontWrite,
		})
		if err != nil {
			return nil, fmt.Errorf("open output dir %s: %w", dir, err)
		}
		return &Sink{bucket: bkt, location: location, local: dir}, nil
	}

	bkt, err := blob.OpenBucket(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", location, err)
	}
	return &Sink{bucket: bkt, location: location}, nil
}

// NewSink wraps an already opened bucket. The caller keeps ownership of it
// unless Close is called on the Sink.
func NewSink(bucket *blob.Bucket, location string) *Sink {
	return &Sink{bucket: bucket, location: location}
}

// Write stores data under key, replacing any previous object.
// It returns a human-readable path of the stored object.
func (s *Sink) Write(ctx context.Context, key string, data []byte) (string, error) {
	err := s.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{
		ContentType: "text/csv",
	})
	if err != nil {
		return "", &PersistError{Key: key, Code: gcerrors.Code(err), Err: err}
	}
	return s.Path(key), nil
}

// ReadAll returns the stored object.
func (s *Sink) ReadAll(ctx context.Context, key string) ([]byte, error) {
	return s.bucket.ReadAll(ctx, key)
}

// Exists reports whether key is present.
func (s *Sink) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// Path renders where key lives, as a file path for local directories.
func (s *Sink) Path(key string) string {
	if s.local != "" {
		return filepath.Join(s.local, key)
	}
	loc, _, _ := strings.Cut(s.location, "?")
	return strings.TrimSuffix(loc, "/") + "/" + key
}

// Location returns the location the sink was opened with.
func (s *Sink) Location() string {
	return s.location
}

// Close closes the underlying bucket.
func (s *Sink) Close() error {
	return s.bucket.Close()
}

// hasScheme reports whether location looks like a bucket URL.
// Windows drive letters ("C:\data") are treated as paths.
func hasScheme(location string) bool {
	u, err := url.Parse(location)
	if err != nil {
		return false
	}
	return len(u.Scheme) > 1 && strings.Contains(location, "://")
}
