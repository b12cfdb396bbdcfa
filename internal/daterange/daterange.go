package daterange

import (
	"errors"
	"fmt"
	"iter"
	"time"
)

// Layout is the wire and file name format of a DateKey.
const Layout = "2006-01-02"

// Common errors.
var (
	ErrInvalidDate  = errors.New("daterange: invalid date")
	ErrInvalidRange = errors.New("daterange: end date precedes start date")
)

// InvalidRangeError is returned by Range when end is before start.
type InvalidRangeError struct {
	Start DateKey
	End   DateKey
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("%s (start=%s, end=%s)", ErrInvalidRange.Error(), e.Start, e.End)
}

func (e *InvalidRangeError) Unwrap() error { return ErrInvalidRange }

// DateKey identifies one day's report. The zero value is not a valid key.
type DateKey struct {
	t time.Time
}

// NewDateKey returns the key for the given calendar date.
func NewDateKey(year int, month time.Month, day int) DateKey {
	return DateKey{t: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// Parse parses a YYYY-MM-DD string.
func Parse(s string) (DateKey, error) {
	t, err := time.ParseInLocation(Layout, s, time.UTC)
	if err != nil {
		return DateKey{}, fmt.Errorf("%w %q: expected YYYY-MM-DD", ErrInvalidDate, s)
	}
	return DateKey{t: t}, nil
}

// MustParse is like Parse but panics on error. Intended for tests and constants.
func MustParse(s string) DateKey {
	k, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return k
}

// String returns the key in YYYY-MM-DD form.
func (k DateKey) String() string {
	return k.t.Format(Layout)
}

// IsZero reports whether k is the zero key.
func (k DateKey) IsZero() bool {
	return k.t.IsZero()
}

// Before reports whether k is an earlier day than other.
func (k DateKey) Before(other DateKey) bool {
	return k.t.Before(other.t)
}

// Compare returns -1, 0 or +1 depending on whether k is before, equal to or
// after other. Suitable for slices.SortFunc.
func (k DateKey) Compare(other DateKey) int {
	return k.t.Compare(other.t)
}

// Next returns the following calendar day.
func (k DateKey) Next() DateKey {
	return DateKey{t: k.t.AddDate(0, 0, 1)}
}

// Days returns the number of keys in the inclusive range [start, end].
// It returns 0 when end precedes start.
func Days(start, end DateKey) int {
	if end.Before(start) {
		return 0
	}
	return int(end.t.Sub(start.t).Hours()/24) + 1
}

// Range returns the ascending sequence of keys from start to end inclusive.
// The sequence is lazy and may be iterated any number of times.
func Range(start, end DateKey) (iter.Seq[DateKey], error) {
	if start.IsZero() || end.IsZero() {
		return nil, fmt.Errorf("%w: zero date key", ErrInvalidDate)
	}
	if end.Before(start) {
		return nil, &InvalidRangeError{Start: start, End: end}
	}
	return func(yield func(DateKey) bool) {
		for k := start; !end.Before(k); k = k.Next() {
			if !yield(k) {
				return
			}
		}
	}, nil
}

// Single returns the one-element sequence used when no end date is given.
func Single(start DateKey) iter.Seq[DateKey] {
	return func(yield func(DateKey) bool) {
		yield(start)
	}
}

// Collect drains seq into a slice.
func Collect(seq iter.Seq[DateKey]) []DateKey {
	var keys []DateKey
	for k := range seq {
		keys = append(keys, k)
	}
	return keys
}
