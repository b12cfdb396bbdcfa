// Package daterange expands a start/end date pair into the sequence of
// daily report keys to fetch.
//
// Keys are calendar dates rendered as YYYY-MM-DD. They are used both as the
// request's date parameter and as part of the output file name.
//
// # Usage
//
//	start, _ := daterange.Parse("2024-01-01")
//	end, _ := daterange.Parse("2024-01-03")
//	seq, err := daterange.Range(start, end)
//	for key := range seq {
//	    fmt.Println(key) // 2024-01-01, 2024-01-02, 2024-01-03
//	}
package daterange
