// Package days provides day-granularity timestamps for recency tracking.
package days

import "time"

const secondsPerDay = 24 * 60 * 60

// Stamp returns the number of whole days since the Unix epoch, in UTC.
func Stamp(t time.Time) int {
	return int(t.UTC().Unix() / secondsPerDay)
}

// Today is Stamp(time.Now()).
func Today() int {
	return Stamp(time.Now())
}
