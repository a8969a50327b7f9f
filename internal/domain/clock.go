package domain

import "time"

// Clock supplies timestamps for elapsed-time measurement.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock; values carry Go's monotonic reading,
// so Sub between two of them never goes backwards.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }
