package services

import "time"

// SystemClock implements ports.Clock using the wall clock in UTC.
type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
