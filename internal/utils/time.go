package utils

import "time"

// Now returns the current UTC time truncated to microseconds, matching
// postgres timestamp precision so round-tripped values compare equal.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// NowISO8601 is the wire format used in poll status callbacks.
func NowISO8601() string {
	return Now().Format(time.RFC3339Nano)
}
