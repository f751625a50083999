package util //nolint:revive // package name util hosts shared formatting helpers

import "time"

// FormatSyncDuration formats a duration for log fields and job error
// messages. Sub-millisecond noise is truncated away; zero and negative
// durations render as "0s" rather than an odd negative string.
func FormatSyncDuration(d time.Duration) string {
	switch {
	case d <= 0:
		return "0s"
	case d < time.Millisecond:
		return d.String()
	default:
		return d.Truncate(time.Millisecond).String()
	}
}
