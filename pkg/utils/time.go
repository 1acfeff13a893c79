package utils

import (
	"fmt"
	"time"
)

var processStart = time.Now()

// MonotonicMillis returns wall clock milliseconds that never go backwards
// within the process. Two calls in the same millisecond return the same value.
func MonotonicMillis() int64 {
	return processStart.UnixMilli() + time.Since(processStart).Milliseconds()
}

// FormatDuration formats duration in human-readable format
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	if d < time.Hour {
		minutes := d / time.Minute
		seconds := (d % time.Minute) / time.Second
		return fmt.Sprintf("%dm%ds", minutes, seconds)
	}
	hours := d / time.Hour
	minutes := (d % time.Hour) / time.Minute
	return fmt.Sprintf("%dh%dm", hours, minutes)
}
