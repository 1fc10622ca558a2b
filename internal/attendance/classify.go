package attendance

import (
	"strings"
	"time"
)

// The three windows are contiguous, half-open clock-time ranges in the
// owning channel's local zone. An event landing outside all of them is
// ignored entirely.
const (
	failWindowStart    = 12*time.Hour + 5*time.Minute + 50*time.Second
	successWindowStart = 12*time.Hour + 6*time.Minute
	chokeWindowStart   = 12*time.Hour + 7*time.Minute
	chokeWindowEnd     = 12*time.Hour + 8*time.Minute
)

var categoryWindows = []struct {
	category Category
	start    time.Duration
	end      time.Duration
}{
	{category: CategoryFail, start: failWindowStart, end: successWindowStart},
	{category: CategorySuccess, start: successWindowStart, end: chokeWindowStart},
	{category: CategoryChoke, start: chokeWindowStart, end: chokeWindowEnd},
}

// Classify maps a channel-local instant to its category. Windows are
// half-open: the instant exactly at a window's end belongs to the next
// window.
func Classify(localTime time.Time) Category {
	clock := clockOffset(localTime)
	for _, window := range categoryWindows {
		if clock >= window.start && clock < window.end {
			return window.category
		}
	}
	return CategoryNone
}

// HasTrigger reports whether the message content contains the trigger
// word, case-insensitively. Only triggering messages are offered to the
// classifier at all.
func HasTrigger(content, triggerWord string) bool {
	if triggerWord == "" {
		return false
	}
	return strings.Contains(strings.ToLower(content), strings.ToLower(triggerWord))
}

func clockOffset(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

// delaySeconds is the sub-minute offset of a success event from the
// start of its minute, in seconds with fractional precision.
func delaySeconds(t time.Time) float64 {
	return float64(t.Second()) + float64(t.Nanosecond())/1e9
}
