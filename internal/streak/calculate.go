package streak

import (
	"sort"
	"time"
)

// DefaultCutoff is the daily grace instant: a streak whose last success
// day is yesterday is still alive until the local clock reaches this
// offset from midnight. It coincides with the end of the success window.
const DefaultCutoff = 12*time.Hour + 7*time.Minute

// Calculate rebuilds streak state from the complete list of qualifying
// success days for a scope. The max streak is the longest run of
// consecutive days; the current streak is the trailing run, but only
// while the last day is still live under the grace window relative to
// now (which must already be localized to the scope's zone). Days may
// arrive unsorted or with duplicates; both are tolerated.
func Calculate(days []Day, now time.Time, cutoff time.Duration) State {
	ordered := normalizeDays(days)
	if len(ordered) == 0 {
		return State{}
	}

	maxStreak, running := 1, 1
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Equal(ordered[i-1].Next()) {
			running++
			if running > maxStreak {
				maxStreak = running
			}
		} else {
			running = 1
		}
	}

	lastDay := ordered[len(ordered)-1]
	currentStreak := 0
	if dayIsLive(lastDay, now, cutoff) {
		currentStreak = 1
		for i := len(ordered) - 2; i >= 0; i-- {
			if ordered[i+1].Equal(ordered[i].Next()) {
				currentStreak++
			} else {
				break
			}
		}
	}

	return State{
		CurrentStreak:  currentStreak,
		MaxStreak:      maxStreak,
		LastSuccessDay: lastDay,
	}
}

// dayIsLive reports whether a streak ending on lastDay still counts as
// unbroken at the provided local instant.
func dayIsLive(lastDay Day, now time.Time, cutoff time.Duration) bool {
	today := DayOf(now)
	if lastDay.Equal(today) {
		return true
	}
	return lastDay.Next().Equal(today) && sinceMidnight(now) < cutoff
}

func sinceMidnight(t time.Time) time.Duration {
	return time.Duration(t.Hour())*time.Hour +
		time.Duration(t.Minute())*time.Minute +
		time.Duration(t.Second())*time.Second +
		time.Duration(t.Nanosecond())
}

func normalizeDays(days []Day) []Day {
	if len(days) == 0 {
		return nil
	}
	ordered := make([]Day, len(days))
	copy(ordered, days)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Before(ordered[j]) })

	deduped := ordered[:1]
	for _, day := range ordered[1:] {
		if !day.Equal(deduped[len(deduped)-1]) {
			deduped = append(deduped, day)
		}
	}
	return deduped
}
