package streak

import (
	"fmt"
	"time"
)

const dayLayout = "2006-01-02"

// Day is a timezone-naive calendar date. Events are localized to their
// owning channel's zone before the day is taken, so two Days compare
// without any location attached.
type Day struct {
	year  int
	month time.Month
	dom   int
}

// DayOf extracts the calendar date from the provided time, in that
// time's location.
func DayOf(t time.Time) Day {
	year, month, dom := t.Date()
	return Day{year: year, month: month, dom: dom}
}

// ParseDay parses a YYYY-MM-DD value.
func ParseDay(value string) (Day, error) {
	t, err := time.Parse(dayLayout, value)
	if err != nil {
		return Day{}, fmt.Errorf("streak: invalid day %q: %w", value, err)
	}
	return DayOf(t), nil
}

// String renders the day as YYYY-MM-DD.
func (d Day) String() string {
	return d.time().Format(dayLayout)
}

// AddDays returns the day shifted by the given number of calendar days.
func (d Day) AddDays(n int) Day {
	return DayOf(d.time().AddDate(0, 0, n))
}

// Next returns the following calendar day.
func (d Day) Next() Day {
	return d.AddDays(1)
}

// Before reports whether d falls strictly earlier than other.
func (d Day) Before(other Day) bool {
	return d.time().Before(other.time())
}

// Equal reports calendar equality.
func (d Day) Equal(other Day) bool {
	return d == other
}

// IsZero reports whether the day was never set.
func (d Day) IsZero() bool {
	return d == Day{}
}

func (d Day) time() time.Time {
	return time.Date(d.year, d.month, d.dom, 0, 0, 0, 0, time.UTC)
}
