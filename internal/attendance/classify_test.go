package attendance

import (
	"testing"
	"time"
)

func clockTime(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02 15:04:05.999999999", value)
	if err != nil {
		t.Fatalf("invalid test time %q: %v", value, err)
	}
	return parsed
}

func TestClassifyWindowBoundaries(t *testing.T) {
	cases := []struct {
		name     string
		instant  string
		expected Category
	}{
		{name: "before_first_window", instant: "2026-03-01 12:05:49", expected: CategoryNone},
		{name: "first_fail_instant", instant: "2026-03-01 12:05:50", expected: CategoryFail},
		{name: "last_fail_instant", instant: "2026-03-01 12:05:59.999999", expected: CategoryFail},
		{name: "first_success_instant", instant: "2026-03-01 12:06:00", expected: CategorySuccess},
		{name: "mid_success_window", instant: "2026-03-01 12:06:30", expected: CategorySuccess},
		{name: "last_success_instant", instant: "2026-03-01 12:06:59.999999", expected: CategorySuccess},
		{name: "first_choke_instant", instant: "2026-03-01 12:07:00", expected: CategoryChoke},
		{name: "last_choke_instant", instant: "2026-03-01 12:07:59.999999", expected: CategoryChoke},
		{name: "after_last_window", instant: "2026-03-01 12:08:00", expected: CategoryNone},
		{name: "unrelated_hour", instant: "2026-03-01 09:06:30", expected: CategoryNone},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			got := Classify(clockTime(t, testCase.instant))
			if got != testCase.expected {
				t.Fatalf("expected %q, got %q", testCase.expected, got)
			}
		})
	}
}

func TestClassifyUsesChannelLocalClock(t *testing.T) {
	paris, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Fatalf("failed to load zone: %v", err)
	}

	// 11:06 UTC is 12:06 in Paris during winter.
	utc := time.Date(2026, time.January, 15, 11, 6, 30, 0, time.UTC)
	if got := Classify(utc); got != CategoryNone {
		t.Fatalf("UTC clock should miss the window, got %q", got)
	}
	if got := Classify(utc.In(paris)); got != CategorySuccess {
		t.Fatalf("Paris clock should hit the window, got %q", got)
	}
}

func TestHasTrigger(t *testing.T) {
	cases := []struct {
		name     string
		content  string
		trigger  string
		expected bool
	}{
		{name: "exact", content: "cath", trigger: "cath", expected: true},
		{name: "case_insensitive", content: "CATH!!", trigger: "cath", expected: true},
		{name: "substring", content: "la cathédrale", trigger: "cath", expected: true},
		{name: "absent", content: "bonjour", trigger: "cath", expected: false},
		{name: "empty_trigger", content: "cath", trigger: "", expected: false},
	}

	for _, testCase := range cases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := HasTrigger(testCase.content, testCase.trigger); got != testCase.expected {
				t.Fatalf("expected %v, got %v", testCase.expected, got)
			}
		})
	}
}

func TestDelaySecondsKeepsFraction(t *testing.T) {
	instant := time.Date(2026, time.March, 1, 12, 6, 5, 250_000_000, time.UTC)
	got := delaySeconds(instant)
	if got != 5.25 {
		t.Fatalf("expected 5.25, got %v", got)
	}
}
