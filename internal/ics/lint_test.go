package ics

import (
	"strings"
	"testing"
)

func TestLintAgrees(t *testing.T) {
	cal, err := Parse(meetingCalendar)
	if err != nil {
		t.Fatal(err)
	}
	if problems := Lint(meetingCalendar, cal); len(problems) != 0 {
		t.Errorf("Lint = %q", problems)
	}
}

func TestLintReportsDifferences(t *testing.T) {
	cal, err := Parse(meetingCalendar)
	if err != nil {
		t.Fatal(err)
	}
	cal.Events = cal.Events[:1]
	cal.Events[0].Summary = "Something else"

	problems := Lint(meetingCalendar, cal)
	joined := strings.Join(problems, "\n")
	for _, want := range []string{"event count", "missing event 4f6a2b1c-weekly/20200722T090000", "summary"} {
		if !strings.Contains(joined, want) {
			t.Errorf("Lint output lacks %q:\n%s", want, joined)
		}
	}
}
