package ics

import (
	"errors"
	"reflect"
	"testing"
	"time"
)

func TestParseRecurrence(t *testing.T) {
	r, err := ParseRecurrence(nil, nil, "FREQ=WEEKLY;COUNT=5;BYDAY=mo,we,fr", "")
	if err != nil {
		t.Fatalf("ParseRecurrence: %v", err)
	}
	want := &RecurrenceRule{Freq: "weekly", Count: 5, ByDay: "mo,we,fr", Interval: 1}
	if !reflect.DeepEqual(r, want) {
		t.Errorf("rule = %+v, want %+v", r, want)
	}

	r, err = ParseRecurrence(nil, nil, "FREQ=MONTHLY;INTERVAL=2;BYMONTHDAY=1,15;BYSETPOS=-1;WKST=SU;X-NAME=Foo", "")
	if err != nil {
		t.Fatalf("ParseRecurrence: %v", err)
	}
	if r.Interval != 2 || !reflect.DeepEqual(r.ByMonthDay, []int{1, 15}) || !reflect.DeepEqual(r.BySetPos, []int{-1}) || r.Wkst != "su" {
		t.Errorf("rule = %+v", r)
	}
	if r.Extra["x-name"] != "Foo" {
		t.Errorf("extra = %v", r.Extra)
	}
	if got := r.String(); got != "FREQ=MONTHLY;INTERVAL=2;BYMONTHDAY=1,15;BYSETPOS=-1;WKST=SU;X-NAME=Foo" {
		t.Errorf("String = %q", got)
	}
}

func TestParseRecurrenceUntil(t *testing.T) {
	r, err := ParseRecurrence(nil, nil, "FREQ=DAILY;UNTIL=20200731T130000Z", "")
	if err != nil {
		t.Fatalf("ParseRecurrence: %v", err)
	}
	if r.Until != "2020-07-31T13:00:00Z" {
		t.Errorf("until = %q", r.Until)
	}

	cal, err := Parse(meetingCalendar)
	if err != nil {
		t.Fatal(err)
	}
	tzParams := []Param{{Name: "tzid", Values: []string{"America/New_York"}}}

	r, err = ParseRecurrence(cal, tzParams, "FREQ=DAILY;UNTIL=20200731T090000", "2020-07-15T09:00:00")
	if err != nil {
		t.Fatalf("ParseRecurrence with TZID: %v", err)
	}
	if r.Until != "2020-07-31T09:00:00-0400" {
		t.Errorf("until = %q", r.Until)
	}
	until, err := r.UntilTime()
	if err != nil || !until.Equal(time.Date(2020, 7, 31, 13, 0, 0, 0, time.UTC)) {
		t.Errorf("UntilTime = %v, %v", until, err)
	}

	if _, err := ParseRecurrence(cal, tzParams, "FREQ=DAILY;UNTIL=20200731T090000", ""); !errors.Is(err, ErrMapping) {
		t.Errorf("TZID without reference: err = %v", err)
	}
}

func TestParseRecurrenceErrors(t *testing.T) {
	for _, text := range []string{"FREQ=DAILY;COUNT=five", "FREQ", "FREQ=DAILY;BYHOUR=1,x", "FREQ=DAILY;UNTIL=2020"} {
		if _, err := ParseRecurrence(nil, nil, text, ""); !errors.Is(err, ErrMapping) {
			t.Errorf("%q: err = %v, want ErrMapping", text, err)
		}
	}
}

func TestRecurrenceRRule(t *testing.T) {
	r, err := ParseRecurrence(nil, nil, "FREQ=WEEKLY;COUNT=5;BYDAY=mo,we,fr", "")
	if err != nil {
		t.Fatal(err)
	}
	start := time.Date(2020, 7, 13, 9, 0, 0, 0, time.UTC) // a Monday
	rule, err := r.RRule(start)
	if err != nil {
		t.Fatalf("RRule: %v", err)
	}
	got := rule.All()
	want := []time.Time{
		start,
		start.AddDate(0, 0, 2),
		start.AddDate(0, 0, 4),
		start.AddDate(0, 0, 7),
		start.AddDate(0, 0, 9),
	}
	if len(got) != len(want) {
		t.Fatalf("occurrences = %v", got)
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("occurrence %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestTextToDate(t *testing.T) {
	cases := map[string]string{
		"20200715T090000":  "2020-07-15T09:00:00",
		"20200715T090000Z": "2020-07-15T09:00:00",
		"20200715":         "2020-07-15",
	}
	for in, want := range cases {
		got, err := TextToDate(in)
		if err != nil || got != want {
			t.Errorf("TextToDate(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	for _, bad := range []string{"", "2020071", "20200715X090000", "20200715T0900001", "2020O715T090000"} {
		if _, err := TextToDate(bad); err == nil {
			t.Errorf("TextToDate(%q) accepted", bad)
		}
	}
}
