package ics

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"
)

// RecurrenceRule is a parsed RRULE value.
type RecurrenceRule struct {
	Freq     string `json:"freq,omitempty"`
	Interval int    `json:"interval"`
	// Until is normalized text followed by "Z" or the resolved offset.
	Until      string            `json:"until,omitempty"`
	Count      int               `json:"count,omitempty"`
	BySecond   []int             `json:"bysecond,omitempty"`
	ByMinute   []int             `json:"byminute,omitempty"`
	ByHour     []int             `json:"byhour,omitempty"`
	ByDay      string            `json:"byday,omitempty"`
	ByMonthDay []int             `json:"bymonthday,omitempty"`
	ByYearDay  []int             `json:"byyearday,omitempty"`
	ByWeekNo   []int             `json:"byweekno,omitempty"`
	ByMonth    []int             `json:"bymonth,omitempty"`
	BySetPos   []int             `json:"bysetpos,omitempty"`
	Wkst       string            `json:"wkst,omitempty"`
	Extra      map[string]string `json:"extra,omitempty"`
}

// ParseRecurrence parses a ";"-separated KEY=VALUE recurrence rule.
//
// When params carry a TZID, an UNTIL value is given the zone's offset at
// ref, the caller's reference instant in LocalLayout text (usually the
// event's DTSTART). A TZID with no ref is an error rather than a guess.
func ParseRecurrence(cal *VCalendar, params []Param, text, ref string) (*RecurrenceRule, error) {
	r := &RecurrenceRule{Interval: 1}

	var tzid string
	for _, p := range params {
		if p.Name == "tzid" {
			tzid = p.Value()
		}
	}

	for _, part := range strings.Split(text, ";") {
		if part == "" {
			continue
		}
		key, value, ok := strings.Cut(part, "=")
		if !ok {
			return nil, rruleError(part, fmt.Errorf("missing '='"))
		}
		name := strings.ToLower(key)

		var err error
		switch name {
		case "freq":
			r.Freq = strings.ToLower(value)
		case "until":
			r.Until, err = recurUntil(cal, tzid, value, ref)
		case "count":
			r.Count, err = strconv.Atoi(value)
		case "interval":
			r.Interval, err = strconv.Atoi(value)
		case "bysecond":
			r.BySecond, err = intList(value)
		case "byminute":
			r.ByMinute, err = intList(value)
		case "byhour":
			r.ByHour, err = intList(value)
		case "byday":
			r.ByDay = strings.ToLower(value)
		case "bymonthday":
			r.ByMonthDay, err = intList(value)
		case "byyearday":
			r.ByYearDay, err = intList(value)
		case "byweekno":
			r.ByWeekNo, err = intList(value)
		case "bymonth":
			r.ByMonth, err = intList(value)
		case "bysetpos":
			r.BySetPos, err = intList(value)
		case "wkst":
			r.Wkst = strings.ToLower(value)
		default:
			if r.Extra == nil {
				r.Extra = make(map[string]string)
			}
			r.Extra[name] = value
		}
		if err != nil {
			return nil, rruleError(part, err)
		}
	}
	return r, nil
}

func recurUntil(cal *VCalendar, tzid, value, ref string) (string, error) {
	dt, err := TextToDate(value)
	if err != nil {
		return "", err
	}
	if tzid == "" {
		return dt + "Z", nil
	}
	if ref == "" {
		return "", fmt.Errorf("UNTIL with TZID %s needs a reference instant", tzid)
	}
	offset, err := ResolveOffset(cal, tzid, ref)
	if err != nil {
		return "", err
	}
	return dt + offset, nil
}

func rruleError(part string, err error) error {
	return &MappingError{Component: "VEVENT", Property: "rrule", Msg: "bad rule part " + strconv.Quote(part), Err: err}
}

func intList(s string) ([]int, error) {
	fields := strings.Split(s, ",")
	out := make([]int, 0, len(fields))
	for _, f := range fields {
		n, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// UntilTime returns Until as an absolute time, or the zero time if unset.
func (r *RecurrenceRule) UntilTime() (time.Time, error) {
	if r.Until == "" {
		return time.Time{}, nil
	}
	if len(r.Until) > len(DateLayout) && r.Until[len(DateLayout)] != 'T' {
		// Plain date followed by an offset.
		return time.Parse(DateLayout+"Z0700", r.Until)
	}
	return time.Parse(OffsetLayout, r.Until)
}

// String renders the rule back to RFC 5545 text, extra parts included in
// key order.
func (r *RecurrenceRule) String() string {
	parts, _ := r.parts(true) // never fails with extra parts kept
	return strings.Join(parts, ";")
}

// RRule builds an rrule-go rule anchored at dtstart. Parts rrule-go does
// not understand (Extra) are left out.
func (r *RecurrenceRule) RRule(dtstart time.Time) (*rrule.RRule, error) {
	parts, err := r.parts(false)
	if err != nil {
		return nil, err
	}
	rule, err := rrule.StrToRRule(strings.Join(parts, ";"))
	if err != nil {
		return nil, err
	}
	rule.DTStart(dtstart)
	return rule, nil
}

func (r *RecurrenceRule) parts(extra bool) ([]string, error) {
	var parts []string
	add := func(key, value string) {
		if value != "" {
			parts = append(parts, key+"="+value)
		}
	}
	ints := func(key string, v []int) {
		if len(v) == 0 {
			return
		}
		s := make([]string, len(v))
		for i, n := range v {
			s[i] = strconv.Itoa(n)
		}
		add(key, strings.Join(s, ","))
	}

	add("FREQ", strings.ToUpper(r.Freq))
	if r.Interval > 0 {
		add("INTERVAL", strconv.Itoa(r.Interval))
	}
	if r.Count > 0 {
		add("COUNT", strconv.Itoa(r.Count))
	}
	if r.Until != "" {
		t, err := r.UntilTime()
		switch {
		case err == nil:
			add("UNTIL", t.UTC().Format("20060102T150405Z"))
		case extra:
			add("UNTIL", r.Until)
		default:
			return nil, fmt.Errorf("until %q: %w", r.Until, err)
		}
	}
	ints("BYSECOND", r.BySecond)
	ints("BYMINUTE", r.ByMinute)
	ints("BYHOUR", r.ByHour)
	add("BYDAY", strings.ToUpper(r.ByDay))
	ints("BYMONTHDAY", r.ByMonthDay)
	ints("BYYEARDAY", r.ByYearDay)
	ints("BYWEEKNO", r.ByWeekNo)
	ints("BYMONTH", r.ByMonth)
	ints("BYSETPOS", r.BySetPos)
	add("WKST", strings.ToUpper(r.Wkst))

	if extra {
		keys := make([]string, 0, len(r.Extra))
		for k := range r.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, strings.ToUpper(k)+"="+r.Extra[k])
		}
	}
	return parts, nil
}
