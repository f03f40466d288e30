package ics

import (
	"fmt"
	"strings"

	ical "github.com/arran4/golang-ical"
)

// Lint parses text a second time with an independent iCalendar parser and
// reports every disagreement with cal. An empty result means both parsers
// saw the same events.
func Lint(text string, cal *VCalendar) []string {
	ref, err := ical.ParseCalendar(strings.NewReader(text))
	if err != nil {
		return []string{"reference parser rejected calendar: " + err.Error()}
	}

	var problems []string
	refEvents := ref.Events()
	if len(refEvents) != len(cal.Events) {
		problems = append(problems, fmt.Sprintf("event count: got %d, reference parser found %d", len(cal.Events), len(refEvents)))
	}

	for _, rev := range refEvents {
		uidProp := rev.GetProperty(ical.ComponentPropertyUniqueId)
		if uidProp == nil || uidProp.Value == "" {
			problems = append(problems, "reference parser found an event without UID")
			continue
		}
		rid := ""
		if p := rev.GetProperty("RECURRENCE-ID"); p != nil {
			rid = p.Value
		}
		ev, ok := cal.Event(uidProp.Value, rid)
		if !ok {
			problems = append(problems, "missing event "+eventKey(uidProp.Value, rid))
			continue
		}
		if p := rev.GetProperty(ical.ComponentPropertySummary); p != nil {
			// golang-ical unescapes values; escape again to compare raw text.
			want := strings.ReplaceAll(ical.ToText(p.Value), `\`, "")
			if ev.Summary != want {
				problems = append(problems, fmt.Sprintf("event %s: summary %q, reference parser %q", eventKey(uidProp.Value, rid), ev.Summary, want))
			}
		}
		if rev.GetProperty(ical.ComponentPropertyRrule) != nil && ev.RRule == nil {
			problems = append(problems, "event "+eventKey(uidProp.Value, rid)+": RRULE not mapped")
		}
	}

	if got, want := len(cal.Timezones), len(ref.Timezones()); got != want {
		problems = append(problems, fmt.Sprintf("timezone count: got %d, reference parser found %d", got, want))
	}
	return problems
}

func eventKey(uid, rid string) string {
	if rid == "" {
		return uid
	}
	return uid + "/" + rid
}
