package ics

import (
	"strings"
)

// DefaultMeetingsBase prefixes the html_url synthesized for every event.
const DefaultMeetingsBase = "https://www.w3.org/events/meetings/"

// VCalendar is the semantic view of a VCALENDAR component.
type VCalendar struct {
	Props     map[string]string     `json:"props,omitempty"`
	Timezones map[string]*VTimezone `json:"timezones,omitempty"`
	Events    []*VEvent             `json:"events"`
	Unknown   []*Component          `json:"unknown,omitempty"`
	// URL is set by Load to the address the text came from.
	URL string `json:"url,omitempty"`
}

// Event returns the first event with the given UID and RECURRENCE-ID.
func (c *VCalendar) Event(uid, recurrenceID string) (*VEvent, bool) {
	for _, ev := range c.Events {
		if ev.UID == uid && ev.RecurrenceID == recurrenceID {
			return ev, true
		}
	}
	return nil, false
}

type options struct {
	meetingsBase       string
	meetingConventions bool
}

// Option tunes event mapping.
type Option func(*options)

// WithMeetingsBase replaces DefaultMeetingsBase when synthesizing html_url.
func WithMeetingsBase(base string) Option {
	return func(o *options) {
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		o.meetingsBase = base
	}
}

// WithoutMeetingConventions maps events of feeds that are not W3C meeting
// calendars: no html_url, and descriptions are kept as they are.
func WithoutMeetingConventions() Option {
	return func(o *options) { o.meetingConventions = false }
}

func newOptions(opts []Option) options {
	o := options{meetingsBase: DefaultMeetingsBase, meetingConventions: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Parse runs the whole pipeline over CRLF calendar text. Any error aborts
// the parse; there is no partial result.
func Parse(text string, opts ...Option) (*VCalendar, error) {
	lines, err := ContentLines(text)
	if err != nil {
		return nil, err
	}
	root, err := BuildTree(lines)
	if err != nil {
		return nil, err
	}
	return MapCalendar(root, opts...)
}

// MapCalendar interprets a VCALENDAR tree. Timezones are mapped before
// events so that offsets resolve whatever the component order.
func MapCalendar(root *Component, opts ...Option) (*VCalendar, error) {
	if root.Name != "VCALENDAR" {
		return nil, &MappingError{Component: root.Name, Msg: "expected VCALENDAR"}
	}

	cal := &VCalendar{
		Props:     make(map[string]string),
		Timezones: make(map[string]*VTimezone),
		Events:    make([]*VEvent, 0),
	}
	for _, p := range root.Props {
		if _, dup := cal.Props[p.Name]; dup {
			return nil, duplicateEntry(root.Name, p.Name)
		}
		cal.Props[p.Name] = p.Value
	}

	for _, sub := range root.Children("VTIMEZONE") {
		tz, err := MapTimezone(sub)
		if err != nil {
			return nil, err
		}
		cal.Timezones[tz.TZID] = tz
	}

	for _, sub := range root.Components {
		switch sub.Name {
		case "VTIMEZONE":
		case "VEVENT":
			ev, err := MapEvent(cal, sub, opts...)
			if err != nil {
				return nil, err
			}
			cal.Events = append(cal.Events, ev)
		default:
			cal.Unknown = append(cal.Unknown, sub)
		}
	}
	return cal, nil
}
