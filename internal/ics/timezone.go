package ics

import (
	"sort"
)

// TimeRule is one STANDARD or DAYLIGHT observance of a VTIMEZONE.
type TimeRule struct {
	Kind         string `json:"kind"`
	TZName       string `json:"tzname,omitempty"`
	TZOffsetTo   string `json:"tzoffsetto,omitempty"`
	TZOffsetFrom string `json:"tzoffsetfrom,omitempty"`
	// DTStart is normalized local text (LocalLayout).
	DTStart string                 `json:"dtstart,omitempty"`
	Extra   map[string]ContentLine `json:"extra,omitempty"`
}

// VTimezone is a mapped VTIMEZONE. Times is sorted ascending by DTStart.
type VTimezone struct {
	TZID    string            `json:"tzid"`
	Props   map[string]string `json:"props,omitempty"`
	Times   []TimeRule        `json:"times"`
	Unknown []*Component      `json:"unknown,omitempty"`
}

// MapTimezone interprets a VTIMEZONE component.
func MapTimezone(c *Component) (*VTimezone, error) {
	tz := &VTimezone{Props: make(map[string]string)}
	for _, p := range c.Props {
		if _, dup := tz.Props[p.Name]; dup {
			return nil, duplicateEntry(c.Name, p.Name)
		}
		tz.Props[p.Name] = p.Value
	}
	tz.TZID = tz.Props["tzid"]
	if tz.TZID == "" {
		return nil, &MappingError{Component: c.Name, Property: "tzid", Msg: "missing TZID"}
	}

	for _, sub := range c.Components {
		switch sub.Name {
		case "STANDARD", "DAYLIGHT":
			rule, err := mapTimeRule(sub)
			if err != nil {
				return nil, err
			}
			tz.Times = append(tz.Times, rule)
		default:
			tz.Unknown = append(tz.Unknown, sub)
		}
	}

	// Fixed-width text, so lexical order is chronological order.
	sort.SliceStable(tz.Times, func(i, j int) bool {
		return tz.Times[i].DTStart < tz.Times[j].DTStart
	})
	return tz, nil
}

func mapTimeRule(c *Component) (TimeRule, error) {
	rule := TimeRule{Kind: c.Name}
	for _, p := range c.Props {
		switch p.Name {
		case "tzname":
			rule.TZName = p.Value
		case "tzoffsetto":
			rule.TZOffsetTo = p.Value
		case "tzoffsetfrom":
			rule.TZOffsetFrom = p.Value
		case "dtstart":
			dt, err := TextToDate(p.Value)
			if err != nil {
				return rule, &MappingError{Component: c.Name, Property: p.Name, Msg: "bad value", Err: err}
			}
			rule.DTStart = dt
		default:
			if _, dup := rule.Extra[p.Name]; dup {
				return rule, duplicateEntry(c.Name, p.Name)
			}
			if rule.Extra == nil {
				rule.Extra = make(map[string]ContentLine)
			}
			rule.Extra[p.Name] = p
		}
	}
	return rule, nil
}

// OffsetAt returns the UTC offset in force at the local instant dt
// (LocalLayout text): the TZOFFSETTO of the last observance starting
// strictly before dt. Before the first observance the first one's
// TZOFFSETFROM applies.
func (tz *VTimezone) OffsetAt(dt string) (string, error) {
	if len(tz.Times) == 0 {
		return "", &TimezoneError{TZID: tz.TZID, Msg: "no STANDARD or DAYLIGHT rules"}
	}

	var current *TimeRule
	for i := range tz.Times {
		if dt > tz.Times[i].DTStart {
			current = &tz.Times[i]
		}
	}
	if current != nil {
		return current.TZOffsetTo, nil
	}

	first := tz.Times[0]
	if first.TZOffsetFrom == "" {
		return "", &TimezoneError{TZID: tz.TZID, Msg: "no rule precedes " + dt}
	}
	return first.TZOffsetFrom, nil
}

// ResolveOffset looks tzid up in the calendar and returns its offset at dt.
func ResolveOffset(cal *VCalendar, tzid, dt string) (string, error) {
	tz, ok := cal.Timezones[tzid]
	if !ok {
		return "", &TimezoneError{TZID: tzid, Msg: "unknown timezone"}
	}
	return tz.OffsetAt(dt)
}
