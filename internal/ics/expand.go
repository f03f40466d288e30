package ics

import (
	"errors"
	"sort"
	"time"

	"github.com/teambition/rrule-go"

	appLog "w3cgroup/internal/log"
	"w3cgroup/internal/model"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ExpandConfig controls how recurrence expansion is performed.
type ExpandConfig struct {
	// DisplayLocation is the timezone to which all occurrences will be converted.
	// If nil, time.Local is used.
	DisplayLocation *time.Location

	// RangeStart / RangeEnd define the inclusive time window for occurrences.
	RangeStart time.Time
	RangeEnd   time.Time

	// MaxOccurrencesPerEvent is a safety cap to avoid infinite or extremely
	// large expansions. If zero, defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// ExpandResult wraps the list of expanded occurrences and optionally
// information about truncation.
type ExpandResult struct {
	Occurrences []model.Occurrence
	// TruncatedEvents records UIDs that hit the MaxOccurrencesPerEvent cap.
	TruncatedEvents []string
}

// span is an event with its resolved bounds.
type span struct {
	ev         *VEvent
	start, end time.Time
	// rid is the RECURRENCE-ID instant for overrides.
	rid *time.Time
}

// Expand turns the events of every result into concrete occurrences within
// the configured range, sorted by start time.
//
// RRULE expansion is done in the event's TZID zone when the Go runtime knows
// it, so instances follow DST changes; otherwise the resolved DTSTART offset
// is used. Events carrying a RECURRENCE-ID replace the matching instance of
// their series.
func Expand(results []Result, cfg ExpandConfig) (ExpandResult, error) {
	var result ExpandResult

	if cfg.RangeEnd.Before(cfg.RangeStart) {
		return result, errors.New("expand: RangeEnd is before RangeStart")
	}
	if cfg.DisplayLocation == nil {
		cfg.DisplayLocation = time.Local
	}
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	allOccurrences := make([]model.Occurrence, 0)

	for _, res := range results {
		// Group base events and overrides by UID, keeping document order.
		var uids []string
		baseByUID := make(map[string][]span)
		overridesByUID := make(map[string][]span)

		for _, ev := range res.Calendar.Events {
			sp, err := resolveSpan(ev, cfg.DisplayLocation)
			if err != nil {
				appLog.Error("expand: skipping event with unusable dates", err, "id", res.Source.ID, "uid", ev.UID)
				continue
			}
			if sp.rid != nil {
				overridesByUID[ev.UID] = append(overridesByUID[ev.UID], sp)
				continue
			}
			if _, seen := baseByUID[ev.UID]; !seen {
				uids = append(uids, ev.UID)
			}
			baseByUID[ev.UID] = append(baseByUID[ev.UID], sp)
		}

		for _, uid := range uids {
			ov := overridesByUID[uid]
			truncated := false

			for _, sp := range baseByUID[uid] {
				occ, hitCap := expandEvent(res.Source.ID, sp, ov, cfg)
				if hitCap {
					truncated = true
				}
				allOccurrences = append(allOccurrences, occ...)
			}

			if truncated {
				result.TruncatedEvents = append(result.TruncatedEvents, uid)
				appLog.Error("expand: truncated occurrences for UID due to cap",
					errors.New("max occurrences reached"),
					"uid", uid,
					"cap", cfg.MaxOccurrencesPerEvent,
				)
			}
		}
	}

	sort.SliceStable(allOccurrences, func(i, j int) bool {
		return allOccurrences[i].Start.Before(allOccurrences[j].Start)
	})
	result.Occurrences = allOccurrences
	return result, nil
}

func resolveSpan(ev *VEvent, displayLoc *time.Location) (span, error) {
	sp := span{ev: ev}
	if ev.DTStart == "" {
		return sp, errors.New("no DTSTART")
	}

	loc := eventLocation(ev, displayLoc)
	start, err := ParseResolved(ev.DTStart, loc)
	if err != nil {
		return sp, err
	}
	sp.start = start.In(loc)

	switch {
	case ev.DTEnd != "":
		end, err := ParseResolved(ev.DTEnd, loc)
		if err != nil {
			return sp, err
		}
		sp.end = end.In(loc)
	case ev.AllDay:
		sp.end = sp.start.AddDate(0, 0, 1)
	default:
		sp.end = sp.start
	}

	if ev.RecurrenceID != "" {
		rid, err := recurrenceInstant(ev.RecurrenceID, sp.start.Location())
		if err != nil {
			return sp, err
		}
		sp.rid = &rid
	}
	return sp, nil
}

// eventLocation picks the zone recurrences are computed in.
func eventLocation(ev *VEvent, displayLoc *time.Location) *time.Location {
	if ev.AllDay {
		return displayLoc
	}
	if ev.TZID != "" {
		if loc, err := time.LoadLocation(ev.TZID); err == nil {
			return loc
		}
	}
	return time.UTC
}

// recurrenceInstant reads a raw RECURRENCE-ID value. Floating values are
// taken in loc, the zone of the overriding event.
func recurrenceInstant(raw string, loc *time.Location) (time.Time, error) {
	local, err := TextToDate(raw)
	if err != nil {
		return time.Time{}, err
	}
	if len(local) == len(DateLayout) {
		return time.ParseInLocation(DateLayout, local, loc)
	}
	if raw[len(raw)-1] == 'Z' {
		return time.Parse(LocalLayout, local)
	}
	return time.ParseInLocation(LocalLayout, local, loc)
}

// expandEvent expands a single base event with its possible overrides,
// returning occurrences and whether the cap was hit.
func expandEvent(sourceID string, sp span, overrides []span, cfg ExpandConfig) ([]model.Occurrence, bool) {
	// Single non-recurring event
	if sp.ev.RRule == nil {
		return expandSingleEvent(sourceID, sp, overrides, cfg), false
	}

	// Recurring event via RRULE
	return expandRecurringEvent(sourceID, sp, overrides, cfg)
}

func expandSingleEvent(sourceID string, sp span, overrides []span, cfg ExpandConfig) []model.Occurrence {
	var out []model.Occurrence

	// Apply any override whose RECURRENCE-ID matches this start.
	if o, ok := findOverrideForStart(overrides, sp.start); ok {
		sp = o
	}

	if !timeRangesOverlap(sp.start, sp.end, cfg.RangeStart, cfg.RangeEnd) {
		return out
	}

	out = append(out, makeOccurrence(sourceID, sp.ev, sp.start, sp.end, cfg.DisplayLocation))
	return out
}

func expandRecurringEvent(sourceID string, sp span, overrides []span, cfg ExpandConfig) ([]model.Occurrence, bool) {
	out := make([]model.Occurrence, 0)
	hitCap := false

	r, err := sp.ev.RRule.RRule(sp.start)
	if err != nil {
		appLog.Error("expand: failed to build RRULE", err, "uid", sp.ev.UID, "rrule", sp.ev.RRule.String())
		return out, false
	}

	var set rrule.Set
	set.RRule(r)

	// Widen the window by the event duration so instances that started
	// before RangeStart but are still running are kept.
	dur := sp.end.Sub(sp.start)
	rangeStart := cfg.RangeStart.Add(-dur).In(sp.start.Location())
	rangeEnd := cfg.RangeEnd.In(sp.start.Location())

	occTimes := set.Between(rangeStart, rangeEnd, true)

	if len(occTimes) > cfg.MaxOccurrencesPerEvent {
		occTimes = occTimes[:cfg.MaxOccurrencesPerEvent]
		hitCap = true
	}

	for _, occStart := range occTimes {
		inst := span{ev: sp.ev, start: occStart, end: occStart.Add(dur)}
		if sp.ev.AllDay {
			date := time.Date(occStart.Year(), occStart.Month(), occStart.Day(), 0, 0, 0, 0, occStart.Location())
			inst.start = date
			inst.end = date.AddDate(0, 0, 1)
		}

		// Apply override if any.
		if o, ok := findOverrideForStart(overrides, inst.start); ok {
			inst = o
		}

		if !timeRangesOverlap(inst.start, inst.end, cfg.RangeStart, cfg.RangeEnd) {
			continue
		}
		out = append(out, makeOccurrence(sourceID, inst.ev, inst.start, inst.end, cfg.DisplayLocation))
	}

	return out, hitCap
}

// findOverrideForStart finds an override whose RECURRENCE-ID is the same
// instant as baseStart.
func findOverrideForStart(overrides []span, baseStart time.Time) (span, bool) {
	for _, ov := range overrides {
		if ov.rid != nil && ov.rid.Equal(baseStart) {
			return ov, true
		}
	}
	return span{}, false
}

// makeOccurrence converts a (possibly overridden) event + specific
// start/end time into a model.Occurrence normalized into displayLoc.
func makeOccurrence(sourceID string, ev *VEvent, start, end time.Time, displayLoc *time.Location) model.Occurrence {
	startLocal := start.In(displayLoc)
	endLocal := end.In(displayLoc)

	occ := model.Occurrence{
		SourceID:    sourceID,
		UID:         ev.UID,
		Summary:     ev.Summary,
		Description: ev.Description,
		Location:    ev.Location,
		Status:      ev.Status,
		Categories:  ev.Categories,
		HTMLURL:     ev.HTMLURL,
		AgendaURL:   ev.AgendaURL,
		Agenda:      ev.Agenda,
		AllDay:      ev.AllDay,
		Start:       startLocal,
		End:         endLocal,
	}

	// InstanceKey: use start time in RFC3339 as a stable per-instance key.
	occ.InstanceKey = startLocal.Format(time.RFC3339Nano)

	return occ
}

func timeRangesOverlap(aStart, aEnd, bStart, bEnd time.Time) bool {
	if aEnd.Before(bStart) {
		return false
	}
	if bEnd.Before(aStart) {
		return false
	}
	return true
}
