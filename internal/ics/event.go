package ics

import (
	"regexp"
	"strconv"
	"strings"
)

// Participant is an ATTENDEE or ORGANIZER value with its parameters.
type Participant struct {
	// Mailto is the address when the value is a mailto: URI.
	Mailto string `json:"mailto,omitempty"`
	// Value holds any other calendar user address verbatim.
	Value  string  `json:"value,omitempty"`
	RSVP   *bool   `json:"rsvp,omitempty"`
	Params []Param `json:"params,omitempty"`
}

// VEvent is a mapped VEVENT.
//
// DTStart and DTEnd are LocalLayout text followed by the resolved UTC
// offset ("2020-07-15T09:00:00-0400"), or DateLayout text for all-day
// values. DTStamp, Created and LastModified always end in "+0000".
type VEvent struct {
	UID          string                 `json:"uid"`
	RecurrenceID string                 `json:"recurrence-id,omitempty"`
	Sequence     int                    `json:"sequence,omitempty"`
	Status       string                 `json:"status,omitempty"`
	Location     string                 `json:"location,omitempty"`
	Summary      string                 `json:"summary,omitempty"`
	Description  string                 `json:"description"`
	Categories   []string               `json:"categories,omitempty"`
	TZID         string                 `json:"tzid,omitempty"`
	DTStart      string                 `json:"dtstart,omitempty"`
	DTEnd        string                 `json:"dtend,omitempty"`
	AllDay       bool                   `json:"all_day,omitempty"`
	DTStamp      string                 `json:"dtstamp,omitempty"`
	Created      string                 `json:"created,omitempty"`
	LastModified string                 `json:"last-modified,omitempty"`
	Attendees    []Participant          `json:"attendees,omitempty"`
	Organizers   []Participant          `json:"organizers,omitempty"`
	RelatedTo    []string               `json:"related-to,omitempty"`
	RRule        *RecurrenceRule        `json:"rrule,omitempty"`
	HTMLURL      string                 `json:"html_url,omitempty"`
	AgendaURL    string                 `json:"agenda_url,omitempty"`
	Agenda       string                 `json:"agenda,omitempty"`
	Extra        map[string]ContentLine `json:"extra,omitempty"`
}

// Description conventions of the W3C meetings feed. The separators are the
// escaped "\n" sequences as they appear in the ICS text.
const (
	descriptionSep    = `\n\n`
	agendaURLMarker   = `\n\nAgenda: `
	agendaBlockMarker = `\n\nAgenda\n\n`
)

var agendaURLPattern = regexp.MustCompile(`^https?://`)

// MapEvent interprets a VEVENT of cal. cal.Timezones must already be
// populated for TZID offsets to resolve.
func MapEvent(cal *VCalendar, c *Component, opts ...Option) (*VEvent, error) {
	o := newOptions(opts)
	ev := &VEvent{}

	var (
		rruleLine    *ContentLine
		localDTStart string
		hasUID       bool
		hasDesc      bool
	)

	for _, p := range c.Props {
		switch p.Name {
		case "uid":
			ev.UID = p.Value
			hasUID = true
		case "recurrence-id":
			ev.RecurrenceID = p.Value
		case "description":
			ev.Description = p.Value
			hasDesc = true
		case "status":
			ev.Status = p.Value
		case "location":
			ev.Location = p.Value
		case "sequence":
			n, err := strconv.Atoi(strings.TrimSpace(p.Value))
			if err != nil {
				return nil, &MappingError{Component: c.Name, Property: p.Name, Msg: "not an integer", Err: err}
			}
			ev.Sequence = n
		case "categories":
			ev.Categories = appendUnique(ev.Categories, strings.Split(p.Value, ",")...)
		case "summary":
			ev.Summary = strings.ReplaceAll(p.Value, `\`, "")
		case "dtstart", "dtend":
			local, resolved, err := eventTime(cal, ev, p)
			if err != nil {
				return nil, err
			}
			if p.Name == "dtstart" {
				ev.DTStart = resolved
				localDTStart = local
			} else {
				ev.DTEnd = resolved
			}
		case "dtstamp", "created", "last-modified":
			v, err := utcStamp(c.Name, p)
			if err != nil {
				return nil, err
			}
			switch p.Name {
			case "dtstamp":
				ev.DTStamp = v
			case "created":
				ev.Created = v
			default:
				ev.LastModified = v
			}
		case "attendee":
			ev.Attendees = append(ev.Attendees, participant(p))
		case "organizer":
			ev.Organizers = append(ev.Organizers, participant(p))
		case "related-to":
			ev.RelatedTo = append(ev.RelatedTo, p.Value)
		case "rrule":
			line := p
			rruleLine = &line
		default:
			if _, dup := ev.Extra[p.Name]; dup {
				return nil, duplicateEntry(c.Name, p.Name)
			}
			if ev.Extra == nil {
				ev.Extra = make(map[string]ContentLine)
			}
			ev.Extra[p.Name] = p
		}
	}

	// An explicit empty UID is accepted; only a missing one is fatal.
	if !hasUID {
		return nil, &MappingError{Component: c.Name, Property: "uid", Msg: "no UID in event"}
	}

	// RRULE goes last: an UNTIL with a TZID resolves at DTSTART.
	if rruleLine != nil {
		rule, err := ParseRecurrence(cal, rruleLine.Params, rruleLine.Value, localDTStart)
		if err != nil {
			return nil, err
		}
		ev.RRule = rule
	}

	if !o.meetingConventions {
		return ev, nil
	}

	ev.HTMLURL = o.meetingsBase + ev.UID + "/"
	if ev.RecurrenceID != "" {
		ev.HTMLURL += ev.RecurrenceID + "/"
	}

	if !hasDesc {
		return nil, &MappingError{Component: c.Name, Property: "description", Msg: "missing W3C URL in description " + ev.HTMLURL}
	}
	desc, err := stripURLBoilerplate(ev.Description, ev.HTMLURL)
	if err != nil {
		return nil, err
	}
	desc, ev.AgendaURL, err = extractAgendaURL(desc, ev.HTMLURL)
	if err != nil {
		return nil, err
	}
	ev.Description, ev.Agenda = extractAgenda(desc)
	return ev, nil
}

// eventTime normalizes a DTSTART/DTEND value and appends its offset: the
// TZID zone's offset at that instant, or +0000.
func eventTime(cal *VCalendar, ev *VEvent, p ContentLine) (local, resolved string, err error) {
	local, err = TextToDate(p.Value)
	if err != nil {
		return "", "", &MappingError{Component: "VEVENT", Property: p.Name, Msg: "bad value", Err: err}
	}
	if len(local) == len(DateLayout) {
		ev.AllDay = true
		return local, local, nil
	}

	offset := "+0000"
	if tz, ok := p.Param("tzid"); ok && !strings.HasSuffix(p.Value, "Z") {
		ev.TZID = tz.Value()
		offset, err = ResolveOffset(cal, ev.TZID, local)
		if err != nil {
			return "", "", err
		}
	}
	return local, local + offset, nil
}

func utcStamp(component string, p ContentLine) (string, error) {
	if !strings.HasSuffix(p.Value, "Z") {
		return "", &MappingError{Component: component, Property: p.Name, Msg: "unexpected timezone, want UTC"}
	}
	dt, err := TextToDate(p.Value)
	if err != nil {
		return "", &MappingError{Component: component, Property: p.Name, Msg: "bad value", Err: err}
	}
	return dt + "+0000", nil
}

func participant(p ContentLine) Participant {
	var pp Participant
	if addr, ok := strings.CutPrefix(p.Value, "mailto:"); ok {
		pp.Mailto = addr
	} else {
		pp.Value = p.Value
	}
	for _, param := range p.Params {
		if param.Name == "rsvp" {
			rsvp := param.Value() != "FALSE"
			pp.RSVP = &rsvp
			continue
		}
		pp.Params = append(pp.Params, param)
	}
	return pp
}

// stripURLBoilerplate removes the "<html_url>\n\n" header every W3C meeting
// description starts with. Its absence means the feed is not what we
// expect and is fatal.
func stripURLBoilerplate(desc, htmlURL string) (string, error) {
	rest, ok := strings.CutPrefix(desc, htmlURL+descriptionSep)
	if !ok {
		return "", &MappingError{Component: "VEVENT", Property: "description", Msg: "missing W3C URL in description " + htmlURL}
	}
	return rest, nil
}

// extractAgendaURL pulls out a "\n\nAgenda: <url>" line. The URL runs to
// the next backslash or the end of the description.
func extractAgendaURL(desc, htmlURL string) (rest, agendaURL string, err error) {
	i := strings.Index(desc, agendaURLMarker)
	if i == -1 {
		return desc, "", nil
	}
	start := i + len(agendaURLMarker)
	end := strings.IndexByte(desc[start:], '\\')
	if end == -1 {
		end = len(desc)
	} else {
		end += start
	}
	agendaURL = desc[start:end]
	if !agendaURLPattern.MatchString(agendaURL) {
		return "", "", &MappingError{Component: "VEVENT", Property: "description", Msg: "invalid agenda URL " + strconv.Quote(agendaURL) + " in " + htmlURL}
	}
	return desc[:i] + desc[end:], agendaURL, nil
}

// extractAgenda splits off everything after a "\n\nAgenda\n\n" heading as
// the agenda, with escaped newlines turned into real ones.
func extractAgenda(desc string) (rest, agenda string) {
	i := strings.Index(desc, agendaBlockMarker)
	if i == -1 {
		return desc, ""
	}
	agenda = strings.ReplaceAll(desc[i+len(agendaBlockMarker):], `\n`, "\n")
	return desc[:i], agenda
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		seen := false
		for _, d := range dst {
			if d == v {
				seen = true
				break
			}
		}
		if !seen {
			dst = append(dst, v)
		}
	}
	return dst
}
