package ics

import "strings"

func crlfJoin(lines ...string) string {
	return strings.Join(lines, "\r\n") + "\r\n"
}

// meetingCalendar is a trimmed export of a W3C group calendar: one weekly
// series and an override of its second instance.
var meetingCalendar = crlfJoin(
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//W3C//Group Calendar//EN",
	"BEGIN:VTIMEZONE",
	"TZID:America/New_York",
	"BEGIN:STANDARD",
	"DTSTART:20201101T020000",
	"TZOFFSETFROM:-0400",
	"TZOFFSETTO:-0500",
	"TZNAME:EST",
	"END:STANDARD",
	"BEGIN:DAYLIGHT",
	"DTSTART:20200308T020000",
	"TZOFFSETFROM:-0500",
	"TZOFFSETTO:-0400",
	"TZNAME:EDT",
	"END:DAYLIGHT",
	"BEGIN:STANDARD",
	"DTSTART:20191103T020000",
	"TZOFFSETFROM:-0400",
	"TZOFFSETTO:-0500",
	"TZNAME:EST",
	"END:STANDARD",
	"END:VTIMEZONE",
	"BEGIN:VEVENT",
	"UID:4f6a2b1c-weekly",
	"SEQUENCE:2",
	"SUMMARY:Weekly call\\, all hands",
	"DTSTART;TZID=America/New_York:20200715T090000",
	"DTEND;TZID=America/New_York:20200715T100000",
	"DTSTAMP:20200701T120000Z",
	"CREATED:20200610T080000Z",
	"LAST-MODIFIED:20200701T115900Z",
	"STATUS:CONFIRMED",
	"LOCATION:Zoom",
	"CATEGORIES:Group meeting,Working Group,Group meeting",
	"RRULE:FREQ=WEEKLY;UNTIL=20200731T130000Z;BYDAY=WE",
	"ORGANIZER;CN=\"Doe, Jane\":mailto:jane@example.org",
	"ATTENDEE;RSVP=FALSE;ROLE=REQ-PARTICIPANT:mailto:team@example.org",
	"ATTENDEE:https://www.w3.org/users/42",
	"RELATED-TO:parent-series",
	"X-W3C-GROUP:css",
	"DESCRIPTION:https://www.w3.org/events/meetings/4f6a2b1c-weekly/\\n\\nThe weekly",
	"  call of the group.\\n\\nAgenda: https://github.com/w3c/csswg-drafts/issues/1\\",
	" n\\nAgenda\\n\\n1. Introductions\\n2. Open issues",
	"END:VEVENT",
	"BEGIN:VEVENT",
	"UID:4f6a2b1c-weekly",
	"RECURRENCE-ID;TZID=America/New_York:20200722T090000",
	"SUMMARY:Weekly call (moved)",
	"DTSTART;TZID=America/New_York:20200722T110000",
	"DTEND;TZID=America/New_York:20200722T120000",
	"DTSTAMP:20200718T090000Z",
	"DESCRIPTION:https://www.w3.org/events/meetings/4f6a2b1c-weekly/20200722T0900",
	" 00/\\n\\nMoved by two hours.",
	"END:VEVENT",
	"END:VCALENDAR",
)

// genericCalendar does not follow the W3C meeting conventions.
var genericCalendar = crlfJoin(
	"BEGIN:VCALENDAR",
	"VERSION:2.0",
	"PRODID:-//Example//Holidays//EN",
	"BEGIN:VEVENT",
	"UID:holiday-1",
	"SUMMARY:Holiday",
	"DTSTART;VALUE=DATE:20200703",
	"DTEND;VALUE=DATE:20200704",
	"DTSTAMP:20200101T000000Z",
	"DESCRIPTION:Office closed",
	"END:VEVENT",
	"END:VCALENDAR",
)
