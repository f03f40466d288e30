package model

import "time"

// Occurrence represents a single concrete instance of a calendar event
// (after recurrence expansion and timezone normalization).
type Occurrence struct {
	SourceID string `json:"source_id"` // calendar source ID
	UID      string `json:"uid"`       // iCalendar UID

	// InstanceKey uniquely identifies a single occurrence of a recurring
	// event, derived from the start time.
	InstanceKey string `json:"instance_key"`

	Summary     string   `json:"summary"`
	Description string   `json:"description,omitempty"`
	Location    string   `json:"location,omitempty"`
	Status      string   `json:"status,omitempty"`
	Categories  []string `json:"categories,omitempty"`

	// HTMLURL is the meeting page; AgendaURL and Agenda come from the
	// event description.
	HTMLURL   string `json:"html_url,omitempty"`
	AgendaURL string `json:"agenda_url,omitempty"`
	Agenda    string `json:"agenda,omitempty"`

	AllDay bool `json:"all_day"`

	// Start / End are in the configured display timezone.
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
