package ics

import (
	"fmt"
	"time"
)

const (
	// LocalLayout is the normalized date-time text produced by TextToDate.
	LocalLayout = "2006-01-02T15:04:05"
	// OffsetLayout parses normalized text with its resolved offset ("Z" or ±hhmm).
	OffsetLayout = "2006-01-02T15:04:05Z0700"
	// DateLayout is the normalized form of DATE values.
	DateLayout = "2006-01-02"
)

// TextToDate slices a basic-format value into its extended form:
// YYYYMMDDTHHMMSS[Z] becomes YYYY-MM-DDTHH:MM:SS and YYYYMMDD becomes
// YYYY-MM-DD. A trailing Z is dropped; callers append the offset they
// resolved. No calendar validation is done beyond the digit positions.
func TextToDate(text string) (string, error) {
	switch {
	case len(text) == 8:
		if !digits(text) {
			return "", fmt.Errorf("invalid date %q", text)
		}
		return text[0:4] + "-" + text[4:6] + "-" + text[6:8], nil
	case len(text) == 15 || len(text) == 16 && text[15] == 'Z':
		if text[8] != 'T' || !digits(text[0:8]) || !digits(text[9:15]) {
			return "", fmt.Errorf("invalid date-time %q", text)
		}
		return text[0:4] + "-" + text[4:6] + "-" + text[6:8] + "T" +
			text[9:11] + ":" + text[11:13] + ":" + text[13:15], nil
	}
	return "", fmt.Errorf("invalid date-time %q", text)
}

// ParseResolved parses normalized text with an appended offset, as found in
// VEvent.DTStart, into a time.Time with a fixed zone. Plain dates are
// interpreted in loc.
func ParseResolved(s string, loc *time.Location) (time.Time, error) {
	if len(s) == len(DateLayout) {
		if loc == nil {
			loc = time.UTC
		}
		return time.ParseInLocation(DateLayout, s, loc)
	}
	return time.Parse(OffsetLayout, s)
}

func digits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
