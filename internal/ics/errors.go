package ics

import (
	"errors"
	"fmt"
)

var (
	// ErrStructure matches every *ParseError.
	ErrStructure = errors.New("ics: malformed structure")
	// ErrMapping matches every *MappingError.
	ErrMapping = errors.New("ics: invalid calendar data")
	// ErrTimezone matches every *TimezoneError.
	ErrTimezone = errors.New("ics: timezone resolution failed")
)

// ParseError reports a malformed content line or a BEGIN/END mismatch.
// Line is the 1-based logical line number after unfolding, 0 if unknown.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	if e.Line > 0 {
		return fmt.Sprintf("ics: line %d: %s", e.Line, e.Msg)
	}
	return "ics: " + e.Msg
}

func (e *ParseError) Is(target error) bool { return target == ErrStructure }

// MappingError reports well-formed input that does not fit the calendar
// model: duplicate properties, a missing UID, unexpected description
// boilerplate and the like.
type MappingError struct {
	Component string
	Property  string
	Msg       string
	Err       error
}

func (e *MappingError) Error() string {
	s := "ics: " + e.Component
	if e.Property != "" {
		s += " " + e.Property
	}
	s += ": " + e.Msg
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *MappingError) Is(target error) bool { return target == ErrMapping }

func (e *MappingError) Unwrap() error { return e.Err }

// TimezoneError reports a TZID that cannot be resolved to an offset.
type TimezoneError struct {
	TZID string
	Msg  string
}

func (e *TimezoneError) Error() string {
	return fmt.Sprintf("ics: timezone %q: %s", e.TZID, e.Msg)
}

func (e *TimezoneError) Is(target error) bool { return target == ErrTimezone }

func duplicateEntry(component, property string) error {
	return &MappingError{Component: component, Property: property, Msg: "duplicate " + property + " entry"}
}
