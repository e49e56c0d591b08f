package ics

import (
	"bytes"
	"errors"
	"time"

	ical "github.com/arran4/golang-ical"
)

// ParsedEvent is the read-back view of one VEVENT.
type ParsedEvent struct {
	UID string

	Summary     string
	Description string
	Location    string

	Start time.Time
	End   time.Time
}

// ParsedCalendar is the read-back view of an encoded calendar.
type ParsedCalendar struct {
	Name   string
	Events []ParsedEvent
}

// ParseICS reads a VCALENDAR payload back into plain values. The --once
// mode uses it to summarize what it built; tests use it to check Encode.
func ParseICS(body []byte) (ParsedCalendar, error) {
	var out ParsedCalendar
	if len(body) == 0 {
		return out, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		return out, err
	}

	for _, p := range cal.CalendarProperties {
		if p.IANAToken == string(ical.PropertyXWRCalName) {
			out.Name = p.Value
		}
	}

	for _, ve := range cal.Events() {
		var ev ParsedEvent
		if p := ve.GetProperty(ical.ComponentPropertyUniqueId); p != nil {
			ev.UID = p.Value
		}
		if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
			ev.Summary = p.Value
		}
		if p := ve.GetProperty(ical.ComponentPropertyDescription); p != nil {
			ev.Description = p.Value
		}
		if p := ve.GetProperty(ical.ComponentPropertyLocation); p != nil {
			ev.Location = p.Value
		}
		if ev.Start, err = ve.GetStartAt(); err != nil {
			return out, err
		}
		if ev.End, err = ve.GetEndAt(); err != nil {
			return out, err
		}
		out.Events = append(out.Events, ev)
	}
	return out, nil
}
