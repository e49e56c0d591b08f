package model

import (
	"fmt"
	"time"
)

// EventType is the classification of a planning row, used to pick a location.
type EventType string

const (
	TypeLecon      EventType = "lecon"
	TypeModule     EventType = "module"
	TypeSimulateur EventType = "simulateur"
	TypeDefault    EventType = "default"
)

// CivilTime is a wall-clock reading (minute precision) in some zone that is
// carried alongside, never inside, the value.
//
// When HasOffset is set, Offset (seconds east of UTC) pins the reading to one
// instant. That matters inside the repeated hour of a DST fall-back, where the
// same reading occurs twice.
type CivilTime struct {
	Year   int
	Month  int
	Day    int
	Hour   int
	Minute int

	Offset    int
	HasOffset bool
}

// In resolves the civil reading in loc. Without an offset, ambiguous and
// non-existent local times are resolved the way time.Date does it.
func (c CivilTime) In(loc *time.Location) time.Time {
	t := time.Date(c.Year, time.Month(c.Month), c.Day, c.Hour, c.Minute, 0, 0, loc)
	if !c.HasOffset {
		return t
	}
	if _, off := t.Zone(); off == c.Offset {
		return t
	}
	fixed := time.FixedZone("", c.Offset)
	return time.Date(c.Year, time.Month(c.Month), c.Day, c.Hour, c.Minute, 0, 0, fixed).In(loc)
}

// Wall drops the offset, leaving the bare reading.
func (c CivilTime) Wall() CivilTime {
	return CivilTime{Year: c.Year, Month: c.Month, Day: c.Day, Hour: c.Hour, Minute: c.Minute}
}

// UTC is the absolute instant of the reading in loc, expressed in UTC.
func (c CivilTime) UTC(loc *time.Location) time.Time {
	return c.In(loc).UTC()
}

func (c CivilTime) String() string {
	return fmt.Sprintf("%04d-%02d-%02d %02d:%02d", c.Year, c.Month, c.Day, c.Hour, c.Minute)
}

// FromTime reads the civil fields and UTC offset of t in its own location.
func FromTime(t time.Time) CivilTime {
	_, off := t.Zone()
	return CivilTime{
		Year:      t.Year(),
		Month:     int(t.Month()),
		Day:       t.Day(),
		Hour:      t.Hour(),
		Minute:    t.Minute(),
		Offset:    off,
		HasOffset: true,
	}
}

// Event is one planning slot, ready for calendar encoding.
// Start and End are civil readings in the portal's timezone; End is always
// strictly after Start.
type Event struct {
	Type EventType

	Title       string
	Description string
	Location    string

	Start CivilTime
	End   CivilTime
}
