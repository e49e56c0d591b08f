package ics

import (
	"bytes"
	"errors"
	"fmt"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	appLog "planningcal/internal/log"
	"planningcal/internal/model"
)

// ErrEncodeFailed is returned when an event cannot be represented.
var ErrEncodeFailed = errors.New("ics: encode failed")

const productID = "-//planningcal//Sarool Planning//FR"

// uidNamespace scopes generated event UIDs.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://www.sarool.fr/informations/planning"))

// Encoder renders events as a VCALENDAR with UTC start/end times.
type Encoder struct {
	// Location is the zone the events' civil times are expressed in.
	Location *time.Location
	// Name is written as X-WR-CALNAME and NAME.
	Name string

	// Now stamps DTSTAMP; defaults to time.Now.
	Now func() time.Time
}

// NewEncoder returns an Encoder for events read in loc.
func NewEncoder(loc *time.Location, name string) *Encoder {
	return &Encoder{Location: loc, Name: name, Now: time.Now}
}

// Encode serializes events in order. An event without a title or whose end
// is not after its start fails the whole calendar with ErrEncodeFailed.
func (e *Encoder) Encode(events []model.Event) ([]byte, error) {
	if e.Location == nil {
		return nil, fmt.Errorf("%w: no timezone", ErrEncodeFailed)
	}
	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	t0 := time.Now()
	stamp := now().UTC()

	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if e.Name != "" {
		cal.SetName(e.Name)
		cal.SetXWRCalName(e.Name)
	}

	for i, ev := range events {
		start := ev.Start.UTC(e.Location)
		end := ev.End.UTC(e.Location)
		if ev.Title == "" {
			return nil, fmt.Errorf("%w: event %d has no title", ErrEncodeFailed, i)
		}
		if !end.After(start) {
			return nil, fmt.Errorf("%w: event %d %q ends at %s, before its start %s", ErrEncodeFailed, i, ev.Title, end.Format(time.RFC3339), start.Format(time.RFC3339))
		}

		vev := cal.AddEvent(EventUID(start, ev.Title))
		vev.SetDtStampTime(stamp)
		vev.SetStartAt(start)
		vev.SetEndAt(end)
		vev.SetSummary(ev.Title)
		if ev.Location != "" {
			vev.SetLocation(ev.Location)
		}
		if ev.Description != "" {
			vev.SetDescription(ev.Description)
		}
	}

	var buf bytes.Buffer
	if err := cal.SerializeTo(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncodeFailed, err)
	}

	appLog.Debug("ics encoded", "events", len(events), "bytes", buf.Len(), "duration_ms", appLog.Since(t0))
	return buf.Bytes(), nil
}

// EventUID is stable for a given start instant and title, so calendar
// clients update events in place across refreshes.
func EventUID(startUTC time.Time, title string) string {
	key := startUTC.UTC().Format(time.RFC3339) + "|" + title
	return uuid.NewSHA1(uidNamespace, []byte(key)).String() + "@planningcal"
}
