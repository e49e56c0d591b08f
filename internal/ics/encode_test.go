package ics

import (
	"strings"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planningcal/internal/civil"
	"planningcal/internal/model"
)

func testEncoder(t *testing.T) *Encoder {
	t.Helper()
	loc, err := time.LoadLocation("Europe/Paris")
	require.NoError(t, err)
	enc := NewEncoder(loc, "Sarool Planning (UTC)")
	enc.Now = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }
	return enc
}

func lesson(day, hour int, title string) model.Event {
	return model.Event{
		Type:        model.TypeLecon,
		Title:       title,
		Description: "Moniteur : Dupont",
		Location:    "Agence (1 rue A)",
		Start:       model.CivilTime{Year: 2024, Month: 3, Day: day, Hour: hour, Minute: 30},
		End:         model.CivilTime{Year: 2024, Month: 3, Day: day, Hour: hour + 1, Minute: 30},
	}
}

func TestEncodeUTC(t *testing.T) {
	enc := testEncoder(t)

	body, err := enc.Encode([]model.Event{
		lesson(12, 9, "Leçon conduite – Dupont"),
		lesson(14, 17, "Module 1 – Durand"),
	})
	require.NoError(t, err)

	raw := string(body)
	assert.Contains(t, raw, "BEGIN:VCALENDAR")
	assert.Contains(t, raw, "METHOD:PUBLISH")
	assert.Contains(t, raw, "DTSTART:20240312T083000Z", "09:30 CET is 08:30 UTC")
	assert.Contains(t, raw, "DTEND:20240312T093000Z")

	cal, err := ParseICS(body)
	require.NoError(t, err)
	assert.Equal(t, "Sarool Planning (UTC)", cal.Name)
	require.Len(t, cal.Events, 2)

	first := cal.Events[0]
	assert.Equal(t, "Leçon conduite – Dupont", first.Summary)
	assert.Equal(t, "Agence (1 rue A)", first.Location)
	assert.True(t, first.Start.Equal(time.Date(2024, 3, 12, 8, 30, 0, 0, time.UTC)))
	assert.True(t, first.End.Equal(time.Date(2024, 3, 12, 9, 30, 0, 0, time.UTC)))
	assert.Equal(t, "Module 1 – Durand", cal.Events[1].Summary)
}

func TestEncodeAcrossFallBack(t *testing.T) {
	enc := testEncoder(t)

	tests := []struct {
		hour, minute, dur int
		wantStart         time.Time
	}{
		{1, 45, 30, time.Date(2024, 10, 26, 23, 45, 0, 0, time.UTC)},
		{1, 0, 90, time.Date(2024, 10, 26, 23, 0, 0, 0, time.UTC)},
		{1, 30, 120, time.Date(2024, 10, 26, 23, 30, 0, 0, time.UTC)},
	}

	events := make([]model.Event, 0, len(tests))
	for _, tc := range tests {
		start, end, err := civil.Convert(enc.Location, 2024, 10, 27, tc.hour, tc.minute, tc.dur)
		require.NoError(t, err)
		events = append(events, model.Event{Title: "Leçon", Start: start, End: end})
	}

	body, err := enc.Encode(events)
	require.NoError(t, err)
	cal, err := ParseICS(body)
	require.NoError(t, err)
	require.Len(t, cal.Events, len(tests))

	for i, tc := range tests {
		got := cal.Events[i]
		assert.True(t, got.Start.Equal(tc.wantStart), "event %d start %s", i, got.Start)
		assert.Equal(t, time.Duration(tc.dur)*time.Minute, got.End.Sub(got.Start), "event %d", i)
	}
}

func TestEncodeEmpty(t *testing.T) {
	body, err := testEncoder(t).Encode(nil)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(body), "BEGIN:VCALENDAR"))

	cal, err := ParseICS(body)
	require.NoError(t, err)
	assert.Empty(t, cal.Events)
}

func TestEncodeRejectsMalformedEvents(t *testing.T) {
	enc := testEncoder(t)

	backwards := lesson(12, 9, "Leçon")
	backwards.End = backwards.Start
	_, err := enc.Encode([]model.Event{backwards})
	assert.ErrorIs(t, err, ErrEncodeFailed)

	_, err = enc.Encode([]model.Event{lesson(12, 9, "")})
	assert.ErrorIs(t, err, ErrEncodeFailed)

	_, err = (&Encoder{}).Encode(nil)
	assert.ErrorIs(t, err, ErrEncodeFailed)
}

func TestEventUIDStable(t *testing.T) {
	start := time.Date(2024, 3, 12, 8, 30, 0, 0, time.UTC)

	a := EventUID(start, "Leçon – Dupont")
	b := EventUID(start.In(time.FixedZone("x", 3600)), "Leçon – Dupont")
	c := EventUID(start, "Leçon – Martin")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.True(t, strings.HasSuffix(a, "@planningcal"))
}

func TestParseICSEmpty(t *testing.T) {
	_, err := ParseICS(nil)
	assert.Error(t, err)
}
