// Package civil converts portal wall-clock readings into event start/end
// readings. Every function takes the zone explicitly; the host's local zone
// is never used.
package civil

import (
	"errors"
	"fmt"
	"time"

	"planningcal/internal/model"
)

var (
	ErrInvalidDuration = errors.New("civil: duration must be positive")
	ErrInvalidYear     = errors.New("civil: two-digit year out of range")
	ErrInvalidDate     = errors.New("civil: invalid calendar date")
	ErrInvalidClock    = errors.New("civil: invalid time of day")
)

// century is the implicit base for two-digit years printed by the portal.
const century = 2000

// ExpandYear maps a two-digit year (0-99) to 2000+yy.
func ExpandYear(yy int) (int, error) {
	if yy < 0 || yy > 99 {
		return 0, fmt.Errorf("%w: %d", ErrInvalidYear, yy)
	}
	return century + yy, nil
}

// Convert validates a (year, month, day, hour, minute) reading in loc and
// returns it together with the reading durationMin minutes of elapsed time
// later. Day, month and year rollover as well as DST shifts follow from
// doing the arithmetic on absolute instants.
func Convert(loc *time.Location, year, month, day, hour, minute, durationMin int) (start, end model.CivilTime, err error) {
	if loc == nil {
		return start, end, errors.New("civil: nil location")
	}
	if durationMin <= 0 {
		return start, end, fmt.Errorf("%w: %d", ErrInvalidDuration, durationMin)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return start, end, fmt.Errorf("%w: %02d:%02d", ErrInvalidClock, hour, minute)
	}

	t0 := time.Date(year, time.Month(month), day, hour, minute, 0, 0, loc)
	// time.Date silently normalizes 31/02 into March; reject instead.
	if t0.Year() != year || int(t0.Month()) != month || t0.Day() != day {
		if !inDSTGap(t0, year, month, day) {
			return start, end, fmt.Errorf("%w: %02d/%02d/%04d", ErrInvalidDate, day, month, year)
		}
	}

	t1 := t0.Add(time.Duration(durationMin) * time.Minute)
	return model.FromTime(t0), model.FromTime(t1), nil
}

// inDSTGap reports whether a date mismatch comes from a local time that was
// skipped by a forward DST shift around midnight rather than a bad date.
func inDSTGap(t time.Time, year, month, day int) bool {
	noon := time.Date(year, time.Month(month), day, 12, 0, 0, 0, t.Location())
	return noon.Year() == year && int(noon.Month()) == month && noon.Day() == day
}

// Minutes returns the elapsed minutes between two readings in loc.
func Minutes(loc *time.Location, start, end model.CivilTime) int {
	return int(end.In(loc).Sub(start.In(loc)) / time.Minute)
}
