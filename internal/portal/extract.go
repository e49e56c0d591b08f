package portal

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"planningcal/internal/civil"
	"planningcal/internal/config"
	appLog "planningcal/internal/log"
	"planningcal/internal/metrics"
	"planningcal/internal/model"
)

// Planning table cell selectors, relative to a `tbody tr`.
const (
	selRow        = "tbody tr"
	selDate       = ".F2el_Prestas_ColDatI nobr"
	selStart      = ".F2el_Prestas_ColHeuI"
	selDuration   = ".F2el_Prestas_ColDurI"
	selInstructor = ".F2el_Prestas_ColMonI nobr"
	selType       = ".F2el_Prestas_ColTypI nobr"
)

var (
	errMissingField = errors.New("missing field")
	errBadDate      = errors.New("date is not <weekday> DD/MM/YY")
	errBadClock     = errors.New("start is not HHhMM")
	errBadDuration  = errors.New("duration is not a positive number of minutes")
)

// Row holds the raw text of one planning table row.
type Row struct {
	DateText     string
	StartText    string
	DurationText string
	Instructor   string
	TypeLabel    string
}

// Classify maps a free-text type label to an event type. Matching is
// case-insensitive and "simulateur" wins over "module".
func Classify(label string) model.EventType {
	l := strings.ToLower(label)
	switch {
	case strings.Contains(l, "simulateur"):
		return model.TypeSimulateur
	case strings.Contains(l, "module"):
		return model.TypeModule
	default:
		return model.TypeLecon
	}
}

// Locations resolves event types to a printable location.
type Locations map[model.EventType]config.Place

// NewLocations builds the lookup from configuration.
func NewLocations(c config.LocationsConfig) Locations {
	return Locations{
		model.TypeDefault:    c.Default,
		model.TypeLecon:      c.Lecon,
		model.TypeModule:     c.Module,
		model.TypeSimulateur: c.Simulateur,
	}
}

// Resolve returns "<name> (<address>)" for t when both are configured and
// the default place otherwise.
func (l Locations) Resolve(t model.EventType) string {
	if p, ok := l[t]; ok && p.Complete() {
		return formatPlace(p)
	}
	d := l[model.TypeDefault]
	if d.Name == "" {
		d.Name = config.DefaultLocationName
	}
	return formatPlace(d)
}

func formatPlace(p config.Place) string {
	if p.Address == "" {
		return p.Name
	}
	return p.Name + " (" + p.Address + ")"
}

// Extractor turns the planning page into events.
type Extractor struct {
	loc       *time.Location
	locations Locations
}

// NewExtractor returns an Extractor reading portal times in loc.
func NewExtractor(loc *time.Location, locations Locations) *Extractor {
	return &Extractor{loc: loc, locations: locations}
}

// Extract parses raw planning HTML.
func (e *Extractor) Extract(r io.Reader) ([]model.Event, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, err
	}
	return e.FromDocument(doc), nil
}

// FromDocument extracts one event per usable row, in page order. Rows whose
// date, start or duration is missing or malformed are skipped.
func (e *Extractor) FromDocument(doc *goquery.Document) []model.Event {
	events := make([]model.Event, 0)
	skipped := 0

	doc.Find(selRow).Each(func(i int, tr *goquery.Selection) {
		row := readRow(tr)
		ev, err := e.Event(row)
		if err != nil {
			skipped++
			appLog.Debug("planning row skipped", "index", i, "reason", err.Error())
			return
		}
		events = append(events, ev)
	})

	if skipped > 0 {
		metrics.SkippedRows.Add(float64(skipped))
	}
	appLog.Debug("planning rows extracted", "events", len(events), "skipped", skipped)
	return events
}

func readRow(tr *goquery.Selection) Row {
	text := func(sel string) string {
		return strings.TrimSpace(tr.Find(sel).Text())
	}
	return Row{
		DateText:     text(selDate),
		StartText:    text(selStart),
		DurationText: text(selDuration),
		Instructor:   text(selInstructor),
		TypeLabel:    text(selType),
	}
}

// Event converts one raw row. Any error means the row must be skipped.
func (e *Extractor) Event(row Row) (model.Event, error) {
	if row.DateText == "" || row.StartText == "" || row.DurationText == "" {
		return model.Event{}, errMissingField
	}

	y, m, d, err := ParseDate(row.DateText)
	if err != nil {
		return model.Event{}, err
	}
	hh, mm, err := ParseClock(row.StartText)
	if err != nil {
		return model.Event{}, err
	}
	dur, err := ParseDuration(row.DurationText)
	if err != nil {
		return model.Event{}, err
	}

	start, end, err := civil.Convert(e.loc, y, m, d, hh, mm, dur)
	if err != nil {
		return model.Event{}, err
	}

	typ := Classify(row.TypeLabel)
	return model.Event{
		Type:        typ,
		Title:       row.TypeLabel + " – " + row.Instructor,
		Description: describe(row),
		Location:    e.locations.Resolve(typ),
		Start:       start,
		End:         end,
	}, nil
}

func describe(row Row) string {
	return "Moniteur : " + row.Instructor + "\n" +
		"Type : " + row.TypeLabel + "\n" +
		"⏱️ Times are provided in UTC"
}

// ParseDate reads "<weekday> DD/MM/YY" (the weekday is ignored) and returns
// the four-digit year, month and day.
func ParseDate(s string) (year, month, day int, err error) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return 0, 0, 0, errBadDate
	}
	parts := strings.Split(fields[len(fields)-1], "/")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("%w: %q", errBadDate, s)
	}

	nums := make([]int, 3)
	for i, p := range parts {
		if !allDigits(p) {
			return 0, 0, 0, fmt.Errorf("%w: %q", errBadDate, s)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("%w: %q", errBadDate, s)
		}
		nums[i] = n
	}

	year, err = civil.ExpandYear(nums[2])
	if err != nil {
		return 0, 0, 0, err
	}
	return year, nums[1], nums[0], nil
}

// ParseClock reads "HHhMM". A bare "HHh" means minute zero.
func ParseClock(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "h")
	if !ok || !allDigits(h) || (m != "" && !allDigits(m)) {
		return 0, 0, fmt.Errorf("%w: %q", errBadClock, s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %q", errBadClock, s)
	}
	if m != "" {
		minute, err = strconv.Atoi(m)
		if err != nil {
			return 0, 0, fmt.Errorf("%w: %q", errBadClock, s)
		}
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("%w: %q", errBadClock, s)
	}
	return hour, minute, nil
}

// allDigits reports whether s is a non-empty run of ASCII digits; it keeps
// strconv.Atoi from accepting signs.
func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ParseDuration reads the leading integer of s as minutes ("60", "60 min").
func ParseDuration(s string) (int, error) {
	s = strings.TrimSpace(s)
	end := 0
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		end++
	}
	if end == 0 {
		return 0, fmt.Errorf("%w: %q", errBadDuration, s)
	}
	n, err := strconv.Atoi(s[:end])
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", errBadDuration, s)
	}
	return n, nil
}
