package portal

import (
	"context"
	"fmt"
	"time"

	"github.com/PuerkitoBio/goquery"

	appLog "planningcal/internal/log"
	"planningcal/internal/model"
)

// loginFieldSelector matches the e-mail input of the login form. Seeing it on
// the planning page means the portal bounced us back to the login page.
const loginFieldSelector = `input[name="ctl00$MainContent$Email"]`

// Fetcher downloads the planning page and extracts its events.
type Fetcher struct {
	session   *Session
	extractor *Extractor
}

// NewFetcher wires a session and an extractor.
func NewFetcher(session *Session, extractor *Extractor) *Fetcher {
	return &Fetcher{session: session, extractor: extractor}
}

// Fetch logs in if needed, downloads the planning and returns its events in
// page order. Errors are returned as-is; no retry happens here.
//
// A session cookie can be present while the server already expired it. The
// portal then serves the login form instead of the planning; that case is
// reported as ErrAuthFailed and the jar is reset so that the next refresh
// logs in again instead of returning an empty calendar.
func (f *Fetcher) Fetch(ctx context.Context) ([]model.Event, error) {
	if err := f.session.EnsureAuthenticated(ctx); err != nil {
		return nil, err
	}

	t0 := time.Now()
	appLog.Info("planning fetch start", "path", PlanningPath)

	doc, err := f.session.GetDocument(ctx, PlanningPath)
	if err != nil {
		return nil, fmt.Errorf("portal: planning: %w", err)
	}

	if isLoginPage(doc) {
		if ierr := f.session.Invalidate(); ierr != nil {
			appLog.Error("portal session reset failed", ierr)
		}
		return nil, fmt.Errorf("%w: session expired, planning page shows the login form", ErrAuthFailed)
	}

	events := f.extractor.FromDocument(doc)
	if len(events) == 0 {
		appLog.Warn("planning has no events", "duration_ms", appLog.Since(t0))
	} else {
		appLog.Info("planning fetch done", "events", len(events), "duration_ms", appLog.Since(t0))
	}
	return events, nil
}

func isLoginPage(doc *goquery.Document) bool {
	return doc.Find(loginFieldSelector).Length() > 0
}
