// Package portal talks to the driving-school web portal: form login with a
// cookie-backed session, planning page download and row extraction.
package portal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/publicsuffix"

	appLog "planningcal/internal/log"
	"planningcal/internal/metrics"
)

const (
	// SessionCookie is set by the portal once the login form is accepted.
	SessionCookie = ".AspNet.ApplicationCookie"

	LoginPath    = "/compte/connexion"
	PlanningPath = "/informations/planning"

	userAgent = "planningcal/1.0 (+calendar subscription)"

	// The portal answers a successful login with 302 to the dashboard.
	loginSuccessStatus = http.StatusFound

	// Upper bound on upstream page size.
	maxBodyBytes = 8 << 20
)

// SessionConfig is what a Session needs to log in.
type SessionConfig struct {
	BaseURL  string
	Email    string
	Password string
	Timeout  time.Duration
}

// Session owns the authenticated HTTP client for the portal. All requests
// share one cookie jar scoped by the public-suffix list.
type Session struct {
	base     *url.URL
	email    string
	password string
	timeout  time.Duration

	mu     sync.Mutex
	client *http.Client
}

// NewSession creates a logged-out session.
func NewSession(cfg SessionConfig) (*Session, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("portal: base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("portal: base url %q is not absolute", cfg.BaseURL)
	}

	s := &Session{
		base:     base,
		email:    cfg.Email,
		password: cfg.Password,
		timeout:  cfg.Timeout,
	}
	if err := s.Invalidate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Invalidate drops every cookie by swapping in a fresh jar. The next
// EnsureAuthenticated performs a full login.
func (s *Session) Invalidate() error {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.client = &http.Client{Jar: jar, Timeout: s.timeout}
	s.mu.Unlock()
	return nil
}

func (s *Session) httpClient() *http.Client {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client
}

// Authenticated reports whether the jar holds the portal session cookie.
// A present cookie may still be expired on the server side.
func (s *Session) Authenticated() bool {
	for _, c := range s.httpClient().Jar.Cookies(s.base) {
		if c.Name == SessionCookie {
			return true
		}
	}
	return false
}

// EnsureAuthenticated logs in unless the session cookie is already present.
func (s *Session) EnsureAuthenticated(ctx context.Context) error {
	if s.Authenticated() {
		appLog.Debug("portal session cookie present, skipping login")
		return nil
	}

	t0 := time.Now()
	appLog.Info("portal login start", "url", s.endpoint(LoginPath))

	err := s.login(ctx)
	if err != nil {
		metrics.Logins.WithLabelValues(metrics.ResultError).Inc()
		appLog.Error("portal login failed", err, "duration_ms", appLog.Since(t0))
		return err
	}

	metrics.Logins.WithLabelValues(metrics.ResultOK).Inc()
	appLog.Info("portal login ok", "duration_ms", appLog.Since(t0))
	return nil
}

// loginTokens are the WebForms hidden fields that must be echoed back.
type loginTokens struct {
	ViewState          string
	ViewStateGenerator string
	EventValidation    string
}

func (s *Session) login(ctx context.Context) error {
	doc, err := s.GetDocument(ctx, LoginPath)
	if err != nil {
		return fmt.Errorf("portal: load login page: %w", err)
	}

	tokens, err := parseLoginTokens(doc)
	if err != nil {
		return err
	}

	form := url.Values{
		"rssManager_TSSM":              {""},
		"__EVENTTARGET":                {""},
		"__EVENTARGUMENT":              {""},
		"__VIEWSTATE":                  {tokens.ViewState},
		"__VIEWSTATEGENERATOR":         {tokens.ViewStateGenerator},
		"__EVENTVALIDATION":            {tokens.EventValidation},
		"ctl00$MainContent$Email":      {s.email},
		"ctl00$MainContent$Password":   {s.password},
		"ctl00$MainContent$ctl05":      {"Connexion"},
		"wdwManager_ClientState":       {""},
		"wdwManagerOuiNon_ClientState": {""},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint(LoginPath), strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Referer", s.endpoint(LoginPath))
	req.Header.Set("User-Agent", userAgent)

	// Same jar, but keep the 302 so its status can be checked.
	noRedirect := *s.httpClient()
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}

	resp, err := noRedirect.Do(req)
	if err != nil {
		return fmt.Errorf("portal: submit login: %w", err)
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	resp.Body.Close()

	if resp.StatusCode != loginSuccessStatus {
		return fmt.Errorf("%w: login answered %d", ErrAuthFailed, resp.StatusCode)
	}
	if !s.Authenticated() {
		return fmt.Errorf("%w: no %s cookie after login", ErrAuthFailed, SessionCookie)
	}
	return nil
}

func parseLoginTokens(doc *goquery.Document) (loginTokens, error) {
	val := func(id string) string {
		v, _ := doc.Find("#" + id).Attr("value")
		return v
	}
	t := loginTokens{
		ViewState:          val("__VIEWSTATE"),
		ViewStateGenerator: val("__VIEWSTATEGENERATOR"),
		EventValidation:    val("__EVENTVALIDATION"),
	}

	var missing []string
	if t.ViewState == "" {
		missing = append(missing, "__VIEWSTATE")
	}
	if t.EventValidation == "" {
		missing = append(missing, "__EVENTVALIDATION")
	}
	if len(missing) > 0 {
		return t, fmt.Errorf("%w: %s", ErrAuthTokenMissing, strings.Join(missing, ", "))
	}
	return t, nil
}

// GetDocument issues an authenticated-jar GET for path and parses the HTML.
// Non-2xx answers are errors.
func (s *Session) GetDocument(ctx context.Context, path string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.endpoint(path), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.httpClient().Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.New("GET " + path + ": " + resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("GET %s: parse html: %w", path, err)
	}
	return doc, nil
}

func (s *Session) endpoint(path string) string {
	return s.base.String() + path
}
