package web

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"time"

	"planningcal/internal/cache"
	appLog "planningcal/internal/log"
	"planningcal/internal/metrics"
)

const (
	calendarContentType = "text/calendar; charset=utf-8"
	calendarDisposition = `attachment; filename=sarool-planning.ics`
)

// CalendarSource is the part of the cache the handler needs.
type CalendarSource interface {
	GetOrRefresh(ctx context.Context) (*cache.Artifact, error)
}

// Server serves the calendar subscription endpoint.
//
//   - GET /planning?token=...  calendar file
//   - GET /health              liveness, no auth
//   - GET /metrics             Prometheus exposition
type Server struct {
	token    string
	calendar CalendarSource
	mux      *http.ServeMux
}

// NewServer constructs a new Server. token is compared against ?token=.
func NewServer(token string, calendar CalendarSource) *Server {
	s := &Server{
		token:    token,
		calendar: calendar,
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler for this server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/planning", s.handlePlanning)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", metrics.Handler())
}

// Run serves on listen until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", listen)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handlePlanning checks the token before touching the cache, so rejected
// requests never reach the portal.
func (s *Server) handlePlanning(w http.ResponseWriter, r *http.Request) {
	t0 := time.Now()

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		s.fail(w, http.StatusMethodNotAllowed, "Method Not Allowed")
		return
	}

	if !secureCompare(r.URL.Query().Get("token"), s.token) {
		appLog.Warn("planning request rejected", "remote", r.RemoteAddr)
		s.fail(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	a, err := s.calendar.GetOrRefresh(r.Context())
	if err != nil {
		appLog.Error("planning request failed", err, "duration_ms", appLog.Since(t0))
		s.fail(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", calendarContentType)
	w.Header().Set("Content-Disposition", calendarDisposition)
	w.Header().Set("Content-Length", strconv.Itoa(len(a.Body)))
	w.Header().Set("Last-Modified", a.BuiltAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(a.Body)
	}

	metrics.Requests.WithLabelValues(strconv.Itoa(http.StatusOK)).Inc()
	appLog.Info("planning served", "events", a.EventCount, "duration_ms", appLog.Since(t0))
}

func (s *Server) fail(w http.ResponseWriter, status int, msg string) {
	metrics.Requests.WithLabelValues(strconv.Itoa(status)).Inc()
	http.Error(w, msg, status)
}

// secureCompare compares two strings in constant time.
func secureCompare(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
