package portal

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

const (
	testEmail    = "eleve@example.com"
	testPassword = "s3cret"
	testCookie   = "session-value"
)

const loginPageHTML = `<html><body><form method="post" action="/compte/connexion">
<input type="hidden" name="__VIEWSTATE" id="__VIEWSTATE" value="vs-token" />
<input type="hidden" name="__VIEWSTATEGENERATOR" id="__VIEWSTATEGENERATOR" value="gen-token" />
<input type="hidden" name="__EVENTVALIDATION" id="__EVENTVALIDATION" value="ev-token" />
<input name="ctl00$MainContent$Email" type="text" />
<input name="ctl00$MainContent$Password" type="password" />
<input type="submit" name="ctl00$MainContent$ctl05" value="Connexion" />
</form></body></html>`

const loginPageNoTokens = `<html><body><form method="post">
<input name="ctl00$MainContent$Email" type="text" />
</form></body></html>`

// planningRow renders one row the way the portal lays out its table.
func planningRow(date, start, duration, instructor, label string) string {
	return fmt.Sprintf(`<tr>
<td class="F2el_Prestas_ColDatI"><nobr>%s</nobr></td>
<td class="F2el_Prestas_ColHeuI">%s</td>
<td class="F2el_Prestas_ColDurI">%s</td>
<td class="F2el_Prestas_ColMonI"><nobr>%s</nobr></td>
<td class="F2el_Prestas_ColTypI"><nobr>%s</nobr></td>
</tr>`, date, start, duration, instructor, label)
}

func planningPage(rows ...string) string {
	return `<html><body><table><thead><tr><th>Date</th></tr></thead><tbody>` +
		strings.Join(rows, "\n") + `</tbody></table></body></html>`
}

// fakePortal mimics the portal's WebForms login and planning pages.
type fakePortal struct {
	t      *testing.T
	server *httptest.Server

	loginGets    atomic.Int32
	loginPosts   atomic.Int32
	planningGets atomic.Int32

	mu           sync.Mutex
	loginHTML    string
	planningHTML string
	rejectLogin  bool
	skipCookie   bool
	lastForm     map[string]string
	validCookie  string
	planningWait chan struct{}
}

func newFakePortal(t *testing.T) *fakePortal {
	t.Helper()
	p := &fakePortal{
		t:            t,
		loginHTML:    loginPageHTML,
		planningHTML: planningPage(planningRow("lun 12/03/24", "09h30", "60", "Dupont", "Leçon conduite")),
		validCookie:  testCookie,
	}

	mux := http.NewServeMux()
	mux.HandleFunc(LoginPath, p.handleLogin)
	mux.HandleFunc(PlanningPath, p.handlePlanning)
	p.server = httptest.NewServer(mux)
	t.Cleanup(p.server.Close)
	return p
}

func (p *fakePortal) URL() string { return p.server.URL }

func (p *fakePortal) set(fn func(p *fakePortal)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p)
}

// expireSessions makes the server forget every issued cookie.
func (p *fakePortal) expireSessions() {
	p.set(func(p *fakePortal) { p.validCookie = fmt.Sprintf("rotated-%d", time.Now().UnixNano()) })
}

func (p *fakePortal) handleLogin(w http.ResponseWriter, r *http.Request) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch r.Method {
	case http.MethodGet:
		p.loginGets.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(p.loginHTML))
	case http.MethodPost:
		p.loginPosts.Add(1)
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		p.lastForm = make(map[string]string)
		for k := range r.PostForm {
			p.lastForm[k] = r.PostForm.Get(k)
		}
		if p.rejectLogin ||
			r.PostForm.Get("ctl00$MainContent$Email") != testEmail ||
			r.PostForm.Get("ctl00$MainContent$Password") != testPassword {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(p.loginHTML))
			return
		}
		if !p.skipCookie {
			http.SetCookie(w, &http.Cookie{Name: SessionCookie, Value: p.validCookie, Path: "/", HttpOnly: true})
		}
		http.Redirect(w, r, "/", http.StatusFound)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (p *fakePortal) handlePlanning(w http.ResponseWriter, r *http.Request) {
	p.planningGets.Add(1)

	p.mu.Lock()
	wait := p.planningWait
	p.mu.Unlock()
	if wait != nil {
		<-wait
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	c, err := r.Cookie(SessionCookie)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err != nil || c.Value != p.validCookie {
		_, _ = w.Write([]byte(p.loginHTML))
		return
	}
	_, _ = w.Write([]byte(p.planningHTML))
}

func (p *fakePortal) session(t *testing.T) *Session {
	t.Helper()
	s, err := NewSession(SessionConfig{
		BaseURL:  p.URL(),
		Email:    testEmail,
		Password: testPassword,
		Timeout:  5 * time.Second,
	})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	return s
}
