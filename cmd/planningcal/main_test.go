package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"planningcal/internal/config"
	"planningcal/internal/ics"
	"planningcal/internal/portal"
	"planningcal/internal/web"
)

const portalLoginHTML = `<html><body><form method="post">
<input type="hidden" id="__VIEWSTATE" value="vs" />
<input type="hidden" id="__VIEWSTATEGENERATOR" value="gen" />
<input type="hidden" id="__EVENTVALIDATION" value="ev" />
<input name="ctl00$MainContent$Email" />
</form></body></html>`

const portalPlanningHTML = `<html><body><table><tbody>
<tr>
<td class="F2el_Prestas_ColDatI"><nobr>lun 12/03/24</nobr></td>
<td class="F2el_Prestas_ColHeuI">09h30</td>
<td class="F2el_Prestas_ColDurI">60</td>
<td class="F2el_Prestas_ColMonI"><nobr>Dupont</nobr></td>
<td class="F2el_Prestas_ColTypI"><nobr>Leçon conduite</nobr></td>
</tr>
<tr>
<td class="F2el_Prestas_ColDatI"><nobr>mar 13/03/24</nobr></td>
<td class="F2el_Prestas_ColHeuI">10h00</td>
<td class="F2el_Prestas_ColDurI"></td>
<td class="F2el_Prestas_ColMonI"><nobr>Dupont</nobr></td>
<td class="F2el_Prestas_ColTypI"><nobr>Leçon conduite</nobr></td>
</tr>
</tbody></table></body></html>`

type stubPortal struct {
	logins    atomic.Int32
	plannings atomic.Int32
}

func newStubPortal(t *testing.T) (*stubPortal, string) {
	t.Helper()
	p := &stubPortal{}
	mux := http.NewServeMux()
	mux.HandleFunc(portal.LoginPath, func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			_, _ = w.Write([]byte(portalLoginHTML))
			return
		}
		p.logins.Add(1)
		http.SetCookie(w, &http.Cookie{Name: portal.SessionCookie, Value: "ok", Path: "/"})
		http.Redirect(w, r, "/", http.StatusFound)
	})
	mux.HandleFunc(portal.PlanningPath, func(w http.ResponseWriter, r *http.Request) {
		p.plannings.Add(1)
		if _, err := r.Cookie(portal.SessionCookie); err != nil {
			_, _ = w.Write([]byte(portalLoginHTML))
			return
		}
		_, _ = w.Write([]byte(portalPlanningHTML))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return p, srv.URL
}

func testConfig(baseURL string) *config.Config {
	cfg := config.DefaultConfig()
	cfg.APIToken = "tok"
	cfg.Portal.BaseURL = baseURL
	cfg.Portal.Email = "eleve@example.com"
	cfg.Portal.Password = "pw"
	cfg.Locations.Lecon = config.Place{Name: "Agence", Address: "1 rue A"}
	cfg.Normalize()
	return cfg
}

func TestRunOnce(t *testing.T) {
	p, base := newStubPortal(t)
	calendar, err := buildCache(testConfig(base))
	require.NoError(t, err)

	var out bytes.Buffer
	require.NoError(t, runOnce(context.Background(), calendar, &out))

	parsed, err := ics.ParseICS(out.Bytes())
	require.NoError(t, err)
	require.Len(t, parsed.Events, 1)
	assert.Equal(t, "Leçon conduite – Dupont", parsed.Events[0].Summary)
	assert.Equal(t, "Agence (1 rue A)", parsed.Events[0].Location)
	assert.EqualValues(t, 1, p.logins.Load())
}

func TestEndToEndCaching(t *testing.T) {
	p, base := newStubPortal(t)
	conf := testConfig(base)
	calendar, err := buildCache(conf)
	require.NoError(t, err)

	srv := httptest.NewServer(web.NewServer(conf.APIToken, calendar).Handler())
	defer srv.Close()

	get := func(token string) *http.Response {
		resp, err := http.Get(srv.URL + "/planning?token=" + url.QueryEscape(token))
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	assert.Equal(t, http.StatusUnauthorized, get("nope").StatusCode)
	assert.EqualValues(t, 0, p.plannings.Load(), "rejected request never reaches the portal")

	for i := 0; i < 5; i++ {
		assert.Equal(t, http.StatusOK, get("tok").StatusCode)
	}
	assert.EqualValues(t, 1, p.logins.Load())
	assert.EqualValues(t, 1, p.plannings.Load())
}

func TestParseFlags(t *testing.T) {
	f := parseFlags([]string{"--config", "/etc/planningcal.yaml", "--listen", ":9000", "--once"})
	assert.Equal(t, "/etc/planningcal.yaml", f.configPath)
	assert.Equal(t, ":9000", f.listen)
	assert.True(t, f.once)
	assert.False(t, f.initConfig)

	f = parseFlags([]string{"--init-config"})
	assert.Equal(t, "planningcal.yaml", f.configPath)
}
