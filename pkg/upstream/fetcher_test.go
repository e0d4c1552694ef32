package upstream_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openregistro/registro/pkg/config"
	"github.com/openregistro/registro/pkg/scrape"
	"github.com/openregistro/registro/pkg/upstream"
)

func newFetcher(srv *httptest.Server) *upstream.Fetcher {
	cfg := &config.UpstreamConfig{
		RESTBaseURL: srv.URL + "/rest/v1",
		WebBaseURL:  srv.URL,
		UserAgent:   config.DefaultUserAgent,
		APIKey:      config.DefaultAPIKey,
	}

	return upstream.NewFetcher(testLog(), testTransport(), cfg, scrape.New(testLog()))
}

const gradesPage = `<html><body>
<ul><li><a href="genitori_voti.php#T1">Primo Trimestre</a></li></ul>
<table sessione="T1"><tbody>
  <tr class="riga_competenza_default" materia_id="7"><td>FISICA</td><td></td></tr>
  <tr class="riga_materia_componente">
    <td>Fisica</td>
    <td class="cella_voto" evento_id="1"><span>01/12</span><span title="Orale">7</span></td>
  </tr>
</tbody></table>
</body></html>`

func TestMarksAndPeriods(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/cvv/app/default/genitori_voti.php", r.URL.Path)

		// Legacy subsystem auth: cookie pair, no bearer.
		cookie := r.Header.Get("Cookie")
		assert.Contains(t, cookie, "PHPSESSID=T1")
		assert.Contains(t, cookie, "webidentity=S1234567A")
		assert.Empty(t, r.Header.Get("Authorization"))

		_, _ = w.Write([]byte(gradesPage))
	}))
	defer srv.Close()

	auth := upstream.Auth{Token: "T1", Ident: "S1234567A"}

	grades, periods, err := newFetcher(srv).MarksAndPeriods(context.Background(), auth)
	require.NoError(t, err)
	require.Len(t, periods, 1)
	require.Len(t, grades, 1)
	assert.Equal(t, "FISICA", grades[0].SubjectDesc)
	assert.InDelta(t, 7, grades[0].DecimalValue, 1e-9)
}

func TestGetPage_LoginPageMeansSessionExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html><body><form><input type="password" name="pwd"></form></body></html>`))
	}))
	defer srv.Close()

	auth := upstream.Auth{Token: "stale", Ident: "S1"}

	_, _, err := newFetcher(srv).MarksAndPeriods(context.Background(), auth)
	assert.ErrorIs(t, err, upstream.ErrSessionExpired)
}

func TestLessons_BearerAuthAndNormalization(t *testing.T) {
	day := time.Date(2025, 1, 10, 0, 0, 0, 0, time.UTC)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/rest/v1/students/1234567/lessons/20250110", r.URL.Path)

		// REST subsystem auth: bearer token plus api key.
		assert.Equal(t, "Bearer T1", r.Header.Get("Authorization"))
		assert.Equal(t, config.DefaultAPIKey, r.Header.Get("Z-Dev-Apikey"))

		_, _ = w.Write([]byte(`{"lessons":[
			{"evtHPos":2,"authorName":"ROSSI MARIO","lessonArg":"Limiti"},
			{"evtHPos":2,"authorName":"BIANCHI LUCA","lessonArg":"Limiti"}
		]}`))
	}))
	defer srv.Close()

	auth := upstream.Auth{Token: "T1", Ident: "G1234567R"}

	lessons, err := newFetcher(srv).Lessons(context.Background(), auth, day)
	require.NoError(t, err)
	require.Len(t, lessons, 1)
	assert.Equal(t, "ROSSI MARIO, BIANCHI LUCA", lessons[0].Teacher)
}

func TestGetJSON_UnauthorizedMeansSessionExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	auth := upstream.Auth{Token: "stale", Ident: "S1"}

	_, err := newFetcher(srv).Agenda(context.Background(), auth, time.Now())
	assert.ErrorIs(t, err, upstream.ErrSessionExpired)
}

func TestAgenda_HTMLBodyMeansSessionExpired(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>session scaduta</body></html>"))
	}))
	defer srv.Close()

	auth := upstream.Auth{Token: "stale", Ident: "S1"}

	_, err := newFetcher(srv).Agenda(context.Background(), auth, time.Now())
	assert.ErrorIs(t, err, upstream.ErrSessionExpired)
}

func TestSchoolName_ShapeFallback(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"nested", `{"school":{"name":"Liceo A. Volta"}}`, "Liceo A. Volta"},
		{"flat", `{"schoolName":"ITIS E. Fermi"}`, "ITIS E. Fermi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, "/rest/v1/users/me", r.URL.Path)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			name, err := newFetcher(srv).SchoolName(context.Background(), upstream.Auth{Token: "T1", Ident: "S1"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, name)
		})
	}
}

func TestGradeNote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "voto_detail", r.URL.Query().Get("ope"))
		assert.Equal(t, "9001", r.URL.Query().Get("evento_id"))

		_, _ = w.Write([]byte(`<html><body><table><tr><td colspan="5">Verifica sui limiti</td></tr></table></body></html>`))
	}))
	defer srv.Close()

	note, err := newFetcher(srv).GradeNote(context.Background(), upstream.Auth{Token: "T1", Ident: "S1"}, 9001)
	require.NoError(t, err)
	assert.Equal(t, "Verifica sui limiti", note)
}
