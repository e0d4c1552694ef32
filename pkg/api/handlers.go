package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openregistro/registro/pkg/register"
	"github.com/openregistro/registro/pkg/session"
	"github.com/openregistro/registro/pkg/store"
	"github.com/openregistro/registro/pkg/upstream"
)

const (
	// authErrorSentinel is the single body every authentication failure
	// produces, whatever the underlying reason.
	authErrorSentinel = "auth error"

	dayParamFormat = "2006-01-02"

	maxDisplayNameLen = 13
	maxBioLen         = 200
)

var (
	displayNamePattern = regexp.MustCompile(`^[a-zA-Z0-9\-_.!]+$`)

	// reservedNames cannot be claimed; "anonimo" is the placeholder
	// shown for users who never picked a name.
	reservedNames = map[string]struct{}{
		"anonimo": {},
	}
)

// errorResponse is a standard error payload.
type errorResponse struct {
	Error string `json:"error"`
}

// writeJSON encodes v as JSON and writes it to w.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding response", http.StatusInternalServerError)
	}
}

// nullableAverage converts a register average into a JSON-friendly
// pointer. NaN means "no gradable marks" and must serialize as null,
// never as zero.
func nullableAverage(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}

	return &v
}

// upstreamError translates a fetch failure into an HTTP response. An
// expired upstream session tears down the cookies and yields the
// uniform auth-error body; anything else is a bad gateway.
func (s *server) upstreamError(w http.ResponseWriter, err error) {
	if errors.Is(err, upstream.ErrSessionExpired) {
		s.clearSessionCookies(w)
		writeJSON(w, http.StatusUnauthorized, errorResponse{authErrorSentinel})

		return
	}

	s.log.WithError(err).Warn("Upstream fetch failed")
	writeJSON(w, http.StatusBadGateway, errorResponse{"upstream unavailable"})
}

// --- Public handlers ---

// handleHealth returns server health status.
func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Auth handlers ---

type loginRequest struct {
	UID      string `json:"uid"`
	Pass     string `json:"pass"`
	Redirect string `json:"redirect,omitempty"`
}

type loginResponse struct {
	InternalID string `json:"internal_id"`
	Redirect   string `json:"redirect"`
}

// handleLogin exchanges upstream credentials for the session cookie
// triple. The password is held only for the duration of the upstream
// exchange and never logged or stored.
func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"malformed request body"})

		return
	}

	if req.UID == "" || req.Pass == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{"uid and pass are required"})

		return
	}

	redirect := s.resolveRedirect(req.Redirect)

	token, err := s.auth.Login(r.Context(), upstream.Credentials{
		Ident: req.UID,
		Pass:  req.Pass,
	})
	if err != nil {
		s.writeLoginError(w, req.UID, err)

		return
	}

	user, err := s.store.UpsertByExternalID(r.Context(), req.UID)
	if err != nil {
		s.log.WithError(err).Error("Identity upsert failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}

	internalToken, err := s.sessions.Issue(session.Identity{
		ExternalID: user.ExternalID,
		InternalID: user.InternalID,
	})
	if err != nil {
		s.log.WithError(err).Error("Session issue failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}

	s.setSessionCookies(w, token, internalToken)

	writeJSON(w, http.StatusOK, loginResponse{
		InternalID: user.InternalID,
		Redirect:   redirect,
	})
}

// resolveRedirect validates the requested post-login target against the
// configured allow-list. Anything not explicitly allowed collapses to
// the first allowed entry.
func (s *server) resolveRedirect(requested string) string {
	allowed := s.cfg.Server.AllowedRedirects

	for _, a := range allowed {
		if requested == a {
			return requested
		}
	}

	return allowed[0]
}

func (s *server) writeLoginError(w http.ResponseWriter, uid string, err error) {
	switch {
	case errors.Is(err, upstream.ErrInvalidCredentials):
		s.log.WithField("uid", uid).Info("Login rejected")
		writeJSON(w, http.StatusUnauthorized,
			errorResponse{"Credenziali non valide."})
	case errors.Is(err, upstream.ErrBlocked):
		s.log.WithField("uid", uid).Warn("Login blocked by upstream")
		writeJSON(w, http.StatusForbidden,
			errorResponse{"Accesso negato dal registro elettronico."})
	default:
		s.log.WithField("uid", uid).WithError(err).Error("Login failed")
		writeJSON(w, http.StatusBadGateway,
			errorResponse{"upstream unavailable"})
	}
}

// handleLogout drops the session cookies. There is nothing to revoke
// server-side: the internal token simply stops arriving.
func (s *server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.clearSessionCookies(w)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleMe returns the caller's own identity row.
func (s *server) handleMe(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	user, err := s.store.GetByInternalID(r.Context(), p.identity.InternalID)
	if err != nil {
		s.rejectSession(w, "identity row missing")

		return
	}

	writeJSON(w, http.StatusOK, user)
}

// --- Register handlers ---

func (s *server) handleGrades(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	grades, err := s.fetcher.Grades(r.Context(), p.auth)
	if err != nil {
		s.upstreamError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"grades": grades})
}

func (s *server) handlePeriods(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	periods, err := s.fetcher.Periods(r.Context(), p.auth)
	if err != nil {
		s.upstreamError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"periods": periods})
}

type periodAverages struct {
	register.Period

	Average *float64 `json:"average"`
}

// handleMarks returns grades and periods from a single upstream page
// fetch, with the overall and per-period averages precomputed.
func (s *server) handleMarks(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	grades, periods, err := s.fetcher.MarksAndPeriods(r.Context(), p.auth)
	if err != nil {
		s.upstreamError(w, err)

		return
	}

	withAverages := make([]periodAverages, 0, len(periods))
	for _, period := range periods {
		withAverages = append(withAverages, periodAverages{
			Period:  period,
			Average: nullableAverage(register.PeriodAverage(grades, period.Description)),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"grades":  grades,
		"periods": withAverages,
		"average": nullableAverage(register.Average(grades)),
	})
}

func (s *server) handleGradeNote(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	eventID, err := strconv.Atoi(chi.URLParam(r, "eventID"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid event id"})

		return
	}

	note, err := s.fetcher.GradeNote(r.Context(), p.auth, eventID)
	if err != nil {
		s.upstreamError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"note": note})
}

func (s *server) handleAttendance(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	summary, err := s.fetcher.Attendance(r.Context(), p.auth)
	if err != nil {
		s.upstreamError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, summary)
}

// --- Day-scoped handlers ---

func dayParam(r *http.Request) (time.Time, error) {
	return time.Parse(dayParamFormat, chi.URLParam(r, "day"))
}

func (s *server) handleAgenda(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	day, err := dayParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid day, want YYYY-MM-DD"})

		return
	}

	items, err := s.fetcher.Agenda(r.Context(), p.auth, day)
	if err != nil {
		s.upstreamError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"agenda": items})
}

func (s *server) handleLessons(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	day, err := dayParam(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"invalid day, want YYYY-MM-DD"})

		return
	}

	lessons, err := s.fetcher.Lessons(r.Context(), p.auth, day)
	if err != nil {
		s.upstreamError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"lessons": lessons})
}

func (s *server) handleNoticeboard(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	notices, err := s.fetcher.Noticeboard(r.Context(), p.auth)
	if err != nil {
		s.upstreamError(w, err)

		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"notices": notices})
}

// --- Profile handlers ---

type profileResponse struct {
	*store.User

	Ranks store.Ranks `json:"ranks"`
}

func (s *server) handleOwnProfile(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	s.writeProfile(w, r, p.identity.InternalID)
}

func (s *server) handleProfile(w http.ResponseWriter, r *http.Request) {
	s.writeProfile(w, r, chi.URLParam(r, "internalID"))
}

func (s *server) writeProfile(w http.ResponseWriter, r *http.Request, internalID string) {
	user, err := s.store.GetByInternalID(r.Context(), internalID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{"profile not found"})

			return
		}

		s.log.WithError(err).Error("Profile lookup failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}

	ranks, err := s.store.Ranks(r.Context(), user)
	if err != nil {
		s.log.WithError(err).Error("Rank computation failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, profileResponse{User: user, Ranks: ranks})
}

type setNameRequest struct {
	Name string `json:"name"`
}

func (s *server) handleSetDisplayName(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	var req setNameRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"malformed request body"})

		return
	}

	name := strings.TrimSpace(req.Name)
	if err := validateDisplayName(name); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{err.Error()})

		return
	}

	if err := s.store.SetDisplayName(r.Context(), p.identity.InternalID, name); err != nil {
		if errors.Is(err, store.ErrNameTaken) {
			writeJSON(w, http.StatusConflict, errorResponse{"display name already taken"})

			return
		}

		s.log.WithError(err).Error("Display name update failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"name": name})
}

func validateDisplayName(name string) error {
	if name == "" {
		return errors.New("name is required")
	}

	if len(name) > maxDisplayNameLen {
		return errors.New("name too long")
	}

	if !displayNamePattern.MatchString(name) {
		return errors.New("name contains invalid characters")
	}

	if _, reserved := reservedNames[strings.ToLower(name)]; reserved {
		return errors.New("name is reserved")
	}

	return nil
}

type setBioRequest struct {
	Bio string `json:"bio"`
}

func (s *server) handleSetBio(w http.ResponseWriter, r *http.Request) {
	p := principalFromContext(r.Context())

	var req setBioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{"malformed request body"})

		return
	}

	bio := req.Bio
	if len(bio) > maxBioLen {
		bio = bio[:maxBioLen]
	}

	if err := s.store.SetBio(r.Context(), p.identity.InternalID, bio); err != nil {
		s.log.WithError(err).Error("Bio update failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{"internal error"})

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"bio": bio})
}
