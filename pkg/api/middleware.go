package api

import (
	"context"
	"net/http"
	"time"

	"github.com/openregistro/registro/pkg/session"
	"github.com/openregistro/registro/pkg/upstream"
)

type contextKey string

const principalContextKey contextKey = "principal"

// principal is the resolved caller of an authenticated request: the
// internal identity plus the upstream auth material needed to fetch on
// their behalf.
type principal struct {
	identity session.Identity
	auth     upstream.Auth
}

// requestLogger logs incoming HTTP requests.
func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)

		s.log.WithField("method", r.Method).
			WithField("path", r.URL.Path).
			WithField("remote", r.RemoteAddr).
			WithField("duration", time.Since(start)).
			Debug("Request handled")
	})
}

// requireSession resolves the three session cookies into a principal.
// Any failure (missing cookies, bad signature, expired internal or
// upstream token) clears the cookies and answers with the one uniform
// auth-error payload; the sub-reason is logged only.
func (s *server) requireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, err := s.sessions.Validate(cookieValue(r, cookieSession))
		if err != nil {
			s.rejectSession(w, "internal token invalid")

			return
		}

		token := cookieValue(r, cookieToken)
		if token == "" {
			s.rejectSession(w, "upstream token missing")

			return
		}

		expiry, err := time.Parse(time.RFC3339, cookieValue(r, cookieTokenExpiry))
		if err != nil || !expiry.After(time.Now()) {
			s.rejectSession(w, "upstream token expired")

			return
		}

		p := &principal{
			identity: identity,
			auth: upstream.Auth{
				Token: token,
				Ident: identity.ExternalID,
			},
		}

		// Opportunistic aggregate refresh, throttled by the stored
		// last-refresh stamp. Fire and forget.
		go s.maybeRefresh(*p)

		ctx := context.WithValue(r.Context(), principalContextKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *server) rejectSession(w http.ResponseWriter, reason string) {
	s.log.WithField("reason", reason).Debug("Session rejected")

	s.clearSessionCookies(w)
	writeJSON(w, http.StatusUnauthorized, errorResponse{authErrorSentinel})
}

// principalFromContext extracts the caller from the request context.
func principalFromContext(ctx context.Context) *principal {
	p, _ := ctx.Value(principalContextKey).(*principal)

	return p
}
