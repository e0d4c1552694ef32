package api

import (
	"net/http"
	"time"

	"github.com/openregistro/registro/pkg/upstream"
)

// The three session cookies exchanged with the browser: the opaque
// upstream token, its declared expiry, and the signed internal session
// token. They live and die together.
const (
	cookieToken       = "token"
	cookieTokenExpiry = "token_expiry"
	cookieSession     = "session"
)

func (s *server) setSessionCookies(
	w http.ResponseWriter,
	token upstream.Token,
	internalToken string,
) {
	maxAge := int(s.sessions.TTL().Seconds())

	s.setCookie(w, cookieToken, token.Value, maxAge)
	s.setCookie(w, cookieTokenExpiry, token.Expiry.UTC().Format(time.RFC3339), maxAge)
	s.setCookie(w, cookieSession, internalToken, maxAge)
}

func (s *server) clearSessionCookies(w http.ResponseWriter) {
	s.setCookie(w, cookieToken, "", -1)
	s.setCookie(w, cookieTokenExpiry, "", -1)
	s.setCookie(w, cookieSession, "", -1)
}

func (s *server) setCookie(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.cfg.Server.SecureCookies,
		MaxAge:   maxAge,
	})
}

func cookieValue(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}

	return cookie.Value
}
