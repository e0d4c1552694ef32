// Package upstream integrates with the school portal: multi-endpoint
// login with priority-ordered fallback, and per-resource data fetching
// over the portal's two subsystems (a token-bearing REST API and a
// legacy PHP-session web application). Neither surface is documented or
// versioned; shape changes are surfaced as errors, never guessed around.
package upstream

import (
	"errors"
	"strings"
	"time"
)

var (
	// ErrInvalidCredentials means the upstream explicitly rejected the
	// identifier/secret pair.
	ErrInvalidCredentials = errors.New("upstream: invalid credentials")

	// ErrBlocked means the upstream refused the request for a policy
	// reason (usually network/IP-level denial), not a wrong password.
	ErrBlocked = errors.New("upstream: access denied by provider")

	// ErrSessionExpired means the upstream returned a login page or an
	// unparsable payload where data was expected; the caller must force
	// a full re-login.
	ErrSessionExpired = errors.New("upstream: session expired")
)

// blockedMarker is the phrase the upstream embeds in policy-denial
// error bodies.
const blockedMarker = "Access Denied"

// Credentials is the transient identifier/secret pair. It is only ever
// held long enough to obtain a Token and never persisted or logged.
type Credentials struct {
	Ident string
	Pass  string
}

// Token is the live upstream session: an opaque value plus the expiry
// the upstream declared for it.
type Token struct {
	Value  string
	Expiry time.Time
}

// Auth carries what an authenticated upstream call needs. The REST
// subsystem wants the token as a bearer header; the legacy subsystem
// wants the same value as a PHPSESSID cookie paired with the upstream
// identifier. The two shapes are not interchangeable, so the fetcher
// picks per endpoint.
type Auth struct {
	Token string
	Ident string
}

// StudentID derives the numeric student identifier used in REST paths
// from the upstream identifier (e.g. "G1234567R" -> "1234567").
func StudentID(ident string) string {
	var b strings.Builder

	for _, r := range ident {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}

	return b.String()
}

// parseExpiry parses the expiry stamps the upstream emits. The REST
// subsystem uses RFC3339 with a zone offset; the legacy subsystem uses
// HTTP cookie/header time.
func parseExpiry(s string) (time.Time, error) {
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02T15:04:05-0700",
		time.RFC1123,
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}

	return time.Time{}, errors.New("unrecognized expiry format: " + s)
}
