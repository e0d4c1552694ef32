// Package session mints and validates the internal session credential:
// a compact HMAC-SHA256 signed token binding the upstream identifier to
// the stable internal identity. Its lifetime is fixed and short, and is
// deliberately independent of the upstream's own session token.
package session

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"
)

// DefaultTTL is the internal session lifetime. There is no renewal
// path: expiry forces a full re-login against the upstream.
const DefaultTTL = 2 * time.Hour

// ErrInvalid is the uniform validation failure. Callers never learn
// whether the token was missing, malformed, tampered with or expired;
// the distinction is logged only.
var ErrInvalid = errors.New("session: invalid token")

// Identity is the pair carried inside a valid session token.
type Identity struct {
	ExternalID string
	InternalID string
}

// Claims is the JWT payload for the internal session credential.
type Claims struct {
	ExternalID string `json:"uid"`
	InternalID string `json:"internal_id"`
	jwt.RegisteredClaims
}

// Manager signs and verifies session tokens with a server-held secret.
type Manager struct {
	log    logrus.FieldLogger
	secret []byte
	ttl    time.Duration
}

// NewManager creates a Manager. The secret must be non-empty; config
// validation enforces that before the server starts.
func NewManager(log logrus.FieldLogger, secret string, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	return &Manager{
		log:    log.WithField("component", "session"),
		secret: []byte(secret),
		ttl:    ttl,
	}
}

// TTL returns the configured session lifetime.
func (m *Manager) TTL() time.Duration {
	return m.ttl
}

// Issue signs a new session token for the given identity pair.
func (m *Manager) Issue(identity Identity) (string, error) {
	now := time.Now().UTC()

	claims := Claims{
		ExternalID: identity.ExternalID,
		InternalID: identity.InternalID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   identity.ExternalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(m.secret)
}

// Validate verifies the signature and expiry of a session token and
// resolves it to an Identity. Any failure maps to ErrInvalid.
func (m *Manager) Validate(tokenString string) (Identity, error) {
	if tokenString == "" {
		return Identity{}, ErrInvalid
	}

	token, err := jwt.ParseWithClaims(
		tokenString,
		&Claims{},
		func(*jwt.Token) (interface{}, error) { return m.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		m.log.WithError(err).Debug("Session token rejected")

		return Identity{}, ErrInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.ExternalID == "" || claims.InternalID == "" {
		m.log.Debug("Session token claims malformed")

		return Identity{}, ErrInvalid
	}

	return Identity{
		ExternalID: claims.ExternalID,
		InternalID: claims.InternalID,
	}, nil
}
