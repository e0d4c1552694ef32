package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/openregistro/registro/pkg/config"
	"github.com/openregistro/registro/pkg/transport"
)

// Authenticator logs in against the upstream by walking an ordered
// chain of login endpoints. The first endpoint yielding a token/expiry
// pair wins; definitive rejections are classified after the chain is
// exhausted. Login is idempotent and mutates no local state.
type Authenticator struct {
	log   logrus.FieldLogger
	http  *transport.Client
	cfg   *config.UpstreamConfig
	base  urls
	chain []loginEndpoint
}

// NewAuthenticator builds the endpoint chain from configuration.
func NewAuthenticator(
	log logrus.FieldLogger,
	httpClient *transport.Client,
	cfg *config.UpstreamConfig,
) (*Authenticator, error) {
	chain := make([]loginEndpoint, 0, len(cfg.LoginChain))

	for _, name := range cfg.LoginChain {
		ep, ok := endpointByName(name)
		if !ok {
			return nil, fmt.Errorf("unknown login endpoint %q", name)
		}

		chain = append(chain, ep)
	}

	return &Authenticator{
		log:   log.WithField("component", "authenticator"),
		http:  httpClient,
		cfg:   cfg,
		base:  urls{rest: cfg.RESTBaseURL, web: cfg.WebBaseURL},
		chain: chain,
	}, nil
}

// Login exchanges credentials for an upstream token. The secret never
// reaches the logs; only the identifier and the endpoint names do.
func (a *Authenticator) Login(ctx context.Context, creds Credentials) (Token, error) {
	var (
		lastTransportErr error
		rejectionBody    string
		rejected         bool
	)

	for _, ep := range a.chain {
		log := a.log.WithField("endpoint", ep.name).WithField("uid", creds.Ident)

		req := ep.build(&a.base, creds)
		a.decorate(&req)

		resp, err := a.http.Do(ctx, req)
		if err != nil {
			lastTransportErr = err

			log.WithError(err).Warn("Login endpoint unreachable")

			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()

		if err != nil {
			lastTransportErr = err

			continue
		}

		if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
			rejected = true
			rejectionBody = string(body)

			log.WithField("status", resp.StatusCode).Info("Login endpoint rejected credentials")

			continue
		}

		token, err := ep.extract(resp, body)
		if err != nil {
			// A success status without a usable token is treated the
			// same as a failing endpoint.
			log.WithError(err).Info("Login endpoint yielded no token")

			continue
		}

		log.Debug("Login succeeded")

		return token, nil
	}

	switch {
	case rejected && strings.Contains(rejectionBody, blockedMarker):
		return Token{}, ErrBlocked
	case rejected:
		return Token{}, ErrInvalidCredentials
	case lastTransportErr != nil:
		return Token{}, fmt.Errorf("all login endpoints unreachable: %w", lastTransportErr)
	default:
		return Token{}, ErrInvalidCredentials
	}
}

// decorate adds the identification headers every upstream call needs.
func (a *Authenticator) decorate(req *transport.Request) {
	if req.Header == nil {
		req.Header = http.Header{}
	}

	if req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	req.Header.Set("User-Agent", a.cfg.UserAgent)
	req.Header.Set("Z-Dev-Apikey", a.cfg.APIKey)
}
