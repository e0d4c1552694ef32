package upstream

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/openregistro/registro/pkg/transport"
)

// errNoToken signals that an endpoint answered but did not yield a
// usable token/expiry pair; the chain advances to the next descriptor.
var errNoToken = errors.New("no token in response")

// loginEndpoint describes one upstream login surface: how to encode the
// request and how to extract a normalized {token, expiry} pair from the
// response. The portal has grown several of these over the years and
// retires them without notice, so endpoint choice is data, not code.
type loginEndpoint struct {
	name    string
	build   func(base *urls, creds Credentials) transport.Request
	extract func(resp *http.Response, body []byte) (Token, error)
}

type urls struct {
	rest string
	web  string
}

// endpointByName resolves a configured chain entry to its descriptor.
func endpointByName(name string) (loginEndpoint, bool) {
	for _, ep := range allEndpoints {
		if ep.name == name {
			return ep, true
		}
	}

	return loginEndpoint{}, false
}

var allEndpoints = []loginEndpoint{restLogin, authP7Login, webFormLogin}

// restLogin is the v1 REST login: JSON request, token and expiry as
// top-level body fields.
var restLogin = loginEndpoint{
	name: "rest",
	build: func(base *urls, creds Credentials) transport.Request {
		body, _ := json.Marshal(map[string]interface{}{
			"ident": nil,
			"pass":  creds.Pass,
			"uid":   creds.Ident,
		})

		return transport.Request{
			Method: http.MethodPost,
			URL:    base.rest + "/auth/login",
			Body:   body,
		}
	},
	extract: func(_ *http.Response, body []byte) (Token, error) {
		var payload struct {
			Token  string `json:"token"`
			Expire string `json:"expire"`
		}

		if err := json.Unmarshal(body, &payload); err != nil {
			return Token{}, fmt.Errorf("%w: %v", errNoToken, err)
		}

		return tokenFrom(payload.Token, payload.Expire)
	},
}

// authP7Login is the newer AuthApi4 login: JSON request, token and
// expiry either top-level or nested under a data object depending on
// the deployment.
var authP7Login = loginEndpoint{
	name: "auth-p7",
	build: func(base *urls, creds Credentials) transport.Request {
		body, _ := json.Marshal(map[string]string{
			"uid":  creds.Ident,
			"pass": creds.Pass,
		})

		return transport.Request{
			Method: http.MethodPost,
			URL:    base.web + "/auth-p7/app/default/AuthApi4.php?a=aLoginPwd",
			Body:   body,
		}
	},
	extract: func(_ *http.Response, body []byte) (Token, error) {
		var payload struct {
			Token  string `json:"token"`
			Expire string `json:"expire"`
			Data   struct {
				Token  string `json:"token"`
				Expire string `json:"expire"`
			} `json:"data"`
		}

		if err := json.Unmarshal(body, &payload); err != nil {
			return Token{}, fmt.Errorf("%w: %v", errNoToken, err)
		}

		tokenValue := payload.Token
		if tokenValue == "" {
			tokenValue = payload.Data.Token
		}

		expire := payload.Expire
		if expire == "" {
			expire = payload.Data.Expire
		}

		return tokenFrom(tokenValue, expire)
	},
}

// webFormLogin is the legacy browser login: form-encoded request, the
// session arriving as a PHPSESSID Set-Cookie with the lifetime on the
// cookie itself (or the Expires header as a fallback).
var webFormLogin = loginEndpoint{
	name: "web-form",
	build: func(base *urls, creds Credentials) transport.Request {
		form := url.Values{
			"login": {"login"},
			"uid":   {creds.Ident},
			"pwd":   {creds.Pass},
		}

		return transport.Request{
			Method: http.MethodPost,
			URL:    base.web + "/auth/dispatcher/auth_dispatcher.php",
			Header: http.Header{
				"Content-Type": {"application/x-www-form-urlencoded"},
			},
			Body: []byte(form.Encode()),
		}
	},
	extract: func(resp *http.Response, _ []byte) (Token, error) {
		for _, cookie := range resp.Cookies() {
			if cookie.Name != "PHPSESSID" || cookie.Value == "" {
				continue
			}

			expiry := cookie.Expires
			if expiry.IsZero() {
				if t, err := parseExpiry(resp.Header.Get("Expires")); err == nil {
					expiry = t
				}
			}

			if expiry.IsZero() {
				// The legacy subsystem rarely declares a lifetime;
				// PHP's default session GC window is the safe bound.
				expiry = time.Now().UTC().Add(90 * time.Minute)
			}

			return Token{Value: cookie.Value, Expiry: expiry}, nil
		}

		return Token{}, errNoToken
	},
}

func tokenFrom(value, expire string) (Token, error) {
	if value == "" || expire == "" {
		return Token{}, errNoToken
	}

	expiry, err := parseExpiry(expire)
	if err != nil {
		return Token{}, fmt.Errorf("%w: %v", errNoToken, err)
	}

	return Token{Value: value, Expiry: expiry}, nil
}
