package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openregistro/registro/pkg/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
session:
  secret: test-secret
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, config.DefaultListen, cfg.Server.Listen)
	assert.Equal(t, 2*time.Hour, cfg.SessionTTL())
	assert.Equal(t, 8*time.Hour, cfg.RefreshMinInterval())
	assert.Equal(t, config.DefaultRESTBaseURL, cfg.Upstream.RESTBaseURL)
	assert.Equal(t, []string{"rest", "auth-p7", "web-form"}, cfg.Upstream.LoginChain)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, []string{"/"}, cfg.Server.AllowedRedirects)
	assert.False(t, cfg.Server.SecureCookies)
}

func TestValidate_MissingSecretFails(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
server:
  listen: ":9999"
`))
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session.secret")
}

func TestValidate_BadDriver(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
session:
  secret: s
database:
  driver: oracle
`))
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
}

func TestValidate_BadDurations(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
session:
  secret: s
  ttl: nonsense
`))
	require.NoError(t, err)
	assert.Error(t, cfg.Validate())
}

func TestLoad_FullConfig(t *testing.T) {
	cfg, err := config.Load(writeConfig(t, `
server:
  listen: ":3000"
  secure_cookies: true
  allowed_redirects: ["/", "/register"]
  rate_limit:
    enabled: true
    auth:
      requests_per_minute: 10
session:
  secret: super-secret
  ttl: 1h
upstream:
  login_chain: ["auth-p7"]
  transport:
    max_attempts: 5
    base_delay: 500ms
    timeout: 10s
database:
  driver: postgres
  postgres:
    host: db
    port: 5432
    user: registro
    password: pw
    database: registro
    ssl_mode: disable
refresh:
  min_interval: 4h
`))
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.True(t, cfg.Server.SecureCookies)
	assert.Equal(t, []string{"auth-p7"}, cfg.Upstream.LoginChain)
	assert.Equal(t, 500*time.Millisecond, cfg.Upstream.Transport.ParsedBaseDelay())
	assert.Equal(t, 10*time.Second, cfg.Upstream.Transport.ParsedTimeout())
	assert.Equal(t, time.Hour, cfg.SessionTTL())
	assert.Equal(t, 4*time.Hour, cfg.RefreshMinInterval())
	assert.Equal(t, "db", cfg.Database.Postgres.Host)
}
