package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, `
telegram:
  token: t
  admin_id: 1
mtproto:
  api_id: 12345
  api_hash: abc
shop:
  upi_id: shop@upi
  countries:
    - {name: India, emoji: "🇮🇳", price: "80"}
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 5*time.Minute, cfg.Watcher.Freshness())
	assert.Equal(t, 5*time.Second, cfg.Watcher.PollInterval())
	assert.Equal(t, 24, cfg.Watcher.PollAttempts)
	assert.Equal(t, 20*time.Second, cfg.MTProto.DialTimeout())
	assert.Equal(t, "10", cfg.Shop.MinDepositAmount().String())
	assert.Equal(t, "numbershop.events", cfg.Events.Exchange)
	assert.Equal(t, "t", cfg.CoreConfig().Telegram.Token)
}

func TestLoadEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
telegram: {token: t}
mtproto: {api_id: 1, api_hash: h}
`)
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("WATCHER_POLL_ATTEMPTS", "3")
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
	assert.Equal(t, 3, cfg.Watcher.PollAttempts)
}

func TestNormalizeRejects(t *testing.T) {
	_, err := Load(writeConfig(t, `telegram: {token: t}`))
	assert.ErrorContains(t, err, "mtproto")

	_, err = Load(writeConfig(t, `
telegram: {token: t}
mtproto: {api_id: 1, api_hash: h}
shop: {min_deposit: "-5"}
`))
	assert.ErrorContains(t, err, "min_deposit")

	_, err = Load(writeConfig(t, `
telegram: {token: t}
mtproto: {api_id: 1, api_hash: h}
shop:
  countries: [{name: X, price: abc}]
`))
	assert.ErrorContains(t, err, "invalid price")
}
