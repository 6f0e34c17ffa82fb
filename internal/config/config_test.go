package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
jwt:
  secret: test-secret
admin:
  password_hash: $2a$10$abcdefghijklmnopqrstuv
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "uicc-server", cfg.Server.Name)
	assert.Equal(t, "0.0.0.0", cfg.API.Host)
	assert.Equal(t, 8080, cfg.API.Port)
	assert.Equal(t, "nats://localhost:4222", cfg.NATS.URL)
	assert.Equal(t, 15*time.Minute, cfg.JWT.AccessTokenTTL)
	assert.Equal(t, 1, cfg.UICC.PhoneCount)
	assert.Equal(t, "admin", cfg.Admin.Username)
	assert.Empty(t, cfg.Database.DSN)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
api:
  port: 9090
nats:
  request_timeout: 10s
jwt:
  secret: test-secret
uicc:
  phone_count: 2
  physical_slots: 3
  cdma_supported: true
admin:
  username: ops
  password_hash: $2a$10$abcdefghijklmnopqrstuv
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.API.Port)
	assert.Equal(t, 10*time.Second, cfg.NATS.RequestTimeout)
	assert.Equal(t, 2, cfg.UICC.PhoneCount)
	assert.Equal(t, 3, cfg.UICC.PhysicalSlots)
	assert.True(t, cfg.UICC.CdmaSupported)
	assert.Equal(t, "ops", cfg.Admin.Username)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DATABASE_DSN", "postgres://env")
	t.Setenv("NATS_URL", "nats://env:4222")
	t.Setenv("JWT_SECRET", "env-secret")

	path := writeConfig(t, `
jwt:
  secret: file-secret
admin:
  password_hash: $2a$10$abcdefghijklmnopqrstuv
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "postgres://env", cfg.Database.DSN)
	assert.Equal(t, "nats://env:4222", cfg.NATS.URL)
	assert.Equal(t, "env-secret", cfg.JWT.Secret)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.JWT.Secret = "s"
		cfg.Admin.PasswordHash = "h"
		return cfg
	}

	assert.NoError(t, valid().Validate())

	cfg := valid()
	cfg.UICC.PhoneCount = 0
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.UICC.PhysicalSlots = -1
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.API.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.JWT.Secret = ""
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.Admin.PasswordHash = ""
	assert.Error(t, cfg.Validate())
}
