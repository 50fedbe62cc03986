package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_EmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverlaysFileOnDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "core.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  host: 0.0.0.0
  port: 9443
audit:
  dir: /var/log/core-audit
scout:
  digestCapacity: 50
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 9443, cfg.Server.Port)
	assert.Equal(t, "/var/log/core-audit", cfg.Audit.Dir)
	assert.Equal(t, 50, cfg.Scout.DigestCapacity)

	// Untouched sections keep their defaults.
	assert.Equal(t, Default().Sandbox, cfg.Sandbox)
	assert.True(t, cfg.Audit.IntegrityMode)
}

func TestLoad_ExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("CORE_AUDIT_DIR", "/from/env")
	dir := t.TempDir()
	path := filepath.Join(dir, "core.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audit:\n  dir: ${CORE_AUDIT_DIR}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/from/env", cfg.Audit.Dir)
}

func TestLoad_RejectsUnknownFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "core.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nonexistentSection:\n  foo: bar\n"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
