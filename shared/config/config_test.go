package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPublic = `
server:
  port: 8081
backend:
  base_url: http://api:5000
session_ttl: 720h
upload:
  max_files: 5
  max_file_size_bytes: 10485760
  allowed_mime_types: [image/jpeg, image/png]
  thumbnail_size: 256
`

func writeConfig(t *testing.T, public, private string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "public.yaml"), []byte(public), 0o600))
	if private != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "private.yaml"), []byte(private), 0o600))
	}
	return dir
}

func TestMustLoad_Defaults(t *testing.T) {
	dir := writeConfig(t, validPublic, "session_key: '0123456789abcdef0123456789abcdef'\n")

	cfg := MustLoad(dir)

	assert.Equal(t, 8081, cfg.Public.Server.Port)
	assert.Equal(t, "/get_history", cfg.Public.Backend.HistoryPath)
	assert.Equal(t, 2*time.Minute, cfg.Public.Backend.Timeout)
	assert.Equal(t, DriverMemory, cfg.Public.Store.Driver)
	assert.Equal(t, 4, cfg.Public.Upload.DecodeConcurrency)
	assert.Equal(t, 720*time.Hour, cfg.Public.SessionTTL)
	assert.Equal(t, "0123456789abcdef0123456789abcdef", cfg.SessionKey())
}

func TestMustLoad_EnvOverridesPrivate(t *testing.T) {
	dir := writeConfig(t, validPublic, "")
	t.Setenv("SESSION_KEY", "env-session-key-env-session-key-xx")
	t.Setenv("BACKEND_URL", "http://other:5000")

	cfg := MustLoad(dir)

	assert.Equal(t, "env-session-key-env-session-key-xx", cfg.SessionKey())
	assert.Equal(t, "http://other:5000", cfg.Public.Backend.BaseURL)
}

func TestMustLoad_RequiredFields(t *testing.T) {
	// session key is missing and nothing provides it
	dir := writeConfig(t, validPublic, "redis_url: redis://localhost:6379\n")
	t.Setenv("SESSION_KEY", "")

	assert.Panics(t, func() { _ = MustLoad(dir) })
}

func TestMustLoad_DriverRequirements(t *testing.T) {
	public := validPublic + "store:\n  driver: redis\n"
	dir := writeConfig(t, public, "session_key: '0123456789abcdef0123456789abcdef'\n")
	t.Setenv("REDIS_URL", "")

	assert.Panics(t, func() { _ = MustLoad(dir) })
}

func TestMustLoad_MissingFile(t *testing.T) {
	assert.Panics(t, func() { _ = MustLoad(t.TempDir()) })
}

func TestMaxUploadRequestSize(t *testing.T) {
	cfg := Config{Public: Public{Upload: Upload{MaxFiles: 2, MaxFileSizeBytes: 100}}}
	assert.Equal(t, int64(200+1<<20), cfg.MaxUploadRequestSize())
}
