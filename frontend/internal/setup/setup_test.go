package setup

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/neuroaccess/neuroaccess/frontend/internal/kv"
	"github.com/neuroaccess/neuroaccess/shared/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Public: config.Public{
			Backend: config.Backend{BaseURL: "http://backend.test", HistoryPath: "/get_history", Timeout: time.Second},
			Store:   config.Store{Driver: config.DriverMemory},
			Upload: config.Upload{
				MaxFiles:          2,
				MaxFileSizeBytes:  1 << 20,
				AllowedMimeTypes:  []string{"image/png"},
				ThumbnailSize:     64,
				DecodeConcurrency: 2,
			},
			SessionTTL: time.Hour,
		},
		Private: config.Private{SessionKey: "0123456789abcdef0123456789abcdef"},
	}
}

func TestSetupDependencies_Memory(t *testing.T) {
	deps, err := SetupDependencies(context.Background(), testConfig(t))
	require.NoError(t, err)
	defer deps.Close()

	assert.IsType(t, &kv.Memory{}, deps.Store)
	assert.NotNil(t, deps.Handler)
	assert.Equal(t, time.Hour, deps.Jwt.TTL())
	assert.Equal(t, int64(2<<20+1<<20), deps.MaxRequestSize)
	assert.NoError(t, deps.Store.Ping(context.Background()))
}

func TestSetupDependencies_SQLite(t *testing.T) {
	cfg := testConfig(t)
	cfg.Public.Store = config.Store{Driver: config.DriverSQLite, SQLitePath: filepath.Join(t.TempDir(), "sessions.db")}

	deps, err := SetupDependencies(context.Background(), cfg)
	require.NoError(t, err)
	defer deps.Close()

	assert.NoError(t, deps.Store.Ping(context.Background()))
	_, isPurger := deps.Store.(kv.Purger)
	assert.True(t, isPurger)
}

func TestOpenStore_UnknownDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Public.Store.Driver = "etcd"

	_, err := openStore(context.Background(), cfg)
	assert.ErrorContains(t, err, "etcd")
}

func TestLoadTemplates(t *testing.T) {
	embedded, err := loadTemplates("")
	require.NoError(t, err)
	assert.Contains(t, embedded, "upload.html")
	assert.Contains(t, embedded, "history_items.html")

	_, err = loadTemplates(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestTemplateReloaderSwapsTemplates(t *testing.T) {
	dir := t.TempDir()
	writeTemplates(t, dir, "v1")

	cfg := testConfig(t)
	cfg.Public.TemplatesDir = dir
	deps, err := SetupDependencies(context.Background(), cfg)
	require.NoError(t, err)
	defer deps.Close()

	render := func() string {
		rr := httptest.NewRecorder()
		deps.Handler.IndexGetHandler(rr, httptest.NewRequest(http.MethodGet, "/", nil))
		return rr.Body.String()
	}
	require.Equal(t, "v1", render())

	writeTemplates(t, dir, "v2")

	// the reloader debounces, so poll until the swap lands
	assert.Eventually(t, func() bool { return render() == "v2" }, 5*time.Second, 50*time.Millisecond)
}

func writeTemplates(t *testing.T, dir, marker string) {
	t.Helper()
	files := map[string]string{
		"base.html":     `{{block "content" .}}{{end}}`,
		"partials.html": `{{define "unused"}}{{end}}`,
		"index.html":    `{{define "content"}}` + marker + `{{end}}`,
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600))
	}
}
