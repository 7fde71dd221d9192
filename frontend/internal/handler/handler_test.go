package handler

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/neuroaccess/neuroaccess/frontend/internal/apiclient"
	"github.com/neuroaccess/neuroaccess/frontend/internal/imagedecode"
	"github.com/neuroaccess/neuroaccess/frontend/internal/kv"
	"github.com/neuroaccess/neuroaccess/frontend/internal/markdown"
	"github.com/neuroaccess/neuroaccess/frontend/internal/middleware"
	"github.com/neuroaccess/neuroaccess/frontend/internal/scanstate"
	"github.com/neuroaccess/neuroaccess/frontend/web"
	"github.com/neuroaccess/neuroaccess/shared/api"
	"github.com/neuroaccess/neuroaccess/shared/config"
	"github.com/neuroaccess/neuroaccess/shared/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSession = "test-session"

// fakeBackend stands in for the analysis service and records what it saw.
type fakeBackend struct {
	mu           sync.Mutex
	calls        map[string]int
	chatRequests []api.ChatRequest

	analyze http.HandlerFunc
	chat    http.HandlerFunc
	history http.HandlerFunc
}

func (b *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	b.calls[r.URL.Path]++
	var next http.HandlerFunc
	switch r.URL.Path {
	case "/analyze_mri":
		next = b.analyze
	case "/chat":
		var req api.ChatRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		b.chatRequests = append(b.chatRequests, req)
		next = b.chat
	case "/get_history":
		next = b.history
	}
	b.mu.Unlock()

	if next == nil {
		http.NotFound(w, r)
		return
	}
	next(w, r)
}

func (b *fakeBackend) callCount(path string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls[path]
}

func (b *fakeBackend) lastChatRequest(t *testing.T) api.ChatRequest {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	require.NotEmpty(t, b.chatRequests)
	return b.chatRequests[len(b.chatRequests)-1]
}

func respondJSON(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, body)
	}
}

func respondStatus(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
	}
}

// countingStore counts writes per key.
type countingStore struct {
	kv.Store
	mu     sync.Mutex
	writes map[string]int
}

func (c *countingStore) Apply(ctx context.Context, ns string, txn kv.Txn) error {
	err := c.Store.Apply(ctx, ns, txn)
	if err == nil {
		c.mu.Lock()
		for _, m := range txn.Mutations {
			if !m.Delete {
				c.writes[m.Key]++
			}
		}
		c.mu.Unlock()
	}
	return err
}

func (c *countingStore) writeCount(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.writes[key]
}

type testEnv struct {
	t       *testing.T
	h       *Handler
	store   *countingStore
	backend *fakeBackend
	router  http.Handler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend := &fakeBackend{calls: make(map[string]int)}
	srv := httptest.NewServer(backend)
	t.Cleanup(srv.Close)

	templates, err := web.LoadTemplates(web.Templates())
	require.NoError(t, err)

	public := config.Public{
		Upload: config.Upload{
			MaxFiles:         3,
			MaxFileSizeBytes: 1 << 20,
			AllowedMimeTypes: []string{"image/png", "image/jpeg"},
			ThumbnailSize:    32,
		},
	}
	store := &countingStore{Store: kv.NewMemory(0), writes: make(map[string]int)}
	h := New(templates, public, store, apiclient.New(srv.URL, "/get_history", 5*time.Second), imagedecode.New(32, 2), markdown.New())

	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(middleware.WithSessionID(r.Context(), testSession)))
		})
	})
	r.Get("/", h.IndexGetHandler)
	r.Get("/upload", h.UploadGetHandler)
	r.Post("/upload/files", h.UploadFilesHandler)
	r.Post("/upload/files/{id}/delete", h.UploadRemoveHandler)
	r.Post("/upload/submit", h.UploadSubmitHandler)
	r.Post("/upload/reset", h.UploadResetHandler)
	r.Get("/chat", h.ChatGetHandler)
	r.Post("/chat", h.ChatPostHandler)
	r.Get("/history", h.HistoryGetHandler)
	r.Get("/history/items", h.HistoryItemsHandler)
	r.Post("/history/select", h.HistorySelectHandler)
	r.Get("/api/v1/active-scan", h.APIActiveScanHandler)
	r.Post("/api/v1/chat", h.APIChatHandler)
	r.Get("/api/v1/history", h.APIHistoryHandler)
	r.Get("/healthz", h.HealthHandler)

	return &testEnv{t: t, h: h, store: store, backend: backend, router: r}
}

func (e *testEnv) session() *scanstate.Session {
	return scanstate.Open(e.store, testSession)
}

func (e *testEnv) seed(key string, v any) {
	e.t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(e.t, err)
	require.NoError(e.t, kv.Set(context.Background(), e.store.Store, testSession, key, raw))
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func (e *testEnv) get(path string) *httptest.ResponseRecorder {
	return e.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (e *testEnv) postForm(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return e.do(req)
}

type testFile struct {
	name string
	data []byte
}

func (e *testEnv) postFiles(files ...testFile) *httptest.ResponseRecorder {
	e.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, f := range files {
		fw, err := mw.CreateFormFile("images", f.name)
		require.NoError(e.t, err)
		_, err = fw.Write(f.data)
		require.NoError(e.t, err)
	}
	require.NoError(e.t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/upload/files", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return e.do(req)
}

func pngFile(t *testing.T, name string, w, h int) testFile {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, w, h))))
	return testFile{name: name, data: buf.Bytes()}
}

func flash(t *testing.T, rr *httptest.ResponseRecorder, name string) string {
	t.Helper()
	for _, c := range rr.Result().Cookies() {
		if c.Name == name && c.MaxAge > 0 {
			decoded, err := base64.StdEncoding.DecodeString(c.Value)
			require.NoError(t, err)
			return string(decoded)
		}
	}
	return ""
}

func requireRedirect(t *testing.T, rr *httptest.ResponseRecorder, location string) {
	t.Helper()
	require.Equal(t, http.StatusSeeOther, rr.Code, rr.Body.String())
	assert.Equal(t, location, rr.Header().Get("Location"))
}

var (
	storedResult = domain.AnalysisResult{
		ImageURL:  "http://images.test/upload.png",
		Summary:   "Upload **summary**",
		Timestamp: "2024-05-01T10:00:00Z",
	}
	storedHistoryItem = domain.HistoryItem{
		Id:        "h-7",
		ImageURL:  "http://images.test/history.png",
		Summary:   "History summary",
		Timestamp: "2023-11-20T08:30:00Z",
		JsonURL:   "http://images.test/history.json",
		FullData:  json.RawMessage(`{"tumor":{"present":false}}`),
	}
	historyBody  = `{"items":[{"id":"h-7","image_url":"http://images.test/history.png","summary":"History summary","timestamp":"2023-11-20T08:30:00Z","json_url":"http://images.test/history.json","full_data":{"tumor":{"present":false}}}]}`
	analysisBody = `{"image_url":"http://images.test/new.png","summary":"No abnormality","timestamp":"2024-06-01T12:00:00Z","full_data":{"score":0.02}}`
)
