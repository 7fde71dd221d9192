package handler

import (
	"context"
	"html/template"
	"net/http"
	"sync"

	"github.com/neuroaccess/neuroaccess/frontend/internal/imagedecode"
	"github.com/neuroaccess/neuroaccess/frontend/internal/inflight"
	"github.com/neuroaccess/neuroaccess/frontend/internal/kv"
	"github.com/neuroaccess/neuroaccess/frontend/internal/markdown"
	"github.com/neuroaccess/neuroaccess/frontend/internal/middleware"
	"github.com/neuroaccess/neuroaccess/frontend/internal/scanstate"
	"github.com/neuroaccess/neuroaccess/shared/api"
	"github.com/neuroaccess/neuroaccess/shared/config"
	"github.com/neuroaccess/neuroaccess/shared/domain"
)

// Actions guarded against concurrent duplicates within a session.
const (
	actionAnalyze = "analyze"
	actionChat    = "chat"
	actionHistory = "history"
)

// BackendClient is the analysis backend as seen by the handlers.
type BackendClient interface {
	Analyze(ctx context.Context, images []domain.UploadedImage) (domain.AnalysisResult, error)
	Chat(ctx context.Context, req api.ChatRequest) (string, error)
	History(ctx context.Context) ([]domain.HistoryItem, error)
	HistoryItem(ctx context.Context, id domain.HistoryItemId) (domain.HistoryItem, bool, error)
}

type ImageDecoder interface {
	DecodeAll(ctx context.Context, files []imagedecode.File) ([]domain.UploadedImage, error)
}

type Handler struct {
	Public   config.Public
	Store    kv.Store
	Backend  BackendClient
	Decoder  ImageDecoder
	Markdown *markdown.Renderer
	Inflight *inflight.Guard

	mu        sync.RWMutex
	templates map[string]*template.Template
}

func New(templates map[string]*template.Template, publicCfg config.Public, store kv.Store, backend BackendClient, decoder ImageDecoder, md *markdown.Renderer) *Handler {
	return &Handler{
		Public:    publicCfg,
		Store:     store,
		Backend:   backend,
		Decoder:   decoder,
		Markdown:  md,
		Inflight:  inflight.New(),
		templates: templates,
	}
}

// SetTemplates swaps the template set; used by the development reloader.
func (h *Handler) SetTemplates(templates map[string]*template.Template) {
	h.mu.Lock()
	h.templates = templates
	h.mu.Unlock()
}

func (h *Handler) getTemplate(name string) (*template.Template, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	tmpl, ok := h.templates[name]
	return tmpl, ok
}

// session opens the caller's scan state. The session middleware guarantees
// an id on every routed request.
func (h *Handler) session(r *http.Request) (*scanstate.Session, bool) {
	sid := middleware.SessionIDFromContext(r.Context())
	if sid == "" {
		return nil, false
	}
	return scanstate.Open(h.Store, sid), true
}

func (h *Handler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Ping(r.Context()); err != nil {
		http.Error(w, "session store unavailable", http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}
