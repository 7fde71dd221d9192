package router

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/neuroaccess/neuroaccess/frontend/internal/middleware"
	"github.com/neuroaccess/neuroaccess/frontend/internal/setup"
	"github.com/neuroaccess/neuroaccess/frontend/web"
	mw "github.com/neuroaccess/neuroaccess/shared/middleware"
	"github.com/neuroaccess/neuroaccess/shared/middleware/metrics"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRouter(deps *setup.Dependencies) http.Handler {
	h := deps.Handler
	cfg := deps.Public

	csrfConfig := middleware.CSRFConfig{
		SecureCookies: cfg.SecureCookies,
		MaxAge:        int(cfg.SessionTTL.Seconds()),
		MaxMemory:     deps.MaxRequestSize,
	}
	session := middleware.NewSession(deps.Jwt, deps.Store, cfg.SecureCookies)

	r := chi.NewRouter()
	r.Use(chimiddleware.Recoverer)
	r.Use(mw.RequestLogger)
	r.Use(metrics.Middleware)
	r.Use(mw.SecurityHeadersWithCSP(cfg.SecureCookies, mw.FrontendCSP))

	// Operational routes carry no session
	r.Get("/healthz", h.HealthHandler)
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/static/*", http.StripPrefix("/static/", http.FileServer(http.FS(web.Static()))))
	r.Get("/favicon.ico", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, web.Static(), "favicon.ico")
	})

	// Pages
	r.Group(func(r chi.Router) {
		r.Use(limitBody(deps.MaxRequestSize))
		r.Use(session.Middleware)
		r.Use(middleware.GenerateCSRFToken(csrfConfig))
		r.Use(middleware.ValidateCSRFToken(csrfConfig))

		r.Get("/", h.IndexGetHandler)

		r.Get("/upload", h.UploadGetHandler)
		r.Post("/upload/files", h.UploadFilesHandler)
		r.Post("/upload/files/{id}/delete", h.UploadRemoveHandler)
		r.Post("/upload/reset", h.UploadResetHandler)
		r.With(mw.RateLimit(deps.Limiters.Analyze, mw.GetIP)).Post("/upload/submit", h.UploadSubmitHandler)

		r.Get("/chat", h.ChatGetHandler)
		r.With(mw.RateLimit(deps.Limiters.Chat, sessionIdentity)).Post("/chat", h.ChatPostHandler)

		r.Get("/history", h.HistoryGetHandler)
		r.Get("/history/items", h.HistoryItemsHandler)
		r.Post("/history/select", h.HistorySelectHandler)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.CORSOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Content-Type", middleware.CSRFHeader},
			ExposedHeaders:   []string{middleware.CSRFHeader},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.Use(session.Middleware)
		r.Use(mw.RateLimit(deps.Limiters.API, sessionIdentity))
		r.Use(middleware.GenerateCSRFToken(csrfConfig))
		r.Use(middleware.ExposeCSRFToken)
		r.Use(middleware.ValidateCSRFToken(csrfConfig))

		r.Get("/active-scan", h.APIActiveScanHandler)
		r.Post("/chat", h.APIChatHandler)
		r.Get("/history", h.APIHistoryHandler)
	})

	return r
}

// limitBody caps request bodies before the CSRF check parses multipart forms.
func limitBody(n int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil {
				r.Body = http.MaxBytesReader(w, r.Body, n)
			}
			next.ServeHTTP(w, r)
		})
	}
}

func sessionIdentity(r *http.Request) (string, error) {
	sid := middleware.SessionIDFromContext(r.Context())
	if sid == "" {
		return "", errors.New("no session")
	}
	return sid, nil
}
