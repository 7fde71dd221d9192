package setup

import (
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/neuroaccess/neuroaccess/frontend/internal/apiclient"
	"github.com/neuroaccess/neuroaccess/frontend/internal/handler"
	"github.com/neuroaccess/neuroaccess/frontend/internal/imagedecode"
	"github.com/neuroaccess/neuroaccess/frontend/internal/kv"
	kvpg "github.com/neuroaccess/neuroaccess/frontend/internal/kv/pg"
	kvredis "github.com/neuroaccess/neuroaccess/frontend/internal/kv/redis"
	kvsqlite "github.com/neuroaccess/neuroaccess/frontend/internal/kv/sqlite"
	"github.com/neuroaccess/neuroaccess/frontend/internal/markdown"
	"github.com/neuroaccess/neuroaccess/frontend/web"
	"github.com/neuroaccess/neuroaccess/shared/config"
	"github.com/neuroaccess/neuroaccess/shared/jwt"
	"github.com/neuroaccess/neuroaccess/shared/logger"
	"github.com/neuroaccess/neuroaccess/shared/middleware/ratelimiter"
)

const (
	purgeInterval = 10 * time.Minute
	// editors fire several events per save
	reloadDebounce = 200 * time.Millisecond

	analyzePerMinute = 6
	chatPerMinute    = 30
	apiPerMinute     = 60
)

// Limiters throttle the routes that reach the analysis backend.
type Limiters struct {
	Analyze *ratelimiter.KeyedRateLimiter
	Chat    *ratelimiter.KeyedRateLimiter
	API     *ratelimiter.KeyedRateLimiter
}

type Dependencies struct {
	Handler        *handler.Handler
	Jwt            jwt.JwtService
	Public         config.Public
	Store          kv.Store
	Limiters       Limiters
	MaxRequestSize int64
	CancelFunc     context.CancelFunc

	watcher *fsnotify.Watcher
}

func SetupDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, error) {
	// Create cancellable context for background tasks
	ctx, cancel := context.WithCancel(ctx)

	store, err := openStore(ctx, cfg)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize session store: %w", err)
	}
	if p, ok := store.(kv.Purger); ok && cfg.Public.SessionTTL > 0 {
		kv.StartBackgroundPurge(ctx, p, purgeInterval)
	}

	templates, err := loadTemplates(cfg.Public.TemplatesDir)
	if err != nil {
		cancel()
		_ = store.Close()
		return nil, err
	}

	backend := apiclient.New(cfg.Public.Backend.BaseURL, cfg.Public.Backend.HistoryPath, cfg.Public.Backend.Timeout)
	decoder := imagedecode.New(cfg.Public.Upload.ThumbnailSize, cfg.Public.Upload.DecodeConcurrency)
	h := handler.New(templates, cfg.Public, store, backend, decoder, markdown.New())

	deps := &Dependencies{
		Handler: h,
		Jwt:     jwt.New(cfg.SessionKey(), cfg.Public.SessionTTL),
		Public:  cfg.Public,
		Store:   store,
		Limiters: Limiters{
			Analyze: ratelimiter.PerMinute(analyzePerMinute),
			Chat:    ratelimiter.PerMinute(chatPerMinute),
			API:     ratelimiter.PerMinute(apiPerMinute),
		},
		MaxRequestSize: cfg.MaxUploadRequestSize(),
		CancelFunc:     cancel,
	}

	if dir := cfg.Public.TemplatesDir; dir != "" {
		watcher, err := startTemplateReloader(ctx, h, dir)
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.watcher = watcher
	}

	logger.Log.Info("dependencies ready",
		"store", cfg.Public.Store.Driver,
		"backend", cfg.Public.Backend.BaseURL,
		"history_path", cfg.Public.Backend.HistoryPath,
	)
	return deps, nil
}

// Close stops background work and releases the session store.
func (d *Dependencies) Close() {
	d.CancelFunc()
	if d.watcher != nil {
		_ = d.watcher.Close()
	}
	d.Limiters.Analyze.Stop()
	d.Limiters.Chat.Stop()
	d.Limiters.API.Stop()
	if err := d.Store.Close(); err != nil {
		logger.Log.Error("failed to close session store", "error", err)
	}
}

func openStore(ctx context.Context, cfg *config.Config) (kv.Store, error) {
	ttl := cfg.Public.SessionTTL
	switch cfg.Public.Store.Driver {
	case config.DriverPostgres:
		return kvpg.New(ctx, cfg.Private.Pg, ttl)
	case config.DriverRedis:
		return kvredis.New(ctx, cfg.Private.RedisURL, ttl)
	case config.DriverSQLite:
		return kvsqlite.Open(cfg.Public.Store.SQLitePath, ttl)
	case config.DriverMemory, "":
		return kv.NewMemory(ttl), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Public.Store.Driver)
	}
}

// loadTemplates reads from disk when dir is set and from the binary otherwise.
func loadTemplates(dir string) (map[string]*template.Template, error) {
	if dir == "" {
		return web.LoadTemplates(web.Templates())
	}
	return web.LoadTemplates(os.DirFS(dir))
}

func startTemplateReloader(ctx context.Context, h *handler.Handler, dir string) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create template watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	logger.Log.Info("watching templates for changes", "dir", dir)

	go func() {
		var pending <-chan time.Time
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Ext(ev.Name) != ".html" {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) != 0 {
					pending = time.After(reloadDebounce)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Log.Error("template watcher error", "error", err)
			case <-pending:
				pending = nil
				templates, err := loadTemplates(dir)
				if err != nil {
					// keep serving the last good set
					logger.Log.Error("template reload failed", "error", err)
					continue
				}
				h.SetTemplates(templates)
				logger.Log.Info("templates reloaded", "count", len(templates))
			}
		}
	}()
	return watcher, nil
}
