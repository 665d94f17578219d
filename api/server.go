/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address behind a reverse proxy
  3. Logger:     zap request log (method, route, status, duration)
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Prometheus request counters, when configured
  6. CORS:       Cross-origin requests for the frontend dev server

ROUTE GROUPS:
  /api/*        Ledger endpoints
  /metrics      Prometheus exposition, when configured
  /uploads/*    Locally stored entry images
  /*            Static files (frontend)

STATIC FILE SERVING:
  Serves the frontend from Config.StaticDir. Unknown paths fall back to
  index.html for client-side routing. Without a frontend, / shows an
  endpoint index.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/hearth/points-ledger/metrics"
	"go.uber.org/zap"
)

// RouterConfig holds everything the router needs besides the handler.
type RouterConfig struct {
	AllowedOrigins []string
	StaticDir      string
	// UploadDir is served under UploadURLPrefix. Empty disables it.
	UploadDir       string
	UploadURLPrefix string

	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	Log            *zap.Logger
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		ExposedHeaders:   []string{headerBackend, headerDegraded},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Route("/history", func(r chi.Router) {
			r.Get("/", h.GetHistory)
			r.Delete("/{id}", h.DeleteHistory)
		})
		r.Post("/points", h.AddPoints)
		r.Post("/redemptions", h.AddRedemption)
		r.Get("/total-points", h.GetTotalPoints)
		r.Get("/backend", h.GetBackend)
	})

	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.UploadDir != "" {
		prefix := strings.TrimSuffix(cfg.UploadURLPrefix, "/")
		if prefix == "" {
			prefix = "/uploads"
		}
		r.Handle(prefix+"/*", http.StripPrefix(prefix+"/", http.FileServer(http.Dir(cfg.UploadDir))))
	}

	mountStatic(r, cfg.StaticDir)
	return r
}

// mountStatic serves the frontend with SPA fallback, or an index page.
func mountStatic(r chi.Router, staticDir string) {
	if staticDir != "" {
		if _, err := os.Stat(staticDir); err == nil {
			fileServer := http.FileServer(http.Dir(staticDir))
			r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
				fullPath := filepath.Join(staticDir, filepath.Clean("/"+r.URL.Path))

				// SPA routing: unknown paths get index.html
				if _, err := os.Stat(fullPath); os.IsNotExist(err) {
					http.ServeFile(w, r, filepath.Join(staticDir, "index.html"))
					return
				}
				fileServer.ServeHTTP(w, r)
			})
			return
		}
	}

	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html>
<html>
<head><title>Points Ledger</title></head>
<body style="font-family: system-ui; max-width: 800px; margin: 50px auto; padding: 20px;">
<h1>Points Ledger API</h1>
<p>No frontend found. Set server.static_dir to the built frontend.</p>
<h2>API Endpoints</h2>
<ul>
<li><a href="/api/history">/api/history</a> - Points history</li>
<li><a href="/api/total-points">/api/total-points</a> - Current balance</li>
<li><a href="/api/backend">/api/backend</a> - Storage backend status</li>
</ul>
</body>
</html>`))
	})
}

// requestLogger logs one line per request after it completes.
func requestLogger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			log.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
				zap.String("remote", r.RemoteAddr),
				zap.String("backend", ww.Header().Get(headerBackend)),
			)
		})
	}
}
