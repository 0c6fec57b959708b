// Package server exposes the gateway over HTTP.
package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vegasq/deltagate/catalog"
	"github.com/vegasq/deltagate/health"
)

// Config holds the HTTP settings.
type Config struct {
	Addr        string
	APIPrefix   string
	CORSOrigins []string
	ReadTimeout time.Duration
	IdleTimeout time.Duration
}

// New creates an HTTP server with the gateway API mounted under
// cfg.APIPrefix. If checker is nil, /healthz is not registered. Metrics
// are mounted at /metrics.
func New(gw Gateway, cfg Config, checker *health.Checker, logger *slog.Logger) *http.Server {
	return &http.Server{
		Addr:        cfg.Addr,
		Handler:     Handler(gw, cfg, checker, logger),
		ReadTimeout: cfg.ReadTimeout,
		IdleTimeout: cfg.IdleTimeout,
	}
}

// Handler builds the router New serves.
func Handler(gw Gateway, cfg Config, checker *health.Checker, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "server")

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(logger))
	if len(cfg.CORSOrigins) > 0 {
		r.Use(corsMiddleware(cfg.CORSOrigins))
	}

	if checker != nil {
		r.Get("/healthz", checker.ServeHTTP)
	}
	r.Handle("/metrics", promhttp.Handler())

	prefix := "/" + strings.Trim(cfg.APIPrefix, "/")
	if prefix == "/" {
		prefix = ""
	}
	api := APIHandler(gw, logger)
	if prefix == "" {
		r.Mount("/", api)
	} else {
		r.Mount(prefix, api)
	}
	return r
}

// identity forwards a bearer token as the caller identity.
func identity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if scheme, token, ok := strings.Cut(auth, " "); ok && strings.EqualFold(scheme, "Bearer") && strings.TrimSpace(token) != "" {
			ctx := catalog.WithIdentity(r.Context(), catalog.Identity{Token: strings.TrimSpace(token)})
			r = r.WithContext(ctx)
		}
		next.ServeHTTP(w, r)
	})
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.DebugContext(r.Context(), "request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		})
	}
}

// corsMiddleware sets Access-Control-Allow-Origin for requests whose
// Origin matches one of origins. The wildcard "*" matches every origin.
func corsMiddleware(origins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(origins))
	allowAll := false
	for _, o := range origins {
		if o == "*" {
			allowAll = true
			break
		}
		allowed[o] = true
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
				w.Header().Set("Access-Control-Expose-Headers", "X-Processing-Time")
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
