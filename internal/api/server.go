// Package api serves the current town snapshot and sync state over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/townmap/internal/model"
	"github.com/sells-group/townmap/internal/publish"
	"github.com/sells-group/townmap/internal/snapshot"
	"github.com/sells-group/townmap/internal/store"
)

// Controller is the part of the sync controller the API reads and triggers.
type Controller interface {
	Store() *snapshot.Store
	State() model.SyncState
	TriggerAsync(ctx context.Context) bool
}

// CycleLister lists recorded sync cycles.
type CycleLister interface {
	ListCycles(ctx context.Context, filter store.CycleFilter) ([]model.CycleEntry, error)
}

// Options configures optional server features.
type Options struct {
	CORSOrigins []string
	Events      *publish.Bus
	History     CycleLister
	Metrics     http.Handler
}

// Server is the read API.
type Server struct {
	ctrl   Controller
	opts   Options
	router *chi.Mux
	server *http.Server
}

// NewServer creates a Server for ctrl.
func NewServer(ctrl Controller, opts Options) *Server {
	s := &Server{
		ctrl:   ctrl,
		opts:   opts,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)

	origins := s.opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	if s.opts.Metrics != nil {
		s.router.Handle("/metrics", s.opts.Metrics)
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/towns", s.handleListTowns)
		r.Get("/towns.geojson", s.handleGeoJSON)
		r.Get("/towns/{name}", s.handleGetTown)
		r.Get("/status", s.handleStatus)
		r.Post("/sync", s.handleTrigger)
		if s.opts.History != nil {
			r.Get("/cycles", s.handleListCycles)
		}
		if s.opts.Events != nil {
			r.Get("/events", s.handleEvents)
		}
	})
}

// Handler returns the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr until Shutdown is called.
func (s *Server) Start(addr string) error {
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      0, // Disabled for SSE
		IdleTimeout:       60 * time.Second,
	}
	zap.L().Info("starting api server", zap.String("addr", addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("api: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":%q}`, message) //nolint:errcheck
}
