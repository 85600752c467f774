// Package server exposes the rule store and engine over a JSON HTTP API.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/Veraticus/chargemap/internal/engine"
	"github.com/Veraticus/chargemap/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Config holds the HTTP server settings. A non-nil TLS serves HTTPS.
type Config struct {
	TLS            *tls.Config
	Addr           string
	RequestTimeout time.Duration
}

// Server serves the chargemap API.
type Server struct {
	engine   *engine.Engine
	store    engine.Store
	metrics  *metrics.Collector
	gatherer prometheus.Gatherer
	cfg      Config
}

// New creates a server. met may be nil, in which case /metrics is not mounted.
func New(eng *engine.Engine, store engine.Store, met *metrics.Collector, gatherer prometheus.Gatherer, cfg Config) *Server {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return &Server{
		engine:   eng,
		store:    store,
		metrics:  met,
		gatherer: gatherer,
		cfg:      cfg,
	}
}

// Router builds the HTTP handler.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}

	r.Get("/healthz", s.handleHealth)

	r.Get("/customers", s.handleListCustomers)
	r.Route("/customers/{customer}", func(r chi.Router) {
		r.Get("/rules", s.handleListRules)
		r.Post("/rules", s.handleCreateCustomRule)
		r.Post("/rules/reorder", s.handleReorderRules)
		r.Get("/charges", s.handleListCharges)
		r.Post("/resolve", s.handleResolve)
		r.Post("/preview", s.handlePreview)
		r.Post("/apply", s.handleApply)
		r.Post("/recategorize", s.handleRecategorize)
		r.Get("/runs", s.handleListRuns)
	})

	r.Post("/rules/global", s.handleCreateGlobalRule)
	r.Post("/rules/approve", s.handleApproveRules)
	r.Route("/rules/{id}", func(r chi.Router) {
		r.Get("/", s.handleGetRule)
		r.Patch("/", s.handleUpdateRule)
		r.Put("/priority", s.handleUpdatePriority)
		r.Post("/enable", s.handleSetEnabled(true))
		r.Post("/disable", s.handleSetEnabled(false))
	})

	if s.metrics != nil {
		handler := promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
		// refresh on scrape
		r.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
			if err := s.metrics.Refresh(r.Context()); err != nil {
				slog.Warn("Failed to refresh metrics", "error", err)
			}
			handler.ServeHTTP(w, r)
		})
	}

	return r
}

// Run listens on the configured address and serves until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	if s.cfg.TLS != nil {
		ln = tls.NewListener(ln, s.cfg.TLS)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("Serving chargemap API", "addr", ln.Addr().String())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shut down server: %w", err)
		}
		slog.Info("Server stopped")
		return nil
	})

	return g.Wait()
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("Handled request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
