// SPDX-License-Identifier: MIT

// Package api provides the HTTP surface of mediaforged: the job API
// consumed by the front door and the operator endpoints (health,
// readiness, metrics, queue stats).
//
// Authentication is the front door's concern; this server trusts the
// X-Org-ID and X-User-ID headers it receives. Deployments must not
// expose it without a gateway in front.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/mediaforge-io/mediaforge/internal/actions"
	"github.com/mediaforge-io/mediaforge/internal/broker"
	"github.com/mediaforge-io/mediaforge/internal/health"
	"github.com/mediaforge-io/mediaforge/internal/jobs"
	"github.com/mediaforge-io/mediaforge/internal/log"
	"github.com/mediaforge-io/mediaforge/internal/store"
	"github.com/mediaforge-io/mediaforge/internal/version"
)

// Server serves the job and operator HTTP endpoints.
type Server struct {
	svc      *jobs.Service
	store    *store.Store
	broker   *broker.Broker
	registry *actions.Registry
	health   *health.Manager
	logger   zerolog.Logger
	http     *http.Server
}

// New wires the HTTP server on addr.
func New(addr string, svc *jobs.Service, st *store.Store, br *broker.Broker, registry *actions.Registry) *Server {
	hm := health.NewManager(version.Version)
	hm.Register(health.CheckerFunc{CheckerName: "broker", Fn: br.HealthCheck})
	hm.Register(health.CheckerFunc{CheckerName: "store", Fn: st.HealthCheck})

	s := &Server{
		svc:      svc,
		store:    st,
		broker:   br,
		registry: registry,
		health:   hm,
		logger:   log.WithComponent("api"),
	}
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/actions", s.handleListActions)
		r.Get("/queues/stats", s.handleQueueStats)

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.handleSubmit)
			r.Get("/", s.handleList)
			r.Get("/{jobID}", s.handleGet)
			r.Get("/{jobID}/result", s.handleResult)
			r.Post("/{jobID}/cancel", s.handleCancel)
			r.Delete("/{jobID}", s.handleDelete)
		})

		r.Get("/usage", s.handleUsage)
	})

	return r
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", s.http.Addr).Msg("http server listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(shutdownCtx)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.health.Liveness())
}

// handleReadyz verifies the broker and the metadata store are reachable.
func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	resp, ready := s.health.Readiness(ctx)
	code := http.StatusOK
	if !ready {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}
