// internal/api/server.go
// Package api exposes the engine over HTTP: enqueue and job inspection,
// template management, provider webhooks, dead-letter operations, stats,
// health and metrics.
package api

import (
	"context"
	"database/sql"
	"net/http"
	"time"

	"notification-engine/internal/common/config"
	"notification-engine/internal/common/logger"
	"notification-engine/internal/inbound"
	"notification-engine/internal/models"
	"notification-engine/internal/provider"
	"notification-engine/internal/queue"
	"notification-engine/internal/template"
	"notification-engine/internal/tracker"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Server wires the HTTP surface to the engine's components.
type Server struct {
	queue     *queue.Queue
	tracker   *tracker.Tracker
	templates template.Store
	processor *inbound.Processor
	adapters  *provider.Registry
	db        *sql.DB
	rdb       *redis.Client
	logger    logger.Logger
	http      *http.Server
}

// Deps carries everything the server needs; all fields are required except
// db and rdb, which only feed the health endpoint.
type Deps struct {
	Queue     *queue.Queue
	Tracker   *tracker.Tracker
	Templates template.Store
	Processor *inbound.Processor
	Adapters  *provider.Registry
	DB        *sql.DB
	Redis     *redis.Client
	Logger    logger.Logger
}

func NewServer(cfg config.HTTPConfig, deps Deps) *Server {
	s := &Server{
		queue:     deps.Queue,
		tracker:   deps.Tracker,
		templates: deps.Templates,
		processor: deps.Processor,
		adapters:  deps.Adapters,
		db:        deps.DB,
		rdb:       deps.Redis,
		logger:    deps.Logger.WithFields(map[string]interface{}{"component": "api"}),
	}

	s.http = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.Router(),
		ReadTimeout:  time.Duration(cfg.ReadTimeout) * time.Millisecond,
		WriteTimeout: time.Duration(cfg.WriteTimeout) * time.Millisecond,
	}
	return s
}

// Router builds the chi route tree. Exposed for httptest.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/notifications", s.handleEnqueue)
		r.Get("/jobs/{jobID}", s.handleGetJob)

		r.Route("/tenants/{tenantID}", func(r chi.Router) {
			r.Get("/templates", s.handleListTemplates)
			r.Post("/templates", s.handleCreateTemplate)
			r.Get("/templates/{name}/{channel}", s.handleGetTemplate)
			r.Put("/templates/{name}/{channel}", s.handleUpdateTemplate)
			r.Delete("/templates/{name}/{channel}", s.handleDeleteTemplate)
			r.Get("/stats", s.handleTenantStats)
		})

		r.Get("/dead-letters", s.handleDeadLetters)
		r.Post("/dead-letters/{jobID}/requeue", s.handleRequeueDead)
		r.Get("/queue/depth", s.handleQueueDepth)
	})

	r.Post("/webhooks/{channel}", s.handleWebhook)
	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// Start runs the HTTP server until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", map[string]interface{}{"address": s.http.Addr})
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("http request", map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"durationMs": time.Since(start).Milliseconds(),
			"requestId":  middleware.GetReqID(r.Context()),
		})
	})
}

// handleHealth aggregates component health: storage, queue and every
// registered adapter. Degraded dependencies turn the response 503.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := map[string]string{}
	healthy := true

	if s.db != nil {
		if err := s.db.PingContext(ctx); err != nil {
			checks["postgres"] = err.Error()
			healthy = false
		} else {
			checks["postgres"] = "ok"
		}
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			checks["redis"] = err.Error()
			healthy = false
		} else {
			checks["redis"] = "ok"
		}
	}
	for channel, adapter := range s.adapters.Adapters() {
		if err := adapter.HealthCheck(ctx); err != nil {
			checks["provider:"+string(channel)] = err.Error()
			healthy = false
		} else {
			checks["provider:"+string(channel)] = "ok"
		}
	}

	status := http.StatusOK
	state := "healthy"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]interface{}{
		"status": state,
		"checks": checks,
	})
}

func parseChannel(raw string) (models.Channel, bool) {
	c := models.Channel(raw)
	return c, models.ValidChannel(c)
}
