// Package server is the HTTP transport: it exposes the agent as a
// server-sent-event stream, the session read-model, the ingestion
// endpoints and the operational surface.
package server

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/janikdotzel/healthcare-agent/internal/agent"
	"github.com/janikdotzel/healthcare-agent/internal/ingest"
	"github.com/janikdotzel/healthcare-agent/pkg/observability"
	"github.com/janikdotzel/healthcare-agent/pkg/projection"
)

// Config holds the HTTP server settings.
type Config struct {
	Addr         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Server wires all application routes.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	agent      *agent.Agent
	sessions   *projection.Projection
	indexer    *ingest.Indexer
	sensors    *ingest.SensorStore
	health     *observability.HealthChecker
	log        zerolog.Logger
}

// New creates a Server with all routes wired.
func New(cfg Config, ag *agent.Agent, sessions *projection.Projection,
	indexer *ingest.Indexer, sensors *ingest.SensorStore,
	health *observability.HealthChecker, log zerolog.Logger) *Server {

	router := chi.NewRouter()
	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(chimw.Recoverer)

	writeTimeout := cfg.WriteTimeout
	if writeTimeout <= 0 {
		// The ask stream stays open for the whole generation.
		writeTimeout = 5 * time.Minute
	}

	s := &Server{
		router:   router,
		agent:    ag,
		sessions: sessions,
		indexer:  indexer,
		sensors:  sensors,
		health:   health,
		log:      log.With().Str("component", "server").Logger(),
		httpServer: &http.Server{
			Addr:         cfg.Addr,
			Handler:      router,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: writeTimeout,
		},
	}

	router.Use(s.requestMetrics)

	router.Post("/agent/ask", s.handleAsk)
	router.Get("/sessions/{userId}", s.handleSessionsByUser)
	router.Get("/sessions/{userId}/{sessionId}", s.handleSession)
	router.Post("/ingest/medical-record", s.handleIngestMedicalRecord)
	router.Post("/ingest/sensor", s.handleIngestSensor)

	router.Method(http.MethodGet, "/metrics", observability.MetricsHandler())
	if health != nil {
		router.Method(http.MethodGet, "/healthz", health.Handler())
	} else {
		router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"status":"healthy"}`))
		})
	}

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.httpServer.Addr).Msg("http server listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// requestMetrics records per-request Prometheus metrics using the route
// pattern, not the raw path, to keep label cardinality bounded.
func (s *Server) requestMetrics(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		pattern := chi.RouteContext(r.Context()).RoutePattern()
		if pattern == "" {
			pattern = "unmatched"
		}
		observability.RecordHTTPRequest(r.Method, pattern, strconv.Itoa(ww.Status()), time.Since(start))
	})
}
