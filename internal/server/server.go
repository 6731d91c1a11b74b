// Package server provides the HTTP surface: the single search endpoint,
// health and metrics probes, wired with a chi router
// (Recoverer/RequestID/RealIP, a custom logging middleware, CORS, and
// graceful Start/Shutdown).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/ashareinsight/ashareinsight/internal/metrics"
	"github.com/ashareinsight/ashareinsight/internal/retrieval"
)

// Config configures a new Server.
type Config struct {
	Port      int
	DevMode   bool
	Log       zerolog.Logger
	Retrieval *retrieval.Service
	Metrics   *metrics.Registry
}

// Server hosts AShareInsight's HTTP API.
type Server struct {
	router      chi.Router
	server      *http.Server
	log         zerolog.Logger
	retrieval   *retrieval.Service
	metrics     *metrics.Registry
	validate    *validator.Validate
	startupTime time.Time
}

// New builds a Server with its routes and middleware wired, not yet
// listening.
func New(cfg Config) *Server {
	s := &Server{
		router:      chi.NewRouter(),
		log:         cfg.Log.With().Str("component", "server").Logger(),
		retrieval:   cfg.Retrieval,
		metrics:     cfg.Metrics,
		validate:    validator.New(),
		startupTime: time.Now(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/metrics", s.metrics.Handler().ServeHTTP)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/search/similar-companies", s.handleSearchSimilarCompanies)
	})
}

// Start begins serving and blocks until the server stops or errors.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		dur := time.Since(start)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", dur).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")

		if s.metrics != nil {
			statusClass := fmt.Sprintf("%dxx", ww.Status()/100)
			s.metrics.RequestDuration.WithLabelValues(r.URL.Path, statusClass).Observe(dur.Seconds())
		}
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	cpuPercent, memPercent := s.systemStats()
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":           "ok",
		"uptime_seconds":   time.Since(s.startupTime).Seconds(),
		"cpu_percent":      cpuPercent,
		"mem_used_percent": memPercent,
	})
}

// systemStats reports instantaneous CPU and RAM usage for the process's
// host, using a short sampling interval so /healthz stays responsive.
func (s *Server) systemStats() (float64, float64) {
	cpuPercents, err := cpu.Percent(100*time.Millisecond, false)
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to sample cpu percent")
		cpuPercents = []float64{0}
	}
	memStat, err := mem.VirtualMemory()
	if err != nil {
		s.log.Warn().Err(err).Msg("failed to sample memory stats")
		return firstOrZero(cpuPercents), 0
	}
	return firstOrZero(cpuPercents), memStat.UsedPercent
}

func firstOrZero(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	return vs[0]
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}
