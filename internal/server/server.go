// Package server implements HTTP server for health checks, buffer stats and metrics.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jittakal/diskreplay/internal/replay"
)

// HealthChecker interface for checking component health.
type HealthChecker interface {
	Liveness() bool
	Readiness(ctx context.Context) bool
	IsHealthy() bool
	GetStatus() map[string]string
}

// StatsSource reports buffer counters.
type StatsSource interface {
	Stats() replay.Stats
}

// Options configures listen ports and routes.
type Options struct {
	HealthPort    int
	MetricsPort   int
	LivenessPath  string
	ReadinessPath string
	StatsPath     string
	MetricsPath   string
}

// DefaultOptions returns the standard ports and routes.
func DefaultOptions() Options {
	return Options{
		HealthPort:    8080,
		MetricsPort:   9090,
		LivenessPath:  "/health/live",
		ReadinessPath: "/health/ready",
		StatsPath:     "/stats",
		MetricsPath:   "/metrics",
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.LivenessPath == "" {
		o.LivenessPath = d.LivenessPath
	}
	if o.ReadinessPath == "" {
		o.ReadinessPath = d.ReadinessPath
	}
	if o.StatsPath == "" {
		o.StatsPath = d.StatsPath
	}
	if o.MetricsPath == "" {
		o.MetricsPath = d.MetricsPath
	}
	return o
}

// Server represents the HTTP server for health and metrics.
type Server struct {
	healthServer  *http.Server
	metricsServer *http.Server
	logger        *slog.Logger
}

// NewServer creates a new HTTP server. A nil stats source leaves the
// stats route unregistered.
func NewServer(
	opts Options,
	healthChecker HealthChecker,
	stats StatsSource,
	registry *prometheus.Registry,
	logger *slog.Logger,
) *Server {
	opts = opts.withDefaults()

	// Health server
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("GET "+opts.LivenessPath, LivenessHandler(healthChecker, logger))
	healthMux.HandleFunc("GET "+opts.ReadinessPath, ReadinessHandler(healthChecker, logger))
	if stats != nil {
		healthMux.HandleFunc("GET "+opts.StatsPath, StatsHandler(stats, logger))
	}

	healthServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.HealthPort),
		Handler:      healthMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Metrics server
	metricsMux := http.NewServeMux()
	metricsMux.Handle(opts.MetricsPath, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	metricsServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", opts.MetricsPort),
		Handler:      metricsMux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return &Server{
		healthServer:  healthServer,
		metricsServer: metricsServer,
		logger:        logger,
	}
}

// Start starts both HTTP servers.
func (s *Server) Start() error {
	// Start health server
	go func() {
		s.logger.Info("starting health server", "addr", s.healthServer.Addr)
		if err := s.healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("health server failed", "error", err)
		}
	}()

	// Start metrics server
	go func() {
		s.logger.Info("starting metrics server", "addr", s.metricsServer.Addr)
		if err := s.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("metrics server failed", "error", err)
		}
	}()

	return nil
}

// Shutdown gracefully shuts down both servers.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP servers")

	errChan := make(chan error, 2)

	go func() {
		errChan <- s.healthServer.Shutdown(ctx)
	}()

	go func() {
		errChan <- s.metricsServer.Shutdown(ctx)
	}()

	var lastErr error
	for range 2 {
		if err := <-errChan; err != nil {
			s.logger.Error("error shutting down server", "error", err)
			lastErr = err
		}
	}

	return lastErr
}
