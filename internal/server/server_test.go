package server

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/jittakal/diskreplay/internal/replay"
)

// The replay buffer is served directly; replay must not import server.
var (
	_ HealthChecker = (*replay.Buffer)(nil)
	_ StatsSource   = (*replay.Buffer)(nil)
)

func newTestServer(t *testing.T, opts Options, stats StatsSource) *Server {
	t.Helper()
	registry := prometheus.NewRegistry()

	testCounter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "test_metric_total",
		Help: "Test metric",
	})
	registry.MustRegister(testCounter)
	testCounter.Inc()

	checker := &mockHealthChecker{liveness: true, readiness: true, healthy: true}
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewServer(opts, checker, stats, registry, logger)
}

func serve(handler http.Handler, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestServer_NewServer(t *testing.T) {
	server := newTestServer(t, DefaultOptions(), nil)

	if server == nil {
		t.Fatal("Server should not be nil")
	}
	if server.healthServer.Addr != ":8080" || server.metricsServer.Addr != ":9090" {
		t.Errorf("addrs = %s, %s", server.healthServer.Addr, server.metricsServer.Addr)
	}
}

func TestServer_Routes(t *testing.T) {
	server := newTestServer(t, Options{HealthPort: 8080, MetricsPort: 9090}, &mockStatsSource{stats: replay.Stats{Capacity: 4}})
	health := server.healthServer.Handler

	tests := []struct {
		name       string
		method     string
		path       string
		statusCode int
	}{
		{"liveness", http.MethodGet, "/health/live", http.StatusOK},
		{"liveness head", http.MethodHead, "/health/live", http.StatusOK},
		{"readiness", http.MethodGet, "/health/ready", http.StatusOK},
		{"stats", http.MethodGet, "/stats", http.StatusOK},
		{"post rejected", http.MethodPost, "/health/live", http.StatusMethodNotAllowed},
		{"unknown path", http.MethodGet, "/nope", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := serve(health, tt.method, tt.path); w.Code != tt.statusCode {
				t.Errorf("%s %s = %d, want %d", tt.method, tt.path, w.Code, tt.statusCode)
			}
		})
	}
}

func TestServer_CustomPaths(t *testing.T) {
	opts := Options{
		HealthPort:    8080,
		MetricsPort:   9090,
		LivenessPath:  "/livez",
		ReadinessPath: "/readyz",
		MetricsPath:   "/prom",
	}
	server := newTestServer(t, opts, nil)

	if w := serve(server.healthServer.Handler, http.MethodGet, "/livez"); w.Code != http.StatusOK {
		t.Errorf("/livez = %d", w.Code)
	}
	if w := serve(server.healthServer.Handler, http.MethodGet, "/readyz"); w.Code != http.StatusOK {
		t.Errorf("/readyz = %d", w.Code)
	}
	if w := serve(server.healthServer.Handler, http.MethodGet, "/health/live"); w.Code != http.StatusNotFound {
		t.Errorf("default liveness path should be unrouted, got %d", w.Code)
	}
	// Stats route is only registered with a source.
	if w := serve(server.healthServer.Handler, http.MethodGet, "/stats"); w.Code != http.StatusNotFound {
		t.Errorf("/stats without source = %d, want 404", w.Code)
	}

	w := serve(server.metricsServer.Handler, http.MethodGet, "/prom")
	if w.Code != http.StatusOK {
		t.Fatalf("/prom = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "test_metric_total 1") {
		t.Errorf("metrics body missing test counter: %s", w.Body.String())
	}
}

func TestServer_StartAndShutdown(t *testing.T) {
	// Use high port numbers to avoid conflicts
	opts := DefaultOptions()
	opts.HealthPort = 58080
	opts.MetricsPort = 59090
	server := newTestServer(t, opts, nil)

	if err := server.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	// Give servers time to start
	time.Sleep(100 * time.Millisecond)

	resp, err := http.Get("http://localhost:58080/health/live")
	if err != nil {
		t.Errorf("Failed to connect to health server: %v", err)
	} else {
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("Health check returned status %d", resp.StatusCode)
		}
	}

	resp, err = http.Get("http://localhost:59090/metrics")
	if err != nil {
		t.Errorf("Failed to connect to metrics server: %v", err)
	} else {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if !strings.Contains(string(body), "test_metric_total") {
			t.Error("metrics response missing test counter")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}

	// Give servers time to shutdown
	time.Sleep(100 * time.Millisecond)

	if _, err := http.Get("http://localhost:58080/health/live"); err == nil {
		t.Error("Expected error connecting to stopped health server")
	}
}
