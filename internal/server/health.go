package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/jittakal/diskreplay/internal/replay"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// StatsResponse represents the buffer stats response.
type StatsResponse struct {
	Timestamp string        `json:"timestamp"`
	Length    int           `json:"length"`
	Cursor    int           `json:"cursor"`
	Capacity  int           `json:"capacity"`
	Writer    WriterStats   `json:"writer"`
	Prefetch  PrefetchStats `json:"prefetch"`
}

// WriterStats are the write path counters.
type WriterStats struct {
	Submitted      uint64 `json:"submitted"`
	FlushedRecords uint64 `json:"flushed_records"`
	FlushedBatches uint64 `json:"flushed_batches"`
	FailedBatches  uint64 `json:"failed_batches"`
	DroppedRecords uint64 `json:"dropped_records"`
}

// PrefetchStats are the read path counters.
type PrefetchStats struct {
	Sampled uint64 `json:"sampled"`
	Loaded  uint64 `json:"loaded"`
	Failed  uint64 `json:"failed"`
	Served  uint64 `json:"served"`
}

func newStatsResponse(stats replay.Stats) StatsResponse {
	return StatsResponse{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Length:    stats.Length,
		Cursor:    stats.Cursor,
		Capacity:  stats.Capacity,
		Writer: WriterStats{
			Submitted:      stats.Writer.Submitted,
			FlushedRecords: stats.Writer.FlushedRecords,
			FlushedBatches: stats.Writer.FlushedBatches,
			FailedBatches:  stats.Writer.FailedBatches,
			DroppedRecords: stats.Writer.DroppedRecords,
		},
		Prefetch: PrefetchStats{
			Sampled: stats.Prefetch.Sampled,
			Loaded:  stats.Prefetch.Loaded,
			Failed:  stats.Prefetch.Failed,
			Served:  stats.Prefetch.Served,
		},
	}
}

// LivenessHandler returns a handler for Kubernetes liveness probes.
// Liveness probes should only fail if the process needs to be restarted.
func LivenessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "alive"
		statusCode := http.StatusOK

		if !checker.Liveness() {
			status = "not alive"
			statusCode = http.StatusServiceUnavailable
		}

		writeJSON(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}, logger)
	}
}

// ReadinessHandler returns a handler for Kubernetes readiness probes.
// The buffer is ready once its store is open and the write path is healthy.
func ReadinessHandler(checker HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status := "ready"
		statusCode := http.StatusOK

		if !checker.Readiness(r.Context()) {
			status = "not ready"
			statusCode = http.StatusServiceUnavailable
		}

		writeJSON(w, statusCode, HealthResponse{
			Status:    status,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Checks:    checker.GetStatus(),
		}, logger)
	}
}

// StatsHandler returns a handler reporting buffer counters.
func StatsHandler(source StatsSource, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, newStatsResponse(source.Stats()), logger)
	}
}

func writeJSON(w http.ResponseWriter, statusCode int, body any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Error("failed to encode response", "error", err)
	}
}
