package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dustin/go-humanize"

	"github.com/jmylchreest/esplay/internal/backend"
	"github.com/jmylchreest/esplay/internal/session"
	"github.com/jmylchreest/esplay/internal/version"
)

// HealthHandler handles health check endpoints.
type HealthHandler struct {
	manager   *session.Manager
	startTime time.Time
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(manager *session.Manager) *HealthHandler {
	return &HealthHandler{manager: manager, startTime: time.Now()}
}

// Register registers the health routes with the API.
func (h *HealthHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getLivez",
		Method:      http.MethodGet,
		Path:        "/livez",
		Summary:     "Liveness probe",
		Tags:        []string{"System"},
	}, h.GetLivez)

	huma.Register(api, huma.Operation{
		OperationID: "getHealth",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
		Description: "Returns version, uptime, session usage and available backends",
		Tags:        []string{"System"},
	}, h.GetHealth)
}

// LivezOutput is the output for the liveness probe.
type LivezOutput struct {
	Body struct {
		Status string `json:"status"`
	}
}

// GetLivez reports that the process is serving requests.
func (h *HealthHandler) GetLivez(ctx context.Context, input *struct{}) (*LivezOutput, error) {
	out := &LivezOutput{}
	out.Body.Status = "ok"
	return out, nil
}

// HealthResponse is the body of the health check.
type HealthResponse struct {
	Status         string       `json:"status"`
	Version        version.Info `json:"version"`
	Uptime         string       `json:"uptime"`
	UptimeSeconds  float64      `json:"uptime_seconds"`
	StartedAt      string       `json:"started_at" doc:"Human-readable start time, e.g. \"3 minutes ago\""`
	Goroutines     int          `json:"goroutines"`
	HeapInUse      string       `json:"heap_in_use"`
	ActiveSessions int          `json:"active_sessions"`
	MaxSessions    int          `json:"max_sessions"`
	Backends       []string     `json:"backends"`
}

// HealthOutput is the output for the health check endpoint.
type HealthOutput struct {
	Body HealthResponse
}

// GetHealth returns the health status of the service.
func (h *HealthHandler) GetHealth(ctx context.Context, input *struct{}) (*HealthOutput, error) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	uptime := time.Since(h.startTime)
	resp := HealthResponse{
		Status:        "healthy",
		Version:       version.GetInfo(),
		Uptime:        uptime.Round(time.Second).String(),
		UptimeSeconds: uptime.Seconds(),
		StartedAt:     humanize.Time(h.startTime),
		Goroutines:    runtime.NumGoroutine(),
		HeapInUse:     humanize.IBytes(mem.HeapInuse),
		Backends:      backend.Kinds(),
	}
	if h.manager != nil {
		stats := h.manager.Stats()
		resp.ActiveSessions = stats.ActiveSessions
		resp.MaxSessions = stats.MaxSessions
		if stats.MaxSessions > 0 && stats.ActiveSessions >= stats.MaxSessions {
			resp.Status = "saturated"
		}
	}
	return &HealthOutput{Body: resp}, nil
}
