package handlers

import (
	"context"
	"net/http"
	"runtime"
	"time"

	"github.com/ticketdesk/reportd/internal/database"
	"github.com/ticketdesk/reportd/internal/metrics"
	"github.com/ticketdesk/reportd/internal/realtime"
	"github.com/ticketdesk/reportd/internal/scheduler"
)

type HealthHandlers struct {
	db        *database.DB
	scheduler *scheduler.Scheduler
	broker    *realtime.Broker
	version   string
}

func NewHealthHandlers(db *database.DB, sched *scheduler.Scheduler, broker *realtime.Broker, version string) *HealthHandlers {
	return &HealthHandlers{
		db:        db,
		scheduler: sched,
		broker:    broker,
		version:   version,
	}
}

type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

type ComponentHealth struct {
	Status  HealthStatus `json:"status"`
	Latency string       `json:"latency,omitempty"`
	Message string       `json:"message,omitempty"`
	Details any          `json:"details,omitempty"`
}

type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Version    string                     `json:"version"`
	Uptime     string                     `json:"uptime"`
	Timestamp  string                     `json:"timestamp"`
	Components map[string]ComponentHealth `json:"components"`
}

var startTime = time.Now()

const healthCheckTimeout = 5 * time.Second

// Health handles GET /health. The database is required; a stopped
// scheduler degrades the service.
func (h *HealthHandlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	components := make(map[string]ComponentHealth)
	overallStatus := HealthStatusHealthy

	dbHealth := h.checkDatabase(ctx)
	components["database"] = dbHealth
	if dbHealth.Status != HealthStatusHealthy {
		overallStatus = HealthStatusUnhealthy
	}

	if h.scheduler != nil {
		schedHealth := h.checkScheduler()
		components["scheduler"] = schedHealth
		if schedHealth.Status != HealthStatusHealthy && overallStatus == HealthStatusHealthy {
			overallStatus = HealthStatusDegraded
		}
	}

	if h.broker != nil {
		components["realtime"] = ComponentHealth{
			Status:  HealthStatusHealthy,
			Details: map[string]int{"connections": h.broker.ClientCount()},
		}
	}

	resp := HealthResponse{
		Status:     overallStatus,
		Version:    h.version,
		Uptime:     time.Since(startTime).Round(time.Second).String(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
	}

	status := http.StatusOK
	if overallStatus == HealthStatusUnhealthy {
		status = http.StatusServiceUnavailable
	}

	JSON(w, status, resp)
}

func (h *HealthHandlers) checkDatabase(ctx context.Context) ComponentHealth {
	start := time.Now()
	err := h.db.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		return ComponentHealth{
			Status:  HealthStatusUnhealthy,
			Latency: latency.String(),
			Message: "database ping failed",
		}
	}

	stats := h.db.Stats()
	metrics.UpdateDBStats(stats.OpenConnections, stats.InUse)

	return ComponentHealth{
		Status:  HealthStatusHealthy,
		Latency: latency.String(),
	}
}

func (h *HealthHandlers) checkScheduler() ComponentHealth {
	stats := h.scheduler.Stats()

	if !stats.Started {
		return ComponentHealth{
			Status:  HealthStatusDegraded,
			Message: "scheduler not running",
			Details: stats,
		}
	}
	if !stats.LoopEnabled {
		return ComponentHealth{
			Status:  HealthStatusHealthy,
			Message: "loop disabled, manual triggers only",
			Details: stats,
		}
	}

	return ComponentHealth{
		Status:  HealthStatusHealthy,
		Details: stats,
	}
}

func (h *HealthHandlers) Liveness(w http.ResponseWriter, r *http.Request) {
	JSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (h *HealthHandlers) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		JSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "not ready",
			"reason": "database unavailable",
		})
		return
	}

	JSON(w, http.StatusOK, map[string]string{
		"status": "ready",
	})
}

type RuntimeStats struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutine"`
	NumCPU       int    `json:"num_cpu"`
	MemAlloc     uint64 `json:"mem_alloc_bytes"`
	MemSys       uint64 `json:"mem_sys_bytes"`
	NumGC        uint32 `json:"num_gc"`
}

func (h *HealthHandlers) Stats(w http.ResponseWriter, r *http.Request) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	resp := map[string]any{
		"runtime": RuntimeStats{
			GoVersion:    runtime.Version(),
			NumGoroutine: runtime.NumGoroutine(),
			NumCPU:       runtime.NumCPU(),
			MemAlloc:     m.Alloc,
			MemSys:       m.Sys,
			NumGC:        m.NumGC,
		},
		"uptime": time.Since(startTime).Round(time.Second).String(),
	}

	dbStats := h.db.Stats()
	resp["database"] = map[string]any{
		"open_connections": dbStats.OpenConnections,
		"in_use":           dbStats.InUse,
		"idle":             dbStats.Idle,
		"max_open":         dbStats.MaxOpenConnections,
	}

	if h.scheduler != nil {
		resp["scheduler"] = h.scheduler.Stats()
	}
	if h.broker != nil {
		resp["realtime"] = map[string]int{"connections": h.broker.ClientCount()}
	}

	JSON(w, http.StatusOK, resp)
}
