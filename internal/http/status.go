package http

import (
	"context"
	"log/slog"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/shirou/gopsutil/v4/disk"

	"github.com/tvshift/tvshift/internal/timeshift"
	"github.com/tvshift/tvshift/internal/version"
)

// SessionSource exposes the live session state the status endpoint
// reports on. *session.Registry satisfies it.
type SessionSource interface {
	Stats() []timeshift.Stats
	Len() int
}

// StatusHandler serves the liveness and status endpoints.
type StatusHandler struct {
	sessions     SessionSource
	timeshiftDir string
	startTime    time.Time
	logger       *slog.Logger
}

// NewStatusHandler creates a status handler reporting on the given
// session source and timeshift directory.
func NewStatusHandler(sessions SessionSource, timeshiftDir string, logger *slog.Logger) *StatusHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StatusHandler{
		sessions:     sessions,
		timeshiftDir: timeshiftDir,
		startTime:    time.Now(),
		logger:       logger,
	}
}

// HealthResponse is the liveness payload.
type HealthResponse struct {
	Status string `json:"status" example:"ok"`
}

// HealthOutput wraps the liveness payload.
type HealthOutput struct {
	Body HealthResponse
}

// DiskUsage reports capacity of the filesystem holding the timeshift
// directory.
type DiskUsage struct {
	Path        string  `json:"path"`
	TotalBytes  uint64  `json:"total_bytes"`
	FreeBytes   uint64  `json:"free_bytes"`
	UsedBytes   uint64  `json:"used_bytes"`
	UsedPercent float64 `json:"used_percent"`
}

// StatusResponse is the full status payload.
type StatusResponse struct {
	Version       version.Info      `json:"version"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Sessions      []timeshift.Stats `json:"sessions"`
	SessionCount  int               `json:"session_count"`
	Disk          *DiskUsage        `json:"disk,omitempty"`
}

// StatusOutput wraps the status payload.
type StatusOutput struct {
	Body StatusResponse
}

// Register registers the status routes with the API.
func (h *StatusHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getHealthz",
		Method:      "GET",
		Path:        "/healthz",
		Summary:     "Liveness check",
		Tags:        []string{"status"},
	}, h.getHealthz)

	huma.Register(api, huma.Operation{
		OperationID: "getStatus",
		Method:      "GET",
		Path:        "/api/v1/status",
		Summary:     "Server status",
		Description: "Version, per-session buffer statistics and timeshift disk usage.",
		Tags:        []string{"status"},
	}, h.getStatus)
}

func (h *StatusHandler) getHealthz(_ context.Context, _ *struct{}) (*HealthOutput, error) {
	return &HealthOutput{Body: HealthResponse{Status: "ok"}}, nil
}

func (h *StatusHandler) getStatus(ctx context.Context, _ *struct{}) (*StatusOutput, error) {
	resp := StatusResponse{
		Version:       version.GetInfo(),
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
		Sessions:      h.sessions.Stats(),
		SessionCount:  h.sessions.Len(),
	}
	if resp.Sessions == nil {
		resp.Sessions = []timeshift.Stats{}
	}

	// Disk stats are best effort; the status page stays useful when the
	// timeshift volume is not mounted yet.
	if usage, err := disk.UsageWithContext(ctx, h.timeshiftDir); err != nil {
		h.logger.Warn("unable to read disk usage",
			slog.String("path", h.timeshiftDir),
			slog.String("error", err.Error()),
		)
	} else {
		resp.Disk = &DiskUsage{
			Path:        h.timeshiftDir,
			TotalBytes:  usage.Total,
			FreeBytes:   usage.Free,
			UsedBytes:   usage.Used,
			UsedPercent: usage.UsedPercent,
		}
	}

	return &StatusOutput{Body: resp}, nil
}
