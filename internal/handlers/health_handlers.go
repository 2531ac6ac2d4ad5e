package handlers

import (
	"context"
	"net/http"
	"runtime"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
)

// Pinger is a dependency that can report its own connectivity
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

// HealthCheckTarget names one dependency. Critical targets gate readiness.
type HealthCheckTarget struct {
	Name     string
	Pinger   Pinger
	Critical bool
}

// HealthHandlers handles health check and monitoring endpoints
type HealthHandlers struct {
	targets []HealthCheckTarget
	version string
	started time.Time
	timeout time.Duration
}

// NewHealthHandlers creates a new health handlers instance
func NewHealthHandlers(version string, targets ...HealthCheckTarget) *HealthHandlers {
	return &HealthHandlers{
		targets: targets,
		version: version,
		started: time.Now(),
		timeout: 5 * time.Second,
	}
}

// ServiceCheck is the result of pinging one dependency
type ServiceCheck struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
	Critical  bool   `json:"critical"`
}

// HealthStatus represents the overall health status
type HealthStatus struct {
	Status     string                  `json:"status"`
	Timestamp  string                  `json:"timestamp"`
	Services   map[string]ServiceCheck `json:"services"`
	Uptime     string                  `json:"uptime"`
	Version    string                  `json:"version"`
	Goroutines int                     `json:"goroutines"`
}

func (h *HealthHandlers) check(ctx context.Context, target HealthCheckTarget) ServiceCheck {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	start := time.Now()
	err := target.Pinger.Ping(ctx)
	result := ServiceCheck{
		Status:    "healthy",
		LatencyMS: time.Since(start).Milliseconds(),
		Critical:  target.Critical,
	}
	if err != nil {
		result.Status = "unhealthy"
		result.Message = err.Error()
	}
	return result
}

// HealthCheck handles GET /health and pings every dependency
func (h *HealthHandlers) HealthCheck(c echo.Context) error {
	ctx := c.Request().Context()
	health := &HealthStatus{
		Status:     "healthy",
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Services:   make(map[string]ServiceCheck, len(h.targets)),
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Version:    h.version,
		Goroutines: runtime.NumGoroutine(),
	}

	for _, target := range h.targets {
		result := h.check(ctx, target)
		if result.Status != "healthy" {
			health.Status = "degraded"
		}
		health.Services[target.Name] = result
	}

	statusCode := http.StatusOK
	if health.Status == "degraded" {
		statusCode = http.StatusPartialContent
	}

	return c.JSON(statusCode, health)
}

// ReadinessCheck handles GET /health/ready. Only critical dependencies count.
func (h *HealthHandlers) ReadinessCheck(c echo.Context) error {
	ctx := c.Request().Context()

	var failing []string
	for _, target := range h.targets {
		if !target.Critical {
			continue
		}
		if result := h.check(ctx, target); result.Status != "healthy" {
			failing = append(failing, target.Name)
		}
	}
	sort.Strings(failing)

	if len(failing) > 0 {
		return c.JSON(http.StatusServiceUnavailable, map[string]interface{}{
			"status":   "not_ready",
			"message":  "Critical services unavailable",
			"services": failing,
		})
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ready",
		"message": "All systems operational",
	})
}

// LivenessCheck determines if the application is running
func (h *HealthHandlers) LivenessCheck(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
