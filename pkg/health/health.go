// Package health serves liveness and readiness checks for the clover control surface.
package health

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusDegraded  Status = "degraded"
)

// Pinger is satisfied by database.DB (PingContext) through PingFunc and by *redis.Client.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a plain function to Pinger.
type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

type Response struct {
	Status     Status                 `json:"status"`
	Version    string                 `json:"version,omitempty"`
	Uptime     string                 `json:"uptime,omitempty"`
	Checks     map[string]CheckResult `json:"checks,omitempty"`
	ReportedAt time.Time              `json:"reported_at"`
}

type dependency struct {
	pinger   Pinger
	required bool
}

// Checker pings every registered dependency. A failing required dependency makes the
// service unhealthy; a failing optional one only degrades it.
type Checker struct {
	deps      map[string]dependency
	timeout   time.Duration
	startTime time.Time
	version   string
	mu        sync.RWMutex
	ready     bool
}

func NewChecker(version string) *Checker {
	return &Checker{
		deps:      map[string]dependency{},
		timeout:   5 * time.Second,
		startTime: time.Now(),
		version:   version,
	}
}

// Require registers a dependency the service cannot run without.
func (c *Checker) Require(name string, p Pinger) *Checker {
	c.deps[name] = dependency{pinger: p, required: true}
	return c
}

// Optional registers a dependency whose loss degrades but does not stop the service.
func (c *Checker) Optional(name string, p Pinger) *Checker {
	c.deps[name] = dependency{pinger: p}
	return c
}

func (c *Checker) SetReady(ready bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = ready
}

func (c *Checker) IsReady() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.ready
}

func (c *Checker) LivenessHandler(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, Response{
		Status:     StatusHealthy,
		Version:    c.version,
		Uptime:     c.uptime(),
		ReportedAt: time.Now(),
	})
}

func (c *Checker) ReadinessHandler(ctx echo.Context) error {
	if !c.IsReady() {
		return ctx.JSON(http.StatusServiceUnavailable, Response{
			Status:     StatusUnhealthy,
			Version:    c.version,
			ReportedAt: time.Now(),
			Checks: map[string]CheckResult{
				"startup": {Status: StatusUnhealthy, Message: "service is still starting up"},
			},
		})
	}
	return c.HealthHandler(ctx)
}

func (c *Checker) HealthHandler(ctx echo.Context) error {
	checks, status := c.Check(ctx.Request().Context())

	statusCode := http.StatusOK
	if status == StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	return ctx.JSON(statusCode, Response{
		Status:     status,
		Version:    c.version,
		Uptime:     c.uptime(),
		Checks:     checks,
		ReportedAt: time.Now(),
	})
}

// Check pings every dependency in name order and folds the results into one status.
func (c *Checker) Check(ctx context.Context) (map[string]CheckResult, Status) {
	names := make([]string, 0, len(c.deps))
	for name := range c.deps {
		names = append(names, name)
	}
	sort.Strings(names)

	checks := make(map[string]CheckResult, len(names))
	overall := StatusHealthy
	for _, name := range names {
		dep := c.deps[name]
		result := c.ping(ctx, dep.pinger)
		if result.Status == StatusUnhealthy {
			if dep.required {
				overall = StatusUnhealthy
			} else {
				result.Status = StatusDegraded
				if overall == StatusHealthy {
					overall = StatusDegraded
				}
			}
		}
		checks[name] = result
	}
	return checks, overall
}

func (c *Checker) ping(ctx context.Context, p Pinger) CheckResult {
	if p == nil {
		return CheckResult{Status: StatusUnhealthy, Message: "not configured"}
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err := p.Ping(ctx); err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: err.Error(),
			Latency: time.Since(start).String(),
		}
	}
	return CheckResult{Status: StatusHealthy, Latency: time.Since(start).String()}
}

func (c *Checker) uptime() string {
	return time.Since(c.startTime).Round(time.Second).String()
}

// RegisterRoutes registers the health checks under /api/v1/health.
func (c *Checker) RegisterRoutes(e *echo.Echo) {
	health := e.Group("/api/v1/health")

	health.GET("", c.HealthHandler)
	health.GET("/live", c.LivenessHandler)
	health.GET("/ready", c.ReadinessHandler)
}
