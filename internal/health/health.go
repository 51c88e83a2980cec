package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/matrixise/chain-portfolio/internal/chain"
)

// Pinger is any dependency that can report liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Checker performs health checks on application dependencies
type Checker struct {
	db             Pinger
	cache          Pinger
	registry       *chain.Registry
	lastRunTime    time.Time
	lastRunSuccess bool
	interval       time.Duration
	mu             sync.RWMutex
}

// NewChecker creates a new health checker. cache may be nil when no
// Redis is configured; interval 0 disables the daemon check.
func NewChecker(db Pinger, cache Pinger, registry *chain.Registry, interval time.Duration) *Checker {
	return &Checker{
		db:       db,
		cache:    cache,
		registry: registry,
		interval: interval,
	}
}

// UpdateLastRun updates the timestamp and status of the last sweep
func (c *Checker) UpdateLastRun(success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastRunTime = time.Now()
	c.lastRunSuccess = success
}

// CheckStatus represents the health status of a component
type CheckStatus string

const (
	StatusOK       CheckStatus = "ok"
	StatusDegraded CheckStatus = "degraded"
	StatusError    CheckStatus = "error"
)

// HealthResponse is the JSON response structure
type HealthResponse struct {
	Status    CheckStatus            `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckDetail `json:"checks"`
	Uptime    string                 `json:"uptime,omitempty"`
}

// CheckDetail contains details about a specific health check
type CheckDetail struct {
	Status  CheckStatus `json:"status"`
	Message string      `json:"message,omitempty"`
}

var startTime = time.Now()

// Check performs all health checks and returns the aggregated status.
// The database is the only hard dependency; a missing or unreachable
// cache only degrades, the service keeps answering from Postgres.
func (c *Checker) Check(ctx context.Context) HealthResponse {
	checks := make(map[string]CheckDetail)
	overallStatus := StatusOK

	dbCheck := c.checkDatabase(ctx)
	checks["database"] = dbCheck
	if dbCheck.Status != StatusOK {
		overallStatus = StatusError
	}

	cacheCheck := c.checkCache(ctx)
	checks["cache"] = cacheCheck
	if cacheCheck.Status == StatusDegraded && overallStatus == StatusOK {
		overallStatus = StatusDegraded
	}

	adapterCheck := c.checkAdapters()
	checks["chain_adapters"] = adapterCheck
	if adapterCheck.Status == StatusError {
		overallStatus = StatusError
	}

	if c.interval > 0 {
		daemonCheck := c.checkDaemon()
		checks["daemon"] = daemonCheck
		if daemonCheck.Status != StatusOK && overallStatus == StatusOK {
			overallStatus = StatusDegraded
		}
	}

	return HealthResponse{
		Status:    overallStatus,
		Timestamp: time.Now(),
		Checks:    checks,
		Uptime:    time.Since(startTime).Round(time.Second).String(),
	}
}

// checkDatabase verifies PostgreSQL connectivity
func (c *Checker) checkDatabase(ctx context.Context) CheckDetail {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.db.Ping(ctx); err != nil {
		slog.Error("Health check: database ping failed", "error", err)
		return CheckDetail{
			Status:  StatusError,
			Message: "database unreachable: " + err.Error(),
		}
	}

	return CheckDetail{
		Status:  StatusOK,
		Message: "database connection healthy",
	}
}

// checkCache verifies Redis connectivity
func (c *Checker) checkCache(ctx context.Context) CheckDetail {
	if c.cache == nil {
		return CheckDetail{
			Status:  StatusOK,
			Message: "cache not configured",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := c.cache.Ping(ctx); err != nil {
		slog.Warn("Health check: cache ping failed", "error", err)
		return CheckDetail{
			Status:  StatusDegraded,
			Message: "cache unreachable, refreshes hit chains every time",
		}
	}

	return CheckDetail{
		Status:  StatusOK,
		Message: "cache connection healthy",
	}
}

// checkAdapters verifies that at least one chain adapter is registered
func (c *Checker) checkAdapters() CheckDetail {
	chains := c.registry.Chains()
	if len(chains) == 0 {
		return CheckDetail{
			Status:  StatusError,
			Message: "no chain adapters registered",
		}
	}
	return CheckDetail{
		Status:  StatusOK,
		Message: fmt.Sprintf("%d chain adapters registered", len(chains)),
	}
}

// checkDaemon verifies the sweep is executing at expected intervals
func (c *Checker) checkDaemon() CheckDetail {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.lastRunTime.IsZero() {
		return CheckDetail{
			Status:  StatusOK,
			Message: "sweep not yet executed (startup)",
		}
	}

	if !c.lastRunSuccess {
		return CheckDetail{
			Status:  StatusDegraded,
			Message: "last sweep failed",
		}
	}

	timeSinceLastRun := time.Since(c.lastRunTime)
	graceThreshold := c.interval * 2

	if timeSinceLastRun > graceThreshold {
		return CheckDetail{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("no sweep in %s (expected every %s)", timeSinceLastRun.Round(time.Second), c.interval),
		}
	}

	return CheckDetail{
		Status:  StatusOK,
		Message: fmt.Sprintf("last sweep %s ago", timeSinceLastRun.Round(time.Second)),
	}
}

// Handler returns an http.HandlerFunc for the health endpoint
func (c *Checker) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		status := c.Check(r.Context())

		statusCode := http.StatusOK
		if status.Status == StatusError {
			statusCode = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)

		if err := json.NewEncoder(w).Encode(status); err != nil {
			slog.Error("Failed to encode health response", "error", err)
		}
	}
}
