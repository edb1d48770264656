package service

import (
	"context"
	"time"
)

// Health status constants
const (
	StatusHealthy      = "healthy"
	StatusDegraded     = "degraded"
	StatusUnhealthy    = "unhealthy"
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

// HealthStatus represents the overall health status of the application
type HealthStatus struct {
	Status    string            `json:"status"`
	Services  map[string]string `json:"services"`
	Timestamp time.Time         `json:"timestamp"`
	Version   string            `json:"version,omitempty"`
}

// DatabasePinger is satisfied by *sqlx.DB
type DatabasePinger interface {
	PingContext(ctx context.Context) error
}

// QueuePinger is satisfied by *queue.Connection
type QueuePinger interface {
	Ping() error
}

// HealthChecker handles health check operations
type HealthChecker struct {
	db      DatabasePinger
	queue   QueuePinger
	version string
}

// NewHealthService creates a new HealthChecker instance. queue may be nil.
func NewHealthService(db DatabasePinger, queue QueuePinger, version string) *HealthChecker {
	return &HealthChecker{
		db:      db,
		queue:   queue,
		version: version,
	}
}

func (h *HealthChecker) checkDatabase(ctx context.Context) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

func (h *HealthChecker) checkQueue() string {
	if h.queue == nil || h.queue.Ping() != nil {
		return StatusDisconnected
	}
	return StatusConnected
}

// determineOverallStatus: no database is unhealthy, no queue is degraded
func (h *HealthChecker) determineOverallStatus(services map[string]string) string {
	if services["database"] == StatusDisconnected {
		return StatusUnhealthy
	}
	if services["queue"] == StatusDisconnected {
		return StatusDegraded
	}
	return StatusHealthy
}

// CheckHealth performs health checks on all dependencies and returns the overall status
func (h *HealthChecker) CheckHealth(ctx context.Context) *HealthStatus {
	services := map[string]string{
		"database": h.checkDatabase(ctx),
		"queue":    h.checkQueue(),
	}

	return &HealthStatus{
		Status:    h.determineOverallStatus(services),
		Services:  services,
		Timestamp: time.Now().UTC(),
		Version:   h.version,
	}
}
