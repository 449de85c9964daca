package workers

import (
	"sync"
	"time"

	"github.com/aescanero/synthflow/pkg/ports"
	"go.uber.org/zap"
)

// HealthMonitor periodically reports slot usage of a Controller
type HealthMonitor struct {
	controller *Controller
	interval   time.Duration
	metrics    ports.MetricsCollector
	logger     *zap.Logger

	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
}

// HealthStatus represents the health status of the slot pool
type HealthStatus struct {
	Capacity  int       `json:"capacity"`
	Active    int       `json:"active"`
	Waiting   int       `json:"waiting"`
	HighWater int       `json:"high_water"`
	Saturated bool      `json:"saturated"`
	Healthy   bool      `json:"healthy"`
	Timestamp time.Time `json:"timestamp"`
}

// NewHealthMonitor creates a new health monitor
func NewHealthMonitor(controller *Controller, interval time.Duration, metrics ports.MetricsCollector, logger *zap.Logger) *HealthMonitor {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if metrics == nil {
		metrics = ports.NopMetrics{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthMonitor{
		controller: controller,
		interval:   interval,
		metrics:    metrics,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Start starts the health monitor
func (h *HealthMonitor) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
}

// Stop stops the health monitor
func (h *HealthMonitor) Stop() {
	h.mu.Lock()
	if !h.running {
		h.mu.Unlock()
		return
	}
	h.running = false
	h.mu.Unlock()

	close(h.stopCh)
}

// run is the main health monitoring loop
func (h *HealthMonitor) run() {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.checkHealth()
		}
	}
}

// checkHealth logs slot usage and records it as gauges
func (h *HealthMonitor) checkHealth() {
	status := h.GetStatus()

	h.logger.Debug("slot pool health check",
		zap.Int("capacity", status.Capacity),
		zap.Int("active", status.Active),
		zap.Int("waiting", status.Waiting),
		zap.Int("high_water", status.HighWater),
		zap.Bool("healthy", status.Healthy))

	h.metrics.RecordSlotStatus(status.Capacity, status.Active, status.Waiting)

	if !status.Healthy {
		h.logger.Warn("slot pool is unhealthy",
			zap.Int("active", status.Active),
			zap.Int("capacity", status.Capacity))
	}

	// Warn if nodes queue behind a full pool
	if status.Saturated && status.Waiting > 0 {
		h.logger.Warn("all slots are busy - consider raising scheduler capacity",
			zap.Int("capacity", status.Capacity),
			zap.Int("waiting", status.Waiting))
	}
}

// GetStatus returns the current health status
func (h *HealthMonitor) GetStatus() *HealthStatus {
	stats := h.controller.Stats()

	return &HealthStatus{
		Capacity:  stats.Capacity,
		Active:    stats.Active,
		Waiting:   stats.Waiting,
		HighWater: stats.HighWater,
		Saturated: stats.Active >= stats.Capacity,
		Healthy:   stats.Active <= stats.Capacity,
		Timestamp: time.Now(),
	}
}

// IsHealthy returns true if the slot pool is healthy
func (h *HealthMonitor) IsHealthy() bool {
	return h.GetStatus().Healthy
}
