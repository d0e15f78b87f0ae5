package metrics

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"
)

// Health states reported by components.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
	StatusUnknown   = "unknown"
)

// HealthStatus represents the health status of a component
type HealthStatus struct {
	Status    string                 `json:"status"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Duration  time.Duration          `json:"duration"`
}

// HealthReport represents the overall health report
type HealthReport struct {
	Status     string                  `json:"status"`
	Message    string                  `json:"message"`
	Timestamp  time.Time               `json:"timestamp"`
	Duration   time.Duration           `json:"duration"`
	Components map[string]HealthStatus `json:"components"`
	SystemInfo map[string]interface{}  `json:"system_info"`
}

// CheckFunc reports the health of one component.
type CheckFunc func(ctx context.Context) HealthStatus

// HealthChecker runs registered component checks.
type HealthChecker struct {
	mu        sync.RWMutex
	checks    map[string]CheckFunc
	timeout   time.Duration
	startTime time.Time
}

// NewHealthChecker creates a checker whose checks each get timeout.
func NewHealthChecker(timeout time.Duration) *HealthChecker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HealthChecker{
		checks:    make(map[string]CheckFunc),
		timeout:   timeout,
		startTime: time.Now(),
	}
}

// Register adds or replaces the check for name.
func (h *HealthChecker) Register(name string, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = check
}

// Components lists registered check names.
func (h *HealthChecker) Components() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Check runs every registered check concurrently and folds the results.
func (h *HealthChecker) Check(ctx context.Context) HealthReport {
	start := time.Now()

	h.mu.RLock()
	checks := make(map[string]CheckFunc, len(h.checks))
	for name, check := range h.checks {
		checks[name] = check
	}
	h.mu.RUnlock()

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		components = make(map[string]HealthStatus, len(checks))
	)
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check CheckFunc) {
			defer wg.Done()
			began := time.Now()
			result := HealthCheckWithTimeout(ctx, h.timeout, check)
			result.Duration = time.Since(began)
			mu.Lock()
			components[name] = result
			mu.Unlock()
		}(name, check)
	}
	wg.Wait()

	status, message := calculateOverallStatus(components)
	return HealthReport{
		Status:     status,
		Message:    message,
		Timestamp:  time.Now(),
		Duration:   time.Since(start),
		Components: components,
		SystemInfo: h.gatherSystemInfo(ctx),
	}
}

// calculateOverallStatus determines the overall health status based on component statuses
func calculateOverallStatus(components map[string]HealthStatus) (string, string) {
	var healthy, degraded, unhealthy, unknown int
	total := len(components)

	for _, status := range components {
		switch status.Status {
		case StatusHealthy:
			healthy++
		case StatusDegraded:
			degraded++
		case StatusUnhealthy:
			unhealthy++
		default:
			unknown++
		}
	}

	if unhealthy > 0 {
		return StatusUnhealthy, fmt.Sprintf("%d/%d components unhealthy", unhealthy, total)
	}
	if degraded > 0 {
		return StatusDegraded, fmt.Sprintf("%d/%d components degraded", degraded, total)
	}
	if unknown > 0 {
		return StatusUnknown, fmt.Sprintf("%d/%d components unknown", unknown, total)
	}
	return StatusHealthy, fmt.Sprintf("All %d components healthy", healthy)
}

func (h *HealthChecker) gatherSystemInfo(ctx context.Context) map[string]interface{} {
	info := map[string]interface{}{
		"timestamp":  time.Now().UTC().Format(time.RFC3339),
		"uptime":     time.Since(h.startTime).Round(time.Second).String(),
		"goroutines": runtime.NumGoroutine(),
		"go_version": runtime.Version(),
	}

	if hi, err := host.InfoWithContext(ctx); err == nil {
		info["hostname"] = hi.Hostname
		info["platform"] = hi.Platform
		info["host_uptime_seconds"] = hi.Uptime
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info["memory_used_percent"] = vm.UsedPercent
		info["memory_available"] = vm.Available
	}
	return info
}

// NewHealthStatus creates a new health status
func NewHealthStatus(status, message string) HealthStatus {
	return HealthStatus{
		Status:    status,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// WithDetail adds a single detail to a health status
func (h HealthStatus) WithDetail(key string, value interface{}) HealthStatus {
	details := make(map[string]interface{}, len(h.Details)+1)
	for k, v := range h.Details {
		details[k] = v
	}
	details[key] = value
	h.Details = details
	return h
}

// IsHealthy returns true if the status is healthy
func (h HealthStatus) IsHealthy() bool {
	return h.Status == StatusHealthy
}

// HealthCheckWithTimeout performs a health check with timeout
func HealthCheckWithTimeout(ctx context.Context, timeout time.Duration, check CheckFunc) HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultChan := make(chan HealthStatus, 1)
	go func() {
		resultChan <- check(ctx)
	}()

	select {
	case result := <-resultChan:
		return result
	case <-ctx.Done():
		return NewHealthStatus(StatusUnhealthy, "Health check timed out").
			WithDetail("timeout", timeout.String())
	}
}
