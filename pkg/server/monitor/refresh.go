package monitor

import (
	"sync"
	"time"
)

// MaxConsecutiveErrors is the number of failed refresh runs tolerated before
// the monitor reports unhealthy.
const MaxConsecutiveErrors = 3

// RefreshMonitor tracks background refresh health and failures.
type RefreshMonitor struct {
	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
	lastRefreshed     int

	staleAfter time.Duration
	now        func() time.Time
}

// NewRefreshMonitor creates a monitor for a refresh loop running every interval.
// The loop counts as stale after two missed runs.
func NewRefreshMonitor(interval time.Duration) *RefreshMonitor {
	return &RefreshMonitor{
		staleAfter: 2 * interval,
		now:        time.Now,
	}
}

// RecordSuccess records a successful run that refreshed the given number of products.
func (m *RefreshMonitor) RecordSuccess(refreshed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	m.lastSuccess = now
	m.lastAttempt = now
	m.consecutiveErrors = 0
	m.lastError = ""
	m.lastRefreshed = refreshed
}

// RecordFailure records a failed run.
func (m *RefreshMonitor) RecordFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastAttempt = m.now()
	m.consecutiveErrors++
	if err != nil {
		m.lastError = err.Error()
	}
}

// IsHealthy returns true if refreshes are working properly.
// Unhealthy conditions:
//   - Never succeeded
//   - No success within the stale window
//   - More than MaxConsecutiveErrors consecutive failures
func (m *RefreshMonitor) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.healthyLocked()
}

func (m *RefreshMonitor) healthyLocked() bool {
	if m.lastSuccess.IsZero() {
		return false
	}
	if m.staleAfter > 0 && m.now().Sub(m.lastSuccess) > m.staleAfter {
		return false
	}
	return m.consecutiveErrors <= MaxConsecutiveErrors
}

// ConsecutiveErrors returns the number of failed runs since the last success
func (m *RefreshMonitor) ConsecutiveErrors() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.consecutiveErrors
}

// RefreshStatus is the refresh loop's state for health checks.
type RefreshStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ProductsRefreshed int    `json:"products_refreshed"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current refresh status for health checks.
func (m *RefreshMonitor) Status() RefreshStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := RefreshStatus{
		Healthy:           m.healthyLocked(),
		ProductsRefreshed: m.lastRefreshed,
	}

	if !m.lastSuccess.IsZero() {
		status.LastSuccess = m.lastSuccess.UTC().Format(time.RFC3339)
		status.TimeSinceSuccess = m.now().Sub(m.lastSuccess).Round(time.Second).String()
	}

	if !m.lastAttempt.IsZero() {
		status.LastAttempt = m.lastAttempt.UTC().Format(time.RFC3339)
	}

	if m.consecutiveErrors > 0 {
		status.ConsecutiveErrors = m.consecutiveErrors
		status.LastError = m.lastError
	}

	return status
}
