package monitor

import (
	"errors"
	"testing"
	"time"
)

func TestRefreshMonitor_RecordSuccess(t *testing.T) {
	m := NewRefreshMonitor(time.Hour)
	m.RecordSuccess(2)

	status := m.Status()
	if !status.Healthy {
		t.Error("Status should be healthy after success")
	}
	if status.ProductsRefreshed != 2 {
		t.Errorf("ProductsRefreshed = %d, want 2", status.ProductsRefreshed)
	}
	if status.ConsecutiveErrors != 0 {
		t.Errorf("ConsecutiveErrors = %d, want 0", status.ConsecutiveErrors)
	}
	if status.LastError != "" {
		t.Errorf("LastError = %q, want empty", status.LastError)
	}
}

func TestRefreshMonitor_RecordFailure(t *testing.T) {
	m := NewRefreshMonitor(time.Hour)
	m.RecordFailure(errors.New("storage unavailable"))

	status := m.Status()
	if status.ConsecutiveErrors != 1 {
		t.Errorf("ConsecutiveErrors = %d, want 1", status.ConsecutiveErrors)
	}
	if status.LastError != "storage unavailable" {
		t.Errorf("LastError = %q, want %q", status.LastError, "storage unavailable")
	}
	if status.LastAttempt == "" {
		t.Error("LastAttempt should be set")
	}
}

func TestRefreshMonitor_IsHealthy(t *testing.T) {
	start := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		setup    func(*RefreshMonitor, *time.Time)
		expected bool
	}{
		{
			name:     "never succeeded",
			setup:    func(*RefreshMonitor, *time.Time) {},
			expected: false,
		},
		{
			name: "recent success",
			setup: func(m *RefreshMonitor, _ *time.Time) {
				m.RecordSuccess(0)
			},
			expected: true,
		},
		{
			name: "stale success",
			setup: func(m *RefreshMonitor, now *time.Time) {
				m.RecordSuccess(0)
				*now = now.Add(3 * time.Hour)
			},
			expected: false,
		},
		{
			name: "tolerated failures",
			setup: func(m *RefreshMonitor, _ *time.Time) {
				m.RecordSuccess(1)
				for i := 0; i < MaxConsecutiveErrors; i++ {
					m.RecordFailure(errors.New("flaky"))
				}
			},
			expected: true,
		},
		{
			name: "too many consecutive errors",
			setup: func(m *RefreshMonitor, _ *time.Time) {
				m.RecordSuccess(1)
				for i := 0; i <= MaxConsecutiveErrors; i++ {
					m.RecordFailure(errors.New("down"))
				}
			},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now := start
			m := NewRefreshMonitor(time.Hour)
			m.now = func() time.Time { return now }
			tt.setup(m, &now)
			if got := m.IsHealthy(); got != tt.expected {
				t.Errorf("IsHealthy() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestRefreshMonitor_Status(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	m := NewRefreshMonitor(time.Hour)
	m.now = func() time.Time { return now }
	m.RecordSuccess(3)

	now = now.Add(90 * time.Second)
	status := m.Status()
	if !status.Healthy {
		t.Error("Status should be healthy")
	}
	if status.LastSuccess != "2024-01-01T12:00:00Z" {
		t.Errorf("LastSuccess = %q", status.LastSuccess)
	}
	if status.TimeSinceSuccess != "1m30s" {
		t.Errorf("TimeSinceSuccess = %q, want 1m30s", status.TimeSinceSuccess)
	}
}
