package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthChecker_Check(t *testing.T) {
	ok := func(context.Context) error { return nil }
	fail := func(context.Context) error { return errors.New("connection refused") }

	tests := []struct {
		name   string
		setup  func(h *HealthChecker)
		status string
	}{
		{
			name:   "no probes",
			setup:  func(h *HealthChecker) {},
			status: StatusHealthy,
		},
		{
			name: "all passing",
			setup: func(h *HealthChecker) {
				h.AddProbe("database", true, ok)
				h.AddProbe("redis", false, ok)
			},
			status: StatusHealthy,
		},
		{
			name: "non-critical failure degrades",
			setup: func(h *HealthChecker) {
				h.AddProbe("database", true, ok)
				h.AddProbe("redis", false, fail)
			},
			status: StatusDegraded,
		},
		{
			name: "critical failure is unhealthy",
			setup: func(h *HealthChecker) {
				h.AddProbe("database", true, fail)
				h.AddProbe("redis", false, fail)
			},
			status: StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthChecker("test")
			tt.setup(h)

			status := h.Check(context.Background())
			assert.Equal(t, tt.status, status.Status)
			assert.Equal(t, "test", status.Version)
		})
	}
}

func TestHealthChecker_FailureMessage(t *testing.T) {
	h := NewHealthChecker("test")
	h.AddProbe("redis", false, func(context.Context) error { return errors.New("connection refused") })

	status := h.Check(context.Background())
	require.Contains(t, status.Dependencies, "redis")
	assert.Equal(t, StatusUnhealthy, status.Dependencies["redis"].Status)
	assert.Equal(t, "connection refused", status.Dependencies["redis"].Message)
}

func TestHealthChecker_Readiness(t *testing.T) {
	h := NewHealthChecker("test")
	h.AddProbe("database", true, func(context.Context) error { return errors.New("down") })

	w := httptest.NewRecorder()
	h.Readiness(w, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	var body HealthStatus
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, StatusUnhealthy, body.Status)
}

func TestHealthChecker_Liveness(t *testing.T) {
	w := httptest.NewRecorder()
	NewHealthChecker("test").Liveness(w, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), StatusHealthy)
}
