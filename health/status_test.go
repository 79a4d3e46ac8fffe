package health

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStatusConstructors(t *testing.T) {
	h := NewHealthy("channel", "connected")
	assert.True(t, h.Healthy)
	assert.True(t, h.IsHealthy())
	assert.Equal(t, "healthy", h.Status)

	u := NewUnhealthy("channel", "connection refused")
	assert.False(t, u.Healthy)
	assert.True(t, u.IsUnhealthy())

	d := NewDegraded("heartbeat", "2 pings unanswered")
	assert.False(t, d.Healthy)
	assert.True(t, d.IsDegraded())
}

func TestStatus_WithMetrics(t *testing.T) {
	metrics := &Metrics{
		Uptime:              time.Minute,
		ConsecutiveFailures: 2,
	}

	s := NewDegraded("heartbeat", "stale").WithMetrics(metrics)
	assert.Equal(t, metrics, s.Metrics)
	assert.True(t, s.IsDegraded(), "attaching metrics does not change the status")
}

func TestAggregate(t *testing.T) {
	tests := []struct {
		name     string
		sub      []Status
		expected string
	}{
		{
			name:     "empty is healthy",
			sub:      nil,
			expected: "healthy",
		},
		{
			name: "all healthy",
			sub: []Status{
				NewHealthy("a", "ok"),
				NewHealthy("b", "ok"),
			},
			expected: "healthy",
		},
		{
			name: "one degraded",
			sub: []Status{
				NewHealthy("a", "ok"),
				NewDegraded("b", "slow"),
			},
			expected: "degraded",
		},
		{
			name: "unhealthy wins over degraded",
			sub: []Status{
				NewDegraded("a", "slow"),
				NewUnhealthy("b", "down"),
			},
			expected: "unhealthy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			agg := Aggregate("session", tt.sub)
			assert.Equal(t, tt.expected, agg.Status)
			assert.Equal(t, "session", agg.Component)
			assert.Len(t, agg.SubStatuses, len(tt.sub))
		})
	}
}
