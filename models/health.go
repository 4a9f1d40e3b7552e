package models

import "time"

// SiteHealth is a point-in-time snapshot of one site's auth/backoff state,
// exposed on the ops API for operator dashboards.
type SiteHealth struct {
	Site              string    `json:"site"`
	Status            string    `json:"status"`
	Reason            string    `json:"reason,omitempty"`
	ConsecutiveErrors int       `json:"consecutive_errors"`
	LastCheckedAt     time.Time `json:"last_checked_at,omitempty"`
	LastSuccessAt     time.Time `json:"last_success_at,omitempty"`
	LastErrorAt       time.Time `json:"last_error_at,omitempty"`
	BackoffUntil      time.Time `json:"backoff_until,omitempty"`

	// BackoffRemainingMin is the whole minutes left in the backoff
	// window, zero when the site is usable.
	BackoffRemainingMin int `json:"backoff_remaining_min"`
}

// PoolMetrics reports the state of the browser resource pool.
type PoolMetrics struct {
	Connected      bool   `json:"connected"`
	ActiveLeases   int    `json:"active_leases"`
	PendingWaiters int    `json:"pending_waiters"`
	MaxContexts    int    `json:"max_contexts"`
	ResidentBytes  uint64 `json:"resident_bytes"`
	HeapBytes      uint64 `json:"heap_bytes"`
}

// ProxyStatus is a snapshot of one proxy in the rotation pool.
type ProxyStatus struct {
	Endpoint    string    `json:"endpoint"`
	Failures    int       `json:"failures"`
	Successes   int       `json:"successes"`
	LastUsed    time.Time `json:"last_used,omitempty"`
	LastFailure time.Time `json:"last_failure,omitempty"`
	InCooldown  bool      `json:"in_cooldown"`
}

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status  string      `json:"status"` // "healthy" or "degraded"
	Uptime  string      `json:"uptime"`
	Pool    PoolMetrics `json:"pool"`
	Version string      `json:"version"`
}
