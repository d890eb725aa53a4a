package discord

import (
	"sync"
	"sync/atomic"
	"time"
)

// Health statuses
const (
	StatusHealthy  = "healthy"
	StatusDegraded = "degraded"
)

// recoveryAfter is how long the subsystem must go without upstream errors
// before a degraded status is cleared
const recoveryAfter = 5 * time.Minute

// Health tracks verification counters for the ops endpoint
type Health struct {
	startTime     time.Time
	total         atomic.Int64
	successful    atomic.Int64
	failed        atomic.Int64
	rateLimitHits atomic.Int64

	mu          sync.Mutex
	status      string
	lastError   string
	lastErrorAt time.Time
}

// HealthSnapshot is a point-in-time copy of Health
type HealthSnapshot struct {
	Status             string    `json:"status"`
	StartTime          time.Time `json:"startTime"`
	UptimeSeconds      int64     `json:"uptimeSeconds"`
	TotalRequests      int64     `json:"totalRequests"`
	SuccessfulRequests int64     `json:"successfulRequests"`
	FailedRequests     int64     `json:"failedRequests"`
	RateLimitHits      int64     `json:"rateLimitHits"`
	LastError          *string   `json:"lastError"`
}

// NewHealth starts the uptime clock at now
func NewHealth(now time.Time) *Health {
	return &Health{startTime: now, status: StatusHealthy}
}

func (h *Health) RecordRequest()     { h.total.Add(1) }
func (h *Health) RecordSuccess()     { h.successful.Add(1) }
func (h *Health) RecordRateLimited() { h.rateLimitHits.Add(1) }

// RecordFailure counts a failed verification. A non-empty message is kept as
// the last error; upstream failures also degrade the status.
func (h *Health) RecordFailure(message string, upstream bool, now time.Time) {
	h.failed.Add(1)
	if message == "" {
		return
	}
	h.mu.Lock()
	h.lastError = message
	h.lastErrorAt = now
	if upstream {
		h.status = StatusDegraded
	}
	h.mu.Unlock()
}

// Recover clears a degraded status once no error was seen for five minutes
func (h *Health) Recover(now time.Time) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status == StatusDegraded && now.Sub(h.lastErrorAt) > recoveryAfter {
		h.status = StatusHealthy
		return true
	}
	return false
}

// Snapshot copies the counters at now
func (h *Health) Snapshot(now time.Time) HealthSnapshot {
	h.mu.Lock()
	status, lastError := h.status, h.lastError
	h.mu.Unlock()

	s := HealthSnapshot{
		Status:             status,
		StartTime:          h.startTime,
		UptimeSeconds:      int64(now.Sub(h.startTime).Seconds()),
		TotalRequests:      h.total.Load(),
		SuccessfulRequests: h.successful.Load(),
		FailedRequests:     h.failed.Load(),
		RateLimitHits:      h.rateLimitHits.Load(),
	}
	if lastError != "" {
		s.LastError = &lastError
	}
	return s
}
