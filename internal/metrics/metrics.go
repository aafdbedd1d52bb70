// Package metrics provides process-local counters for the resilience layer.
// Counters are the only visibility into silent data-loss conditions such as
// replay exhaustion, so they are exposed through Manager.GetStatus rather
// than an external metrics endpoint.
package metrics

import "sync/atomic"

// Metrics holds counters for one Manager instance. Safe for concurrent use.
type Metrics struct {
	primaryHits   atomic.Int64
	fallbackHits  atomic.Int64
	failovers     atomic.Int64
	queued        atomic.Int64
	replayed      atomic.Int64
	replayRetries atomic.Int64
	dropped       atomic.Int64
}

// New creates a zeroed Metrics instance.
func New() *Metrics {
	return &Metrics{}
}

// PrimaryHit records a query served by the primary.
func (m *Metrics) PrimaryHit() { m.primaryHits.Add(1) }

// FallbackHit records a query served by the fallback.
func (m *Metrics) FallbackHit() { m.fallbackHits.Add(1) }

// Failover records a primary failure that was recovered via the fallback.
func (m *Metrics) Failover() { m.failovers.Add(1) }

// Queued records a write enqueued for later replay.
func (m *Metrics) Queued() { m.queued.Add(1) }

// Replayed records a queued write successfully replayed against the primary.
func (m *Metrics) Replayed() { m.replayed.Add(1) }

// ReplayRetry records a failed replay that was re-enqueued.
func (m *Metrics) ReplayRetry() { m.replayRetries.Add(1) }

// Dropped records a queued write dropped after exhausting retries.
func (m *Metrics) Dropped() { m.dropped.Add(1) }

// Snapshot returns a point-in-time copy of all counters.
func (m *Metrics) Snapshot() map[string]int64 {
	return map[string]int64{
		"primary_hits":   m.primaryHits.Load(),
		"fallback_hits":  m.fallbackHits.Load(),
		"failovers":      m.failovers.Load(),
		"queued":         m.queued.Load(),
		"replayed":       m.replayed.Load(),
		"replay_retries": m.replayRetries.Load(),
		"dropped":        m.dropped.Load(),
	}
}
