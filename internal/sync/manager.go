// Package sync provides the background worker that replays queued writes
// against the primary database once it becomes reachable again.
//
// Replay is at-least-once, not exactly-once: a replay that succeeds but
// whose success report is lost would be executed again, and a failed
// operation re-enters at the back of the queue, so global write order
// across retries is not preserved. Callers needing linearizable semantics
// must not rely on this layer.
package sync

import (
	"context"
	"sync"
	"time"

	"github.com/venturekit/core/internal/database"
	apperrors "github.com/venturekit/core/internal/errors"
	"github.com/venturekit/core/internal/logging"
	"github.com/venturekit/core/internal/metrics"
	"github.com/venturekit/core/internal/sync/queue"
)

// DefaultBatchSize bounds how many operations one cycle drains, which in
// turn bounds a single cycle's latency.
const DefaultBatchSize = 100

// Config holds the worker's tunables.
type Config struct {
	Interval    time.Duration // sleep between replay cycles
	BatchSize   int           // max operations drained per cycle
	StopTimeout time.Duration // bounded wait during Stop
}

// Manager owns the replay queue's consumer side: a single background
// goroutine that drains batches and executes them against the primary.
type Manager struct {
	primary  database.Connection
	queue    *queue.Queue
	metrics  *metrics.Metrics
	interval time.Duration
	batch    int
	stopWait time.Duration

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// New creates a replay manager. Start must be called separately, and only
// after the primary has connected at least once.
func New(primary database.Connection, q *queue.Queue, m *metrics.Metrics, cfg Config) *Manager {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 5 * time.Second
	}
	return &Manager{
		primary:  primary,
		queue:    q,
		metrics:  m,
		interval: cfg.Interval,
		batch:    cfg.BatchSize,
		stopWait: cfg.StopTimeout,
	}
}

// Start launches the background worker. Idempotent while running.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return
	}
	m.running = true
	m.stopCh = make(chan struct{})
	m.doneCh = make(chan struct{})

	go m.run(m.stopCh, m.doneCh)
	logging.Info("replay worker started", map[string]interface{}{
		"interval":   m.interval.String(),
		"batch_size": m.batch,
	})
}

// Stop signals the worker and waits up to the configured timeout for it to
// finish the current cycle. Returns an error when the worker did not stop
// in time; the caller proceeds with shutdown regardless.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	done := m.doneCh
	m.mu.Unlock()

	select {
	case <-done:
		logging.Info("replay worker stopped")
		return nil
	case <-time.After(m.stopWait):
		logging.Warn("replay worker did not stop in time", map[string]interface{}{
			"timeout": m.stopWait.String(),
		})
		return apperrors.New(apperrors.ErrSyncStopTimeout, "replay worker stop timed out")
	}
}

// Running reports whether the worker is active.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// QueueDepth returns the number of operations awaiting replay.
func (m *Manager) QueueDepth() int {
	return m.queue.Size()
}

// run is the worker loop: one replay cycle per tick until stopped.
func (m *Manager) run(stopCh, doneCh chan struct{}) {
	defer close(doneCh)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			m.runCycle(stopCh)
		}
	}
}

// runCycle drains one batch and replays it against the primary.
func (m *Manager) runCycle(stopCh chan struct{}) {
	ops := m.queue.DequeueBatch(m.batch)
	if len(ops) == 0 {
		return
	}

	ctx := context.Background()

	// The primary must be reachable before anything replays. One reconnect
	// attempt per cycle; on failure the whole batch goes back rather than
	// blocking the worker.
	if m.primary.Status() != database.StatusConnected {
		if !m.primary.Connect(ctx) {
			for _, op := range ops {
				m.queue.Requeue(op)
			}
			logging.Debug("primary still unavailable, deferring replay", map[string]interface{}{
				"deferred": len(ops),
			})
			return
		}
	}

	replayed := 0
	for _, op := range ops {
		select {
		case <-stopCh:
			// Shutdown mid-batch: put the remainder back, current op included.
			m.queue.Requeue(op)
			continue
		default:
		}

		res := m.primary.ExecuteQuery(ctx, op.Query, op.Params)
		if res.Success {
			replayed++
			m.metrics.Replayed()
			continue
		}

		op.RetryCount++
		if op.RetryCount <= op.MaxRetries {
			m.queue.Requeue(op)
			m.metrics.ReplayRetry()
			logging.Warn("replay failed, requeued", map[string]interface{}{
				"op_id":   op.ID,
				"table":   op.Table,
				"retries": op.RetryCount,
				"error":   res.Error,
			})
		} else {
			// Silent data-loss condition by design: surfaced via the
			// dropped counter and this log line, never raised.
			m.metrics.Dropped()
			logging.Error("replay permanently failed, dropping operation",
				apperrors.New(apperrors.ErrReplayExhausted, res.Error),
				map[string]interface{}{
					"op_id":   op.ID,
					"table":   op.Table,
					"retries": op.RetryCount,
				})
		}
	}

	if replayed > 0 {
		logging.Info("replay cycle completed", map[string]interface{}{
			"replayed":  replayed,
			"remaining": m.queue.Size(),
		})
	}
}
