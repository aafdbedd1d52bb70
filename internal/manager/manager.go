// Package manager provides the facade clients call: it owns both database
// connections and the replay worker, and implements the failover policy.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/venturekit/core/internal/config"
	"github.com/venturekit/core/internal/database"
	apperrors "github.com/venturekit/core/internal/errors"
	"github.com/venturekit/core/internal/logging"
	"github.com/venturekit/core/internal/metrics"
	"github.com/venturekit/core/internal/models"
	syncpkg "github.com/venturekit/core/internal/sync"
	"github.com/venturekit/core/internal/sync/queue"
)

// syncQueueTable stores the queue snapshot across restarts.
const syncQueueTable = "_sync_queue"

// Manager routes queries to the primary when healthy and to the fallback
// otherwise, queuing fallback writes for later replay. Safe for concurrent
// use: the query path takes no manager-wide lock; concurrency control is
// pushed down into each connection.
type Manager struct {
	cfg      *config.Config
	primary  database.Connection
	fallback *database.SQLiteConnection
	queue    *queue.Queue
	syncMgr  *syncpkg.Manager
	metrics  *metrics.Metrics

	mu          sync.Mutex // guards initialized and the health-check throttle
	initialized bool
	lastHealth  time.Time
}

// New creates a manager from configuration. No connection is attempted
// until Initialize.
func New(cfg *config.Config) *Manager {
	cfg.ApplyDefaults()
	primary := database.NewPostgresConnection(database.ConnectionConfig{
		Host:           cfg.Primary.Host,
		Port:           cfg.Primary.Port,
		Database:       cfg.Primary.Database,
		Username:       cfg.Primary.Username,
		Password:       cfg.Primary.Password,
		PoolSize:       cfg.Primary.PoolSize,
		MaxOverflow:    cfg.Primary.MaxOverflow,
		TimeoutSeconds: cfg.Primary.TimeoutSeconds,
	})
	fallback := database.NewSQLiteConnection(cfg.Fallback.Path)
	return newWithConnections(cfg, primary, fallback)
}

// newWithConnections wires a manager around pre-built connections. Split
// out so tests can substitute the primary.
func newWithConnections(cfg *config.Config, primary database.Connection, fallback *database.SQLiteConnection) *Manager {
	q := queue.New()
	mtr := metrics.New()
	return &Manager{
		cfg:      cfg,
		primary:  primary,
		fallback: fallback,
		queue:    q,
		metrics:  mtr,
		syncMgr: syncpkg.New(primary, q, mtr, syncpkg.Config{
			Interval:    cfg.SyncInterval(),
			BatchSize:   cfg.Sync.BatchSize,
			StopTimeout: cfg.SyncStopTimeout(),
		}),
	}
}

// Initialize connects the fallback (mandatory), attempts the primary
// (best-effort), restores any persisted queue snapshot, and starts the
// replay worker when the primary is up.
func (m *Manager) Initialize(ctx context.Context) error {
	m.mu.Lock()
	if m.initialized {
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	if !m.fallback.Connect(ctx) {
		snap := m.fallback.HealthCheck()
		return apperrors.New(apperrors.ErrConnectionFailed,
			"fallback connect failed: "+snap.LastError)
	}

	m.restoreQueue(ctx)

	if m.primary.Connect(ctx) {
		m.syncMgr.Start()
	} else {
		logging.Warn("primary unavailable at startup, serving from fallback", map[string]interface{}{
			"queued": m.queue.Size(),
		})
	}

	m.mu.Lock()
	m.initialized = true
	m.lastHealth = time.Now()
	m.mu.Unlock()
	return nil
}

// ExecuteQuery routes one statement. Primary first when connected (unless
// forcePrimary pins it there); otherwise, or on primary failure, the
// fallback serves the statement, and a successful fallback write is queued
// for replay. With both backends down the result carries Source "none".
func (m *Manager) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}, forcePrimary bool) *database.QueryResult {
	m.maybeHealthCheck(ctx)
	opType := database.Classify(query)

	if forcePrimary {
		if m.primary.Status() != database.StatusConnected {
			m.primary.Connect(ctx)
		}
		res := m.primary.ExecuteQuery(ctx, query, params)
		if res.Success {
			m.metrics.PrimaryHit()
		}
		return res
	}

	primaryUp := m.primary.Status() == database.StatusConnected
	if primaryUp {
		res := m.primary.ExecuteQuery(ctx, query, params)
		if res.Success {
			m.metrics.PrimaryHit()
			return res
		}
		m.metrics.Failover()
		logging.Warn("primary query failed, falling back", map[string]interface{}{
			"operation": string(opType),
			"error":     res.Error,
		})
	}

	if m.fallback.Status() != database.StatusConnected {
		return &database.QueryResult{
			Success: false,
			Error:   "all backends unavailable",
			Source:  database.SourceNone,
		}
	}

	res := m.fallback.ExecuteQuery(ctx, query, params)
	if res.Success {
		m.metrics.FallbackHit()
		if opType.IsWrite() {
			m.enqueueReplay(opType, query, params)
		}
	}
	return res
}

// ExecuteMany routes a batch under the same policy, queuing one replay
// operation per parameter set on fallback success.
func (m *Manager) ExecuteMany(ctx context.Context, query string, paramsList []map[string]interface{}) *database.QueryResult {
	m.maybeHealthCheck(ctx)
	opType := database.Classify(query)

	if m.primary.Status() == database.StatusConnected {
		res := m.primary.ExecuteMany(ctx, query, paramsList)
		if res.Success {
			m.metrics.PrimaryHit()
			return res
		}
		m.metrics.Failover()
		logging.Warn("primary batch failed, falling back", map[string]interface{}{
			"operation": string(opType),
			"sets":      len(paramsList),
			"error":     res.Error,
		})
	}

	if m.fallback.Status() != database.StatusConnected {
		return &database.QueryResult{
			Success: false,
			Error:   "all backends unavailable",
			Source:  database.SourceNone,
		}
	}

	res := m.fallback.ExecuteMany(ctx, query, paramsList)
	if res.Success && opType.IsWrite() {
		for _, params := range paramsList {
			m.enqueueReplay(opType, query, params)
		}
	}
	if res.Success {
		m.metrics.FallbackHit()
	}
	return res
}

// CreateTable creates the table on the primary (when connected) and,
// independently, on the fallback via schema translation. The primary's
// result wins when both succeed. DDL is not queued for replay: the schema
// is expected to exist on the primary already, and IF NOT EXISTS makes a
// later direct call harmless.
func (m *Manager) CreateTable(ctx context.Context, name, schema string) *database.QueryResult {
	m.maybeHealthCheck(ctx)
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", name, schema)

	var primaryRes *database.QueryResult
	if m.primary.Status() == database.StatusConnected {
		primaryRes = m.primary.ExecuteQuery(ctx, stmt, nil)
	}

	var fallbackRes *database.QueryResult
	if m.fallback.Status() == database.StatusConnected {
		fallbackRes = m.fallback.CreateTableFromSchema(ctx, name, schema)
	}

	switch {
	case primaryRes != nil && primaryRes.Success:
		return primaryRes
	case fallbackRes != nil && fallbackRes.Success:
		return fallbackRes
	case primaryRes != nil:
		return primaryRes
	case fallbackRes != nil:
		return fallbackRes
	default:
		return &database.QueryResult{
			Success: false,
			Error:   "all backends unavailable",
			Source:  database.SourceNone,
		}
	}
}

// enqueueReplay records a fallback write for later replay.
func (m *Manager) enqueueReplay(opType database.OperationType, query string, params map[string]interface{}) {
	op := queue.NewOperation(opType, query, params)
	op.MaxRetries = m.cfg.Sync.MaxRetries
	m.queue.Enqueue(op)
	m.metrics.Queued()
	logging.Debug("write queued for replay", map[string]interface{}{
		"op_id":     op.ID,
		"operation": string(opType),
		"table":     op.Table,
		"depth":     m.queue.Size(),
	})
}

// Status aggregates both connections' health, the queue depth, and the
// metrics counters.
type Status struct {
	Initialized bool                    `json:"initialized"`
	Primary     database.HealthSnapshot `json:"primary"`
	Fallback    database.HealthSnapshot `json:"fallback"`
	QueueDepth  int                     `json:"queue_depth"`
	SyncRunning bool                    `json:"sync_running"`
	Metrics     map[string]int64        `json:"metrics"`
}

// GetStatus returns a point-in-time view of the whole layer.
func (m *Manager) GetStatus() Status {
	m.mu.Lock()
	initialized := m.initialized
	m.mu.Unlock()

	return Status{
		Initialized: initialized,
		Primary:     m.primary.HealthCheck(),
		Fallback:    m.fallback.HealthCheck(),
		QueueDepth:  m.queue.Size(),
		SyncRunning: m.syncMgr.Running(),
		Metrics:     m.metrics.Snapshot(),
	}
}

// Cleanup stops the replay worker (bounded wait), persists the queue
// snapshot, then disconnects both backends. Every step runs even if a
// prior one errored.
func (m *Manager) Cleanup() error {
	var errs []error

	if err := m.syncMgr.Stop(); err != nil {
		errs = append(errs, err)
	}

	m.persistQueue(context.Background())

	m.primary.Disconnect()
	m.fallback.Disconnect()

	m.mu.Lock()
	m.initialized = false
	m.mu.Unlock()

	return errors.Join(errs...)
}

// maybeHealthCheck reconnects unhealthy backends, throttled to at most
// once per configured interval regardless of call volume.
func (m *Manager) maybeHealthCheck(ctx context.Context) {
	m.mu.Lock()
	if time.Since(m.lastHealth) < m.cfg.HealthCheckInterval() {
		m.mu.Unlock()
		return
	}
	m.lastHealth = time.Now()
	m.mu.Unlock()

	if s := m.fallback.Status(); s == database.StatusDisconnected || s == database.StatusError {
		m.fallback.Connect(ctx)
	}
	if s := m.primary.Status(); s == database.StatusDisconnected || s == database.StatusError {
		if m.primary.Connect(ctx) && !m.syncMgr.Running() {
			m.syncMgr.Start()
		}
	}
}

// persistQueue snapshots pending operations into the fallback database so
// a restart does not lose them. Best-effort: failures are logged, never
// returned, and must not block shutdown.
func (m *Manager) persistQueue(ctx context.Context) {
	ops := m.queue.Snapshot()
	if len(ops) == 0 {
		return
	}
	create := fmt.Sprintf(
		"CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, payload TEXT NOT NULL)", syncQueueTable)
	if res := m.fallback.ExecuteQuery(ctx, create, nil); !res.Success {
		logging.Warn("queue snapshot skipped", map[string]interface{}{"error": res.Error})
		return
	}

	saved := 0
	insert := fmt.Sprintf("INSERT OR REPLACE INTO %s (id, payload) VALUES (:id, :payload)", syncQueueTable)
	for _, op := range ops {
		rec, err := op.ToRecord()
		if err != nil {
			continue
		}
		data, err := rec.Encode()
		if err != nil {
			continue
		}
		res := m.fallback.ExecuteQuery(ctx, insert, map[string]interface{}{
			"id":      op.ID,
			"payload": string(data),
		})
		if res.Success {
			saved++
		}
	}
	logging.Info("queue snapshot persisted", map[string]interface{}{
		"pending": len(ops),
		"saved":   saved,
	})
}

// restoreQueue reloads a previously persisted snapshot, then clears it.
func (m *Manager) restoreQueue(ctx context.Context) {
	sel := fmt.Sprintf("SELECT id, payload FROM %s ORDER BY rowid", syncQueueTable)
	res := m.fallback.ExecuteQuery(ctx, sel, nil)
	if !res.Success || len(res.Data) == 0 {
		// No snapshot table is the common case, not an error.
		return
	}

	restored := 0
	for _, row := range res.Data {
		payload, ok := row["payload"].(string)
		if !ok {
			continue
		}
		rec, err := models.DecodeSyncRecord([]byte(payload))
		if err != nil {
			logging.Warn("discarding unreadable queue record", map[string]interface{}{"error": err.Error()})
			continue
		}
		op, err := queue.FromRecord(rec)
		if err != nil {
			continue
		}
		m.queue.Enqueue(op)
		restored++
	}

	m.fallback.ExecuteQuery(ctx, fmt.Sprintf("DELETE FROM %s", syncQueueTable), nil)
	logging.Info("queue snapshot restored", map[string]interface{}{"restored": restored})
}
