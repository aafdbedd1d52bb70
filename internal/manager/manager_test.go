package manager

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/venturekit/core/internal/config"
	"github.com/venturekit/core/internal/database"
	syncpkg "github.com/venturekit/core/internal/sync"
)

// stubPrimary stands in for the Postgres connection so routing decisions
// can be tested without a server.
type stubPrimary struct {
	mu          sync.Mutex
	status      database.ConnectionStatus
	connectable bool
	failQueries bool
	executed    []string
}

func newStubPrimary() *stubPrimary {
	return &stubPrimary{status: database.StatusDisconnected, connectable: true}
}

func (s *stubPrimary) Connect(ctx context.Context) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connectable {
		s.status = database.StatusError
		return false
	}
	s.status = database.StatusConnected
	return true
}

func (s *stubPrimary) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = database.StatusDisconnected
}

func (s *stubPrimary) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) *database.QueryResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status != database.StatusConnected || s.failQueries {
		return &database.QueryResult{Success: false, Error: "stub failure", Source: database.SourcePostgres}
	}
	s.executed = append(s.executed, query)
	return &database.QueryResult{Success: true, RowsAffected: 1, Source: database.SourcePostgres}
}

func (s *stubPrimary) ExecuteMany(ctx context.Context, query string, paramsList []map[string]interface{}) *database.QueryResult {
	var total int64
	for range paramsList {
		res := s.ExecuteQuery(ctx, query, nil)
		if !res.Success {
			return res
		}
		total += res.RowsAffected
	}
	return &database.QueryResult{Success: true, RowsAffected: total, Source: database.SourcePostgres}
}

func (s *stubPrimary) BeginTransaction(ctx context.Context) error { return nil }
func (s *stubPrimary) Commit(ctx context.Context) error           { return nil }
func (s *stubPrimary) Rollback(ctx context.Context) error         { return nil }

func (s *stubPrimary) HealthCheck() database.HealthSnapshot {
	return database.HealthSnapshot{Backend: s.Name(), Status: s.Status()}
}

func (s *stubPrimary) Status() database.ConnectionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

func (s *stubPrimary) Name() string { return database.SourcePostgres }

func (s *stubPrimary) setAvailable(ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connectable = ok
	if !ok {
		s.status = database.StatusDisconnected
	}
}

func (s *stubPrimary) executedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.executed)
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Fallback.Path = filepath.Join(t.TempDir(), "fallback.db")
	return cfg
}

// newTestManager builds an initialized manager around a stub primary and a
// real temp-file fallback.
func newTestManager(t *testing.T, primary *stubPrimary) *Manager {
	t.Helper()
	cfg := testConfig(t)
	m := newWithConnections(cfg, primary, database.NewSQLiteConnection(cfg.Fallback.Path))
	require.NoError(t, m.Initialize(context.Background()))
	t.Cleanup(func() { m.Cleanup() })
	return m
}

func TestInitializeFallbackRequired(t *testing.T) {
	cfg := testConfig(t)
	cfg.Fallback.Path = "/dev/null/invalid/fallback.db"
	m := newWithConnections(cfg, newStubPrimary(), database.NewSQLiteConnection(cfg.Fallback.Path))

	err := m.Initialize(context.Background())
	require.Error(t, err, "a manager without its fallback must not initialize")
}

func TestInitializeStartsWorkerWhenPrimaryUp(t *testing.T) {
	m := newTestManager(t, newStubPrimary())

	status := m.GetStatus()
	assert.True(t, status.Initialized)
	assert.Equal(t, database.StatusConnected, status.Primary.Status)
	assert.Equal(t, database.StatusConnected, status.Fallback.Status)
	assert.True(t, status.SyncRunning)
}

func TestInitializePrimaryDownStillServes(t *testing.T) {
	primary := newStubPrimary()
	primary.setAvailable(false)
	m := newTestManager(t, primary)

	status := m.GetStatus()
	assert.True(t, status.Initialized)
	assert.NotEqual(t, database.StatusConnected, status.Primary.Status)
	assert.False(t, status.SyncRunning, "worker must not start before the primary connects")
}

func TestExecuteQueryPrefersPrimary(t *testing.T) {
	primary := newStubPrimary()
	m := newTestManager(t, primary)

	res := m.ExecuteQuery(context.Background(), "SELECT 1", nil, false)
	require.True(t, res.Success)
	assert.Equal(t, database.SourcePostgres, res.Source)
	assert.Equal(t, 1, primary.executedCount())
	assert.Equal(t, int64(1), m.metrics.Snapshot()["primary_hits"])
	assert.Equal(t, 0, m.queue.Size(), "primary writes are never queued")
}

func TestExecuteQueryFallbackQueuesWrites(t *testing.T) {
	primary := newStubPrimary()
	primary.setAvailable(false)
	m := newTestManager(t, primary)
	ctx := context.Background()

	require.True(t, m.fallback.ExecuteQuery(ctx, "CREATE TABLE events (id INTEGER PRIMARY KEY AUTOINCREMENT, name TEXT)", nil).Success)

	res := m.ExecuteQuery(ctx, "INSERT INTO events (name) VALUES (:name)",
		map[string]interface{}{"name": "x"}, false)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, database.SourceSQLite, res.Source)
	assert.Equal(t, 1, m.queue.Size(), "fallback write should be queued for replay")
	assert.Equal(t, int64(1), m.metrics.Snapshot()["queued"])

	sel := m.ExecuteQuery(ctx, "SELECT name FROM events", nil, false)
	require.True(t, sel.Success)
	assert.Equal(t, database.SourceSQLite, sel.Source)
	assert.Equal(t, 1, m.queue.Size(), "reads must not be queued")
}

func TestExecuteQueryPrimaryFailureFailsOver(t *testing.T) {
	primary := newStubPrimary()
	m := newTestManager(t, primary)
	primary.failQueries = true
	ctx := context.Background()

	require.True(t, m.fallback.ExecuteQuery(ctx, "CREATE TABLE events (name TEXT)", nil).Success)

	res := m.ExecuteQuery(ctx, "INSERT INTO events (name) VALUES (:name)",
		map[string]interface{}{"name": "x"}, false)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, database.SourceSQLite, res.Source)
	assert.Equal(t, int64(1), m.metrics.Snapshot()["failovers"])
	assert.Equal(t, 1, m.queue.Size())
}

func TestExecuteQueryBothBackendsDown(t *testing.T) {
	primary := newStubPrimary()
	primary.setAvailable(false)
	m := newTestManager(t, primary)
	m.fallback.Disconnect()

	res := m.ExecuteQuery(context.Background(), "SELECT 1", nil, false)
	assert.False(t, res.Success)
	assert.Equal(t, database.SourceNone, res.Source)
	assert.NotEmpty(t, res.Error)
}

func TestExecuteQueryForcePrimary(t *testing.T) {
	primary := newStubPrimary()
	primary.setAvailable(false)
	m := newTestManager(t, primary)
	ctx := context.Background()

	// Pinned to the primary: the failure comes back as-is, no fallback, no
	// queueing.
	res := m.ExecuteQuery(ctx, "INSERT INTO events (name) VALUES (:name)",
		map[string]interface{}{"name": "x"}, true)
	assert.False(t, res.Success)
	assert.Equal(t, database.SourcePostgres, res.Source)
	assert.Equal(t, 0, m.queue.Size())

	// Once reachable, forcePrimary reconnects on demand.
	primary.setAvailable(true)
	res = m.ExecuteQuery(ctx, "INSERT INTO events (name) VALUES (:name)",
		map[string]interface{}{"name": "x"}, true)
	assert.True(t, res.Success)
	assert.Equal(t, database.SourcePostgres, res.Source)
}

func TestExecuteManyQueuesPerParameterSet(t *testing.T) {
	primary := newStubPrimary()
	primary.setAvailable(false)
	m := newTestManager(t, primary)
	ctx := context.Background()

	require.True(t, m.fallback.ExecuteQuery(ctx, "CREATE TABLE items (n INTEGER)", nil).Success)

	batch := []map[string]interface{}{{"n": 1}, {"n": 2}, {"n": 3}}
	res := m.ExecuteMany(ctx, "INSERT INTO items (n) VALUES (:n)", batch)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, database.SourceSQLite, res.Source)
	assert.Equal(t, int64(3), res.RowsAffected)
	assert.Equal(t, 3, m.queue.Size(), "one replay operation per parameter set")
}

func TestCreateTableOnBothBackends(t *testing.T) {
	primary := newStubPrimary()
	m := newTestManager(t, primary)

	res := m.CreateTable(context.Background(), "events", "id SERIAL PRIMARY KEY, name VARCHAR(50)")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, database.SourcePostgres, res.Source, "primary result wins when both succeed")
	assert.Equal(t, 1, primary.executedCount())

	// The fallback copy exists too, translated.
	ins := m.fallback.ExecuteQuery(context.Background(),
		"INSERT INTO events (name) VALUES (:name)", map[string]interface{}{"name": "x"})
	assert.True(t, ins.Success, ins.Error)
}

func TestCreateTableFallbackOnlyDoesNotQueue(t *testing.T) {
	primary := newStubPrimary()
	primary.setAvailable(false)
	m := newTestManager(t, primary)

	res := m.CreateTable(context.Background(), "events", "id SERIAL PRIMARY KEY, name VARCHAR(50)")
	require.True(t, res.Success, res.Error)
	assert.Equal(t, database.SourceSQLite, res.Source)
	assert.Equal(t, 0, m.queue.Size(), "DDL is not replayed")
}

// TestOutageAndRecovery walks the full degraded-then-recovered path: the
// primary is down, a table and a row land on the fallback, the row is
// queued, and once the primary returns the worker replays it.
func TestOutageAndRecovery(t *testing.T) {
	primary := newStubPrimary()
	primary.setAvailable(false)
	m := newTestManager(t, primary)
	ctx := context.Background()

	res := m.CreateTable(ctx, "events", "id SERIAL PRIMARY KEY, name VARCHAR(50)")
	require.True(t, res.Success, res.Error)

	res = m.ExecuteQuery(ctx, "INSERT INTO events (name) VALUES (:name)",
		map[string]interface{}{"name": "offline"}, false)
	require.True(t, res.Success, res.Error)
	assert.Equal(t, database.SourceSQLite, res.Source)
	require.Equal(t, 1, m.queue.Size())

	// Swap in a fast worker for the recovery phase.
	m.syncMgr = syncpkg.New(primary, m.queue, m.metrics, syncpkg.Config{
		Interval:    20 * time.Millisecond,
		BatchSize:   10,
		StopTimeout: time.Second,
	})
	primary.setAvailable(true)
	m.syncMgr.Start()

	assert.Eventually(t, func() bool { return m.queue.Size() == 0 }, time.Second, 10*time.Millisecond,
		"queued write should replay after recovery")
	assert.Eventually(t, func() bool { return primary.executedCount() == 1 }, time.Second, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return m.metrics.Snapshot()["replayed"] == 1 }, time.Second, 10*time.Millisecond)
}

func TestHealthCheckReconnectsPrimary(t *testing.T) {
	primary := newStubPrimary()
	primary.setAvailable(false)
	m := newTestManager(t, primary)

	primary.setAvailable(true)

	// Force the throttle open, then any query path runs the check.
	m.mu.Lock()
	m.lastHealth = time.Time{}
	m.mu.Unlock()
	m.ExecuteQuery(context.Background(), "SELECT 1", nil, false)

	assert.Equal(t, database.StatusConnected, primary.Status())
	assert.True(t, m.syncMgr.Running(), "worker should start once the primary recovers")
}

func TestHealthCheckThrottled(t *testing.T) {
	primary := newStubPrimary()
	primary.setAvailable(false)
	m := newTestManager(t, primary)

	primary.setAvailable(true)

	// Within the interval the check must not run, so the primary stays down
	// from the manager's point of view.
	m.ExecuteQuery(context.Background(), "SELECT 1", nil, false)
	assert.NotEqual(t, database.StatusConnected, primary.Status())
}

func TestQueuePersistsAcrossRestart(t *testing.T) {
	cfg := testConfig(t)
	primary := newStubPrimary()
	primary.setAvailable(false)
	ctx := context.Background()

	m := newWithConnections(cfg, primary, database.NewSQLiteConnection(cfg.Fallback.Path))
	require.NoError(t, m.Initialize(ctx))

	require.True(t, m.fallback.ExecuteQuery(ctx, "CREATE TABLE events (name TEXT)", nil).Success)
	res := m.ExecuteQuery(ctx, "INSERT INTO events (name) VALUES (:name)",
		map[string]interface{}{"name": "survivor"}, false)
	require.True(t, res.Success, res.Error)
	require.Equal(t, 1, m.queue.Size())
	require.NoError(t, m.Cleanup())

	// Same fallback file, fresh manager: the snapshot comes back.
	m2 := newWithConnections(cfg, newStubPrimary(), database.NewSQLiteConnection(cfg.Fallback.Path))
	require.NoError(t, m2.Initialize(ctx))
	defer m2.Cleanup()

	assert.Equal(t, 1, m2.queue.Size(), "queued write should survive a restart")
	ops := m2.queue.Snapshot()
	require.Len(t, ops, 1)
	assert.Equal(t, "events", ops[0].Table)
	assert.Equal(t, "survivor", ops[0].Params["name"])
}

func TestCleanupIdempotentStatus(t *testing.T) {
	m := newTestManager(t, newStubPrimary())
	require.NoError(t, m.Cleanup())

	status := m.GetStatus()
	assert.False(t, status.Initialized)
	assert.False(t, status.SyncRunning)
	assert.Equal(t, database.StatusDisconnected, status.Fallback.Status)
}
