package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/venturekit/core/internal/errors"
	"github.com/venturekit/core/internal/logging"
)

// SQLiteConnection is the embedded file-backed fallback. SQLite serializes
// writers, so every statement runs under one mutex held for the duration of
// that statement only.
type SQLiteConnection struct {
	path string

	mu      sync.Mutex
	db      *sql.DB
	status  ConnectionStatus
	lastErr string
	tx      *sql.Tx
}

// NewSQLiteConnection creates a fallback connection for the given file
// path. The file and its parent directories are created on Connect.
func NewSQLiteConnection(path string) *SQLiteConnection {
	return &SQLiteConnection{
		path:   path,
		status: StatusDisconnected,
	}
}

// Name returns the backend identifier.
func (c *SQLiteConnection) Name() string { return SourceSQLite }

// Connect opens the database file, creating parent directories if absent,
// and verifies it is reachable and writable with a trivial probe.
func (c *SQLiteConnection) Connect(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusConnected && c.db != nil {
		return true
	}
	if c.status == StatusError {
		c.status = StatusReconnecting
	}

	if dir := filepath.Dir(c.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			c.setError(fmt.Errorf("failed to create data directory: %w", err))
			return false
		}
	}

	db, err := sql.Open("sqlite", c.path)
	if err != nil {
		c.setError(err)
		return false
	}

	// One writer at a time; the mutex above enforces the same at our level.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL;"); err != nil {
		db.Close()
		c.setError(err)
		return false
	}

	var probe int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&probe); err != nil {
		db.Close()
		c.setError(err)
		return false
	}

	c.db = db
	c.status = StatusConnected
	c.lastErr = ""
	logging.Info("fallback connected", map[string]interface{}{
		"backend": SourceSQLite,
		"path":    c.path,
	})
	return true
}

// setError records a failure. Caller must hold the lock.
func (c *SQLiteConnection) setError(err error) {
	c.status = StatusError
	c.lastErr = err.Error()
	logging.Error("fallback connection error", err, map[string]interface{}{
		"backend": SourceSQLite,
		"path":    c.path,
	})
}

// Disconnect closes the file handle. Safe when never connected; an open
// transaction is rolled back first.
func (c *SQLiteConnection) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx != nil {
		_ = c.tx.Rollback()
		c.tx = nil
	}
	if c.db != nil {
		_ = c.db.Close()
		c.db = nil
	}
	c.status = StatusDisconnected
}

// ExecuteQuery runs one statement under the connection mutex. Named
// parameters are bound via sql.Named.
func (c *SQLiteConnection) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) *QueryResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.executeLocked(ctx, query, params)
}

// executeLocked runs one statement. Caller must hold the lock.
func (c *SQLiteConnection) executeLocked(ctx context.Context, query string, params map[string]interface{}) *QueryResult {
	start := time.Now()

	if c.db == nil || c.status != StatusConnected {
		return failure(SourceSQLite, "fallback is not connected", start)
	}

	args := namedArgs(params)

	if Classify(query) == OpSelect {
		var rows *sql.Rows
		var err error
		if c.tx != nil {
			rows, err = c.tx.QueryContext(ctx, query, args...)
		} else {
			rows, err = c.db.QueryContext(ctx, query, args...)
		}
		if err != nil {
			return failure(SourceSQLite, err.Error(), start)
		}
		defer rows.Close()

		data, err := collectSQLRows(rows)
		if err != nil {
			return failure(SourceSQLite, err.Error(), start)
		}
		return &QueryResult{
			Success:      true,
			Data:         data,
			Duration:     time.Since(start),
			RowsAffected: int64(len(data)),
			Source:       SourceSQLite,
		}
	}

	var res sql.Result
	var err error
	if c.tx != nil {
		res, err = c.tx.ExecContext(ctx, query, args...)
	} else {
		res, err = c.db.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return failure(SourceSQLite, err.Error(), start)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return &QueryResult{
		Success:      true,
		Duration:     time.Since(start),
		RowsAffected: affected,
		Source:       SourceSQLite,
	}
}

// ExecuteMany runs the statement once per parameter set, stopping at the
// first failure. The mutex is held across the whole batch so a batch is
// not interleaved with other callers.
func (c *SQLiteConnection) ExecuteMany(ctx context.Context, query string, paramsList []map[string]interface{}) *QueryResult {
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	var total int64
	for i, params := range paramsList {
		res := c.executeLocked(ctx, query, params)
		if !res.Success {
			r := failure(SourceSQLite,
				fmt.Sprintf("batch failed at set %d: %s", i, res.Error), start)
			r.RowsAffected = total
			return r
		}
		total += res.RowsAffected
	}
	return &QueryResult{
		Success:      true,
		Duration:     time.Since(start),
		RowsAffected: total,
		Source:       SourceSQLite,
	}
}

// CreateTableFromSchema translates a Postgres column-definition fragment
// and issues CREATE TABLE IF NOT EXISTS. Idempotent: re-running with the
// same schema is a no-op.
func (c *SQLiteConnection) CreateTableFromSchema(ctx context.Context, table, postgresSchema string) *QueryResult {
	translated := TranslateSchema(postgresSchema)
	stmt := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", table, translated)
	return c.ExecuteQuery(ctx, stmt, nil)
}

// BeginTransaction opens a transaction. Statements issued while it is open
// run inside it. Only one transaction may be open at a time.
func (c *SQLiteConnection) BeginTransaction(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.db == nil || c.status != StatusConnected {
		return apperrors.New(apperrors.ErrNotConnected, "fallback is not connected")
	}
	if c.tx != nil {
		return apperrors.New(apperrors.ErrTransactionActive, "transaction already open")
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueryFailed, "begin failed", err)
	}
	c.tx = tx
	return nil
}

// Commit closes the open transaction.
func (c *SQLiteConnection) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx == nil {
		return apperrors.New(apperrors.ErrNoTransaction, "no open transaction")
	}
	err := c.tx.Commit()
	c.tx = nil
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueryFailed, "commit failed", err)
	}
	return nil
}

// Rollback aborts the open transaction.
func (c *SQLiteConnection) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx == nil {
		return apperrors.New(apperrors.ErrNoTransaction, "no open transaction")
	}
	err := c.tx.Rollback()
	c.tx = nil
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueryFailed, "rollback failed", err)
	}
	return nil
}

// HealthCheck returns a read-only snapshot.
func (c *SQLiteConnection) HealthCheck() HealthSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return HealthSnapshot{
		Backend:   SourceSQLite,
		Status:    c.status,
		LastError: c.lastErr,
		Config:    c.path,
	}
}

// Status returns the current lifecycle state.
func (c *SQLiteConnection) Status() ConnectionStatus {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// namedArgs converts a parameter map to sql.Named arguments.
func namedArgs(params map[string]interface{}) []interface{} {
	if len(params) == 0 {
		return nil
	}
	args := make([]interface{}, 0, len(params))
	for k, v := range params {
		args = append(args, sql.Named(k, v))
	}
	return args
}

// collectSQLRows materializes all rows into ordered column->value maps.
// Byte slices are copied to strings since the driver may reuse buffers.
func collectSQLRows(rows *sql.Rows) ([]map[string]interface{}, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	data := make([]map[string]interface{}, 0)
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		data = append(data, row)
	}
	return data, rows.Err()
}
