package database

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	apperrors "github.com/venturekit/core/internal/errors"
	"github.com/venturekit/core/internal/logging"
)

// PostgresConnection is the networked primary backend, pooled via pgxpool.
// The pool bounds concurrency at pool_size + max_overflow; acquisition and
// release per statement is handled by the pool itself.
type PostgresConnection struct {
	cfg ConnectionConfig

	mu      sync.RWMutex
	pool    *pgxpool.Pool
	status  ConnectionStatus
	lastErr string
	tx      pgx.Tx
}

// NewPostgresConnection creates a primary connection in the Disconnected
// state. No network activity happens until Connect.
func NewPostgresConnection(cfg ConnectionConfig) *PostgresConnection {
	cfg.ApplyDefaults()
	return &PostgresConnection{
		cfg:    cfg,
		status: StatusDisconnected,
	}
}

// Name returns the backend identifier.
func (c *PostgresConnection) Name() string { return SourcePostgres }

// Connect builds the connection pool and validates it with a ping.
// Idempotent: returns true immediately when already connected. On failure
// the driver's message is kept verbatim in the health snapshot so operators
// can diagnose the root cause.
func (c *PostgresConnection) Connect(ctx context.Context) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status == StatusConnected && c.pool != nil {
		return true
	}
	if c.status == StatusError {
		c.status = StatusReconnecting
	}

	// ParseConfig("") then field-wise assignment avoids URL-escaping issues
	// with special characters in passwords.
	poolConfig, err := pgxpool.ParseConfig("")
	if err != nil {
		c.setError(err)
		return false
	}
	poolConfig.ConnConfig.Host = c.cfg.Host
	poolConfig.ConnConfig.Port = uint16(c.cfg.Port)
	poolConfig.ConnConfig.Database = c.cfg.Database
	poolConfig.ConnConfig.User = c.cfg.Username
	poolConfig.ConnConfig.Password = c.cfg.Password
	poolConfig.ConnConfig.ConnectTimeout = c.cfg.Timeout()
	poolConfig.ConnConfig.TLSConfig = nil
	poolConfig.MaxConns = int32(c.cfg.PoolSize + c.cfg.MaxOverflow)

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		c.setError(err)
		return false
	}

	pingCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		c.setError(err)
		return false
	}

	c.pool = pool
	c.status = StatusConnected
	c.lastErr = ""
	logging.Info("primary connected", map[string]interface{}{
		"backend": SourcePostgres,
		"target":  c.cfg.Summary(),
	})
	return true
}

// setError records a failure. Caller must hold the write lock.
func (c *PostgresConnection) setError(err error) {
	c.status = StatusError
	c.lastErr = err.Error()
	logging.Error("primary connection error", err, map[string]interface{}{
		"backend": SourcePostgres,
		"target":  c.cfg.Summary(),
	})
}

// Disconnect closes the pool. Safe to call when never connected; an open
// transaction is rolled back first.
func (c *PostgresConnection) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx != nil {
		_ = c.tx.Rollback(context.Background())
		c.tx = nil
	}
	if c.pool != nil {
		c.pool.Close()
		c.pool = nil
	}
	c.status = StatusDisconnected
}

// ExecuteQuery runs one statement. Named :name parameters are rewritten to
// positional $n placeholders before execution. All errors are captured into
// the result.
func (c *PostgresConnection) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) *QueryResult {
	start := time.Now()

	c.mu.RLock()
	pool, tx, status := c.pool, c.tx, c.status
	c.mu.RUnlock()

	if pool == nil || status != StatusConnected {
		return failure(SourcePostgres, "primary is not connected", start)
	}

	text, args, err := rewriteNamedParams(query, params)
	if err != nil {
		return failure(SourcePostgres, err.Error(), start)
	}

	execCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout())
	defer cancel()

	if Classify(query) == OpSelect {
		var rows pgx.Rows
		if tx != nil {
			rows, err = tx.Query(execCtx, text, args...)
		} else {
			rows, err = pool.Query(execCtx, text, args...)
		}
		if err != nil {
			return failure(SourcePostgres, err.Error(), start)
		}
		defer rows.Close()

		data, err := collectPgxRows(rows)
		if err != nil {
			return failure(SourcePostgres, err.Error(), start)
		}
		return &QueryResult{
			Success:      true,
			Data:         data,
			Duration:     time.Since(start),
			RowsAffected: int64(len(data)),
			Source:       SourcePostgres,
		}
	}

	var tag pgconn.CommandTag
	if tx != nil {
		tag, err = tx.Exec(execCtx, text, args...)
	} else {
		tag, err = pool.Exec(execCtx, text, args...)
	}
	if err != nil {
		return failure(SourcePostgres, err.Error(), start)
	}
	return &QueryResult{
		Success:      true,
		Duration:     time.Since(start),
		RowsAffected: tag.RowsAffected(),
		Source:       SourcePostgres,
	}
}

// ExecuteMany runs the statement once per parameter set, stopping at the
// first failure. RowsAffected totals all completed sets.
func (c *PostgresConnection) ExecuteMany(ctx context.Context, query string, paramsList []map[string]interface{}) *QueryResult {
	start := time.Now()
	var total int64

	for i, params := range paramsList {
		res := c.ExecuteQuery(ctx, query, params)
		if !res.Success {
			r := failure(SourcePostgres,
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
		Source:       SourcePostgres,
	}
}

// BeginTransaction opens a transaction. Statements issued while it is open
// run inside it. Only one transaction may be open at a time.
func (c *PostgresConnection) BeginTransaction(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pool == nil || c.status != StatusConnected {
		return apperrors.New(apperrors.ErrNotConnected, "primary is not connected")
	}
	if c.tx != nil {
		return apperrors.New(apperrors.ErrTransactionActive, "transaction already open")
	}
	tx, err := c.pool.Begin(ctx)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueryFailed, "begin failed", err)
	}
	c.tx = tx
	return nil
}

// Commit closes the open transaction.
func (c *PostgresConnection) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx == nil {
		return apperrors.New(apperrors.ErrNoTransaction, "no open transaction")
	}
	err := c.tx.Commit(ctx)
	c.tx = nil
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueryFailed, "commit failed", err)
	}
	return nil
}

// Rollback aborts the open transaction.
func (c *PostgresConnection) Rollback(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx == nil {
		return apperrors.New(apperrors.ErrNoTransaction, "no open transaction")
	}
	err := c.tx.Rollback(ctx)
	c.tx = nil
	if err != nil {
		return apperrors.Wrap(apperrors.ErrQueryFailed, "rollback failed", err)
	}
	return nil
}

// HealthCheck returns a read-only snapshot.
func (c *PostgresConnection) HealthCheck() HealthSnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return HealthSnapshot{
		Backend:   SourcePostgres,
		Status:    c.status,
		LastError: c.lastErr,
		Config:    c.cfg.Summary(),
	}
}

// Status returns the current lifecycle state.
func (c *PostgresConnection) Status() ConnectionStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// collectPgxRows materializes all rows into ordered column->value maps.
func collectPgxRows(rows pgx.Rows) ([]map[string]interface{}, error) {
	fields := rows.FieldDescriptions()
	data := make([]map[string]interface{}, 0)

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		row := make(map[string]interface{}, len(fields))
		for i, fd := range fields {
			row[string(fd.Name)] = values[i]
		}
		data = append(data, row)
	}
	return data, rows.Err()
}

var namedParamPattern = regexp.MustCompile(`:[a-zA-Z_][a-zA-Z0-9_]*`)

// rewriteNamedParams converts :name placeholders to positional $n form,
// assigning indexes in first-appearance order. Repeated names share one
// index; a name with no matching parameter is an error. Double-colon type
// casts (::int) are left untouched.
func rewriteNamedParams(query string, params map[string]interface{}) (string, []interface{}, error) {
	locs := namedParamPattern.FindAllStringIndex(query, -1)
	if len(locs) == 0 {
		return query, nil, nil
	}

	var b strings.Builder
	var args []interface{}
	index := make(map[string]int)
	last := 0

	for _, loc := range locs {
		start, end := loc[0], loc[1]
		if start > 0 && query[start-1] == ':' {
			continue // ::type cast, not a parameter
		}
		name := query[start+1 : end]
		val, ok := params[name]
		if !ok {
			return "", nil, apperrors.New(apperrors.ErrBadParameters,
				fmt.Sprintf("missing parameter %q", name))
		}
		n, seen := index[name]
		if !seen {
			args = append(args, val)
			n = len(args)
			index[name] = n
		}
		b.WriteString(query[last:start])
		b.WriteString("$")
		b.WriteString(strconv.Itoa(n))
		last = end
	}
	b.WriteString(query[last:])
	return b.String(), args, nil
}
