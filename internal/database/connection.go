package database

import "context"

// HealthSnapshot is a read-only view of a connection's state.
type HealthSnapshot struct {
	Backend   string           `json:"backend"`
	Status    ConnectionStatus `json:"status"`
	LastError string           `json:"last_error,omitempty"`
	Config    string           `json:"config"`
}

// Connection is the capability shared by both backends. Implementations
// capture all backend errors into QueryResult or status fields; nothing
// panics across this interface during normal operation.
type Connection interface {
	// Connect establishes the pool or file handle. Idempotent: calling
	// while already connected is a no-op returning true. On failure the
	// status becomes StatusError with the driver message captured verbatim.
	Connect(ctx context.Context) bool

	// Disconnect releases resources. Safe to call even if never connected.
	Disconnect()

	// ExecuteQuery runs one statement with named parameters. Select
	// statements return Data with RowsAffected = len(Data); other
	// statements return the driver's affected-row count and nil Data.
	ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) *QueryResult

	// ExecuteMany runs the statement once per parameter set; RowsAffected
	// totals all sets. Execution stops at the first failing set.
	ExecuteMany(ctx context.Context, query string, paramsList []map[string]interface{}) *QueryResult

	// BeginTransaction opens a transaction. Every successful begin must be
	// matched by exactly one Commit or Rollback.
	BeginTransaction(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	// HealthCheck returns a snapshot without side effects.
	HealthCheck() HealthSnapshot

	// Status returns the current lifecycle state.
	Status() ConnectionStatus

	// Name returns the backend identifier used in QueryResult.Source.
	Name() string
}
