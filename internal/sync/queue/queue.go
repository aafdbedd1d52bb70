// Package queue provides the FIFO work queue of writes awaiting replay
// against the primary database.
package queue

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/venturekit/core/internal/database"
	"github.com/venturekit/core/internal/models"
)

// DefaultMaxRetries bounds replay attempts before an operation is dropped.
const DefaultMaxRetries = 3

// QueuedOperation records one write that succeeded on the fallback while
// the primary was unavailable. Owned exclusively by the queue until
// replayed or exhausted.
type QueuedOperation struct {
	ID         string
	Seq        uint64
	Operation  database.OperationType
	Table      string
	Query      string
	Params     map[string]interface{}
	EnqueuedAt time.Time
	RetryCount int
	MaxRetries int
}

// NewOperation builds a queued operation for the given statement. The
// target table is derived from the statement text, best-effort.
func NewOperation(opType database.OperationType, query string, params map[string]interface{}) *QueuedOperation {
	return &QueuedOperation{
		ID:         uuid.New().String(),
		Operation:  opType,
		Table:      database.TableName(query),
		Query:      query,
		Params:     params,
		EnqueuedAt: time.Now(),
		MaxRetries: DefaultMaxRetries,
	}
}

// Queue is an unbounded FIFO of queued operations, safe for concurrent
// use. It is the only resource shared between caller goroutines and the
// replay worker.
type Queue struct {
	mu  sync.Mutex
	ops []*QueuedOperation
	seq uint64
}

// New creates an empty queue.
func New() *Queue {
	return &Queue{}
}

// Enqueue appends an operation to the back of the queue, assigning its
// sequence number.
func (q *Queue) Enqueue(op *QueuedOperation) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.seq++
	op.Seq = q.seq
	q.ops = append(q.ops, op)
}

// DequeueBatch removes and returns up to n operations from the front, in
// FIFO order. Returns nil when the queue is empty.
func (q *Queue) DequeueBatch(n int) []*QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.ops) == 0 || n <= 0 {
		return nil
	}
	if n > len(q.ops) {
		n = len(q.ops)
	}
	batch := q.ops[:n]
	q.ops = append([]*QueuedOperation(nil), q.ops[n:]...)
	return batch
}

// Requeue appends a previously dequeued operation to the BACK of the
// queue. Retried operations therefore execute after anything enqueued in
// the meantime; global write order across retries is not preserved.
func (q *Queue) Requeue(op *QueuedOperation) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = append(q.ops, op)
}

// Size returns the number of pending operations.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.ops)
}

// Snapshot returns copies of all pending operations in queue order.
func (q *Queue) Snapshot() []*QueuedOperation {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]*QueuedOperation, 0, len(q.ops))
	for _, op := range q.ops {
		cp := *op
		out = append(out, &cp)
	}
	return out
}

// Clear removes all pending operations.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ops = nil
}

// ToRecord converts an operation to its storable form.
func (op *QueuedOperation) ToRecord() (*models.SyncRecord, error) {
	var params json.RawMessage
	if op.Params != nil {
		data, err := json.Marshal(op.Params)
		if err != nil {
			return nil, err
		}
		params = data
	}
	return &models.SyncRecord{
		ID:         op.ID,
		Seq:        op.Seq,
		Operation:  string(op.Operation),
		Table:      op.Table,
		Query:      op.Query,
		Params:     params,
		EnqueuedAt: op.EnqueuedAt.Unix(),
		RetryCount: op.RetryCount,
		MaxRetries: op.MaxRetries,
	}, nil
}

// FromRecord restores an operation from its storable form.
func FromRecord(rec *models.SyncRecord) (*QueuedOperation, error) {
	var params map[string]interface{}
	if len(rec.Params) > 0 {
		if err := json.Unmarshal(rec.Params, &params); err != nil {
			return nil, err
		}
	}
	return &QueuedOperation{
		ID:         rec.ID,
		Seq:        rec.Seq,
		Operation:  database.OperationType(rec.Operation),
		Table:      rec.Table,
		Query:      rec.Query,
		Params:     params,
		EnqueuedAt: time.Unix(rec.EnqueuedAt, 0),
		RetryCount: rec.RetryCount,
		MaxRetries: rec.MaxRetries,
	}, nil
}
