// Package models defines serializable records shared across packages.
package models

import "encoding/json"

// SyncRecord is the storable form of a queued write operation. Pending
// operations are snapshotted into the fallback database on shutdown and
// reloaded on startup, so the record must round-trip through JSON.
type SyncRecord struct {
	ID         string          `json:"id"`
	Seq        uint64          `json:"seq"`
	Operation  string          `json:"operation"`
	Table      string          `json:"table"`
	Query      string          `json:"query"`
	Params     json.RawMessage `json:"params,omitempty"`
	EnqueuedAt int64           `json:"enqueued_at"`
	RetryCount int             `json:"retry_count"`
	MaxRetries int             `json:"max_retries"`
}

// Encode serializes the record to JSON.
func (r *SyncRecord) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeSyncRecord deserializes a record from JSON.
func DecodeSyncRecord(data []byte) (*SyncRecord, error) {
	var r SyncRecord
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
