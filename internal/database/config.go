// Package database provides the dual-backend connection layer: a pooled
// Postgres primary, an embedded SQLite fallback, and the value types shared
// by both.
package database

import (
	"fmt"
	"time"
)

// ConnectionStatus represents the lifecycle state of a connection.
//
// Legal transitions: Disconnected -> Connected, Connected -> Error,
// Error -> Reconnecting -> Connected|Error.
type ConnectionStatus string

const (
	StatusConnected    ConnectionStatus = "connected"
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusError        ConnectionStatus = "error"
	StatusReconnecting ConnectionStatus = "reconnecting"
)

// ConnectionConfig holds caller-supplied connection settings. It is treated
// as immutable after construction; both connections read it, neither writes.
type ConnectionConfig struct {
	Host           string
	Port           int
	Database       string
	Username       string
	Password       string
	PoolSize       int
	MaxOverflow    int
	TimeoutSeconds int
}

// ApplyDefaults fills zero-valued fields with their defaults.
func (c *ConnectionConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 5432
	}
	if c.PoolSize == 0 {
		c.PoolSize = 5
	}
	if c.MaxOverflow == 0 {
		c.MaxOverflow = 10
	}
	if c.TimeoutSeconds == 0 {
		c.TimeoutSeconds = 30
	}
}

// Timeout returns the per-operation timeout as a duration.
func (c ConnectionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// Summary returns a credential-free description for health snapshots.
func (c ConnectionConfig) Summary() string {
	return fmt.Sprintf("%s@%s:%d/%s", c.Username, c.Host, c.Port, c.Database)
}
