// Package stores provides the SQLite-backed persistence layer for the
// ticketbridge orchestrator: resource state, plans, runs, the event log,
// per-phase outputs, and the audit trail.
package stores

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/ticketbridge/ticketbridge/pkg/engine"
)

// AuditEntry represents an audit trail entry.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"` // e.g., "run.started", "secret.updated", "phase.destroyed"
	Actor     string    `json:"actor"`
	TargetID  *string   `json:"target_id,omitempty"` // resource/run/environment ID
	Details   *string   `json:"details,omitempty"`   // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// Store defines the persistence surface consumed by the CLI. It extends
// engine.StateManager with lifecycle and audit operations.
type Store interface {
	engine.StateManager

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error
	HealthCheck(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Audit operations
	RecordAudit(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action, actor *string, limit, offset int) ([]*AuditEntry, error)
}

// StateHash returns the SHA-256 hex digest of a resource state blob.
// Drift detection compares this against the hash of freshly read state.
func StateHash(state json.RawMessage) string {
	sum := sha256.Sum256(state)
	return hex.EncodeToString(sum[:])
}
