package store

import (
	"context"

	"github.com/crewboard/crewboard/pkg/model"
)

// AuditStore defines the interface for admission-audit backends
// (PostgreSQL, ClickHouse)
type AuditStore interface {
	// Append inserts a batch of audit entries efficiently
	Append(ctx context.Context, entries []*model.AuditEntry) error

	// List retrieves the audit trail for one order, newest first
	List(ctx context.Context, orderID string, limit int) ([]model.AuditEntry, error)

	// DeleteOld deletes entries older than the retention period (if the
	// backend requires it)
	DeleteOld(ctx context.Context, retentionDays int) error

	// Close closes the connection to the storage backend
	Close() error
}
