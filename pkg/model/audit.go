package model

import (
	"time"

	"github.com/google/uuid"
)

// AuditEntry records a single admission decision for an order: who acted,
// on whom, and what the engine decided.
type AuditEntry struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	OrderID   uuid.UUID `gorm:"type:uuid;not null;index:idx_audit_order_time"`
	WorkerID  uuid.UUID `gorm:"type:uuid;index"`
	ActorID   uuid.UUID `gorm:"type:uuid;not null"`
	Action    string    `gorm:"type:varchar(50);not null"`
	Outcome   string    `gorm:"type:varchar(50);not null"`
	Detail    string    `gorm:"type:text"`
	Timestamp int64     `gorm:"not null;index:idx_audit_order_time"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (AuditEntry) TableName() string {
	return "admission_audit"
}
