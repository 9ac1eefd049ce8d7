package model

import (
	"time"

	"github.com/google/uuid"
)

type ApplicationStatus string

const (
	ApplicationPending  ApplicationStatus = "pending"
	ApplicationAccepted ApplicationStatus = "accepted"
	ApplicationRejected ApplicationStatus = "rejected"
	// ApplicationQueued marks entries on FIFO orders, where presence in the
	// queue is provisional admission. Leaving deletes the row instead of
	// transitioning it.
	ApplicationQueued ApplicationStatus = "queued"
)

// Application is a worker's claim against an order's quota. One entity backs
// both admission policies: curated orders move entries through
// pending/accepted/rejected, FIFO orders hold queued entries only.
type Application struct {
	ID        uuid.UUID         `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OrderID   uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_order_worker"`
	Order     *Order            `gorm:"foreignKey:OrderID"`
	WorkerID  uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_order_worker"`
	Status    ApplicationStatus `gorm:"type:varchar(20);not null;default:'pending';index"`
	AppliedAt time.Time         `gorm:"not null;index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Terminal reports whether s may never change again under the curated policy.
func (s ApplicationStatus) Terminal() bool {
	return s == ApplicationAccepted || s == ApplicationRejected
}

func IsValidApplicationStatus(s ApplicationStatus) bool {
	switch s {
	case ApplicationPending, ApplicationAccepted, ApplicationRejected, ApplicationQueued:
		return true
	default:
		return false
	}
}
