package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// WorkerProfile carries the worker-side attributes admission depends on,
// most importantly the declared category matched against Order.WorkerType.
type WorkerProfile struct {
	UserID         uuid.UUID      `gorm:"type:uuid;primary_key"`
	WorkerType     string         `gorm:"type:varchar(50);not null;index"`
	Skills         pq.StringArray `gorm:"type:text[]"`
	DailyRateMinor int64          `gorm:"default:0"`
	Available      bool           `gorm:"default:true"`
	Bio            string
	Location       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (WorkerProfile) TableName() string {
	return "worker_profiles"
}
