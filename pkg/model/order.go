package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type OrderStatus string

const (
	OrderOpen   OrderStatus = "open"
	OrderFilled OrderStatus = "filled"
	OrderClosed OrderStatus = "closed"
)

// AdmissionPolicy selects how workers claim an order's slots. Curated orders
// collect pending applications that the employer accepts manually; FIFO
// orders admit workers automatically in join order.
type AdmissionPolicy string

const (
	PolicyCurated AdmissionPolicy = "curated"
	PolicyFIFO    AdmissionPolicy = "fifo"
)

type Order struct {
	ID            uuid.UUID       `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	EmployerID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	WorkerType    string          `gorm:"type:varchar(50);not null;index"`
	RequiredCount int             `gorm:"not null;default:1"`
	Policy        AdmissionPolicy `gorm:"type:varchar(20);not null;default:'curated'"`
	Status        OrderStatus     `gorm:"type:varchar(20);default:'open';index"`
	Description   string
	Location      string
	JobDate       time.Time `gorm:"index"`
	Latitude      *float64
	Longitude     *float64
	MapURL        string
	Applications  []Application `gorm:"foreignKey:OrderID"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     gorm.DeletedAt `gorm:"index"`
}

// Terminal reports whether no further status transition may leave s.
func (s OrderStatus) Terminal() bool {
	return s == OrderFilled || s == OrderClosed
}

func IsValidOrderStatus(s OrderStatus) bool {
	switch s {
	case OrderOpen, OrderFilled, OrderClosed:
		return true
	default:
		return false
	}
}

func IsValidPolicy(p AdmissionPolicy) bool {
	return p == PolicyCurated || p == PolicyFIFO
}
