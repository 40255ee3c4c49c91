package model

import (
	"time"

	"github.com/google/uuid"
)

// Customer statuses on the authoritative side.
const (
	CustomerActive    = "ACTIVE"
	CustomerSuspended = "SUSPENDED"
	CustomerDeleted   = "DELETED"
)

// Customer is the authoritative identity record. Every mutation records an
// outbox event in the same transaction.
type Customer struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Name      string    `gorm:"size:128;not null"`
	Email     string    `gorm:"size:128;not null;uniqueIndex"`
	Status    string    `gorm:"size:32;not null;default:'ACTIVE'"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (Customer) TableName() string { return "customer" }
