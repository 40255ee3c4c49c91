package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ExpiryLayout is the year-month format stored in Card.ExpiryDate.
const ExpiryLayout = "2006-01"

// Card carries a money balance against an owner from the identity projection.
// Version backs optimistic locking on every balance or status update.
type Card struct {
	ID         uint64          `gorm:"primaryKey"`
	PAN        string          `gorm:"column:pan;size:16;not null;uniqueIndex"`
	OwnerID    uuid.UUID       `gorm:"type:uuid;not null;index"`
	ExpiryDate string          `gorm:"size:7;not null;index"`
	StatusID   uint64          `gorm:"not null"`
	Balance    decimal.Decimal `gorm:"type:numeric(20,8);not null;default:'0'"`
	Version    uint64          `gorm:"not null;default:0"`
	CreatedAt  time.Time       `gorm:"autoCreateTime"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime"`
}

func (Card) TableName() string { return "card" }
