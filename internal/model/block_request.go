package model

import (
	"time"

	"github.com/google/uuid"
)

// Block request lifecycle. PENDING resolves exactly once; there is no path
// back to PENDING.
const (
	BlockPending  = "PENDING"
	BlockApproved = "APPROVED"
	BlockRejected = "REJECTED"
)

// CardBlockRequest is created by the card owner and resolved by an
// administrator. At most one PENDING row exists per card.
type CardBlockRequest struct {
	ID          uint64     `gorm:"primaryKey"`
	CardID      uint64     `gorm:"not null;index"`
	Status      string     `gorm:"size:32;not null;default:'PENDING'"`
	CreatedAt   time.Time  `gorm:"autoCreateTime"`
	ProcessedAt *time.Time
	ProcessedBy *uuid.UUID `gorm:"type:uuid"`
}

func (CardBlockRequest) TableName() string { return "card_block_request" }
