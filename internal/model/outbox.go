package model

import (
	"time"

	"github.com/google/uuid"
)

// Domain event types recorded in the outbox.
const (
	EventCustomerCreated = "CUSTOMER_CREATED"
	EventCustomerUpdated = "CUSTOMER_UPDATED"
	EventCustomerDeleted = "CUSTOMER_DELETED"
)

// OutboxEvent is written in the same transaction as the aggregate change it
// describes. The relay publishes rows at-least-once and flips Processed; rows
// are never mutated otherwise and never deleted here.
type OutboxEvent struct {
	ID          uuid.UUID `gorm:"type:uuid;primaryKey"`
	Aggregate   string    `gorm:"size:64;not null"`
	AggregateID string    `gorm:"size:64;not null;index"`
	EventType   string    `gorm:"size:64;not null"`
	Payload     string    `gorm:"type:jsonb;not null"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	Processed   bool      `gorm:"not null;default:false;index"`
	ProcessedAt *time.Time
}

func (OutboxEvent) TableName() string { return "event_outbox" }
