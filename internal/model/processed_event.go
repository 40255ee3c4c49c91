package model

import (
	"time"

	"github.com/google/uuid"
)

// ProcessedEvent is the dedup ledger for the event consumer. The primary key
// is the source outbox event id, not a new id: existence of a row is the sole
// oracle for "this event has already been applied".
type ProcessedEvent struct {
	EventID     uuid.UUID `gorm:"type:uuid;primaryKey"`
	AggregateID string    `gorm:"size:64;not null"`
	EventType   string    `gorm:"size:64;not null"`
	ProcessedAt time.Time `gorm:"autoCreateTime"`
}

func (ProcessedEvent) TableName() string { return "processed_event" }
