package model

import (
	"time"

	"github.com/google/uuid"
)

// User is the local identity projection of an upstream customer, written only
// by the event consumer. ID equals the upstream customer id. The row may lag
// the authoritative side; callers treat a missing owner as retryable.
type User struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey"`
	Status   string    `gorm:"size:32;not null"`
	SyncedAt time.Time `gorm:"autoUpdateTime"`
}

func (User) TableName() string { return "user_projection" }
