package model

// Card status names in the lookup table.
const (
	StatusActive  = "ACTIVE"
	StatusBlocked = "BLOCKED"
	StatusExpired = "EXPIRED"
)

// CardStatus is a seeded lookup row; cards reference it by id. A missing row
// for a status the code needs is a deployment defect, surfaced at startup.
type CardStatus struct {
	ID          uint64 `gorm:"primaryKey"`
	Name        string `gorm:"size:32;not null;uniqueIndex"`
	Description string `gorm:"size:128;not null"`
}

func (CardStatus) TableName() string { return "card_status" }

// SeedStatuses is the canonical lookup content applied at migration time.
func SeedStatuses() []CardStatus {
	return []CardStatus{
		{ID: 1, Name: StatusActive, Description: "Card is operational"},
		{ID: 2, Name: StatusBlocked, Description: "Card is blocked and cannot move money"},
		{ID: 3, Name: StatusExpired, Description: "Card validity window has passed"},
	}
}
