package model

import "time"

// Astrologer presence statuses as written by the (external) status pipeline.
const (
	AstrologerAvailable = "available"
	AstrologerOffline   = "offline"
	AstrologerBusy      = "busy"
)

// Astrologer is read-mostly here: the matching core never changes its status.
type Astrologer struct {
	ID          int64  `gorm:"primaryKey"`
	Name        string `gorm:"size:256;not null"`
	Status      string `gorm:"size:32;not null;index;default:offline"`
	PhoneNumber string `gorm:"size:32"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
