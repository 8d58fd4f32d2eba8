package model

import "time"

// PushSubscription holds a web push subscription for one of an astrologer's
// client sessions. An astrologer may hold several (one per device/browser).
type PushSubscription struct {
	Endpoint     string    `gorm:"primaryKey"`
	P256DH       string    `gorm:"column:p256dh;not null"`
	Auth         string    `gorm:"not null"`
	AstrologerID int64     `gorm:"index;not null"`
	CreatedAt    time.Time `gorm:"not null"`
}
