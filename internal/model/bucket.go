package model

import "time"

// Bucket statuses define the scan priority tiers for assignment.
const (
	BucketAvailable = "available"
	BucketWaiting   = "waiting"
	BucketBusy      = "busy"
)

// Bucket is an ordered pool of astrologers, partitioned by environment and a
// status tier. Buckets are read-only from the matching core's perspective;
// membership is maintained by the astrologer-status pipeline.
type Bucket struct {
	ID           int64  `gorm:"primaryKey"`
	Env          string `gorm:"size:32;not null;uniqueIndex:idx_env_bucket;default:DEVELOPMENT"`
	BucketNumber int    `gorm:"not null;uniqueIndex:idx_env_bucket"`
	BucketStatus string `gorm:"size:16;not null;index;default:available"`
	CreatedAt    time.Time
	UpdatedAt    time.Time

	// Associations
	Members []BucketMember `gorm:"foreignKey:BucketID;constraint:OnDelete:CASCADE"`
}

// Membership roles within a bucket. The assignment engine reads only
// "available"; the other roles are bookkeeping for the status pipeline.
const (
	MemberAvailable  = "available"
	MemberBusy       = "busy"
	MemberOffline    = "offline"
	MemberLastPicked = "last_picked"
)

// BucketMember ties one astrologer to a bucket under a role.
type BucketMember struct {
	ID           int64  `gorm:"primaryKey"`
	BucketID     int64  `gorm:"index:idx_bucket_role;not null"`
	AstrologerID int64  `gorm:"index;not null"`
	Role         string `gorm:"size:16;not null;index:idx_bucket_role;default:available"`
	CreatedAt    time.Time
}

// AvailableAstrologerIDs returns the ids eligible for assignment from this
// bucket, in member insertion order.
func (b *Bucket) AvailableAstrologerIDs() []int64 {
	var ids []int64
	for _, m := range b.Members {
		if m.Role == MemberAvailable {
			ids = append(ids, m.AstrologerID)
		}
	}
	return ids
}
