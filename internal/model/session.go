package model

import "time"

// Session statuses. The string values are what the intake path writes; only
// "waiting" is actively managed by the matching core.
const (
	StatusWaiting        = "waiting"
	StatusWaitingForUser = "waiting for user"
	StatusLive           = "live"
	StatusSessionEnd     = "session end"
	StatusExpired        = "expired"
	StatusHold           = "hold"
	StatusMissed         = "missed"
	StatusCancelled      = "cancelled"
	StatusMissedChat     = "missed chat"
	StatusFailed         = "failed"
)

// CostFree marks a free-tier session; anything else is a paid tier.
const CostFree = "free"

// Session is one user's waiting consultation request (a queue record).
type Session struct {
	ID                   int64      `gorm:"primaryKey"`
	UserID               int64      `gorm:"index;not null"`
	UserName             string     `gorm:"size:256"`
	Type                 string     `gorm:"size:32;not null"` // "chat" or "call"
	Cost                 string     `gorm:"size:32;not null"`
	Status               string     `gorm:"size:32;not null;index;default:waiting"`
	AssignedAstrologerID *int64     `gorm:"index"`
	PreviousAstrologerID *int64
	FailReason           string     `gorm:"size:256"`
	WaitingTime          *time.Time // set by intake when the user entered the queue
	CreatedAt            time.Time  `gorm:"not null;index"`
	UpdatedAt            time.Time  `gorm:"not null"`

	// Associations
	Offers []SessionOffer `gorm:"foreignKey:SessionID;constraint:OnDelete:CASCADE"`
}

// Offer states for SessionOffer rows.
const (
	OfferStateOffered = "offered" // currently invited to accept the session
	OfferStateRotated = "rotated" // previously offered, superseded; never re-offered to this session
)

// SessionOffer records one astrologer's invitation to a session. The unique
// index on (session_id, astrologer_id) guarantees an astrologer appears at
// most once per session, so the offered and rotated sets never intersect.
type SessionOffer struct {
	ID           int64     `gorm:"primaryKey"`
	SessionID    int64     `gorm:"uniqueIndex:idx_session_astrologer;not null"`
	AstrologerID int64     `gorm:"uniqueIndex:idx_session_astrologer;not null"`
	State        string    `gorm:"size:16;not null;index;default:offered"`
	CreatedAt    time.Time `gorm:"not null"`
	UpdatedAt    time.Time `gorm:"not null"`
}

// OfferedIDs returns the astrologer ids currently offered this session.
func (s *Session) OfferedIDs() []int64 {
	return s.offerIDs(OfferStateOffered)
}

// RotatedIDs returns the astrologer ids previously offered and rotated out.
func (s *Session) RotatedIDs() []int64 {
	return s.offerIDs(OfferStateRotated)
}

func (s *Session) offerIDs(state string) []int64 {
	var ids []int64
	for _, o := range s.Offers {
		if o.State == state {
			ids = append(ids, o.AstrologerID)
		}
	}
	return ids
}
