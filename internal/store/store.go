package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"astromatch-backend/internal/model"
)

// Store defines the persistence operations the matching core depends on.
type Store interface {
	// Queue records
	ListWaitingSessions(ctx context.Context) ([]model.Session, error)
	GetSession(ctx context.Context, id int64) (*model.Session, error)
	FailSessions(ctx context.Context, ids []int64, reason string) (int64, error)
	ReplaceOffers(ctx context.Context, sessionID int64, astrologerIDs []int64) error

	// Astrologer directory
	GetAstrologer(ctx context.Context, id int64) (*model.Astrologer, error)
	AstrologerStatuses(ctx context.Context, ids []int64) (map[int64]string, error)
	CountInFlight(ctx context.Context, astrologerIDs []int64) (map[int64]int64, error)

	// Buckets (read-only for the matching core)
	ListBuckets(ctx context.Context, env, status string) ([]model.Bucket, error)

	// Push delivery targets
	SubscriptionsForAstrologer(ctx context.Context, astrologerID int64) ([]model.PushSubscription, error)
	DeleteSubscription(ctx context.Context, endpoint string) error

	DB() *gorm.DB
}

// gormStore implements the Store interface using GORM.
type gormStore struct {
	db *gorm.DB
}

// NewGormStore creates a new GORM-backed store.
func NewGormStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) DB() *gorm.DB {
	return s.db
}

// ListWaitingSessions returns every session still in the waiting state, offer
// rows preloaded, in retrieval order.
func (s *gormStore) ListWaitingSessions(ctx context.Context) ([]model.Session, error) {
	var sessions []model.Session
	err := s.db.WithContext(ctx).
		Preload("Offers").
		Where("status = ?", model.StatusWaiting).
		Find(&sessions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting sessions: %w", err)
	}
	return sessions, nil
}

func (s *gormStore) GetSession(ctx context.Context, id int64) (*model.Session, error) {
	var session model.Session
	err := s.db.WithContext(ctx).Preload("Offers").First(&session, id).Error
	if err != nil {
		return nil, err
	}
	return &session, nil
}

// FailSessions marks the given sessions failed with the given reason. The
// status guard keeps a session that resolved mid-sweep out of the update.
func (s *gormStore) FailSessions(ctx context.Context, ids []int64, reason string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Model(&model.Session{}).
		Where("id IN ? AND status = ?", ids, model.StatusWaiting).
		Updates(map[string]any{"status": model.StatusFailed, "fail_reason": reason})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to mark sessions failed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// ReplaceOffers rotates the session's current offer set into history and
// persists astrologerIDs as the fresh offer set, in one transaction.
func (s *gormStore) ReplaceOffers(ctx context.Context, sessionID int64, astrologerIDs []int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.SessionOffer{}).
			Where("session_id = ? AND state = ?", sessionID, model.OfferStateOffered).
			Update("state", model.OfferStateRotated).Error; err != nil {
			return fmt.Errorf("failed to rotate offers for session %d: %w", sessionID, err)
		}

		offers := make([]model.SessionOffer, 0, len(astrologerIDs))
		for _, astrologerID := range astrologerIDs {
			offers = append(offers, model.SessionOffer{
				SessionID:    sessionID,
				AstrologerID: astrologerID,
				State:        model.OfferStateOffered,
			})
		}
		if len(offers) == 0 {
			return nil
		}
		if err := tx.Create(&offers).Error; err != nil {
			return fmt.Errorf("failed to create offers for session %d: %w", sessionID, err)
		}
		return nil
	})
}

func (s *gormStore) GetAstrologer(ctx context.Context, id int64) (*model.Astrologer, error) {
	var astrologer model.Astrologer
	if err := s.db.WithContext(ctx).First(&astrologer, id).Error; err != nil {
		return nil, err
	}
	return &astrologer, nil
}

// AstrologerStatuses returns a status lookup for the given astrologer ids.
// Ids that do not exist are simply absent from the map.
func (s *gormStore) AstrologerStatuses(ctx context.Context, ids []int64) (map[int64]string, error) {
	statuses := make(map[int64]string, len(ids))
	if len(ids) == 0 {
		return statuses, nil
	}
	var astrologers []model.Astrologer
	if err := s.db.WithContext(ctx).
		Select("id", "status").
		Find(&astrologers, ids).Error; err != nil {
		return nil, fmt.Errorf("failed to load astrologer statuses: %w", err)
	}
	for _, a := range astrologers {
		statuses[a.ID] = a.Status
	}
	return statuses, nil
}

// CountInFlight returns, per astrologer, the number of sessions currently
// assigned to them in a non-terminal state (waiting, waiting for user, live).
func (s *gormStore) CountInFlight(ctx context.Context, astrologerIDs []int64) (map[int64]int64, error) {
	counts := make(map[int64]int64, len(astrologerIDs))
	if len(astrologerIDs) == 0 {
		return counts, nil
	}

	type aggRow struct {
		AstrologerID int64
		QueueCount   int64
	}
	var rows []aggRow
	err := s.db.WithContext(ctx).
		Model(&model.Session{}).
		Select("assigned_astrologer_id as astrologer_id, COUNT(*) as queue_count").
		Where("assigned_astrologer_id IN ? AND status IN ?",
			astrologerIDs,
			[]string{model.StatusWaiting, model.StatusWaitingForUser, model.StatusLive}).
		Group("assigned_astrologer_id").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to count in-flight sessions: %w", err)
	}

	for _, r := range rows {
		counts[r.AstrologerID] = r.QueueCount
	}
	return counts, nil
}

// ListBuckets returns the buckets for one environment and status tier,
// ascending by bucket number, members preloaded.
func (s *gormStore) ListBuckets(ctx context.Context, env, status string) ([]model.Bucket, error) {
	var buckets []model.Bucket
	err := s.db.WithContext(ctx).
		Preload("Members").
		Where("env = ? AND bucket_status = ?", env, status).
		Order("bucket_number ASC").
		Find(&buckets).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list %s buckets: %w", status, err)
	}
	return buckets, nil
}

func (s *gormStore) SubscriptionsForAstrologer(ctx context.Context, astrologerID int64) ([]model.PushSubscription, error) {
	var subscriptions []model.PushSubscription
	err := s.db.WithContext(ctx).
		Where("astrologer_id = ?", astrologerID).
		Find(&subscriptions).Error
	if err != nil {
		return nil, fmt.Errorf("failed to fetch subscriptions for astrologer %d: %w", astrologerID, err)
	}
	return subscriptions, nil
}

func (s *gormStore) DeleteSubscription(ctx context.Context, endpoint string) error {
	return s.db.WithContext(ctx).Delete(&model.PushSubscription{Endpoint: endpoint}).Error
}
