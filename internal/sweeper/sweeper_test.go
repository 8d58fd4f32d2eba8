package sweeper

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"astromatch-backend/config"
	"astromatch-backend/internal/assign"
	"astromatch-backend/internal/model"
	"astromatch-backend/internal/store"
)

type noopNotifier struct{}

func (noopNotifier) NotifyOffer(context.Context, *model.Session, []int64) {}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&model.Astrologer{},
		&model.Session{},
		&model.SessionOffer{},
		&model.Bucket{},
		&model.BucketMember{},
		&model.PushSubscription{},
	))
	return db
}

func newTestService(t *testing.T, db *gorm.DB) (*Service, store.Store) {
	t.Helper()
	s := store.NewGormStore(db)
	engine := assign.NewEngine(s, noopNotifier{}, nil, "TESTING")
	cfg := &config.SweeperConfig{
		Enabled:         true,
		Env:             "TESTING",
		FreeWaitSeconds: 60,
		PaidWaitSeconds: 600,
	}
	return NewService(cfg, s, engine, nil), s
}

func createSessionAt(t *testing.T, db *gorm.DB, session model.Session, createdAt time.Time) model.Session {
	t.Helper()
	session.CreatedAt = createdAt
	require.NoError(t, db.Create(&session).Error)
	// GORM fills CreatedAt on create; force the backdated value.
	require.NoError(t, db.Model(&model.Session{}).Where("id = ?", session.ID).
		Update("created_at", createdAt).Error)
	return session
}

func TestSweepOnce_FreeThreshold(t *testing.T) {
	db := newTestDB(t)
	svc, s := newTestService(t, db)
	ctx := context.Background()

	bucket := model.Bucket{Env: "TESTING", BucketNumber: 1, BucketStatus: model.BucketAvailable}
	require.NoError(t, db.Create(&bucket).Error)
	require.NoError(t, db.Create(&model.BucketMember{BucketID: bucket.ID, AstrologerID: 11, Role: model.MemberAvailable}).Error)

	now := time.Now().UTC()
	overdue := createSessionAt(t, db, model.Session{UserID: 1, Type: "chat", Cost: model.CostFree, Status: model.StatusWaiting}, now.Add(-61*time.Second))
	fresh := createSessionAt(t, db, model.Session{UserID: 2, Type: "chat", Cost: model.CostFree, Status: model.StatusWaiting}, now.Add(-59*time.Second))

	svc.SweepOnce(ctx)

	// 61 seconds old gets an offer set, 59 seconds old does not.
	loaded, err := s.GetSession(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{11}, loaded.OfferedIDs())

	loaded, err = s.GetSession(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.Offers)
}

func TestSweepOnce_FreeWithExistingOfferUntouched(t *testing.T) {
	db := newTestDB(t)
	svc, s := newTestService(t, db)
	ctx := context.Background()

	bucket := model.Bucket{Env: "TESTING", BucketNumber: 1, BucketStatus: model.BucketAvailable}
	require.NoError(t, db.Create(&bucket).Error)
	require.NoError(t, db.Create(&model.BucketMember{BucketID: bucket.ID, AstrologerID: 11, Role: model.MemberAvailable}).Error)

	now := time.Now().UTC()
	session := createSessionAt(t, db, model.Session{UserID: 1, Type: "chat", Cost: model.CostFree, Status: model.StatusWaiting}, now.Add(-5*time.Minute))
	require.NoError(t, s.ReplaceOffers(ctx, session.ID, []int64{77}))

	svc.SweepOnce(ctx)

	// A session already holding an offer set is left alone: no re-offer storm.
	loaded, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{77}, loaded.OfferedIDs())
	assert.Empty(t, loaded.RotatedIDs())
}

func TestSweepOnce_PaidThreshold(t *testing.T) {
	testCases := []struct {
		name             string
		astrologerStatus string
		extraInFlight    int
		wantFailed       bool
	}{
		{"available with single in-flight session fails", model.AstrologerAvailable, 0, true},
		{"available but mid-session elsewhere survives", model.AstrologerAvailable, 1, false},
		{"offline fails regardless of load", model.AstrologerOffline, 1, true},
		{"busy survives", model.AstrologerBusy, 0, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			db := newTestDB(t)
			svc, s := newTestService(t, db)
			ctx := context.Background()

			astrologer := model.Astrologer{Name: "Ravi", Status: tc.astrologerStatus, PhoneNumber: "+919000000001"}
			require.NoError(t, db.Create(&astrologer).Error)

			now := time.Now().UTC()
			session := createSessionAt(t, db, model.Session{
				UserID:               1,
				Type:                 "chat",
				Cost:                 "tier1",
				Status:               model.StatusWaiting,
				AssignedAstrologerID: &astrologer.ID,
			}, now.Add(-11*time.Minute))

			for i := 0; i < tc.extraInFlight; i++ {
				createSessionAt(t, db, model.Session{
					UserID:               int64(100 + i),
					Type:                 "chat",
					Cost:                 "tier1",
					Status:               model.StatusLive,
					AssignedAstrologerID: &astrologer.ID,
				}, now)
			}

			svc.SweepOnce(ctx)

			loaded, err := s.GetSession(ctx, session.ID)
			require.NoError(t, err)
			if tc.wantFailed {
				assert.Equal(t, model.StatusFailed, loaded.Status)
				assert.Equal(t, FailReason, loaded.FailReason)
			} else {
				assert.Equal(t, model.StatusWaiting, loaded.Status)
				assert.Empty(t, loaded.FailReason)
			}
		})
	}
}

func TestSweepOnce_PaidBelowThresholdUntouched(t *testing.T) {
	db := newTestDB(t)
	svc, s := newTestService(t, db)
	ctx := context.Background()

	astrologer := model.Astrologer{Name: "Ravi", Status: model.AstrologerOffline}
	require.NoError(t, db.Create(&astrologer).Error)

	now := time.Now().UTC()
	session := createSessionAt(t, db, model.Session{
		UserID:               1,
		Type:                 "chat",
		Cost:                 "tier1",
		Status:               model.StatusWaiting,
		AssignedAstrologerID: &astrologer.ID,
	}, now.Add(-9*time.Minute))

	svc.SweepOnce(ctx)

	loaded, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaiting, loaded.Status)
}

func TestSweepOnce_UnassignedPaidSurvives(t *testing.T) {
	db := newTestDB(t)
	svc, s := newTestService(t, db)
	ctx := context.Background()

	now := time.Now().UTC()
	session := createSessionAt(t, db, model.Session{
		UserID: 1,
		Type:   "chat",
		Cost:   "tier1",
		Status: model.StatusWaiting,
	}, now.Add(-30*time.Minute))

	svc.SweepOnce(ctx)

	// No assigned astrologer means no evidence either way; leave it alone.
	loaded, err := s.GetSession(ctx, session.ID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusWaiting, loaded.Status)
}

func TestSweepOnce_OneSessionFailureDoesNotBlockOthers(t *testing.T) {
	db := newTestDB(t)
	svc, s := newTestService(t, db)
	ctx := context.Background()

	bucket := model.Bucket{Env: "TESTING", BucketNumber: 1, BucketStatus: model.BucketAvailable}
	require.NoError(t, db.Create(&bucket).Error)
	require.NoError(t, db.Create(&model.BucketMember{BucketID: bucket.ID, AstrologerID: 11, Role: model.MemberAvailable}).Error)

	now := time.Now().UTC()
	// The first overdue session already exhausted the only bucket: the engine
	// no-ops for it but must still reach the second one.
	exhausted := createSessionAt(t, db, model.Session{UserID: 1, Type: "chat", Cost: model.CostFree, Status: model.StatusWaiting}, now.Add(-10*time.Minute))
	require.NoError(t, s.ReplaceOffers(ctx, exhausted.ID, []int64{11}))
	require.NoError(t, s.ReplaceOffers(ctx, exhausted.ID, nil)) // rotate, leaving the offer set empty

	second := createSessionAt(t, db, model.Session{UserID: 2, Type: "chat", Cost: model.CostFree, Status: model.StatusWaiting}, now.Add(-10*time.Minute))

	svc.SweepOnce(ctx)

	loaded, err := s.GetSession(ctx, exhausted.ID)
	require.NoError(t, err)
	assert.Empty(t, loaded.OfferedIDs())
	assert.Equal(t, []int64{11}, loaded.RotatedIDs())

	loaded, err = s.GetSession(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{11}, loaded.OfferedIDs())
}
