package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"astromatch-backend/internal/model"
	"astromatch-backend/internal/store"
)

func newTestHandler(t *testing.T) (*Handler, *gorm.DB) {
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
	return NewHandler(store.NewGormStore(db), nil, nil), db
}

func setupQueueRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/queue", h.GetQueue)
	r.GET("/api/queue/:session_id", h.GetSession)
	return r
}

func TestGetQueue(t *testing.T) {
	h, db := newTestHandler(t)
	router := setupQueueRouter(h)

	sessions := []model.Session{
		{UserID: 1, UserName: "Asha", Type: "chat", Cost: model.CostFree, Status: model.StatusWaiting},
		{UserID: 2, UserName: "Ravi", Type: "chat", Cost: "paid", Status: model.StatusWaiting},
		{UserID: 3, UserName: "Meera", Type: "chat", Cost: model.CostFree, Status: model.StatusLive},
	}
	require.NoError(t, db.Create(&sessions).Error)
	require.NoError(t, db.Create(&model.SessionOffer{SessionID: sessions[0].ID, AstrologerID: 11, State: model.OfferStateOffered}).Error)
	require.NoError(t, db.Create(&model.SessionOffer{SessionID: sessions[0].ID, AstrologerID: 12, State: model.OfferStateRotated}).Error)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/queue", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got []SessionResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))

	// Only waiting sessions show up in the queue.
	require.Len(t, got, 2)
	names := []string{got[0].UserName, got[1].UserName}
	assert.ElementsMatch(t, []string{"Asha", "Ravi"}, names)
	for _, s := range got {
		if s.UserName == "Asha" {
			assert.Equal(t, 1, s.OfferedCount)
			assert.Equal(t, 1, s.RotatedCount)
		}
	}
}

func TestGetSession(t *testing.T) {
	h, db := newTestHandler(t)
	router := setupQueueRouter(h)

	session := model.Session{UserID: 1, UserName: "Asha", Type: "chat", Cost: model.CostFree, Status: model.StatusWaiting}
	require.NoError(t, db.Create(&session).Error)
	require.NoError(t, db.Create(&model.SessionOffer{SessionID: session.ID, AstrologerID: 11, State: model.OfferStateOffered}).Error)
	require.NoError(t, db.Create(&model.SessionOffer{SessionID: session.ID, AstrologerID: 12, State: model.OfferStateRotated}).Error)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", fmt.Sprintf("/api/queue/%d", session.ID), nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got SessionDetailResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, session.ID, got.ID)
	assert.Equal(t, []int64{11}, got.OfferedAstrologers)
	assert.Equal(t, []int64{12}, got.RotatedAstrologers)
}

func TestGetSession_NotFound(t *testing.T) {
	h, _ := newTestHandler(t)
	router := setupQueueRouter(h)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/queue/9999", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestGetSession_InvalidID(t *testing.T) {
	h, _ := newTestHandler(t)
	router := setupQueueRouter(h)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/queue/abc", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetBuckets(t *testing.T) {
	h, db := newTestHandler(t)
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.GET("/api/buckets", h.GetBuckets)

	buckets := []model.Bucket{
		{Env: "DEVELOPMENT", BucketNumber: 2, BucketStatus: model.BucketAvailable},
		{Env: "DEVELOPMENT", BucketNumber: 1, BucketStatus: model.BucketWaiting},
		{Env: "PRODUCTION", BucketNumber: 1, BucketStatus: model.BucketAvailable},
	}
	require.NoError(t, db.Create(&buckets).Error)
	require.NoError(t, db.Create(&[]model.BucketMember{
		{BucketID: buckets[0].ID, AstrologerID: 11, Role: model.MemberAvailable},
		{BucketID: buckets[0].ID, AstrologerID: 12, Role: model.MemberBusy},
		{BucketID: buckets[1].ID, AstrologerID: 13, Role: model.MemberOffline},
	}).Error)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/buckets", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var got []BucketResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))

	// Tiers come back in scan order and the other environment is excluded.
	require.Len(t, got, 2)
	assert.Equal(t, model.BucketAvailable, got[0].BucketStatus)
	assert.Equal(t, 1, got[0].AvailableCount)
	assert.Equal(t, 1, got[0].BusyCount)
	assert.Equal(t, model.BucketWaiting, got[1].BucketStatus)
	assert.Equal(t, 1, got[1].OfflineCount)
}
