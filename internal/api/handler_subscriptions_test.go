package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"astromatch-backend/internal/model"
)

func setupSubscriptionRouter(h *Handler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.PUT("/api/subscriptions", h.PutSubscription)
	r.GET("/api/subscriptions", h.GetSubscription)
	r.DELETE("/api/subscriptions", h.DeleteSubscription)
	return r
}

func TestPutSubscription_InvalidBody(t *testing.T) {
	h, _ := newTestHandler(t)
	router := setupSubscriptionRouter(h)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PUT", "/api/subscriptions", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSubscriptionLifecycle(t *testing.T) {
	h, db := newTestHandler(t)
	router := setupSubscriptionRouter(h)

	body := `{"endpoint":"https://push.example.com/ep1","p256dh":"key","auth":"secret","astrologer_id":11}`
	w := httptest.NewRecorder()
	req, _ := http.NewRequest("PUT", "/api/subscriptions", strings.NewReader(body))
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	// Re-registering the same endpoint reassigns it instead of failing.
	body = `{"endpoint":"https://push.example.com/ep1","p256dh":"key2","auth":"secret2","astrologer_id":12}`
	w = httptest.NewRecorder()
	req, _ = http.NewRequest("PUT", "/api/subscriptions", strings.NewReader(body))
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var count int64
	require.NoError(t, db.Model(&model.PushSubscription{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/subscriptions?endpoint=https://push.example.com/ep1", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"astrologer_id":12}`, w.Body.String())

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("GET", "/api/subscriptions?astrologer_id=12", nil)
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"endpoints":["https://push.example.com/ep1"]}`, w.Body.String())

	w = httptest.NewRecorder()
	req, _ = http.NewRequest("DELETE", "/api/subscriptions", strings.NewReader(`{"endpoint":"https://push.example.com/ep1"}`))
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusNoContent, w.Code)

	require.NoError(t, db.Model(&model.PushSubscription{}).Count(&count).Error)
	assert.Equal(t, int64(0), count)
}

func TestGetSubscription_MissingParams(t *testing.T) {
	h, _ := newTestHandler(t)
	router := setupSubscriptionRouter(h)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest("GET", "/api/subscriptions", nil)
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}
