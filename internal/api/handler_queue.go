package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// SessionResponse represents the API response for a single waiting session.
type SessionResponse struct {
	ID             int64     `json:"id"`
	UserName       string    `json:"user_name"`
	Type           string    `json:"type"`
	Cost           string    `json:"cost"`
	Status         string    `json:"status"`
	OfferedCount   int       `json:"offered_count"`
	RotatedCount   int       `json:"rotated_count"`
	WaitingSeconds int64     `json:"waiting_seconds"`
	CreatedAt      time.Time `json:"created_at"`
}

// GetQueue handles the GET /api/queue request.
func (h *Handler) GetQueue(c *gin.Context) {
	sessions, err := h.store.ListWaitingSessions(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve queue"})
		return
	}

	now := time.Now().UTC()
	responses := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		responses = append(responses, SessionResponse{
			ID:             s.ID,
			UserName:       s.UserName,
			Type:           s.Type,
			Cost:           s.Cost,
			Status:         s.Status,
			OfferedCount:   len(s.OfferedIDs()),
			RotatedCount:   len(s.RotatedIDs()),
			WaitingSeconds: int64(now.Sub(s.CreatedAt).Seconds()),
			CreatedAt:      s.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, responses)
}

// SessionDetailResponse adds the offer rows to the session view.
type SessionDetailResponse struct {
	SessionResponse
	OfferedAstrologers []int64 `json:"offered_astrologers"`
	RotatedAstrologers []int64 `json:"rotated_astrologers"`
	FailReason         string  `json:"fail_reason,omitempty"`
}

// GetSession handles the GET /api/queue/{session_id} request.
func (h *Handler) GetSession(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("session_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	session, err := h.store.GetSession(c.Request.Context(), id)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		} else {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, SessionDetailResponse{
		SessionResponse: SessionResponse{
			ID:             session.ID,
			UserName:       session.UserName,
			Type:           session.Type,
			Cost:           session.Cost,
			Status:         session.Status,
			OfferedCount:   len(session.OfferedIDs()),
			RotatedCount:   len(session.RotatedIDs()),
			WaitingSeconds: int64(time.Since(session.CreatedAt).Seconds()),
			CreatedAt:      session.CreatedAt,
		},
		OfferedAstrologers: session.OfferedIDs(),
		RotatedAstrologers: session.RotatedIDs(),
		FailReason:         session.FailReason,
	})
}

// AssignSession handles POST /api/queue/{session_id}/assign: a manual trigger
// for the assignment engine, e.g. after bucket capacity changed. A session no
// longer eligible yields assigned=false, not an error.
func (h *Handler) AssignSession(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("session_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	assigned, err := h.engine.Assign(c.Request.Context(), id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"session_id": id, "assigned": assigned})
}
