package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"astromatch-backend/internal/model"
)

// BucketResponse represents the API response for a single bucket.
type BucketResponse struct {
	ID             int64  `json:"id"`
	Env            string `json:"env"`
	BucketNumber   int    `json:"bucket_number"`
	BucketStatus   string `json:"bucket_status"`
	AvailableCount int    `json:"available_count"`
	BusyCount      int    `json:"busy_count"`
	OfflineCount   int    `json:"offline_count"`
}

// GetBuckets handles the GET /api/buckets request. Buckets are grouped by
// status tier in the engine's scan order.
func (h *Handler) GetBuckets(c *gin.Context) {
	env := c.DefaultQuery("env", "DEVELOPMENT")

	responses := make([]BucketResponse, 0)
	for _, status := range []string{model.BucketAvailable, model.BucketWaiting, model.BucketBusy} {
		buckets, err := h.store.ListBuckets(c.Request.Context(), env, status)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve buckets"})
			return
		}
		for _, b := range buckets {
			resp := BucketResponse{
				ID:           b.ID,
				Env:          b.Env,
				BucketNumber: b.BucketNumber,
				BucketStatus: b.BucketStatus,
			}
			for _, m := range b.Members {
				switch m.Role {
				case model.MemberAvailable:
					resp.AvailableCount++
				case model.MemberBusy:
					resp.BusyCount++
				case model.MemberOffline:
					resp.OfflineCount++
				}
			}
			responses = append(responses, resp)
		}
	}

	c.JSON(http.StatusOK, responses)
}
