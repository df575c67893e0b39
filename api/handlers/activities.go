package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"activity/models"
	"activity/services"
)

// CreateActivity posts a new feed entry for the current user. A local
// write schedules a feed refresh directly, without waiting for the
// change notification to come back around.
func CreateActivity(c *gin.Context) {
	var req struct {
		Content string `json:"content" binding:"required"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request"})
		return
	}

	token := c.GetString("access_token")
	created, err := activityService.Create(c.Request.Context(), token, req.Content)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrBlankContent):
			c.JSON(http.StatusBadRequest, gin.H{"error": "Content must not be empty"})
		case errors.Is(err, services.ErrNoSession):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Session expired or invalid. Please sign in again."})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to post activity"})
		}
		return
	}

	feedSync.RequestRefresh()
	c.JSON(http.StatusCreated, created)
}

// DeleteActivity deletes one entry by id. Ownership is enforced by the
// store's row-level policy; the handler only reports the outcome.
func DeleteActivity(c *gin.Context) {
	activityID := c.Param("activity_id")
	if activityID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid activity ID"})
		return
	}

	token := c.GetString("access_token")
	err := activityService.Delete(c.Request.Context(), token, activityID)
	if err != nil {
		switch {
		case errors.Is(err, services.ErrDeleteInFlight):
			c.JSON(http.StatusConflict, gin.H{"error": "Delete already in progress"})
		case errors.Is(err, services.ErrNotOwner):
			c.JSON(http.StatusForbidden, gin.H{"error": "You can only delete your own posts"})
		default:
			c.JSON(http.StatusBadGateway, gin.H{"error": "Failed to delete activity"})
		}
		return
	}

	feedSync.RequestRefresh()
	c.JSON(http.StatusOK, gin.H{"message": "Activity deleted"})
}

// GetFeed returns the current feed snapshot annotated for the viewer:
// can_delete is set only on entries the viewer owns.
func GetFeed(c *gin.Context) {
	viewerID := c.GetString("user_id")

	entries, loading, errMsg := feedSync.Snapshot()

	resp := models.FeedResponse{
		Entries: make([]models.FeedEntry, 0, len(entries)),
		Loading: loading,
		Error:   errMsg,
	}
	for _, entry := range entries {
		resp.Entries = append(resp.Entries, models.FeedEntry{
			Activity:  entry,
			CanDelete: entry.UserID == viewerID,
		})
	}

	c.JSON(http.StatusOK, resp)
}
