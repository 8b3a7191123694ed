package api

import (
	"errors"
	"net/http"
	"strconv"

	"payment_engine/internal/queue"

	"github.com/gin-gonic/gin" // Gin web framework
	"gorm.io/gorm"             // GORM ORM library
)

// GetUserQueueItems lists the caller's queued payments, newest first.
func GetUserQueueItems(m *queue.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		items, err := m.GetUserItems(c.Request.Context(), c.GetString("userID"), limit)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load queue items"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"items": items})
	}
}

// GetQueueItem polls one queued payment.
func GetQueueItem(m *queue.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		item, err := m.GetItem(c.Request.Context(), c.Param("queue_id"), c.GetString("userID"))
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Queue item not found"})
			return
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load queue item"})
			return
		}
		c.JSON(http.StatusOK, item)
	}
}

// CancelQueueItem withdraws a pending or retrying payment.
func CancelQueueItem(m *queue.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := m.Cancel(c.Request.Context(), c.Param("queue_id"), c.GetString("userID"))
		if errors.Is(err, queue.ErrNotCancellable) {
			c.JSON(http.StatusConflict, gin.H{"error": "Item cannot be cancelled"})
			return
		} else if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to cancel queue item"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
	}
}
