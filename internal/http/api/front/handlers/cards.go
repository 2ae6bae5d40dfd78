package handlers

import (
	"errors"
	"net/http"

	"github.com/cardforge/cardforge/internal/models"
	"github.com/cardforge/cardforge/internal/tasks"
	"github.com/gin-gonic/gin"
)

// CardHandler serves generation task status lookups.
type CardHandler struct {
	ledger *tasks.Ledger
}

// NewCardHandler constructs a CardHandler.
func NewCardHandler(ledger *tasks.Ledger) *CardHandler {
	return &CardHandler{ledger: ledger}
}

// Status returns the current state of a generation task. Responses are marked
// non-cacheable so pollers always observe the latest transition.
func (h *CardHandler) Status(c *gin.Context) {
	cardID := c.Param("id")

	c.Header("Cache-Control", "no-store, no-cache, must-revalidate")
	c.Header("Pragma", "no-cache")

	task, errGet := h.ledger.GetByCardID(c.Request.Context(), cardID)
	if errGet != nil {
		if errors.Is(errGet, tasks.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load task failed"})
		return
	}

	body := gin.H{
		"card_id":    task.CardID,
		"card_type":  task.CardType,
		"status":     task.Status,
		"created_at": task.CreatedAt,
		"updated_at": task.UpdatedAt,
	}
	switch task.Status {
	case models.TaskStatusCompleted:
		if task.ResultURL != nil {
			body["result_url"] = *task.ResultURL
		}
		body["result_urls"] = task.ResultURLs
	case models.TaskStatusFailed:
		if task.ErrorReason != nil {
			body["error_reason"] = *task.ErrorReason
		}
	}
	c.JSON(http.StatusOK, body)
}
