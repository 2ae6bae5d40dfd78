package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/cardforge/cardforge/internal/tasks"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
)

// WebhookHandler receives completion notices from the render service.
type WebhookHandler struct {
	ledger *tasks.Ledger
}

// NewWebhookHandler constructs a WebhookHandler.
func NewWebhookHandler(ledger *tasks.Ledger) *WebhookHandler {
	return &WebhookHandler{ledger: ledger}
}

// renderWebhookPayload mirrors the render service's callback envelope.
type renderWebhookPayload struct {
	Code int    `json:"code"` // Render result code, 200 on success.
	Msg  string `json:"msg"`  // Failure description from the renderer.
	Data *struct {
		TaskID string `json:"taskId"` // Renderer's task identifier.
		Info   *struct {
			ResultURLs []string `json:"result_urls"` // Generated asset URLs.
		} `json:"info"`
	} `json:"data"`
}

// HandleRenderCompletion applies a renderer completion notice. Deliveries that
// cannot be tied to a known task are rejected without writing anything, so the
// renderer's retry loop surfaces misrouted callbacks instead of burying them.
func (h *WebhookHandler) HandleRenderCompletion(c *gin.Context) {
	var payload renderWebhookPayload
	if errBind := c.ShouldBindJSON(&payload); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "invalid json"})
		return
	}
	if payload.Data == nil || strings.TrimSpace(payload.Data.TaskID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "missing taskId"})
		return
	}
	// A delivery without the result-info envelope is malformed, not a task
	// outcome: writing a terminal state from it would discard the renderer's
	// eventual complete redelivery.
	if payload.Data.Info == nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "missing result info"})
		return
	}

	task, errApply := h.ledger.ApplyCompletion(c.Request.Context(), strings.TrimSpace(payload.Data.TaskID), payload.Code, payload.Data.Info.ResultURLs, payload.Msg)
	if errApply != nil {
		if errors.Is(errApply, tasks.ErrTaskNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unknown taskId"})
			return
		}
		log.WithError(errApply).WithField("external_task_id", payload.Data.TaskID).Error("failed to apply render completion")
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "apply completion failed"})
		return
	}

	updated := gin.H{
		"card_id":    task.CardID,
		"status":     task.Status,
		"updated_at": task.UpdatedAt,
	}
	if task.ResultURL != nil {
		updated["result_url"] = *task.ResultURL
	}
	if task.ErrorReason != nil {
		updated["error_reason"] = *task.ErrorReason
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "updatedRecord": updated})
}
