package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	dbutil "github.com/cardforge/cardforge/internal/db"
	"github.com/cardforge/cardforge/internal/models"
	"github.com/cardforge/cardforge/internal/tasks"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// TaskHandler serves admin views over the generation task ledger.
type TaskHandler struct {
	db     *gorm.DB
	ledger *tasks.Ledger
}

// NewTaskHandler constructs a TaskHandler.
func NewTaskHandler(db *gorm.DB, ledger *tasks.Ledger) *TaskHandler {
	return &TaskHandler{db: db, ledger: ledger}
}

// taskListQuery defines filters for the task list view.
type taskListQuery struct {
	Page   int    `form:"page,default=1"`   // Page number.
	Limit  int    `form:"limit,default=20"` // Page size.
	Status string `form:"status"`           // Status filter.
	UserID uint64 `form:"user_id"`          // Owning user filter.
	CardID string `form:"card_id"`          // Card id filter, substring match.
}

// List returns generation tasks with paging and filters.
func (h *TaskHandler) List(c *gin.Context) {
	var q taskListQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.Limit < 1 || q.Limit > 100 {
		q.Limit = 20
	}

	base := h.db.WithContext(c.Request.Context()).Model(&models.GenerationTask{})
	if statusQ := strings.TrimSpace(q.Status); statusQ != "" {
		switch models.TaskStatus(statusQ) {
		case models.TaskStatusPending, models.TaskStatusProcessing, models.TaskStatusCompleted, models.TaskStatusFailed:
			base = base.Where("status = ?", statusQ)
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status"})
			return
		}
	}
	if q.UserID > 0 {
		base = base.Where("user_id = ?", q.UserID)
	}
	if cardQ := strings.TrimSpace(q.CardID); cardQ != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+cardQ+"%")
		base = base.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "card_id"), pattern)
	}

	var total int64
	if errCount := base.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count tasks failed"})
		return
	}

	var rows []models.GenerationTask
	if errFind := base.
		Order("created_at DESC, id DESC").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list tasks failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, h.formatTask(&row))
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks": out,
		"total": total,
		"page":  q.Page,
		"limit": q.Limit,
	})
}

// Get fetches a task by card id.
func (h *TaskHandler) Get(c *gin.Context) {
	task, errGet := h.ledger.GetByCardID(c.Request.Context(), c.Param("card_id"))
	if errGet != nil {
		if errors.Is(errGet, tasks.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, h.formatTask(task))
}

// purgeOrphanedQuery bounds the orphan purge window.
type purgeOrphanedQuery struct {
	OlderThanHours int `form:"older_than_hours,default=24"` // Minimum age of purged tasks.
}

// PurgeOrphaned deletes pending tasks that never reached the render service.
func (h *TaskHandler) PurgeOrphaned(c *gin.Context) {
	var q purgeOrphanedQuery
	if errBind := c.ShouldBindQuery(&q); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid query"})
		return
	}
	if q.OlderThanHours < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "older_than_hours must be positive"})
		return
	}

	before := time.Now().UTC().Add(-time.Duration(q.OlderThanHours) * time.Hour)
	purged, errPurge := h.ledger.PurgeOrphaned(c.Request.Context(), before)
	if errPurge != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "purge failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"purged": purged})
}

// formatTask converts a task model into a response payload.
func (h *TaskHandler) formatTask(t *models.GenerationTask) gin.H {
	return gin.H{
		"id":               t.ID,
		"card_id":          t.CardID,
		"external_task_id": t.ExternalTaskID,
		"user_id":          t.UserID,
		"card_type":        t.CardType,
		"params":           t.Params,
		"status":           t.Status,
		"result_url":       t.ResultURL,
		"result_urls":      t.ResultURLs,
		"error_reason":     t.ErrorReason,
		"created_at":       t.CreatedAt,
		"updated_at":       t.UpdatedAt,
	}
}
