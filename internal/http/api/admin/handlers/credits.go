package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cardforge/cardforge/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// BonusCreditHandler manages admin endpoints for bonus credit grants.
type BonusCreditHandler struct {
	db *gorm.DB
}

// NewBonusCreditHandler constructs a BonusCreditHandler.
func NewBonusCreditHandler(db *gorm.DB) *BonusCreditHandler {
	return &BonusCreditHandler{db: db}
}

// grantCreditRequest captures the payload for granting bonus credits.
type grantCreditRequest struct {
	UserID    uint64     `json:"user_id"`    // Receiving user.
	Amount    int        `json:"amount"`     // Granted allowance, positive.
	Reason    string     `json:"reason"`     // Grant reason, free text.
	ExpiresAt *time.Time `json:"expires_at"` // Optional expiration time.
}

// Grant creates a bonus credit grant for a user.
func (h *BonusCreditHandler) Grant(c *gin.Context) {
	var body grantCreditRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.UserID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	if body.Amount <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
		return
	}
	if body.ExpiresAt != nil && body.ExpiresAt.Before(time.Now().UTC()) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "expires_at must be in the future"})
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, body.UserID).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}

	now := time.Now().UTC()
	grant := models.BonusCredit{
		UserID:    body.UserID,
		Amount:    body.Amount,
		Reason:    strings.TrimSpace(body.Reason),
		ExpiresAt: body.ExpiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&grant).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create grant failed"})
		return
	}
	c.JSON(http.StatusCreated, h.formatGrant(&grant))
}

// creditListQuery defines filters for the grant list view.
type creditListQuery struct {
	Page   int    `form:"page,default=1"`   // Page number.
	Limit  int    `form:"limit,default=20"` // Page size.
	UserID uint64 `form:"user_id"`          // Owning user filter.
	Used   string `form:"used"`             // Consumption filter, true or false.
}

// List returns bonus credit grants with paging and filters.
func (h *BonusCreditHandler) List(c *gin.Context) {
	var q creditListQuery
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

	base := h.db.WithContext(c.Request.Context()).Model(&models.BonusCredit{})
	if q.UserID > 0 {
		base = base.Where("user_id = ?", q.UserID)
	}
	switch strings.TrimSpace(q.Used) {
	case "true", "1":
		base = base.Where("used = ?", true)
	case "false", "0":
		base = base.Where("used = ?", false)
	}

	var total int64
	if errCount := base.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count grants failed"})
		return
	}

	var rows []models.BonusCredit
	if errFind := base.
		Order("created_at DESC, id DESC").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list grants failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, h.formatGrant(&row))
	}
	c.JSON(http.StatusOK, gin.H{
		"bonus_credits": out,
		"total":         total,
		"page":          q.Page,
		"limit":         q.Limit,
	})
}

// Revoke deletes an unconsumed grant. Consumed grants stay as history.
func (h *BonusCreditHandler) Revoke(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	res := h.db.WithContext(c.Request.Context()).
		Where("id = ? AND used = ?", id, false).
		Delete(&models.BonusCredit{})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found or already used"})
		return
	}
	c.Status(http.StatusNoContent)
}

// formatGrant converts a bonus credit model into a response payload.
func (h *BonusCreditHandler) formatGrant(g *models.BonusCredit) gin.H {
	return gin.H{
		"id":         g.ID,
		"user_id":    g.UserID,
		"amount":     g.Amount,
		"reason":     g.Reason,
		"expires_at": g.ExpiresAt,
		"used":       g.Used,
		"used_at":    g.UsedAt,
		"created_at": g.CreatedAt,
		"updated_at": g.UpdatedAt,
	}
}
