package handlers

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cardforge/cardforge/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PlanLimitHandler manages admin endpoints for per-tier feature limits.
type PlanLimitHandler struct {
	db *gorm.DB
}

// NewPlanLimitHandler constructs a PlanLimitHandler.
func NewPlanLimitHandler(db *gorm.DB) *PlanLimitHandler {
	return &PlanLimitHandler{db: db}
}

// upsertPlanLimitRequest captures the payload for setting a plan limit.
type upsertPlanLimitRequest struct {
	Tier       string `json:"tier"`        // Plan tier identifier.
	FeatureKey string `json:"feature_key"` // Feature identifier.
	LimitValue int    `json:"limit_value"` // Limit value, boolean limits use >0 as enabled.
	LimitType  string `json:"limit_type"`  // boolean, daily, or monthly.
}

func parseLimitType(raw string) (models.LimitType, bool) {
	switch models.LimitType(strings.ToLower(strings.TrimSpace(raw))) {
	case models.LimitTypeBoolean:
		return models.LimitTypeBoolean, true
	case models.LimitTypeDaily:
		return models.LimitTypeDaily, true
	case models.LimitTypeMonthly:
		return models.LimitTypeMonthly, true
	default:
		return "", false
	}
}

// Upsert creates or replaces the limit for a tier and feature pair.
func (h *PlanLimitHandler) Upsert(c *gin.Context) {
	var body upsertPlanLimitRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	tier, okTier := parsePlanTier(body.Tier)
	if !okTier {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tier"})
		return
	}
	featureKey := strings.TrimSpace(body.FeatureKey)
	if featureKey == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "feature_key is required"})
		return
	}
	limitType, okType := parseLimitType(body.LimitType)
	if !okType {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit_type"})
		return
	}
	if body.LimitValue < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit_value must be non-negative"})
		return
	}

	now := time.Now().UTC()
	limit := models.PlanLimit{
		PlanTier:   tier,
		FeatureKey: featureKey,
		LimitValue: body.LimitValue,
		LimitType:  limitType,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if errUpsert := h.db.WithContext(c.Request.Context()).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "plan_tier"}, {Name: "feature_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"limit_value", "limit_type", "updated_at"}),
	}).Create(&limit).Error; errUpsert != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upsert plan limit failed"})
		return
	}
	c.JSON(http.StatusOK, h.formatLimit(&limit))
}

// List returns plan limits, optionally filtered by tier.
func (h *PlanLimitHandler) List(c *gin.Context) {
	q := h.db.WithContext(c.Request.Context()).Model(&models.PlanLimit{})
	if tierQ := strings.TrimSpace(c.Query("tier")); tierQ != "" {
		tier, okTier := parsePlanTier(tierQ)
		if !okTier {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tier"})
			return
		}
		q = q.Where("plan_tier = ?", tier)
	}

	var rows []models.PlanLimit
	if errFind := q.Order("plan_tier ASC, feature_key ASC").Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list plan limits failed"})
		return
	}
	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, h.formatLimit(&row))
	}
	c.JSON(http.StatusOK, gin.H{"plan_limits": out})
}

// Delete removes a plan limit by ID.
func (h *PlanLimitHandler) Delete(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	res := h.db.WithContext(c.Request.Context()).Delete(&models.PlanLimit{}, id)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.Status(http.StatusNoContent)
}

// formatLimit converts a plan limit model into a response payload.
func (h *PlanLimitHandler) formatLimit(l *models.PlanLimit) gin.H {
	return gin.H{
		"id":          l.ID,
		"tier":        l.PlanTier,
		"feature_key": l.FeatureKey,
		"limit_value": l.LimitValue,
		"limit_type":  l.LimitType,
		"created_at":  l.CreatedAt,
		"updated_at":  l.UpdatedAt,
	}
}
