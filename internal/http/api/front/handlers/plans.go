package handlers

import (
	"net/http"

	"github.com/cardforge/cardforge/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// PlanFrontHandler serves plan-related front endpoints.
type PlanFrontHandler struct {
	db *gorm.DB
}

// NewPlanFrontHandler constructs a PlanFrontHandler.
func NewPlanFrontHandler(db *gorm.DB) *PlanFrontHandler {
	return &PlanFrontHandler{db: db}
}

// List returns enabled plans with their configured feature limits.
func (h *PlanFrontHandler) List(c *gin.Context) {
	var plans []models.Plan
	if errFind := h.db.WithContext(c.Request.Context()).
		Where("is_enabled = ?", true).
		Order("sort_order ASC, created_at DESC").
		Find(&plans).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list plans failed"})
		return
	}

	var limits []models.PlanLimit
	if errLimits := h.db.WithContext(c.Request.Context()).
		Order("plan_tier ASC, feature_key ASC").
		Find(&limits).Error; errLimits != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list plans failed"})
		return
	}
	limitsByTier := make(map[models.PlanTier][]gin.H, len(plans))
	for _, limit := range limits {
		limitsByTier[limit.PlanTier] = append(limitsByTier[limit.PlanTier], gin.H{
			"feature_key": limit.FeatureKey,
			"limit_value": limit.LimitValue,
			"limit_type":  limit.LimitType,
		})
	}

	out := make([]gin.H, 0, len(plans))
	for _, plan := range plans {
		tierLimits := limitsByTier[plan.Tier]
		if tierLimits == nil {
			tierLimits = []gin.H{}
		}
		out = append(out, gin.H{
			"id":          plan.ID,
			"tier":        plan.Tier,
			"name":        plan.Name,
			"month_price": plan.MonthPrice,
			"description": plan.Description,
			"perks":       plan.Perks,
			"sort_order":  plan.SortOrder,
			"limits":      tierLimits,
			"created_at":  plan.CreatedAt,
			"updated_at":  plan.UpdatedAt,
		})
	}

	c.JSON(http.StatusOK, gin.H{"plans": out})
}
