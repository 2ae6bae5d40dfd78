package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/cardforge/cardforge/internal/entitlement"
	"github.com/gin-gonic/gin"
)

// CreditHandler serves daily credit claims and feature checks.
type CreditHandler struct {
	engine *entitlement.Engine
}

// NewCreditHandler constructs a CreditHandler.
func NewCreditHandler(engine *entitlement.Engine) *CreditHandler {
	return &CreditHandler{engine: engine}
}

// Peek reports today's claim state without activating anything.
func (h *CreditHandler) Peek(c *gin.Context) {
	h.respondClaim(c, false)
}

// Claim activates today's daily allowance for the signed-in user.
func (h *CreditHandler) Claim(c *gin.Context) {
	h.respondClaim(c, true)
}

func (h *CreditHandler) respondClaim(c *gin.Context, mutate bool) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var (
		result   entitlement.ClaimResult
		errClaim error
	)
	if mutate {
		result, errClaim = h.engine.ClaimDailyCredits(c.Request.Context(), userID)
	} else {
		result, errClaim = h.engine.PeekDailyCredits(c.Request.Context(), userID)
	}
	if errClaim != nil {
		if errors.Is(errClaim, entitlement.ErrUserNotFound) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		if errors.Is(errClaim, entitlement.ErrUserDisabled) {
			c.JSON(http.StatusForbidden, gin.H{"error": "account disabled"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "claim failed"})
		return
	}

	bonus, errBonus := h.engine.AvailableBonusCredits(c.Request.Context(), userID)
	if errBonus != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "claim failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            result.Status,
		"is_first_day":      result.IsFirstDay,
		"has_claimed":       result.HasClaimed,
		"is_unlimited":      result.Unlimited,
		"available_credits": result.AvailableCredits,
		"used_credits":      result.UsedCredits,
		"bonus_credits":     bonus,
	})
}

// featureCheckRequest names the feature to check.
type featureCheckRequest struct {
	FeatureKey string `json:"feature_key"`
}

// CheckFeature answers whether the signed-in user may use a feature right now.
func (h *CreditHandler) CheckFeature(c *gin.Context) {
	userID := getUserID(c)
	if userID == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
		return
	}

	var body featureCheckRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.FeatureKey) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "feature_key is required"})
		return
	}

	decision, errCheck := h.engine.CheckFeature(c.Request.Context(), userID, strings.TrimSpace(body.FeatureKey))
	if errCheck != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "feature check failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"allowed":   decision.Allowed,
		"unlimited": decision.Unlimited,
		"limit":     decision.Limit,
		"current":   decision.Current,
		"remaining": decision.Remaining,
		"message":   decision.Message,
	})
}
