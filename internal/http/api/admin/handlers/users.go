package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	dbutil "github.com/cardforge/cardforge/internal/db"
	"github.com/cardforge/cardforge/internal/models"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// UserHandler manages user account endpoints.
type UserHandler struct {
	db *gorm.DB
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(db *gorm.DB) *UserHandler {
	return &UserHandler{db: db}
}

// createUserRequest defines the request body for user creation.
type createUserRequest struct {
	Email string `json:"email"` // Verified email address.
	Name  string `json:"name"`  // Display name.
}

// Create creates a new user account.
func (h *UserHandler) Create(c *gin.Context) {
	var body createUserRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	email := strings.ToLower(strings.TrimSpace(body.Email))
	if email == "" || !strings.Contains(email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "valid email is required"})
		return
	}

	now := time.Now().UTC()
	user := models.User{
		Email:     email,
		Name:      strings.TrimSpace(body.Name),
		Active:    true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&user).Error; errCreate != nil {
		if dbutil.IsUniqueViolation(errCreate) {
			c.JSON(http.StatusConflict, gin.H{"error": "email already exists"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create user failed"})
		return
	}
	c.JSON(http.StatusCreated, h.formatUser(&user))
}

// userListQuery defines filters for the user list view.
type userListQuery struct {
	Page  int    `form:"page,default=1"`   // Page number.
	Limit int    `form:"limit,default=20"` // Page size.
	Email string `form:"email"`            // Email filter, substring match.
}

// List returns user accounts with paging and an optional email filter.
func (h *UserHandler) List(c *gin.Context) {
	var q userListQuery
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

	base := h.db.WithContext(c.Request.Context()).Model(&models.User{})
	if emailQ := strings.TrimSpace(q.Email); emailQ != "" {
		pattern := dbutil.NormalizeLikePattern(h.db, "%"+emailQ+"%")
		base = base.Where(dbutil.CaseInsensitiveLikeExpr(h.db, "email"), pattern)
	}

	var total int64
	if errCount := base.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "count users failed"})
		return
	}

	var rows []models.User
	if errFind := base.
		Preload("Plan").
		Order("created_at DESC, id DESC").
		Offset((q.Page - 1) * q.Limit).
		Limit(q.Limit).
		Find(&rows).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list users failed"})
		return
	}

	out := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		out = append(out, h.formatUser(&row))
	}
	c.JSON(http.StatusOK, gin.H{
		"users": out,
		"total": total,
		"page":  q.Page,
		"limit": q.Limit,
	})
}

// Get fetches a user by ID.
func (h *UserHandler) Get(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).Preload("Plan").First(&user, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, h.formatUser(&user))
}

// updateUserRequest captures optional fields for user updates.
type updateUserRequest struct {
	Name               *string    `json:"name"`                 // Optional display name.
	PlanID             *uint64    `json:"plan_id"`              // Optional plan assignment, 0 clears it.
	SubscriptionStatus *string    `json:"subscription_status"`  // Optional billing status.
	SubscriptionEndsAt *time.Time `json:"subscription_ends_at"` // Optional billing period end.
}

// Update applies user field updates.
func (h *UserHandler) Update(c *gin.Context) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body updateUserRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	updates := map[string]any{
		"updated_at": time.Now().UTC(),
	}
	if body.Name != nil {
		updates["name"] = strings.TrimSpace(*body.Name)
	}
	if body.PlanID != nil {
		if *body.PlanID == 0 {
			updates["plan_id"] = nil
		} else {
			var plan models.Plan
			if errFind := h.db.WithContext(c.Request.Context()).First(&plan, *body.PlanID).Error; errFind != nil {
				if errors.Is(errFind, gorm.ErrRecordNotFound) {
					c.JSON(http.StatusBadRequest, gin.H{"error": "plan not found"})
					return
				}
				c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
				return
			}
			updates["plan_id"] = *body.PlanID
		}
	}
	if body.SubscriptionStatus != nil {
		updates["subscription_status"] = strings.TrimSpace(*body.SubscriptionStatus)
	}
	if body.SubscriptionEndsAt != nil {
		updates["subscription_ends_at"] = body.SubscriptionEndsAt.UTC()
	}

	res := h.db.WithContext(c.Request.Context()).Model(&models.User{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// Disable blocks a user from starting generations.
func (h *UserHandler) Disable(c *gin.Context) {
	h.setActive(c, false)
}

// Enable restores a disabled user.
func (h *UserHandler) Enable(c *gin.Context) {
	h.setActive(c, true)
}

func (h *UserHandler) setActive(c *gin.Context, active bool) {
	id, errParse := strconv.ParseUint(strings.TrimSpace(c.Param("id")), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	res := h.db.WithContext(c.Request.Context()).Model(&models.User{}).Where("id = ?", id).
		Updates(map[string]any{"active": active, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update failed"})
		return
	}
	if res.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// formatUser converts a user model into a response payload.
func (h *UserHandler) formatUser(u *models.User) gin.H {
	out := gin.H{
		"id":                   u.ID,
		"email":                u.Email,
		"name":                 u.Name,
		"plan_id":              u.PlanID,
		"subscription_status":  u.SubscriptionStatus,
		"subscription_ends_at": u.SubscriptionEndsAt,
		"active":               u.Active,
		"created_at":           u.CreatedAt,
		"updated_at":           u.UpdatedAt,
	}
	if u.Plan != nil {
		out["plan"] = gin.H{
			"id":   u.Plan.ID,
			"tier": u.Plan.Tier,
			"name": u.Plan.Name,
		}
	}
	return out
}
