package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/cardforge/cardforge/internal/entitlement"
	"github.com/cardforge/cardforge/internal/models"
	"github.com/cardforge/cardforge/internal/ratelimit"
	"github.com/cardforge/cardforge/internal/renderer"
	"github.com/cardforge/cardforge/internal/tasks"
	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// genericSubmitError hides upstream renderer internals from end users.
const genericSubmitError = "Generation failed, please try again."

// GenerateHandler handles card generation submissions.
type GenerateHandler struct {
	db      *gorm.DB
	engine  *entitlement.Engine
	ledger  *tasks.Ledger
	render  *renderer.Client
	limiter *ratelimit.Manager
}

// NewGenerateHandler constructs a GenerateHandler.
func NewGenerateHandler(db *gorm.DB, engine *entitlement.Engine, ledger *tasks.Ledger, render *renderer.Client, limiter *ratelimit.Manager) *GenerateHandler {
	return &GenerateHandler{db: db, engine: engine, ledger: ledger, render: render, limiter: limiter}
}

// generateRequest captures the payload for starting a generation.
type generateRequest struct {
	CardType string          `json:"card_type"` // Card template category.
	Params   json.RawMessage `json:"params"`    // Render parameters, passed through.
}

// Generate admits, records, and submits one card generation job.
func (h *GenerateHandler) Generate(c *gin.Context) {
	var body generateRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if strings.TrimSpace(body.CardType) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "card_type is required"})
		return
	}

	userID := getUserID(c)

	if !h.allowRate(c, userID) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
		return
	}

	priority := false
	if userID != 0 {
		reserve, errReserve := h.engine.ReserveGeneration(c.Request.Context(), userID)
		if errReserve != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "entitlement check failed"})
			return
		}
		if !reserve.Admitted {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": reserve.Message})
			return
		}
		decision, errCheck := h.engine.CheckFeature(c.Request.Context(), userID, models.FeaturePriorityRendering)
		if errCheck == nil {
			priority = decision.Allowed
		}
	}

	var owner *uint64
	if userID != 0 {
		owner = &userID
	}
	task, errCreate := h.ledger.Create(c.Request.Context(), owner, body.CardType, datatypes.JSON(body.Params))
	if errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create task failed"})
		return
	}

	externalID, errSubmit := h.render.Submit(c.Request.Context(), renderer.SubmitRequest{
		CardID:   task.CardID,
		CardType: task.CardType,
		Params:   body.Params,
		Priority: priority,
	})
	if errSubmit != nil {
		log.WithError(errSubmit).WithField("card_id", task.CardID).Warn("renderer submission failed")
		if errMark := h.ledger.MarkSubmitFailed(c.Request.Context(), task.CardID, errSubmit.Error()); errMark != nil {
			log.WithError(errMark).WithField("card_id", task.CardID).Warn("failed to mark task failed")
		}
		c.JSON(http.StatusBadGateway, gin.H{"card_id": task.CardID, "error": genericSubmitError})
		return
	}

	if errAttach := h.ledger.AttachExternalID(c.Request.Context(), task.CardID, externalID); errAttach != nil {
		log.WithError(errAttach).WithField("card_id", task.CardID).Error("failed to attach external task id")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "record task failed"})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"card_id": task.CardID,
		"status":  models.TaskStatusProcessing,
	})
}

func (h *GenerateHandler) allowRate(c *gin.Context, userID uint64) bool {
	if h.limiter == nil {
		return true
	}
	limit := ratelimit.DefaultSettingsLimit()
	if limit <= 0 {
		return true
	}
	key := ratelimit.KeyForUser(userID)
	if key == "" {
		key = ratelimit.KeyForIP(c.ClientIP())
	}
	result, errAllow := h.limiter.Allow(c.Request.Context(), key, limit)
	if errAllow != nil {
		// Fail open on limiter faults, quota enforcement still applies.
		return true
	}
	return result.Allowed
}
