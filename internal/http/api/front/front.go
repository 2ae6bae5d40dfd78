package front

import (
	"net/http"
	"strings"

	"github.com/cardforge/cardforge/internal/config"
	"github.com/cardforge/cardforge/internal/entitlement"
	handlers "github.com/cardforge/cardforge/internal/http/api/front/handlers"
	"github.com/cardforge/cardforge/internal/ratelimit"
	"github.com/cardforge/cardforge/internal/renderer"
	"github.com/cardforge/cardforge/internal/security"
	"github.com/cardforge/cardforge/internal/tasks"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// RegisterFrontRoutes registers end-user routes, middleware, and handlers.
func RegisterFrontRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, engine *entitlement.Engine, ledger *tasks.Ledger, render *renderer.Client, limiter *ratelimit.Manager) {
	if r == nil || db == nil {
		return
	}

	group := r.Group("/v1")
	group.Use(userAuthMiddleware(jwtCfg))

	generateHandler := handlers.NewGenerateHandler(db, engine, ledger, render, limiter)
	group.POST("/cards/generate", generateHandler.Generate)

	cardHandler := handlers.NewCardHandler(ledger)
	group.GET("/cards/:id/status", cardHandler.Status)

	creditHandler := handlers.NewCreditHandler(engine)
	group.GET("/credits/claim", creditHandler.Peek)
	group.POST("/credits/claim", creditHandler.Claim)
	group.POST("/features/check", creditHandler.CheckFeature)

	planHandler := handlers.NewPlanFrontHandler(db)
	group.GET("/plans", planHandler.List)

	webhookHandler := handlers.NewWebhookHandler(ledger)
	group.POST("/webhooks/render", webhookHandler.HandleRenderCompletion)
}

// userAuthMiddleware loads the user identity from a bearer token when one is
// present. Anonymous requests pass through; a token that fails validation is
// rejected rather than silently downgraded.
func userAuthMiddleware(jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := strings.TrimSpace(c.GetHeader("Authorization"))
		if authHeader == "" {
			c.Next()
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}

		claims, errJWT := security.ParseUserToken(jwtCfg.Secret, strings.TrimSpace(token))
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set("userID", claims.UserID)
		c.Next()
	}
}
