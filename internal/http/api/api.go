// Package api wires the HTTP routes, middleware and handlers.
package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/raevmood/devicefinder/internal/config"
	"github.com/raevmood/devicefinder/internal/http/api/handlers"
	"github.com/raevmood/devicefinder/internal/models"
	"github.com/raevmood/devicefinder/internal/security"
	"gorm.io/gorm"
)

// Services are the collaborators the routes dispatch to. Nil services leave
// their routes unregistered.
type Services struct {
	DB           *gorm.DB
	JWT          config.JWTConfig
	Quota        handlers.QuotaReporter
	Agents       []handlers.Recommender
	Chat         handlers.ChatService
	Ingest       handlers.IngestRunner
	Settings     handlers.SettingsRefresher
	// IngestAPIKey guards the ingestion and settings routes.
	IngestAPIKey string
	Version      string
}

// NewRouter builds a gin engine with the standard middleware and all routes.
func NewRouter(svc Services) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestIDMiddleware(), accessLogMiddleware())
	RegisterRoutes(r, svc)
	return r
}

// RegisterRoutes registers public, authenticated and key-protected routes.
func RegisterRoutes(r *gin.Engine, svc Services) {
	if r == nil || svc.DB == nil {
		return
	}

	statusHandler := handlers.NewStatusHandler(svc.Version)
	r.GET("/", statusHandler.Status)

	healthHandler := handlers.NewHealthHandler(svc.DB)
	r.GET("/healthz", healthHandler.Healthz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/categories", handlers.Categories)

	authHandler := handlers.NewAuthHandler(svc.DB, svc.JWT, svc.Quota)
	authGroup := r.Group("/auth")
	authGroup.POST("/register", authHandler.Register)
	authGroup.POST("/login", authHandler.Login)

	authed := r.Group("")
	authed.Use(userAuthMiddleware(svc.DB, svc.JWT))
	authed.GET("/auth/me", authHandler.Me)

	for _, recommender := range svc.Agents {
		if recommender == nil {
			continue
		}
		agentHandler := handlers.NewAgentHandler(recommender)
		authed.POST(recommender.Category().Route, agentHandler.Recommend)
	}

	if svc.Chat != nil {
		chatHandler := handlers.NewChatHandler(svc.Chat)
		authed.POST("/chat", chatHandler.Chat)
		authed.GET("/chat/history", chatHandler.History)
		authed.DELETE("/chat/history", chatHandler.ClearHistory)
	}

	operator := r.Group("")
	operator.Use(handlers.RequireAPIKey(svc.IngestAPIKey))

	if svc.Ingest != nil {
		ingestHandler := handlers.NewIngestHandler(svc.Ingest)
		operator.POST("/ingest_daily_data", ingestHandler.Trigger)
		operator.GET("/ingest_daily_data/status", ingestHandler.Status)
	}

	settingHandler := handlers.NewSettingHandler(svc.DB, svc.Settings)
	operator.GET("/admin/settings", settingHandler.List)
	operator.GET("/admin/settings/:key", settingHandler.Get)
	operator.PUT("/admin/settings/:key", settingHandler.Update)
	operator.DELETE("/admin/settings/:key", settingHandler.Reset)
}

// userAuthMiddleware validates user JWTs and loads the user into context.
func userAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseUserToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		var user models.User
		if errFind := db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		if !user.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user disabled"})
			return
		}

		c.Set(handlers.ContextUserID, user.ID)
		c.Set(handlers.ContextUsername, user.Username)
		c.Next()
	}
}
