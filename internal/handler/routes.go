package handler

import (
	"github.com/aionloyalty/aion/internal/middleware"
	"github.com/gin-gonic/gin"
)

// Tap endpoints, kept at the root for tags provisioned with the short URL
const (
	TapPath    = "/verify-tap"
	TapAPIPath = "/api/v1/verify-tap"
)

// Routes wires every handler onto a router
type Routes struct {
	Tap         *TapHandler
	Auth        *AuthHandler
	Reward      *RewardHandler
	Health      *HealthHandler
	RequireAuth gin.HandlerFunc
	CORSOrigins []string
}

// Register mounts the routes on router
func (r Routes) Register(router *gin.Engine) {
	router.Use(middleware.CORS(r.CORSOrigins, TapPath, TapAPIPath))

	router.GET("/health", r.Health.Health)

	router.Any(TapPath, r.Tap.VerifyTap)
	router.Any(TapAPIPath, r.Tap.VerifyTap)

	api := router.Group("/api/v1")
	{
		// Auth routes (public)
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", r.Auth.Register)
			authGroup.POST("/login", r.Auth.Login)
			authGroup.POST("/google", r.Auth.GoogleLogin)
		}

		// Protected routes
		protected := api.Group("")
		protected.Use(r.RequireAuth)
		{
			protected.POST("/auth/logout", r.Auth.Logout)
			protected.GET("/auth/profile", r.Auth.GetProfile)

			protected.POST("/rewards/claim", r.Reward.Claim)
			protected.GET("/rewards/cards", r.Reward.Cards)
		}
	}
}
