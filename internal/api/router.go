// Package api provides the HTTP API for the Roam backend.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Router wraps the Gin engine with Roam handlers.
type Router struct {
	engine  *gin.Engine
	handler *Handler
}

// NewRouter creates a new API router.
func NewRouter(handler *Handler) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	// Middleware
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	r := &Router{
		engine:  engine,
		handler: handler,
	}

	r.setupRoutes()

	return r
}

// setupRoutes configures all API routes.
func (r *Router) setupRoutes() {
	// Health check
	r.engine.GET("/health", r.handler.HealthCheck)

	// Hotspot discovery and admin
	hotspots := r.engine.Group("/hotspots")
	{
		hotspots.GET("", r.handler.ListHotspots)
		hotspots.GET("/:id", r.handler.GetHotspot)
		hotspots.POST("", r.handler.CreateHotspot)
	}

	// Mobile client API
	api := r.engine.Group("/api")
	{
		payments := api.Group("/payments")
		{
			payments.POST("/create-intent", r.handler.CreateIntent)
			payments.POST("/webhook", r.handler.Webhook)
		}

		session := api.Group("/session")
		{
			session.POST("/create", r.handler.CreateSession)
			session.GET("/validate", r.handler.ValidateSession)
			session.POST("/extend", r.handler.ExtendSession)
			session.DELETE("/:token", r.handler.InvalidateSession)
		}

		// Edge device provisioning
		api.POST("/register-device", r.handler.RegisterDevice)
		api.POST("/heartbeat", r.handler.DeviceHeartbeat)
	}

	// Edge device liveness
	r.engine.GET("/healthcheck", r.handler.Heartbeat)
	r.engine.GET("/healthcheck/status", r.handler.DeviceStatus)
	r.engine.GET("/healthcheck/devices", r.handler.AllDevices)
}

// Engine returns the underlying Gin engine.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// ServeHTTP implements http.Handler.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.engine.ServeHTTP(w, req)
}

// corsMiddleware adds CORS headers.
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Authorization, Stripe-Signature")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
