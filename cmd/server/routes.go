package main

import (
	"github.com/feedrelay/feedrelay/internal/middleware"
	"github.com/feedrelay/feedrelay/pkg/logger"
	"github.com/gin-gonic/gin"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, svc *appServices) {
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	// Rate limiter for unauthenticated ingest routes
	receiptLimiter := middleware.NewRateLimiter(10, 20)

	r.GET("/health", svc.healthHandler.Check)

	api := r.Group("/api")
	{
		// Auth routes (public)
		api.POST("/auth/login", svc.authHandler.Login)

		// Receipt callbacks from the messaging platform (public, rate limited)
		api.POST("/dispatch/receipts", receiptLimiter.Middleware(), svc.dispatchHandler.Receipt)

		// Protected routes
		protected := api.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/auth/me", svc.authHandler.Me)
			protected.POST("/auth/change-password", svc.authHandler.ChangePassword)

			// Automations
			protected.GET("/automations", svc.automationHandler.List)
			protected.GET("/automations/:id", svc.automationHandler.GetByID)
			protected.POST("/automations", svc.automationHandler.Create)
			protected.PUT("/automations/:id", svc.automationHandler.Update)
			protected.DELETE("/automations/:id", svc.automationHandler.Delete)
			protected.POST("/automations/:id/state", svc.automationHandler.SetState)
			protected.POST("/automations/:id/enqueue-now", svc.automationHandler.EnqueueNow)
			protected.POST("/automations/dispatch-all", svc.automationHandler.DispatchAll)
			protected.GET("/automations/:id/diagnostics", svc.automationHandler.Diagnostics)

			// Feed sources
			protected.GET("/sources", svc.sourceHandler.List)
			protected.GET("/sources/:id", svc.sourceHandler.GetByID)
			protected.GET("/sources/:id/items", svc.sourceHandler.Items)
			protected.POST("/sources", svc.sourceHandler.Create)
			protected.PUT("/sources/:id", svc.sourceHandler.Update)
			protected.DELETE("/sources/:id", svc.sourceHandler.Delete)

			// Destinations
			protected.GET("/destinations", svc.destinationHandler.List)
			protected.GET("/destinations/:id", svc.destinationHandler.GetByID)
			protected.POST("/destinations", svc.destinationHandler.Create)
			protected.PUT("/destinations/:id", svc.destinationHandler.Update)
			protected.DELETE("/destinations/:id", svc.destinationHandler.Delete)

			// Dispatch queue
			protected.GET("/dispatch", svc.dispatchHandler.List)
			protected.GET("/dispatch/stats", svc.dispatchHandler.Stats)
			protected.POST("/dispatch/:id/skip", svc.dispatchHandler.Skip)
			protected.POST("/dispatch/:id/resume", svc.dispatchHandler.Resume)
			protected.POST("/dispatch/items/:id/skip", svc.dispatchHandler.SkipItem)
			protected.POST("/dispatch/clear-pending", svc.dispatchHandler.ClearPending)

			// Session lease (admin only for takeover)
			protected.GET("/session/lease", svc.leaseHandler.Status)
			protected.POST("/session/lease/takeover", middleware.AdminRequired(), svc.leaseHandler.ForceTakeover)
			protected.POST("/session/lease/release", middleware.AdminRequired(), svc.leaseHandler.Release)
		}
	}
}
