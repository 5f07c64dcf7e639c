package main

import (
	"fleet-dispatch/internal/httpapi"
	"fleet-dispatch/internal/rbac"

	"github.com/gin-gonic/gin"
)

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, h httpapi.Handlers, authMW gin.HandlerFunc) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	// Provider webhooks (public).
	// NOTE: This endpoint should be protected by provider signature validation
	// in production; Voxio does not sign payloads yet.
	r.POST("/webhooks/voxio/call", h.ProviderWebhook)

	// Token issuance (placeholder credential check; see Handlers.Login).
	r.POST("/auth/login", h.Login)

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(authMW)
	{
		// BATCH routes: upload and inspection.
		batches := v1.Group("/batches")
		batches.Use(httpapi.RequireOperatorAnyRole(rbac.RoleDispatcher, rbac.RoleSupervisor, rbac.RoleSuperAdmin)...)
		{
			batches.POST("", h.CreateBatch)
			batches.GET("/:batch_id", h.GetBatch)
			batches.GET("/:batch_id/summary", h.BatchSummary)
		}

		// DISPATCH trigger: the big red button, dispatcher and up.
		v1.POST("/dispatch",
			append(httpapi.RequireOperatorAnyRole(rbac.RoleDispatcher, rbac.RoleSupervisor, rbac.RoleSuperAdmin), h.TriggerDispatch)...)

		// JOB routes: per-call actions and the flat history log.
		jobs := v1.Group("/jobs")
		jobs.Use(httpapi.RequireOperatorAnyRole(rbac.RoleDispatcher, rbac.RoleSupervisor, rbac.RoleAnalyst, rbac.RoleSuperAdmin)...)
		{
			jobs.GET("/history", h.JobHistory)
			jobs.POST("/stop", h.StopJob)
			jobs.POST("/transcript", h.FetchTranscript)
		}
	}
}
