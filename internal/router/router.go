package router

import (
	"github.com/gin-gonic/gin"

	"github.com/carepath/pdc-engine/internal/handlers"
	"github.com/carepath/pdc-engine/internal/middleware"
)

// Router configures the engine's admin/ops HTTP surface.
type Router struct {
	pdcHandler *handlers.PDCHandler
}

// NewRouter builds a Router around the PDC admin handler.
func NewRouter(pdcHandler *handlers.PDCHandler) *Router {
	return &Router{pdcHandler: pdcHandler}
}

// SetupRoutes configures every admin/ops route (spec §6, SPEC_FULL.md
// DOMAIN STACK).
func (r *Router) SetupRoutes() *gin.Engine {
	engine := gin.New()

	engine.Use(middleware.CORS())
	engine.Use(middleware.Logger())
	engine.Use(middleware.Recovery())

	engine.GET("/healthz", r.pdcHandler.Healthz)

	apiV1 := engine.Group("/api/v1")
	{
		apiV1.POST("/patients/:id/recalculate", r.pdcHandler.Recalculate)
		apiV1.POST("/patients/:id/rebuild-summary", r.pdcHandler.RebuildSummary)
		apiV1.POST("/batch/run", r.pdcHandler.TriggerBatch)
		apiV1.GET("/batch/runs/:id", r.pdcHandler.BatchRunStatus)
	}

	return engine
}
