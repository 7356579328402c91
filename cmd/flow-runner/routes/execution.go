package routes

import (
	"github.com/labstack/echo/v4"
	"github.com/tessera-ai/flowengine/cmd/flow-runner/container"
	"github.com/tessera-ai/flowengine/cmd/flow-runner/handlers"
	custommw "github.com/tessera-ai/flowengine/common/middleware"
)

// Submission limits per 60s window
const (
	globalSubmitLimit = 1000
	ownerSubmitLimit  = 60
)

// RegisterExecutionRoutes registers execution lifecycle routes
func RegisterExecutionRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewExecutionHandler(c)

	executions := e.Group("/api/v1/executions")
	{
		executions.POST("",
			h.Submit,
			custommw.GlobalRateLimitMiddleware(c.RateLimiter, globalSubmitLimit),
			custommw.OwnerRateLimitMiddleware(c.RateLimiter, ownerSubmitLimit),
		)
		executions.GET("", h.List)              // GET /api/v1/executions?owner_id=…
		executions.GET("/active", h.ListActive) // GET /api/v1/executions/active
		executions.GET("/:id", h.Get)           // GET /api/v1/executions/{execution_id}
		executions.GET("/:id/status", h.Status) // GET /api/v1/executions/{execution_id}/status
		executions.POST("/:id/cancel", h.Cancel)
	}
}

// RegisterInboundRoutes registers inbound message routes
func RegisterInboundRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewInboundHandler(c)

	inbound := e.Group("/api/v1/inbound")
	{
		inbound.POST("", h.Deliver)
		inbound.GET("/pending", h.PendingWaits)
	}
}
