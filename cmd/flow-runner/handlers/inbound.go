package handlers

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/tessera-ai/flowengine/cmd/flow-runner/container"
	"github.com/tessera-ai/flowengine/engine/services"
)

// InboundHandler routes platform messages to pending waits
type InboundHandler struct {
	container *container.Container
}

// NewInboundHandler creates a new inbound message handler
func NewInboundHandler(c *container.Container) *InboundHandler {
	return &InboundHandler{container: c}
}

// Deliver hands an inbound platform message to the wait coordinator.
// POST /api/v1/inbound
//
// Returns whether a pending wait consumed the message so platform adapters
// can fall back to their default handling for unclaimed traffic.
func (h *InboundHandler) Deliver(c echo.Context) error {
	var msg services.InboundMessage
	if err := c.Bind(&msg); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("malformed inbound message", err))
	}
	if msg.Channel == "" || msg.Sender == "" {
		return c.JSON(http.StatusBadRequest, errorBody("channel and sender are required", nil))
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	consumed := h.container.Engine.DeliverInbound(c.Request().Context(), &msg)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"message_id": msg.MessageID,
		"consumed":   consumed,
	})
}

// PendingWaits reports how many waits are parked, optionally per execution.
// GET /api/v1/inbound/pending?execution_id=…
func (h *InboundHandler) PendingWaits(c echo.Context) error {
	if executionID := c.QueryParam("execution_id"); executionID != "" {
		return c.JSON(http.StatusOK, map[string]interface{}{
			"execution_id": executionID,
			"pending":      h.container.Waits.PendingFor(executionID),
		})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"pending": h.container.Waits.Pending(),
	})
}
