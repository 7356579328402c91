package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/tessera-ai/flowengine/cmd/flow-runner/consumer"
	"github.com/tessera-ai/flowengine/cmd/flow-runner/container"
	"github.com/tessera-ai/flowengine/engine/events"
	"github.com/tessera-ai/flowengine/engine/execution"
	"github.com/tessera-ai/flowengine/engine/flow"
	"github.com/tessera-ai/flowengine/engine/flowerr"
)

// ExecutionHandler handles execution lifecycle requests
type ExecutionHandler struct {
	container *container.Container
}

// NewExecutionHandler creates a new execution handler
func NewExecutionHandler(c *container.Container) *ExecutionHandler {
	return &ExecutionHandler{container: c}
}

// submitRequest is the body for execution submission
type submitRequest struct {
	Flow      *flow.Flow             `json:"flow"`
	OwnerID   string                 `json:"owner_id,omitempty"`
	Input     map[string]interface{} `json:"input,omitempty"`
	Trigger   map[string]interface{} `json:"trigger,omitempty"`
	TimeoutMs int64                  `json:"timeout_ms,omitempty"`
	Async     bool                   `json:"async,omitempty"`
}

// Submit runs a flow.
// POST /api/v1/executions
//
// Synchronous submissions block until the execution reaches a terminal
// state and return the full snapshot. Async submissions enqueue the job
// and return 202 with the execution ID to poll or stream.
func (h *ExecutionHandler) Submit(c echo.Context) error {
	var req submitRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("malformed request body", err))
	}
	if req.Flow == nil {
		return c.JSON(http.StatusBadRequest, errorBody("flow is required", nil))
	}

	ownerID := req.OwnerID
	if ownerID == "" {
		ownerID = c.Request().Header.Get("X-Owner-ID")
	}

	if req.Async {
		return h.submitAsync(c, &req, ownerID)
	}

	opts := execution.Options{
		OwnerID: ownerID,
		Input:   req.Input,
		Trigger: req.Trigger,
	}
	if req.TimeoutMs > 0 {
		opts.Timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}

	snap, err := h.container.Engine.Execute(c.Request().Context(), req.Flow, opts)
	if err != nil {
		var fe *flowerr.Error
		if snap == nil && errors.As(err, &fe) && fe.Kind == flowerr.KindValidation {
			return c.JSON(http.StatusBadRequest, errorBody(fe.Message, nil))
		}
		if snap == nil {
			return c.JSON(http.StatusInternalServerError, errorBody("execution failed to start", err))
		}
		// Terminal failure still returns the snapshot so callers see records
	}

	return c.JSON(http.StatusOK, snap)
}

// submitAsync enqueues the execution and acknowledges immediately
func (h *ExecutionHandler) submitAsync(c echo.Context, req *submitRequest, ownerID string) error {
	job := consumer.Job{
		ExecutionID: uuid.NewString(),
		OwnerID:     ownerID,
		Flow:        req.Flow,
		Input:       req.Input,
		Trigger:     req.Trigger,
		TimeoutMs:   req.TimeoutMs,
	}

	payload, err := json.Marshal(job)
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody("flow is not serializable", err))
	}
	if err := h.container.Queue.Publish(c.Request().Context(), consumer.TopicSubmitted, job.ExecutionID, payload); err != nil {
		return c.JSON(http.StatusServiceUnavailable, errorBody("submission queue unavailable", err))
	}

	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"execution_id": job.ExecutionID,
		"status":       "accepted",
	})
}

// Get returns the execution snapshot, live when running, stored otherwise.
// GET /api/v1/executions/:id
func (h *ExecutionHandler) Get(c echo.Context) error {
	id := c.Param("id")

	snap, err := h.container.Engine.GetExecution(c.Request().Context(), id)
	if err != nil {
		return c.JSON(http.StatusNotFound, errorBody("execution not found", err))
	}
	return c.JSON(http.StatusOK, snap)
}

// Status serves the mirrored status snapshot without touching the database,
// falling back to the store when the mirror has expired.
// GET /api/v1/executions/:id/status
func (h *ExecutionHandler) Status(c echo.Context) error {
	id := c.Param("id")
	ctx := c.Request().Context()

	if snapshot, err := events.ReadStatus(ctx, h.container.Components.Redis, id); err == nil {
		return c.JSON(http.StatusOK, snapshot)
	}

	snap, err := h.container.Engine.GetExecution(ctx, id)
	if err != nil {
		return c.JSON(http.StatusNotFound, errorBody("execution not found", err))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"execution_id": snap.ID,
		"flow_id":      snap.FlowID,
		"status":       string(snap.Status),
		"error":        snap.Error,
	})
}

// List returns recent executions for an owner.
// GET /api/v1/executions?owner_id=acme-support&limit=20
func (h *ExecutionHandler) List(c echo.Context) error {
	ownerID := c.QueryParam("owner_id")
	if ownerID == "" {
		ownerID = c.Request().Header.Get("X-Owner-ID")
	}
	if ownerID == "" {
		return c.JSON(http.StatusBadRequest, errorBody("owner_id is required", nil))
	}

	limit := 50
	if raw := c.QueryParam("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	execs, err := h.container.Store.ListByOwner(c.Request().Context(), ownerID, limit)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody("listing failed", err))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"executions": execs,
		"count":      len(execs),
	})
}

// Cancel aborts a running execution.
// POST /api/v1/executions/:id/cancel
func (h *ExecutionHandler) Cancel(c echo.Context) error {
	id := c.Param("id")

	var body struct {
		Reason string `json:"reason,omitempty"`
	}
	_ = c.Bind(&body)

	if err := h.container.Engine.Cancel(id, body.Reason); err != nil {
		return c.JSON(http.StatusNotFound, errorBody("execution is not running", err))
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"execution_id": id,
		"status":       "cancelling",
	})
}

// ListActive returns IDs of currently running executions.
// GET /api/v1/executions/active
func (h *ExecutionHandler) ListActive(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]interface{}{
		"executions": h.container.Engine.ListActive(),
	})
}

// errorBody builds a uniform error response
func errorBody(message string, err error) map[string]interface{} {
	body := map[string]interface{}{"error": message}
	if err != nil {
		body["detail"] = err.Error()
	}
	return body
}
