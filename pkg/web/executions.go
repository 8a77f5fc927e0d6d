package web

import (
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/services"
	"github.com/gofiber/fiber/v3"
)

func (h *APIHandlers) GetExecutions(c fiber.Ctx) error {
	limit, offset, err := parsePage(c)
	if err != nil {
		return badRequest(c, "Invalid query parameters: "+err.Error())
	}

	result, err := h.executionService.List(c.Context(), services.ListExecutionsRequest{
		Limit:      limit,
		Offset:     offset,
		WorkflowID: c.Query("workflow_id"),
		EntityType: c.Query("entity_type"),
		EntityID:   c.Query("entity_id"),
		EventID:    c.Query("event_id"),
		Status:     c.Query("status"),
	})
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	execution, err := h.executionService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

// TriggerEvent runs the engine synchronously for one domain event and returns the ledger rows
// it wrote. Duplicates and depth-limited events produce an empty list.
func (h *APIHandlers) TriggerEvent(c fiber.Ctx) error {
	var req TriggerEventRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	executions, err := h.runner.Trigger(c.Context(), req.TriggerRequest())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(TriggerEventResponse{
		Executions: executions,
		Count:      len(executions),
	})
}

// ContinueExecution applies an approval decision to a paused execution and returns the
// execution as stored afterwards.
func (h *APIHandlers) ContinueExecution(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	var req ContinueExecutionRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	if err := h.runner.ContinueExecution(c.Context(), id, req.Task, req.Decision); err != nil {
		return handleServiceError(c, err)
	}

	execution, err := h.executionService.FetchByID(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}
