package web

import (
	"errors"

	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/engine"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/persistence"
	"github.com/Chasonnnn/GenAI-assited-CRM-Tool-sub000/pkg/services"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

// handleServiceError maps service, persistence and engine errors to problem documents.
func handleServiceError(c fiber.Ctx, err error) error {
	var serviceErr *services.ServiceError

	switch {
	case services.IsValidationError(err):
		problemType := "validation_error"
		if errors.As(err, &serviceErr) && serviceErr.Code != "" {
			problemType = serviceErr.Code
		}

		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType(problemType).
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case errors.Is(err, engine.ErrInvalidTriggerRequest):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("invalid_trigger_request").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case persistence.IsWorkflowNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("workflow_not_found").
			WithDetail("workflow not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case persistence.IsExecutionNotFound(err):
		problem := problems.NewStatusProblem(404).
			WithInstance(c.Path()).
			WithType("execution_not_found").
			WithDetail("execution not found")

		return c.Status(fiber.StatusNotFound).JSON(problem)

	case errors.Is(err, engine.ErrExecutionRunning):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("execution_running").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case errors.Is(err, persistence.ErrInvalidID):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("invalid_id").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	default:
		problem := problems.NewStatusProblem(500).
			WithInstance(c.Path()).
			WithType("internal_error").
			WithError(err)

		return c.Status(fiber.StatusInternalServerError).JSON(problem)
	}
}
