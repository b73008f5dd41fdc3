package web

import (
	"errors"

	"github.com/dukex/capgraph/pkg/persistence"
	"github.com/dukex/capgraph/pkg/registry"
	"github.com/dukex/capgraph/pkg/resolver"
	"github.com/dukex/capgraph/pkg/workflow"
	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
)

func problem(c fiber.Ctx, status int, typ, detail string) error {
	p := problems.NewStatusProblem(status).
		WithInstance(c.Path()).
		WithType(typ).
		WithDetail(detail)

	return c.Status(status).JSON(p)
}

func badRequest(c fiber.Ctx, detail string) error {
	return problem(c, fiber.StatusBadRequest, "validation_error", detail)
}

func internalError(c fiber.Ctx, err error) error {
	p := problems.NewStatusProblem(fiber.StatusInternalServerError).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(p)
}

// handleError maps resolution and persistence errors to problem responses.
func handleError(c fiber.Ctx, err error) error {
	var validationErr *resolver.ValidationError

	switch {
	case errors.As(err, &validationErr):
		return problem(c, fiber.StatusUnprocessableEntity, "invalid_workflow", err.Error())

	case errors.Is(err, registry.ErrUnknownNodeType):
		return problem(c, fiber.StatusNotFound, "node_type_not_found", err.Error())

	case errors.Is(err, registry.ErrUnknownNodeVersion):
		return problem(c, fiber.StatusNotFound, "node_version_not_found", err.Error())

	case persistence.IsWorkflowNotFound(err):
		return problem(c, fiber.StatusNotFound, "workflow_not_found", "workflow not found")

	case persistence.IsInvalidWorkflow(err):
		return problem(c, fiber.StatusUnprocessableEntity, "invalid_workflow_definition", err.Error())

	case errors.Is(err, resolver.ErrUnknownNode), errors.Is(err, workflow.ErrNotExecutable):
		return problem(c, fiber.StatusBadRequest, "invalid_root_node", err.Error())

	case resolver.IsCyclicCapabilityDependency(err):
		return problem(c, fiber.StatusUnprocessableEntity, "cyclic_capability_dependency", err.Error())

	case resolver.IsCapabilityConstructionFailure(err):
		return problem(c, fiber.StatusBadGateway, "capability_construction_failure", err.Error())

	case resolver.IsMissingRequiredCapability(err), resolver.IsTooManyConnections(err):
		return problem(c, fiber.StatusUnprocessableEntity, "invalid_workflow", err.Error())

	default:
		return internalError(c, err)
	}
}
