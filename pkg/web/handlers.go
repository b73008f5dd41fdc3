// Package web provides the HTTP API of the capability host: node type introspection,
// workflow validation and execution.
package web

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/registry"
	"github.com/dukex/capgraph/pkg/resolver"
	"github.com/dukex/capgraph/pkg/workflow"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
)

type APIHandlers struct {
	registry   *registry.Registry
	executor   *workflow.Executor
	repository *workflow.Repository
	validator  *validator.Validate
	logger     *slog.Logger
}

// NewAPIHandlers creates the handlers. repository may be nil, in which case the stored
// workflow endpoints answer 404 and the health check only reports the registry.
func NewAPIHandlers(
	registry *registry.Registry,
	executor *workflow.Executor,
	repository *workflow.Repository,
	validator *validator.Validate,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		registry:   registry,
		executor:   executor,
		repository: repository,
		validator:  validator,
		logger:     logger.With("module", "api"),
	}
}

func (h *APIHandlers) GetNodeTypes(c fiber.Ctx) error {
	return c.JSON(h.registry.NodeTypes())
}

func (h *APIHandlers) GetNodeType(c fiber.Ctx) error {
	id := c.Params("type")

	var pinned *int

	if v := c.Query("version"); v != "" {
		version, err := strconv.Atoi(v)
		if err != nil {
			return badRequest(c, "version must be an integer")
		}

		pinned = &version
	}

	versions, err := h.registry.Versions(id)
	if err != nil {
		return handleError(c, err)
	}

	def, err := h.registry.ResolveImplementation(id, nil)
	if err != nil {
		return handleError(c, err)
	}

	impl := def
	if pinned != nil {
		impl, err = h.registry.ResolveImplementation(id, pinned)
		if err != nil {
			return handleError(c, err)
		}
	}

	return c.JSON(TransformNodeType(impl, versions, def.Version))
}

func (h *APIHandlers) ValidateWorkflow(c fiber.Ctx) error {
	var req ValidateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	_, err := h.executor.Validate(req.Workflow)
	if err == nil {
		return c.JSON(ValidationResponse{Valid: true})
	}

	var validationErr *resolver.ValidationError
	if !errors.As(err, &validationErr) {
		return handleError(c, err)
	}

	resp := ValidationResponse{Problems: make([]string, 0, len(validationErr.Problems))}
	for _, p := range validationErr.Problems {
		resp.Problems = append(resp.Problems, p.Error())
	}

	return c.Status(fiber.StatusUnprocessableEntity).JSON(resp)
}

func (h *APIHandlers) ExecuteWorkflow(c fiber.Ctx) error {
	var req ExecuteWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	return h.execute(c, req.Workflow, req.Node, req.Items)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	if h.repository == nil {
		return c.JSON([]*models.Workflow{})
	}

	workflows, err := h.repository.FetchAll(c.Context())
	if err != nil {
		return handleError(c, err)
	}

	return c.JSON(workflows)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	wf, err := h.stored(c)
	if err != nil {
		return err
	}

	if wf == nil {
		return nil
	}

	return c.JSON(wf)
}

func (h *APIHandlers) ExecuteStoredWorkflow(c fiber.Ctx) error {
	var req ExecuteStoredWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	wf, err := h.stored(c)
	if err != nil || wf == nil {
		return err
	}

	return h.execute(c, wf, req.Node, req.Items)
}

// stored writes the error response itself and returns a nil workflow when the lookup fails.
func (h *APIHandlers) stored(c fiber.Ctx) (*models.Workflow, error) {
	id := c.Params("id")
	if id == "" {
		return nil, badRequest(c, "Workflow ID is required")
	}

	if h.repository == nil {
		return nil, problem(c, fiber.StatusNotFound, "workflow_not_found", "workflow not found")
	}

	wf, err := h.repository.FetchByID(c.Context(), id)
	if err != nil {
		return nil, handleError(c, err)
	}

	return wf, nil
}

func (h *APIHandlers) execute(c fiber.Ctx, wf *models.Workflow, node string, raw []map[string]any) error {
	result, err := h.executor.Execute(c.Context(), wf, node, toItems(raw))
	if err != nil {
		h.logger.WarnContext(c.Context(), "Workflow execution failed", "workflow_id", wf.ID, "node_id", node, "error", err)

		return handleError(c, err)
	}

	return c.JSON(result)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	nodeTypes := len(h.registry.NodeTypes())
	regOk := nodeTypes > 0

	checkers := fiber.Map{
		"registry": strconv.Itoa(nodeTypes) + " node types registered",
	}

	repOk := true

	if h.repository != nil {
		var repositoryCheck string

		repositoryCheck, repOk = h.repository.HealthCheck(c.Context())
		checkers["repository"] = repositoryCheck
	}

	status := "unhealthy"
	message := "capgraph is unhealthy"
	httpStatus := http.StatusInternalServerError

	if regOk && repOk {
		status = "healthy"
		message = "capgraph is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":    status,
		"message":   message,
		"checkers":  checkers,
		"timestamp": time.Now().UTC(),
	})
}
