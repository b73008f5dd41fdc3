package workflow

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/persistence"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var workflowValidator = validator.New(validator.WithRequiredStructEnabled())

// Repository reads and writes workflow definitions through a persistence layer.
type Repository struct {
	persistence persistence.Persistence
}

func NewRepository(persistence persistence.Persistence) *Repository {
	return &Repository{
		persistence: persistence,
	}
}

func (r *Repository) HealthCheck(ctx context.Context) (string, bool) {
	if r.persistence == nil {
		return "Persistence layer not initialized", false
	}

	if err := r.persistence.HealthCheck(ctx); err != nil {
		return "Persistence layer is unhealthy: " + err.Error(), false
	}

	return "Persistence layer is healthy", true
}

func (r *Repository) FetchAll(ctx context.Context) ([]*models.Workflow, error) {
	workflows, err := r.persistence.Workflows(ctx)
	if err != nil {
		return make([]*models.Workflow, 0), err
	}

	slices.SortFunc(workflows, func(a, b *models.Workflow) int {
		if c := strings.Compare(a.Name, b.Name); c != 0 {
			return c
		}

		return strings.Compare(a.ID, b.ID)
	})

	return workflows, nil
}

func (r *Repository) FetchByID(ctx context.Context, id string) (*models.Workflow, error) {
	workflow, err := r.persistence.WorkflowByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if workflow == nil {
		return nil, persistence.NewWorkflowError("FetchByID", id, persistence.ErrWorkflowNotFound)
	}

	return workflow, nil
}

// Save stores the workflow, generating an ID for new workflows. Definitions missing
// required fields are rejected with persistence.ErrInvalidWorkflow.
func (r *Repository) Save(ctx context.Context, workflow *models.Workflow) (*models.Workflow, error) {
	if workflow == nil {
		return nil, errors.New("workflow is nil")
	}

	if workflow.ID == "" {
		workflow.ID = uuid.NewString()
	}

	if err := workflowValidator.Struct(workflow); err != nil {
		return nil, persistence.NewWorkflowError("Save", workflow.ID, fmt.Errorf("%w: %w", persistence.ErrInvalidWorkflow, err))
	}

	if err := r.persistence.SaveWorkflow(ctx, workflow); err != nil {
		return nil, err
	}

	return workflow, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	return r.persistence.DeleteWorkflow(ctx, id)
}
