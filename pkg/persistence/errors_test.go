package persistence_test

import (
	"errors"
	"testing"

	"github.com/dukex/capgraph/pkg/persistence"
	"github.com/stretchr/testify/assert"
)

func TestWorkflowError(t *testing.T) {
	t.Parallel()

	t.Run("unwraps to the sentinel", func(t *testing.T) {
		err := persistence.NewWorkflowError("Load", "workflow-123", persistence.ErrWorkflowNotFound)

		assert.True(t, persistence.IsWorkflowNotFound(err))
		assert.True(t, errors.Is(err, persistence.ErrWorkflowNotFound))
		assert.False(t, errors.Is(err, persistence.ErrInvalidWorkflow))
	})

	t.Run("message contains context", func(t *testing.T) {
		err := persistence.NewWorkflowError("Save", "workflow-123", persistence.ErrUnsupportedFormat)

		assert.Equal(t, "Save workflow workflow-123: unsupported workflow file format", err.Error())
		assert.Equal(t, "Save workflow workflow-123 (data/w.toml): unsupported workflow file format",
			err.WithPath("data/w.toml").Error())
		assert.Empty(t, err.Path)
	})

	t.Run("invalid definitions", func(t *testing.T) {
		assert.True(t, persistence.IsInvalidWorkflow(persistence.NewWorkflowError("Load", "w", persistence.ErrUnsupportedFormat)))
		assert.True(t, persistence.IsInvalidWorkflow(persistence.NewWorkflowError("Save", "w", persistence.ErrInvalidWorkflow)))
		assert.False(t, persistence.IsInvalidWorkflow(persistence.ErrWorkflowNotFound))
	})

	t.Run("wrapped errors are reachable through As", func(t *testing.T) {
		err := errors.Join(errors.New("other"), persistence.NewWorkflowError("Delete", "w", persistence.ErrWorkflowNotFound))

		var workflowErr *persistence.WorkflowError
		assert.ErrorAs(t, err, &workflowErr)
		assert.Equal(t, "Delete", workflowErr.Op)
	})
}
