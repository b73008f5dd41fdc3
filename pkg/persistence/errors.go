package persistence

import (
	"errors"
	"fmt"
)

var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrInvalidWorkflow indicates a stored workflow definition that cannot be decoded.
	ErrInvalidWorkflow = errors.New("invalid workflow definition")

	// ErrUnsupportedFormat indicates a workflow file whose extension is neither JSON nor YAML.
	ErrUnsupportedFormat = errors.New("unsupported workflow file format")
)

// WorkflowError records which storage operation failed for which workflow.
type WorkflowError struct {
	Op         string
	WorkflowID string
	Path       string // file or key backing the workflow, when known
	Err        error
}

func (e *WorkflowError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s workflow %s (%s): %v", e.Op, e.WorkflowID, e.Path, e.Err)
	}

	return fmt.Sprintf("%s workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{Op: op, WorkflowID: workflowID, Err: err}
}

// WithPath returns a copy of the error naming the backing file or key.
func (e *WorkflowError) WithPath(path string) *WorkflowError {
	c := *e
	c.Path = path

	return &c
}

func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsInvalidWorkflow reports whether a definition was rejected as malformed or incomplete.
func IsInvalidWorkflow(err error) bool {
	return errors.Is(err, ErrInvalidWorkflow) || errors.Is(err, ErrUnsupportedFormat)
}
