// Package file provides file-based persistence of workflow definitions.
package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/persistence"
)

var _ persistence.Persistence = (*Persistence)(nil)

// extensions are tried in order when looking a workflow up by ID.
var extensions = []string{".json", ".yaml", ".yml"}

// Persistence stores one workflow per file under {root}/workflows, named after the workflow ID.
// Workflows are read from JSON or YAML files and written as JSON.
type Persistence struct {
	root string
}

// NewPersistence creates a new instance of Persistence with the specified root directory.
func NewPersistence(root string) *Persistence {
	return &Persistence{root: strings.Replace(root, "file://", "", 1)}
}

func (fp *Persistence) dir() string {
	return filepath.Join(fp.root, "workflows")
}

// Close performs any necessary cleanup. For file-based persistence, there is nothing to clean up.
func (fp *Persistence) Close(_ context.Context) error {
	return nil
}

// HealthCheck verifies the root directory exists.
func (fp *Persistence) HealthCheck(_ context.Context) error {
	if _, err := os.Stat(fp.root); err != nil {
		return err
	}

	return nil
}

func (fp *Persistence) Workflows(ctx context.Context) ([]*models.Workflow, error) {
	entries, err := os.ReadDir(fp.dir())
	if errors.Is(err, fs.ErrNotExist) {
		return []*models.Workflow{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("failed to list workflow files: %w", err)
	}

	workflows := make([]*models.Workflow, 0, len(entries))

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		if _, err := FormatOf(entry.Name()); err != nil {
			continue
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		path := filepath.Join(fp.dir(), entry.Name())

		workflow, err := LoadWorkflow(path)
		if err != nil {
			id := strings.TrimSuffix(entry.Name(), filepath.Ext(entry.Name()))

			return nil, persistence.NewWorkflowError("Load", id, err).WithPath(path)
		}

		workflows = append(workflows, workflow)
	}

	sort.Slice(workflows, func(i, j int) bool { return workflows[i].ID < workflows[j].ID })

	return workflows, nil
}

func (fp *Persistence) WorkflowByID(_ context.Context, id string) (*models.Workflow, error) {
	path, err := fp.find(id)
	if err != nil {
		return nil, err
	}

	workflow, err := LoadWorkflow(path)
	if err != nil {
		return nil, persistence.NewWorkflowError("Load", id, err).WithPath(path)
	}

	if workflow.ID == "" {
		workflow.ID = id
	}

	return workflow, nil
}

// SaveWorkflow writes the workflow as JSON, replacing any existing definition with the same ID.
func (fp *Persistence) SaveWorkflow(_ context.Context, workflow *models.Workflow) error {
	if err := validID(workflow.ID); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	now := time.Now().UTC()
	if workflow.CreatedAt.IsZero() {
		workflow.CreatedAt = now
	}

	workflow.UpdatedAt = now

	data, err := EncodeWorkflow(workflow, FormatJSON)
	if err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	if err := os.MkdirAll(fp.dir(), 0o755); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	if err := fp.remove(workflow.ID); err != nil && !persistence.IsWorkflowNotFound(err) {
		return err
	}

	if err := os.WriteFile(filepath.Join(fp.dir(), workflow.ID+".json"), data, 0o600); err != nil {
		return persistence.NewWorkflowError("Save", workflow.ID, err)
	}

	return nil
}

func (fp *Persistence) DeleteWorkflow(_ context.Context, id string) error {
	return fp.remove(id)
}

func (fp *Persistence) remove(id string) error {
	path, err := fp.find(id)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil {
		return persistence.NewWorkflowError("Delete", id, err)
	}

	return nil
}

func (fp *Persistence) find(id string) (string, error) {
	if err := validID(id); err != nil {
		return "", persistence.NewWorkflowError("Find", id, err)
	}

	for _, ext := range extensions {
		path := filepath.Join(fp.dir(), id+ext)
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", persistence.NewWorkflowError("Find", id, persistence.ErrWorkflowNotFound)
}

func validID(id string) error {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return fmt.Errorf("invalid workflow id %q", id)
	}

	return nil
}
