// Package web provides HTTP request and response types for the capability host API.
package web

import (
	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/registry"
)

// ValidateWorkflowRequest is the body of POST /workflows/validate.
type ValidateWorkflowRequest struct {
	Workflow *models.Workflow `json:"workflow" validate:"required"`
}

// ExecuteWorkflowRequest is the body of POST /workflows/execute.
type ExecuteWorkflowRequest struct {
	Workflow *models.Workflow `json:"workflow" validate:"required"`
	Node     string           `json:"node"     validate:"required"`
	Items    []map[string]any `json:"items"`
}

// ExecuteStoredWorkflowRequest is the body of POST /workflows/:id/execute.
type ExecuteStoredWorkflowRequest struct {
	Node  string           `json:"node"  validate:"required"`
	Items []map[string]any `json:"items"`
}

// ValidationResponse reports the outcome of a graph validation.
type ValidationResponse struct {
	Valid    bool     `json:"valid"`
	Problems []string `json:"problems,omitempty"`
}

// NodeTypeResponse describes one version of a node type.
type NodeTypeResponse struct {
	Name           string                 `json:"name"`
	Version        int                    `json:"version"`
	Versions       []int                  `json:"versions"`
	DefaultVersion int                    `json:"default_version"`
	SubNode        bool                   `json:"sub_node"`
	Description    models.NodeDescription `json:"description"`
}

// TransformNodeType builds the response for a resolved implementation.
func TransformNodeType(impl *registry.Implementation, versions []int, defaultVersion int) NodeTypeResponse {
	return NodeTypeResponse{
		Name:           impl.TypeID,
		Version:        impl.Version,
		Versions:       versions,
		DefaultVersion: defaultVersion,
		SubNode:        impl.Description.IsSubNode(),
		Description:    impl.Description,
	}
}

func toItems(raw []map[string]any) []models.Item {
	items := make([]models.Item, len(raw))

	for i, obj := range raw {
		if inner, ok := obj["json"].(map[string]any); ok && len(obj) == 1 {
			obj = inner
		}

		items[i] = models.Item{JSON: obj}
	}

	return items
}
