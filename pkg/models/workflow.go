// Package models defines the core domain models for capability graph workflows.
package models

import "time"

// Connection connects two ports directly (fully normalized).
// Connections are authored with the workflow and never change while it executes.
type Connection struct {
	ID         string `json:"id"          yaml:"id"`
	SourcePort string `json:"source_port" yaml:"source_port" validate:"required"` // References "{node_id}:{port_name}"
	TargetPort string `json:"target_port" yaml:"target_port" validate:"required"` // References "{node_id}:{port_name}"
}

// Workflow is a graph of node instances and the connections between their ports.
type Workflow struct {
	ID          string          `json:"id"                     yaml:"id"          validate:"required"`
	Name        string          `json:"name"                   yaml:"name"        validate:"required,min=3"`
	Description string          `json:"description,omitempty"  yaml:"description,omitempty"`
	Nodes       []*WorkflowNode `json:"nodes"                  yaml:"nodes"       validate:"required,min=1,dive"`
	Connections []*Connection   `json:"connections"            yaml:"connections" validate:"dive"`
	Variables   map[string]any  `json:"variables,omitempty"    yaml:"variables,omitempty"`
	Metadata    map[string]any  `json:"metadata,omitempty"     yaml:"metadata,omitempty"`
	CreatedAt   time.Time       `json:"created_at"             yaml:"created_at,omitempty"`
	UpdatedAt   time.Time       `json:"updated_at"             yaml:"updated_at,omitempty"`
}

// Node returns the node with the given ID.
func (w *Workflow) Node(id string) (*WorkflowNode, bool) {
	for _, n := range w.Nodes {
		if n.ID == id {
			return n, true
		}
	}

	return nil, false
}
