// Package testutil provides test data builders and utilities for testing.
package testutil

import (
	"time"

	"github.com/dukex/capgraph/pkg/models"
	"github.com/google/uuid"
)

// CreateTestNode creates a test WorkflowNode with default values that can be overridden.
func CreateTestNode(overrides ...func(*models.WorkflowNode)) *models.WorkflowNode {
	node := &models.WorkflowNode{
		ID:         uuid.New().String(),
		Type:       "embeddingsHashing",
		Name:       "Test Node",
		Parameters: map[string]any{},
		PositionX:  100,
		PositionY:  200,
	}

	for _, override := range overrides {
		override(node)
	}

	return node
}

// WithParameters sets the node parameters.
func WithParameters(parameters map[string]any) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Parameters = parameters
	}
}

// WithName sets the node name.
func WithName(name string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Name = name
	}
}

// WithPosition sets the node position.
func WithPosition(x, y int) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.PositionX = x
		n.PositionY = y
	}
}

// WithDisabled sets whether the node is disabled.
func WithDisabled(disabled bool) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Disabled = disabled
	}
}

// WithType sets the node type.
func WithType(nodeType string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.Type = nodeType
	}
}

// WithID sets the node ID.
func WithID(id string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.ID = id
	}
}

// WithVersion pins the node type version.
func WithVersion(version int) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		n.TypeVersion = &version
	}
}

// WithCredential binds a credential ID to a credential type.
func WithCredential(credentialType, id string) func(*models.WorkflowNode) {
	return func(n *models.WorkflowNode) {
		if n.Credentials == nil {
			n.Credentials = map[string]string{}
		}

		n.Credentials[credentialType] = id
	}
}

// CreateTestWorkflow creates a workflow holding the given nodes.
func CreateTestWorkflow(nodes ...*models.WorkflowNode) *models.Workflow {
	now := time.Now()

	return &models.Workflow{
		ID:          uuid.New().String(),
		Name:        "Test Workflow",
		Description: "A workflow for testing",
		Nodes:       nodes,
		Connections: []*models.Connection{},
		Variables:   map[string]any{},
		Metadata:    map[string]any{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Connect appends a connection between two ports to the workflow and returns it.
func Connect(w *models.Workflow, sourceNodeID, sourcePort, targetNodeID, targetPort string) *models.Connection {
	conn := CreateTestConnection(sourceNodeID, sourcePort, targetNodeID, targetPort)
	w.Connections = append(w.Connections, conn)

	return conn
}

// ConnectKind connects two nodes through the ports named after a connection type.
func ConnectKind(w *models.Workflow, sourceNodeID, targetNodeID string, kind models.ConnectionType) *models.Connection {
	return Connect(w, sourceNodeID, string(kind), targetNodeID, string(kind))
}

// CreateTestConnection creates a test connection between two ports.
func CreateTestConnection(sourceNodeID, sourcePort, targetNodeID, targetPort string) *models.Connection {
	return &models.Connection{
		ID:         uuid.New().String(),
		SourcePort: models.MakePortID(sourceNodeID, sourcePort),
		TargetPort: models.MakePortID(targetNodeID, targetPort),
	}
}
