// Package models defines core node models for capability graph resolution.
package models

// CredentialRequirement declares a credential type a node may ask the credential store for.
type CredentialRequirement struct {
	Name     string `json:"name"     validate:"required"`
	Required bool   `json:"required"`
}

// NodeDescription is the static metadata of a node type. Registered descriptions are never mutated.
type NodeDescription struct {
	Name           string                  `json:"name"                      validate:"required"`
	DisplayName    string                  `json:"display_name"`
	Description    string                  `json:"description,omitempty"`
	Categories     []string                `json:"categories,omitempty"`
	Version        int                     `json:"version,omitempty"`
	DefaultVersion int                     `json:"default_version,omitempty"`
	Hidden         bool                    `json:"hidden,omitempty"`
	Inputs         []PortDeclaration       `json:"inputs"                    validate:"dive"`
	Outputs        []PortDeclaration       `json:"outputs"                   validate:"dive"`
	Credentials    []CredentialRequirement `json:"credentials,omitempty"     validate:"dive"`
	Schema         map[string]any          `json:"schema,omitempty"`
}

// Input returns the input port declared under the given name.
func (d NodeDescription) Input(name string) (PortDeclaration, bool) {
	return findPort(d.Inputs, name)
}

// Output returns the output port declared under the given name.
func (d NodeDescription) Output(name string) (PortDeclaration, bool) {
	return findPort(d.Outputs, name)
}

// IsSubNode reports whether every output of the node carries a capability.
func (d NodeDescription) IsSubNode() bool {
	if len(d.Outputs) == 0 {
		return false
	}

	for _, out := range d.Outputs {
		if !out.IsCapability() {
			return false
		}
	}

	return true
}

func findPort(ports []PortDeclaration, name string) (PortDeclaration, bool) {
	for _, p := range ports {
		if p.Name == name {
			return p, true
		}
	}

	return PortDeclaration{}, false
}

// Merge overlays a version-specific description onto a shared base description.
// Every field the version defines wins over the base field of the same name.
func Merge(base, version NodeDescription) NodeDescription {
	merged := base

	if version.Name != "" {
		merged.Name = version.Name
	}

	if version.DisplayName != "" {
		merged.DisplayName = version.DisplayName
	}

	if version.Description != "" {
		merged.Description = version.Description
	}

	if version.Categories != nil {
		merged.Categories = version.Categories
	}

	if version.Version != 0 {
		merged.Version = version.Version
	}

	if version.DefaultVersion != 0 {
		merged.DefaultVersion = version.DefaultVersion
	}

	if version.Hidden {
		merged.Hidden = true
	}

	if version.Inputs != nil {
		merged.Inputs = version.Inputs
	}

	if version.Outputs != nil {
		merged.Outputs = version.Outputs
	}

	if version.Credentials != nil {
		merged.Credentials = version.Credentials
	}

	if version.Schema != nil {
		merged.Schema = version.Schema
	}

	return merged
}

// WorkflowNode represents a node instance in a workflow.
type WorkflowNode struct {
	ID          string            `json:"id"                     yaml:"id"                     validate:"required,excludesall=:"`
	Name        string            `json:"name"                   yaml:"name"                   validate:"required,min=1"`
	Type        string            `json:"type"                   yaml:"type"                   validate:"required"`
	TypeVersion *int              `json:"type_version,omitempty" yaml:"type_version,omitempty"`
	Parameters  map[string]any    `json:"parameters"             yaml:"parameters"`
	Credentials map[string]string `json:"credentials,omitempty"  yaml:"credentials,omitempty"`
	Disabled    bool              `json:"disabled,omitempty"     yaml:"disabled,omitempty"`
	PositionX   int               `json:"position_x"             yaml:"position_x"`
	PositionY   int               `json:"position_y"             yaml:"position_y"`
}

// Item is a single data item flowing through data ports.
type Item struct {
	JSON map[string]any `json:"json" yaml:"json"`
}

// NodeStatus defines the possible states of a node execution.
type NodeStatus string

const (
	NodeStatusPending NodeStatus = "pending"
	NodeStatusRunning NodeStatus = "running"
	NodeStatusSuccess NodeStatus = "success"
	NodeStatusError   NodeStatus = "error"
)
