// Package models defines port-based models for capability connections between nodes.
package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidPort is returned when a port declaration fails validation.
var ErrInvalidPort = errors.New("invalid port declaration")

// UnlimitedConnections allows any number of connections on a port.
const UnlimitedConnections = -1

// PortDirection represents the direction of flow for a port.
type PortDirection string

const (
	PortDirectionInput  PortDirection = "input"
	PortDirectionOutput PortDirection = "output"
)

// PortDeclaration describes a named connection point on a node type.
// A port's type fixes the contract of everything flowing through it.
type PortDeclaration struct {
	Name           string         `json:"name"                   validate:"required"`
	DisplayName    string         `json:"display_name,omitempty"`
	Type           ConnectionType `json:"type"                   validate:"required,connection_type"`
	Direction      PortDirection  `json:"direction"              validate:"required,oneof=input output"`
	Required       bool           `json:"required"`
	MaxConnections int            `json:"max_connections"        validate:"gte=-1"`
}

// IsCapability reports whether the port carries capability objects.
func (p PortDeclaration) IsCapability() bool {
	return p.Type.IsCapability()
}

// Unlimited reports whether the port accepts any number of connections.
func (p PortDeclaration) Unlimited() bool {
	return p.MaxConnections == UnlimitedConnections
}

// PortOption customizes a port declaration.
type PortOption func(*PortDeclaration)

// WithPortName overrides the port name, which defaults to the connection type.
func WithPortName(name string) PortOption {
	return func(p *PortDeclaration) {
		p.Name = name
	}
}

// WithDisplayName sets the label shown for the port.
func WithDisplayName(name string) PortOption {
	return func(p *PortDeclaration) {
		p.DisplayName = name
	}
}

var portValidator = newPortValidator()

func newPortValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	err := v.RegisterValidation("connection_type", func(fl validator.FieldLevel) bool {
		return ConnectionType(fl.Field().String()).Known()
	})
	if err != nil {
		panic(err)
	}

	return v
}

// DeclarePort builds and validates a port declaration. Unknown connection types and
// required ports that cannot accept a connection are rejected here, at registration time.
func DeclarePort(kind ConnectionType, direction PortDirection, required bool, maxConnections int, opts ...PortOption) (PortDeclaration, error) {
	port := PortDeclaration{
		Name:           string(kind),
		DisplayName:    kind.DisplayName(),
		Type:           kind,
		Direction:      direction,
		Required:       required,
		MaxConnections: maxConnections,
	}

	for _, opt := range opts {
		opt(&port)
	}

	if err := ValidatePort(port); err != nil {
		return PortDeclaration{}, err
	}

	return port, nil
}

// MustDeclarePort is like DeclarePort but panics on error. Intended for static node descriptions.
func MustDeclarePort(kind ConnectionType, direction PortDirection, required bool, maxConnections int, opts ...PortOption) PortDeclaration {
	port, err := DeclarePort(kind, direction, required, maxConnections, opts...)
	if err != nil {
		panic(err)
	}

	return port
}

// ValidatePort checks a port declaration against the host's rules.
func ValidatePort(port PortDeclaration) error {
	if !port.Type.Known() {
		return fmt.Errorf("%w: port %q: %w: %q", ErrInvalidPort, port.Name, ErrUnknownConnectionType, port.Type)
	}

	if err := portValidator.Struct(port); err != nil {
		return fmt.Errorf("%w: port %q: %w", ErrInvalidPort, port.Name, err)
	}

	if port.Required && port.MaxConnections == 0 {
		return fmt.Errorf("%w: port %q is required but accepts no connections", ErrInvalidPort, port.Name)
	}

	return nil
}

// ParsePortID parses a port ID in format "{node_id}:{port_name}" into components.
func ParsePortID(portID string) (string, string, bool) {
	nodeID, portName, ok := strings.Cut(portID, ":")
	if !ok || nodeID == "" || portName == "" {
		return "", "", false
	}

	return nodeID, portName, true
}

// MakePortID creates a port ID from node ID and port name.
func MakePortID(nodeID, portName string) string {
	return nodeID + ":" + portName
}
