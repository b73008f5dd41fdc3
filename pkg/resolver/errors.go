package resolver

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dukex/capgraph/pkg/capability"
)

// Resolution and graph validation errors. Every error returned by a Run wraps one of them.
var (
	// ErrMissingRequiredCapability indicates a required capability port has no connection.
	ErrMissingRequiredCapability = errors.New("missing required capability")

	// ErrTooManyConnections indicates a port has more connections than it accepts.
	ErrTooManyConnections = errors.New("too many connections")

	// ErrCapabilityConstructionFailure wraps any error returned by a SupplyData call.
	ErrCapabilityConstructionFailure = errors.New("capability construction failed")

	// ErrCyclicCapabilityDependency indicates a capability that transitively depends on itself.
	ErrCyclicCapabilityDependency = errors.New("cyclic capability dependency")

	// ErrUnknownNode indicates a connection or a request naming a node missing from the workflow.
	ErrUnknownNode = errors.New("unknown node")

	// ErrUnknownPort indicates a connection or a request naming a port the node does not declare.
	ErrUnknownPort = errors.New("unknown port")

	// ErrPortKindMismatch indicates a connection between ports of different connection types.
	ErrPortKindMismatch = errors.New("port kind mismatch")

	// ErrNotSupplier indicates a node connected to a capability port that cannot supply capabilities.
	ErrNotSupplier = errors.New("node does not supply capabilities")

	// ErrInvalidParameters indicates node parameters that do not match the node's schema.
	ErrInvalidParameters = errors.New("invalid node parameters")

	// ErrRunClosed indicates a resolution requested after Run.Close.
	ErrRunClosed = errors.New("run closed")

	// ErrCapabilityContract indicates a supplied object that does not implement its port kind.
	ErrCapabilityContract = capability.ErrContractViolation
)

// ResolutionError annotates a resolution failure with the node and port it happened on.
type ResolutionError struct {
	NodeID   string // Node whose port was being resolved or supplied
	NodeName string
	NodeType string
	Port     string // Port name on that node
	Err      error  // Underlying error
}

func (e *ResolutionError) Error() string {
	node := e.NodeID
	if e.NodeName != "" && e.NodeName != e.NodeID {
		node = fmt.Sprintf("%s (%s)", e.NodeID, e.NodeName)
	}

	if e.NodeType != "" {
		node = fmt.Sprintf("%s [%s]", node, e.NodeType)
	}

	if e.Port == "" {
		return fmt.Sprintf("node %s: %v", node, e.Err)
	}

	return fmt.Sprintf("port %q of node %s: %v", e.Port, node, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for resolution errors.
func (e *ResolutionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// ValidationError lists every problem found while validating a workflow graph.
type ValidationError struct {
	WorkflowID string
	Problems   []error
}

func (e *ValidationError) Error() string {
	msgs := make([]string, 0, len(e.Problems))
	for _, p := range e.Problems {
		msgs = append(msgs, p.Error())
	}

	return fmt.Sprintf("workflow %s is invalid: %s", e.WorkflowID, strings.Join(msgs, "; "))
}

func (e *ValidationError) Unwrap() []error {
	return e.Problems
}

// IsMissingRequiredCapability reports whether err is caused by an unconnected required port.
func IsMissingRequiredCapability(err error) bool {
	return errors.Is(err, ErrMissingRequiredCapability)
}

// IsTooManyConnections reports whether err is caused by a cardinality violation.
func IsTooManyConnections(err error) bool {
	return errors.Is(err, ErrTooManyConnections)
}

// IsCyclicCapabilityDependency reports whether err is caused by a capability cycle.
func IsCyclicCapabilityDependency(err error) bool {
	return errors.Is(err, ErrCyclicCapabilityDependency)
}

// IsCapabilityConstructionFailure reports whether err comes from a failing SupplyData call.
func IsCapabilityConstructionFailure(err error) bool {
	return errors.Is(err, ErrCapabilityConstructionFailure)
}
