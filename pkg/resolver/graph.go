// Package resolver resolves the capability objects connected to a node's input ports,
// recursively supplying upstream sub-nodes and memoizing the result for the run.
package resolver

import (
	"fmt"
	"strings"

	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/registry"
	"github.com/dukex/capgraph/pkg/template"
	"github.com/dukex/capgraph/pkg/tracing"
	"github.com/go-playground/validator/v10"
	"github.com/xeipuuv/gojsonschema"
)

// Dispatcher selects the implementation of a node type for a pinned or default version.
type Dispatcher interface {
	ResolveImplementation(id string, pinned *int) (*registry.Implementation, error)
}

type portKey struct {
	nodeID string
	port   string
}

func (k portKey) String() string {
	return models.MakePortID(k.nodeID, k.port)
}

type graphNode struct {
	node *models.WorkflowNode
	impl *registry.Implementation
}

func (n *graphNode) source(runID, workflowID string, kind models.ConnectionType) tracing.Source {
	return tracing.Source{
		RunID:          runID,
		WorkflowID:     workflowID,
		NodeID:         n.node.ID,
		NodeName:       n.node.Name,
		NodeType:       n.node.Type,
		ConnectionType: kind,
	}
}

// edge is a connection into a capability port, numbered in declaration order among the
// connections of the same target port.
type edge struct {
	index      int
	connection *models.Connection
	source     *graphNode
	sourcePort models.PortDeclaration
}

// Graph is a workflow checked against the registered node types, with its capability
// connections indexed by target port. A Graph is immutable and may back any number of runs.
type Graph struct {
	workflow *models.Workflow
	nodes    map[string]*graphNode
	incoming map[portKey][]edge
	outgoing map[portKey]int
	problems []error
}

var workflowValidator = validator.New(validator.WithRequiredStructEnabled())

// NewGraph indexes and validates a workflow. Unknown nodes, node types, versions and ports,
// connections between ports of different kinds, cardinality violations, capability cycles and
// parameters not matching the node schema are all reported at once in a *ValidationError.
func NewGraph(workflow *models.Workflow, dispatcher Dispatcher) (*Graph, error) {
	g := index(workflow, dispatcher)

	if err := g.validate(); err != nil {
		return nil, err
	}

	return g, nil
}

// Workflow returns the workflow the graph was built from.
func (g *Graph) Workflow() *models.Workflow {
	return g.workflow
}

// Implementation returns the dispatched implementation of a node.
func (g *Graph) Implementation(nodeID string) (*registry.Implementation, error) {
	n, ok := g.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNode, nodeID)
	}

	return n.impl, nil
}

// Connections returns how many enabled capability connections end at an input port of a node.
func (g *Graph) Connections(nodeID, port string) int {
	return len(g.incoming[portKey{nodeID: nodeID, port: port}])
}

// index builds the lookup tables and collects every problem without failing early.
func index(workflow *models.Workflow, dispatcher Dispatcher) *Graph {
	g := &Graph{
		workflow: workflow,
		nodes:    make(map[string]*graphNode, len(workflow.Nodes)),
		incoming: make(map[portKey][]edge),
		outgoing: make(map[portKey]int),
	}

	if err := workflowValidator.Struct(workflow); err != nil {
		g.problems = append(g.problems, err)
	}

	for _, node := range workflow.Nodes {
		if node == nil {
			continue
		}

		if _, ok := g.nodes[node.ID]; ok {
			g.problems = append(g.problems, fmt.Errorf("duplicate node id %q", node.ID))

			continue
		}

		impl, err := dispatcher.ResolveImplementation(node.Type, node.TypeVersion)
		if err != nil {
			g.problems = append(g.problems, &ResolutionError{NodeID: node.ID, NodeName: node.Name, NodeType: node.Type, Err: err})

			continue
		}

		g.nodes[node.ID] = &graphNode{node: node, impl: impl}
	}

	for _, conn := range workflow.Connections {
		if conn == nil {
			continue
		}

		if err := g.addConnection(conn); err != nil {
			g.problems = append(g.problems, fmt.Errorf("connection %s -> %s: %w", conn.SourcePort, conn.TargetPort, err))
		}
	}

	return g
}

func (g *Graph) addConnection(conn *models.Connection) error {
	sourceID, sourcePortName, ok := models.ParsePortID(conn.SourcePort)
	if !ok {
		return fmt.Errorf("%w: malformed port id %q", ErrUnknownPort, conn.SourcePort)
	}

	targetID, targetPortName, ok := models.ParsePortID(conn.TargetPort)
	if !ok {
		return fmt.Errorf("%w: malformed port id %q", ErrUnknownPort, conn.TargetPort)
	}

	source, ok := g.nodes[sourceID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, sourceID)
	}

	target, ok := g.nodes[targetID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownNode, targetID)
	}

	sourcePort, ok := source.impl.Description.Output(sourcePortName)
	if !ok {
		return fmt.Errorf("%w: node %s has no output %q", ErrUnknownPort, sourceID, sourcePortName)
	}

	targetPort, ok := target.impl.Description.Input(targetPortName)
	if !ok {
		return fmt.Errorf("%w: node %s has no input %q", ErrUnknownPort, targetID, targetPortName)
	}

	if sourcePort.Type != targetPort.Type {
		return fmt.Errorf("%w: %s output cannot feed %s input", ErrPortKindMismatch, sourcePort.Type, targetPort.Type)
	}

	g.outgoing[portKey{nodeID: sourceID, port: sourcePortName}]++

	if !targetPort.IsCapability() {
		return nil
	}

	if _, ok := source.impl.SupplyDataProvider(); !ok {
		return fmt.Errorf("%w: %s (%s)", ErrNotSupplier, sourceID, source.node.Type)
	}

	// A disabled sub-node supplies nothing; its connection is ignored.
	if source.node.Disabled {
		return nil
	}

	key := portKey{nodeID: targetID, port: targetPortName}
	g.incoming[key] = append(g.incoming[key], edge{
		index:      len(g.incoming[key]),
		connection: conn,
		source:     source,
		sourcePort: sourcePort,
	})

	return nil
}

func (g *Graph) validate() error {
	problems := append([]error(nil), g.problems...)
	problems = append(problems, g.checkCardinality()...)
	problems = append(problems, g.checkParameters()...)
	problems = append(problems, g.checkCycles()...)

	if len(problems) == 0 {
		return nil
	}

	return &ValidationError{WorkflowID: g.workflow.ID, Problems: problems}
}

func (g *Graph) checkCardinality() []error {
	var problems []error

	for _, wn := range g.workflow.Nodes {
		if wn == nil {
			continue
		}

		n, ok := g.nodes[wn.ID]
		if !ok || n.node != wn {
			continue
		}

		for _, port := range n.impl.Description.Inputs {
			count := len(g.incoming[portKey{nodeID: wn.ID, port: port.Name}])
			if !port.Unlimited() && count > port.MaxConnections {
				problems = append(problems, &ResolutionError{
					NodeID:   wn.ID,
					NodeName: wn.Name,
					NodeType: wn.Type,
					Port:     port.Name,
					Err:      fmt.Errorf("%w: %d connected, at most %d allowed", ErrTooManyConnections, count, port.MaxConnections),
				})
			}
		}

		for _, port := range n.impl.Description.Outputs {
			count := g.outgoing[portKey{nodeID: wn.ID, port: port.Name}]
			if !port.Unlimited() && count > port.MaxConnections {
				problems = append(problems, &ResolutionError{
					NodeID:   wn.ID,
					NodeName: wn.Name,
					NodeType: wn.Type,
					Port:     port.Name,
					Err:      fmt.Errorf("%w: output feeds %d ports, at most %d allowed", ErrTooManyConnections, count, port.MaxConnections),
				})
			}
		}
	}

	return problems
}

func (g *Graph) checkParameters() []error {
	var problems []error

	for _, wn := range g.workflow.Nodes {
		if wn == nil {
			continue
		}

		n, ok := g.nodes[wn.ID]
		if !ok || n.node != wn || len(n.impl.Description.Schema) == 0 {
			continue
		}

		if err := validateParameters(n.impl.Description.Schema, wn.Parameters); err != nil {
			problems = append(problems, &ResolutionError{
				NodeID:   wn.ID,
				NodeName: wn.Name,
				NodeType: wn.Type,
				Err:      err,
			})
		}
	}

	return problems
}

// validateParameters checks literal parameters against the node schema. Expressions are only
// known per item, so they are left out of the document and not reported as missing.
func validateParameters(schema map[string]any, parameters map[string]any) error {
	literal, expressions := literalParameters(parameters)

	result, err := gojsonschema.Validate(gojsonschema.NewGoLoader(schema), gojsonschema.NewGoLoader(literal))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidParameters, err)
	}

	if result.Valid() {
		return nil
	}

	var msgs []string

	for _, desc := range result.Errors() {
		if desc.Type() == "required" {
			if property, ok := desc.Details()["property"].(string); ok && expressions[property] {
				continue
			}
		}

		msgs = append(msgs, desc.String())
	}

	if len(msgs) == 0 {
		return nil
	}

	return fmt.Errorf("%w: %s", ErrInvalidParameters, strings.Join(msgs, "; "))
}

func literalParameters(parameters map[string]any) (map[string]any, map[string]bool) {
	literal := make(map[string]any, len(parameters))
	expressions := make(map[string]bool)

	for name, value := range parameters {
		switch v := value.(type) {
		case map[string]any:
			nested, nestedExpressions := literalParameters(v)
			literal[name] = nested

			for k := range nestedExpressions {
				expressions[k] = true
			}
		default:
			if template.IsExpression(v) {
				expressions[name] = true

				continue
			}

			literal[name] = v
		}
	}

	return literal, expressions
}

// checkCycles rejects capability connections that form a cycle between nodes.
func (g *Graph) checkCycles() []error {
	// node -> nodes it consumes capabilities from
	deps := make(map[string][]string)
	for key, edges := range g.incoming {
		for _, e := range edges {
			deps[key.nodeID] = append(deps[key.nodeID], e.source.node.ID)
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)

	state := make(map[string]int, len(g.nodes))

	var (
		problems []error
		path     []string
		visit    func(id string)
	)

	visit = func(id string) {
		state[id] = visiting
		path = append(path, id)

		for _, dep := range deps[id] {
			switch state[dep] {
			case visiting:
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
					}
				}

				cycle := append(append([]string(nil), path[start:]...), dep)
				problems = append(problems, fmt.Errorf("%w: %s", ErrCyclicCapabilityDependency, strings.Join(cycle, " -> ")))
			case unvisited:
				visit(dep)
			}
		}

		path = path[:len(path)-1]
		state[id] = done
	}

	for _, wn := range g.workflow.Nodes {
		if wn != nil && state[wn.ID] == unvisited {
			visit(wn.ID)
		}
	}

	return problems
}
