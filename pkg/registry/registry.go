// Package registry holds the registered node types and dispatches a node to the implementation
// of the version it was authored against.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sort"
	"sync"

	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/protocol"
)

var (
	ErrUnknownNodeType      = errors.New("unknown node type")
	ErrUnknownNodeVersion   = errors.New("unknown node version")
	ErrDuplicateNodeVersion = errors.New("node version already registered")
	ErrInvalidNodeType      = errors.New("invalid node type")
)

// Implementation is a node type resolved to one version.
type Implementation struct {
	TypeID  string
	Version int

	// Description is the base description merged with the version description.
	Description models.NodeDescription

	Type protocol.NodeType
}

// SupplyDataProvider returns the implementation as a sub-node, if it is one.
func (i *Implementation) SupplyDataProvider() (protocol.SupplyDataProvider, bool) {
	p, ok := i.Type.(protocol.SupplyDataProvider)

	return p, ok
}

// Executor returns the implementation as an executing node, if it is one.
func (i *Implementation) Executor() (protocol.Executor, bool) {
	e, ok := i.Type.(protocol.Executor)

	return e, ok
}

// NodeTypeInfo summarizes a registered node type.
type NodeTypeInfo struct {
	Name           string                 `json:"name"`
	Versions       []int                  `json:"versions"`
	DefaultVersion int                    `json:"default_version"`
	Description    models.NodeDescription `json:"description"`
}

type registration struct {
	base     models.NodeDescription
	versions map[int]*Implementation
}

func (r *registration) defaultVersion() int {
	if r.base.DefaultVersion != 0 {
		return r.base.DefaultVersion
	}

	return slices.Max(slices.Collect(maps.Keys(r.versions)))
}

func (r *registration) sortedVersions() []int {
	return slices.Sorted(maps.Keys(r.versions))
}

// Registry is safe for concurrent use. Registrations are expected at startup; lookups
// happen on every resolution.
type Registry struct {
	logger *slog.Logger

	mu    sync.RWMutex
	types map[string]*registration
}

func NewRegistry(log *slog.Logger) *Registry {
	return &Registry{
		logger: log.With("module", "registry"),
		types:  make(map[string]*registration),
	}
}

// Register adds the versions of a node type. A node type may be registered again to add
// versions; the base description of the latest call wins, and a version that is already
// registered is rejected so pinned workflows keep dispatching to the same implementation.
func (r *Registry) Register(id string, base models.NodeDescription, versions map[int]protocol.NodeType) error {
	if id == "" {
		return fmt.Errorf("%w: empty node type identifier", ErrInvalidNodeType)
	}

	if len(versions) == 0 {
		return fmt.Errorf("%w: %q has no versions", ErrInvalidNodeType, id)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing := r.types[id]

	reg := &registration{base: base, versions: make(map[int]*Implementation)}
	if existing != nil {
		for version, impl := range existing.versions {
			cp := *impl
			reg.versions[version] = &cp
		}
	}

	for version, nodeType := range versions {
		if version < 1 {
			return fmt.Errorf("%w: %q version %d must be positive", ErrInvalidNodeType, id, version)
		}

		if nodeType == nil {
			return fmt.Errorf("%w: %q version %d has no implementation", ErrInvalidNodeType, id, version)
		}

		if _, ok := reg.versions[version]; ok {
			return fmt.Errorf("%w: %q version %d", ErrDuplicateNodeVersion, id, version)
		}

		description := models.Merge(base, nodeType.Description())
		description.Name = id
		description.Version = version

		if err := validateDescription(description); err != nil {
			return fmt.Errorf("%w: %q version %d: %w", ErrInvalidNodeType, id, version, err)
		}

		reg.versions[version] = &Implementation{
			TypeID:      id,
			Version:     version,
			Description: description,
			Type:        nodeType,
		}
	}

	if _, ok := reg.versions[reg.defaultVersion()]; !ok {
		return fmt.Errorf("%w: %q default version %d is not registered", ErrInvalidNodeType, id, base.DefaultVersion)
	}

	for _, impl := range reg.versions {
		impl.Description.DefaultVersion = reg.defaultVersion()
	}

	r.types[id] = reg

	r.logger.Debug("Registered node type", "type", id, "versions", reg.sortedVersions(), "default_version", reg.defaultVersion())

	return nil
}

// RegisterNode registers a node type under its description name. Versioned node types
// register all their versions; any other node type registers its description version, or 1.
func (r *Registry) RegisterNode(node protocol.NodeType) error {
	if versioned, ok := node.(protocol.VersionedNodeType); ok {
		base := versioned.BaseDescription()

		return r.Register(base.Name, base, versioned.NodeVersions())
	}

	description := node.Description()

	version := description.Version
	if version == 0 {
		version = 1
	}

	return r.Register(description.Name, description, map[int]protocol.NodeType{version: node})
}

// ResolveImplementation returns the implementation of the pinned version, or of the
// default version when pinned is nil.
func (r *Registry) ResolveImplementation(id string, pinned *int) (*Implementation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.types[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, id)
	}

	version := reg.defaultVersion()
	if pinned != nil {
		version = *pinned
	}

	impl, ok := reg.versions[version]
	if !ok {
		return nil, fmt.Errorf("%w: %q version %d (registered: %v)", ErrUnknownNodeVersion, id, version, reg.sortedVersions())
	}

	return impl, nil
}

// Versions returns the registered versions of a node type in ascending order.
func (r *Registry) Versions(id string) ([]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.types[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownNodeType, id)
	}

	return reg.sortedVersions(), nil
}

// NodeTypes lists every registered node type sorted by name, described by its default version.
func (r *Registry) NodeTypes() []NodeTypeInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]NodeTypeInfo, 0, len(r.types))

	for id, reg := range r.types {
		def := reg.defaultVersion()

		infos = append(infos, NodeTypeInfo{
			Name:           id,
			Versions:       reg.sortedVersions(),
			DefaultVersion: def,
			Description:    reg.versions[def].Description,
		})
	}

	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })

	return infos
}

func validateDescription(d models.NodeDescription) error {
	var errs []error

	check := func(ports []models.PortDeclaration, direction models.PortDirection) {
		seen := make(map[string]bool, len(ports))

		for _, port := range ports {
			if err := models.ValidatePort(port); err != nil {
				errs = append(errs, err)
			}

			if port.Direction != direction {
				errs = append(errs, fmt.Errorf("%w: port %q declared as %s among %s ports", models.ErrInvalidPort, port.Name, port.Direction, direction))
			}

			if seen[port.Name] {
				errs = append(errs, fmt.Errorf("%w: duplicate %s port %q", models.ErrInvalidPort, direction, port.Name))
			}

			seen[port.Name] = true
		}
	}

	check(d.Inputs, models.PortDirectionInput)
	check(d.Outputs, models.PortDirectionOutput)

	return errors.Join(errs...)
}
