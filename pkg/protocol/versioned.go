package protocol

import (
	"maps"

	"github.com/dukex/capgraph/pkg/models"
)

// VersionedNodeType bundles several versions of a node type behind one identifier.
type VersionedNodeType interface {
	NodeType

	// BaseDescription is shared by every version; version descriptions override it field by field.
	BaseDescription() models.NodeDescription

	// NodeVersions maps a version number to its implementation.
	NodeVersions() map[int]NodeType
}

// Versioned is the default VersionedNodeType.
type Versioned struct {
	Base     models.NodeDescription
	Versions map[int]NodeType
}

// NewVersioned creates a versioned node type. The default version is base.DefaultVersion,
// or the highest registered version when it is zero.
func NewVersioned(base models.NodeDescription, versions map[int]NodeType) *Versioned {
	return &Versioned{Base: base, Versions: versions}
}

func (v *Versioned) Description() models.NodeDescription {
	return v.Base
}

func (v *Versioned) BaseDescription() models.NodeDescription {
	return v.Base
}

func (v *Versioned) NodeVersions() map[int]NodeType {
	return maps.Clone(v.Versions)
}
