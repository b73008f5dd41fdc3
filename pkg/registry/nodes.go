package registry

import (
	"errors"

	"github.com/dukex/capgraph/pkg/nodes/chain/retrievalsearch"
	"github.com/dukex/capgraph/pkg/nodes/documentloader/defaultdata"
	"github.com/dukex/capgraph/pkg/nodes/documentloader/github"
	"github.com/dukex/capgraph/pkg/nodes/embeddings/hashing"
	"github.com/dukex/capgraph/pkg/nodes/embeddings/openai"
	retriever "github.com/dukex/capgraph/pkg/nodes/retriever/vectorstore"
	"github.com/dukex/capgraph/pkg/nodes/textsplitter/character"
	"github.com/dukex/capgraph/pkg/nodes/vectorstore/memory"
	"github.com/dukex/capgraph/pkg/nodes/vectorstore/redis"
	"github.com/dukex/capgraph/pkg/protocol"
)

// DefaultNodes returns the node types shipped with the host.
func DefaultNodes() []protocol.NodeType {
	return []protocol.NodeType{
		openai.New(),
		hashing.New(),
		character.New(),
		github.New(),
		defaultdata.New(),
		memory.New(),
		redis.New(),
		retriever.New(),
		retrievalsearch.New(),
	}
}

// RegisterDefaultNodes registers every node type returned by DefaultNodes.
func (r *Registry) RegisterDefaultNodes() error {
	var errs []error

	for _, node := range DefaultNodes() {
		if err := r.RegisterNode(node); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
