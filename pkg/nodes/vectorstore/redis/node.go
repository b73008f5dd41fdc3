// Package redis provides a vector store sub-node persisting documents in Redis.
package redis

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/dukex/capgraph/pkg/capability"
	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/nodes"
	"github.com/dukex/capgraph/pkg/nodes/vectorstore"
	"github.com/dukex/capgraph/pkg/protocol"
	"github.com/redis/go-redis/v9"
)

const (
	NodeName       = "vectorStoreRedis"
	CredentialType = "redis"

	// ClientScope is the instance cache scope Redis clients are shared under.
	ClientScope = "redis"
)

type Config struct {
	IndexName  string `mapstructure:"indexName"`
	ClearIndex bool   `mapstructure:"clearIndex"`
}

// Credential is the content of a "redis" credential.
type Credential struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	Database int    `mapstructure:"db"`
}

func (c Credential) addr() string {
	host := c.Host
	if host == "" {
		host = "localhost"
	}

	port := c.Port
	if port == 0 {
		port = 6379
	}

	return net.JoinHostPort(host, strconv.Itoa(port))
}

type Node struct{}

func New() *Node {
	return &Node{}
}

func (n *Node) Description() models.NodeDescription {
	return models.NodeDescription{
		Name:        NodeName,
		DisplayName: "Redis Vector Store",
		Description: "Work with your data in a Redis vector store",
		Categories:  []string{"AI", "Vector Stores"},
		Version:     1,
		Inputs: []models.PortDeclaration{
			models.MustDeclarePort(models.ConnectionTypeAiEmbedding, models.PortDirectionInput, true, 1,
				models.WithDisplayName("Embedding")),
			models.MustDeclarePort(models.ConnectionTypeAiDocument, models.PortDirectionInput, false, 1,
				models.WithDisplayName("Document")),
		},
		Outputs: []models.PortDeclaration{
			models.MustDeclarePort(models.ConnectionTypeAiVectorStore, models.PortDirectionOutput, false, models.UnlimitedConnections,
				models.WithDisplayName("Vector Store")),
		},
		Credentials: []models.CredentialRequirement{{Name: CredentialType, Required: true}},
		Schema: map[string]any{
			"type":     "object",
			"required": []any{"indexName"},
			"properties": map[string]any{
				"indexName": map[string]any{
					"type":        "string",
					"minLength":   1,
					"description": "Prefix of the Redis keys holding the documents",
				},
				"clearIndex": map[string]any{
					"type":        "boolean",
					"default":     false,
					"description": "Remove every document of the index before inserting",
				},
			},
		},
	}
}

func (n *Node) SupplyData(ctx context.Context, fns protocol.SupplyFunctions, itemIndex int) (*protocol.SupplyData, error) {
	var config Config

	if err := fns.DecodeParameters(itemIndex, &config); err != nil {
		return nil, err
	}

	if config.IndexName == "" {
		return nil, fmt.Errorf("%s: indexName is required", NodeName)
	}

	embeddings, ok, err := protocol.Input[capability.Embeddings](ctx, fns, string(models.ConnectionTypeAiEmbedding), itemIndex)
	if err != nil {
		return nil, err
	}

	if !ok {
		return nil, fmt.Errorf("%s: no embeddings connected", NodeName)
	}

	client, err := n.client(ctx, fns)
	if err != nil {
		return nil, err
	}

	index := NewIndex(client, config.IndexName)
	store := vectorstore.New(index, embeddings)

	if err := n.load(ctx, fns, itemIndex, config, index, store); err != nil {
		fns.RecordOutput(ctx, nil, err)

		return nil, err
	}

	fns.Logger().DebugContext(ctx, "Supplying Redis vector store", "index", config.IndexName)

	return &protocol.SupplyData{Response: store}, nil
}

// client returns the Redis client for the node credential. Clients are shared through the
// instance cache, which closes them on eviction.
func (n *Node) client(ctx context.Context, fns protocol.SupplyFunctions) (redis.UniversalClient, error) {
	values, err := fns.Credentials(ctx, CredentialType)
	if err != nil {
		return nil, err
	}

	var credential Credential
	if err := nodes.DecodeCredential(values, &credential); err != nil {
		return nil, err
	}

	name := fmt.Sprintf("%s/%d", credential.addr(), credential.Database)

	obj, err := fns.Instances().GetOrCreateWithSource(ctx, ClientScope, name,
		map[string]any{"node_id": fns.Node().ID, "node_type": NodeName},
		func(ctx context.Context) (any, error) {
			client := redis.NewClient(&redis.Options{
				Addr:     credential.addr(),
				Password: credential.Password,
				DB:       credential.Database,
			})

			if err := client.Ping(ctx).Err(); err != nil {
				_ = client.Close()

				return nil, fmt.Errorf("failed to connect to redis at %s: %w", credential.addr(), err)
			}

			return client, nil
		})
	if err != nil {
		return nil, err
	}

	client, ok := obj.(redis.UniversalClient)
	if !ok {
		return nil, fmt.Errorf("%s: cached instance %q is a %T", NodeName, name, obj)
	}

	return client, nil
}

func (n *Node) load(ctx context.Context, fns protocol.SupplyFunctions, itemIndex int, config Config, index *Index, store *vectorstore.Store) error {
	if config.ClearIndex {
		if err := index.Clear(ctx); err != nil {
			return err
		}
	}

	loader, ok, err := protocol.Input[capability.DocumentLoader](ctx, fns, string(models.ConnectionTypeAiDocument), itemIndex)
	if err != nil || !ok {
		return err
	}

	docs, err := loader.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load documents: %w", err)
	}

	fns.RecordInput(ctx, map[string]any{"documents": len(docs), "index": config.IndexName})

	if err := store.AddDocuments(ctx, docs); err != nil {
		return err
	}

	fns.RecordOutput(ctx, map[string]any{"inserted": len(docs)}, nil)

	return nil
}
