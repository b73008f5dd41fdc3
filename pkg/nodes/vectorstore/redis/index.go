package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dukex/capgraph/pkg/capability"
	"github.com/dukex/capgraph/pkg/nodes/vectorstore"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var _ vectorstore.Backend = (*Index)(nil)

// Index stores each document in a hash and keeps the hash keys of an index in a list, in
// insertion order. Search loads the whole index and ranks it in process.
type Index struct {
	client redis.UniversalClient
	name   string
}

func NewIndex(client redis.UniversalClient, name string) *Index {
	return &Index{client: client, name: name}
}

func (i *Index) listKey() string {
	return i.name + ":docs"
}

func (i *Index) docKey(id string) string {
	return i.name + ":doc:" + id
}

func (i *Index) Add(ctx context.Context, entries []vectorstore.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	keys := make([]any, 0, len(entries))

	_, err := i.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, e := range entries {
			metadata, err := json.Marshal(e.Metadata)
			if err != nil {
				return fmt.Errorf("failed to encode metadata: %w", err)
			}

			vector, err := json.Marshal(e.Vector)
			if err != nil {
				return fmt.Errorf("failed to encode vector: %w", err)
			}

			key := i.docKey(uuid.NewString())
			keys = append(keys, key)

			pipe.HSet(ctx, key, "content", e.PageContent, "metadata", metadata, "vector", vector)
		}

		pipe.RPush(ctx, i.listKey(), keys...)

		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add documents to index %s: %w", i.name, err)
	}

	return nil
}

func (i *Index) Search(ctx context.Context, vector []float32, k int) ([]capability.ScoredDocument, error) {
	entries, err := i.entries(ctx)
	if err != nil {
		return nil, err
	}

	return vectorstore.Rank(vector, entries, k), nil
}

func (i *Index) entries(ctx context.Context) ([]vectorstore.Entry, error) {
	keys, err := i.client.LRange(ctx, i.listKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list index %s: %w", i.name, err)
	}

	if len(keys) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(keys))

	_, err = i.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for n, key := range keys {
			cmds[n] = pipe.HGetAll(ctx, key)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read index %s: %w", i.name, err)
	}

	entries := make([]vectorstore.Entry, 0, len(keys))

	for n, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}

		e := vectorstore.Entry{Document: capability.Document{PageContent: fields["content"]}}

		if err := json.Unmarshal([]byte(fields["vector"]), &e.Vector); err != nil {
			return nil, fmt.Errorf("document %s has a corrupt vector: %w", keys[n], err)
		}

		if m := fields["metadata"]; m != "" && m != "null" {
			if err := json.Unmarshal([]byte(m), &e.Metadata); err != nil {
				return nil, fmt.Errorf("document %s has corrupt metadata: %w", keys[n], err)
			}
		}

		entries = append(entries, e)
	}

	return entries, nil
}

// Clear removes every document of the index.
func (i *Index) Clear(ctx context.Context) error {
	keys, err := i.client.LRange(ctx, i.listKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list index %s: %w", i.name, err)
	}

	return i.client.Del(ctx, append(keys, i.listKey())...).Err()
}

func (i *Index) Len(ctx context.Context) (int64, error) {
	return i.client.LLen(ctx, i.listKey()).Result()
}
