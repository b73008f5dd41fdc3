package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dukex/capgraph/pkg/credentials"
	"gopkg.in/yaml.v3"
)

// NewCredentialStore opens the credential store named by url:
//
//	""                      empty in-memory store
//	file://creds.yaml       in-memory store loaded from a YAML or JSON file of id -> values
//	redis://host:6379/0     Redis store
//	postgres://...          PostgreSQL store
//
// The returned close function releases the store's connections.
func NewCredentialStore(ctx context.Context, logger *slog.Logger, url string) (credentials.Store, func() error, error) {
	noop := func() error { return nil }

	provider, rest, _ := strings.Cut(url, "://")

	switch provider {
	case "":
		return credentials.NewMemory(nil), noop, nil
	case "file":
		store, err := loadCredentialFile(rest)
		if err != nil {
			return nil, nil, err
		}

		return store, noop, nil
	case "redis", "rediss":
		store, err := credentials.NewRedisStoreFromURL(ctx, url)
		if err != nil {
			return nil, nil, err
		}

		return store, store.Close, nil
	case "postgres", "postgresql":
		store, err := credentials.NewPostgresStore(ctx, logger, url)
		if err != nil {
			return nil, nil, err
		}

		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unsupported credential store %q", provider)
	}
}

func loadCredentialFile(path string) (*credentials.Memory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	var values map[string]map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file %s: %w", path, err)
	}

	return credentials.NewMemory(values), nil
}
