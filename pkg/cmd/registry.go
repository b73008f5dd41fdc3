// Package cmd builds the components of a capgraph host from its configuration.
package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dukex/capgraph/pkg/registry"
)

// NewRegistry registers the built-in node types, then the node plugins found under pluginsPath.
func NewRegistry(ctx context.Context, log *slog.Logger, pluginsPath string) (*registry.Registry, error) {
	reg := registry.NewRegistry(log)

	if err := reg.RegisterDefaultNodes(); err != nil {
		return nil, fmt.Errorf("failed to register built-in nodes: %w", err)
	}

	if pluginsPath == "" {
		return reg, nil
	}

	if err := reg.LoadNodePlugins(ctx, pluginsPath); err != nil {
		return nil, fmt.Errorf("failed to load node plugins: %w", err)
	}

	return reg, nil
}
