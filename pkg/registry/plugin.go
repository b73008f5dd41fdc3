package registry

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"plugin"

	"github.com/dukex/capgraph/pkg/protocol"
)

// PluginSymbol is the symbol a node plugin must export, declared as
//
//	var Node protocol.NodeType = ...
//
// Plugins shipping several versions assign a protocol.VersionedNodeType.
const PluginSymbol = "Node"

// LoadNodePlugins opens every shared object under {pluginsPath}/nodes and registers the node
// type it exports.
func (r *Registry) LoadNodePlugins(ctx context.Context, pluginsPath string) error {
	nodes, err := loadPlugin[protocol.NodeType](ctx, r.logger, pluginsPath, PluginSymbol)
	if err != nil {
		return err
	}

	var errs []error

	for _, node := range nodes {
		if err := r.RegisterNode(node); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func loadPlugin[T any](ctx context.Context, logger *slog.Logger, pluginsPath string, symbolName string) ([]T, error) {
	rootPath := filepath.Join(pluginsPath, "nodes")

	pluginPathList, err := fs.Glob(os.DirFS(rootPath), "*.so")
	if err != nil {
		return nil, err
	}

	l := logger.With(slog.String("path", rootPath), slog.String("symbol", symbolName))
	l.InfoContext(ctx, "Loading plugins", "count", len(pluginPathList))

	pluginList := make([]T, 0, len(pluginPathList))

	for _, p := range pluginPathList {
		plg, err := plugin.Open(filepath.Join(rootPath, p))
		if err != nil {
			return nil, fmt.Errorf("open plugin %s: %w", p, err)
		}

		v, err := plg.Lookup(symbolName)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", p, err)
		}

		castV, err := cast[T](v)
		if err != nil {
			return nil, fmt.Errorf("plugin %s: %w", p, err)
		}

		pluginList = append(pluginList, castV)

		l.InfoContext(ctx, "Loaded node plugin", slog.String("plugin", p))
	}

	return pluginList, nil
}

// cast accepts exported variables, which plugin.Lookup returns as pointers, as well as values.
func cast[T any](symbol plugin.Symbol) (T, error) {
	switch v := symbol.(type) {
	case *T:
		return *v, nil
	case T:
		return v, nil
	}

	var zero T

	return zero, fmt.Errorf("symbol has type %T, want %T", symbol, &zero)
}
