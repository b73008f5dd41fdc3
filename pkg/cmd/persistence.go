package cmd

import (
	"fmt"
	"strings"

	"github.com/dukex/capgraph/pkg/persistence"
	"github.com/dukex/capgraph/pkg/persistence/file"
)

// NewPersistence opens the workflow store named by url. Only file:// URLs and plain paths are
// supported.
func NewPersistence(url string) (persistence.Persistence, error) {
	provider, _, found := strings.Cut(url, "://")
	if found && provider != "file" {
		return nil, fmt.Errorf("unsupported workflow persistence %q", provider)
	}

	return file.NewPersistence(url), nil
}
