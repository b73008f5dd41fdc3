package file

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dukex/capgraph/pkg/models"
	"github.com/dukex/capgraph/pkg/persistence"
	"gopkg.in/yaml.v3"
)

// Format is the encoding of a workflow definition file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatOf returns the format of a workflow file from its extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("%w: %s", persistence.ErrUnsupportedFormat, path)
	}
}

// LoadWorkflow reads a workflow definition from a JSON or YAML file.
func LoadWorkflow(path string) (*models.Workflow, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return DecodeWorkflow(data, format)
}

// DecodeWorkflow decodes a workflow definition. Unknown fields are rejected.
func DecodeWorkflow(data []byte, format Format) (*models.Workflow, error) {
	var workflow models.Workflow

	switch format {
	case FormatJSON:
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()

		if err := decoder.Decode(&workflow); err != nil {
			return nil, fmt.Errorf("%w: %w", persistence.ErrInvalidWorkflow, err)
		}
	case FormatYAML:
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)

		if err := decoder.Decode(&workflow); err != nil {
			return nil, fmt.Errorf("%w: %w", persistence.ErrInvalidWorkflow, err)
		}
	default:
		return nil, fmt.Errorf("%w: %s", persistence.ErrUnsupportedFormat, format)
	}

	return &workflow, nil
}

// EncodeWorkflow encodes a workflow definition in the given format.
func EncodeWorkflow(workflow *models.Workflow, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(workflow, "", "  ")
	case FormatYAML:
		return yaml.Marshal(workflow)
	default:
		return nil, fmt.Errorf("%w: %s", persistence.ErrUnsupportedFormat, format)
	}
}

// LoadItems reads the input items of a run from a JSON or YAML file holding either a list of
// items ({"json": {...}}) or a list of plain objects.
func LoadItems(path string) ([]models.Item, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw []map[string]any

	if format == FormatJSON {
		err = json.Unmarshal(data, &raw)
	} else {
		err = yaml.Unmarshal(data, &raw)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to decode items from %s: %w", path, err)
	}

	items := make([]models.Item, len(raw))

	for i, obj := range raw {
		if inner, ok := obj["json"].(map[string]any); ok && len(obj) == 1 {
			obj = inner
		}

		items[i] = models.Item{JSON: obj}
	}

	return items, nil
}
