// Package template evaluates node parameter expressions against the data item being processed.
package template

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/dukex/capgraph/pkg/models"
)

// ExpressionPrefix marks a string parameter as an expression rather than a literal.
const ExpressionPrefix = "="

// Scope is the data an expression sees.
type Scope struct {
	WorkflowID string
	RunID      string
	NodeID     string
	Variables  map[string]any
	Items      []models.Item
}

// IsExpression reports whether a parameter value must be rendered per item.
func IsExpression(value any) bool {
	s, ok := value.(string)

	return ok && strings.HasPrefix(s, ExpressionPrefix)
}

// Evaluate resolves every expression in value for the item at itemIndex.
// Maps and slices are walked recursively; literals are returned unchanged.
func Evaluate(value any, scope Scope, itemIndex int) (any, error) {
	switch v := value.(type) {
	case string:
		if !IsExpression(v) {
			return v, nil
		}

		return Render(strings.TrimPrefix(v, ExpressionPrefix), scope.data(itemIndex))
	case map[string]any:
		out := make(map[string]any, len(v))

		for key, inner := range v {
			evaluated, err := Evaluate(inner, scope, itemIndex)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", key, err)
			}

			out[key] = evaluated
		}

		return out, nil
	case []any:
		out := make([]any, len(v))

		for i, inner := range v {
			evaluated, err := Evaluate(inner, scope, itemIndex)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}

			out[i] = evaluated
		}

		return out, nil
	default:
		return value, nil
	}
}

func (s Scope) data(itemIndex int) map[string]any {
	var item map[string]any
	if itemIndex >= 0 && itemIndex < len(s.Items) {
		item = s.Items[itemIndex].JSON
	}

	if item == nil {
		item = map[string]any{}
	}

	return map[string]any{
		"json":       item,
		"item_index": itemIndex,
		"vars":       s.Variables,
		"workflow": map[string]any{
			"id": s.WorkflowID,
		},
		"execution": map[string]any{
			"id": s.RunID,
		},
		"node": map[string]any{
			"id": s.NodeID,
		},
	}
}

// Render executes a text/template and converts the output into JSON values, numbers or
// booleans when it parses as one.
func Render(templateStr string, data any) (any, error) {
	tmpl, err := template.
		New("parameter").
		Option("missingkey=zero").
		Funcs(template.FuncMap{
			"now": func() string {
				return time.Now().UTC().Format(time.RFC3339)
			},
			"lower": strings.ToLower,
			"upper": strings.ToUpper,
			"trim":  strings.TrimSpace,
		}).Parse(templateStr)
	if err != nil {
		return nil, fmt.Errorf("failed to parse template '%s': %w", templateStr, err)
	}

	var buf strings.Builder

	err = tmpl.Execute(&buf, data)
	if err != nil {
		return nil, fmt.Errorf("failed to execute template '%s': %w", templateStr, err)
	}

	result := strings.TrimSpace(buf.String())

	if (strings.HasPrefix(result, "{") && strings.HasSuffix(result, "}")) ||
		(strings.HasPrefix(result, "[") && strings.HasSuffix(result, "]")) {
		var jsonResult any

		if err := json.Unmarshal([]byte(result), &jsonResult); err != nil {
			return nil, fmt.Errorf("failed to parse json '%s': %w", templateStr, err)
		}

		return jsonResult, nil
	}

	if num, err := strconv.ParseFloat(result, 64); err == nil {
		return num, nil
	}

	if b, err := strconv.ParseBool(result); err == nil {
		return b, nil
	}

	return result, nil
}
