// Package nodes holds helpers shared by the built-in node implementations.
package nodes

import (
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// DecodeCredential decodes credential values into a struct with mapstructure tags.
func DecodeCredential(values map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}

	if err := decoder.Decode(values); err != nil {
		return fmt.Errorf("invalid credential: %w", err)
	}

	return nil
}
