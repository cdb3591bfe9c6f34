package config

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v3"
)

// coerceToJSONBytes turns a .yaml/.yml document into JSON so both formats go
// through the same strict decoder. Other extensions are passed through as JSON.
func coerceToJSONBytes(name string, data []byte) ([]byte, string, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
	default:
		return data, "json", nil
	}

	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, "yaml", fmt.Errorf("yaml unmarshal: %w", err)
	}
	if doc == nil {
		return []byte("{}"), "yaml", nil
	}

	j, err := json.Marshal(stringKeys(doc))
	if err != nil {
		return nil, "yaml", fmt.Errorf("yaml->json marshal: %w", err)
	}
	return j, "yaml", nil
}

// stringKeys rewrites non-string map keys (YAML allows ints, bools) so the
// tree can be marshaled as JSON. Maps are rebuilt; slices are edited in place.
func stringKeys(node any) any {
	if list, ok := node.([]any); ok {
		for i, v := range list {
			list[i] = stringKeys(v)
		}
		return list
	}
	out := map[string]any{}
	switch m := node.(type) {
	case map[string]any:
		for k, v := range m {
			out[k] = stringKeys(v)
		}
	case map[any]any:
		for k, v := range m {
			out[fmt.Sprint(k)] = stringKeys(v)
		}
	default:
		return node
	}
	return out
}
