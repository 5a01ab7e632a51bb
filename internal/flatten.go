package internal

import (
	"encoding/json"
	"strconv"
)

// FlattenJSON decodes a JSON object and flattens it for rule evaluation.
// Returns an empty map for non-object or invalid input.
func FlattenJSON(raw []byte) map[string]interface{} {
	var decoded map[string]interface{}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return map[string]interface{}{}
	}
	return Flatten(decoded)
}

// Flatten collapses a nested map into a single level, joining keys with
// ".". Array elements get indexed keys, e.g. `commits[0].message`, and the
// array itself stays addressable under its own key.
func Flatten(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{})
	for key, value := range data {
		flattenValue(out, key, value)
	}
	return out
}

func flattenValue(out map[string]interface{}, path string, value interface{}) {
	switch typed := value.(type) {
	case map[string]interface{}:
		for key, child := range typed {
			flattenValue(out, path+"."+key, child)
		}
	case []interface{}:
		out[path] = typed
		for i, child := range typed {
			flattenValue(out, path+"["+strconv.Itoa(i)+"]", child)
		}
	default:
		out[path] = value
	}
}
