package extract

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// jsonNoiseKeys are structural keys that never carry spec data.
var jsonNoiseKeys = map[string]bool{
	"@context": true,
	"@type":    true,
	"@id":      true,
	"url":      true,
	"image":    true,
	"logo":     true,
}

// extractJSONBlock flattens one JSON document into leaf key/value rows. The
// leaf key becomes the observation key; the dotted path is kept for dedup and
// debugging. Scalar arrays collapse into one comma-joined value.
func extractJSONBlock(raw, surface, blockID string) []RawKV {
	var doc any
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &doc); err != nil {
		return nil
	}
	var out []RawKV
	row := 0
	flattenJSON(doc, "", func(path, key, value string) {
		if jsonNoiseKeys[strings.ToLower(key)] {
			return
		}
		out = append(out, RawKV{
			Key:     key,
			Value:   value,
			Path:    path,
			Surface: surface,
			RowID:   fmt.Sprintf("%s#%d", blockID, row),
			TableID: blockID,
		})
		row++
	})
	return out
}

func flattenJSON(v any, path string, emit func(path, key, value string)) {
	switch t := v.(type) {
	case map[string]any:
		for key, child := range t {
			childPath := key
			if path != "" {
				childPath = path + "." + key
			}
			if joined, ok := scalarList(child); ok {
				emit(childPath, key, joined)
				continue
			}
			if s, ok := scalarString(child); ok {
				emit(childPath, key, s)
				continue
			}
			flattenJSON(child, childPath, emit)
		}
	case []any:
		for i, child := range t {
			flattenJSON(child, fmt.Sprintf("%s[%d]", path, i), emit)
		}
	}
}

// scalarList collapses an all-scalar array into "a, b, c".
func scalarList(v any) (string, bool) {
	arr, ok := v.([]any)
	if !ok || len(arr) == 0 {
		return "", false
	}
	parts := make([]string, 0, len(arr))
	for _, item := range arr {
		s, ok := scalarString(item)
		if !ok {
			return "", false
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ", "), true
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return "", false
		}
		return s, true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(t), true
	default:
		return "", false
	}
}
