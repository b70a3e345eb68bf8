package stage

import (
	"encoding/json"
	"strings"
)

// decodeModelJSON parses a JSON object out of a model completion. Models
// occasionally wrap the object in prose or code fences, so we decode from the
// first '{' to the last '}'.
func decodeModelJSON(raw string, v any) error {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		raw = raw[start : end+1]
	}
	return json.Unmarshal([]byte(raw), v)
}
