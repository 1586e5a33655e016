package utils

import (
	"bytes"
	"encoding/json"
)

// IsJsonObject reports whether line holds a single JSON object. Surrounding
// whitespace, including the trailing line feed of a relayed message, is
// ignored.
//
// Parameters:
//   - line: The bytes to check
//
// Returns:
//   - true if line decodes as a JSON object, false otherwise
func IsJsonObject(line []byte) bool {
	trimmed := bytes.TrimSpace(line)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return false
	}

	var obj map[string]json.RawMessage
	return json.Unmarshal(trimmed, &obj) == nil
}
