package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/roach88/crepo/internal/nodetype"
)

// marshalInfo converts journal event info to JSON TEXT.
// Map keys are sorted by encoding/json, so equal info always encodes the
// same way and golden traces stay stable.
func marshalInfo(info map[string]string) (string, error) {
	if len(info) == 0 {
		return "{}", nil
	}
	return encodeJSON(info, "marshal info")
}

// unmarshalInfo parses journal event info. Empty info is a nil map.
func unmarshalInfo(data string) (map[string]string, error) {
	if data == "" || data == "{}" {
		return nil, nil
	}
	var info map[string]string
	if err := json.Unmarshal([]byte(data), &info); err != nil {
		return nil, fmt.Errorf("unmarshal info: %w", err)
	}
	return info, nil
}

// marshalDefinition converts a node type definition to JSON TEXT.
func marshalDefinition(def nodetype.Definition) (string, error) {
	return encodeJSON(def, "marshal definition")
}

// unmarshalDefinition parses a stored node type definition.
func unmarshalDefinition(data string) (nodetype.Definition, error) {
	var def nodetype.Definition
	if err := json.Unmarshal([]byte(data), &def); err != nil {
		return nodetype.Definition{}, fmt.Errorf("unmarshal definition: %w", err)
	}
	return def, nil
}

func encodeJSON(v any, what string) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false) // paths and names are stored verbatim
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("%s: %w", what, err)
	}
	// Encoder adds a trailing newline, remove it
	return strings.TrimSpace(buf.String()), nil
}
