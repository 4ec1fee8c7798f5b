package intent

import (
	"encoding/json"
	"strconv"
	"strings"
)

// resolutionWire is the JSON shape the model is prompted to emit. Field
// values unmarshal as any because models occasionally return bare numbers
// for amounts despite the instructions.
type resolutionWire struct {
	Intent string         `json:"intent"`
	Fields map[string]any `json:"fields"`
}

// parseResolution reads a model response into a Resolution. Responses that
// are not valid JSON, or that name an unrecognized intent, degrade to
// Unknown with no fields rather than failing the caller.
func parseResolution(content string) Resolution {
	unknown := Resolution{Intent: Unknown, Fields: Fields{}}

	payload := extractJSON(content)
	if payload == "" {
		return unknown
	}

	var wire resolutionWire
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return unknown
	}

	parsed := Intent(strings.ToLower(strings.TrimSpace(wire.Intent)))
	if !parsed.Valid() || parsed == Unknown {
		return unknown
	}

	fields := Fields{}
	for key, value := range wire.Fields {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" {
			continue
		}
		switch v := value.(type) {
		case string:
			if trimmed := strings.TrimSpace(v); trimmed != "" {
				fields[key] = trimmed
			}
		case float64:
			fields[key] = strconv.FormatFloat(v, 'f', -1, 64)
		}
	}

	return Resolution{Intent: parsed, Fields: fields}
}

// extractJSON strips markdown code fences and surrounding prose, returning
// the outermost JSON object in the content, or "" when none is present.
func extractJSON(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || end < start {
		return ""
	}
	return content[start : end+1]
}
