package devrun

import (
	"encoding/json"
	"strings"

	"github.com/zoobzio/sentinel"
)

// requiredFields lists the JSON names a frame of type T must carry.
// A field is required unless its json tag has omitempty.
func requiredFields[T any]() []string {
	metadata := sentinel.Inspect[T]()
	return buildRequiredFields(metadata.Fields)
}

// missingFields returns the required JSON names of T absent from fields.
func missingFields[T any](fields map[string]json.RawMessage) []string {
	var missing []string
	for _, name := range requiredFields[T]() {
		if _, ok := fields[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// buildRequiredFields determines which fields are required.
func buildRequiredFields(fields []sentinel.FieldMetadata) []string {
	var required []string

	for _, field := range fields {
		jsonName := getJSONFieldName(field)
		if jsonName == "-" {
			continue
		}

		if !hasOmitempty(field) {
			required = append(required, jsonName)
		}
	}

	return required
}

// getJSONFieldName extracts the JSON field name from metadata.
func getJSONFieldName(field sentinel.FieldMetadata) string {
	if jsonTag, ok := field.Tags["json"]; ok {
		parts := strings.Split(jsonTag, ",")
		if len(parts) > 0 && parts[0] != "" {
			return parts[0]
		}
	}
	return field.Name
}

// hasOmitempty checks if the json tag contains omitempty.
func hasOmitempty(field sentinel.FieldMetadata) bool {
	if jsonTag, ok := field.Tags["json"]; ok {
		return strings.Contains(jsonTag, "omitempty")
	}
	return false
}
