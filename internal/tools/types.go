package tools

import (
	"context"
	"encoding/json"
)

// Type is a JSON Schema primitive type accepted in tool arguments.
type Type string

const (
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
)

// Property declares one argument: its type and optional bounds.
type Property struct {
	Type        Type      `json:"type"`
	Description string    `json:"description,omitempty"`
	Minimum     *float64  `json:"minimum,omitempty"`
	Maximum     *float64  `json:"maximum,omitempty"`
	MinLength   *int      `json:"minLength,omitempty"`
	MaxLength   *int      `json:"maxLength,omitempty"`
	Enum        []any     `json:"enum,omitempty"`
	Default     any       `json:"default,omitempty"`
	Items       *Property `json:"items,omitempty"`
}

// Schema is the object schema describing a tool's arguments. It marshals to
// standard JSON Schema so MCP clients can consume it unchanged.
type Schema struct {
	Type                 Type                `json:"type"`
	Properties           map[string]Property `json:"properties"`
	Required             []string            `json:"required,omitempty"`
	AdditionalProperties bool                `json:"additionalProperties"`
}

// Descriptor is the metadata a caller sees when listing tools.
type Descriptor struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	InputSchema Schema `json:"inputSchema"`
}

// Handler executes a tool. args has already been validated against the
// descriptor's schema; handlers decode it into their own argument struct.
type Handler func(ctx context.Context, args json.RawMessage) (any, error)

// Float returns a pointer for schema bounds.
func Float(v float64) *float64 { return &v }

// Int returns a pointer for schema length bounds.
func Int(v int) *int { return &v }

// Object builds a closed object schema from the given properties.
func Object(properties map[string]Property, required ...string) Schema {
	return Schema{Type: TypeObject, Properties: properties, Required: required}
}
