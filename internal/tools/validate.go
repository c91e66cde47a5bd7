package tools

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/xeipuuv/gojsonschema"
)

const rootField = "(root)"

// FieldError names one offending argument.
type FieldError struct {
	Field   string
	Message string
}

// ArgumentError collects every schema violation found in a call's arguments.
// Handlers may also return it for semantic checks the schema cannot express.
type ArgumentError struct {
	Fields []FieldError
}

// NewArgumentError builds an ArgumentError for a single field.
func NewArgumentError(field, format string, args ...any) *ArgumentError {
	return &ArgumentError{Fields: []FieldError{{Field: field, Message: fmt.Sprintf(format, args...)}}}
}

func (e *ArgumentError) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		msgs = append(msgs, f.Message)
	}
	return strings.Join(msgs, "; ")
}

// FieldNames returns the offending field names in report order.
func (e *ArgumentError) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Field)
	}
	return names
}

// normalizeArgs maps absent or null arguments to an empty object.
func normalizeArgs(args json.RawMessage) json.RawMessage {
	trimmed := bytes.TrimSpace(args)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return json.RawMessage("{}")
	}
	return trimmed
}

// Validate checks args against the tool's compiled schema.
func (t *Tool) Validate(args json.RawMessage) error {
	doc := normalizeArgs(args)
	if doc[0] != '{' {
		return NewArgumentError(rootField, "arguments must be an object")
	}

	result, err := t.schema.Validate(gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return NewArgumentError(rootField, "arguments could not be read: %v", err)
	}
	if result.Valid() {
		return nil
	}

	fields := make([]FieldError, 0, len(result.Errors()))
	for _, re := range result.Errors() {
		fields = append(fields, describe(re))
	}
	sort.SliceStable(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
	return &ArgumentError{Fields: fields}
}

func describe(re gojsonschema.ResultError) FieldError {
	details := re.Details()
	switch re.Type() {
	case "required":
		name := detailString(details, "property")
		return FieldError{Field: name, Message: fmt.Sprintf("missing required argument '%s'", name)}
	case "additional_property_not_allowed":
		name := detailString(details, "property")
		return FieldError{Field: name, Message: fmt.Sprintf("unexpected argument '%s'", name)}
	case "invalid_type":
		return FieldError{
			Field:   re.Field(),
			Message: fmt.Sprintf("argument '%s' must be %s, got %s", re.Field(), detailString(details, "expected"), detailString(details, "given")),
		}
	default:
		return FieldError{
			Field:   re.Field(),
			Message: fmt.Sprintf("argument '%s' is invalid: %s", re.Field(), lowerFirst(re.Description())),
		}
	}
}

func detailString(details gojsonschema.ErrorDetails, key string) string {
	if v, ok := details[key]; ok {
		return fmt.Sprint(v)
	}
	return ""
}

func lowerFirst(s string) string {
	for i, r := range s {
		return string(unicode.ToLower(r)) + s[i+len(string(r)):]
	}
	return s
}

// DecodeArgs decodes validated arguments into v. Absent arguments decode as {}.
// A value that passed the schema but does not fit its Go type, such as an
// integer outside int64, is reported against its own field.
func DecodeArgs(args json.RawMessage, v any) error {
	err := json.Unmarshal(normalizeArgs(args), v)
	if err == nil {
		return nil
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		return NewArgumentError(typeErr.Field, "argument '%s' is out of range: %s does not fit %s", typeErr.Field, typeErr.Value, typeErr.Type)
	}
	return NewArgumentError(rootField, "arguments could not be decoded: %v", err)
}
