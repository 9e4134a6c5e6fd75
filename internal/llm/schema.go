package llm

import (
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Kind is the JSON type a Field must hold.
type Kind string

const (
	KindObject Kind = "object"
	KindArray  Kind = "array"
	KindString Kind = "string"
	KindNumber Kind = "number"
	KindBool   Kind = "boolean"
	// KindAny accepts any JSON value.
	KindAny Kind = "any"
)

// Field describes one JSON member.
type Field struct {
	Name        string
	Kind        Kind
	Required    bool
	Description string
	// Fields lists members of an object; an object without Fields accepts
	// any members.
	Fields []Field
	// Items describes array elements.
	Items *Field
}

// Schema is the shape a structured completion must satisfy.
type Schema struct {
	Name string
	Root Field
}

// SchemaError reports the first shape violation found.
type SchemaError struct {
	Path   string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema violation at %s: %s", e.Path, e.Reason)
}

// Validate checks doc against the schema.
func (s *Schema) Validate(doc []byte) error {
	if s == nil {
		return nil
	}
	if !gjson.ValidBytes(doc) {
		return errors.New("schema violation: invalid json")
	}
	return validateField("$", s.Root, gjson.ParseBytes(doc))
}

func validateField(path string, field Field, value gjson.Result) error {
	if !value.Exists() || value.Type == gjson.Null {
		if field.Required {
			return &SchemaError{Path: path, Reason: "required value missing"}
		}
		return nil
	}
	switch field.Kind {
	case KindAny, "":
		return nil
	case KindString:
		if value.Type != gjson.String {
			return &SchemaError{Path: path, Reason: "expected string"}
		}
	case KindNumber:
		if value.Type != gjson.Number {
			return &SchemaError{Path: path, Reason: "expected number"}
		}
	case KindBool:
		if value.Type != gjson.True && value.Type != gjson.False {
			return &SchemaError{Path: path, Reason: "expected boolean"}
		}
	case KindObject:
		if !value.IsObject() {
			return &SchemaError{Path: path, Reason: "expected object"}
		}
		for _, child := range field.Fields {
			if err := validateField(path+"."+child.Name, child, value.Get(gjson.Escape(child.Name))); err != nil {
				return err
			}
		}
	case KindArray:
		if !value.IsArray() {
			return &SchemaError{Path: path, Reason: "expected array"}
		}
		if field.Items == nil {
			return nil
		}
		for i, item := range value.Array() {
			if err := validateField(fmt.Sprintf("%s[%d]", path, i), *field.Items, item); err != nil {
				return err
			}
		}
	default:
		return &SchemaError{Path: path, Reason: "unknown kind " + string(field.Kind)}
	}
	return nil
}

// Describe renders the schema as a JSON skeleton for prompt instructions.
func (s *Schema) Describe() string {
	if s == nil {
		return ""
	}
	var sb strings.Builder
	describeField(&sb, s.Root, 0)
	return sb.String()
}

func describeField(sb *strings.Builder, field Field, depth int) {
	indent := strings.Repeat("  ", depth)
	switch field.Kind {
	case KindObject:
		if len(field.Fields) == 0 {
			sb.WriteString("{ ... }")
			break
		}
		sb.WriteString("{\n")
		for i, child := range field.Fields {
			sb.WriteString(indent + "  ")
			sb.WriteString(`"` + child.Name + `": `)
			describeField(sb, child, depth+1)
			if i < len(field.Fields)-1 {
				sb.WriteString(",")
			}
			sb.WriteString("\n")
		}
		sb.WriteString(indent + "}")
	case KindArray:
		sb.WriteString("[")
		if field.Items != nil {
			describeField(sb, *field.Items, depth)
		}
		sb.WriteString(", ...]")
	default:
		kind := field.Kind
		if kind == "" {
			kind = KindAny
		}
		sb.WriteString("<" + string(kind))
		if field.Required {
			sb.WriteString(", required")
		}
		if field.Description != "" {
			sb.WriteString(": " + field.Description)
		}
		sb.WriteString(">")
	}
}
