// Package schema derives JSON Schema descriptors from Go types and decodes
// service payloads into those types, reporting shape mismatches as
// *apierror.ValidationError
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"strconv"
	"strings"

	"github.com/Almahr1/skrape/internal/apierror"
	"github.com/google/jsonschema-go/jsonschema"
)

// For derives the schema sent to the extract endpoint from T. Required
// properties follow encoding/json: fields without omitempty are required.
func For[T any]() (*jsonschema.Schema, error) {
	s, err := jsonschema.For[T](nil)
	if err != nil {
		var zero T
		return nil, apierror.Invalid("cannot derive schema for %T: %v", zero, err)
	}
	return s, nil
}

// Decode validates raw against s and unmarshals it into a T. A null
// property counts as absent and properties s does not describe are
// ignored. Any violation produces *apierror.ValidationError.
func Decode[T any](raw json.RawMessage, s *jsonschema.Schema) (T, error) {
	var out T

	if len(bytes.TrimSpace(raw)) == 0 {
		return out, &apierror.ValidationError{Message: "missing result payload"}
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return out, &apierror.ValidationError{Message: "invalid JSON", Err: err}
	}
	if s != nil {
		if err := Validate(s, generic); err != nil {
			return out, err
		}
	}

	if err := Unmarshal(raw, &out); err != nil {
		return out, err
	}
	return out, nil
}

// Validate checks a decoded JSON value against s
func Validate(s *jsonschema.Schema, value any) error {
	resolved, err := lenient(s).Resolve(nil)
	if err != nil {
		return apierror.Invalid("unusable schema: %v", err)
	}
	if err := resolved.Validate(dropNulls(value)); err != nil {
		return asSchemaViolation(err)
	}
	return nil
}

// Unmarshal decodes raw into v, converting type mismatches into *apierror.ValidationError
func Unmarshal(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(v); err != nil {
		return asValidation(err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return &apierror.ValidationError{Message: "unexpected data after JSON value"}
	}
	return nil
}

// lenient returns a copy of s that accepts properties it does not list.
// Derived struct schemas forbid them, but the service may add fields.
func lenient(s *jsonschema.Schema) *jsonschema.Schema {
	c := s.CloneSchemas()
	relax(c)
	return c
}

func relax(s *jsonschema.Schema) {
	if s == nil {
		return
	}
	if ap := s.AdditionalProperties; ap != nil && ap.Not != nil && reflect.ValueOf(*ap.Not).IsZero() {
		s.AdditionalProperties = nil
	}

	relax(s.Items)
	relax(s.AdditionalProperties)
	for _, sub := range s.Properties {
		relax(sub)
	}
	for _, sub := range s.Defs {
		relax(sub)
	}
	for _, list := range [][]*jsonschema.Schema{s.PrefixItems, s.AllOf, s.AnyOf, s.OneOf} {
		for _, sub := range list {
			relax(sub)
		}
	}
}

// dropNulls removes null object members so that optional and required
// checks treat them as missing
func dropNulls(value any) any {
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, field := range v {
			if field != nil {
				out[k] = dropNulls(field)
			}
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = dropNulls(item)
		}
		return out
	default:
		return value
	}
}

// asSchemaViolation turns the validator's nested "validating <pointer>: ..."
// message into a field path and the innermost reason
func asSchemaViolation(cause error) error {
	msg := cause.Error()
	pointer := ""
	for strings.HasPrefix(msg, "validating ") {
		rest := strings.TrimPrefix(msg, "validating ")
		i := strings.Index(rest, ": ")
		if i < 0 {
			break
		}
		pointer, msg = rest[:i], rest[i+2:]
	}

	field := fieldPath(pointer)
	if list, ok := strings.CutPrefix(msg, "required: missing properties: ["); ok {
		if name, err := strconv.QuotedPrefix(list); err == nil {
			if unquoted, err := strconv.Unquote(name); err == nil {
				return &apierror.ValidationError{Field: join(field, unquoted), Message: "field required"}
			}
		}
	}
	return &apierror.ValidationError{Field: field, Message: msg}
}

// fieldPath maps a schema pointer such as /properties/offers/items/properties/amount
// to offers[].amount
func fieldPath(pointer string) string {
	if pointer == "" || pointer == "root" {
		return ""
	}

	var b strings.Builder
	parts := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "properties":
			if i+1 < len(parts) {
				i++
				if b.Len() > 0 {
					b.WriteByte('.')
				}
				b.WriteString(parts[i])
			}
		case "items", "prefixItems":
			b.WriteString("[]")
		case "additionalProperties":
			b.WriteString(".*")
		}
	}
	return b.String()
}

func asValidation(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return &apierror.ValidationError{
			Field:   typeErr.Field,
			Message: fmt.Sprintf("expected %s, got JSON %s", typeErr.Type, typeErr.Value),
			Err:     err,
		}
	}
	return &apierror.ValidationError{Message: "invalid JSON", Err: err}
}

func join(path, name string) string {
	if path == "" {
		return name
	}
	return path + "." + name
}
