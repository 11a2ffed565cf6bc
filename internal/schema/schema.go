// Package schema interprets the JSON-schema documents attached to content
// definitions: compilation into validators, structural comparison, and the
// top-level property facts the registry and post-processor depend on.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/google/go-cmp/cmp"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/Rrens/dyncontent/internal/domain"
)

const resourceURL = "definition.json"

// fieldNamePattern restricts indexer field names so they can be embedded in
// provider-native path expressions.
var fieldNamePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

// Document is a decoded JSON-schema object.
type Document struct {
	raw        json.RawMessage
	properties map[string]map[string]any
}

// Parse decodes raw and checks it is a JSON object.
func Parse(raw json.RawMessage) (*Document, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, errors.New("schema is empty")
	}

	var top map[string]any
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("schema must be a JSON object: %w", err)
	}

	doc := &Document{raw: raw, properties: map[string]map[string]any{}}
	if props, ok := top["properties"].(map[string]any); ok {
		for name, p := range props {
			prop, _ := p.(map[string]any)
			if prop == nil {
				prop = map[string]any{}
			}
			doc.properties[name] = prop
		}
	}
	return doc, nil
}

// Properties returns the sorted top-level property names.
func (d *Document) Properties() []string {
	names := make([]string, 0, len(d.properties))
	for name := range d.properties {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasProperty reports whether name is a top-level property.
func (d *Document) HasProperty(name string) bool {
	_, ok := d.properties[name]
	return ok
}

// Defaults returns the "default" value of every top-level property that
// declares one.
func (d *Document) Defaults() map[string]any {
	defaults := map[string]any{}
	for name, prop := range d.properties {
		if v, ok := prop["default"]; ok {
			defaults[name] = v
		}
	}
	return defaults
}

// CheckIndexerFields verifies every indexer field is a distinct top-level
// property with a safe name.
func (d *Document) CheckIndexerFields(fields []string) error {
	var details []string
	seen := make(map[string]bool, len(fields))
	for _, f := range fields {
		switch {
		case !fieldNamePattern.MatchString(f):
			details = append(details, fmt.Sprintf("%q: invalid field name", f))
		case seen[f]:
			details = append(details, fmt.Sprintf("%q: listed more than once", f))
		case !d.HasProperty(f):
			details = append(details, fmt.Sprintf("%q: not a top-level schema property", f))
		}
		seen[f] = true
	}
	if len(details) > 0 {
		return domain.Invalid("schema.CheckIndexerFields", "invalid indexer fields", details...)
	}
	return nil
}

// Validator checks payloads against a compiled schema.
type Validator struct {
	schema *jsonschema.Schema
}

// Compile builds a Validator, failing when raw is not a well-formed schema.
func Compile(raw json.RawMessage) (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(resourceURL, bytes.NewReader(raw)); err != nil {
		return nil, domain.Invalid("schema.Compile", "malformed schema", err.Error())
	}
	s, err := c.Compile(resourceURL)
	if err != nil {
		return nil, domain.Invalid("schema.Compile", "malformed schema", err.Error())
	}
	return &Validator{schema: s}, nil
}

// Validate checks payload. Failures are KindValidation errors whose details
// name the offending instance locations.
func (v *Validator) Validate(payload map[string]any) error {
	// Round-trip so Go numeric types reach the validator as JSON numbers.
	normalized, err := normalize(payload)
	if err != nil {
		return domain.Invalid("schema.Validate", "payload is not valid JSON", err.Error())
	}

	err = v.schema.Validate(normalized)
	if err == nil {
		return nil
	}

	var ve *jsonschema.ValidationError
	if errors.As(err, &ve) {
		return domain.Invalid("schema.Validate", "payload does not match schema", leafMessages(ve)...)
	}
	return domain.Invalid("schema.Validate", "payload does not match schema", err.Error())
}

func leafMessages(ve *jsonschema.ValidationError) []string {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		return []string{fmt.Sprintf("%s: %s", loc, ve.Message)}
	}
	var out []string
	for _, c := range ve.Causes {
		out = append(out, leafMessages(c)...)
	}
	return out
}

func normalize(payload map[string]any) (any, error) {
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}

// Equal reports whether two schema documents are structurally identical,
// ignoring key order and whitespace.
func Equal(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return false
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	return cmp.Equal(av, bv)
}

// ApplyDefaults returns a copy of payload with the top-level defaults of the
// schema filled in for absent fields. payload itself is left untouched.
func ApplyDefaults(raw json.RawMessage, payload map[string]any) (map[string]any, error) {
	doc, err := Parse(raw)
	if err != nil {
		return nil, err
	}

	out := make(map[string]any, len(payload))
	for k, v := range payload {
		out[k] = v
	}
	for k, v := range doc.Defaults() {
		if _, ok := out[k]; !ok {
			out[k] = v
		}
	}
	return out, nil
}

// Project copies the indexer fields present in payload.
func Project(payload map[string]any, fields []string) map[string]any {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		if v, ok := payload[f]; ok {
			out[f] = v
		}
	}
	return out
}
