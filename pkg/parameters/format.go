package parameters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/systmms/dsstore/pkg/errkind"
	"github.com/systmms/dsstore/pkg/provider"
)

// MaxPayloadSize is the largest parameter payload, 1 MiB.
const MaxPayloadSize = 1 << 20

// ValidateData checks data against a format: JSON and YAML must parse,
// UNFORMATTED accepts anything within MaxPayloadSize.
func ValidateData(format provider.Format, data []byte) error {
	if len(data) > MaxPayloadSize {
		return errkind.Newf(errkind.InvalidArgument, "", "", "parameter data is %d bytes, limit is %d", len(data), MaxPayloadSize)
	}
	_, err := parse(format, data)
	return err
}

// parse decodes JSON and YAML documents into plain Go values. UNFORMATTED
// data is returned as nil.
func parse(format provider.Format, data []byte) (interface{}, error) {
	switch format {
	case provider.FormatUnformatted, "":
		return nil, nil
	case provider.FormatJSON:
		var v interface{}
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&v); err != nil {
			return nil, errkind.Newf(errkind.InvalidArgument, "", "", "invalid JSON: %v", err)
		}
		if dec.More() {
			return nil, errkind.New(errkind.InvalidArgument, "", "", "invalid JSON: trailing data after document")
		}
		return v, nil
	case provider.FormatYAML:
		var v interface{}
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, errkind.Newf(errkind.InvalidArgument, "", "", "invalid YAML: %v", err)
		}
		return normalize(v), nil
	default:
		return nil, errkind.Newf(errkind.InvalidArgument, "", "", "unknown format %q", format)
	}
}

// normalize turns YAML mappings with non-string keys into JSON-compatible
// maps.
func normalize(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, e := range t {
			t[k] = normalize(e)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, e := range t {
			out[fmt.Sprint(k)] = normalize(e)
		}
		return out
	case []interface{}:
		for i, e := range t {
			t[i] = normalize(e)
		}
		return t
	default:
		return v
	}
}

// Schema is a compiled JSON Schema applied to JSON and YAML parameter
// values.
type Schema struct {
	source string
	schema *gojsonschema.Schema
}

// CompileSchema compiles an inline JSON Schema document, or loads one from
// a file when source does not start with '{'.
func CompileSchema(source string) (*Schema, error) {
	var loader gojsonschema.JSONLoader
	trimmed := strings.TrimSpace(source)
	if strings.HasPrefix(trimmed, "{") {
		loader = gojsonschema.NewStringLoader(trimmed)
	} else {
		abs, err := filepath.Abs(trimmed)
		if err != nil {
			return nil, fmt.Errorf("schema path %q: %w", source, err)
		}
		loader = gojsonschema.NewReferenceLoader("file://" + filepath.ToSlash(abs))
		source = abs
	}
	s, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", source, err)
	}
	return &Schema{source: source, schema: s}, nil
}

// Validate checks data of the given format against the schema. UNFORMATTED
// data is not checked.
func (s *Schema) Validate(format provider.Format, data []byte) error {
	doc, err := parse(format, data)
	if err != nil || doc == nil {
		return err
	}
	result, err := s.schema.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return errkind.Newf(errkind.InvalidArgument, "", "", "schema validation error: %v", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return errkind.Newf(errkind.InvalidArgument, "", "", "schema validation failed: %s", strings.Join(msgs, "; "))
	}
	return nil
}
