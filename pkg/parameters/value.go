package parameters

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/systmms/dsstore/pkg/errkind"
	"github.com/systmms/dsstore/pkg/provider"
)

// Value is a parameter payload together with its declared format.
type Value struct {
	Format provider.Format
	Data   []byte
}

// TextValue wraps s as an UNFORMATTED value.
func TextValue(s string) Value {
	return Value{Format: provider.FormatUnformatted, Data: []byte(s)}
}

// JSONValue encodes v as a JSON value. A string or []byte is taken as an
// already encoded document and only checked.
func JSONValue(v interface{}) (Value, error) {
	data, err := encode(provider.FormatJSON, v, json.Marshal)
	if err != nil {
		return Value{}, err
	}
	return Value{Format: provider.FormatJSON, Data: data}, nil
}

// YAMLValue encodes v as a YAML value. A string or []byte is taken as an
// already encoded document and only checked.
func YAMLValue(v interface{}) (Value, error) {
	data, err := encode(provider.FormatYAML, v, yaml.Marshal)
	if err != nil {
		return Value{}, err
	}
	return Value{Format: provider.FormatYAML, Data: data}, nil
}

func encode(format provider.Format, v interface{}, marshal func(interface{}) ([]byte, error)) ([]byte, error) {
	var data []byte
	switch t := v.(type) {
	case string:
		data = []byte(t)
	case []byte:
		data = append([]byte(nil), t...)
	default:
		var err error
		data, err = marshal(v)
		if err != nil {
			return nil, errkind.Newf(errkind.InvalidArgument, "", "", "cannot encode %T as %s: %v", v, format, err)
		}
	}
	if err := ValidateData(format, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Decode unmarshals the value into out. UNFORMATTED values decode only
// into *string or *[]byte.
func (v Value) Decode(out interface{}) error {
	switch v.Format {
	case provider.FormatJSON:
		if err := json.Unmarshal(v.Data, out); err != nil {
			return errkind.Newf(errkind.InvalidArgument, "", "", "decode JSON value: %v", err)
		}
		return nil
	case provider.FormatYAML:
		if err := yaml.Unmarshal(v.Data, out); err != nil {
			return errkind.Newf(errkind.InvalidArgument, "", "", "decode YAML value: %v", err)
		}
		return nil
	case provider.FormatUnformatted, "":
		switch t := out.(type) {
		case *string:
			*t = string(v.Data)
		case *[]byte:
			*t = append([]byte(nil), v.Data...)
		default:
			return errkind.Newf(errkind.InvalidArgument, "", "", "an UNFORMATTED value cannot decode into %T", out)
		}
		return nil
	default:
		return errkind.Newf(errkind.InvalidArgument, "", "", "unknown format %q", v.Format)
	}
}

// String returns the raw data as text.
func (v Value) String() string { return string(v.Data) }

// GoString keeps values out of %#v output.
func (v Value) GoString() string {
	return fmt.Sprintf("parameters.Value{Format: %q, Data: <%d bytes>}", v.Format, len(v.Data))
}
