package core

import (
	"cx32hal/errcode"

	"gopkg.in/yaml.v3"
)

// As[T] asserts a payload to the concrete value type T.
// A nil payload is treated as the zero value of T. Pointers to T and
// generic maps (as decoded from YAML or JSON) are also accepted.
func As[T any](v any) (T, errcode.Code) {
	var zero T
	switch x := v.(type) {
	case nil:
		return zero, ""
	case T:
		return x, ""
	case *T:
		if x == nil {
			return zero, errcode.InvalidPayload
		}
		return *x, ""
	case map[string]any:
		var t T
		if err := Decode(x, &t); err != nil {
			return zero, errcode.InvalidPayload
		}
		return t, ""
	}
	return zero, errcode.InvalidPayload
}

// Decode re-encodes src through YAML into dst. It accepts maps, structs
// and raw YAML/JSON documents ([]byte or string).
func Decode[T any](src any, dst *T) error {
	switch v := src.(type) {
	case []byte:
		return yaml.Unmarshal(v, dst)
	case string:
		return yaml.Unmarshal([]byte(v), dst)
	default:
		b, err := yaml.Marshal(v)
		if err != nil {
			return err
		}
		return yaml.Unmarshal(b, dst)
	}
}
