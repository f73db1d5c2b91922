package capture

import (
	"github.com/identi-digital/identi-modules-sub000/internal/form/tools"
)

const typeInputComposite = "composite"

// Field is a configured input as submitted with a schema
type Field = tools.InputField

// NormalizeField reduces an input to its canonical value. Composite inputs
// become a mapping of their children. Increasing inputs always yield a
// slice; others yield one value with a single {value: x} wrapper removed.
// A missing value falls back to the declared default.
func NormalizeField(f Field) interface{} {
	if f.TypeInput == typeInputComposite {
		out := make(map[string]interface{}, len(f.Fields))
		for _, child := range f.Fields {
			out[child.Name] = NormalizeField(child)
		}
		return out
	}

	value := f.Value
	if value == nil {
		value = f.Default
	}

	if !f.IsIncreasing {
		return unwrap(value)
	}

	switch v := value.(type) {
	case nil:
		return []interface{}{}
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, el := range v {
			out[i] = unwrap(el)
		}
		return out
	case []string:
		out := make([]interface{}, len(v))
		for i, el := range v {
			out[i] = el
		}
		return out
	default:
		return []interface{}{unwrap(v)}
	}
}

// SubmittedData normalizes basic then advanced inputs into one mapping.
// Advanced inputs win on name collisions.
func SubmittedData(basic, advanced []Field) map[string]interface{} {
	out := make(map[string]interface{}, len(basic)+len(advanced))
	for _, f := range basic {
		out[f.Name] = NormalizeField(f)
	}
	for _, f := range advanced {
		out[f.Name] = NormalizeField(f)
	}
	return out
}

func unwrap(v interface{}) interface{} {
	if m, ok := v.(map[string]interface{}); ok {
		if inner, ok := m["value"]; ok {
			return inner
		}
	}
	return v
}
