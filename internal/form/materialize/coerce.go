package materialize

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/identi-digital/identi-modules-sub000/internal/form/capture"
	"github.com/identi-digital/identi-modules-sub000/internal/form/introspect"
)

// ErrCoercion is returned when an answer cannot be stored in its column
var ErrCoercion = errors.New("value cannot be coerced")

var dateLayouts = []struct {
	layout   string
	dateOnly bool
}{
	{time.RFC3339Nano, false},
	{"2006-01-02T15:04:05", false},
	{"2006-01-02 15:04:05", false},
	{"2006-01-02", true},
	{"02/01/2006", true},
}

// coerce converts a scalar or scalar-list answer to the column's Go value
func coerce(attr introspect.AttributeDescriptor, v capture.Value) (interface{}, error) {
	if v.IsNull() {
		return nil, nil
	}
	if isJSONColumn(attr) {
		doc, err := json.Marshal(v.Interface())
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCoercion, err)
		}
		return string(doc), nil
	}

	raw := v.Scalar()
	if v.Kind() == capture.KindScalarList {
		list := v.List()
		switch {
		case len(list) == 0:
			return nil, nil
		case len(list) == 1:
			raw = list[0]
		default:
			if attr.SemanticType != introspect.TextShort && attr.SemanticType != introspect.TextLong &&
				attr.SemanticType != introspect.Options {
				return nil, fmt.Errorf("%w: %d values for %s field", ErrCoercion, len(list), attr.SemanticType)
			}
			doc, err := json.Marshal(list)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrCoercion, err)
			}
			return string(doc), nil
		}
	}

	switch attr.SemanticType {
	case introspect.Number:
		return toNumber(raw)
	case introspect.Boolean:
		return toBool(raw)
	case introspect.Date:
		return toDate(raw)
	default:
		return toText(raw)
	}
}

func isJSONColumn(attr introspect.AttributeDescriptor) bool {
	return attr.ColumnType == "json" || attr.ColumnType == "jsonb"
}

func toText(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case string:
		return v, nil
	case json.Number:
		return v.String(), nil
	case bool:
		return strconv.FormatBool(v), nil
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	case map[string]interface{}:
		if ref, ok := mediaReference(v); ok {
			return ref, nil
		}
		doc, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCoercion, err)
		}
		return string(doc), nil
	}
	return fmt.Sprint(raw), nil
}

// mediaReference extracts the stored reference of an uploaded file
func mediaReference(obj map[string]interface{}) (string, bool) {
	for _, key := range []string{"url", "key"} {
		if s, ok := obj[key].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func toNumber(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i, nil
		}
		f, err := v.Float64()
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number", ErrCoercion, v)
		}
		return f, nil
	case float64:
		return v, nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		return toNumber(json.Number(strings.ReplaceAll(s, ",", ".")))
	case map[string]interface{}:
		if inner, ok := v["value"]; ok {
			return toNumber(inner)
		}
	}
	return nil, fmt.Errorf("%w: %v is not a number", ErrCoercion, raw)
}

func toBool(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case json.Number:
		return toBool(v.String())
	case float64:
		return v != 0, nil
	case string:
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "":
			return nil, nil
		case "true", "1", "yes", "y", "si", "sí":
			return true, nil
		case "false", "0", "no", "n":
			return false, nil
		}
	}
	return nil, fmt.Errorf("%w: %v is not a boolean", ErrCoercion, raw)
}

// toDate normalizes to ISO-8601: dates as YYYY-MM-DD, instants as RFC 3339 UTC
func toDate(raw interface{}) (interface{}, error) {
	switch v := raw.(type) {
	case time.Time:
		return v.UTC().Format(time.RFC3339), nil
	case json.Number:
		ms, err := v.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a timestamp", ErrCoercion, v)
		}
		return time.UnixMilli(ms).UTC().Format(time.RFC3339), nil
	case string:
		s := strings.TrimSpace(v)
		if s == "" {
			return nil, nil
		}
		for _, l := range dateLayouts {
			t, err := time.Parse(l.layout, s)
			if err != nil {
				continue
			}
			if l.dateOnly {
				return t.Format("2006-01-02"), nil
			}
			return t.UTC().Format(time.RFC3339), nil
		}
	}
	return nil, fmt.Errorf("%w: %v is not a date", ErrCoercion, raw)
}
