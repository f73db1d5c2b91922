// Package capture models submitted answers. Entity references are
// recognized by shape, never by the advisory semantic type a client sends.
package capture

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind discriminates the Value union
type Kind int

const (
	KindScalar Kind = iota
	KindEntityRef
	KindEntityRefList
	KindScalarList
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindEntityRef:
		return "entity_ref"
	case KindEntityRefList:
		return "entity_ref_list"
	case KindScalarList:
		return "scalar_list"
	}
	return "unknown"
}

// EntityRef points at a row of another entity
type EntityRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
}

// Value is one classified answer. Build it with Classify.
type Value struct {
	kind   Kind
	scalar interface{}
	refs   []EntityRef
	list   []interface{}
}

// Classify inspects the decoded JSON shape of an answer. A single object is
// an entity reference when it has both id and displayName. A non-empty list
// is a reference list when every element is an object with an id.
func Classify(raw interface{}) Value {
	switch v := raw.(type) {
	case map[string]interface{}:
		if ref, ok := asRef(v, true); ok {
			return Value{kind: KindEntityRef, refs: []EntityRef{ref}}
		}
		return Value{kind: KindScalar, scalar: v}

	case []interface{}:
		if len(v) > 0 {
			refs := make([]EntityRef, 0, len(v))
			for _, el := range v {
				obj, ok := el.(map[string]interface{})
				if !ok {
					break
				}
				ref, ok := asRef(obj, false)
				if !ok {
					break
				}
				refs = append(refs, ref)
			}
			if len(refs) == len(v) {
				return Value{kind: KindEntityRefList, refs: refs}
			}
		}
		return Value{kind: KindScalarList, list: append([]interface{}{}, v...)}
	}
	return Value{kind: KindScalar, scalar: raw}
}

func asRef(obj map[string]interface{}, requireDisplayName bool) (EntityRef, bool) {
	rawID, ok := obj["id"]
	if !ok {
		return EntityRef{}, false
	}
	id, ok := idString(rawID)
	if !ok {
		return EntityRef{}, false
	}
	rawName, hasName := obj["displayName"]
	if requireDisplayName && !hasName {
		return EntityRef{}, false
	}
	ref := EntityRef{ID: id}
	if hasName && rawName != nil {
		ref.DisplayName = fmt.Sprint(rawName)
	}
	return ref, true
}

func idString(v interface{}) (string, bool) {
	switch id := v.(type) {
	case string:
		return id, id != ""
	case json.Number:
		return id.String(), true
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64), true
	case int:
		return strconv.Itoa(id), true
	case int64:
		return strconv.FormatInt(id, 10), true
	}
	return "", false
}

// Kind returns the discriminator
func (v Value) Kind() Kind { return v.kind }

// IsNull reports an absent scalar answer
func (v Value) IsNull() bool { return v.kind == KindScalar && v.scalar == nil }

// Scalar returns the raw scalar. Only meaningful for KindScalar.
func (v Value) Scalar() interface{} { return v.scalar }

// Ref returns the single entity reference
func (v Value) Ref() (EntityRef, bool) {
	if v.kind != KindEntityRef {
		return EntityRef{}, false
	}
	return v.refs[0], true
}

// Refs returns the reference list
func (v Value) Refs() []EntityRef {
	if v.kind != KindEntityRefList {
		return nil
	}
	return append([]EntityRef(nil), v.refs...)
}

// List returns the scalar list
func (v Value) List() []interface{} {
	if v.kind != KindScalarList {
		return nil
	}
	return append([]interface{}{}, v.list...)
}

// Interface returns the plain JSON-compatible form of the value
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindEntityRef:
		return v.refs[0]
	case KindEntityRefList:
		return append([]EntityRef{}, v.refs...)
	case KindScalarList:
		return append([]interface{}{}, v.list...)
	}
	return v.scalar
}

// WithDisplayNames returns a copy whose references carry names from lookup.
// References that already have a name are kept.
func (v Value) WithDisplayNames(lookup func(id string) (string, bool)) Value {
	if v.kind != KindEntityRef && v.kind != KindEntityRefList {
		return v
	}
	out := v
	out.refs = make([]EntityRef, len(v.refs))
	for i, ref := range v.refs {
		if ref.DisplayName == "" {
			if name, ok := lookup(ref.ID); ok {
				ref.DisplayName = name
			}
		}
		out.refs[i] = ref
	}
	return out
}

// DetailItem is one submitted answer. Raw keeps the value exactly as
// submitted so stored submissions are never rewritten.
type DetailItem struct {
	Name         string
	Value        Value
	SemanticType string
	Raw          json.RawMessage
}

type detailItemJSON struct {
	Name         string          `json:"name"`
	Value        json.RawMessage `json:"value"`
	SemanticType string          `json:"semanticType,omitempty"`
}

// NewDetailItem builds an item from an already decoded value
func NewDetailItem(name string, value interface{}) (DetailItem, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return DetailItem{}, fmt.Errorf("detail %s: %w", name, err)
	}
	return DetailItem{Name: name, Value: Classify(value), Raw: raw}, nil
}

// UnmarshalJSON implements json.Unmarshaler
func (d *DetailItem) UnmarshalJSON(data []byte) error {
	var aux detailItemJSON
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	if aux.Name == "" {
		return fmt.Errorf("detail item without name")
	}

	var decoded interface{}
	if len(aux.Value) > 0 {
		dec := json.NewDecoder(bytes.NewReader(aux.Value))
		dec.UseNumber()
		if err := dec.Decode(&decoded); err != nil {
			return fmt.Errorf("detail %s: %w", aux.Name, err)
		}
	}

	d.Name = aux.Name
	d.SemanticType = aux.SemanticType
	d.Raw = append(json.RawMessage(nil), aux.Value...)
	d.Value = Classify(decoded)
	return nil
}

// MarshalJSON writes the submitted value verbatim
func (d DetailItem) MarshalJSON() ([]byte, error) {
	raw := d.Raw
	if len(raw) == 0 {
		var err error
		raw, err = json.Marshal(d.Value.Interface())
		if err != nil {
			return nil, err
		}
	}
	return json.Marshal(detailItemJSON{Name: d.Name, Value: raw, SemanticType: d.SemanticType})
}

// ParseDetail decodes a submitted detail array
func ParseDetail(data []byte) ([]DetailItem, error) {
	var items []DetailItem
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, fmt.Errorf("invalid detail: %w", err)
	}
	return items, nil
}
