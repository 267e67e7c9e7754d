package row

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
)

// Value is a sealed interface representing the constrained set of value
// kinds a domain row may carry. Only Null, String, Int, Float, Bool,
// Array, and Object implement it.
type Value interface {
	rowValue() // Sealed - only these types implement it
}

// Null represents an explicit JSON null. A column absent from a Row and a
// column set to Null both store SQL NULL; Null exists so a partial update
// can clear a field.
type Null struct{}

func (Null) rowValue() {}

// MarshalJSON implements json.Marshaler for Null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// String represents a text value.
type String string

func (String) rowValue() {}

// Int represents an integer value. Always int64.
type Int int64

func (Int) rowValue() {}

// Float represents a decimal value (biometric readings are rarely whole
// numbers). NaN and infinities are rejected at serialization time.
type Float float64

func (Float) rowValue() {}

// Bool represents a boolean value. Stored in SQLite as 0/1.
type Bool bool

func (Bool) rowValue() {}

// Array represents an ordered list of values.
type Array []Value

func (Array) rowValue() {}

// Object represents a nested JSON object. Nested objects are stored as
// canonical JSON text in a single column.
type Object map[string]Value

func (Object) rowValue() {}

// Row is a domain row payload: column name to value.
type Row map[string]Value

// SortedKeys returns the row's column names in bytewise order for
// deterministic iteration.
func (r Row) SortedKeys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// SortedKeys returns the object's keys in bytewise order.
func (o Object) SortedKeys() []string {
	keys := make([]string, 0, len(o))
	for k := range o {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a shallow copy of the row. Values are immutable by
// convention so a shallow copy is sufficient.
func (r Row) Clone() Row {
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Merge returns a new row with updates overlaid on r. An update whose
// value is Null removes the column (cleared fields are absent, matching
// SQL NULL storage).
func (r Row) Merge(updates Row) Row {
	out := r.Clone()
	for k, v := range updates {
		if _, isNull := v.(Null); isNull {
			delete(out, k)
			continue
		}
		out[k] = v
	}
	return out
}

// FromJSON parses a JSON object into a Row. Numbers without a fractional
// part or exponent become Int; everything else numeric becomes Float.
func FromJSON(data []byte) (Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse row: %w", err)
	}

	r := make(Row, len(raw))
	for k, v := range raw {
		val, err := FromAny(v)
		if err != nil {
			return nil, fmt.Errorf("row key %q: %w", k, err)
		}
		r[k] = val
	}
	return r, nil
}

// ValueFromJSON parses any JSON value (object, array, or scalar) into a
// Value. Used when reading JSON blob columns back out of storage.
func ValueFromJSON(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("parse value: %w", err)
	}
	return FromAny(raw)
}

// FromAny converts a decoded JSON value (as produced by json.Decoder with
// UseNumber) into a Value.
func FromAny(v any) (Value, error) {
	switch val := v.(type) {
	case nil:
		return Null{}, nil
	case bool:
		return Bool(val), nil
	case string:
		return String(val), nil
	case json.Number:
		if i, err := val.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := val.Float64()
		if err != nil {
			return nil, fmt.Errorf("number out of range: %s", val)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return nil, fmt.Errorf("non-finite number: %s", val)
		}
		return Float(f), nil
	case float64:
		if val == math.Trunc(val) && !math.IsInf(val, 0) && math.Abs(val) < 1<<53 {
			return Int(int64(val)), nil
		}
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return nil, fmt.Errorf("non-finite number: %v", val)
		}
		return Float(val), nil
	case int:
		return Int(int64(val)), nil
	case int64:
		return Int(val), nil
	case []any:
		arr := make(Array, len(val))
		for i, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("array[%d]: %w", i, err)
			}
			arr[i] = conv
		}
		return arr, nil
	case map[string]any:
		obj := make(Object, len(val))
		for k, elem := range val {
			conv, err := FromAny(elem)
			if err != nil {
				return nil, fmt.Errorf("object[%q]: %w", k, err)
			}
			obj[k] = conv
		}
		return obj, nil
	default:
		return nil, fmt.Errorf("unsupported value type: %T", v)
	}
}
