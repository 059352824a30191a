// Package value provides an opaque container for dynamic JSON values at
// rest in caches, so callers never depend on encoding/json's untyped
// interface{} representation directly.
package value

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Kind tags the underlying shape of a Value.
type Kind int

const (
	Null Kind = iota
	Bool
	Number
	String
	Array
	Object
)

// Value is a structurally-comparable tagged variant over the JSON data
// model. Zero value is Null.
type Value struct {
	kind Kind
	b    bool
	n    float64
	s    string
	arr  []Value
	obj  map[string]Value
}

func (v Value) Kind() Kind { return v.kind }

func Of(raw interface{}) Value {
	switch t := raw.(type) {
	case nil:
		return Value{kind: Null}
	case bool:
		return Value{kind: Bool, b: t}
	case float64:
		return Value{kind: Number, n: t}
	case json.Number:
		f, _ := t.Float64()
		return Value{kind: Number, n: f}
	case int:
		return Value{kind: Number, n: float64(t)}
	case string:
		return Value{kind: String, s: t}
	case []interface{}:
		arr := make([]Value, len(t))
		for i, e := range t {
			arr[i] = Of(e)
		}
		return Value{kind: Array, arr: arr}
	case map[string]interface{}:
		obj := make(map[string]Value, len(t))
		for k, e := range t {
			obj[k] = Of(e)
		}
		return Value{kind: Object, obj: obj}
	case Value:
		return t
	default:
		// Fall back to a round-trip through JSON for struct-like inputs.
		b, err := json.Marshal(t)
		if err != nil {
			return Value{kind: Null}
		}
		var generic interface{}
		if err := json.Unmarshal(b, &generic); err != nil {
			return Value{kind: Null}
		}
		return Of(generic)
	}
}

// Interface returns the plain Go representation, matching what
// encoding/json would have produced for this value.
func (v Value) Interface() interface{} {
	switch v.kind {
	case Null:
		return nil
	case Bool:
		return v.b
	case Number:
		return v.n
	case String:
		return v.s
	case Array:
		out := make([]interface{}, len(v.arr))
		for i, e := range v.arr {
			out[i] = e.Interface()
		}
		return out
	case Object:
		out := make(map[string]interface{}, len(v.obj))
		for k, e := range v.obj {
			out[k] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var generic interface{}
	if err := json.Unmarshal(b, &generic); err != nil {
		return err
	}
	*v = Of(generic)
	return nil
}

// Equal reports structural equality between two Values.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case Null:
		return true
	case Bool:
		return v.b == other.b
	case Number:
		return v.n == other.n
	case String:
		return v.s == other.s
	case Array:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case Object:
		if len(v.obj) != len(other.obj) {
			return false
		}
		for k, e := range v.obj {
			oe, ok := other.obj[k]
			if !ok || !e.Equal(oe) {
				return false
			}
		}
		return true
	}
	return false
}

func (v Value) String() string {
	b, err := json.Marshal(v.Interface())
	if err != nil {
		return fmt.Sprintf("<invalid value: %s>", err)
	}
	return string(b)
}

// AsString returns the string payload and whether this Value is a String.
func (v Value) AsString() (string, bool) {
	if v.kind != String {
		return "", false
	}
	return v.s, true
}

// AsObject returns the backing map and whether this Value is an Object.
// Map iteration order is not defined; SortedKeys gives a stable order.
func (v Value) AsObject() (map[string]Value, bool) {
	if v.kind != Object {
		return nil, false
	}
	return v.obj, true
}

func (v Value) SortedKeys() []string {
	obj, ok := v.AsObject()
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
