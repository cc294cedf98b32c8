// Package graph provides the core graph execution engine: the message state
// machine, the node/edge/decision abstractions, and the sequential runner
// that walks a graph from entry point to a terminal or WAITING message.
package graph

import (
	"bytes"
	"encoding/json"
	"sort"
)

// Value is a tagged-variant container for the heterogeneous, string-keyed
// data carried on a Message (data, metadata) and on a DecisionResult
// (metadata). It round-trips through JSON preserving nested maps, ordered
// sequences, strings, 64-bit integers, floats, booleans, and null.
//
// Rather than a generic type parameter, every component shares one closed,
// serializable value representation.
type Value struct {
	kind Kind
	str  string
	i64  int64
	f64  float64
	b    bool
	seq  []Value
	m    map[string]Value
}

// Kind identifies which variant a Value currently holds.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInt64
	KindFloat64
	KindBool
	KindSeq
	KindMap
)

// Kind reports which variant v currently holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is the null variant (including the zero Value).
func (v Value) IsNull() bool { return v.kind == KindNull }

// StringValue constructs a string Value.
func StringValue(s string) Value { return Value{kind: KindString, str: s} }

// Int64Value constructs an integer Value.
func Int64Value(i int64) Value { return Value{kind: KindInt64, i64: i} }

// Float64Value constructs a floating-point Value.
func Float64Value(f float64) Value { return Value{kind: KindFloat64, f64: f} }

// BoolValue constructs a boolean Value.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// SeqValue constructs an ordered-sequence Value.
func SeqValue(items []Value) Value { return Value{kind: KindSeq, seq: items} }

// MapValue constructs a string-keyed map Value.
func MapValue(m map[string]Value) Value { return Value{kind: KindMap, m: m} }

// NullValue returns the null Value.
func NullValue() Value { return Value{kind: KindNull} }

// AsString returns v's string payload and whether v holds KindString.
func (v Value) AsString() (string, bool) {
	if v.kind != KindString {
		return "", false
	}
	return v.str, true
}

// AsInt64 returns v's integer payload and whether v holds KindInt64.
// Under typical JSON serialization tolerances, decoders may widen integers to
// 64-bit; callers that need this tolerance should also try AsFloat64.
func (v Value) AsInt64() (int64, bool) {
	if v.kind != KindInt64 {
		return 0, false
	}
	return v.i64, true
}

// AsFloat64 returns v's float payload and whether v holds KindFloat64.
func (v Value) AsFloat64() (float64, bool) {
	if v.kind != KindFloat64 {
		return 0, false
	}
	return v.f64, true
}

// AsBool returns v's boolean payload and whether v holds KindBool.
func (v Value) AsBool() (bool, bool) {
	if v.kind != KindBool {
		return false, false
	}
	return v.b, true
}

// AsSeq returns v's sequence payload and whether v holds KindSeq.
func (v Value) AsSeq() ([]Value, bool) {
	if v.kind != KindSeq {
		return nil, false
	}
	return v.seq, true
}

// AsMap returns v's map payload and whether v holds KindMap.
func (v Value) AsMap() (map[string]Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	return v.m, true
}

// ValueOf converts a plain Go value (as produced by encoding/json.Unmarshal
// into interface{}, or constructed directly by callers) into a Value.
// Unsupported types produce the null Value.
func ValueOf(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return NullValue()
	case Value:
		return t
	case string:
		return StringValue(t)
	case bool:
		return BoolValue(t)
	case int:
		return Int64Value(int64(t))
	case int32:
		return Int64Value(int64(t))
	case int64:
		return Int64Value(t)
	case float32:
		return Float64Value(float64(t))
	case float64:
		return Float64Value(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int64Value(i)
		}
		if f, err := t.Float64(); err == nil {
			return Float64Value(f)
		}
		return StringValue(t.String())
	case []interface{}:
		items := make([]Value, len(t))
		for i, e := range t {
			items[i] = ValueOf(e)
		}
		return SeqValue(items)
	case []Value:
		return SeqValue(t)
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = ValueOf(e)
		}
		return MapValue(m)
	case map[string]Value:
		return MapValue(t)
	default:
		return NullValue()
	}
}

// Interface converts v back into a plain Go value suitable for
// encoding/json.Marshal or for callers that prefer type switches over typed
// accessors.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindInt64:
		return v.i64
	case KindFloat64:
		return v.f64
	case KindBool:
		return v.b
	case KindSeq:
		out := make([]interface{}, len(v.seq))
		for i, e := range v.seq {
			out[i] = e.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.m))
		for k, e := range v.m {
			out[k] = e.Interface()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON implements json.Unmarshaler, decoding integers that fit into
// int64 as KindInt64 and all other numbers as KindFloat64.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	*v = ValueOf(raw)
	return nil
}

// ValueMap is a convenience alias used for Message.data and Message.metadata.
type ValueMap map[string]Value

// Get returns the value stored under key, or the null Value if absent.
func (m ValueMap) Get(key string) Value {
	if m == nil {
		return NullValue()
	}
	v, ok := m[key]
	if !ok {
		return NullValue()
	}
	return v
}

// With returns a new ValueMap with key set to value, leaving m unmodified.
// Message fields are immutable; this is the copy-on-write primitive every
// Message.With* builder uses.
func (m ValueMap) With(key string, value Value) ValueMap {
	out := make(ValueMap, len(m)+1)
	for k, v := range m {
		out[k] = v
	}
	out[key] = value
	return out
}

// Merge returns a new ValueMap containing m's entries overlaid with delta's.
func (m ValueMap) Merge(delta ValueMap) ValueMap {
	out := make(ValueMap, len(m)+len(delta))
	for k, v := range m {
		out[k] = v
	}
	for k, v := range delta {
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy of m (Values themselves are immutable).
func (m ValueMap) Clone() ValueMap {
	out := make(ValueMap, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// SortedKeys returns m's keys in lexical order, useful for deterministic
// iteration (e.g. when building decision metadata keys).
func (m ValueMap) SortedKeys() []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
