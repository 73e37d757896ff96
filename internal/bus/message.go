package bus

import "math"

// Field is one named value of a typed message. Field order is the order
// the message type declares, and is preserved end to end; the generic
// transcoder policy depends on it.
type Field struct {
	Name  string
	Value any
}

// Message is a typed bus message: a type name plus an ordered field set.
// Values are restricted to nil, bool, int64, uint64, float32, float64,
// string, []byte, numeric slices, nested *Message, and []*Message so the
// CBOR codec and the transcoder can handle every message without
// reflection on arbitrary structs.
type Message struct {
	Type   string
	fields []Field
	index  map[string]int
}

func NewMessage(typeName string) *Message {
	return &Message{Type: typeName, index: make(map[string]int)}
}

// Set appends or overwrites a field, returning the message for chaining.
func (m *Message) Set(name string, v any) *Message {
	if m.index == nil {
		m.index = make(map[string]int)
	}
	if i, ok := m.index[name]; ok {
		m.fields[i].Value = v
		return m
	}
	m.index[name] = len(m.fields)
	m.fields = append(m.fields, Field{Name: name, Value: v})
	return m
}

func (m *Message) Get(name string) (any, bool) {
	i, ok := m.index[name]
	if !ok {
		return nil, false
	}
	return m.fields[i].Value, true
}

// Fields returns the ordered field enumeration. The slice is shared;
// callers must not mutate it.
func (m *Message) Fields() []Field {
	return m.fields
}

// Has reports whether every named field is present.
func (m *Message) Has(names ...string) bool {
	for _, n := range names {
		if _, ok := m.index[n]; !ok {
			return false
		}
	}
	return true
}

// AsFloat64 coerces any numeric value to float64.
func AsFloat64(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	}
	return 0, false
}

// AsInt coerces any integral value to int64. Floats are accepted only when
// they carry an integral value.
func AsInt(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint:
		return int64(x), true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	case uint64:
		return int64(x), true
	case float32:
		if float32(int64(x)) == x {
			return int64(x), true
		}
	case float64:
		if math.Trunc(x) == x {
			return int64(x), true
		}
	}
	return 0, false
}

func AsString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func AsBytes(v any) ([]byte, bool) {
	b, ok := v.([]byte)
	return b, ok
}

// AsFloat64Slice coerces numeric slices (including []any holding numbers)
// to []float64. Returns false if any element is non-numeric.
func AsFloat64Slice(v any) ([]float64, bool) {
	switch xs := v.(type) {
	case []float64:
		return xs, true
	case []float32:
		out := make([]float64, len(xs))
		for i, x := range xs {
			out[i] = float64(x)
		}
		return out, true
	case []int32:
		out := make([]float64, len(xs))
		for i, x := range xs {
			out[i] = float64(x)
		}
		return out, true
	case []int64:
		out := make([]float64, len(xs))
		for i, x := range xs {
			out[i] = float64(x)
		}
		return out, true
	case []any:
		out := make([]float64, len(xs))
		for i, x := range xs {
			f, ok := AsFloat64(x)
			if !ok {
				return nil, false
			}
			out[i] = f
		}
		return out, true
	}
	return nil, false
}

// AsMessageSlice coerces a field value holding nested messages.
func AsMessageSlice(v any) ([]*Message, bool) {
	switch xs := v.(type) {
	case []*Message:
		return xs, true
	case []any:
		out := make([]*Message, 0, len(xs))
		for _, x := range xs {
			m, ok := x.(*Message)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	}
	return nil, false
}
