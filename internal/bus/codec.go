package bus

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Wire form of a typed message. Nested messages are encoded as nested
// wireMessage maps so a decoder can tell them apart from plain maps by the
// presence of both keys.
type wireMessage struct {
	Type   string     `cbor:"type"`
	Fields []wireField `cbor:"fields"`
}

type wireField struct {
	Name  string `cbor:"name"`
	Value any    `cbor:"value"`
}

// Encode serializes a message to its CBOR wire form.
func Encode(m *Message) ([]byte, error) {
	if m == nil {
		return nil, fmt.Errorf("bus: encode nil message")
	}
	return cbor.Marshal(toWire(m))
}

// Decode parses a CBOR wire form message.
func Decode(data []byte) (*Message, error) {
	var w wireMessage
	if err := cbor.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("bus: decode message: %w", err)
	}
	return fromWire(&w), nil
}

func toWire(m *Message) *wireMessage {
	w := &wireMessage{Type: m.Type, Fields: make([]wireField, 0, len(m.fields))}
	for _, f := range m.fields {
		w.Fields = append(w.Fields, wireField{Name: f.Name, Value: toWireValue(f.Value)})
	}
	return w
}

func toWireValue(v any) any {
	switch x := v.(type) {
	case *Message:
		return toWire(x)
	case []*Message:
		out := make([]any, len(x))
		for i, m := range x {
			out[i] = toWire(m)
		}
		return out
	default:
		return v
	}
}

func fromWire(w *wireMessage) *Message {
	m := NewMessage(w.Type)
	for _, f := range w.Fields {
		m.Set(f.Name, fromWireValue(f.Value))
	}
	return m
}

// fromWireValue rebuilds nested messages out of the generic maps the CBOR
// decoder produces, and recurses into sequences.
func fromWireValue(v any) any {
	switch x := v.(type) {
	case map[any]any:
		if m, ok := wireMapToMessage(x); ok {
			return m
		}
		return x
	case map[string]any:
		if m, ok := wireStringMapToMessage(x); ok {
			return m
		}
		return x
	case []any:
		out := make([]any, len(x))
		allMsgs := len(x) > 0
		for i, e := range x {
			out[i] = fromWireValue(e)
			if _, ok := out[i].(*Message); !ok {
				allMsgs = false
			}
		}
		if allMsgs {
			msgs := make([]*Message, len(out))
			for i, e := range out {
				msgs[i] = e.(*Message)
			}
			return msgs
		}
		return out
	default:
		return v
	}
}

func wireMapToMessage(m map[any]any) (*Message, bool) {
	t, hasType := m["type"].(string)
	fs, hasFields := m["fields"].([]any)
	if !hasType || !hasFields || len(m) != 2 {
		return nil, false
	}
	out := NewMessage(t)
	for _, f := range fs {
		var name string
		var value any
		switch fm := f.(type) {
		case map[any]any:
			name, _ = fm["name"].(string)
			value = fm["value"]
		case map[string]any:
			name, _ = fm["name"].(string)
			value = fm["value"]
		default:
			return nil, false
		}
		if name == "" {
			return nil, false
		}
		out.Set(name, fromWireValue(value))
	}
	return out, true
}

func wireStringMapToMessage(m map[string]any) (*Message, bool) {
	generic := make(map[any]any, len(m))
	for k, v := range m {
		generic[k] = v
	}
	return wireMapToMessage(generic)
}
