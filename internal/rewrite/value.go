package rewrite

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/tidwall/gjson"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

var (
	ErrInvalidJSON = errors.New("rewrite: body is not valid JSON")
	ErrNotObject   = errors.New("rewrite: JSON root is not an object")
	ErrInvalidUTF8 = errors.New("rewrite: body is not valid UTF-8")
)

// Member is one key/value pair of an object, in document order.
type Member struct {
	Key   string
	Value *Value
}

// Value is a parsed JSON document node.
//
// Str holds the decoded text for KindString and the original literal for
// KindNumber, so numbers re-encode exactly as they were received.
type Value struct {
	Kind    Kind
	Str     string
	Bool    bool
	Items   []*Value
	Members []Member

	index map[string]int
}

func Null() *Value             { return &Value{Kind: KindNull} }
func Bool(b bool) *Value       { return &Value{Kind: KindBool, Bool: b} }
func Number(lit string) *Value { return &Value{Kind: KindNumber, Str: lit} }
func String(s string) *Value   { return &Value{Kind: KindString, Str: s} }
func Array(items ...*Value) *Value {
	return &Value{Kind: KindArray, Items: items}
}

// Object returns an empty object node.
func Object() *Value { return &Value{Kind: KindObject} }

// Get returns the member value stored under key.
func (v *Value) Get(key string) (*Value, bool) {
	if v == nil || v.Kind != KindObject {
		return nil, false
	}
	i, ok := v.lookup(key)
	if !ok {
		return nil, false
	}
	return v.Members[i].Value, true
}

// Set stores val under key. An existing key keeps its position and takes the new value.
func (v *Value) Set(key string, val *Value) {
	if v.Kind != KindObject {
		return
	}
	if i, ok := v.lookup(key); ok {
		v.Members[i].Value = val
		return
	}
	if v.index == nil {
		v.index = make(map[string]int, 8)
	}
	v.index[key] = len(v.Members)
	v.Members = append(v.Members, Member{Key: key, Value: val})
}

func (v *Value) lookup(key string) (int, bool) {
	if v.index != nil {
		i, ok := v.index[key]
		return i, ok
	}
	// objects assembled by hand may not have an index yet
	for i := range v.Members {
		if v.Members[i].Key == key {
			return i, true
		}
	}
	return 0, false
}

// ParseObject parses data into a Value tree. The root must be a JSON object
// and the text valid UTF-8, since re-encoding would replace bad bytes.
func ParseObject(data []byte) (*Value, error) {
	if !utf8.Valid(data) {
		return nil, ErrInvalidUTF8
	}
	if !gjson.ValidBytes(data) {
		return nil, ErrInvalidJSON
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, ErrNotObject
	}
	return fromResult(root), nil
}

func fromResult(r gjson.Result) *Value {
	switch r.Type {
	case gjson.True:
		return Bool(true)
	case gjson.False:
		return Bool(false)
	case gjson.Number:
		return Number(r.Raw)
	case gjson.String:
		return String(r.Str)
	case gjson.JSON:
		if r.IsArray() {
			arr := &Value{Kind: KindArray}
			r.ForEach(func(_, el gjson.Result) bool {
				arr.Items = append(arr.Items, fromResult(el))
				return true
			})
			return arr
		}
		obj := Object()
		r.ForEach(func(k, el gjson.Result) bool {
			obj.Set(k.Str, fromResult(el))
			return true
		})
		return obj
	default:
		return Null()
	}
}

// MarshalJSON encodes the tree as compact JSON.
func (v *Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v *Value) encode(buf *bytes.Buffer) error {
	if v == nil {
		buf.WriteString("null")
		return nil
	}
	switch v.Kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		if v.Bool {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case KindNumber:
		if v.Str == "" || !json.Valid([]byte(v.Str)) {
			return fmt.Errorf("rewrite: invalid number literal %q", v.Str)
		}
		buf.WriteString(v.Str)
	case KindString:
		return encodeString(buf, v.Str)
	case KindArray:
		buf.WriteByte('[')
		for i, it := range v.Items {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := it.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case KindObject:
		buf.WriteByte('{')
		for i, m := range v.Members {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encodeString(buf, m.Key); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := m.Value.encode(buf); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	default:
		return fmt.Errorf("rewrite: cannot encode %s", v.Kind)
	}
	return nil
}

func encodeString(buf *bytes.Buffer, s string) error {
	// urls carry & and friends, leave them readable
	var tmp bytes.Buffer
	enc := json.NewEncoder(&tmp)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	buf.Write(bytes.TrimSuffix(tmp.Bytes(), []byte{'\n'}))
	return nil
}
