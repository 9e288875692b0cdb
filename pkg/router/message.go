package router

import (
	"fmt"
	"maps"
	"strconv"
)

// Message is the mutable field mapping routed through a Router.
//
// Mounted and context routers receive the same map as their parent, so writes
// made anywhere in a dispatch tree are visible to the caller after Dispatch
// returns. Routers built WithCopyMessage work on a shallow copy instead.
type Message map[string]any

// Get returns the raw field value.
func (m Message) Get(key string) (any, bool) {
	value, ok := m[key]
	return value, ok
}

// Has reports whether the field is present, even when its value is nil.
func (m Message) Has(key string) bool {
	_, ok := m[key]
	return ok
}

func (m Message) Set(key string, value any) {
	m[key] = value
}

func (m Message) Delete(key string) {
	delete(m, key)
}

// String returns the field rendered as text. Absent fields and values with no
// textual form yield "".
func (m Message) String(key string) string {
	text, _ := fieldText(m[key])
	return text
}

// Clone returns a shallow copy of the message.
func (m Message) Clone() Message {
	if m == nil {
		return Message{}
	}

	return maps.Clone(m)
}

// fieldText renders a scalar field value for text and pattern matching. nil
// and values without a textual form report ok=false.
func fieldText(value any) (string, bool) {
	switch v := value.(type) {
	case nil:
		return "", false
	case string:
		return v, true
	case []byte:
		return string(v), true
	case fmt.Stringer:
		return v.String(), true
	case bool:
		return strconv.FormatBool(v), true
	case int:
		return strconv.Itoa(v), true
	case int64:
		return strconv.FormatInt(v, 10), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int8, int16, int32, uint, uint8, uint16, uint32, uint64, float32:
		return fmt.Sprint(v), true
	default:
		return "", false
	}
}

// fieldTexts renders a field value as the candidates a field condition is
// tried against. Lists yield one candidate per scalar element; anything else
// without a textual form yields none.
func fieldTexts(value any) []string {
	switch v := value.(type) {
	case []string:
		return v
	case []any:
		texts := make([]string, 0, len(v))
		for _, item := range v {
			if text, ok := fieldText(item); ok {
				texts = append(texts, text)
			}
		}
		return texts
	}

	if text, ok := fieldText(value); ok {
		return []string{text}
	}
	return nil
}
