package router

import (
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

type conditionKind uint8

const (
	kindConst conditionKind = iota
	kindText
	kindPattern
	kindFields
	kindAnyOf
	kindCapability
	kindFunc
)

// Condition is a declared match condition. Build a Condition with one of the
// constructors or convert a plain value with ToCondition. The zero value is
// Const(false).
type Condition struct {
	kind    conditionKind
	value   bool
	text    string
	pattern *regexp.Regexp
	fields  []fieldCondition
	anyOf   []Condition
	name    string
	fn      Predicate
}

type fieldCondition struct {
	key  string
	cond Condition
}

// Predicate is a callable condition. A nil or false result is a non-match;
// any other value matches and is passed to the action as captured arguments.
type Predicate func(r *Run) (any, error)

// CapabilityRef names a registered capability. ToCondition turns it into a
// Named condition.
type CapabilityRef string

// Const returns a condition that always evaluates to v.
func Const(v bool) Condition {
	return Condition{kind: kindConst, value: v}
}

func Always() Condition { return Const(true) }

func Never() Condition { return Const(false) }

// Text matches when the leading words of the field equal s, ignoring case.
// "ping" matches "PING pong" but not "pingpong". The whole field value is
// captured.
func Text(s string) Condition {
	return Condition{kind: kindText, text: s}
}

// Pattern matches anywhere in the field. Capture groups become the action's
// arguments; without groups the whole match is captured.
func Pattern(re *regexp.Regexp) Condition {
	return Condition{kind: kindPattern, pattern: re}
}

// MustPattern compiles expr and panics when it is invalid.
func MustPattern(expr string) Condition {
	return Pattern(regexp.MustCompile(expr))
}

// Fields matches when every key is present and its value satisfies the
// paired condition. An empty map always matches.
func Fields(fields map[string]Condition) Condition {
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	out := make([]fieldCondition, 0, len(keys))
	for _, key := range keys {
		out = append(out, fieldCondition{key: key, cond: fields[key]})
	}

	return Condition{kind: kindFields, fields: out}
}

// AnyOf matches when at least one condition matches, trying them left to
// right. An empty list never matches.
func AnyOf(conds ...Condition) Condition {
	return Condition{kind: kindAnyOf, anyOf: slices.Clone(conds)}
}

// Named evaluates the capability registered under name.
func Named(name string) Condition {
	return Condition{kind: kindCapability, name: name}
}

// Func wraps a callable condition.
func Func(fn Predicate) Condition {
	return Condition{kind: kindFunc, fn: fn}
}

// ToCondition converts a plain value into a Condition.
//
// Accepted values: Condition, nil, bool, string, *regexp.Regexp,
// CapabilityRef, Predicate and the func forms listed below, slices (any-of)
// and string-keyed maps (field maps).
func ToCondition(value any) (Condition, error) {
	switch v := value.(type) {
	case Condition:
		return v, nil
	case nil:
		return Never(), nil
	case bool:
		return Const(v), nil
	case string:
		return Text(v), nil
	case *regexp.Regexp:
		if v == nil {
			return Condition{}, fmt.Errorf("%w: nil pattern", ErrInvalidCondition)
		}
		return Pattern(v), nil
	case CapabilityRef:
		return Named(string(v)), nil
	case Predicate:
		return Func(v), nil
	case func(*Run) (any, error):
		return Func(v), nil
	case func(*Run) bool:
		return Func(func(r *Run) (any, error) { return v(r), nil }), nil
	case func(Message) bool:
		return Func(func(r *Run) (any, error) { return v(r.msg), nil }), nil
	case func(Message) any:
		return Func(func(r *Run) (any, error) { return v(r.msg), nil }), nil
	case []Condition:
		return AnyOf(v...), nil
	case []string:
		conds := make([]Condition, 0, len(v))
		for _, s := range v {
			conds = append(conds, Text(s))
		}
		return AnyOf(conds...), nil
	case []any:
		conds := make([]Condition, 0, len(v))
		for i, item := range v {
			cond, err := ToCondition(item)
			if err != nil {
				return Condition{}, fmt.Errorf("element %d: %w", i, err)
			}
			conds = append(conds, cond)
		}
		return AnyOf(conds...), nil
	case map[string]Condition:
		return Fields(v), nil
	case map[string]string:
		fields := make(map[string]Condition, len(v))
		for key, s := range v {
			fields[key] = Text(s)
		}
		return Fields(fields), nil
	case map[string]any:
		fields := make(map[string]Condition, len(v))
		for key, item := range v {
			cond, err := ToCondition(item)
			if err != nil {
				return Condition{}, fmt.Errorf("field %q: %w", key, err)
			}
			fields[key] = cond
		}
		return Fields(fields), nil
	default:
		return Condition{}, fmt.Errorf("%w: unsupported value of type %T", ErrInvalidCondition, value)
	}
}

// String renders the condition for listings and logs.
func (c Condition) String() string {
	switch c.kind {
	case kindConst:
		return strconv.FormatBool(c.value)
	case kindText:
		return strconv.Quote(c.text)
	case kindPattern:
		if c.pattern == nil {
			return "/<nil>/"
		}
		return "/" + c.pattern.String() + "/"
	case kindFields:
		parts := make([]string, 0, len(c.fields))
		for _, f := range c.fields {
			parts = append(parts, f.key+": "+f.cond.String())
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case kindAnyOf:
		parts := make([]string, 0, len(c.anyOf))
		for _, item := range c.anyOf {
			parts = append(parts, item.String())
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case kindCapability:
		return ":" + c.name
	case kindFunc:
		return "func"
	default:
		return "unknown"
	}
}
