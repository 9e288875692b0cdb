package router

import (
	"errors"
	"fmt"
)

// Capability is a named helper that conditions and handlers can call during
// a dispatch. It either ignores the message or receives it as its argument.
// Capabilities must not keep state between dispatches; use Run.Memo for
// per-dispatch caching.
type Capability struct {
	nullary func(r *Run) (any, error)
	unary   func(r *Run, msg Message) (any, error)
}

// Nullary wraps a helper that takes no message argument.
func Nullary(fn func(r *Run) (any, error)) Capability {
	return Capability{nullary: fn}
}

// Unary wraps a helper that receives the routed message.
func Unary(fn func(r *Run, msg Message) (any, error)) Capability {
	return Capability{unary: fn}
}

// TakesMessage reports whether the helper receives the message.
func (c Capability) TakesMessage() bool {
	return c.unary != nil
}

func (c Capability) validate() error {
	switch {
	case c.nullary == nil && c.unary == nil:
		return errors.New("capability has no function")
	case c.nullary != nil && c.unary != nil:
		return errors.New("capability has both nullary and unary functions")
	default:
		return nil
	}
}

func (c Capability) call(r *Run) (any, error) {
	if c.unary != nil {
		return c.unary(r, r.msg)
	}
	return c.nullary(r)
}

// Args are the positional values captured by a rule's condition.
type Args []any

// String returns argument i as text, or "" when it is out of range.
func (a Args) String(i int) string {
	if i < 0 || i >= len(a) || a[i] == nil {
		return ""
	}

	if text, ok := fieldText(a[i]); ok {
		return text
	}
	return fmt.Sprint(a[i])
}
