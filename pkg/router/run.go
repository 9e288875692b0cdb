package router

import (
	"context"
	"fmt"
)

// Status is the final state of a dispatch.
type Status uint8

const (
	// NoMatch means no rule left the dispatch matched and nothing halted.
	NoMatch Status = iota
	// Matched means a rule matched and stopped the loop.
	Matched
	// Halted means a rule or capability halted the dispatch tree.
	Halted
)

func (s Status) String() string {
	switch s {
	case Matched:
		return "matched"
	case Halted:
		return "halted"
	default:
		return "no_match"
	}
}

// Outcome is the result of a dispatch. Value is the handler's return value
// for Matched and the halt value for Halted. Message is the message the
// router worked on.
type Outcome struct {
	Status  Status
	Value   any
	Message Message
}

// OK reports whether the dispatch matched or halted.
func (o Outcome) OK() bool {
	return o.Status != NoMatch
}

// Run is the state of one dispatch through one router. Handlers and
// capabilities receive it to read the message and steer the rule loop.
type Run struct {
	ctx    context.Context
	router *Router
	msg    Message

	matched bool
	halted  bool
	value   any
	memo    map[string]any
}

func (r *Run) Context() context.Context {
	return r.ctx
}

func (r *Run) Message() Message {
	return r.msg
}

// MarkMatched stops the rule loop once the current action returns.
func (r *Run) MarkMatched() {
	r.matched = true
}

// MarkNotMatched makes the rule loop continue with the next rule once the
// current action returns.
func (r *Run) MarkNotMatched() {
	r.matched = false
}

func (r *Run) Matched() bool {
	return r.matched
}

// Halt ends the dispatch tree with value. Only the first call takes effect.
func (r *Run) Halt(value any) {
	if r.halted {
		return
	}
	r.halted = true
	r.value = value
}

func (r *Run) Halted() bool {
	return r.halted
}

// Call invokes the capability registered under name.
func (r *Run) Call(name string) (any, error) {
	capability, ok := r.router.capabilities[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownCapability, name)
	}
	return capability.call(r)
}

// Memo returns the value cached under key for this dispatch, computing it
// with fn on first use. Errors are not cached. The cache is shared with
// mounted and context routers of the same dispatch and discarded when
// Dispatch returns.
func (r *Run) Memo(key string, fn func() (any, error)) (any, error) {
	if value, ok := r.memo[key]; ok {
		return value, nil
	}

	value, err := fn()
	if err != nil {
		return nil, err
	}

	if r.memo == nil {
		r.memo = make(map[string]any)
	}
	r.memo[key] = value
	return value, nil
}

// delegate dispatches the message through child and folds its state into r.
func (r *Run) delegate(child *Router) error {
	if child == nil {
		return ErrNilRouter
	}

	sub := child.newRun(r.ctx, r.msg)
	if r.memo == nil {
		r.memo = make(map[string]any)
	}
	sub.memo = r.memo

	if err := child.dispatch(sub); err != nil {
		return err
	}

	switch {
	case sub.halted:
		r.Halt(sub.value)
	case sub.matched:
		r.matched = true
		r.value = sub.value
	default:
		r.matched = false
	}
	return nil
}

func (r *Run) outcome() Outcome {
	switch {
	case r.halted:
		return Outcome{Status: Halted, Value: r.value, Message: r.msg}
	case r.matched:
		return Outcome{Status: Matched, Value: r.value, Message: r.msg}
	default:
		return Outcome{Status: NoMatch, Message: r.msg}
	}
}
