package router

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"strings"
)

const defaultAttribute = "body"

// Handler is an inline rule action. It runs with the rule already marked
// matched; the returned value becomes the outcome value unless the handler
// calls MarkNotMatched or Halt.
type Handler func(r *Run, args Args) (any, error)

// ContextBlock declares the rules of a context group. It runs once per
// dispatch that passes the group's probe, with the probe's captures as args.
type ContextBlock func(b *Builder, args Args)

// Action is the second half of a rule: exactly one of Handler or Router.
type Action struct {
	Handler Handler
	Router  *Router
}

// Do returns an inline Action.
func Do(h Handler) Action {
	return Action{Handler: h}
}

// Delegate returns an Action that mounts rt.
func Delegate(rt *Router) Action {
	return Action{Router: rt}
}

// Option configures a Builder.
type Option func(*Builder)

// WithName labels the router in logs and errors.
func WithName(name string) Option {
	return func(b *Builder) {
		b.name = strings.TrimSpace(name)
	}
}

// WithDefaultAttribute changes the field that bare text and pattern
// conditions apply to.
func WithDefaultAttribute(attr string) Option {
	return func(b *Builder) {
		if attr = strings.TrimSpace(attr); attr != "" {
			b.defaultAttr = attr
		}
	}
}

// WithCopyMessage makes every dispatch of the router work on a shallow copy
// of the incoming message. Writes made by its rules are then invisible to
// the caller and to parent routers.
func WithCopyMessage() Option {
	return func(b *Builder) {
		b.copyMessage = true
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(b *Builder) {
		if log != nil {
			b.log = log
		}
	}
}

// Builder collects rule declarations. Declaration errors are recorded and
// reported together by Build.
type Builder struct {
	name         string
	defaultAttr  string
	copyMessage  bool
	log          *slog.Logger
	capabilities map[string]Capability

	prerequisites []Condition
	rules         []ruleDef
	declared      int
	errs          []error
}

type ruleDef struct {
	index    int
	cond     Condition
	handler  Handler
	mount    *Router
	block    ContextBlock
	included *compiledRule
}

// New returns an empty Builder.
func New(opts ...Option) *Builder {
	b := &Builder{
		defaultAttr:  defaultAttribute,
		log:          slog.Default(),
		capabilities: make(map[string]Capability),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Rule appends a rule. cond is anything ToCondition accepts.
func (b *Builder) Rule(cond any, action Action) *Builder {
	index := b.nextIndex()

	c, err := ToCondition(cond)
	if err != nil {
		b.fail("rule", index, err)
		return b
	}

	switch {
	case action.Handler != nil && action.Router != nil:
		b.fail("rule", index, ErrAmbiguousAction)
		return b
	case action.Handler == nil && action.Router == nil:
		b.fail("rule", index, ErrMissingAction)
		return b
	}

	b.rules = append(b.rules, ruleDef{index: index, cond: c, handler: action.Handler, mount: action.Router})
	return b
}

// Match appends a rule with an inline handler.
func (b *Builder) Match(cond any, h Handler) *Builder {
	return b.Rule(cond, Do(h))
}

// Mount appends a rule that always delegates to rt.
func (b *Builder) Mount(rt *Router) *Builder {
	return b.Rule(true, Delegate(rt))
}

// MountWhen appends a rule that delegates to rt when cond matches.
func (b *Builder) MountWhen(cond any, rt *Router) *Builder {
	return b.Rule(cond, Delegate(rt))
}

// Context appends a guarded group of rules. When probe matches, block is
// called with the probe's captures to declare a derived router, and the
// message is dispatched through it. The derived router shares this router's
// capabilities and default attribute. When it ends unmatched, dispatch
// continues with the rule after the group.
func (b *Builder) Context(probe any, block ContextBlock) *Builder {
	index := b.nextIndex()

	c, err := ToCondition(probe)
	if err != nil {
		b.fail("rule", index, err)
		return b
	}
	if block == nil {
		b.fail("rule", index, ErrMissingAction)
		return b
	}

	b.rules = append(b.rules, ruleDef{index: index, cond: c, block: block})
	return b
}

// Prerequisite appends a gate that must match before any rule is tried.
func (b *Builder) Prerequisite(cond any) *Builder {
	c, err := ToCondition(cond)
	if err != nil {
		b.fail("prerequisite", len(b.prerequisites), err)
		return b
	}

	b.prerequisites = append(b.prerequisites, c)
	return b
}

// Capability registers a named helper. A later registration under the same
// name replaces the earlier one.
func (b *Builder) Capability(name string, c Capability) *Builder {
	name = strings.TrimSpace(name)
	if name == "" {
		b.fail("capability", len(b.capabilities), errors.New("capability name is required"))
		return b
	}
	if err := c.validate(); err != nil {
		b.fail("capability", len(b.capabilities), fmt.Errorf("%s: %w", name, err))
		return b
	}

	b.capabilities[name] = c
	return b
}

// Include appends the rules of base at the current position. Included rules
// keep the conditions and capabilities they were built with; base's
// prerequisites are not copied.
func (b *Builder) Include(base *Router) *Builder {
	if base == nil {
		b.fail("rule", b.nextIndex(), ErrNilRouter)
		return b
	}

	for _, rule := range base.rules {
		included := *rule
		if included.origin == nil {
			included.origin = base
		}
		b.rules = append(b.rules, ruleDef{index: b.nextIndex(), included: &included})
	}
	return b
}

// Build validates every declaration and returns an immutable Router.
func (b *Builder) Build() (*Router, error) {
	errs := append([]error(nil), b.errs...)

	n := normalizer{defaultAttr: b.defaultAttr, capabilities: b.capabilities}

	prerequisites := make([]matcher, 0, len(b.prerequisites))
	for i, cond := range b.prerequisites {
		m, err := n.compile(cond)
		if err != nil {
			errs = append(errs, &DefinitionError{Router: b.name, Kind: "prerequisite", Index: i, Err: err})
			continue
		}
		prerequisites = append(prerequisites, m)
	}

	rules := make([]*compiledRule, 0, len(b.rules))
	for _, def := range b.rules {
		if def.included != nil {
			included := *def.included
			included.index = def.index
			rules = append(rules, &included)
			continue
		}

		when, err := n.compile(def.cond)
		if err != nil {
			errs = append(errs, &DefinitionError{Router: b.name, Kind: "rule", Index: def.index, Err: err})
			continue
		}

		rules = append(rules, &compiledRule{
			index:   def.index,
			label:   def.cond.String(),
			when:    when,
			handler: def.handler,
			mount:   def.mount,
			block:   def.block,
		})
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	return &Router{
		name:          b.name,
		defaultAttr:   b.defaultAttr,
		copyMessage:   b.copyMessage,
		log:           b.log,
		capabilities:  maps.Clone(b.capabilities),
		prerequisites: prerequisites,
		rules:         rules,
	}, nil
}

func (b *Builder) nextIndex() int {
	index := b.declared
	b.declared++
	return index
}

func (b *Builder) fail(kind string, index int, err error) {
	b.errs = append(b.errs, &DefinitionError{Router: b.name, Kind: kind, Index: index, Err: err})
}
