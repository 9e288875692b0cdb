package routes

import (
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"miniroute/pkg/router"

	"gopkg.in/yaml.v3"
)

// Option configures compilation.
type Option func(*options)

type options struct {
	capabilities map[string]router.Capability
	log          *slog.Logger
	defaultAttr  string
	copyMessage  bool
}

// WithCapability registers a capability on every compiled router, mounted
// tables included.
func WithCapability(name string, c router.Capability) Option {
	return func(o *options) {
		o.capabilities[name] = c
	}
}

func WithCapabilities(capabilities map[string]router.Capability) Option {
	return func(o *options) {
		maps.Copy(o.capabilities, capabilities)
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithDefaultAttribute overrides the default attribute of tables that do not
// declare one.
func WithDefaultAttribute(attr string) Option {
	return func(o *options) {
		o.defaultAttr = strings.TrimSpace(attr)
	}
}

// WithCopyMessage makes every compiled router dispatch on a copy of the
// message, as if each table set copy_message.
func WithCopyMessage() Option {
	return func(o *options) {
		o.copyMessage = true
	}
}

// Load reads the table at path and compiles it.
func Load(path string, opts ...Option) (*router.Router, error) {
	table, err := LoadFile(path)
	if err != nil {
		return nil, err
	}

	return Compile(table, opts...)
}

// Compile builds the router described by t. Mounted table files are loaded
// relative to the directory t was read from, or the working directory for
// parsed tables.
func Compile(t *Table, opts ...Option) (*router.Router, error) {
	o := options{capabilities: make(map[string]router.Capability)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.log == nil {
		o.log = slog.Default()
	}

	dir := ""
	if t != nil && t.path != "" {
		dir = filepath.Dir(t.path)
	}

	c := &compiler{opts: o, visiting: make(map[string]bool)}
	return c.table(t, dir)
}

type compiler struct {
	opts     options
	visiting map[string]bool
}

// ruleSpec is a validated rule, ready to be declared on a builder. Context
// groups are declared again on every dispatch, so validation happens once
// up front.
type ruleSpec struct {
	when router.Condition

	reply       string
	set         Assignments
	halt        bool
	fallThrough bool
	ask         bool

	mount      *router.Router
	hasContext bool
	context    []ruleSpec
}

func (c *compiler) table(t *Table, dir string) (*router.Router, error) {
	if t == nil {
		return nil, fmt.Errorf("route table is nil")
	}
	if t.path != "" {
		if c.visiting[t.path] {
			return nil, fmt.Errorf("%w: %s", ErrMountCycle, t.path)
		}
		c.visiting[t.path] = true
		defer delete(c.visiting, t.path)
	}

	attr := t.DefaultAttribute
	if attr == "" {
		attr = c.opts.defaultAttr
	}

	builderOpts := []router.Option{
		router.WithName(t.Name),
		router.WithDefaultAttribute(attr),
		router.WithLogger(c.opts.log),
	}
	if t.CopyMessage || c.opts.copyMessage {
		builderOpts = append(builderOpts, router.WithCopyMessage())
	}

	b := router.New(builderOpts...)
	for name, capability := range c.opts.capabilities {
		b.Capability(name, capability)
	}

	for i := range t.Prerequisites {
		node := &t.Prerequisites[i]
		cond, err := nodeCondition(node)
		if err != nil {
			return nil, c.locate(t, "prerequisite", i, node, err)
		}
		b.Prerequisite(cond)
	}

	for i := range t.Rules {
		spec, err := c.rule(dir, &t.Rules[i])
		if err != nil {
			return nil, c.locate(t, "rule", i, &t.Rules[i].When, err)
		}
		spec.declare(b, nil)
	}

	rt, err := b.Build()
	if err != nil {
		return nil, c.locate(t, "table", 0, nil, err)
	}

	return rt, nil
}

func (c *compiler) rule(dir string, r *Rule) (ruleSpec, error) {
	when := router.Always()
	if r.When.Kind != 0 {
		cond, err := nodeCondition(&r.When)
		if err != nil {
			return ruleSpec{}, err
		}
		when = cond
	}

	spec := ruleSpec{
		when:        when,
		reply:       r.Reply,
		set:         r.Set,
		halt:        r.Halt,
		fallThrough: r.Fallthrough,
		ask:         r.Ask,
		hasContext:  r.Context != nil,
	}

	inline := r.Reply != "" || len(r.Set) > 0 || r.Halt || r.Fallthrough || r.Ask
	mounted := r.Mount.Kind != 0
	actions := 0
	for _, declared := range []bool{inline, mounted, spec.hasContext} {
		if declared {
			actions++
		}
	}
	switch {
	case actions == 0:
		return ruleSpec{}, router.ErrMissingAction
	case actions > 1:
		return ruleSpec{}, router.ErrAmbiguousAction
	}

	if r.Ask {
		if _, ok := c.opts.capabilities[AssistantCapability]; !ok {
			return ruleSpec{}, ErrNoAssistant
		}
	}

	if mounted {
		rt, err := c.mount(dir, &r.Mount)
		if err != nil {
			return ruleSpec{}, err
		}
		spec.mount = rt
	}

	for i := range r.Context {
		nested, err := c.rule(dir, &r.Context[i])
		if err != nil {
			return ruleSpec{}, fmt.Errorf("context rule %d: %w", i, err)
		}
		spec.context = append(spec.context, nested)
	}

	return spec, nil
}

// mount compiles a mounted table given either inline or as a file path.
// Relative paths resolve against dir.
func (c *compiler) mount(dir string, node *yaml.Node) (*router.Router, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		path := node.Value
		if !filepath.IsAbs(path) && dir != "" {
			path = filepath.Join(dir, path)
		}

		table, err := LoadFile(path)
		if err != nil {
			return nil, fmt.Errorf("mount: %w", err)
		}
		return c.table(table, filepath.Dir(table.path))

	case yaml.MappingNode:
		var nested Table
		if err := node.Decode(&nested); err != nil {
			return nil, fmt.Errorf("mount: %w", err)
		}
		return c.table(&nested, dir)

	default:
		return nil, fmt.Errorf("mount must be a file path or an inline table")
	}
}

func (c *compiler) locate(t *Table, kind string, index int, node *yaml.Node, err error) error {
	where := t.Name
	if t.path != "" {
		where = t.path
	}
	if where == "" {
		where = "route table"
	}

	if kind == "table" {
		return fmt.Errorf("%s: %w", where, err)
	}
	if node != nil && node.Line > 0 {
		return fmt.Errorf("%s: %s %d (line %d): %w", where, kind, index, node.Line, err)
	}
	return fmt.Errorf("%s: %s %d: %w", where, kind, index, err)
}

// declare adds the rule to b. outer holds the captures of the enclosing
// context probe, if any.
func (s ruleSpec) declare(b *router.Builder, outer router.Args) {
	switch {
	case s.mount != nil:
		b.MountWhen(s.when, s.mount)

	case s.hasContext:
		nested := s.context
		b.Context(s.when, func(cb *router.Builder, args router.Args) {
			for _, spec := range nested {
				spec.declare(cb, args)
			}
		})

	default:
		b.Match(s.when, s.handler(outer))
	}
}

func (s ruleSpec) handler(outer router.Args) router.Handler {
	return func(r *router.Run, args router.Args) (any, error) {
		msg := r.Message()

		for _, entry := range s.set {
			msg.Set(entry.Field, render(entry.Value, msg, args, outer))
		}

		var value any
		if s.reply != "" {
			reply := render(s.reply, msg, args, outer)
			msg.Set(ReplyField, reply)
			value = reply
		}

		if s.ask {
			answer, err := r.Call(AssistantCapability)
			if err != nil {
				return nil, err
			}
			msg.Set(ReplyField, answer)
			value = answer
		}

		if s.halt {
			r.Halt(value)
			return value, nil
		}
		if s.fallThrough {
			r.MarkNotMatched()
		}

		return value, nil
	}
}

// render expands $1..$9 to rule captures, ${ctx.N} to the enclosing context
// probe's captures and ${field} to message fields.
func render(text string, msg router.Message, args router.Args, outer router.Args) string {
	return os.Expand(text, func(name string) string {
		if n, err := strconv.Atoi(name); err == nil {
			return args.String(n - 1)
		}
		if rest, ok := strings.CutPrefix(name, "ctx."); ok {
			if n, err := strconv.Atoi(rest); err == nil {
				return outer.String(n - 1)
			}
		}
		return msg.String(name)
	})
}

// nodeCondition decodes a YAML node into a condition.
func nodeCondition(node *yaml.Node) (router.Condition, error) {
	var value any
	if err := node.Decode(&value); err != nil {
		return router.Condition{}, fmt.Errorf("decode condition: %w", err)
	}

	return decodeCondition(value)
}

func decodeCondition(value any) (router.Condition, error) {
	switch v := value.(type) {
	case nil:
		return router.Never(), nil
	case bool:
		return router.Const(v), nil
	case string:
		return router.Text(v), nil
	case int, int64, uint64, float64:
		return router.Text(fmt.Sprint(v)), nil
	case []any:
		conds := make([]router.Condition, 0, len(v))
		for i, item := range v {
			cond, err := decodeCondition(item)
			if err != nil {
				return router.Condition{}, fmt.Errorf("element %d: %w", i, err)
			}
			conds = append(conds, cond)
		}
		return router.AnyOf(conds...), nil
	case map[string]any:
		return decodeMap(v)
	default:
		return router.Condition{}, fmt.Errorf("%w: unsupported YAML value of type %T", router.ErrInvalidCondition, value)
	}
}

func decodeMap(m map[string]any) (router.Condition, error) {
	if len(m) == 1 {
		if expr, ok := m["regex"]; ok {
			s, ok := expr.(string)
			if !ok {
				return router.Condition{}, fmt.Errorf("%w: regex must be a string", router.ErrInvalidCondition)
			}
			re, err := regexp.Compile(s)
			if err != nil {
				return router.Condition{}, fmt.Errorf("%w: %v", router.ErrInvalidCondition, err)
			}
			return router.Pattern(re), nil
		}
		if name, ok := m["helper"]; ok {
			s, ok := name.(string)
			if !ok || strings.TrimSpace(s) == "" {
				return router.Condition{}, fmt.Errorf("%w: helper must be a name", router.ErrInvalidCondition)
			}
			return router.Named(strings.TrimSpace(s)), nil
		}
	}

	fields := make(map[string]router.Condition, len(m))
	for key, item := range m {
		cond, err := decodeCondition(item)
		if err != nil {
			return router.Condition{}, fmt.Errorf("field %q: %w", key, err)
		}
		fields[key] = cond
	}
	return router.Fields(fields), nil
}
