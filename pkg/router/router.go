package router

import (
	"context"
	"log/slog"
	"maps"
)

// Router is a built, immutable rule table. It is safe for concurrent use.
type Router struct {
	name         string
	defaultAttr  string
	copyMessage  bool
	log          *slog.Logger
	capabilities map[string]Capability

	prerequisites []matcher
	rules         []*compiledRule
}

type compiledRule struct {
	index   int
	label   string
	when    matcher
	handler Handler
	mount   *Router
	block   ContextBlock

	// origin is the router an included rule was built on. Context blocks
	// derive from it.
	origin *Router
}

// RuleInfo describes one declared rule.
type RuleInfo struct {
	Index     int    `json:"index"`
	Condition string `json:"condition"`
	Action    string `json:"action"`
}

func (rt *Router) Name() string {
	return rt.name
}

// DefaultAttribute returns the field bare text and pattern conditions apply to.
func (rt *Router) DefaultAttribute() string {
	return rt.defaultAttr
}

// Rules lists the rules in evaluation order.
func (rt *Router) Rules() []RuleInfo {
	out := make([]RuleInfo, 0, len(rt.rules))
	for _, rule := range rt.rules {
		out = append(out, RuleInfo{Index: rule.index, Condition: rule.label, Action: rule.describe()})
	}
	return out
}

// Dispatch routes msg through the rule table. A nil msg is treated as an
// empty message. Errors raised by conditions, capabilities and handlers are
// returned unchanged inside an *EvaluationError; no outcome is produced in
// that case.
func (rt *Router) Dispatch(ctx context.Context, msg Message) (Outcome, error) {
	if rt == nil {
		return Outcome{}, ErrNilRouter
	}
	if ctx == nil {
		ctx = context.Background()
	}

	run := rt.newRun(ctx, msg)
	if err := rt.dispatch(run); err != nil {
		return Outcome{}, err
	}

	return run.outcome(), nil
}

func (rt *Router) newRun(ctx context.Context, msg Message) *Run {
	if msg == nil {
		msg = Message{}
	}
	if rt.copyMessage {
		msg = msg.Clone()
	}

	return &Run{ctx: ctx, router: rt, msg: msg}
}

// dispatch runs the prerequisite gate and then the rule loop on run.
func (rt *Router) dispatch(run *Run) error {
	for i, prerequisite := range rt.prerequisites {
		res, err := prerequisite(run)
		if err != nil {
			return &EvaluationError{Router: rt.name, Phase: PhasePrerequisite, Index: i, Err: err}
		}
		if run.halted {
			return nil
		}
		if !res.ok {
			rt.log.Debug("Prerequisite failed", "router", rt.name, "prerequisite", i)
			return nil
		}
	}

	for _, rule := range rt.rules {
		res, err := rule.when(run)
		if err != nil {
			return &EvaluationError{Router: rt.name, Phase: PhaseCondition, Index: rule.index, Err: err}
		}
		if run.halted {
			return nil
		}
		if !res.ok {
			continue
		}

		rt.log.Debug("Rule fired", "router", rt.name, "rule", rule.index, "condition", rule.label)
		if err := rt.fire(run, rule, res.args); err != nil {
			return err
		}

		if run.halted {
			rt.log.Debug("Dispatch halted", "router", rt.name, "rule", rule.index)
			return nil
		}
		if run.matched {
			return nil
		}
	}

	return nil
}

func (rt *Router) fire(run *Run, rule *compiledRule, args Args) error {
	switch {
	case rule.handler != nil:
		run.matched = true
		value, err := rule.handler(run, args)
		if err != nil {
			return &EvaluationError{Router: rt.name, Phase: PhaseAction, Index: rule.index, Err: err}
		}
		if run.matched && !run.halted {
			run.value = value
		}
		return nil

	case rule.mount != nil:
		return run.delegate(rule.mount)

	case rule.block != nil:
		owner := rt
		if rule.origin != nil {
			owner = rule.origin
		}
		derived, err := owner.derive(rule.block, args)
		if err != nil {
			return &EvaluationError{Router: rt.name, Phase: PhaseContext, Index: rule.index, Err: err}
		}
		return run.delegate(derived)

	default:
		return &EvaluationError{Router: rt.name, Phase: PhaseAction, Index: rule.index, Err: ErrMissingAction}
	}
}

// derive builds the router declared by a context block. It inherits the
// parent's capabilities, default attribute and logger, and always shares
// the parent's message.
func (rt *Router) derive(block ContextBlock, args Args) (*Router, error) {
	b := &Builder{
		name:         rt.name + "/context",
		defaultAttr:  rt.defaultAttr,
		log:          rt.log,
		capabilities: maps.Clone(rt.capabilities),
	}
	block(b, args)

	return b.Build()
}

func (r *compiledRule) describe() string {
	switch {
	case r.handler != nil:
		return "handler"
	case r.mount != nil:
		if r.mount.name != "" {
			return "mount " + r.mount.name
		}
		return "mount"
	case r.block != nil:
		return "context"
	default:
		return "none"
	}
}
