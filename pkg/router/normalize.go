package router

import (
	"fmt"
	"strings"
)

// matcher is a compiled condition.
type matcher func(r *Run) (match, error)

// match is the result of evaluating a condition. args are the captured
// positional arguments handed to the action.
type match struct {
	ok   bool
	args Args
}

// fieldMatcher tests one rendered field value.
type fieldMatcher func(text string) match

// normalizer compiles conditions against one router definition.
type normalizer struct {
	defaultAttr  string
	capabilities map[string]Capability
}

func (n normalizer) compile(c Condition) (matcher, error) {
	switch c.kind {
	case kindConst:
		value := c.value
		return func(*Run) (match, error) {
			return match{ok: value}, nil
		}, nil

	case kindText, kindPattern:
		// Bare text and patterns always apply to the default attribute.
		return n.compileFields([]fieldCondition{{key: n.defaultAttr, cond: c}})

	case kindFields:
		return n.compileFields(c.fields)

	case kindAnyOf:
		matchers := make([]matcher, 0, len(c.anyOf))
		for i, item := range c.anyOf {
			m, err := n.compile(item)
			if err != nil {
				return nil, fmt.Errorf("any-of element %d: %w", i, err)
			}
			matchers = append(matchers, m)
		}
		return func(r *Run) (match, error) {
			for _, m := range matchers {
				res, err := m(r)
				if err != nil {
					return match{}, err
				}
				if res.ok {
					return res, nil
				}
			}
			return match{}, nil
		}, nil

	case kindCapability:
		capability, ok := n.capabilities[c.name]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCapability, c.name)
		}
		name := c.name
		return func(r *Run) (match, error) {
			value, err := capability.call(r)
			if err != nil {
				return match{}, fmt.Errorf("capability %q: %w", name, err)
			}
			return valueMatch(value), nil
		}, nil

	case kindFunc:
		if c.fn == nil {
			return nil, fmt.Errorf("%w: nil predicate", ErrInvalidCondition)
		}
		fn := c.fn
		return func(r *Run) (match, error) {
			value, err := fn(r)
			if err != nil {
				return match{}, err
			}
			return valueMatch(value), nil
		}, nil

	default:
		return nil, fmt.Errorf("%w: unknown kind %d", ErrInvalidCondition, c.kind)
	}
}

// compileFields builds an all-of check over message fields. A list field
// matches when any element does; values with no textual form never match. Only
// the default attribute's captures survive; other keys contribute a yes/no
// answer.
func (n normalizer) compileFields(fields []fieldCondition) (matcher, error) {
	type compiledField struct {
		key   string
		match fieldMatcher
	}

	compiled := make([]compiledField, 0, len(fields))
	for _, f := range fields {
		m, err := compileFieldValue(f.cond)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", f.key, err)
		}
		compiled = append(compiled, compiledField{key: f.key, match: m})
	}

	defaultAttr := n.defaultAttr
	return func(r *Run) (match, error) {
		var captured Args
		for _, f := range compiled {
			raw, present := r.msg[f.key]
			if !present {
				return match{}, nil
			}

			var res match
			for _, text := range fieldTexts(raw) {
				if res = f.match(text); res.ok {
					break
				}
			}
			if !res.ok {
				return match{}, nil
			}
			if f.key == defaultAttr {
				captured = res.args
			}
		}

		return match{ok: true, args: captured}, nil
	}, nil
}

// compileFieldValue compiles the value side of a field map entry.
func compileFieldValue(c Condition) (fieldMatcher, error) {
	switch c.kind {
	case kindConst:
		value := c.value
		return func(text string) match {
			if !value {
				return match{}
			}
			return match{ok: true, args: Args{text}}
		}, nil

	case kindText:
		words := strings.Fields(c.text)
		return func(text string) match {
			if !leadingWordsEqual(text, words) {
				return match{}
			}
			return match{ok: true, args: Args{text}}
		}, nil

	case kindPattern:
		if c.pattern == nil {
			return nil, fmt.Errorf("%w: nil pattern", ErrInvalidCondition)
		}
		re := c.pattern
		return func(text string) match {
			groups := re.FindStringSubmatch(text)
			if groups == nil {
				return match{}
			}
			if len(groups) == 1 {
				return match{ok: true, args: Args{groups[0]}}
			}

			args := make(Args, 0, len(groups)-1)
			for _, group := range groups[1:] {
				args = append(args, group)
			}
			return match{ok: true, args: args}
		}, nil

	case kindAnyOf:
		matchers := make([]fieldMatcher, 0, len(c.anyOf))
		for i, item := range c.anyOf {
			m, err := compileFieldValue(item)
			if err != nil {
				return nil, fmt.Errorf("any-of element %d: %w", i, err)
			}
			matchers = append(matchers, m)
		}
		return func(text string) match {
			for _, m := range matchers {
				if res := m(text); res.ok {
					return res
				}
			}
			return match{}
		}, nil

	default:
		return nil, fmt.Errorf("%w: %s cannot match a field value", ErrInvalidCondition, c)
	}
}

// leadingWordsEqual compares the first len(words) whitespace-delimited words
// of text with words, ignoring case. An empty literal matches blank text only.
func leadingWordsEqual(text string, words []string) bool {
	got := strings.Fields(text)
	if len(words) == 0 {
		return len(got) == 0
	}
	if len(got) < len(words) {
		return false
	}

	for i, word := range words {
		if !strings.EqualFold(got[i], word) {
			return false
		}
	}

	return true
}

// valueMatch turns a capability or callable result into a match. nil and
// false do not match; slices spread into positional arguments.
func valueMatch(value any) match {
	switch v := value.(type) {
	case nil:
		return match{}
	case bool:
		return match{ok: v}
	case Args:
		return match{ok: true, args: v}
	case []any:
		return match{ok: true, args: Args(v)}
	case []string:
		args := make(Args, 0, len(v))
		for _, s := range v {
			args = append(args, s)
		}
		return match{ok: true, args: args}
	default:
		return match{ok: true, args: Args{value}}
	}
}
