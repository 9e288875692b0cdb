package router

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustBuild(t *testing.T, b *Builder) *Router {
	t.Helper()

	rt, err := b.Build()
	require.NoError(t, err)
	return rt
}

func TestMountedHaltPropagates(t *testing.T) {
	ranAfter := false
	child := mustBuild(t, New(WithName("child")).
		Match(true, func(r *Run, _ Args) (any, error) {
			r.Halt("V")
			return nil, nil
		}))

	parent := mustBuild(t, New(WithName("parent")).
		Mount(child).
		Match(true, func(*Run, Args) (any, error) {
			ranAfter = true
			return nil, nil
		}))

	outcome, err := parent.Dispatch(context.Background(), Message{})
	require.NoError(t, err)
	assert.Equal(t, Halted, outcome.Status)
	assert.Equal(t, "V", outcome.Value)
	assert.False(t, ranAfter)
}

func TestHaltPropagatesThroughNestedMounts(t *testing.T) {
	leaf := mustBuild(t, New().Match(true, func(r *Run, _ Args) (any, error) {
		r.Halt("deep")
		return nil, nil
	}))
	middle := mustBuild(t, New().Mount(leaf).Match(true, func(*Run, Args) (any, error) { return "middle", nil }))
	root := mustBuild(t, New().Mount(middle).Match(true, func(*Run, Args) (any, error) { return "root", nil }))

	outcome, err := root.Dispatch(context.Background(), Message{})
	require.NoError(t, err)
	assert.Equal(t, Halted, outcome.Status)
	assert.Equal(t, "deep", outcome.Value)
}

func TestMountedMatchIsAdopted(t *testing.T) {
	ranAfter := false
	child := mustBuild(t, New().Match("stop", func(*Run, Args) (any, error) { return "unsubscribed", nil }))
	parent := mustBuild(t, New().
		MountWhen([]string{"stop", "quit"}, child).
		Match(true, func(*Run, Args) (any, error) {
			ranAfter = true
			return "fallback", nil
		}))

	outcome, err := parent.Dispatch(context.Background(), Message{"body": "stop"})
	require.NoError(t, err)
	assert.Equal(t, Matched, outcome.Status)
	assert.Equal(t, "unsubscribed", outcome.Value)
	assert.False(t, ranAfter)
}

func TestUnmatchedMountContinuesWithParent(t *testing.T) {
	child := mustBuild(t, New().Match("stop", func(*Run, Args) (any, error) { return "unsubscribed", nil }))
	parent := mustBuild(t, New().
		MountWhen([]string{"stop", "quit"}, child).
		Match(true, func(*Run, Args) (any, error) { return "fallback", nil }))

	outcome, err := parent.Dispatch(context.Background(), Message{"body": "quit"})
	require.NoError(t, err)
	assert.Equal(t, Matched, outcome.Status)
	assert.Equal(t, "fallback", outcome.Value)
}

func TestMountedRouterUsesItsOwnPrerequisites(t *testing.T) {
	child := mustBuild(t, New().
		Prerequisite(map[string]any{"from": "admin"}).
		Match(true, func(*Run, Args) (any, error) { return "admin", nil }))
	parent := mustBuild(t, New().
		Mount(child).
		Match(true, func(*Run, Args) (any, error) { return "user", nil }))

	outcome, err := parent.Dispatch(context.Background(), Message{"from": "admin"})
	require.NoError(t, err)
	assert.Equal(t, "admin", outcome.Value)

	outcome, err = parent.Dispatch(context.Background(), Message{"from": "guest"})
	require.NoError(t, err)
	assert.Equal(t, "user", outcome.Value)
}

func TestMountSharesMessageByDefault(t *testing.T) {
	child := mustBuild(t, New().Match(true, func(r *Run, _ Args) (any, error) {
		r.Message().Set("seen_by", "child")
		r.MarkNotMatched()
		return nil, nil
	}))
	parent := mustBuild(t, New().
		Mount(child).
		Match(true, func(r *Run, _ Args) (any, error) { return r.Message().String("seen_by"), nil }))

	msg := Message{}
	outcome, err := parent.Dispatch(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "child", outcome.Value)
	assert.Equal(t, "child", msg["seen_by"])
}

func TestCopyMessageIsolatesWrites(t *testing.T) {
	child := mustBuild(t, New(WithCopyMessage()).Match(true, func(r *Run, _ Args) (any, error) {
		r.Message().Set("seen_by", "child")
		r.MarkNotMatched()
		return nil, nil
	}))
	parent := mustBuild(t, New().
		Mount(child).
		Match(true, func(r *Run, _ Args) (any, error) { return r.Message().Has("seen_by"), nil }))

	msg := Message{"body": "hi"}
	outcome, err := parent.Dispatch(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, false, outcome.Value)
	assert.NotContains(t, msg, "seen_by")

	outcome, err = child.Dispatch(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, "child", outcome.Message["seen_by"])
	assert.NotContains(t, msg, "seen_by")
}

func TestContextReceivesProbeCaptures(t *testing.T) {
	var seen Args
	rt := mustBuild(t, New().
		Context(MustPattern(`^order (\d+)`), func(b *Builder, args Args) {
			seen = args
			b.Match(MustPattern(`cancel$`), func(r *Run, _ Args) (any, error) {
				r.Message().Set("cancelled", args.String(0))
				return "cancelled " + args.String(0), nil
			})
		}).
		Match(true, func(*Run, Args) (any, error) { return "fallback", nil }))

	msg := Message{"body": "order 42 cancel"}
	outcome, err := rt.Dispatch(context.Background(), msg)
	require.NoError(t, err)
	assert.Equal(t, Args{"42"}, seen)
	assert.Equal(t, Matched, outcome.Status)
	assert.Equal(t, "cancelled 42", outcome.Value)
	assert.Equal(t, "42", msg["cancelled"])

	outcome, err = rt.Dispatch(context.Background(), Message{"body": "order 7 status"})
	require.NoError(t, err)
	assert.Equal(t, Args{"7"}, seen)
	assert.Equal(t, "fallback", outcome.Value)
}

func TestContextInheritsCapabilities(t *testing.T) {
	rt := mustBuild(t, New().
		Capability("is_admin", Unary(func(_ *Run, msg Message) (any, error) {
			return msg.String("from") == "root", nil
		})).
		Context(true, func(b *Builder, _ Args) {
			b.Match(CapabilityRef("is_admin"), func(*Run, Args) (any, error) { return "admin", nil })
		}))

	outcome, err := rt.Dispatch(context.Background(), Message{"from": "root"})
	require.NoError(t, err)
	assert.Equal(t, "admin", outcome.Value)
}

func TestContextHaltPropagates(t *testing.T) {
	rt := mustBuild(t, New().
		Context(true, func(b *Builder, _ Args) {
			b.Match(true, func(r *Run, _ Args) (any, error) {
				r.Halt("stopped")
				return nil, nil
			})
		}).
		Match(true, func(*Run, Args) (any, error) { return "unreachable", nil }))

	outcome, err := rt.Dispatch(context.Background(), Message{})
	require.NoError(t, err)
	assert.Equal(t, Halted, outcome.Status)
	assert.Equal(t, "stopped", outcome.Value)
}

func TestContextDefinitionErrorsSurfaceAtDispatch(t *testing.T) {
	rt := mustBuild(t, New().
		Context(true, func(b *Builder, _ Args) {
			b.Match(CapabilityRef("missing"), func(*Run, Args) (any, error) { return nil, nil })
		}))

	_, err := rt.Dispatch(context.Background(), Message{})
	require.ErrorIs(t, err, ErrUnknownCapability)

	var evalErr *EvaluationError
	require.ErrorAs(t, err, &evalErr)
	assert.Equal(t, PhaseContext, evalErr.Phase)
}

func TestMemoIsSharedWithMountedRouters(t *testing.T) {
	lookups := 0
	lookup := func(r *Run) (any, error) {
		return r.Memo("account", func() (any, error) {
			lookups++
			return "acct-1", nil
		})
	}

	child := mustBuild(t, New().Match(func(r *Run) (any, error) { return lookup(r) }, func(r *Run, _ Args) (any, error) {
		r.MarkNotMatched()
		return nil, nil
	}))
	parent := mustBuild(t, New().
		Mount(child).
		Match(func(r *Run) (any, error) { return lookup(r) }, func(_ *Run, args Args) (any, error) { return args.String(0), nil }))

	outcome, err := parent.Dispatch(context.Background(), Message{})
	require.NoError(t, err)
	assert.Equal(t, "acct-1", outcome.Value)
	assert.Equal(t, 1, lookups)
}

func TestIncludeCopiesRulesAtPosition(t *testing.T) {
	base := mustBuild(t, New().
		Capability("shout", Unary(func(_ *Run, msg Message) (any, error) {
			return msg.String("body") == "HEY", nil
		})).
		Match(CapabilityRef("shout"), func(*Run, Args) (any, error) { return "calm down", nil }).
		Match("help", func(*Run, Args) (any, error) { return "base help", nil }))

	rt := mustBuild(t, New().
		Match("help", func(*Run, Args) (any, error) { return "own help", nil }).
		Include(base).
		Match(true, func(*Run, Args) (any, error) { return "fallback", nil }))

	rules := rt.Rules()
	require.Len(t, rules, 4)
	assert.Equal(t, []int{0, 1, 2, 3}, []int{rules[0].Index, rules[1].Index, rules[2].Index, rules[3].Index})

	outcome, err := rt.Dispatch(context.Background(), Message{"body": "help"})
	require.NoError(t, err)
	assert.Equal(t, "own help", outcome.Value)

	outcome, err = rt.Dispatch(context.Background(), Message{"body": "HEY"})
	require.NoError(t, err)
	assert.Equal(t, "calm down", outcome.Value)
}

func TestIncludedContextKeepsItsOrigin(t *testing.T) {
	base := mustBuild(t, New(WithDefaultAttribute("text")).
		Capability("vip", Unary(func(_ *Run, msg Message) (any, error) {
			return msg.String("from") == "ann", nil
		})).
		Context("ping", func(b *Builder, _ Args) {
			b.Match(CapabilityRef("vip"), func(*Run, Args) (any, error) { return "vip pong", nil })
			b.Match("ping", func(*Run, Args) (any, error) { return "pong", nil })
		}))

	rt := mustBuild(t, New().Include(base))

	outcome, err := rt.Dispatch(context.Background(), Message{"text": "ping", "body": "other", "from": "ann"})
	require.NoError(t, err)
	assert.Equal(t, Matched, outcome.Status)
	assert.Equal(t, "vip pong", outcome.Value)

	outcome, err = rt.Dispatch(context.Background(), Message{"text": "ping", "from": "bob"})
	require.NoError(t, err)
	assert.Equal(t, "pong", outcome.Value)
}

func TestBuildCollectsDefinitionErrors(t *testing.T) {
	child := mustBuild(t, New())

	_, err := New(WithName("broken")).
		Rule(true, Action{}).
		Rule(true, Action{Handler: func(*Run, Args) (any, error) { return nil, nil }, Router: child}).
		Match(42, func(*Run, Args) (any, error) { return nil, nil }).
		Match(CapabilityRef("nope"), func(*Run, Args) (any, error) { return nil, nil }).
		Capability("empty", Capability{}).
		Build()

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingAction)
	assert.ErrorIs(t, err, ErrAmbiguousAction)
	assert.ErrorIs(t, err, ErrInvalidCondition)
	assert.ErrorIs(t, err, ErrUnknownCapability)

	var defErr *DefinitionError
	require.ErrorAs(t, err, &defErr)
	assert.Equal(t, "broken", defErr.Router)
	assert.Equal(t, 0, defErr.Index)
	assert.Contains(t, err.Error(), "rule 3")
}

func TestContextRequiresBlock(t *testing.T) {
	_, err := New().Context(true, nil).Build()
	require.ErrorIs(t, err, ErrMissingAction)

	_, err = New().Include(nil).Build()
	require.ErrorIs(t, err, ErrNilRouter)
}
