// Package router implements ordered, declarative message routing.
//
// A Router holds an ordered list of rules. Each rule pairs a Condition with an
// action: an inline Handler, a mounted Router, or a context block that builds a
// derived Router from values captured by its probe. Dispatch walks the rules in
// declaration order and stops at the first rule that leaves the dispatch in the
// matched state.
//
//	b := router.New()
//	b.Match("ping", func(r *router.Run, _ router.Args) (any, error) {
//		return "pong", nil
//	})
//	b.Match(regexp.MustCompile(`^hi (\w+)`), func(r *router.Run, args router.Args) (any, error) {
//		return "hello " + args.String(0), nil
//	})
//	b.Mount(stopRouter)
//
//	rt, err := b.Build()
//	if err != nil {
//		return err
//	}
//	outcome, err := rt.Dispatch(ctx, router.Message{"body": "hi brad"})
//
// # Conditions
//
// Conditions are a closed set of variants: constants, text literals, regular
// expressions, field maps, any-of lists, named capabilities and callables.
// ToCondition converts plain Go values (bool, string, *regexp.Regexp, slices,
// maps, CapabilityRef, functions) into the matching variant. Bare text and
// patterns apply to the default attribute ("body" unless overridden with
// WithDefaultAttribute).
//
// # Match state
//
// Firing a Handler marks the dispatch matched before the handler runs. The
// handler may call Run.MarkNotMatched to let the loop continue with the next
// rule, or Run.Halt to end the whole dispatch tree with a fixed value. Halting
// crosses mount and context boundaries; plain matched state is adopted by the
// parent only when a mounted router ends matched.
//
// # Concurrency
//
// A built Router is immutable and may be shared by any number of goroutines.
// Every Dispatch call creates a fresh Run; a Run must not be used after its
// Dispatch returns.
package router
