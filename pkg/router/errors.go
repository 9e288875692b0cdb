package router

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingAction is returned when a rule declares neither a handler nor a mounted router.
	ErrMissingAction = errors.New("rule has no action")

	// ErrAmbiguousAction is returned when a rule declares both a handler and a mounted router.
	ErrAmbiguousAction = errors.New("rule has both a handler and a mounted router")

	// ErrInvalidCondition is returned for condition values that match none of the supported shapes.
	ErrInvalidCondition = errors.New("invalid condition")

	// ErrUnknownCapability is returned when a capability name is not registered.
	ErrUnknownCapability = errors.New("unknown capability")

	// ErrNilRouter is returned when dispatching through or mounting a nil router.
	ErrNilRouter = errors.New("router is nil")
)

// DefinitionError reports an invalid declaration detected by Builder.Build.
type DefinitionError struct {
	Router string
	Kind   string
	Index  int
	Err    error
}

func (e *DefinitionError) Error() string {
	if e.Router != "" {
		return fmt.Sprintf("router %s: %s %d: %v", e.Router, e.Kind, e.Index, e.Err)
	}
	return fmt.Sprintf("%s %d: %v", e.Kind, e.Index, e.Err)
}

func (e *DefinitionError) Unwrap() error {
	return e.Err
}

// Phase identifies the dispatch step that failed.
type Phase string

const (
	PhasePrerequisite Phase = "prerequisite"
	PhaseCondition    Phase = "condition"
	PhaseAction       Phase = "action"
	PhaseContext      Phase = "context"
)

// EvaluationError wraps a failure raised while dispatching a message. The
// router performs no recovery; the cause is reachable through errors.Is and
// errors.As.
type EvaluationError struct {
	Router string
	Phase  Phase
	Index  int
	Err    error
}

func (e *EvaluationError) Error() string {
	if e.Router != "" {
		return fmt.Sprintf("router %s: %s %d: %v", e.Router, e.Phase, e.Index, e.Err)
	}
	return fmt.Sprintf("%s %d: %v", e.Phase, e.Index, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}
