// Package crewerr defines the error taxonomy shared by the orchestration engine.
package crewerr

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies an engine error.
type Kind string

const (
	KindConfiguration        Kind = "ConfigurationError"
	KindAgent                Kind = "AgentError"
	KindTool                 Kind = "ToolError"
	KindValidation           Kind = "ValidationError"
	KindDelegation           Kind = "DelegationError"
	KindOrchestrationTimeout Kind = "OrchestrationTimeout"
	KindTaskExecution        Kind = "TaskExecutionError"
	KindRateLimitTimeout     Kind = "RateLimitTimeout"
	KindBackend              Kind = "BackendError"
	KindCancelled            Kind = "Cancelled"
)

// Sentinel causes carried inside an Error.
var (
	ErrIterationLimitExceeded = errors.New("iteration limit exceeded")
	ErrDepthExceeded          = errors.New("delegation depth exceeded")
	ErrNoTarget               = errors.New("no suitable delegation target")
	ErrSchemaMismatch         = errors.New("schema mismatch")
	ErrUnresolvedPlaceholder  = errors.New("unresolved placeholder")
	ErrRateLimitTimeout       = errors.New("rate limit wait exceeded")
	ErrBackend                = errors.New("completion backend failure")
	ErrCancelled              = errors.New("run cancelled")
)

// Error is an engine error tagged with its kind and location.
type Error struct {
	Kind    Kind
	Op      string
	TaskID  string
	AgentID string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Op != "" {
		b.WriteString(" [" + e.Op + "]")
	}
	if e.TaskID != "" {
		b.WriteString(" task=" + e.TaskID)
	}
	if e.AgentID != "" {
		b.WriteString(" agent=" + e.AgentID)
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// New returns an error of the given kind wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Configf returns a ConfigurationError with a formatted message.
func Configf(op, format string, args ...any) *Error {
	return &Error{Kind: KindConfiguration, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithTask sets the task ID and returns e.
func (e *Error) WithTask(id string) *Error {
	e.TaskID = id
	return e
}

// WithAgent sets the agent ID and returns e.
func (e *Error) WithAgent(id string) *Error {
	e.AgentID = id
	return e
}

// KindOf returns the outermost kind in the chain, or "" if err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// RootKind returns the innermost kind in the chain. A TaskExecutionError
// wrapping an AgentError reports AgentError.
func RootKind(err error) Kind {
	var kind Kind
	for err != nil {
		if e, ok := err.(*Error); ok {
			kind = e.Kind
		}
		err = errors.Unwrap(err)
	}
	return kind
}

// Is reports whether any error in the chain has the given kind.
func Is(err error, kind Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok && e.Kind == kind {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}
