// Package tools provides the tool adapters agents may invoke while reasoning.
//
// An adapter takes a single input string and returns an observation string.
// Adapters never touch engine state; the agent owns the scratchpad the
// observation is written to.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/crewkit/internal/crewerr"
)

// DefaultTimeout bounds a single tool call when no timeout is configured.
const DefaultTimeout = 60 * time.Second

// Adapter is a named external capability.
type Adapter interface {
	Name() string
	Description() string
	Invoke(ctx context.Context, input string) (string, error)
}

// Registry holds the adapters available to a crew, keyed by name. The zero
// value is an empty registry.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry creates a registry holding the given adapters. Two adapters
// with the same name are a configuration error, as with Register.
func NewRegistry(adapters ...Adapter) (*Registry, error) {
	r := &Registry{}
	for _, a := range adapters {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an adapter. Registering a name twice is a configuration error.
func (r *Registry) Register(a Adapter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.adapters[a.Name()]; exists {
		return crewerr.Configf("register tool", "tool %s already registered", a.Name())
	}
	if r.adapters == nil {
		r.adapters = make(map[string]Adapter)
	}
	r.adapters[a.Name()] = a
	return nil
}

// Get returns the named adapter.
func (r *Registry) Get(name string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[name]
	return a, ok
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.adapters))
	for name := range r.adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Bind resolves tool names for one agent. Any unknown name fails the whole
// binding with a ConfigurationError.
func (r *Registry) Bind(names []string) ([]Adapter, error) {
	bound := make([]Adapter, 0, len(names))
	for _, name := range names {
		a, ok := r.Get(name)
		if !ok {
			return nil, crewerr.Configf("bind tools", "unknown tool %q", name)
		}
		bound = append(bound, a)
	}
	return bound, nil
}

// Call invokes an adapter with a per-call timeout. The call runs on a context
// detached from ctx cancellation so that an in-flight tool finishes even when
// the run is being cancelled; only the timeout can cut it short. Any failure
// comes back as a ToolError.
func Call(ctx context.Context, a Adapter, input string, timeout time.Duration) (string, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	out, err := a.Invoke(callCtx, input)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || callCtx.Err() != nil {
			err = fmt.Errorf("timed out after %s: %w", timeout, err)
		}
		return "", crewerr.New(crewerr.KindTool, a.Name(), err)
	}
	return out, nil
}

// Describe renders the adapters as a prompt section, one per line.
func Describe(adapters []Adapter) string {
	var b strings.Builder
	for _, a := range adapters {
		fmt.Fprintf(&b, "%s: %s\n", a.Name(), a.Description())
	}
	return strings.TrimRight(b.String(), "\n")
}

// Func adapts a plain function into an Adapter.
type Func struct {
	ToolName string
	Desc     string
	Fn       func(ctx context.Context, input string) (string, error)
}

func (f *Func) Name() string        { return f.ToolName }
func (f *Func) Description() string { return f.Desc }

func (f *Func) Invoke(ctx context.Context, input string) (string, error) {
	return f.Fn(ctx, input)
}

// argument extracts a named argument from a tool input. Inputs may be a JSON
// object (the first present key wins) or a bare string.
func argument(input string, keys ...string) string {
	args := arguments(input)
	if args == nil {
		return unquote(input)
	}
	for _, k := range keys {
		if v, ok := args[k]; ok {
			return stringValue(v)
		}
	}
	return ""
}

// arguments decodes a JSON object input, or returns nil.
func arguments(input string) map[string]any {
	trimmed := strings.TrimSpace(input)
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(trimmed), &args); err != nil {
		return nil
	}
	return args
}

func stringValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	default:
		b, _ := json.Marshal(t)
		return string(b)
	}
}

func boolValue(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true") || v == "1"
	default:
		return false
	}
}

func unquote(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 2 && (s[0] == '"' && s[len(s)-1] == '"' || s[0] == '\'' && s[len(s)-1] == '\'') {
		return s[1 : len(s)-1]
	}
	return s
}
