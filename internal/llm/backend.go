// Package llm provides the completion backends agents reason with.
package llm

import (
	"context"
	"fmt"
	"sync"

	"github.com/ShayCichocki/crewkit/internal/crewerr"
	"github.com/ShayCichocki/crewkit/pkg/models"
)

// DefaultMaxTokens caps a completion when the caller does not.
const DefaultMaxTokens = 4096

// Options tune a single completion call.
type Options struct {
	// System is the system prompt, if the backend supports one.
	System string
	// Temperature overrides the backend default when set.
	Temperature *float64
	// MaxTokens caps the completion length. Zero uses DefaultMaxTokens.
	MaxTokens int
	// Stop lists sequences that end generation early.
	Stop []string
}

func (o Options) maxTokens() int {
	if o.MaxTokens > 0 {
		return o.MaxTokens
	}
	return DefaultMaxTokens
}

// Backend is a text completion service.
type Backend interface {
	// Complete returns the completion for prompt. Transport and auth
	// failures are reported as BackendError.
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
	// Name identifies the backend in logs, e.g. "gemini/gemini-2.0-flash".
	Name() string
}

// Tracked is implemented by backends that record token usage.
type Tracked interface {
	Tracker() *TokenTracker
}

// backendError wraps a provider failure as a BackendError.
func backendError(name string, err error) error {
	return crewerr.New(crewerr.KindBackend, name, fmt.Errorf("%w: %w", crewerr.ErrBackend, err))
}

// TokenTracker tracks token usage across API calls.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
}

// NewTokenTracker creates a new token tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{}
}

// Add records token usage from an API call.
func (t *TokenTracker) Add(input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.calls++
}

// Calls returns the number of API calls made.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

// Usage returns the tracked totals as a models.Usage.
func (t *TokenTracker) Usage() models.Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return models.Usage{Calls: t.calls, InputTokens: t.inputTok, OutputTokens: t.outputTok}
}

// SumUsage adds up usage across every tracked backend. Backends listed more
// than once are counted once.
func SumUsage(backends ...Backend) models.Usage {
	var total models.Usage
	seen := make(map[*TokenTracker]bool)
	for _, b := range backends {
		tb, ok := b.(Tracked)
		if !ok || tb.Tracker() == nil || seen[tb.Tracker()] {
			continue
		}
		seen[tb.Tracker()] = true
		u := tb.Tracker().Usage()
		total.Calls += u.Calls
		total.InputTokens += u.InputTokens
		total.OutputTokens += u.OutputTokens
	}
	return total
}
