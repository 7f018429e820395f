package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrScriptExhausted is returned by MockBackend when it has no reply left.
var ErrScriptExhausted = errors.New("mock backend: no scripted reply left")

// MockBackend is a scripted Backend for tests and dry runs.
// Replies are consumed in order; CompleteFunc, when set, takes precedence.
type MockBackend struct {
	// CompleteFunc is called when Complete is invoked, if set.
	CompleteFunc func(ctx context.Context, prompt string, opts Options) (string, error)
	// Replies are returned in order when CompleteFunc is nil.
	Replies []string
	// Err, when set and Replies is exhausted, is returned instead of
	// ErrScriptExhausted.
	Err error
	// Label is returned by Name.
	Label string

	mu      sync.Mutex
	prompts []string
	tracker *TokenTracker
}

// NewMockBackend creates a mock that returns replies in order.
func NewMockBackend(replies ...string) *MockBackend {
	return &MockBackend{Replies: replies}
}

// NewFailingBackend creates a mock whose every call fails with err.
func NewFailingBackend(err error) *MockBackend {
	return &MockBackend{Err: err}
}

// Complete implements Backend.
func (m *MockBackend) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	if m.tracker == nil {
		m.tracker = NewTokenTracker()
	}
	m.tracker.Add(int64(len(prompt)/4), 0)
	fn := m.CompleteFunc
	var reply string
	var err error
	if fn == nil {
		if len(m.Replies) > 0 {
			reply = m.Replies[0]
			m.Replies = m.Replies[1:]
		} else if m.Err != nil {
			err = backendError(m.Name(), m.Err)
		} else {
			err = backendError(m.Name(), ErrScriptExhausted)
		}
	}
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, prompt, opts)
	}
	return reply, err
}

// Name implements Backend.
func (m *MockBackend) Name() string {
	if m.Label != "" {
		return m.Label
	}
	return "mock/scripted"
}

// Tracker implements Tracked.
func (m *MockBackend) Tracker() *TokenTracker {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tracker == nil {
		m.tracker = NewTokenTracker()
	}
	return m.tracker
}

// Calls returns the number of Complete invocations.
func (m *MockBackend) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.prompts)
}

// Prompts returns a copy of every prompt received.
func (m *MockBackend) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

// LastPrompt returns the most recent prompt, or "".
func (m *MockBackend) LastPrompt() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.prompts) == 0 {
		return ""
	}
	return m.prompts[len(m.prompts)-1]
}
