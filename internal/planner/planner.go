// Package planner computes an optional execution plan before a crew runs.
//
// Planning is advisory: a failed plan is returned as a value, never as an
// error, and the run continues without plan text.
package planner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/crewkit/internal/graph"
	"github.com/ShayCichocki/crewkit/internal/llm"
	"github.com/ShayCichocki/crewkit/internal/logging"
	"github.com/ShayCichocki/crewkit/internal/ratelimit"
	"github.com/ShayCichocki/crewkit/pkg/models"
)

// ErrEmptyPlan is returned when the backend answers with nothing.
var ErrEmptyPlan = errors.New("planner returned an empty plan")

// Plan is the outcome of a planning call. Text is empty whenever Err is set.
type Plan struct {
	Text string
	Err  error
}

// Degraded reports whether planning failed.
func (p Plan) Degraded() bool { return p.Err != nil }

// Planner makes a single completion call over the crew's tasks.
type Planner struct {
	backend llm.Backend
	limiter *ratelimit.Window
	logger  logrus.FieldLogger
	// MaxTokens overrides the backend default when positive.
	MaxTokens int
}

// New creates a planner. limiter may be nil.
func New(backend llm.Backend, limiter *ratelimit.Window, logger logrus.FieldLogger) *Planner {
	return &Planner{backend: backend, limiter: limiter, logger: logging.OrNop(logger)}
}

// Plan renders the tasks in dependency order and asks the backend for a plan.
func (p *Planner) Plan(ctx context.Context, tasks []*models.Task, agents []*models.Agent) Plan {
	summary, err := Summarize(tasks, agents)
	if err != nil {
		return p.fail(err)
	}
	if p.backend == nil {
		return p.fail(errors.New("no planning backend configured"))
	}
	if err := p.limiter.Acquire(ctx); err != nil {
		return p.fail(err)
	}

	reply, err := p.backend.Complete(ctx, fmt.Sprintf(planningPrompt, summary), llm.Options{
		System:    plannerSystem,
		MaxTokens: p.MaxTokens,
	})
	if err != nil {
		return p.fail(err)
	}
	text := strings.TrimSpace(reply)
	if text == "" {
		return p.fail(ErrEmptyPlan)
	}

	p.logger.WithField("chars", len(text)).Info("Execution plan ready")
	return Plan{Text: text}
}

func (p *Planner) fail(err error) Plan {
	p.logger.WithError(err).Warn("Planning failed, continuing without a plan")
	return Plan{Err: err}
}

// Summarize renders tasks in topological order with their dependencies and
// assigned roles.
func Summarize(tasks []*models.Task, agents []*models.Agent) (string, error) {
	g := graph.New()
	if err := g.Build(tasks); err != nil {
		return "", fmt.Errorf("order tasks: %w", err)
	}
	order, err := g.TopologicalSort()
	if err != nil {
		return "", fmt.Errorf("order tasks: %w", err)
	}

	roles := make(map[string]*models.Agent, len(agents))
	for _, a := range agents {
		roles[a.ID] = a
	}

	var b strings.Builder
	for i, id := range order {
		t := g.GetTask(id)
		fmt.Fprintf(&b, "%d. Task %s\n", i+1, t.ID)
		fmt.Fprintf(&b, "   Description: %s\n", t.Instruction)
		if t.ExpectedOutput != "" {
			fmt.Fprintf(&b, "   Expected output: %s\n", t.ExpectedOutput)
		}
		if a := roles[t.AgentID]; a != nil {
			fmt.Fprintf(&b, "   Agent: %s (goal: %s)\n", a.Role, a.Goal)
			if len(a.Tools) > 0 {
				fmt.Fprintf(&b, "   Tools: %s\n", strings.Join(a.Tools, ", "))
			}
		} else {
			fmt.Fprintf(&b, "   Agent: %s\n", t.AgentID)
		}
		if len(t.DependsOn) > 0 {
			fmt.Fprintf(&b, "   Depends on: %s\n", strings.Join(t.DependsOn, ", "))
		}
	}
	return strings.TrimRight(b.String(), "\n"), nil
}
