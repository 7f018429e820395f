// Package orchestrator runs a crew: it checks the configuration once, then
// drives tasks through their agents sequentially or under a manager, and
// aggregates the outcome into a CrewResult.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/crewkit/internal/agent"
	"github.com/ShayCichocki/crewkit/internal/crewerr"
	"github.com/ShayCichocki/crewkit/internal/delegation"
	"github.com/ShayCichocki/crewkit/internal/graph"
	"github.com/ShayCichocki/crewkit/internal/llm"
	"github.com/ShayCichocki/crewkit/internal/logging"
	"github.com/ShayCichocki/crewkit/internal/planner"
	"github.com/ShayCichocki/crewkit/internal/ratelimit"
	"github.com/ShayCichocki/crewkit/internal/tools"
	"github.com/ShayCichocki/crewkit/internal/validate"
	"github.com/ShayCichocki/crewkit/pkg/models"
)

// DefaultMaxOrchestrationIterations bounds manager rounds when the crew sets
// no limit.
const DefaultMaxOrchestrationIterations = 50

// contextSeparator joins plan text and dependency outputs in a task context.
const contextSeparator = "\n\n----------\n\n"

// cancelledReason is the CrewResult reason of a cancelled run.
const cancelledReason = "Cancelled"

// BackendResolver turns a backend reference into a completion backend.
// *llm.Factory implements it.
type BackendResolver interface {
	Get(ctx context.Context, ref string) (llm.Backend, error)
}

// Orchestrator owns a validated crew and runs it.
// Kickoff may be called more than once; every run gets its own copies of
// the crew's tasks and agents while limiters stay shared.
type Orchestrator struct {
	crew     *models.Crew
	resolver BackendResolver

	backends    map[string]llm.Backend
	toolsets    map[string][]tools.Adapter
	limiters    map[string]*ratelimit.Window
	crewLimiter *ratelimit.Window

	opts   options
	logger logrus.FieldLogger
}

// New validates crew and binds its agents to backends and tools. Every
// problem is reported as a ConfigurationError before any agent runs.
func New(ctx context.Context, crew *models.Crew, resolver BackendResolver, registry *tools.Registry, opts ...Option) (*Orchestrator, error) {
	o := &Orchestrator{
		crew:     crew,
		resolver: resolver,
		backends: make(map[string]llm.Backend),
		toolsets: make(map[string][]tools.Adapter),
		limiters: make(map[string]*ratelimit.Window),
		opts:     defaultOptions(),
	}
	for _, opt := range opts {
		opt(&o.opts)
	}
	o.logger = logging.OrNop(o.opts.logger)

	if err := check(crew); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = &tools.Registry{}
	}
	if resolver == nil {
		return nil, crewerr.Configf("new orchestrator", "no backend resolver")
	}

	for _, a := range crew.Agents {
		bound, err := registry.Bind(a.Tools)
		if err != nil {
			var ce *crewerr.Error
			if errors.As(err, &ce) {
				ce.WithAgent(a.ID)
			}
			return nil, err
		}
		o.toolsets[a.ID] = bound
	}

	for _, a := range crew.Agents {
		b, err := resolver.Get(ctx, a.LLM)
		if err != nil {
			return nil, crewerr.New(crewerr.KindConfiguration, "resolve backend", err).WithAgent(a.ID)
		}
		o.backends[a.ID] = b
		o.limiters[a.ID] = o.newWindow(a.MaxCallsPerMinute)
	}
	o.crewLimiter = o.newWindow(crew.MaxRPM)

	o.logger.WithFields(logrus.Fields{
		"crew":    crew.Name,
		"process": crew.Process,
		"agents":  len(crew.Agents),
		"tasks":   len(crew.Tasks),
	}).Debug("Crew validated")
	return o, nil
}

func (o *Orchestrator) newWindow(limit int) *ratelimit.Window {
	var wopts []ratelimit.Option
	if o.opts.clock != nil {
		wopts = append(wopts, ratelimit.WithClock(o.opts.clock))
	}
	return ratelimit.NewWindow(limit, o.opts.rateLimitMaxWait, wopts...)
}

// check runs the structural construction checks.
func check(crew *models.Crew) error {
	const op = "check crew"
	if crew == nil {
		return crewerr.Configf(op, "crew is nil")
	}
	if !crew.Process.Valid() {
		return crewerr.Configf(op, "unknown process %q", crew.Process)
	}
	if len(crew.Agents) == 0 {
		return crewerr.Configf(op, "crew %s declares no agents", crew.Name)
	}
	if len(crew.Tasks) == 0 {
		return crewerr.Configf(op, "crew %s declares no tasks", crew.Name)
	}
	if crew.MaxRPM < 0 {
		return crewerr.Configf(op, "max_rpm must not be negative, got %d", crew.MaxRPM)
	}
	if crew.MaxOrchestrationIterations < 0 {
		return crewerr.Configf(op, "max_orchestration_iterations must not be negative, got %d", crew.MaxOrchestrationIterations)
	}

	seen := make(map[string]bool, len(crew.Agents))
	for _, a := range crew.Agents {
		if a == nil || a.ID == "" {
			return crewerr.Configf(op, "agent without an id")
		}
		if seen[a.ID] {
			return crewerr.Configf(op, "duplicate agent %s", a.ID)
		}
		seen[a.ID] = true
		if a.MaxIterations < 1 {
			return crewerr.Configf(op, "agent %s: max_iter must be positive, got %d", a.ID, a.MaxIterations).WithAgent(a.ID)
		}
		if a.MaxCallsPerMinute < 0 {
			return crewerr.Configf(op, "agent %s: max_rpm must not be negative, got %d", a.ID, a.MaxCallsPerMinute).WithAgent(a.ID)
		}
	}

	for _, t := range crew.Tasks {
		if t == nil || t.ID == "" {
			return crewerr.Configf(op, "task without an id")
		}
		if crew.Agent(t.AgentID) == nil {
			return crewerr.Configf(op, "task %s names unknown agent %q", t.ID, t.AgentID).WithTask(t.ID)
		}
		if strings.TrimSpace(t.Instruction) == "" {
			return crewerr.Configf(op, "task %s has no description", t.ID).WithTask(t.ID)
		}
	}

	g := graph.New()
	if err := g.Build(crew.Tasks); err != nil {
		return crewerr.New(crewerr.KindConfiguration, op, err)
	}
	if crew.Process == models.ProcessSequential {
		if err := g.CheckDeclaredOrder(); err != nil {
			return crewerr.New(crewerr.KindConfiguration, op, err)
		}
	}

	if crew.ManagerAgent != "" && crew.Agent(crew.ManagerAgent) == nil {
		return crewerr.Configf(op, "manager agent %q is not declared", crew.ManagerAgent)
	}
	if crew.Process == models.ProcessHierarchical && crew.ManagerAgent != "" && len(crew.Agents) < 2 {
		return crewerr.Configf(op, "manager agent %q has no coworkers to assign tasks to", crew.ManagerAgent)
	}
	return nil
}

// Crew returns the crew this orchestrator runs.
func (o *Orchestrator) Crew() *models.Crew { return o.crew }

// run is the state of one kickoff.
type run struct {
	id     string
	tasks  []*models.Task
	agents []*models.Agent
	plan   string
	log    logrus.FieldLogger

	runtimes map[string]*agent.Runtime

	mu      sync.Mutex
	outputs []*models.Output
	byTask  map[string]*models.Output
	order   []string
}

func (r *run) agent(id string) *models.Agent {
	for _, a := range r.agents {
		if a.ID == id {
			return a
		}
	}
	return nil
}

func (r *run) task(id string) *models.Task {
	for _, t := range r.tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

func (r *run) started(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.order = append(r.order, taskID)
}

func (r *run) record(out *models.Output) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outputs = append(r.outputs, out)
	r.byTask[out.TaskID] = out
}

func (r *run) output(taskID string) *models.Output {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byTask[taskID]
}

// contextFor assembles the plan and every dependency's raw output.
func (r *run) contextFor(t *models.Task) string {
	var parts []string
	if r.plan != "" {
		parts = append(parts, r.plan)
	}
	for _, dep := range t.DependsOn {
		if out := r.output(dep); out != nil {
			parts = append(parts, out.Raw)
		}
	}
	return strings.Join(parts, contextSeparator)
}

// Kickoff runs the crew with inputs substituted into every placeholder.
// It never returns nil; failures are reported in the result.
func (o *Orchestrator) Kickoff(ctx context.Context, inputs map[string]string) *models.CrewResult {
	result := &models.CrewResult{
		RunID:     uuid.NewString(),
		Crew:      o.crew.Name,
		Inputs:    copyInputs(inputs),
		StartedAt: o.opts.now(),
	}
	log := o.logger.WithFields(logrus.Fields{"run": result.RunID, "crew": o.crew.Name})
	log.WithField("process", o.crew.Process).Info("Kickoff")

	agents, tasks, err := interpolate(o.crew.Agents, o.crew.Tasks, inputs)
	if err != nil {
		return o.finish(result, nil, err, log)
	}
	r := &run{
		id:     result.RunID,
		tasks:  tasks,
		agents: agents,
		log:    log,
		byTask: make(map[string]*models.Output),
	}
	if err := o.buildRuntimes(r); err != nil {
		return o.finish(result, r, err, log)
	}

	backends := o.backendList()
	var plannerBackend llm.Backend
	var plannerErr error
	if o.crew.Planning {
		plannerBackend, plannerErr = o.resolver.Get(ctx, o.crew.PlanningLLM)
		if plannerBackend != nil {
			backends = append(backends, plannerBackend)
		}
	}
	before := llm.SumUsage(backends...)

	if o.crew.Planning {
		o.plan(ctx, r, result, plannerBackend, plannerErr)
	}

	if o.crew.Process == models.ProcessHierarchical {
		err = o.runHierarchical(ctx, r)
	} else {
		err = o.runSequential(ctx, r)
	}

	result.Usage = usageDelta(before, llm.SumUsage(backends...))
	return o.finish(result, r, err, log)
}

// plan runs the planner. Failure only degrades the run.
func (o *Orchestrator) plan(ctx context.Context, r *run, result *models.CrewResult, backend llm.Backend, resolveErr error) {
	var p planner.Plan
	if resolveErr != nil {
		r.log.WithError(resolveErr).Warn("Planning backend unavailable, continuing without a plan")
		p = planner.Plan{Err: resolveErr}
	} else {
		pl := planner.New(backend, o.crewLimiter, r.log)
		pl.MaxTokens = o.opts.maxTokens
		p = pl.Plan(ctx, r.tasks, r.agents)
	}

	if p.Degraded() {
		result.Degraded = true
		o.emit(OrchestratorEvent{Type: EventPlanDegraded, RunID: r.id, Error: p.Err, Message: "continuing without a plan"})
		return
	}
	r.plan = p.Text
	result.Plan = p.Text
	o.emit(OrchestratorEvent{Type: EventPlanReady, RunID: r.id, Message: logging.Truncate(p.Text, 200)})
}

// buildRuntimes creates one agent runtime per agent, all sharing one
// delegation router.
func (o *Orchestrator) buildRuntimes(r *run) error {
	r.runtimes = make(map[string]*agent.Runtime, len(r.agents))

	router := delegation.NewRouter(delegation.ExecutorFunc(func(ctx context.Context, target *models.Agent, req delegation.Request) (string, error) {
		rt, ok := r.runtimes[target.ID]
		if !ok {
			return "", crewerr.Configf("delegate", "no runtime for agent %s", target.ID)
		}
		return rt.Execute(ctx, agent.Assignment{
			TaskID:      req.TaskID,
			Instruction: req.Instruction,
			Context:     req.Context,
			Depth:       req.Depth,
		})
	}), r.log)
	router.OnDelegate = o.onDelegate(r.id)

	coworkers := o.workers(r.agents)

	for _, a := range r.agents {
		rt, err := agent.New(agent.Config{
			Agent:       a,
			Backend:     o.backends[a.ID],
			Tools:       o.toolsets[a.ID],
			Limiter:     o.limiters[a.ID],
			CrewLimiter: o.crewLimiter,
			Coworkers:   coworkers,
			Delegator:   router,
			ToolTimeout: o.opts.toolTimeout,
			MaxTokens:   o.opts.maxTokens,
			Logger:      r.log,
			Hooks:       o.hooks(r.id),
			Now:         o.opts.now,
		})
		if err != nil {
			return err
		}
		r.runtimes[a.ID] = rt
	}
	return nil
}

func (o *Orchestrator) hooks(runID string) agent.Hooks {
	return agent.Hooks{
		OnLLMCall: func(agentID string, elapsed time.Duration, err error) {
			o.opts.metrics.llmCall(agentID, elapsed, err)
		},
		OnToolCall: func(taskID, agentID, tool string, elapsed time.Duration, err error) {
			o.opts.metrics.toolCall(tool, err)
			o.emit(OrchestratorEvent{
				Type:     EventToolCall,
				RunID:    runID,
				TaskID:   taskID,
				AgentID:  agentID,
				Target:   tool,
				Error:    err,
				Duration: elapsed,
			})
		},
		OnRateWait: func(agentID string, waited time.Duration) {
			o.opts.metrics.rateLimitWait(agentID, waited)
		},
	}
}

func (o *Orchestrator) onDelegate(runID string) func(string, models.DelegationRecord) {
	return func(taskID string, rec models.DelegationRecord) {
		o.opts.metrics.delegation(rec.From, rec.To)
		o.emit(OrchestratorEvent{
			Type:    EventDelegation,
			RunID:   runID,
			TaskID:  taskID,
			AgentID: rec.From,
			Target:  rec.To,
			Depth:   rec.Depth,
		})
	}
}

// runTask executes t as agentID at depth and validates the answer. It does
// not touch t's status; callers own that.
func (o *Orchestrator) runTask(ctx context.Context, r *run, t *models.Task, agentID string, depth int) (*models.Output, error) {
	rt, ok := r.runtimes[agentID]
	if !ok {
		return nil, crewerr.Configf("run task", "no runtime for agent %s", agentID).WithTask(t.ID)
	}
	log := r.log.WithFields(logrus.Fields{"task": t.ID, "agent": agentID})

	r.started(t.ID)
	o.emit(OrchestratorEvent{Type: EventTaskStarted, RunID: r.id, TaskID: t.ID, AgentID: agentID})
	log.Info("Task started")
	start := time.Now()

	raw, err := rt.Execute(ctx, agent.Assignment{
		TaskID:         t.ID,
		Instruction:    t.Instruction,
		ExpectedOutput: t.ExpectedOutput,
		Schema:         t.OutputSchema,
		Context:        r.contextFor(t),
		Depth:          depth,
	})
	var out *models.Output
	if err == nil {
		out, err = validate.Coerce(ctx, raw, t.OutputSchema, func(ctx context.Context, previous, feedback string) (string, error) {
			return rt.Reprompt(ctx, t.ID, previous, feedback)
		})
	}
	elapsed := time.Since(start)

	if err != nil {
		terr := crewerr.New(crewerr.KindTaskExecution, "run task", err).WithTask(t.ID).WithAgent(agentID)
		o.opts.metrics.taskFinished(agentID, string(models.TaskStatusFailed), elapsed)
		o.emit(OrchestratorEvent{Type: EventTaskFailed, RunID: r.id, TaskID: t.ID, AgentID: agentID, Error: terr, Duration: elapsed})
		log.WithError(err).Warn("Task failed")
		return nil, terr
	}

	out.TaskID = t.ID
	out.AgentID = agentID
	r.record(out)
	o.opts.metrics.taskFinished(agentID, string(models.TaskStatusSucceeded), elapsed)
	o.emit(OrchestratorEvent{
		Type:     EventTaskCompleted,
		RunID:    r.id,
		TaskID:   t.ID,
		AgentID:  agentID,
		Message:  logging.Truncate(out.Raw, 200),
		Duration: elapsed,
	})
	log.WithField("elapsed", elapsed).Info("Task completed")
	return out, nil
}

// settle records the terminal state of t. Only the scheduling goroutine
// calls it.
func (o *Orchestrator) settle(t *models.Task, out *models.Output, err error) {
	now := o.opts.now()
	t.CompletedAt = &now
	if err != nil {
		t.Status = models.TaskStatusFailed
		t.Error = err.Error()
		return
	}
	t.Status = models.TaskStatusSucceeded
	t.Result = out
}

func (o *Orchestrator) begin(t *models.Task) {
	now := o.opts.now()
	t.Status = models.TaskStatusRunning
	t.StartedAt = &now
}

func (o *Orchestrator) finish(result *models.CrewResult, r *run, err error, log logrus.FieldLogger) *models.CrewResult {
	if r != nil {
		r.mu.Lock()
		result.Outputs = append([]*models.Output(nil), r.outputs...)
		result.Order = append([]string(nil), r.order...)
		r.mu.Unlock()
	}
	if n := len(result.Outputs); n > 0 {
		result.Final = result.Outputs[n-1]
	}
	result.FinishedAt = o.opts.now()

	if err == nil {
		result.Status = models.RunCompleted
		log.WithField("outputs", len(result.Outputs)).Info("Run completed")
	} else {
		result.Status = models.RunFailed
		result.ErrorKind = string(crewerr.RootKind(err))
		result.FailedTaskID = failedTask(err)
		result.Reason = err.Error()
		if crewerr.Is(err, crewerr.KindCancelled) {
			result.Reason = cancelledReason
		}
		log.WithFields(logrus.Fields{
			"kind": result.ErrorKind,
			"task": result.FailedTaskID,
		}).WithError(err).Warn("Run failed")
	}

	o.opts.metrics.runFinished(string(result.Status))
	o.emit(OrchestratorEvent{
		Type:     EventRunDone,
		RunID:    result.RunID,
		TaskID:   result.FailedTaskID,
		Message:  string(result.Status),
		Error:    err,
		Duration: result.Duration(),
	})
	return result
}

func (o *Orchestrator) emit(e OrchestratorEvent) {
	o.opts.events.Emit(e)
}

func (o *Orchestrator) backendList() []llm.Backend {
	out := make([]llm.Backend, 0, len(o.backends))
	for _, a := range o.crew.Agents {
		out = append(out, o.backends[a.ID])
	}
	return out
}

// failedTask returns the outermost task ID recorded in err's chain.
func failedTask(err error) string {
	for err != nil {
		if e, ok := err.(*crewerr.Error); ok && e.TaskID != "" {
			return e.TaskID
		}
		err = errors.Unwrap(err)
	}
	return ""
}

func usageDelta(before, after models.Usage) models.Usage {
	return models.Usage{
		Calls:        after.Calls - before.Calls,
		InputTokens:  after.InputTokens - before.InputTokens,
		OutputTokens: after.OutputTokens - before.OutputTokens,
	}
}

func copyInputs(in map[string]string) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cancelled(op string, cause error) error {
	return crewerr.New(crewerr.KindCancelled, op, fmt.Errorf("%w: %w", crewerr.ErrCancelled, cause))
}
