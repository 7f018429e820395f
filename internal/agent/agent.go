package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ShayCichocki/crewkit/internal/crewerr"
	"github.com/ShayCichocki/crewkit/internal/delegation"
	"github.com/ShayCichocki/crewkit/internal/llm"
	"github.com/ShayCichocki/crewkit/internal/logging"
	"github.com/ShayCichocki/crewkit/internal/ratelimit"
	"github.com/ShayCichocki/crewkit/internal/tools"
	"github.com/ShayCichocki/crewkit/pkg/models"
)

// Assignment is one unit of work handed to an agent.
type Assignment struct {
	// TaskID is the task this work belongs to, for logging and events.
	TaskID string
	// Instruction is the resolved task instruction.
	Instruction string
	// ExpectedOutput describes the answer the task wants.
	ExpectedOutput string
	// Schema, when set, is described to the agent so it answers in JSON.
	Schema *models.SchemaDescriptor
	// Context carries plan text and dependency outputs.
	Context string
	// Depth is the delegation depth this execution runs at.
	Depth int
}

// Delegator routes a delegation request to a coworker.
type Delegator interface {
	Delegate(ctx context.Context, req delegation.Request) (string, error)
}

// Hooks observe an agent's activity. Any field may be nil.
type Hooks struct {
	OnLLMCall  func(agentID string, elapsed time.Duration, err error)
	OnToolCall func(taskID, agentID, tool string, elapsed time.Duration, err error)
	OnRateWait func(agentID string, waited time.Duration)
}

// Config wires a Runtime.
type Config struct {
	Agent   *models.Agent
	Backend llm.Backend
	Tools   []tools.Adapter
	// Limiter bounds this agent's completion calls. Nil means unlimited.
	Limiter *ratelimit.Window
	// CrewLimiter is shared by every agent in the crew. Nil means unlimited.
	CrewLimiter *ratelimit.Window
	// Coworkers are the crew's agents in declaration order.
	Coworkers   []*models.Agent
	Delegator   Delegator
	ToolTimeout time.Duration
	MaxTokens   int
	Logger      logrus.FieldLogger
	Hooks       Hooks
	// Now is the clock for date injection. Defaults to time.Now.
	Now func() time.Time
}

// Runtime executes assignments for one agent. Execute may be called
// concurrently; all per-execution state is local to the call.
type Runtime struct {
	agent       *models.Agent
	backend     llm.Backend
	tools       []tools.Adapter
	limiter     *ratelimit.Window
	crewLimiter *ratelimit.Window
	coworkers   []*models.Agent
	delegator   Delegator
	toolTimeout time.Duration
	maxTokens   int
	logger      logrus.FieldLogger
	hooks       Hooks
	now         func() time.Time
}

// New creates a runtime for cfg.Agent.
func New(cfg Config) (*Runtime, error) {
	if cfg.Agent == nil {
		return nil, crewerr.Configf("new agent", "agent is required")
	}
	if cfg.Backend == nil {
		return nil, crewerr.Configf("new agent", "agent %s has no backend", cfg.Agent.ID)
	}
	if cfg.Agent.MaxIterations < 1 {
		return nil, crewerr.Configf("new agent", "agent %s: max_iter must be positive, got %d", cfg.Agent.ID, cfg.Agent.MaxIterations)
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Runtime{
		agent:       cfg.Agent,
		backend:     cfg.Backend,
		tools:       cfg.Tools,
		limiter:     cfg.Limiter,
		crewLimiter: cfg.CrewLimiter,
		coworkers:   cfg.Coworkers,
		delegator:   cfg.Delegator,
		toolTimeout: cfg.ToolTimeout,
		maxTokens:   cfg.MaxTokens,
		logger:      logging.OrNop(cfg.Logger).WithField("agent", cfg.Agent.ID),
		hooks:       cfg.Hooks,
		now:         now,
	}, nil
}

// Agent returns the agent this runtime executes.
func (r *Runtime) Agent() *models.Agent { return r.agent }

// Execute runs the reasoning loop until the agent gives a final answer or
// the iteration budget runs out.
func (r *Runtime) Execute(ctx context.Context, a Assignment) (string, error) {
	log := r.logger.WithFields(logrus.Fields{"task": a.TaskID, "depth": a.Depth})

	if r.agent.Reasoning {
		approach, err := r.reflect(ctx, a)
		if err != nil {
			if fatal(err) {
				return "", err
			}
			log.WithError(err).Warn("Reasoning step failed, continuing without it")
		} else if approach != "" {
			a.Context = joinNonEmpty("\n\n", a.Context, "Your approach:\n"+approach)
		}
	}

	ic := NewIterationController(r.agent.MaxIterations)
	pad := &scratchpad{}

	for ic.Next() {
		if err := r.checkCancelled(ctx); err != nil {
			return "", err
		}

		prompt := r.userPrompt(a, pad, r.now())
		if ic.IsAtMax() && pad.len() > 0 {
			prompt += "\n" + forceFinalPrompt
		}
		reply, err := r.complete(ctx, r.systemPrompt(a.Depth), prompt, "\n"+observationMarker)
		if err != nil {
			if fatal(err) {
				return "", err
			}
			ic.RecordFailure(err)
			log.WithError(err).WithField("iteration", ic.GetIteration()).Warn("Completion failed")
			continue
		}
		ic.RecordSuccess()

		step, perr := parseReply(reply)
		if perr != nil {
			log.WithField("iteration", ic.GetIteration()).Debugf("Unparseable reply: %v", perr)
			pad.add(reply, formatCorrection(perr))
			continue
		}

		switch step.Kind {
		case StepFinal:
			log.WithField("iteration", ic.GetIteration()).Debug("Final answer")
			return step.Answer, nil
		case StepTool:
			pad.add(reply, r.useTool(ctx, a, step))
		case StepDelegate:
			obs, err := r.delegate(ctx, a, step)
			if err != nil {
				return "", err
			}
			pad.add(reply, obs)
		}
	}

	if err := r.checkCancelled(ctx); err != nil {
		return "", err
	}
	if last := ic.LastFailure(); last != nil {
		return "", r.agentError(a, fmt.Errorf("%w after %d iterations: %w", crewerr.ErrBackend, ic.GetMaxIterations(), last))
	}
	return "", r.agentError(a, fmt.Errorf("%w: %d iterations without a final answer", crewerr.ErrIterationLimitExceeded, ic.GetMaxIterations()))
}

// Reprompt asks the agent to re-emit previous in the declared format. It
// takes one completion call and respects the rate limits.
func (r *Runtime) Reprompt(ctx context.Context, taskID, previous, feedback string) (string, error) {
	if err := r.checkCancelled(ctx); err != nil {
		return "", err
	}
	r.logger.WithField("task", taskID).Info("Asking for a corrected output")
	prompt := render(repromptPrompt, map[string]string{"previous": previous, "feedback": feedback})
	reply, err := r.complete(ctx, r.systemPrompt(delegation.MaxDepth), prompt)
	if err != nil {
		return "", err
	}
	if i := strings.Index(reply, finalAnswerMarker); i >= 0 {
		reply = reply[i+len(finalAnswerMarker):]
	}
	return strings.TrimSpace(reply), nil
}

// reflect runs the optional reasoning pre-pass. It does not count against
// the iteration budget.
func (r *Runtime) reflect(ctx context.Context, a Assignment) (string, error) {
	if err := r.checkCancelled(ctx); err != nil {
		return "", err
	}
	prompt := render(reasoningPrompt, map[string]string{"task": r.taskSection(a, r.now())})
	reply, err := r.complete(ctx, r.systemPrompt(a.Depth), prompt)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(reply), nil
}

// complete acquires rate tokens and calls the backend.
func (r *Runtime) complete(ctx context.Context, system, prompt string, stop ...string) (string, error) {
	if err := r.acquire(ctx); err != nil {
		return "", err
	}
	opts := llm.Options{
		System:      system,
		Temperature: r.agent.Temperature,
		MaxTokens:   r.maxTokens,
		Stop:        stop,
	}
	start := time.Now()
	reply, err := r.backend.Complete(ctx, prompt, opts)
	if r.hooks.OnLLMCall != nil {
		r.hooks.OnLLMCall(r.agent.ID, time.Since(start), err)
	}
	if err != nil && ctx.Err() != nil {
		return "", r.cancelled(ctx.Err())
	}
	return reply, err
}

func (r *Runtime) acquire(ctx context.Context) error {
	before := r.limiter.Waited() + r.crewLimiter.Waited()
	err := ratelimit.AcquireAll(ctx, r.limiter, r.crewLimiter)
	if waited := r.limiter.Waited() + r.crewLimiter.Waited() - before; waited > 0 && r.hooks.OnRateWait != nil {
		r.hooks.OnRateWait(r.agent.ID, waited)
	}
	if err == nil {
		return nil
	}
	if crewerr.KindOf(err) == crewerr.KindRateLimitTimeout {
		var ce *crewerr.Error
		if errors.As(err, &ce) {
			ce.WithAgent(r.agent.ID)
		}
		return err
	}
	if ctx.Err() != nil {
		return r.cancelled(ctx.Err())
	}
	return err
}

// useTool runs a tool action and returns the observation. Tool failures are
// observations, not errors.
func (r *Runtime) useTool(ctx context.Context, a Assignment, step Step) string {
	var adapter tools.Adapter
	for _, t := range r.tools {
		if strings.EqualFold(t.Name(), step.Action) {
			adapter = t
			break
		}
	}
	if adapter == nil {
		names, _ := r.actions(a.Depth)
		return fmt.Sprintf("Action '%s' doesn't exist, these are the only available Actions: [%s]", step.Action, strings.Join(names, ", "))
	}

	log := r.logger.WithFields(logrus.Fields{"task": a.TaskID, "tool": adapter.Name()})
	start := time.Now()
	out, err := tools.Call(ctx, adapter, step.Input, r.toolTimeout)
	elapsed := time.Since(start)
	if r.hooks.OnToolCall != nil {
		r.hooks.OnToolCall(a.TaskID, r.agent.ID, adapter.Name(), elapsed, err)
	}
	if err != nil {
		log.WithError(err).Warn("Tool call failed")
		return fmt.Sprintf("I encountered an error while trying to use the tool. This was the error: %v.\nTool %s accepts these inputs: %s", err, adapter.Name(), adapter.Description())
	}
	log.WithField("elapsed", elapsed).Debug("Tool call succeeded")
	return out
}

type delegateInput struct {
	Coworker string `json:"coworker"`
	Task     string `json:"task"`
	Question string `json:"question"`
	Context  string `json:"context"`
}

// delegate hands a sub-instruction to a coworker one level deeper.
func (r *Runtime) delegate(ctx context.Context, a Assignment, step Step) (string, error) {
	if !r.agent.AllowDelegation || r.delegator == nil {
		return fmt.Sprintf("Action '%s' is not available to you. Complete the task yourself.", step.Action), nil
	}

	var in delegateInput
	if err := json.Unmarshal([]byte(step.Input), &in); err != nil {
		return fmt.Sprintf("Error parsing the input for %s: %v. The input must be a JSON object with \"coworker\", \"task\" and \"context\".", step.Action, err), nil
	}
	instruction := in.Task
	if instruction == "" {
		instruction = in.Question
	}
	if strings.TrimSpace(instruction) == "" {
		return fmt.Sprintf("The input for %s must include what the coworker should do.", step.Action), nil
	}

	return r.delegator.Delegate(ctx, delegation.Request{
		TaskID:      a.TaskID,
		From:        r.agent.ID,
		Coworker:    in.Coworker,
		Candidates:  r.coworkers,
		Instruction: instruction,
		Context:     in.Context,
		Depth:       a.Depth + 1,
	})
}

func (r *Runtime) checkCancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return r.cancelled(err)
	}
	return nil
}

func (r *Runtime) cancelled(cause error) error {
	return crewerr.New(crewerr.KindCancelled, "execute", fmt.Errorf("%w: %w", crewerr.ErrCancelled, cause)).WithAgent(r.agent.ID)
}

func (r *Runtime) agentError(a Assignment, err error) error {
	return crewerr.New(crewerr.KindAgent, "execute", err).WithTask(a.TaskID).WithAgent(r.agent.ID)
}

// fatal reports whether err ends the execution instead of costing one
// iteration.
func fatal(err error) bool {
	switch crewerr.KindOf(err) {
	case crewerr.KindCancelled, crewerr.KindRateLimitTimeout:
		return true
	default:
		return false
	}
}

func joinNonEmpty(sep string, parts ...string) string {
	var kept []string
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
