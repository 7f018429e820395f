package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/crewkit/internal/agent"
	"github.com/ShayCichocki/crewkit/internal/crewerr"
	"github.com/ShayCichocki/crewkit/internal/delegation"
	"github.com/ShayCichocki/crewkit/internal/graph"
	"github.com/ShayCichocki/crewkit/pkg/models"
)

// coordinatorName labels assignments made without a manager agent.
const coordinatorName = "coordinator"

const managerInstruction = `You are coordinating a crew. Decide which coworker should do each of the tasks that are ready now.

Ready tasks:
%s
Coworkers:
%s
Assign every ready task you can. Give the coworker by role or id.`

const managerExpectedOutput = `A JSON array with one object per assigned task, for example:
[{"task": "research_task", "coworker": "Senior Researcher"}]`

// assignment is one manager decision for the current round.
type assignment struct {
	Task     string `json:"task"`
	Coworker string `json:"coworker"`
}

// runHierarchical hands ready tasks to a manager (or the implicit
// coordinator) round by round. Tasks assigned in the same round run
// concurrently; the first failure cancels the round and ends the run.
func (o *Orchestrator) runHierarchical(ctx context.Context, r *run) error {
	g := graph.New()
	g.SetDebugLog(r.log.Debugf)
	if err := g.Build(r.tasks); err != nil {
		return crewerr.New(crewerr.KindConfiguration, "hierarchical", err)
	}

	limit := o.crew.MaxOrchestrationIterations
	if limit <= 0 {
		limit = DefaultMaxOrchestrationIterations
	}

	var manager *agent.Runtime
	coordinator := coordinatorName
	workers := o.workers(r.agents)
	if o.crew.ManagerAgent != "" {
		var err error
		if manager, err = o.managerRuntime(r); err != nil {
			return err
		}
		coordinator = o.crew.ManagerAgent
	}

	assigner := delegation.NewRouter(delegation.ExecutorFunc(func(ctx context.Context, target *models.Agent, req delegation.Request) (string, error) {
		out, err := o.runTask(ctx, r, r.task(req.TaskID), target.ID, req.Depth)
		if err != nil {
			return "", err
		}
		return out.Raw, nil
	}), r.log)
	notify := o.onDelegate(r.id)
	assigner.OnDelegate = func(taskID string, rec models.DelegationRecord) {
		rec.From = coordinator
		notify(taskID, rec)
	}

	for round := 1; !g.AllComplete(); round++ {
		if round > limit {
			return crewerr.New(crewerr.KindOrchestrationTimeout, "hierarchical",
				fmt.Errorf("%d rounds passed with tasks still pending", limit))
		}
		if err := ctx.Err(); err != nil {
			return cancelled("hierarchical", err)
		}

		ready := g.GetReady()
		if len(ready) == 0 {
			return crewerr.New(crewerr.KindOrchestrationTimeout, "hierarchical", errors.New("no task is ready to run"))
		}

		plan, err := o.assign(ctx, r, manager, workers, ready)
		if err != nil {
			return err
		}
		log := r.log.WithField("round", round)
		if len(plan) == 0 {
			log.Warn("Manager assigned no ready task this round")
			continue
		}
		log.WithField("tasks", len(plan)).Info("Round assigned")

		for _, a := range plan {
			o.begin(r.task(a.Task))
		}
		errs := make([]error, len(plan))
		eg, gctx := errgroup.WithContext(ctx)
		for i, a := range plan {
			t := r.task(a.Task)
			eg.Go(func() error {
				_, errs[i] = assigner.Delegate(gctx, delegation.Request{
					TaskID:      t.ID,
					From:        o.crew.ManagerAgent,
					Coworker:    a.Coworker,
					Candidates:  workers,
					Instruction: t.Instruction,
					Context:     r.contextFor(t),
					Depth:       1,
				})
				return errs[i]
			})
		}
		waitErr := eg.Wait()

		for i, a := range plan {
			o.settle(r.task(a.Task), r.output(a.Task), errs[i])
			if errs[i] == nil {
				g.MarkComplete(a.Task)
			}
		}
		if waitErr != nil {
			return waitErr
		}
	}
	return nil
}

// managerRuntime builds a runtime for the manager that can neither use
// tools nor delegate; its only job is to answer with assignments.
func (o *Orchestrator) managerRuntime(r *run) (*agent.Runtime, error) {
	m := r.agent(o.crew.ManagerAgent)
	if m == nil {
		return nil, crewerr.Configf("hierarchical", "manager agent %q is not declared", o.crew.ManagerAgent)
	}
	return agent.New(agent.Config{
		Agent:       m,
		Backend:     o.backends[m.ID],
		Limiter:     o.limiters[m.ID],
		CrewLimiter: o.crewLimiter,
		MaxTokens:   o.opts.maxTokens,
		Logger:      r.log,
		Hooks:       o.hooks(r.id),
		Now:         o.opts.now,
	})
}

// workers returns the agents that may be handed tasks. A manager agent only
// coordinates and is never one of them.
func (o *Orchestrator) workers(agents []*models.Agent) []*models.Agent {
	if o.crew.Process != models.ProcessHierarchical || o.crew.ManagerAgent == "" {
		return agents
	}
	out := make([]*models.Agent, 0, len(agents))
	for _, a := range agents {
		if a.ID != o.crew.ManagerAgent {
			out = append(out, a)
		}
	}
	return out
}

// assign decides who runs which ready task. Without a manager every task
// goes to its declared agent. A manager whose answer cannot be used falls
// back to the same rule; only cancellation and rate limit timeouts end the
// run.
func (o *Orchestrator) assign(ctx context.Context, r *run, manager *agent.Runtime, workers []*models.Agent, ready []string) ([]assignment, error) {
	if manager == nil {
		return coordinate(r, workers, ready), nil
	}

	reply, err := manager.Execute(ctx, agent.Assignment{
		Instruction:    fmt.Sprintf(managerInstruction, describeReady(r, workers, ready), describeCoworkers(workers)),
		ExpectedOutput: managerExpectedOutput,
	})
	if err != nil {
		switch crewerr.KindOf(err) {
		case crewerr.KindCancelled, crewerr.KindRateLimitTimeout:
			return nil, err
		}
		r.log.WithError(err).Warn("Manager failed, assigning tasks to their declared agents")
		return coordinate(r, workers, ready), nil
	}

	proposed, err := parseAssignments(reply)
	if err != nil {
		r.log.WithError(err).Warn("Unusable manager answer, assigning tasks to their declared agents")
		return coordinate(r, workers, ready), nil
	}
	return reconcile(r, workers, ready, proposed), nil
}

// coordinate assigns every ready task to its declared agent.
func coordinate(r *run, workers []*models.Agent, ready []string) []assignment {
	plan := make([]assignment, 0, len(ready))
	for _, id := range ready {
		plan = append(plan, assignment{Task: id, Coworker: declaredWorker(r.task(id), workers)})
	}
	return plan
}

// declaredWorker returns the task's declared agent when it is a worker.
// A task declared for the manager goes to the worker whose role and goal
// best fit the instruction, or the first worker when none fits.
func declaredWorker(t *models.Task, workers []*models.Agent) string {
	for _, w := range workers {
		if w.ID == t.AgentID {
			return w.ID
		}
	}
	if w, err := delegation.Select(delegation.Request{Instruction: t.Instruction, Candidates: workers}); err == nil {
		return w.ID
	}
	if len(workers) > 0 {
		return workers[0].ID
	}
	return t.AgentID
}

// reconcile keeps the manager's assignments for ready tasks only, once
// each. A coworker that matches no worker is replaced by the declared one.
func reconcile(r *run, workers []*models.Agent, ready []string, proposed []assignment) []assignment {
	isReady := make(map[string]bool, len(ready))
	for _, id := range ready {
		isReady[id] = true
	}
	taken := make(map[string]bool)
	var plan []assignment
	for _, a := range proposed {
		a.Task = strings.TrimSpace(a.Task)
		if !isReady[a.Task] || taken[a.Task] {
			continue
		}
		taken[a.Task] = true
		if _, err := delegation.Select(delegation.Request{Coworker: a.Coworker, Candidates: workers}); err != nil || strings.TrimSpace(a.Coworker) == "" {
			r.log.WithField("task", a.Task).Debugf("Unknown coworker %q, using the declared agent", a.Coworker)
			a.Coworker = declaredWorker(r.task(a.Task), workers)
		}
		plan = append(plan, a)
	}
	return plan
}

// parseAssignments reads the JSON array out of a manager answer.
func parseAssignments(reply string) ([]assignment, error) {
	start := strings.Index(reply, "[")
	end := strings.LastIndex(reply, "]")
	if start < 0 || end < start {
		return nil, errors.New("no JSON array in manager answer")
	}
	var out []assignment
	if err := json.Unmarshal([]byte(reply[start:end+1]), &out); err != nil {
		return nil, fmt.Errorf("invalid assignment list: %w", err)
	}
	return out, nil
}

func describeReady(r *run, workers []*models.Agent, ready []string) string {
	var b strings.Builder
	for _, id := range ready {
		t := r.task(id)
		fmt.Fprintf(&b, "- %s: %s", id, strings.TrimSpace(t.Instruction))
		if a := r.agent(declaredWorker(t, workers)); a != nil {
			fmt.Fprintf(&b, " (suggested: %s)", a.Role)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func describeCoworkers(agents []*models.Agent) string {
	var b strings.Builder
	for _, a := range agents {
		fmt.Fprintf(&b, "- %s (%s): %s\n", a.Role, a.ID, strings.TrimSpace(a.Goal))
	}
	return b.String()
}
