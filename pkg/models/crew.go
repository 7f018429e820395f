package models

import "time"

// Process is the execution strategy of a crew.
type Process string

const (
	// ProcessSequential runs tasks one at a time in declared order.
	ProcessSequential Process = "sequential"
	// ProcessHierarchical lets a manager agent assign ready tasks.
	ProcessHierarchical Process = "hierarchical"
)

// Valid returns true if the process is a known value.
func (p Process) Valid() bool {
	switch p {
	case ProcessSequential, ProcessHierarchical:
		return true
	default:
		return false
	}
}

// Crew is the full agent and task configuration of one orchestration.
type Crew struct {
	// Name identifies the crew in logs and run history.
	Name string `json:"name"`
	// Agents are the crew members, in declaration order.
	Agents []*Agent `json:"agents"`
	// Tasks are the units of work, in declaration order.
	Tasks []*Task `json:"tasks"`
	// Process selects sequential or hierarchical execution.
	Process Process `json:"process"`
	// Planning enables the planner pre-pass.
	Planning bool `json:"planning"`
	// PlanningLLM is the backend reference used by the planner.
	PlanningLLM string `json:"planning_llm,omitempty"`
	// ManagerAgent is the ID of the agent that drives hierarchical runs.
	// Empty selects the implicit coordinator.
	ManagerAgent string `json:"manager_agent,omitempty"`
	// MaxRPM is a crew-wide completion call limit per rolling minute.
	// Zero means no crew-wide limit.
	MaxRPM int `json:"max_rpm,omitempty"`
	// MaxOrchestrationIterations bounds manager rounds in hierarchical mode.
	MaxOrchestrationIterations int `json:"max_orchestration_iterations,omitempty"`
}

// Agent returns the agent with the given ID, or nil.
func (c *Crew) Agent(id string) *Agent {
	for _, a := range c.Agents {
		if a.ID == id {
			return a
		}
	}
	return nil
}

// Task returns the task with the given ID, or nil.
func (c *Crew) Task(id string) *Task {
	for _, t := range c.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}

// RunStatus is the overall outcome of a kickoff.
type RunStatus string

const (
	// RunCompleted means every task succeeded.
	RunCompleted RunStatus = "completed"
	// RunFailed means the run stopped at a failing task or error.
	RunFailed RunStatus = "failed"
)

// Usage aggregates completion backend consumption over a run.
type Usage struct {
	Calls        int   `json:"calls"`
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// CrewResult is the outcome of a kickoff.
type CrewResult struct {
	// RunID uniquely identifies the kickoff.
	RunID string `json:"run_id"`
	// Crew is the crew name.
	Crew string `json:"crew"`
	// Status is completed or failed.
	Status RunStatus `json:"status"`
	// Reason is the failure message when Status is failed.
	Reason string `json:"reason,omitempty"`
	// FailedTaskID names the first failing task, if any.
	FailedTaskID string `json:"failed_task_id,omitempty"`
	// ErrorKind is the specific error kind behind the failure.
	ErrorKind string `json:"error_kind,omitempty"`
	// Outputs holds every successful task output, in completion order.
	Outputs []*Output `json:"outputs"`
	// Final is the output of the last task to succeed.
	Final *Output `json:"final,omitempty"`
	// Order is the sequence in which tasks were started.
	Order []string `json:"order"`
	// Plan is the planner guidance injected into tasks, if any.
	Plan string `json:"plan,omitempty"`
	// Degraded is set when planning was requested but failed.
	Degraded bool `json:"degraded,omitempty"`
	// Inputs are the kickoff inputs.
	Inputs map[string]string `json:"inputs,omitempty"`
	// StartedAt is when the kickoff began.
	StartedAt time.Time `json:"started_at"`
	// FinishedAt is when the kickoff ended.
	FinishedAt time.Time `json:"finished_at"`
	// Usage summarizes backend consumption.
	Usage Usage `json:"usage"`
}

// Succeeded returns true if the run completed.
func (r *CrewResult) Succeeded() bool {
	return r.Status == RunCompleted
}

// Output returns the output of the given task, or nil.
func (r *CrewResult) Output(taskID string) *Output {
	for _, o := range r.Outputs {
		if o.TaskID == taskID {
			return o
		}
	}
	return nil
}

// Duration returns the wall-clock length of the run.
func (r *CrewResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
