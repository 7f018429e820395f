package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusRunning indicates the task is being worked on by its agent.
	TaskStatusRunning TaskStatus = "running"
	// TaskStatusSucceeded indicates the task produced a validated output.
	TaskStatusSucceeded TaskStatus = "succeeded"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusRunning, TaskStatusSucceeded, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true once a task can no longer change state.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed
}

// Task represents a unit of instructed work bound to exactly one agent.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// Instruction is the instruction template. Placeholders like {topic}
	// are resolved from kickoff inputs.
	Instruction string `json:"instruction"`
	// ExpectedOutput describes what a finished answer looks like.
	ExpectedOutput string `json:"expected_output,omitempty"`
	// AgentID is the ID of the agent assigned to this task.
	AgentID string `json:"agent_id"`
	// DependsOn lists task IDs whose outputs this task consumes.
	DependsOn []string `json:"depends_on,omitempty"`
	// OutputSchema is the declared shape of the output, if any.
	OutputSchema *SchemaDescriptor `json:"output_schema,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// Result holds the validated output once the task succeeds.
	Result *Output `json:"result,omitempty"`
	// Error contains the error message if the task failed.
	Error string `json:"error,omitempty"`
	// StartedAt is when the task started running.
	StartedAt *time.Time `json:"started_at,omitempty"`
	// CompletedAt is when the task reached a terminal status.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a copy of the task that shares no mutable state.
func (t *Task) Clone() *Task {
	c := *t
	c.DependsOn = append([]string(nil), t.DependsOn...)
	if t.Result != nil {
		r := *t.Result
		c.Result = &r
	}
	return &c
}

// Output is the product of a task: free-form text, or a value conforming to
// the task's schema.
type Output struct {
	// TaskID is the task that produced this output.
	TaskID string `json:"task_id"`
	// AgentID is the agent that produced this output.
	AgentID string `json:"agent_id"`
	// Raw is the text returned by the agent.
	Raw string `json:"raw"`
	// JSON is the parsed value when the task declares a schema.
	JSON map[string]any `json:"json,omitempty"`
	// Schema is the name of the schema JSON was validated against.
	Schema string `json:"schema,omitempty"`
}

// Structured returns true if the output was validated against a schema.
func (o *Output) Structured() bool {
	return o != nil && o.JSON != nil
}

// DelegationRecord describes one hop of delegation within a task execution.
// Records are never persisted.
type DelegationRecord struct {
	From  string `json:"from"`
	To    string `json:"to"`
	Depth int    `json:"depth"`
}
