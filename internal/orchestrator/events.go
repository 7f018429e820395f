package orchestrator

import (
	"time"
)

// EventType represents the type of orchestrator event.
type EventType string

const (
	// EventTaskStarted indicates a task has started execution.
	EventTaskStarted EventType = "task_started"
	// EventTaskCompleted indicates a task produced a validated output.
	EventTaskCompleted EventType = "task_completed"
	// EventTaskFailed indicates a task failed.
	EventTaskFailed EventType = "task_failed"
	// EventDelegation indicates an agent handed work to a coworker.
	EventDelegation EventType = "delegation"
	// EventToolCall indicates an agent finished a tool call.
	EventToolCall EventType = "tool_call"
	// EventPlanReady indicates the planner produced a plan.
	EventPlanReady EventType = "plan_ready"
	// EventPlanDegraded indicates planning failed and the run continues
	// without a plan.
	EventPlanDegraded EventType = "plan_degraded"
	// EventRunDone indicates the whole run is finished.
	EventRunDone EventType = "run_done"
)

// OrchestratorEvent represents an event emitted by the orchestrator.
// These events are used to update the TUI and track progress.
type OrchestratorEvent struct {
	// Type is the kind of event.
	Type EventType
	// RunID identifies the kickoff the event belongs to.
	RunID string
	// TaskID is the ID of the related task, if applicable.
	TaskID string
	// AgentID is the ID of the related agent, if applicable.
	AgentID string
	// Target is the coworker for delegation events or the tool for tool
	// events.
	Target string
	// Depth is the delegation depth for delegation events.
	Depth int
	// Message provides additional context about the event.
	Message string
	// Error contains error details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
	// Duration is the elapsed time of the step the event reports.
	Duration time.Duration
}
