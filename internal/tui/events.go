package tui

import (
	"fmt"

	"github.com/ShayCichocki/crewkit/internal/orchestrator"
	"github.com/ShayCichocki/crewkit/pkg/models"
)

// handleEvent folds one orchestrator event into the display state.
func (a *App) handleEvent(ev orchestrator.OrchestratorEvent) {
	switch ev.Type {
	case orchestrator.EventTaskStarted:
		row := a.row(ev.TaskID)
		row.status = models.TaskStatusRunning
		row.agentID = ev.AgentID
		row.startedAt = ev.Timestamp
		row.err = ""

	case orchestrator.EventTaskCompleted:
		row := a.row(ev.TaskID)
		row.status = models.TaskStatusSucceeded
		row.elapsed = ev.Duration

	case orchestrator.EventTaskFailed:
		row := a.row(ev.TaskID)
		row.status = models.TaskStatusFailed
		row.elapsed = ev.Duration
		if ev.Error != nil {
			row.err = ev.Error.Error()
		}

	case orchestrator.EventToolCall:
		line := fmt.Sprintf("%s used %s (%s)", ev.AgentID, ev.Target, formatDuration(ev.Duration))
		if ev.Error != nil {
			line += ": " + ev.Error.Error()
		}
		a.log(line)

	case orchestrator.EventDelegation:
		a.log(fmt.Sprintf("%s delegated to %s at depth %d", ev.AgentID, ev.Target, ev.Depth))

	case orchestrator.EventPlanReady:
		a.plan = ev.Message

	case orchestrator.EventPlanDegraded:
		a.log("planning failed, continuing without a plan")
	}
}

// row returns the row for id, adding one for tasks the crew did not list.
func (a *App) row(id string) *taskRow {
	if r, ok := a.byID[id]; ok {
		return r
	}
	r := &taskRow{id: id, status: models.TaskStatusPending}
	a.rows = append(a.rows, r)
	a.byID[id] = r
	return r
}

func (a *App) log(line string) {
	a.logs = append(a.logs, line)
	if len(a.logs) > maxLogLines {
		a.logs = a.logs[len(a.logs)-maxLogLines:]
	}
}
