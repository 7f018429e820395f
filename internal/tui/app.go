// Package tui provides the live progress display for a crew run.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/crewkit/internal/orchestrator"
	"github.com/ShayCichocki/crewkit/pkg/models"
)

// maxLogLines is how many activity lines the log pane keeps.
const maxLogLines = 8

// EventMsg wraps an orchestrator event for the TUI.
type EventMsg struct {
	Event orchestrator.OrchestratorEvent
}

// ResultMsg carries the final result once Kickoff returns.
type ResultMsg struct {
	Result *models.CrewResult
}

// eventsClosedMsg is sent when the event channel is drained and closed.
type eventsClosedMsg struct{}

// taskRow is the display state of one task.
type taskRow struct {
	id        string
	agentID   string
	status    models.TaskStatus
	startedAt time.Time
	elapsed   time.Duration
	err       string
}

// App is the bubbletea model showing task progress for one run.
type App struct {
	crew    string
	process models.Process
	events  <-chan orchestrator.OrchestratorEvent

	rows   []*taskRow
	byID   map[string]*taskRow
	logs   []string
	plan   string
	result *models.CrewResult

	spinner  spinner.Model
	width    int
	quitting bool
	now      func() time.Time

	// Styles
	titleStyle   lipgloss.Style
	pendingStyle lipgloss.Style
	runningStyle lipgloss.Style
	doneStyle    lipgloss.Style
	failedStyle  lipgloss.Style
	hintStyle    lipgloss.Style
	logStyle     lipgloss.Style
}

// New creates a progress model for crew that reads events from ch.
func New(crew *models.Crew, ch <-chan orchestrator.OrchestratorEvent) *App {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = lipgloss.NewStyle().Foreground(lipgloss.Color("205"))

	a := &App{
		crew:    crew.Name,
		process: crew.Process,
		events:  ch,
		byID:    make(map[string]*taskRow),
		spinner: s,
		width:   80,
		now:     time.Now,

		titleStyle: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#4ECDC4")),
		pendingStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
		runningStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("33")).
			Bold(true),
		doneStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")).
			Bold(true),
		failedStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true),
		hintStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")),
		logStyle: lipgloss.NewStyle().
			Foreground(lipgloss.Color("245")),
	}
	for _, t := range crew.Tasks {
		row := &taskRow{id: t.ID, agentID: t.AgentID, status: models.TaskStatusPending}
		a.rows = append(a.rows, row)
		a.byID[t.ID] = row
	}
	return a
}

// SetRefreshRate sets how often the running spinner redraws.
func (a *App) SetRefreshRate(d time.Duration) {
	if d > 0 {
		a.spinner.Spinner.FPS = d
	}
}

// WaitForEvent returns a command that delivers the next event.
func WaitForEvent(ch <-chan orchestrator.OrchestratorEvent) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-ch
		if !ok {
			return eventsClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

// Init implements tea.Model.
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.spinner.Tick, WaitForEvent(a.events))
}

// Update implements tea.Model.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			a.quitting = true
			return a, tea.Quit
		}

	case tea.WindowSizeMsg:
		a.width = msg.Width

	case spinner.TickMsg:
		var cmd tea.Cmd
		a.spinner, cmd = a.spinner.Update(msg)
		return a, cmd

	case EventMsg:
		a.handleEvent(msg.Event)
		return a, WaitForEvent(a.events)

	case eventsClosedMsg:
		if a.result != nil {
			return a, tea.Quit
		}

	case ResultMsg:
		a.result = msg.Result
		return a, tea.Quit
	}
	return a, nil
}

// View implements tea.Model.
func (a *App) View() string {
	var b strings.Builder

	b.WriteString(a.titleStyle.Render(fmt.Sprintf("crew %s (%s)", a.crew, a.process)))
	b.WriteString("\n\n")

	for _, row := range a.rows {
		b.WriteString(a.renderRow(row))
		b.WriteString("\n")
	}

	if a.plan != "" {
		b.WriteString("\n")
		b.WriteString(a.hintStyle.Render("plan: " + a.plan))
		b.WriteString("\n")
	}

	if len(a.logs) > 0 {
		b.WriteString("\n")
		for _, line := range a.logs {
			b.WriteString(a.logStyle.Render(truncate(line, a.width)))
			b.WriteString("\n")
		}
	}

	b.WriteString("\n")
	b.WriteString(a.footer())
	b.WriteString("\n")
	return b.String()
}

func (a *App) renderRow(row *taskRow) string {
	var icon, status string
	switch row.status {
	case models.TaskStatusRunning:
		icon = a.spinner.View()
		status = a.runningStyle.Render("running")
		if !row.startedAt.IsZero() {
			status += a.hintStyle.Render(" " + formatDuration(a.now().Sub(row.startedAt)))
		}
	case models.TaskStatusSucceeded:
		icon = a.doneStyle.Render("✓")
		status = a.doneStyle.Render("done") + a.hintStyle.Render(" "+formatDuration(row.elapsed))
	case models.TaskStatusFailed:
		icon = a.failedStyle.Render("✗")
		status = a.failedStyle.Render("failed")
		if row.err != "" {
			status += " " + a.hintStyle.Render(truncate(row.err, 60))
		}
	default:
		icon = a.pendingStyle.Render("·")
		status = a.pendingStyle.Render("pending")
	}
	return fmt.Sprintf(" %s %-24s %-20s %s", icon, row.id, row.agentID, status)
}

func (a *App) footer() string {
	if a.result == nil {
		return a.hintStyle.Render("q to detach, the run keeps going until cancelled")
	}
	if a.result.Succeeded() {
		return a.doneStyle.Render(fmt.Sprintf("completed in %s", formatDuration(a.result.Duration())))
	}
	msg := "failed: " + a.result.Reason
	if a.result.FailedTaskID != "" {
		msg = fmt.Sprintf("failed at %s: %s", a.result.FailedTaskID, a.result.Reason)
	}
	return a.failedStyle.Render(truncate(msg, a.width))
}

// Result returns the final result once it has arrived.
func (a *App) Result() *models.CrewResult { return a.result }

// Quitting reports whether the user asked to leave.
func (a *App) Quitting() bool { return a.quitting }

func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if n <= 3 || len([]rune(s)) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}
