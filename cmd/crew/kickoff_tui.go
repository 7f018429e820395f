package main

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/ShayCichocki/crewkit/internal/orchestrator"
	"github.com/ShayCichocki/crewkit/internal/tui"
	"github.com/ShayCichocki/crewkit/pkg/models"
)

// kickoffWithTUI runs the crew while the progress display reads its
// events. Leaving the display early cancels the run.
func kickoffWithTUI(ctx context.Context, cancel context.CancelFunc, orch *orchestrator.Orchestrator, events *orchestrator.EventEmitter, inputs map[string]string, refresh time.Duration) (*models.CrewResult, error) {
	app := tui.New(orch.Crew(), events.Events())
	app.SetRefreshRate(refresh)
	program := tea.NewProgram(app)

	done := make(chan *models.CrewResult, 1)
	go func() {
		result := orch.Kickoff(ctx, inputs)
		events.Close()
		done <- result
		program.Send(tui.ResultMsg{Result: result})
	}()

	if _, err := program.Run(); err != nil {
		cancel()
		<-done
		return nil, fmt.Errorf("progress display: %w", err)
	}
	if app.Quitting() {
		cancel()
	}
	return <-done, nil
}
