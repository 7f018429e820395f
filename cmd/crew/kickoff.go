package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/crewkit/internal/config"
	"github.com/ShayCichocki/crewkit/internal/logging"
	"github.com/ShayCichocki/crewkit/internal/orchestrator"
	"github.com/ShayCichocki/crewkit/internal/state"
	"github.com/ShayCichocki/crewkit/pkg/models"
)

var (
	kickoffDir         string
	kickoffInputs      []string
	kickoffProcess     string
	kickoffPlanning    bool
	kickoffTUI         bool
	kickoffNoHistory   bool
	kickoffMetricsAddr string
	kickoffJSON        bool
)

var kickoffCmd = &cobra.Command{
	Use:   "kickoff",
	Short: "Run a crew",
	Long: `Run the crew in a directory to completion.

Inputs fill {placeholders} in agent and task text:

  crew kickoff --dir ./blog --input topic="AI agents"

Ctrl-C cancels the run; a tool call already in flight is allowed to finish.
'crew stop' cancels a run from another terminal.`,
	RunE: runKickoff,
}

func init() {
	kickoffCmd.Flags().StringVarP(&kickoffDir, "dir", "d", ".", "Crew directory")
	kickoffCmd.Flags().StringArrayVarP(&kickoffInputs, "input", "i", nil, "Kickoff input as key=value (repeatable)")
	kickoffCmd.Flags().StringVar(&kickoffProcess, "process", "", "Override the process: sequential or hierarchical")
	kickoffCmd.Flags().BoolVar(&kickoffPlanning, "planning", false, "Enable the planning pre-pass")
	kickoffCmd.Flags().BoolVar(&kickoffTUI, "tui", false, "Show live progress")
	kickoffCmd.Flags().BoolVar(&kickoffNoHistory, "no-history", false, "Do not record the run in history")
	kickoffCmd.Flags().StringVar(&kickoffMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	kickoffCmd.Flags().BoolVar(&kickoffJSON, "json", false, "Print the result as JSON")
}

// parseInputs turns key=value pairs into kickoff inputs.
func parseInputs(pairs []string) (map[string]string, error) {
	inputs := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid input %q: expected key=value", pair)
		}
		inputs[key] = value
	}
	return inputs, nil
}

// applyOverrides applies command line overrides to the loaded crew.
func applyOverrides(crew *models.Crew, process string, planning bool) error {
	if process != "" {
		p := models.Process(strings.ToLower(process))
		if !p.Valid() {
			return fmt.Errorf("invalid process %q: must be sequential or hierarchical", process)
		}
		crew.Process = p
	}
	if planning {
		crew.Planning = true
	}
	return nil
}

func runKickoff(cmd *cobra.Command, args []string) error {
	inputs, err := parseInputs(kickoffInputs)
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File:   cfg.Logging.File,
	})
	if err != nil {
		return err
	}
	defer closer.Close()
	if kickoffTUI {
		// Log lines would corrupt the display; only the log file keeps them.
		logger.SetOutput(io.Discard)
		if f, ok := closer.(io.Writer); ok {
			logger.SetOutput(f)
		}
	}

	crew, err := config.LoadCrew(kickoffDir, config.CrewDefaultsFrom(cfg))
	if err != nil {
		return err
	}
	if err := applyOverrides(crew, kickoffProcess, kickoffPlanning); err != nil {
		return err
	}

	registry, err := builtinTools(cfg, kickoffDir)
	if err != nil {
		return err
	}
	factory := newFactory(cfg)
	defer factory.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle signals for graceful shutdown
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			if !kickoffTUI {
				fmt.Println("\nReceived interrupt, cancelling run...")
			}
			cancel()
		case <-ctx.Done():
		}
	}()

	watcher, err := orchestrator.NewKillWatcher(state.ProjectDir(kickoffDir))
	if err != nil {
		logger.WithError(err).Warn("Stop signals unavailable")
	} else {
		defer watcher.Close()
		defer watcher.ClearSignals()
		var stop context.CancelFunc
		ctx, stop = watcher.Watch(ctx)
		defer stop()
	}

	metrics := orchestrator.NewMetrics()
	addr := kickoffMetricsAddr
	if addr == "" {
		addr = cfg.Metrics.Addr
	}
	if addr != "" {
		srv := orchestrator.NewMetricsServer(addr, metrics)
		go func() {
			if err := srv.Start(ctx); err != nil {
				logger.WithError(err).Warn("Metrics server stopped")
			}
		}()
		defer func() {
			shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
			defer done()
			srv.Shutdown(shutdownCtx)
		}()
	}

	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(metrics),
		orchestrator.WithToolTimeout(cfg.Limits.ToolTimeout),
		orchestrator.WithRateLimitMaxWait(cfg.Limits.RateLimitMaxWait),
		orchestrator.WithMaxTokens(cfg.LLM.MaxTokens),
	}
	var events *orchestrator.EventEmitter
	if kickoffTUI {
		events = orchestrator.NewEventEmitter(256, logger)
		opts = append(opts, orchestrator.WithEvents(events))
	}

	orch, err := orchestrator.New(ctx, crew, factory, registry, opts...)
	if err != nil {
		return err
	}

	var result *models.CrewResult
	if kickoffTUI {
		result, err = kickoffWithTUI(ctx, cancel, orch, events, inputs, cfg.TUI.RefreshRate)
		if err != nil {
			return err
		}
		if n := events.DroppedCount(); n > 0 {
			logger.WithField("dropped", n).Warn("Progress display missed events")
		}
	} else {
		result = orch.Kickoff(ctx, inputs)
	}

	if !kickoffNoHistory && cfg.History.Enabled {
		recordRun(cfg, result, logger)
	}

	if kickoffJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return fmt.Errorf("encode result: %w", err)
		}
	} else {
		printResult(result)
	}

	if !result.Succeeded() {
		return fmt.Errorf("run %s failed", result.RunID)
	}
	return nil
}

// recordRun saves the result to the history ledger. History is best
// effort; a failure here never changes the run outcome.
func recordRun(cfg *config.Config, result *models.CrewResult, logger logrus.FieldLogger) {
	var db *state.DB
	var err error
	if cfg.History.Path != "" {
		db, err = state.OpenMigrated(cfg.History.Path)
	} else {
		db, err = state.OpenGlobal()
	}
	if err != nil {
		logger.WithError(err).Warn("Run history unavailable")
		return
	}
	defer db.Close()

	if err := db.SaveRun(result); err != nil {
		logger.WithError(err).Warn("Failed to record run")
	}
}

// printResult writes a human readable summary of the run.
func printResult(r *models.CrewResult) {
	fmt.Println()
	if r.Succeeded() {
		printStatus("✓", fmt.Sprintf("Crew %s completed in %s", r.Crew, r.Duration().Round(time.Millisecond)), color.FgGreen)
	} else {
		msg := fmt.Sprintf("Crew %s failed (%s): %s", r.Crew, r.ErrorKind, r.Reason)
		if r.FailedTaskID != "" {
			msg = fmt.Sprintf("Crew %s failed at task %s (%s): %s", r.Crew, r.FailedTaskID, r.ErrorKind, r.Reason)
		}
		printStatus("✗", msg, color.FgRed)
	}
	if r.Degraded {
		printStatus("⚠", "Planning failed; tasks ran without a plan", color.FgYellow)
	}
	fmt.Printf("  run:    %s\n", r.RunID)
	fmt.Printf("  tasks:  %s\n", strings.Join(r.Order, " → "))
	fmt.Printf("  usage:  %d calls, %d input tokens, %d output tokens\n",
		r.Usage.Calls, r.Usage.InputTokens, r.Usage.OutputTokens)

	if r.Final != nil {
		fmt.Printf("\n%s\n", color.New(color.Bold).Sprintf("Final output (%s):", r.Final.TaskID))
		fmt.Println(finalText(r.Final))
	}
}

// finalText renders structured output as indented JSON and anything else
// as the agent wrote it.
func finalText(o *models.Output) string {
	if !o.Structured() {
		return o.Raw
	}
	b, err := json.MarshalIndent(o.JSON, "", "  ")
	if err != nil {
		return o.Raw
	}
	return string(b)
}
