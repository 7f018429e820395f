package main

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/crewkit/internal/state"
	"github.com/ShayCichocki/crewkit/pkg/models"
)

var (
	historyCrew  string
	historyLimit int
	historyPurge time.Duration
)

var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show past runs",
	Long: `List recent runs, or show one run with its task outputs.

  crew history                 # recent runs
  crew history --crew blog     # recent runs of one crew
  crew history <run-id>        # one run in full
  crew history --purge 720h    # delete runs older than 30 days`,
	Args: cobra.MaximumNArgs(1),
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().StringVar(&historyCrew, "crew", "", "Only list runs of this crew")
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "Maximum runs to list")
	historyCmd.Flags().DurationVar(&historyPurge, "purge", 0, "Delete runs older than this duration")
}

func openHistory() (*state.DB, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if cfg.History.Path != "" {
		return state.OpenMigrated(cfg.History.Path)
	}
	return state.OpenGlobal()
}

func runHistory(cmd *cobra.Command, args []string) error {
	db, err := openHistory()
	if err != nil {
		return fmt.Errorf("open history: %w", err)
	}
	defer db.Close()

	if historyPurge > 0 {
		n, err := db.PurgeOldRuns(historyPurge)
		if err != nil {
			return err
		}
		printStatus("✓", fmt.Sprintf("Deleted %d runs", n), color.FgGreen)
		return nil
	}

	if len(args) == 1 {
		run, err := db.GetRun(args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("no run with id %s", args[0])
		}
		displayRun(run)
		return nil
	}

	runs, err := db.ListRuns(historyCrew, historyLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded. Run 'crew kickoff' to start one.")
		return nil
	}
	for _, r := range runs {
		fmt.Println(runLine(r))
	}
	return nil
}

// runLine renders one run as a list row.
func runLine(r *models.CrewResult) string {
	status := color.GreenString("%-9s", r.Status)
	if !r.Succeeded() {
		status = color.RedString("%-9s", r.Status)
	}
	line := fmt.Sprintf("%s  %s  %-16s %s  %s",
		r.RunID, r.StartedAt.Local().Format("2006-01-02 15:04"), r.Crew, status,
		r.Duration().Round(time.Second))
	if r.FailedTaskID != "" {
		line += "  at " + r.FailedTaskID
	}
	return line
}

func displayRun(r *models.CrewResult) {
	bold := color.New(color.Bold)
	bold.Printf("Run %s\n", r.RunID)
	fmt.Printf("  crew:     %s\n", r.Crew)
	fmt.Printf("  status:   %s\n", r.Status)
	if r.Reason != "" {
		fmt.Printf("  reason:   %s (%s)\n", r.Reason, r.ErrorKind)
	}
	if r.FailedTaskID != "" {
		fmt.Printf("  failed:   %s\n", r.FailedTaskID)
	}
	fmt.Printf("  started:  %s\n", r.StartedAt.Local().Format(time.RFC3339))
	fmt.Printf("  duration: %s\n", r.Duration().Round(time.Millisecond))
	fmt.Printf("  usage:    %d calls, %d in, %d out\n", r.Usage.Calls, r.Usage.InputTokens, r.Usage.OutputTokens)
	if len(r.Inputs) > 0 {
		pairs := make([]string, 0, len(r.Inputs))
		for k, v := range r.Inputs {
			pairs = append(pairs, k+"="+v)
		}
		sort.Strings(pairs)
		fmt.Printf("  inputs:   %s\n", strings.Join(pairs, ", "))
	}
	if r.Plan != "" {
		fmt.Printf("\n%s\n%s\n", bold.Sprint("Plan"), r.Plan)
	}
	for _, out := range r.Outputs {
		fmt.Printf("\n%s\n%s\n", bold.Sprintf("%s (%s)", out.TaskID, out.AgentID), out.Raw)
	}
}
