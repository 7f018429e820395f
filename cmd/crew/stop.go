package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/crewkit/internal/orchestrator"
	"github.com/ShayCichocki/crewkit/internal/state"
)

var stopDir string

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Cancel the crew running in a directory",
	Long: `Signal the kickoff running against a crew directory to cancel.
The run stops at its next cancellation point; a tool call in flight
finishes first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := orchestrator.SendKill(state.ProjectDir(stopDir)); err != nil {
			return fmt.Errorf("send stop signal: %w", err)
		}
		printStatus("✓", "Stop signal sent", color.FgGreen)
		return nil
	},
}

func init() {
	stopCmd.Flags().StringVarP(&stopDir, "dir", "d", ".", "Crew directory")
}
