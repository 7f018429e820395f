package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/crewkit/internal/config"
)

// configFile, when set, replaces the user and project config lookup.
var configFile string

var rootCmd = &cobra.Command{
	Use:   "crew",
	Short: "Multi-agent LLM crew runner",
	Long: `crew runs a crew of LLM agents over a set of tasks.

A crew directory holds agents.yaml, tasks.yaml, an optional schemas.yaml
and an optional crew.yaml. Tasks run one after another in declared order,
or, in hierarchical mode, are handed out round by round by a manager agent.

Agents reason step by step, call tools, and may delegate work or questions
to their coworkers.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ~/.config/crewkit/config.yaml)")

	rootCmd.AddCommand(kickoffCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// loadConfig reads the --config file when given, otherwise the user config
// merged with any project .crew.yaml.
func loadConfig() (*config.Config, error) {
	if configFile != "" {
		return config.LoadFromPath(configFile)
	}
	return config.Load()
}

// printStatus prints a status line with color
func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
