package main

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/crewkit/internal/config"
	"github.com/ShayCichocki/crewkit/internal/graph"
	"github.com/ShayCichocki/crewkit/internal/llm"
	"github.com/ShayCichocki/crewkit/internal/orchestrator"
	"github.com/ShayCichocki/crewkit/pkg/models"
)

var validateDir string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a crew directory without running it",
	Long: `Load the crew registries and run every construction check: agent and
task references, tool names, backend references, the dependency graph and
the manager agent. No completion calls are made.`,
	RunE: runValidate,
}

func init() {
	validateCmd.Flags().StringVarP(&validateDir, "dir", "d", ".", "Crew directory")
}

func runValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	crew, err := config.LoadCrew(validateDir, config.CrewDefaultsFrom(cfg))
	if err != nil {
		printStatus("✗", err.Error(), color.FgRed)
		return err
	}
	printStatus("✓", config.Summary(crew), color.FgGreen)

	registry, err := builtinTools(cfg, validateDir)
	if err != nil {
		return err
	}
	factory := newFactory(cfg)
	defer factory.Close()

	if _, err := orchestrator.New(context.Background(), crew, factory, registry); err != nil {
		printStatus("✗", err.Error(), color.FgRed)
		return err
	}
	printStatus("✓", "Construction checks passed", color.FgGreen)

	lines, err := executionOrder(crew.Tasks)
	if err != nil {
		return err
	}
	fmt.Println("  order:")
	for _, l := range lines {
		fmt.Printf("    %s\n", l)
	}
	fmt.Printf("  backends: %s\n", strings.Join(backendNames(factory.Backends()), ", "))
	fmt.Printf("  tools:    %s\n", strings.Join(registry.Names(), ", "))
	return nil
}

// executionOrder lists tasks in dependency order, each with the tasks it
// waits on.
func executionOrder(tasks []*models.Task) ([]string, error) {
	g := graph.New()
	if err := g.Build(tasks); err != nil {
		return nil, err
	}
	order, err := g.TopologicalSort()
	if err != nil {
		return nil, err
	}
	lines := make([]string, 0, len(order))
	for i, id := range order {
		line := fmt.Sprintf("%d. %s", i+1, id)
		if deps := g.GetDependencies(id); len(deps) > 0 {
			line += " (after " + strings.Join(deps, ", ") + ")"
		}
		lines = append(lines, line)
	}
	return lines, nil
}

func backendNames(backends []llm.Backend) []string {
	names := make([]string, 0, len(backends))
	for _, b := range backends {
		names = append(names, b.Name())
	}
	sort.Strings(names)
	return names
}
