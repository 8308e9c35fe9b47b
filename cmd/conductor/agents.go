package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/directory"
)

var agentsCmd = &cobra.Command{
	Use:   "agents",
	Short: "List resolvable agent categories",
	Long: `List the agent categories with an instruction template under the
discovery roots (project, parent, and user scope). The tier shown is the
one whose template wins when a category exists at several scopes.`,
	Args: cobra.NoArgs,
	RunE: runAgents,
}

func runAgents(cmd *cobra.Command, args []string) error {
	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}

	dir, err := directory.New(directory.DefaultRoots(workDir), 0)
	if err != nil {
		return fmt.Errorf("building agent directory: %w", err)
	}
	defer dir.Close()

	categories := dir.Categories()
	if len(categories) == 0 {
		fmt.Println("No agent templates found. Add <category>.md files under .conductor/agents.")
		return nil
	}

	color.New(color.Bold).Println("Available agents:")
	for _, cat := range categories {
		tier, err := dir.ResolveTier(cat)
		if err != nil {
			continue
		}
		fmt.Printf("  %-20s %s\n", cat, tier)
	}
	return nil
}
