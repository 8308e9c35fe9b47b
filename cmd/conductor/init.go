package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/internal/channel"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init [directory]",
	Short: "Initialize a directory for conductor",
	Long: `Initialize a directory for use with conductor:
  - Creates the .conductor/agents directory for instruction templates
  - Creates a starter CONDUCTOR.md configuration document
  - Creates a .conductor.yaml project configuration

The directory argument is optional and defaults to the current directory.

Examples:
  conductor init              # Initialize current directory
  conductor init ./myproject  # Initialize specific directory
  conductor init --force      # Overwrite existing scaffolding`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInitCmd,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing scaffolding files")
}

const conductorDocTemplate = `# Conductor Configuration

This document controls orchestration for this project. Local in-process
orchestration is enabled by default. To route every delegation to the
external channel instead, change ENABLED to DISABLED on the line below:

CONDUCTOR_ORCHESTRATION: ENABLED
`

const projectConfigTemplate = `# Conductor project configuration.
defaults:
  timeout: 5m
  priority: medium
channel:
  # cli runs the claude CLI; api calls the Anthropic Messages API.
  kind: cli
metrics:
  persist: true
`

const exampleAgentTemplate = `You are the QA agent for this project.

Run the test suite, report failures with enough detail to reproduce them,
and never modify source files.
`

func runInitCmd(cmd *cobra.Command, args []string) error {
	targetDir := "."
	if len(args) > 0 {
		targetDir = args[0]
	}
	absPath, err := filepath.Abs(targetDir)
	if err != nil {
		return fmt.Errorf("resolving absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", absPath, err)
	}

	agentsDir := filepath.Join(absPath, ".conductor", "agents")
	if err := os.MkdirAll(agentsDir, 0755); err != nil {
		return fmt.Errorf("creating agents directory: %w", err)
	}
	printStatus("✓", "Created .conductor/agents", color.FgGreen)

	files := []struct {
		path    string
		content string
		label   string
	}{
		{filepath.Join(absPath, "CONDUCTOR.md"), conductorDocTemplate, "Created CONDUCTOR.md"},
		{filepath.Join(absPath, ".conductor.yaml"), projectConfigTemplate, "Created .conductor.yaml"},
		{filepath.Join(agentsDir, "qa.md"), exampleAgentTemplate, "Created example qa agent template"},
	}
	for _, f := range files {
		if _, err := os.Stat(f.path); err == nil && !initForce {
			printStatus("⚠", fmt.Sprintf("%s exists, skipping (use --force to overwrite)", filepath.Base(f.path)), color.FgYellow)
			continue
		}
		if err := os.WriteFile(f.path, []byte(f.content), 0644); err != nil {
			return fmt.Errorf("writing %s: %w", f.path, err)
		}
		printStatus("✓", f.label, color.FgGreen)
	}

	if err := channel.CheckCLI(); err != nil {
		printStatus("⚠", "claude CLI not found; external mode will use it when installed", color.FgYellow)
	} else {
		printStatus("✓", "claude CLI found", color.FgGreen)
	}

	fmt.Println()
	fmt.Println("Next: add instruction templates under .conductor/agents, then run")
	fmt.Println("  conductor delegate qa \"run the tests\"")
	return nil
}

func printStatus(marker, message string, attr color.Attribute) {
	color.New(attr).Printf("%s ", marker)
	fmt.Println(message)
}
