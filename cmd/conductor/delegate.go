package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/conductor/pkg/models"
)

var (
	delegateRequirements []string
	delegateDeliverables []string
	delegatePriority     string
	delegateTimeout      time.Duration
	delegateMode         string
	delegateShowPrompt   bool
)

var delegateCmd = &cobra.Command{
	Use:   "delegate <category> <description>",
	Short: "Delegate a task to an agent category",
	Long: `Delegate a task to the named agent category and print the result.

The execution mode is chosen automatically: local when an instruction
template and handler are available, external otherwise. Use --mode to
force a specific mode.

The process exit code is the delegation's return code:
  0 success, 1 general failure, 2 timeout, 3 context filtering error,
  4 agent not found, 5 message bus error.

Examples:
  conductor delegate qa "run the integration tests"
  conductor delegate engineer "fix the flaky build" --priority high
  conductor delegate documentation "update the changelog" --mode external`,
	Args: cobra.ExactArgs(2),
	RunE: runDelegate,
}

func init() {
	delegateCmd.Flags().StringSliceVar(&delegateRequirements, "requirements", nil, "Requirement the agent must satisfy (repeatable)")
	delegateCmd.Flags().StringSliceVar(&delegateDeliverables, "deliverables", nil, "Deliverable the agent must produce (repeatable)")
	delegateCmd.Flags().StringVar(&delegatePriority, "priority", "", "Task priority: low, medium, or high")
	delegateCmd.Flags().DurationVar(&delegateTimeout, "timeout", 0, "Per-delegation timeout (e.g. 90s, 5m)")
	delegateCmd.Flags().StringVar(&delegateMode, "mode", "", "Force execution mode: local or external")
	delegateCmd.Flags().BoolVar(&delegateShowPrompt, "show-prompt", false, "Print the generated directive")
}

func runDelegate(cmd *cobra.Command, args []string) error {
	category, description := args[0], args[1]

	workDir, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolving working directory: %w", err)
	}

	c, cleanup, err := newCoordinator(workDir)
	if err != nil {
		return err
	}
	defer c.Shutdown()
	defer cleanup()

	if delegateMode != "" {
		mode := models.Mode(delegateMode)
		if !mode.Valid() {
			return fmt.Errorf("invalid mode %q: want local or external", delegateMode)
		}
		c.SetForceMode(&mode)
	}

	opts := models.DelegateOptions{
		Requirements: delegateRequirements,
		Deliverables: delegateDeliverables,
		Priority:     delegatePriority,
		Timeout:      delegateTimeout,
	}

	result, code := c.Delegate(cmd.Context(), category, description, opts)
	printResult(result)

	if code != models.ReturnSuccess {
		cleanup()
		c.Shutdown()
		os.Exit(int(code))
	}
	return nil
}

func printResult(result *models.DelegationResult) {
	if result.Success {
		color.New(color.FgGreen).Printf("✓ %s completed (%s mode)\n", result.Category, result.Execution.Mode)
	} else {
		color.New(color.FgRed).Printf("✗ %s failed: %s\n", result.Category, result.Error)
	}
	if result.FallbackReason != "" {
		color.New(color.FgYellow).Printf("  fallback: %s\n", result.FallbackReason)
	}

	fmt.Printf("  task %s, return code %d (%s)\n", result.TaskID, result.ReturnCode, result.ReturnCode)
	fmt.Printf("  decision %s, execution %s\n",
		result.Execution.DecisionTime.Round(time.Millisecond),
		result.Execution.ExecutionTime.Round(time.Millisecond))
	if result.Execution.ContextSizeOriginal > 0 {
		fmt.Printf("  context %d -> %d (%.1f%% reduction)\n",
			result.Execution.ContextSizeOriginal,
			result.Execution.ContextSizeFiltered,
			result.Execution.ReductionPercent())
	}

	if delegateShowPrompt && result.Prompt != "" {
		fmt.Println()
		fmt.Println(result.Prompt)
	}
	if out, ok := result.Results["output"].(string); ok && strings.TrimSpace(out) != "" {
		fmt.Println()
		fmt.Println(strings.TrimSpace(out))
	}
}
