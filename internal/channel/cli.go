package channel

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// cliBinary is the agent CLI invoked for external delegation.
const cliBinary = "claude"

// CLIChannel executes delegations by spawning the agent CLI as a
// subprocess in a working directory.
type CLIChannel struct {
	// WorkDir is the subprocess working directory. Empty means the
	// current directory.
	WorkDir string
	// Model optionally selects the model passed to the CLI.
	Model string
	// AllowedTools restricts the tools the CLI may use without prompting.
	AllowedTools []string
}

// NewCLIChannel creates a subprocess-backed channel rooted at workDir.
func NewCLIChannel(workDir string) *CLIChannel {
	return &CLIChannel{
		WorkDir: workDir,
		AllowedTools: []string{
			"Bash", "Read", "Write", "Edit", "Glob", "Grep",
		},
	}
}

// CheckCLI verifies the agent CLI is available in PATH.
func CheckCLI() error {
	if _, err := exec.LookPath(cliBinary); err != nil {
		return fmt.Errorf("%s CLI not found in PATH", cliBinary)
	}
	return nil
}

// buildArgs assembles the CLI invocation for a prompt.
func (c *CLIChannel) buildArgs(prompt string) []string {
	args := []string{"--print", "--output-format", "text"}
	if c.Model != "" {
		args = append(args, "--model", c.Model)
	}
	for _, tool := range c.AllowedTools {
		args = append(args, "--allowedTools", tool)
	}
	args = append(args, prompt)
	return args
}

// Run implements Channel by executing the CLI with the generated directive
// as its prompt. The context bounds the subprocess lifetime; on expiry the
// process is killed and a timed-out result is returned.
func (c *CLIChannel) Run(ctx context.Context, category, description string, opts models.DelegateOptions) (*models.DelegationResult, error) {
	start := time.Now()
	prompt := BuildDirective(category, description, "", opts)

	cmd := exec.CommandContext(ctx, cliBinary, c.buildArgs(prompt)...)
	cmd.Dir = c.WorkDir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start)

	result := &models.DelegationResult{
		Category: category,
		Prompt:   prompt,
		Execution: models.ExecutionInfo{
			Mode:          models.ModeExternal,
			ExecutionTime: elapsed,
		},
		CreatedAt: time.Now(),
	}

	switch {
	case ctx.Err() != nil:
		result.Success = false
		result.ReturnCode = models.ReturnTimeout
		result.Error = fmt.Sprintf("external execution timed out after %s", elapsed.Round(time.Millisecond))
	case err != nil:
		result.Success = false
		result.ReturnCode = models.ReturnGeneralFailure
		result.Error = fmt.Sprintf("%s exited: %v: %s", cliBinary, err, truncate(stderr.String(), 500))
	default:
		result.Success = true
		result.ReturnCode = models.ReturnSuccess
		result.Results = map[string]any{"output": stdout.String()}
	}
	return result, nil
}

// truncate caps s at n bytes for error reporting.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
