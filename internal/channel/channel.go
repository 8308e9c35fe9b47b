// Package channel provides External Execution Channel implementations:
// ways to run a delegated task outside the in-process message bus. Every
// channel normalizes its output to the same result shape local
// orchestration produces.
package channel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// Channel executes a delegation out of process. Implementations must not
// panic; execution failures are reported through the result or the error.
type Channel interface {
	// Run executes the task for the category and returns a normalized
	// result. A non-nil error means the channel itself failed to run the
	// task (the caller converts it to a failed result).
	Run(ctx context.Context, category, description string, opts models.DelegateOptions) (*models.DelegationResult, error)
}

// Func adapts a function to the Channel interface. Used in tests and for
// custom channels.
type Func func(ctx context.Context, category, description string, opts models.DelegateOptions) (*models.DelegationResult, error)

// Run implements Channel.
func (f Func) Run(ctx context.Context, category, description string, opts models.DelegateOptions) (*models.DelegationResult, error) {
	return f(ctx, category, description, opts)
}

// BuildDirective renders the task directive handed to an externally
// executed agent. The shape matches the directive generated for local
// agents so both modes present identical contracts.
func BuildDirective(category, description, template string, opts models.DelegateOptions) string {
	var b strings.Builder

	fmt.Fprintf(&b, "**%s Agent**: %s\n\n", titleCase(category), description)
	fmt.Fprintf(&b, "TEMPORAL CONTEXT: Today is %s. Apply date awareness to task execution.\n\n", time.Now().Format("2006-01-02"))
	fmt.Fprintf(&b, "**Task**: %s\n\n", description)

	b.WriteString("**Requirements**:\n")
	writeItems(&b, opts.Requirements)
	b.WriteString("\n**Deliverables**:\n")
	writeItems(&b, opts.Deliverables)

	priority := opts.Priority
	if priority == "" {
		priority = "medium"
	}
	fmt.Fprintf(&b, "\nPriority: %s\n", priority)

	if template != "" {
		fmt.Fprintf(&b, "\n**Base Agent Instructions**:\n%s\n", template)
	}

	notes := opts.IntegrationNotes
	if notes == "" {
		notes = "None"
	}
	fmt.Fprintf(&b, "\n**Integration Notes**: %s\n", notes)

	return b.String()
}

func writeItems(b *strings.Builder, items []string) {
	if len(items) == 0 {
		b.WriteString("None specified\n")
		return
	}
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
}

// titleCase uppercases the first letter of each underscore-separated word.
func titleCase(s string) string {
	words := strings.Split(s, "_")
	for i, w := range words {
		if w == "" {
			continue
		}
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
