package channel

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// defaultMaxTokens bounds a single API completion.
const defaultMaxTokens = 4096

// APIChannel executes delegations through the Anthropic Messages API
// instead of a subprocess. It performs a single-turn completion: the
// category's role becomes the system prompt and the generated directive
// the user message.
type APIChannel struct {
	client anthropic.Client
	model  anthropic.Model
}

// APIConfig configures an APIChannel.
type APIConfig struct {
	// APIKey is the Anthropic API key. Empty falls back to the
	// ANTHROPIC_API_KEY environment variable.
	APIKey string
	// Model is the model to use. Empty selects the SDK default Sonnet.
	Model string
}

// NewAPIChannel creates an API-backed channel.
func NewAPIChannel(cfg APIConfig) (*APIChannel, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("ANTHROPIC_API_KEY environment variable is not set")
	}

	model := anthropic.Model(cfg.Model)
	if model == "" {
		model = anthropic.ModelClaudeSonnet4_20250514
	}

	return &APIChannel{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}, nil
}

// systemPrompt describes the agent role for a category.
func systemPrompt(category string) string {
	return fmt.Sprintf("You are the %s Agent. You receive one delegated task with requirements, deliverables, and priority, and you carry it out, reporting your outcome as text.", titleCase(category))
}

// Run implements Channel with a single Messages API call.
func (a *APIChannel) Run(ctx context.Context, category, description string, opts models.DelegateOptions) (*models.DelegationResult, error) {
	start := time.Now()
	prompt := BuildDirective(category, description, "", opts)

	resp, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     a.model,
		MaxTokens: defaultMaxTokens,
		System: []anthropic.TextBlockParam{
			{Text: systemPrompt(category)},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
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

	if err != nil {
		result.Success = false
		if ctx.Err() != nil {
			result.ReturnCode = models.ReturnTimeout
			result.Error = fmt.Sprintf("external execution timed out after %s", elapsed.Round(time.Millisecond))
		} else {
			result.ReturnCode = models.ReturnGeneralFailure
			result.Error = fmt.Sprintf("api call failed: %v", err)
		}
		return result, nil
	}

	var output string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			output += variant.Text
		}
	}

	result.Success = true
	result.ReturnCode = models.ReturnSuccess
	result.Results = map[string]any{
		"output":        output,
		"input_tokens":  resp.Usage.InputTokens,
		"output_tokens": resp.Usage.OutputTokens,
	}
	return result, nil
}
