package models

import "time"

// Mode selects how a delegation is executed.
type Mode string

const (
	// ModeLocal executes the agent in-process via the message bus.
	ModeLocal Mode = "local"
	// ModeExternal hands the task to the out-of-process execution channel.
	ModeExternal Mode = "external"
)

// Valid returns true if the mode is a known value.
func (m Mode) Valid() bool {
	return m == ModeLocal || m == ModeExternal
}

// ReturnCode is the stable small-integer outcome of a delegation.
type ReturnCode int

const (
	// ReturnSuccess indicates the delegation completed successfully.
	ReturnSuccess ReturnCode = 0
	// ReturnGeneralFailure indicates an unclassified failure.
	ReturnGeneralFailure ReturnCode = 1
	// ReturnTimeout indicates the agent did not respond in time.
	ReturnTimeout ReturnCode = 2
	// ReturnContextFilteringError indicates a failure in the context
	// filtering layer.
	ReturnContextFilteringError ReturnCode = 3
	// ReturnAgentNotFound indicates no instruction template exists for the
	// requested category.
	ReturnAgentNotFound ReturnCode = 4
	// ReturnMessageBusError indicates a failure in the message bus layer.
	ReturnMessageBusError ReturnCode = 5
)

// String returns the stable name for the return code.
func (c ReturnCode) String() string {
	switch c {
	case ReturnSuccess:
		return "SUCCESS"
	case ReturnGeneralFailure:
		return "GENERAL_FAILURE"
	case ReturnTimeout:
		return "TIMEOUT"
	case ReturnContextFilteringError:
		return "CONTEXT_FILTERING_ERROR"
	case ReturnAgentNotFound:
		return "AGENT_NOT_FOUND"
	case ReturnMessageBusError:
		return "MESSAGE_BUS_ERROR"
	default:
		return "UNKNOWN"
	}
}

// DelegateOptions carries the optional parameters of a delegation.
type DelegateOptions struct {
	// Requirements lists what the agent must satisfy.
	Requirements []string `json:"requirements,omitempty"`
	// Deliverables lists what the agent must produce.
	Deliverables []string `json:"deliverables,omitempty"`
	// Priority is low, medium, or high. Defaults to medium.
	Priority string `json:"priority,omitempty"`
	// IntegrationNotes carries free-form notes appended to the directive.
	IntegrationNotes string `json:"integration_notes,omitempty"`
	// Timeout overrides the configured per-delegation timeout.
	Timeout time.Duration `json:"timeout,omitempty"`
}

// ExecutionInfo records how a delegation was carried out.
type ExecutionInfo struct {
	// Mode is the execution mode that handled the delegation.
	Mode Mode `json:"mode"`
	// DecisionTime is how long mode selection took.
	DecisionTime time.Duration `json:"decision_time"`
	// ExecutionTime is how long the execution itself took.
	ExecutionTime time.Duration `json:"execution_time"`
	// FilterTime is how long context filtering took (local mode only).
	FilterTime time.Duration `json:"filter_time,omitempty"`
	// RoutingTime is how long the bus round trip took (local mode only).
	RoutingTime time.Duration `json:"routing_time,omitempty"`
	// ContextSizeOriginal is the estimated context size before filtering.
	ContextSizeOriginal int `json:"context_size_original,omitempty"`
	// ContextSizeFiltered is the estimated context size after filtering.
	ContextSizeFiltered int `json:"context_size_filtered,omitempty"`
}

// ReductionPercent returns the context size reduction achieved by filtering.
func (e *ExecutionInfo) ReductionPercent() float64 {
	if e.ContextSizeOriginal <= 0 {
		return 0
	}
	return float64(e.ContextSizeOriginal-e.ContextSizeFiltered) / float64(e.ContextSizeOriginal) * 100
}

// DelegationResult is the stable result contract returned by every
// delegation, regardless of execution mode.
type DelegationResult struct {
	// Success indicates whether the delegation completed.
	Success bool `json:"success"`
	// TaskID is the short identifier assigned to this delegation.
	TaskID string `json:"task_id"`
	// Category is the agent category the task was delegated to.
	Category string `json:"category"`
	// Prompt is the generated directive handed to the agent.
	Prompt string `json:"prompt,omitempty"`
	// Results carries the agent's output payload when present.
	Results map[string]any `json:"results,omitempty"`
	// Error describes the failure when Success is false. When an emergency
	// fallback also failed it contains both error messages.
	Error string `json:"error,omitempty"`
	// FallbackReason explains why local execution was not used, if it wasn't.
	FallbackReason string `json:"fallback_reason,omitempty"`
	// Execution records mode and timing metadata.
	Execution ExecutionInfo `json:"execution"`
	// ReturnCode is the stable outcome code.
	ReturnCode ReturnCode `json:"return_code"`
	// CreatedAt is when the delegation finished.
	CreatedAt time.Time `json:"created_at"`
}

// OrchestrationMetric is the per-delegation record appended by the
// coordinator. Exactly one metric is recorded per Delegate call.
type OrchestrationMetric struct {
	// TaskID is the delegation's short identifier.
	TaskID string `json:"task_id"`
	// Category is the agent category.
	Category string `json:"category"`
	// Mode is the execution mode used.
	Mode Mode `json:"mode"`
	// DecisionTime is how long mode selection took.
	DecisionTime time.Duration `json:"decision_time"`
	// ExecutionTime is how long the execution took.
	ExecutionTime time.Duration `json:"execution_time"`
	// FilterTime is how long context filtering took.
	FilterTime time.Duration `json:"filter_time"`
	// RoutingTime is how long bus routing took.
	RoutingTime time.Duration `json:"routing_time"`
	// FallbackReason explains a local-to-external fallback, if any.
	FallbackReason string `json:"fallback_reason,omitempty"`
	// ContextSizeOriginal is the estimated context size before filtering.
	ContextSizeOriginal int `json:"context_size_original"`
	// ContextSizeFiltered is the estimated context size after filtering.
	ContextSizeFiltered int `json:"context_size_filtered"`
	// ReturnCode is the delegation outcome.
	ReturnCode ReturnCode `json:"return_code"`
	// RecordedAt is when the metric was appended.
	RecordedAt time.Time `json:"recorded_at"`
}

// ReductionPercent returns the context size reduction for this call.
func (m *OrchestrationMetric) ReductionPercent() float64 {
	if m.ContextSizeOriginal <= 0 {
		return 0
	}
	return float64(m.ContextSizeOriginal-m.ContextSizeFiltered) / float64(m.ContextSizeOriginal) * 100
}
