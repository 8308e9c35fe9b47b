package coordinator

import (
	"sort"
	"time"

	"github.com/ShayCichocki/conductor/pkg/models"
)

// recentMetricsCount is how many raw records a summary carries.
const recentMetricsCount = 10

// MetricsSummary aggregates every delegation this coordinator has run.
type MetricsSummary struct {
	// TotalCalls is the number of Delegate calls.
	TotalCalls int `json:"total_calls"`
	// SuccessfulCalls is the number of calls with a successful result.
	SuccessfulCalls int `json:"successful_calls"`
	// SuccessRate is SuccessfulCalls/TotalCalls as a percentage.
	SuccessRate float64 `json:"success_rate"`
	// CallsByMode counts calls per execution mode.
	CallsByMode map[string]int `json:"calls_by_mode"`
	// FailuresByCode counts failed calls per return-code name.
	FailuresByCode map[string]int `json:"failures_by_code"`
	// CallsByCategory counts calls per agent category.
	CallsByCategory map[string]int `json:"calls_by_category"`
	// AverageDecisionTime is the mean mode-decision latency.
	AverageDecisionTime time.Duration `json:"average_decision_time"`
	// AverageExecutionTime is the mean execution latency.
	AverageExecutionTime time.Duration `json:"average_execution_time"`
	// AverageFilterTime is the mean context-filtering latency.
	AverageFilterTime time.Duration `json:"average_filter_time"`
	// AverageContextReduction is the mean context size reduction percent
	// across calls that filtered context.
	AverageContextReduction float64 `json:"average_context_reduction"`
	// FallbackReasons lists the distinct fallback reasons seen, sorted.
	FallbackReasons []string `json:"fallback_reasons,omitempty"`
	// Recent holds the last raw metric records in chronological order.
	Recent []models.OrchestrationMetric `json:"recent"`
}

// recordMetric appends exactly one metric for a finished delegation.
func (c *Coordinator) recordMetric(result *models.DelegationResult) {
	m := models.OrchestrationMetric{
		TaskID:              result.TaskID,
		Category:            result.Category,
		Mode:                result.Execution.Mode,
		DecisionTime:        result.Execution.DecisionTime,
		ExecutionTime:       result.Execution.ExecutionTime,
		FilterTime:          result.Execution.FilterTime,
		RoutingTime:         result.Execution.RoutingTime,
		FallbackReason:      result.FallbackReason,
		ContextSizeOriginal: result.Execution.ContextSizeOriginal,
		ContextSizeFiltered: result.Execution.ContextSizeFiltered,
		ReturnCode:          result.ReturnCode,
		RecordedAt:          time.Now(),
	}

	c.mu.Lock()
	c.metrics = append(c.metrics, m)
	if len(c.metrics) > maxMetricRecords {
		c.metrics = c.metrics[len(c.metrics)-maxMetricRecords:]
	}
	c.mu.Unlock()

	if c.store != nil {
		if err := c.store.AppendMetric(&m); err != nil {
			c.logger.Printf("persist metric %s: %v", m.TaskID, err)
		}
	}
}

// GetOrchestrationMetrics aggregates all recorded delegations.
func (c *Coordinator) GetOrchestrationMetrics() MetricsSummary {
	c.mu.Lock()
	records := make([]models.OrchestrationMetric, len(c.metrics))
	copy(records, c.metrics)
	c.mu.Unlock()

	s := MetricsSummary{
		CallsByMode:     make(map[string]int),
		FailuresByCode:  make(map[string]int),
		CallsByCategory: make(map[string]int),
	}
	s.TotalCalls = len(records)
	if s.TotalCalls == 0 {
		s.Recent = []models.OrchestrationMetric{}
		return s
	}

	var (
		decisionSum  time.Duration
		executionSum time.Duration
		filterSum    time.Duration
		reductionSum float64
		reductionN   int
		fallbackSeen = make(map[string]bool)
	)
	for i := range records {
		m := &records[i]
		s.CallsByMode[string(m.Mode)]++
		s.CallsByCategory[m.Category]++
		if m.ReturnCode == models.ReturnSuccess {
			s.SuccessfulCalls++
		} else {
			s.FailuresByCode[m.ReturnCode.String()]++
		}
		decisionSum += m.DecisionTime
		executionSum += m.ExecutionTime
		filterSum += m.FilterTime
		if m.ContextSizeOriginal > 0 {
			reductionSum += m.ReductionPercent()
			reductionN++
		}
		if m.FallbackReason != "" {
			fallbackSeen[m.FallbackReason] = true
		}
	}

	n := time.Duration(s.TotalCalls)
	s.SuccessRate = float64(s.SuccessfulCalls) / float64(s.TotalCalls) * 100
	s.AverageDecisionTime = decisionSum / n
	s.AverageExecutionTime = executionSum / n
	s.AverageFilterTime = filterSum / n
	if reductionN > 0 {
		s.AverageContextReduction = reductionSum / float64(reductionN)
	}
	for reason := range fallbackSeen {
		s.FallbackReasons = append(s.FallbackReasons, reason)
	}
	sort.Strings(s.FallbackReasons)

	start := len(records) - recentMetricsCount
	if start < 0 {
		start = 0
	}
	s.Recent = records[start:]
	return s
}
