// Package contextfilter bounds what each agent category receives: it
// reduces a full context bundle to the files, sections, and shared state
// relevant to one category, and deduplicates overlapping instruction
// documents. It also owns the cross-agent shared context map and the
// per-agent interaction history.
package contextfilter

import (
	"encoding/json"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	// maxHistoryPerAgent caps stored interactions per agent; the oldest
	// are evicted first.
	maxHistoryPerAgent = 10
	// recentHistoryCount is how many interactions GetAgentHistory returns.
	recentHistoryCount = 3
	// truncationMarker is appended to file contents cut at MaxFileSize.
	truncationMarker = "\n... [truncated]"
)

// SharedEntry is one value in the cross-agent shared context map.
type SharedEntry struct {
	// Value is the shared datum.
	Value any `json:"value"`
	// SourceAgentID identifies the agent that wrote the entry.
	SourceAgentID string `json:"source_agent_id"`
	// Timestamp is when the entry was last written.
	Timestamp time.Time `json:"timestamp"`
}

// Interaction records one filtered delegation for an agent.
type Interaction struct {
	// Timestamp is when the interaction was recorded.
	Timestamp time.Time `json:"timestamp"`
	// AgentID identifies the concrete agent instance.
	AgentID string `json:"agent_id"`
	// Category is the agent's category.
	Category string `json:"category"`
	// OriginalSize is the estimated context size before filtering.
	OriginalSize int `json:"original_size"`
	// FilteredSize is the estimated context size after filtering.
	FilteredSize int `json:"filtered_size"`
	// Request is the task description sent, if recorded.
	Request string `json:"request,omitempty"`
	// Response is the agent's answer, if recorded.
	Response string `json:"response,omitempty"`
	// AdditionalContextRequested is true when the agent asked for more
	// context than the filter provided.
	AdditionalContextRequested bool `json:"additional_context_requested"`
}

// Statistics summarizes engine usage.
type Statistics struct {
	// RegisteredPolicies is the number of category policies installed.
	RegisteredPolicies int `json:"registered_policies"`
	// TotalInteractions is the number of recorded interactions.
	TotalInteractions int `json:"total_interactions"`
	// AgentsTracked is the number of distinct agents with history.
	AgentsTracked int `json:"agents_tracked"`
	// AverageReductionByCategory maps category to mean size reduction
	// percent across its interactions.
	AverageReductionByCategory map[string]float64 `json:"average_reduction_by_category"`
}

// RelevanceScorer computes a task-relevance score for a description given
// a policy's priority keywords. The default counts keyword occurrences.
type RelevanceScorer func(description string, keywords []string) int

// Engine filters context per agent category. Each coordinator owns its own
// Engine; there is no process-wide instance.
type Engine struct {
	mu sync.RWMutex

	policies map[string]*FilterPolicy
	shared   map[string]SharedEntry
	history  map[string][]Interaction
	related  map[string][]string

	// instructionDocName is the base filename identifying instruction
	// documents inside the files map.
	instructionDocName string

	scorer RelevanceScorer
}

// NewEngine creates an engine with the default category policies, the
// default relatedness table, and the default keyword scorer.
func NewEngine(instructionDocName string) *Engine {
	e := &Engine{
		policies:           make(map[string]*FilterPolicy),
		shared:             make(map[string]SharedEntry),
		history:            make(map[string][]Interaction),
		related:            DefaultRelatedCategories(),
		instructionDocName: instructionDocName,
		scorer:             CountKeywords,
	}
	for _, p := range DefaultPolicies() {
		// Built-in patterns are known-good; Compile cannot fail on them.
		p.Compile()
		e.policies[p.Category] = p
	}
	return e
}

// CountKeywords is the default relevance scorer: the number of keyword
// occurrences in the description, case-insensitive.
func CountKeywords(description string, keywords []string) int {
	lower := strings.ToLower(description)
	score := 0
	for _, kw := range keywords {
		score += strings.Count(lower, strings.ToLower(kw))
	}
	return score
}

// SetRelevanceScorer replaces the keyword scoring function.
func (e *Engine) SetRelevanceScorer(s RelevanceScorer) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s != nil {
		e.scorer = s
	}
}

// SetRelatedCategories replaces the category-relatedness table.
func (e *Engine) SetRelatedCategories(table map[string][]string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.related = table
}

// RegisterPolicy adds or overwrites the policy for a category at runtime.
func (e *Engine) RegisterPolicy(category string, p *FilterPolicy) error {
	if p == nil {
		return fmt.Errorf("contextfilter: nil policy for %q", category)
	}
	if err := p.Compile(); err != nil {
		return err
	}
	p.Category = category
	e.mu.Lock()
	defer e.mu.Unlock()
	e.policies[category] = p
	return nil
}

// Policy returns the registered policy for a category, or nil.
func (e *Engine) Policy(category string) *FilterPolicy {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.policies[category]
}

// FilterContextForAgent reduces the full context for one category. A
// category with no registered policy receives the context unchanged
// (fail-open). Filtering is deterministic: the same input for the same
// category always yields the same output.
func (e *Engine) FilterContextForAgent(category string, full map[string]any) map[string]any {
	e.mu.RLock()
	policy, ok := e.policies[category]
	scorer := e.scorer
	e.mu.RUnlock()
	if !ok {
		return full
	}

	filtered := make(map[string]any)

	// Baseline metadata travels with every filtered bundle.
	for _, key := range []string{"working_directory", "timestamp"} {
		if v, ok := full[key]; ok {
			filtered[key] = v
		}
	}

	files := stringMap(full["files"])
	instructionDocs := e.extractInstructionDocs(full, files)

	// File selection and truncation.
	selected := make(map[string]string)
	for p, content := range files {
		if _, isDoc := instructionDocs[p]; isDoc {
			continue
		}
		if !policy.matchesFile(p) {
			continue
		}
		if max := policy.maxSize(); len(content) > max {
			content = content[:max] + truncationMarker
		}
		selected[p] = content
	}
	if len(selected) > 0 || len(files) > 0 {
		filtered["files"] = selected
	}

	// Allow-listed named sections.
	for _, name := range policy.ContextSections {
		if v, ok := full[name]; ok {
			filtered[name] = v
		}
	}

	// Task relevance: forward the description only when it scores.
	if task, ok := full["current_task"].(string); ok {
		if score := scorer(task, policy.PriorityKeywords); score > 0 {
			filtered["current_task"] = task
			filtered["task_relevance_score"] = score
		}
	}

	// Shared context visible to this category.
	if shared := e.visibleSharedContext(category); len(shared) > 0 {
		filtered["shared_context"] = shared
	}

	// Instruction documents: consumers get the deduplicated set, everyone
	// else gets none.
	if policy.InstructionDocuments && len(instructionDocs) > 0 {
		filtered["instruction_documents"] = DeduplicateDocuments(instructionDocs)
	}

	return filtered
}

// extractInstructionDocs pulls instruction documents out of the context:
// files whose base name matches the well-known document name, plus the
// explicit instruction_documents map when present.
func (e *Engine) extractInstructionDocs(full map[string]any, files map[string]string) map[string]string {
	docs := make(map[string]string)
	if e.instructionDocName != "" {
		for p, content := range files {
			if path.Base(p) == e.instructionDocName {
				docs[p] = content
			}
		}
	}
	for name, content := range stringMap(full["instruction_documents"]) {
		docs[name] = content
	}
	return docs
}

// visibleSharedContext returns the shared entries written by this category
// or one of its related categories. Matching uses the recorded source agent,
// not the composite key, so agent names containing underscores resolve
// correctly.
func (e *Engine) visibleSharedContext(category string) map[string]SharedEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()

	allowed := map[string]bool{category: true}
	for _, r := range e.related[category] {
		allowed[r] = true
	}

	out := make(map[string]SharedEntry)
	for key, entry := range e.shared {
		if allowed[entry.SourceAgentID] {
			out[key] = entry
		}
	}
	return out
}

// UpdateSharedContext writes updates into the shared map under composite
// keys agentID_key. Same-key writes are last-write-wins.
func (e *Engine) UpdateSharedContext(agentID string, updates map[string]any) {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	for key, value := range updates {
		e.shared[agentID+"_"+key] = SharedEntry{
			Value:         value,
			SourceAgentID: agentID,
			Timestamp:     now,
		}
	}
}

// SharedContextSize returns the number of shared entries.
func (e *Engine) SharedContextSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.shared)
}

// ClearOldSharedContext removes entries older than maxAgeHours and returns
// how many were removed.
func (e *Engine) ClearOldSharedContext(maxAgeHours int) int {
	cutoff := time.Now().Add(-time.Duration(maxAgeHours) * time.Hour)
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for key, entry := range e.shared {
		if entry.Timestamp.Before(cutoff) {
			delete(e.shared, key)
			removed++
		}
	}
	return removed
}

// RecordInteraction appends an interaction for an agent, evicting the
// oldest beyond the per-agent cap.
func (e *Engine) RecordInteraction(agentID, category string, originalSize, filteredSize int, request, response string, additionalContextRequested bool) {
	rec := Interaction{
		Timestamp:                  time.Now(),
		AgentID:                    agentID,
		Category:                   category,
		OriginalSize:               originalSize,
		FilteredSize:               filteredSize,
		Request:                    request,
		Response:                   response,
		AdditionalContextRequested: additionalContextRequested,
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	h := append(e.history[agentID], rec)
	if len(h) > maxHistoryPerAgent {
		h = h[len(h)-maxHistoryPerAgent:]
	}
	e.history[agentID] = h
}

// GetAgentHistory returns the most recent interactions for an agent, at
// most recentHistoryCount, in chronological order.
func (e *Engine) GetAgentHistory(agentID string) []Interaction {
	e.mu.RLock()
	defer e.mu.RUnlock()
	h := e.history[agentID]
	if len(h) > recentHistoryCount {
		h = h[len(h)-recentHistoryCount:]
	}
	out := make([]Interaction, len(h))
	copy(out, h)
	return out
}

// GetContextSizeEstimate estimates the size of a context value. The
// estimate is stable for identical input and monotonic in input size.
func (e *Engine) GetContextSizeEstimate(value any) int {
	data, err := json.Marshal(value)
	if err != nil {
		data = []byte(fmt.Sprintf("%v", value))
	}
	// Rough chars-per-token heuristic.
	n := len(data) / 4
	if n == 0 && len(data) > 0 {
		n = 1
	}
	return n
}

// GetFilterStatistics summarizes current engine usage.
func (e *Engine) GetFilterStatistics() Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()

	stats := Statistics{
		RegisteredPolicies:         len(e.policies),
		AgentsTracked:              len(e.history),
		AverageReductionByCategory: make(map[string]float64),
	}

	sums := make(map[string]float64)
	counts := make(map[string]int)
	for _, recs := range e.history {
		stats.TotalInteractions += len(recs)
		for _, rec := range recs {
			if rec.OriginalSize <= 0 {
				continue
			}
			reduction := float64(rec.OriginalSize-rec.FilteredSize) / float64(rec.OriginalSize) * 100
			sums[rec.Category] += reduction
			counts[rec.Category]++
		}
	}
	for cat, sum := range sums {
		stats.AverageReductionByCategory[cat] = sum / float64(counts[cat])
	}
	return stats
}

// Categories returns the categories with registered policies, sorted.
func (e *Engine) Categories() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]string, 0, len(e.policies))
	for c := range e.policies {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// stringMap coerces a context value into map[string]string, tolerating
// both typed and any-valued maps.
func stringMap(v any) map[string]string {
	switch m := v.(type) {
	case map[string]string:
		return m
	case map[string]any:
		out := make(map[string]string, len(m))
		for k, val := range m {
			if s, ok := val.(string); ok {
				out[k] = s
			}
		}
		return out
	default:
		return nil
	}
}
