package contextfilter

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
)

func sampleContext() map[string]any {
	return map[string]any{
		"files": map[string]string{
			"README.md":              "# Project Documentation\nThis is the main readme.",
			"CHANGELOG.md":           "# Changelog\n## v1.0.0\n- Initial release",
			"src/main.go":            "package main\n\nfunc main() {}",
			"tests/parser_test.go":   "package parser\n\nfunc TestParse(t *testing.T) {}",
			"docs/api.md":            "# API Documentation",
			".env":                   "SECRET_KEY=abc123",
			".env.example":           "SECRET_KEY=your_key_here",
			"migrations/001_init.sql": "CREATE TABLE users;",
			"deploy/docker-compose.yml": "version: '3'",
		},
		"current_task":      "Update documentation and add tests",
		"project_overview":  "A demonstration project",
		"test_results":      map[string]any{"passed": 10, "failed": 0},
		"git_status":        "On branch main, nothing to commit",
		"technical_specs":   "Go 1.24, sqlite",
		"deployment_config": map[string]any{"environment": "production"},
		"security_policies": "All secrets in env vars",
		"database_schema":   map[string]any{"tables": []string{"users"}},
	}
}

func TestNewEngineDefaults(t *testing.T) {
	e := NewEngine("INSTRUCTIONS.md")
	stats := e.GetFilterStatistics()
	if stats.RegisteredPolicies != 9 {
		t.Errorf("expected 9 default policies, got %d", stats.RegisteredPolicies)
	}
	for _, cat := range []string{"documentation", "qa", "engineer", "research", "version_control", "ticketing", "ops", "security", "data_engineer"} {
		if e.Policy(cat) == nil {
			t.Errorf("missing default policy for %s", cat)
		}
	}
}

func TestFilterDocumentationAgent(t *testing.T) {
	e := NewEngine("INSTRUCTIONS.md")
	filtered := e.FilterContextForAgent("documentation", sampleContext())

	files, ok := filtered["files"].(map[string]string)
	if !ok {
		t.Fatalf("expected files map, got %#v", filtered["files"])
	}
	for _, want := range []string{"README.md", "CHANGELOG.md", "docs/api.md"} {
		if _, ok := files[want]; !ok {
			t.Errorf("expected %s in filtered files", want)
		}
	}
	for _, reject := range []string{"src/main.go", "tests/parser_test.go"} {
		if _, ok := files[reject]; ok {
			t.Errorf("did not expect %s in filtered files", reject)
		}
	}
	if _, ok := filtered["project_overview"]; !ok {
		t.Error("expected project_overview section")
	}
	if _, ok := filtered["current_task"]; !ok {
		t.Error("expected current_task: description mentions documentation")
	}
	if score, _ := filtered["task_relevance_score"].(int); score <= 0 {
		t.Errorf("expected positive relevance score, got %v", filtered["task_relevance_score"])
	}
}

func TestFilterQAAgent(t *testing.T) {
	e := NewEngine("INSTRUCTIONS.md")
	filtered := e.FilterContextForAgent("qa", sampleContext())

	files := filtered["files"].(map[string]string)
	if _, ok := files["tests/parser_test.go"]; !ok {
		t.Error("expected test file for qa agent")
	}
	if _, ok := files["README.md"]; ok {
		t.Error("did not expect README.md for qa agent")
	}
	if _, ok := filtered["test_results"]; !ok {
		t.Error("expected test_results section")
	}
}

func TestFilterEngineerAgent(t *testing.T) {
	e := NewEngine("INSTRUCTIONS.md")
	filtered := e.FilterContextForAgent("engineer", sampleContext())

	files := filtered["files"].(map[string]string)
	if _, ok := files["src/main.go"]; !ok {
		t.Error("expected source file for engineer agent")
	}
	if _, ok := files["tests/parser_test.go"]; ok {
		t.Error("did not expect test file for engineer agent")
	}
	if _, ok := filtered["technical_specs"]; !ok {
		t.Error("expected technical_specs section")
	}
}

func TestFilterSecurityAgent(t *testing.T) {
	e := NewEngine("INSTRUCTIONS.md")
	filtered := e.FilterContextForAgent("security", sampleContext())

	files := filtered["files"].(map[string]string)
	if _, ok := files[".env"]; !ok {
		t.Error("expected .env for security agent")
	}
	if _, ok := files[".env.example"]; ok {
		t.Error("did not expect .env.example for security agent")
	}
	if _, ok := filtered["security_policies"]; !ok {
		t.Error("expected security_policies section")
	}
}

func TestFilterUnknownCategoryPassthrough(t *testing.T) {
	e := NewEngine("INSTRUCTIONS.md")
	full := sampleContext()
	filtered := e.FilterContextForAgent("unknown_type", full)
	if !reflect.DeepEqual(filtered, full) {
		t.Error("expected unchanged context for unknown category")
	}
}

func TestFilterIsIdempotent(t *testing.T) {
	e := NewEngine("INSTRUCTIONS.md")
	first := e.FilterContextForAgent("documentation", sampleContext())
	second := e.FilterContextForAgent("documentation", sampleContext())
	if !reflect.DeepEqual(first, second) {
		t.Error("expected identical output for identical input")
	}
}

func TestRegisterCustomPolicy(t *testing.T) {
	e := NewEngine("INSTRUCTIONS.md")
	err := e.RegisterPolicy("custom", &FilterPolicy{
		IncludePatterns:  []string{`custom_`},
		FileExtensions:   []string{".custom"},
		PriorityKeywords: []string{"custom", "special"},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if p := e.Policy("custom"); p == nil || p.Category != "custom" {
		t.Fatalf("expected custom policy registered, got %+v", p)
	}

	filtered := e.FilterContextForAgent("custom", map[string]any{
		"files": map[string]string{
			"custom_rules.txt": "rules",
			"other.txt":        "other",
		},
	})
	files := filtered["files"].(map[string]string)
	if _, ok := files["custom_rules.txt"]; !ok {
		t.Error("expected custom_rules.txt selected")
	}
	if _, ok := files["other.txt"]; ok {
		t.Error("did not expect other.txt selected")
	}
}

func TestRegisterPolicyBadPattern(t *testing.T) {
	e := NewEngine("INSTRUCTIONS.md")
	err := e.RegisterPolicy("bad", &FilterPolicy{IncludePatterns: []string{`([`}})
	if err == nil {
		t.Fatal("expected error for invalid pattern")
	}
}

func TestFileTruncation(t *testing.T) {
	e := NewEngine("INSTRUCTIONS.md")
	large := strings.Repeat("x", 200000)
	filtered := e.FilterContextForAgent("documentation", map[string]any{
		"files": map[string]string{
			"large_file.txt": large,
			"small_file.txt": "Small content",
		},
	})

	files := filtered["files"].(map[string]string)
	got, ok := files["large_file.txt"]
	if !ok {
		t.Fatal("expected large_file.txt selected")
	}
	if len(got) >= 200000 {
		t.Errorf("expected truncation, got %d bytes", len(got))
	}
	if !strings.HasSuffix(got, truncationMarker) {
		t.Error("expected truncation marker at end")
	}
	if files["small_file.txt"] != "Small content" {
		t.Error("small file should pass untouched")
	}
}

func TestSharedContextCompositeKeys(t *testing.T) {
	e := NewEngine("INSTRUCTIONS.md")
	e.UpdateSharedContext("documentation", map[string]any{
		"latest_version":    "1.0.0",
		"changelog_updated": true,
	})

	if e.SharedContextSize() != 2 {
		t.Fatalf("expected 2 shared entries, got %d", e.SharedContextSize())
	}
	e.mu.RLock()
	entry, ok := e.shared["documentation_latest_version"]
	e.mu.RUnlock()
	if !ok {
		t.Fatal("expected composite key documentation_latest_version")
	}
	if entry.Value != "1.0.0" || entry.SourceAgentID != "documentation" {
		t.Errorf("unexpected entry %+v", entry)
	}
}

func TestSharedContextRelatednessVisibility(t *testing.T) {
	e := NewEngine("INSTRUCTIONS.md")
	e.UpdateSharedContext("documentation", map[string]any{"version": "1.0.0"})
	e.UpdateSharedContext("qa", map[string]any{"test_results": "passed"})
	e.UpdateSharedContext("security", map[string]any{"audit": "passed"})

	// QA is related to documentation and security.
	filtered := e.FilterContextForAgent("qa", map[string]any{})
	shared, ok := filtered["shared_context"].(map[string]SharedEntry)
	if !ok {
		t.Fatalf("expected shared_context for qa, got %#v", filtered["shared_context"])
	}
	if _, ok := shared["documentation_version"]; !ok {
		t.Error("qa should see documentation entries")
	}
	if _, ok := shared["security_audit"]; !ok {
		t.Error("qa should see security entries")
	}

	// Research is not related to security.
	filteredResearch := e.FilterContextForAgent("research", map[string]any{})
	sharedResearch, _ := filteredResearch["shared_context"].(map[string]SharedEntry)
	if _, ok := sharedResearch["documentation_version"]; !ok {
		t.Error("research should see documentation entries")
	}
	if _, ok := sharedResearch["security_audit"]; ok {
		t.Error("research should not see security entries")
	}
}

func TestSharedContextUnderscoreCategories(t *testing.T) {
	e := NewEngine("INSTRUCTIONS.md")
	e.UpdateSharedContext("data_engineer", map[string]any{"schema_version": "v2"})
	e.UpdateSharedContext("version_control", map[string]any{"release_branch": "release/1.2"})

	// Engineer is related to data_engineer; version_control is related to
	// engineer but not the reverse.
	filtered := e.FilterContextForAgent("engineer", map[string]any{})
	shared, ok := filtered["shared_context"].(map[string]SharedEntry)
	if !ok {
		t.Fatalf("expected shared_context for engineer, got %#v", filtered["shared_context"])
	}
	if _, ok := shared["data_engineer_schema_version"]; !ok {
		t.Error("engineer should see data_engineer entries")
	}

	// Version_control sees engineer and ops plus its own entries.
	filteredVC := e.FilterContextForAgent("version_control", map[string]any{})
	sharedVC, ok := filteredVC["shared_context"].(map[string]SharedEntry)
	if !ok {
		t.Fatalf("expected shared_context for version_control, got %#v", filteredVC["shared_context"])
	}
	if _, ok := sharedVC["version_control_release_branch"]; !ok {
		t.Error("version_control should see its own entries")
	}

	// Documentation is unrelated to both writers.
	filteredDoc := e.FilterContextForAgent("documentation", map[string]any{})
	sharedDoc, _ := filteredDoc["shared_context"].(map[string]SharedEntry)
	if _, ok := sharedDoc["data_engineer_schema_version"]; ok {
		t.Error("documentation should not see data_engineer entries")
	}
	if _, ok := sharedDoc["version_control_release_branch"]; ok {
		t.Error("documentation should not see version_control entries")
	}
}

func TestClearOldSharedContext(t *testing.T) {
	e := NewEngine("INSTRUCTIONS.md")
	e.mu.Lock()
	e.shared["test_old_item"] = SharedEntry{
		Value:         "old",
		SourceAgentID: "test",
		Timestamp:     time.Now().Add(-25 * time.Hour),
	}
	e.shared["test_recent_item"] = SharedEntry{
		Value:         "recent",
		SourceAgentID: "test",
		Timestamp:     time.Now(),
	}
	e.mu.Unlock()

	removed := e.ClearOldSharedContext(24)
	if removed != 1 {
		t.Errorf("expected 1 removed, got %d", removed)
	}
	e.mu.RLock()
	_, oldExists := e.shared["test_old_item"]
	_, recentExists := e.shared["test_recent_item"]
	e.mu.RUnlock()
	if oldExists {
		t.Error("old item should be removed")
	}
	if !recentExists {
		t.Error("recent item should survive")
	}
}

func TestInteractionHistoryCapAndRecency(t *testing.T) {
	e := NewEngine("INSTRUCTIONS.md")
	for i := 0; i < 15; i++ {
		e.RecordInteraction("agent-1", "engineer", 1000, 500, fmt.Sprintf("Request %d", i), "", false)
	}

	e.mu.RLock()
	full := e.history["agent-1"]
	e.mu.RUnlock()
	if len(full) != maxHistoryPerAgent {
		t.Fatalf("expected history capped at %d, got %d", maxHistoryPerAgent, len(full))
	}
	if full[0].Request != "Request 5" {
		t.Errorf("expected oldest surviving record 'Request 5', got %q", full[0].Request)
	}

	recent := e.GetAgentHistory("agent-1")
	if len(recent) != recentHistoryCount {
		t.Fatalf("expected %d recent records, got %d", recentHistoryCount, len(recent))
	}
	if recent[0].Request != "Request 12" || recent[2].Request != "Request 14" {
		t.Errorf("expected chronological records 12..14, got %q..%q", recent[0].Request, recent[2].Request)
	}
}

func TestGetAgentHistoryEmpty(t *testing.T) {
	e := NewEngine("INSTRUCTIONS.md")
	if h := e.GetAgentHistory("nobody"); len(h) != 0 {
		t.Errorf("expected empty history, got %d records", len(h))
	}
}

func TestContextSizeEstimate(t *testing.T) {
	e := NewEngine("INSTRUCTIONS.md")

	small := e.GetContextSizeEstimate("Hello, world!")
	if small <= 0 {
		t.Error("expected positive size for non-empty string")
	}

	big := e.GetContextSizeEstimate(map[string]any{"data": strings.Repeat("x", 10000)})
	if big <= small {
		t.Error("expected estimate monotonic in input size")
	}

	value := map[string]any{"key": "value", "n": 42}
	if e.GetContextSizeEstimate(value) != e.GetContextSizeEstimate(value) {
		t.Error("expected stable estimate for identical input")
	}
}

func TestFilterStatistics(t *testing.T) {
	e := NewEngine("INSTRUCTIONS.md")
	e.RecordInteraction("doc-1", "documentation", 10000, 3000, "", "", false)
	e.RecordInteraction("qa-1", "qa", 8000, 2000, "", "", false)
	e.RecordInteraction("doc-2", "documentation", 12000, 3500, "", "", false)

	stats := e.GetFilterStatistics()
	if stats.RegisteredPolicies != 9 {
		t.Errorf("expected 9 policies, got %d", stats.RegisteredPolicies)
	}
	if stats.TotalInteractions != 3 {
		t.Errorf("expected 3 interactions, got %d", stats.TotalInteractions)
	}
	if stats.AgentsTracked != 3 {
		t.Errorf("expected 3 agents tracked, got %d", stats.AgentsTracked)
	}

	doc := stats.AverageReductionByCategory["documentation"]
	if doc < 65 || doc > 75 {
		t.Errorf("expected documentation reduction near 70%%, got %.1f", doc)
	}
	qa := stats.AverageReductionByCategory["qa"]
	if qa < 70 || qa > 80 {
		t.Errorf("expected qa reduction near 75%%, got %.1f", qa)
	}
}

func TestInstructionDocumentRouting(t *testing.T) {
	e := NewEngine("INSTRUCTIONS.md")
	full := map[string]any{
		"files": map[string]string{
			"INSTRUCTIONS.md":        buildDoc("## Project Specific\nproject rules"),
			"parent/INSTRUCTIONS.md": buildDoc("## Parent Specific\nparent rules"),
			"README.md":              "# Readme",
		},
	}

	// Documentation is a consumer: docs arrive deduplicated, not as files.
	docCtx := e.FilterContextForAgent("documentation", full)
	docs, ok := docCtx["instruction_documents"].(map[string]string)
	if !ok {
		t.Fatal("expected instruction_documents for documentation agent")
	}
	joined := ""
	for _, c := range docs {
		joined += c + "\n"
	}
	if got := strings.Count(joined, "## Framework Context"); got != 1 {
		t.Errorf("expected common section once after dedup, got %d", got)
	}
	if files := docCtx["files"].(map[string]string); len(files) > 0 {
		if _, ok := files["INSTRUCTIONS.md"]; ok {
			t.Error("instruction doc should not also appear under files")
		}
	}

	// Engineer is not a consumer: no instruction documents at all.
	engCtx := e.FilterContextForAgent("engineer", full)
	if _, ok := engCtx["instruction_documents"]; ok {
		t.Error("engineer should not receive instruction documents")
	}
	if files, ok := engCtx["files"].(map[string]string); ok {
		if _, ok := files["INSTRUCTIONS.md"]; ok {
			t.Error("engineer should not receive raw instruction documents as files")
		}
	}
}

func TestConcurrentSharedContextWrites(t *testing.T) {
	e := NewEngine("INSTRUCTIONS.md")
	done := make(chan struct{})
	for i := 0; i < 10; i++ {
		go func(n int) {
			defer func() { done <- struct{}{} }()
			e.UpdateSharedContext(fmt.Sprintf("agent%d", n), map[string]any{"k": n})
		}(i)
	}
	for i := 0; i < 10; i++ {
		<-done
	}
	if e.SharedContextSize() != 10 {
		t.Errorf("expected 10 entries, writes across distinct keys must not be lost; got %d", e.SharedContextSize())
	}
}
