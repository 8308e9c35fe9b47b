package contextfilter

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

// DefaultMaxFileSize caps individual file content passed to an agent.
const DefaultMaxFileSize = 100000

// FilterPolicy describes how context is reduced for one agent category.
// A category without a policy receives the full context unchanged.
type FilterPolicy struct {
	// Category is the agent category this policy applies to.
	Category string `yaml:"category"`
	// IncludePatterns are regular expressions selecting file paths.
	IncludePatterns []string `yaml:"include_patterns,omitempty"`
	// ExcludePatterns are regular expressions rejecting file paths, applied
	// after selection.
	ExcludePatterns []string `yaml:"exclude_patterns,omitempty"`
	// FileExtensions lists allowed file extensions (with leading dot).
	FileExtensions []string `yaml:"file_extensions,omitempty"`
	// DirectoryPatterns are regular expressions selecting directories.
	DirectoryPatterns []string `yaml:"directory_patterns,omitempty"`
	// MaxFileSize truncates individual file contents beyond this many
	// bytes. Zero means DefaultMaxFileSize.
	MaxFileSize int `yaml:"max_file_size,omitempty"`
	// PriorityKeywords score task relevance; the task description is only
	// forwarded when at least one keyword matches.
	PriorityKeywords []string `yaml:"priority_keywords,omitempty"`
	// ContextSections lists top-level named context sections forwarded to
	// the agent when present.
	ContextSections []string `yaml:"context_sections,omitempty"`
	// InstructionDocuments marks the category as a consumer of instruction
	// documents. Consumers receive the deduplicated document set; all other
	// policied categories receive none.
	InstructionDocuments bool `yaml:"instruction_documents,omitempty"`

	include []*regexp.Regexp
	exclude []*regexp.Regexp
	dirs    []*regexp.Regexp
}

// Compile validates and compiles the policy's patterns. It must be called
// before the policy is used for matching; RegisterPolicy does this.
func (p *FilterPolicy) Compile() error {
	compile := func(patterns []string) ([]*regexp.Regexp, error) {
		out := make([]*regexp.Regexp, 0, len(patterns))
		for _, pat := range patterns {
			re, err := regexp.Compile(pat)
			if err != nil {
				return nil, fmt.Errorf("pattern %q: %w", pat, err)
			}
			out = append(out, re)
		}
		return out, nil
	}

	var err error
	if p.include, err = compile(p.IncludePatterns); err != nil {
		return fmt.Errorf("include patterns for %s: %w", p.Category, err)
	}
	if p.exclude, err = compile(p.ExcludePatterns); err != nil {
		return fmt.Errorf("exclude patterns for %s: %w", p.Category, err)
	}
	if p.dirs, err = compile(p.DirectoryPatterns); err != nil {
		return fmt.Errorf("directory patterns for %s: %w", p.Category, err)
	}
	return nil
}

// maxSize returns the effective per-file size cap.
func (p *FilterPolicy) maxSize() int {
	if p.MaxFileSize > 0 {
		return p.MaxFileSize
	}
	return DefaultMaxFileSize
}

// matchesFile reports whether a file path is selected by this policy: it
// must match an include pattern, an allowed extension, or a directory
// pattern, and must not match any exclude pattern.
func (p *FilterPolicy) matchesFile(path string) bool {
	for _, re := range p.exclude {
		if re.MatchString(path) {
			return false
		}
	}

	for _, re := range p.include {
		if re.MatchString(path) {
			return true
		}
	}
	for _, ext := range p.FileExtensions {
		if len(path) >= len(ext) && path[len(path)-len(ext):] == ext {
			return true
		}
	}
	for _, re := range p.dirs {
		if re.MatchString(path) {
			return true
		}
	}
	return false
}

// policyFile is the on-disk shape of a policy bundle.
type policyFile struct {
	Policies []*FilterPolicy `yaml:"policies"`
}

// LoadPolicies reads filter policies from a YAML file. Policies are
// compiled but not registered; pass them to RegisterPolicy.
func LoadPolicies(path string) ([]*FilterPolicy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	for _, p := range pf.Policies {
		if p.Category == "" {
			return nil, fmt.Errorf("policy file %s: policy without category", path)
		}
		if err := p.Compile(); err != nil {
			return nil, err
		}
	}
	return pf.Policies, nil
}

// DefaultPolicies returns the built-in per-category policies. The set
// mirrors the nine core agent categories of the framework.
func DefaultPolicies() []*FilterPolicy {
	return []*FilterPolicy{
		{
			Category:             "documentation",
			IncludePatterns:      []string{`(?i)readme`, `(?i)changelog`, `(?i)license`},
			FileExtensions:       []string{".md", ".rst", ".txt"},
			DirectoryPatterns:    []string{`(^|/)docs/`},
			PriorityKeywords:     []string{"document", "documentation", "readme", "changelog", "guide"},
			ContextSections:      []string{"project_overview"},
			InstructionDocuments: true,
		},
		{
			Category:          "qa",
			IncludePatterns:   []string{`(^|/|_)test`, `_test\.`, `(?i)spec`},
			DirectoryPatterns: []string{`(^|/)tests?/`},
			ExcludePatterns:   []string{`(?i)readme`, `\.md$`},
			PriorityKeywords:  []string{"test", "tests", "qa", "quality", "validate", "validation", "coverage"},
			ContextSections:   []string{"test_results"},
		},
		{
			Category:          "engineer",
			FileExtensions:    []string{".go", ".py", ".js", ".ts", ".rs", ".java"},
			DirectoryPatterns: []string{`(^|/)src/`, `(^|/)internal/`, `(^|/)pkg/`, `(^|/)cmd/`, `(^|/)lib/`},
			ExcludePatterns:   []string{`(^|/|_)tests?(/|_|\.)`},
			PriorityKeywords:  []string{"implement", "code", "develop", "fix", "refactor", "build"},
			ContextSections:   []string{"technical_specs"},
		},
		{
			Category:          "research",
			FileExtensions:    []string{".md"},
			DirectoryPatterns: []string{`(^|/)research/`, `(^|/)docs/`},
			IncludePatterns:   []string{`(?i)analysis`, `(?i)rfc`},
			PriorityKeywords:  []string{"research", "investigate", "analyze", "evaluate", "compare"},
			ContextSections:   []string{"project_overview", "technical_specs"},
		},
		{
			Category:         "version_control",
			IncludePatterns:  []string{`\.gitignore$`, `\.gitattributes$`, `(?i)branch`},
			PriorityKeywords: []string{"git", "branch", "merge", "commit", "tag", "version", "release"},
			ContextSections:  []string{"git_status"},
		},
		{
			Category:         "ticketing",
			IncludePatterns:  []string{`(?i)ticket`, `(?i)issue`},
			PriorityKeywords: []string{"ticket", "issue", "sprint", "backlog", "epic"},
			ContextSections:  []string{"active_tickets"},
		},
		{
			Category:          "ops",
			IncludePatterns:   []string{`(?i)docker`, `(?i)deploy`, `(?i)makefile`, `\.ya?ml$`},
			FileExtensions:    []string{".sh"},
			DirectoryPatterns: []string{`(^|/)deploy/`, `(^|/)\.github/`, `(^|/)ci/`},
			PriorityKeywords:  []string{"deploy", "deployment", "infrastructure", "ops", "pipeline", "monitor"},
			ContextSections:   []string{"deployment_config"},
		},
		{
			Category:         "security",
			IncludePatterns:  []string{`\.env`, `(?i)auth`, `(?i)security`, `(?i)secret`, `(?i)cert`},
			ExcludePatterns:  []string{`\.env\.example$`, `(^|/)node_modules/`},
			PriorityKeywords: []string{"security", "vulnerability", "audit", "auth", "encrypt", "secret"},
			ContextSections:  []string{"security_policies"},
		},
		{
			Category:          "data_engineer",
			FileExtensions:    []string{".sql"},
			IncludePatterns:   []string{`(?i)schema`, `(?i)migration`},
			DirectoryPatterns: []string{`(^|/)migrations?/`, `(^|/)data/`},
			PriorityKeywords:  []string{"data", "database", "schema", "migration", "pipeline", "etl"},
			ContextSections:   []string{"database_schema"},
		},
	}
}

// DefaultRelatedCategories returns the default category-relatedness table
// that governs shared-context visibility. Each category also sees its own
// entries. The table is instance data; replace it with
// Engine.SetRelatedCategories.
func DefaultRelatedCategories() map[string][]string {
	return map[string][]string{
		"documentation":   {"engineer", "qa", "research"},
		"qa":              {"engineer", "documentation", "security"},
		"engineer":        {"qa", "documentation", "security", "data_engineer"},
		"research":        {"engineer", "documentation"},
		"version_control": {"engineer", "ops"},
		"ticketing":       {"qa", "engineer", "documentation"},
		"ops":             {"engineer", "security", "data_engineer"},
		"security":        {"engineer", "qa", "ops"},
		"data_engineer":   {"engineer", "ops"},
	}
}
