package contextfilter

import (
	"sort"
	"strings"
)

// Section is one (heading, body) unit of an instruction document. A new
// section starts at every heading line, at any depth.
type Section struct {
	// Heading is the full heading line, including the leading hashes.
	// Empty for content preceding the first heading.
	Heading string
	// Body is the text between this heading and the next.
	Body string
}

// text returns the section's byte-exact serialized form, used both for
// identity comparison and for reassembly.
func (s Section) text() string {
	if s.Heading == "" {
		return s.Body
	}
	if s.Body == "" {
		return s.Heading
	}
	return s.Heading + "\n" + s.Body
}

// ParseSections splits an instruction document into ordered sections.
func ParseSections(content string) []Section {
	var sections []Section
	var current *Section
	var body []string

	flush := func() {
		if current == nil {
			return
		}
		current.Body = strings.TrimRight(strings.Join(body, "\n"), "\n")
		sections = append(sections, *current)
		body = body[:0]
	}

	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "#") {
			flush()
			current = &Section{Heading: line}
			continue
		}
		if current == nil {
			current = &Section{}
		}
		body = append(body, line)
	}
	flush()
	return sections
}

// DeduplicateDocuments collapses sections that are byte-identical across
// two or more documents, keeping each such section only in the document
// where it first appears. Documents are visited in sorted-key order so the
// result is stable and the operation idempotent. Sections unique to a
// document are always kept in place.
func DeduplicateDocuments(docs map[string]string) map[string]string {
	if len(docs) < 2 {
		return docs
	}

	names := make([]string, 0, len(docs))
	for name := range docs {
		names = append(names, name)
	}
	sort.Strings(names)

	// Count how many documents contain each exact section.
	counts := make(map[string]int)
	parsed := make(map[string][]Section, len(docs))
	for _, name := range names {
		secs := ParseSections(docs[name])
		parsed[name] = secs
		seen := make(map[string]bool, len(secs))
		for _, s := range secs {
			key := s.text()
			if !seen[key] {
				counts[key]++
				seen[key] = true
			}
		}
	}

	out := make(map[string]string, len(docs))
	emitted := make(map[string]bool)
	for _, name := range names {
		var kept []string
		for _, s := range parsed[name] {
			key := s.text()
			if counts[key] >= 2 {
				// Common section: first document to reach it wins.
				if emitted[key] {
					continue
				}
				emitted[key] = true
			}
			kept = append(kept, key)
		}
		out[name] = strings.Join(kept, "\n\n")
	}
	return out
}
