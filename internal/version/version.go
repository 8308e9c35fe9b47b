// Package version exposes the build version of conductor.
package version

import (
	_ "embed"
	"strings"
)

//go:embed VERSION
var raw string

// Get returns the semantic version of this build, whitespace trimmed.
func Get() string {
	return strings.TrimSpace(raw)
}
