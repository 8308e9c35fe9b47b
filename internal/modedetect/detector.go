// Package modedetect decides, per delegation, whether to run an agent
// locally over the message bus or hand it to the external execution
// channel. The decision is stateless and re-evaluated on every call.
package modedetect

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ShayCichocki/conductor/pkg/models"
)

const (
	// DocumentName is the well-known configuration document searched for
	// in the working directory and its parents.
	DocumentName = "CONDUCTOR.md"
	// DisableMarker disables local orchestration when it appears in the
	// document. Matching is exact and case-sensitive.
	DisableMarker = "CONDUCTOR_ORCHESTRATION: DISABLED"
	// EnableMarker is the legacy explicit-enable marker. It is accepted
	// but has no effect; orchestration is enabled by default.
	EnableMarker = "CONDUCTOR_ORCHESTRATION: ENABLED"
	// maxParentLevels bounds the upward search for DocumentName.
	maxParentLevels = 3
)

// Decision is the outcome of one mode-selection pass.
type Decision struct {
	// Mode is the execution mode to use.
	Mode models.Mode
	// Reason explains why local execution was not chosen. Empty for
	// local mode.
	Reason string
}

// Detector resolves the execution mode for delegations rooted at one
// working directory. It holds no cached decisions and is safe for
// concurrent use.
type Detector struct {
	workingDir string

	// mu guards forced and probe; Decide may race SetForceMode across
	// concurrent delegations.
	mu sync.RWMutex

	// forced, when non-nil, short-circuits the decision. Used for
	// deterministic testing.
	forced *models.Mode

	// probe validates that the local-mode collaborators can be
	// constructed. A nil probe means local collaborators are assumed
	// available.
	probe func() error
}

// New creates a detector for the given working directory (cwd when empty).
func New(workingDir string) *Detector {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	return &Detector{workingDir: workingDir}
}

// SetForceMode forces a mode for all subsequent decisions, or restores
// automatic detection when mode is nil.
func (d *Detector) SetForceMode(mode *models.Mode) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.forced = mode
}

// SetAvailabilityProbe installs the collaborator-availability check run
// before choosing local mode. The probe's error text should name the
// failing component.
func (d *Detector) SetAvailabilityProbe(probe func() error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.probe = probe
}

// FindDocument returns the path of the nearest well-known configuration
// document, searching the working directory and up to three parents.
// Returns the empty string when none exists.
func (d *Detector) FindDocument() string {
	dir := d.workingDir
	for level := 0; level <= maxParentLevels; level++ {
		candidate := filepath.Join(dir, DocumentName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// Enabled reports whether local orchestration is enabled. Absence of the
// document, absence of any marker, and read errors all resolve to enabled:
// the detector fails open.
func (d *Detector) Enabled() bool {
	doc := d.FindDocument()
	if doc == "" {
		return true
	}
	content, err := os.ReadFile(doc)
	if err != nil {
		// Permission or I/O problems never disable orchestration.
		return true
	}
	return !containsMarker(string(content), DisableMarker)
}

// containsMarker reports whether the marker appears in the content as an
// exact case-sensitive substring.
func containsMarker(content, marker string) bool {
	for i := 0; i+len(marker) <= len(content); i++ {
		if content[i:i+len(marker)] == marker {
			return true
		}
	}
	return false
}

// Decide resolves the execution mode for one delegation.
func (d *Detector) Decide() Decision {
	d.mu.RLock()
	forced := d.forced
	probe := d.probe
	d.mu.RUnlock()

	if forced != nil {
		return Decision{Mode: *forced, Reason: "forced mode"}
	}

	if !d.Enabled() {
		return Decision{
			Mode:   models.ModeExternal,
			Reason: fmt.Sprintf("orchestration disabled by configuration (%s)", DisableMarker),
		}
	}

	if probe != nil {
		if err := probe(); err != nil {
			return Decision{
				Mode:   models.ModeExternal,
				Reason: fmt.Sprintf("local collaborator unavailable: %v", err),
			}
		}
	}

	return Decision{Mode: models.ModeLocal}
}
