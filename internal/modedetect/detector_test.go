package modedetect

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ShayCichocki/conductor/pkg/models"
)

func TestDefaultEnabledWithoutDocument(t *testing.T) {
	d := New(t.TempDir())
	if !d.Enabled() {
		t.Error("expected enabled when no document exists")
	}
	decision := d.Decide()
	if decision.Mode != models.ModeLocal {
		t.Errorf("expected local mode, got %s (%s)", decision.Mode, decision.Reason)
	}
	if decision.Reason != "" {
		t.Errorf("expected empty reason for local mode, got %q", decision.Reason)
	}
}

func TestExplicitDisable(t *testing.T) {
	dir := t.TempDir()
	content := "# Project\n\n" + DisableMarker + "\n"
	if err := os.WriteFile(filepath.Join(dir, DocumentName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	d := New(dir)
	if d.Enabled() {
		t.Error("expected disabled")
	}
	decision := d.Decide()
	if decision.Mode != models.ModeExternal {
		t.Errorf("expected external mode, got %s", decision.Mode)
	}
	if !strings.Contains(decision.Reason, "disabled") {
		t.Errorf("expected reason naming the disable, got %q", decision.Reason)
	}
}

func TestLegacyEnableMarkerIsNoOp(t *testing.T) {
	dir := t.TempDir()
	content := EnableMarker + "\n"
	if err := os.WriteFile(filepath.Join(dir, DocumentName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	d := New(dir)
	if !d.Enabled() {
		t.Error("legacy enable marker should leave orchestration enabled")
	}
}

func TestMarkerMatchingIsCaseSensitive(t *testing.T) {
	dir := t.TempDir()
	content := strings.ToLower(DisableMarker) + "\n"
	if err := os.WriteFile(filepath.Join(dir, DocumentName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	d := New(dir)
	if !d.Enabled() {
		t.Error("lowercase marker must not disable orchestration")
	}
}

func TestNearestDocumentWins(t *testing.T) {
	root := t.TempDir()
	child := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(child, 0755); err != nil {
		t.Fatal(err)
	}
	// Disable at the root, enable (no marker) nearer the working dir.
	if err := os.WriteFile(filepath.Join(root, DocumentName), []byte(DisableMarker), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(child, DocumentName), []byte("# nothing special"), 0644); err != nil {
		t.Fatal(err)
	}

	d := New(child)
	if got := d.FindDocument(); got != filepath.Join(child, DocumentName) {
		t.Errorf("expected nearest document, got %s", got)
	}
	if !d.Enabled() {
		t.Error("nearest document has no marker; expected enabled")
	}
}

func TestParentSearchDepth(t *testing.T) {
	root := t.TempDir()
	deep := filepath.Join(root, "1", "2", "3")
	if err := os.MkdirAll(deep, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, DocumentName), []byte(DisableMarker), 0644); err != nil {
		t.Fatal(err)
	}

	// Three levels up is within range.
	if New(deep).Enabled() {
		t.Error("document three parents up should be found")
	}

	// Four levels up is out of range.
	deeper := filepath.Join(deep, "4")
	if err := os.MkdirAll(deeper, 0755); err != nil {
		t.Fatal(err)
	}
	if !New(deeper).Enabled() {
		t.Error("document four parents up should be ignored")
	}
}

func TestUnreadableDocumentFailsOpen(t *testing.T) {
	dir := t.TempDir()
	docPath := filepath.Join(dir, DocumentName)
	if err := os.WriteFile(docPath, []byte(DisableMarker), 0000); err != nil {
		t.Fatal(err)
	}
	if os.Geteuid() == 0 {
		t.Skip("permission bits are not enforced for root")
	}
	d := New(dir)
	if !d.Enabled() {
		t.Error("unreadable document must fail open to enabled")
	}
}

func TestForcedMode(t *testing.T) {
	d := New(t.TempDir())
	external := models.ModeExternal
	d.SetForceMode(&external)

	decision := d.Decide()
	if decision.Mode != models.ModeExternal {
		t.Errorf("expected forced external, got %s", decision.Mode)
	}
	if decision.Reason != "forced mode" {
		t.Errorf("expected forced reason, got %q", decision.Reason)
	}

	d.SetForceMode(nil)
	if got := d.Decide(); got.Mode != models.ModeLocal {
		t.Errorf("expected auto-detect local after clearing force, got %s", got.Mode)
	}
}

func TestAvailabilityProbeFailure(t *testing.T) {
	d := New(t.TempDir())
	d.SetAvailabilityProbe(func() error {
		return errors.New("agent directory: no discovery roots")
	})

	decision := d.Decide()
	if decision.Mode != models.ModeExternal {
		t.Errorf("expected external when probe fails, got %s", decision.Mode)
	}
	if !strings.Contains(decision.Reason, "agent directory") {
		t.Errorf("expected reason naming the failing component, got %q", decision.Reason)
	}

	// A later successful probe restores local mode: failures are not
	// cached as permanent.
	d.SetAvailabilityProbe(func() error { return nil })
	if got := d.Decide(); got.Mode != models.ModeLocal {
		t.Errorf("expected local after probe recovers, got %s", got.Mode)
	}
}

func TestConcurrentForceModeAndDecide(t *testing.T) {
	d := New(t.TempDir())

	done := make(chan struct{})
	go func() {
		defer close(done)
		external := models.ModeExternal
		for i := 0; i < 200; i++ {
			d.SetForceMode(&external)
			d.SetForceMode(nil)
		}
	}()

	for i := 0; i < 200; i++ {
		decision := d.Decide()
		if decision.Mode != models.ModeLocal && decision.Mode != models.ModeExternal {
			t.Fatalf("invalid mode %q", decision.Mode)
		}
	}
	<-done
}
