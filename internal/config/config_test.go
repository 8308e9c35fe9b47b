package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `defaults:
  timeout: 90s
  priority: high
channel:
  kind: api
  model: test-model
filter:
  policy_file: /etc/conductor/policies.yaml
metrics:
  persist: false
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Defaults.Timeout != 90*time.Second {
		t.Errorf("expected 90s timeout, got %s", cfg.Defaults.Timeout)
	}
	if cfg.Defaults.Priority != "high" {
		t.Errorf("expected high priority, got %q", cfg.Defaults.Priority)
	}
	if cfg.Channel.Kind != "api" || cfg.Channel.Model != "test-model" {
		t.Errorf("unexpected channel config: %+v", cfg.Channel)
	}
	if cfg.Filter.PolicyFile != "/etc/conductor/policies.yaml" {
		t.Errorf("unexpected policy file: %q", cfg.Filter.PolicyFile)
	}
	if cfg.Metrics.Persist {
		t.Error("expected metrics persistence disabled")
	}
}

func TestLoadFromPathDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Defaults.Timeout != 5*time.Minute {
		t.Errorf("expected default 5m timeout, got %s", cfg.Defaults.Timeout)
	}
	if cfg.Channel.Kind != "cli" {
		t.Errorf("expected default cli channel, got %q", cfg.Channel.Kind)
	}
	if !cfg.Metrics.Persist {
		t.Error("expected metrics persistence enabled by default")
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("CONDUCTOR_TEST_KEY", "sk-test")
	if got := expandEnv("${CONDUCTOR_TEST_KEY}"); got != "sk-test" {
		t.Errorf("expected expansion, got %q", got)
	}
	if got := expandEnv("plain-value"); got != "plain-value" {
		t.Errorf("expected passthrough, got %q", got)
	}
}
