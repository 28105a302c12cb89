package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestLoad_AppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "agent.yaml", `
llm:
  provider: anthropic
  model_name: claude-sonnet
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.LLM.MaxToolCallDepth != DefaultMaxToolCallDepth {
		t.Errorf("MaxToolCallDepth = %d, want %d", cfg.LLM.MaxToolCallDepth, DefaultMaxToolCallDepth)
	}
	if cfg.Session.MaxMiniAgents != DefaultMaxMiniAgents {
		t.Errorf("MaxMiniAgents = %d, want %d", cfg.Session.MaxMiniAgents, DefaultMaxMiniAgents)
	}
	if cfg.LLM.ModelName != "claude-sonnet" {
		t.Errorf("ModelName = %q, want claude-sonnet", cfg.LLM.ModelName)
	}
}

func TestLoad_ResolvesInclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
sandbox:
  vm_image: ubuntu:24.04
  persist_vms: true
`)
	path := writeFile(t, dir, "agent.yaml", `
$include: base.yaml
llm:
  model_name: claude-sonnet
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sandbox.VMImage != "ubuntu:24.04" {
		t.Errorf("VMImage = %q, want ubuntu:24.04", cfg.Sandbox.VMImage)
	}
	if !cfg.Sandbox.PersistVMs {
		t.Errorf("PersistVMs = false, want true")
	}
	if cfg.LLM.ModelName != "claude-sonnet" {
		t.Errorf("ModelName = %q, want claude-sonnet", cfg.LLM.ModelName)
	}
}

func TestLoad_IncludeCycleDetected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", `$include: b.yaml`)
	path := writeFile(t, dir, "b.yaml", `$include: a.yaml`)

	if _, err := Load(path); err == nil {
		t.Fatal("expected error for include cycle, got nil")
	}
}
