package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.LLM.DefaultModel != "gemini/gemini-2.0-flash" {
		t.Errorf("expected default model gemini/gemini-2.0-flash, got %q", cfg.LLM.DefaultModel)
	}
	if cfg.LLM.Temperature != 0.7 {
		t.Errorf("expected temperature 0.7, got %v", cfg.LLM.Temperature)
	}
	if cfg.Limits.MaxIterations != 25 {
		t.Errorf("expected max iterations 25, got %d", cfg.Limits.MaxIterations)
	}
	if cfg.Limits.RateLimitMaxWait != 2*time.Minute {
		t.Errorf("expected rate limit max wait 2m, got %v", cfg.Limits.RateLimitMaxWait)
	}
	if cfg.Limits.ToolTimeout != 60*time.Second {
		t.Errorf("expected tool timeout 60s, got %v", cfg.Limits.ToolTimeout)
	}
	if !cfg.History.Enabled {
		t.Error("expected history to be enabled")
	}
	if cfg.TUI.RefreshRate != 100*time.Millisecond {
		t.Errorf("expected refresh rate 100ms, got %v", cfg.TUI.RefreshRate)
	}
}

func TestLoadFromPath(t *testing.T) {
	t.Setenv("ANTHROPIC_API_KEY", "")
	t.Setenv("GEMINI_API_KEY", "")
	t.Setenv("CREWKIT_TEST_SERP", "serp-from-env")

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	configContent := `
llm:
  default_model: ollama/llama3.2
  temperature: 0.2
keys:
  gemini: gem-key
  serpapi: ${CREWKIT_TEST_SERP}
limits:
  max_iterations: 5
  max_rpm: 3
  rate_limit_max_wait: 30s
  tool_timeout: 10s
logging:
  level: debug
  format: json
history:
  enabled: false
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}

	if cfg.LLM.DefaultModel != "ollama/llama3.2" {
		t.Errorf("expected model ollama/llama3.2, got %q", cfg.LLM.DefaultModel)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Errorf("expected temperature 0.2, got %v", cfg.LLM.Temperature)
	}
	if cfg.Keys.Gemini != "gem-key" {
		t.Errorf("expected gemini key, got %q", cfg.Keys.Gemini)
	}
	if cfg.Keys.SerpAPI != "serp-from-env" {
		t.Errorf("expected expanded serpapi key, got %q", cfg.Keys.SerpAPI)
	}
	if cfg.Limits.MaxRPM != 3 {
		t.Errorf("expected max rpm 3, got %d", cfg.Limits.MaxRPM)
	}
	if cfg.Limits.RateLimitMaxWait != 30*time.Second {
		t.Errorf("expected 30s max wait, got %v", cfg.Limits.RateLimitMaxWait)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("expected json logging, got %q", cfg.Logging.Format)
	}
	if cfg.History.Enabled {
		t.Error("expected history disabled")
	}
	// Unset values keep defaults.
	if cfg.Limits.OrchestrationIterations != 50 {
		t.Errorf("expected default orchestration iterations 50, got %d", cfg.Limits.OrchestrationIterations)
	}
}

func TestLoadFromPath_EmptyFileMatchesDefault(t *testing.T) {
	for _, env := range []string{"OLLAMA_HOST", "AWS_REGION", "CREWKIT_LOG_LEVEL"} {
		t.Setenv(env, "")
	}
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("{}\n"), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}
	d := Default()
	if cfg.LLM != d.LLM || cfg.Limits != d.Limits || cfg.Logging != d.Logging || cfg.History != d.History || cfg.TUI != d.TUI {
		t.Errorf("loaded defaults differ from Default():\n got %+v\nwant %+v", cfg, d)
	}
}

func TestLoadFromPath_EnvOverridesFile(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "env-wins")

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte("keys:\n  gemini: file-key\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFromPath(configPath)
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if cfg.Keys.Gemini != "env-wins" {
		t.Errorf("expected env key to win, got %q", cfg.Keys.Gemini)
	}
}

func TestLoadFromPath_Missing(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config")
	}
}

func TestGetUserConfigDir(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	if dir := getUserConfigDir(); dir != "/custom/config/crewkit" {
		t.Errorf("expected /custom/config/crewkit, got %q", dir)
	}
}

func TestSave(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg := Default()
	cfg.LLM.DefaultModel = "anthropic/claude-sonnet-4-20250514"
	cfg.Keys.Anthropic = "secret"
	if err := Save(cfg); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := LoadFromPath(GetUserConfigPath())
	if err != nil {
		t.Fatalf("LoadFromPath failed: %v", err)
	}
	if loaded.LLM.DefaultModel != "anthropic/claude-sonnet-4-20250514" {
		t.Errorf("model not saved, got %q", loaded.LLM.DefaultModel)
	}

	data, err := os.ReadFile(GetUserConfigPath())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), "secret") {
		t.Error("credentials must not be written to the config file")
	}
}
