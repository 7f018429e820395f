// Package config handles configuration loading for crewkit.
// It supports XDG config paths, project-level overrides, environment
// variables, and the YAML crew registries.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// ProjectConfigName is the project-level override file searched upward from
// the working directory.
const ProjectConfigName = ".crew.yaml"

// Config holds all application configuration for crewkit.
type Config struct {
	LLM     LLMConfig     `mapstructure:"llm"`
	Keys    KeysConfig    `mapstructure:"keys"`
	Limits  LimitsConfig  `mapstructure:"limits"`
	Logging LoggingConfig `mapstructure:"logging"`
	History HistoryConfig `mapstructure:"history"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	TUI     TUIConfig     `mapstructure:"tui"`
}

// LLMConfig holds completion backend settings.
type LLMConfig struct {
	// DefaultModel is the backend reference used when an agent names none.
	DefaultModel string `mapstructure:"default_model"`
	// Temperature is the default sampling temperature.
	Temperature float64 `mapstructure:"temperature"`
	// MaxTokens caps each completion.
	MaxTokens int `mapstructure:"max_tokens"`
	// AnthropicBaseURL overrides the Anthropic endpoint.
	AnthropicBaseURL string `mapstructure:"anthropic_base_url"`
	// AWSRegion is the region for bedrock/ references.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the optional shared config profile for Bedrock.
	AWSProfile string `mapstructure:"aws_profile"`
	// OllamaHost is the Ollama server for ollama/ references.
	OllamaHost string `mapstructure:"ollama_host"`
}

// KeysConfig holds provider credentials. Values may reference ${VAR}.
type KeysConfig struct {
	Anthropic string `mapstructure:"anthropic"`
	Gemini    string `mapstructure:"gemini"`
	SerpAPI   string `mapstructure:"serpapi"`
}

// LimitsConfig holds engine resource limits.
type LimitsConfig struct {
	// MaxIterations is the default reasoning budget per agent.
	MaxIterations int `mapstructure:"max_iterations"`
	// MaxRPM is the default per-agent call limit per minute (0 = none).
	MaxRPM int `mapstructure:"max_rpm"`
	// RateLimitMaxWait bounds how long a call waits for a rate token.
	RateLimitMaxWait time.Duration `mapstructure:"rate_limit_max_wait"`
	// ToolTimeout bounds a single tool invocation.
	ToolTimeout time.Duration `mapstructure:"tool_timeout"`
	// OrchestrationIterations bounds manager rounds in hierarchical runs.
	OrchestrationIterations int `mapstructure:"orchestration_iterations"`
}

// LoggingConfig holds logger settings.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	File   string `mapstructure:"file"`
}

// HistoryConfig controls the run-history ledger.
type HistoryConfig struct {
	Enabled bool `mapstructure:"enabled"`
	// Path is the SQLite file. Empty uses the XDG data directory.
	Path string `mapstructure:"path"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address, e.g. ":9090". Empty disables it.
	Addr string `mapstructure:"addr"`
}

// TUIConfig holds progress display settings.
type TUIConfig struct {
	RefreshRate time.Duration `mapstructure:"refresh_rate"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, GEMINI_API_KEY, SERPAPI_API_KEY, OLLAMA_HOST)
// 2. Project config (.crew.yaml in current directory or parent)
// 3. User config (~/.config/crewkit/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(getUserConfigDir())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	if projectConfig := findProjectConfig(); projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	bindEnv(v)
	return unmarshal(v)
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	bindEnv(v)
	return unmarshal(v)
}

func bindEnv(v *viper.Viper) {
	v.AutomaticEnv()
	v.BindEnv("keys.anthropic", "ANTHROPIC_API_KEY")
	v.BindEnv("keys.gemini", "GEMINI_API_KEY")
	v.BindEnv("keys.serpapi", "SERPAPI_API_KEY")
	v.BindEnv("llm.ollama_host", "OLLAMA_HOST")
	v.BindEnv("llm.aws_region", "AWS_REGION")
	v.BindEnv("logging.level", "CREWKIT_LOG_LEVEL")
}

func unmarshal(v *viper.Viper) (*Config, error) {
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Keys.Anthropic = os.ExpandEnv(cfg.Keys.Anthropic)
	cfg.Keys.Gemini = os.ExpandEnv(cfg.Keys.Gemini)
	cfg.Keys.SerpAPI = os.ExpandEnv(cfg.Keys.SerpAPI)
	cfg.Logging.File = os.ExpandEnv(cfg.Logging.File)
	cfg.History.Path = os.ExpandEnv(cfg.History.Path)

	return cfg, nil
}

// Save writes the current configuration to the user config file.
// Credentials are never written.
func Save(cfg *Config) error {
	userConfigDir := getUserConfigDir()
	if err := os.MkdirAll(userConfigDir, 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(filepath.Join(userConfigDir, "config.yaml"))

	v.Set("llm.default_model", cfg.LLM.DefaultModel)
	v.Set("llm.temperature", cfg.LLM.Temperature)
	v.Set("llm.max_tokens", cfg.LLM.MaxTokens)
	v.Set("llm.ollama_host", cfg.LLM.OllamaHost)
	v.Set("limits.max_iterations", cfg.Limits.MaxIterations)
	v.Set("limits.max_rpm", cfg.Limits.MaxRPM)
	v.Set("limits.rate_limit_max_wait", cfg.Limits.RateLimitMaxWait.String())
	v.Set("limits.tool_timeout", cfg.Limits.ToolTimeout.String())
	v.Set("limits.orchestration_iterations", cfg.Limits.OrchestrationIterations)
	v.Set("logging.level", cfg.Logging.Level)
	v.Set("logging.format", cfg.Logging.Format)
	v.Set("history.enabled", cfg.History.Enabled)
	v.Set("tui.refresh_rate", cfg.TUI.RefreshRate.String())

	return v.WriteConfig()
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values from Default.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("llm.default_model", d.LLM.DefaultModel)
	v.SetDefault("llm.temperature", d.LLM.Temperature)
	v.SetDefault("llm.max_tokens", d.LLM.MaxTokens)
	v.SetDefault("llm.anthropic_base_url", "")
	v.SetDefault("llm.aws_region", "")
	v.SetDefault("llm.aws_profile", "")
	v.SetDefault("llm.ollama_host", "")

	v.SetDefault("keys.anthropic", "")
	v.SetDefault("keys.gemini", "")
	v.SetDefault("keys.serpapi", "")

	v.SetDefault("limits.max_iterations", d.Limits.MaxIterations)
	v.SetDefault("limits.max_rpm", d.Limits.MaxRPM)
	v.SetDefault("limits.rate_limit_max_wait", d.Limits.RateLimitMaxWait.String())
	v.SetDefault("limits.tool_timeout", d.Limits.ToolTimeout.String())
	v.SetDefault("limits.orchestration_iterations", d.Limits.OrchestrationIterations)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.file", "")

	v.SetDefault("history.enabled", d.History.Enabled)
	v.SetDefault("history.path", "")

	v.SetDefault("metrics.addr", "")

	v.SetDefault("tui.refresh_rate", d.TUI.RefreshRate.String())
}

// getUserConfigDir returns the XDG config directory for crewkit.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "crewkit")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "crewkit")
	}
	return filepath.Join(home, ".config", "crewkit")
}

// findProjectConfig searches for .crew.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ProjectConfigName)
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}
		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}
	return ""
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		LLM: LLMConfig{
			DefaultModel: "gemini/gemini-2.0-flash",
			Temperature:  0.7,
			MaxTokens:    4096,
		},
		Limits: LimitsConfig{
			MaxIterations:           25,
			RateLimitMaxWait:        2 * time.Minute,
			ToolTimeout:             60 * time.Second,
			OrchestrationIterations: 50,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		History: HistoryConfig{
			Enabled: true,
		},
		TUI: TUIConfig{
			RefreshRate: 100 * time.Millisecond,
		},
	}
}
