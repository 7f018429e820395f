package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/crewkit/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Manage configuration",
	Long: `View or modify crewkit configuration.

Without arguments, displays current configuration.
With one argument (key), displays the value for that key.
With two arguments (key value), sets the configuration value.

Configuration is stored at ~/.config/crewkit/config.yaml
Project-specific overrides can be placed in .crew.yaml
API keys are read from ANTHROPIC_API_KEY, GEMINI_API_KEY and SERPAPI_API_KEY.`,
	Args: cobra.MaximumNArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}

		switch len(args) {
		case 0:
			displayAllConfig(cfg)
		case 1:
			displayConfigKey(cfg, args[0])
		default:
			setConfigKey(cfg, args[0], args[1])
		}
	},
}

// configKeys lists the keys shown by `crew config`, in display order.
var configKeys = []string{
	"llm.default_model",
	"llm.temperature",
	"llm.max_tokens",
	"llm.ollama_host",
	"keys.anthropic",
	"keys.gemini",
	"keys.serpapi",
	"limits.max_iterations",
	"limits.max_rpm",
	"limits.rate_limit_max_wait",
	"limits.tool_timeout",
	"limits.orchestration_iterations",
	"logging.level",
	"logging.format",
	"history.enabled",
	"tui.refresh_rate",
}

// displayAllConfig prints all configuration values.
func displayAllConfig(cfg *config.Config) {
	if configFile != "" {
		fmt.Printf("# config file: %s\n", configFile)
	} else {
		fmt.Printf("# user config: %s\n", config.GetUserConfigPath())
		if p := config.GetProjectConfigPath(); p != "" {
			fmt.Printf("# project config: %s\n", p)
		}
	}
	for _, key := range configKeys {
		value, _ := getConfigValue(cfg, key)
		fmt.Printf("%s: %s\n", key, value)
	}
}

// displayConfigKey prints a single configuration value.
func displayConfigKey(cfg *config.Config, key string) {
	value, err := getConfigValue(cfg, key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(value)
}

// setConfigKey sets a configuration value and saves the config.
func setConfigKey(cfg *config.Config, key, value string) {
	if err := setConfigValue(cfg, key, value); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := config.Save(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Set %s = %s\n", key, value)
}

func keyStatus(cfg *config.Config, p config.Provider) string {
	key, err := config.GetAPIKey(cfg, p)
	if err != nil {
		return "(not set)"
	}
	return fmt.Sprintf("%s (%s)", config.MaskAPIKey(key), config.GetAPIKeySource(cfg, p))
}

// getConfigValue retrieves a configuration value by dot-notation key.
func getConfigValue(cfg *config.Config, key string) (string, error) {
	switch strings.ToLower(key) {
	case "llm.default_model":
		return cfg.LLM.DefaultModel, nil
	case "llm.temperature":
		return strconv.FormatFloat(cfg.LLM.Temperature, 'g', -1, 64), nil
	case "llm.max_tokens":
		return strconv.Itoa(cfg.LLM.MaxTokens), nil
	case "llm.ollama_host":
		return cfg.LLM.OllamaHost, nil
	case "keys.anthropic":
		return keyStatus(cfg, config.ProviderAnthropic), nil
	case "keys.gemini":
		return keyStatus(cfg, config.ProviderGemini), nil
	case "keys.serpapi":
		return keyStatus(cfg, config.ProviderSerpAPI), nil
	case "limits.max_iterations":
		return strconv.Itoa(cfg.Limits.MaxIterations), nil
	case "limits.max_rpm":
		return strconv.Itoa(cfg.Limits.MaxRPM), nil
	case "limits.rate_limit_max_wait":
		return cfg.Limits.RateLimitMaxWait.String(), nil
	case "limits.tool_timeout":
		return cfg.Limits.ToolTimeout.String(), nil
	case "limits.orchestration_iterations":
		return strconv.Itoa(cfg.Limits.OrchestrationIterations), nil
	case "logging.level":
		return cfg.Logging.Level, nil
	case "logging.format":
		return cfg.Logging.Format, nil
	case "history.enabled":
		return strconv.FormatBool(cfg.History.Enabled), nil
	case "tui.refresh_rate":
		return cfg.TUI.RefreshRate.String(), nil
	default:
		return "", fmt.Errorf("unknown configuration key: %s", key)
	}
}

// setConfigValue sets a configuration value by dot-notation key.
func setConfigValue(cfg *config.Config, key, value string) error {
	switch strings.ToLower(key) {
	case "llm.default_model":
		cfg.LLM.DefaultModel = value
	case "llm.temperature":
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return fmt.Errorf("invalid value for llm.temperature: %w", err)
		}
		cfg.LLM.Temperature = f
	case "llm.max_tokens":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for llm.max_tokens: %w", err)
		}
		cfg.LLM.MaxTokens = n
	case "llm.ollama_host":
		cfg.LLM.OllamaHost = value
	case "keys.anthropic", "keys.gemini", "keys.serpapi":
		return fmt.Errorf("%s is not stored by crew config; set the environment variable instead", key)
	case "limits.max_iterations":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for limits.max_iterations: %w", err)
		}
		if n < 1 {
			return fmt.Errorf("limits.max_iterations must be at least 1")
		}
		cfg.Limits.MaxIterations = n
	case "limits.max_rpm":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for limits.max_rpm: %w", err)
		}
		cfg.Limits.MaxRPM = n
	case "limits.rate_limit_max_wait":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for limits.rate_limit_max_wait: %w", err)
		}
		cfg.Limits.RateLimitMaxWait = d
	case "limits.tool_timeout":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for limits.tool_timeout: %w", err)
		}
		cfg.Limits.ToolTimeout = d
	case "limits.orchestration_iterations":
		n, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("invalid value for limits.orchestration_iterations: %w", err)
		}
		cfg.Limits.OrchestrationIterations = n
	case "logging.level":
		cfg.Logging.Level = value
	case "logging.format":
		cfg.Logging.Format = value
	case "history.enabled":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("invalid boolean for history.enabled: %w", err)
		}
		cfg.History.Enabled = b
	case "tui.refresh_rate":
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration for tui.refresh_rate: %w", err)
		}
		cfg.TUI.RefreshRate = d
	default:
		return fmt.Errorf("unknown configuration key: %s", key)
	}
	return nil
}
