package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrNoAPIKey is returned when no API key is configured for a provider.
var ErrNoAPIKey = errors.New("no API key configured")

// Provider names a credentialed service.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderSerpAPI   Provider = "serpapi"
)

// envVars maps each provider to its environment variable.
var envVars = map[Provider]string{
	ProviderAnthropic: "ANTHROPIC_API_KEY",
	ProviderGemini:    "GEMINI_API_KEY",
	ProviderSerpAPI:   "SERPAPI_API_KEY",
}

// EnvVar returns the environment variable consulted for p.
func (p Provider) EnvVar() string {
	return envVars[p]
}

// configKey returns the config-file value for p.
func configKey(cfg *Config, p Provider) string {
	if cfg == nil {
		return ""
	}
	switch p {
	case ProviderAnthropic:
		return cfg.Keys.Anthropic
	case ProviderGemini:
		return cfg.Keys.Gemini
	case ProviderSerpAPI:
		return cfg.Keys.SerpAPI
	default:
		return ""
	}
}

// GetAPIKey returns the key for p.
// It checks in order: environment variable, config file.
func GetAPIKey(cfg *Config, p Provider) (string, error) {
	if env := p.EnvVar(); env != "" {
		if key := os.Getenv(env); key != "" {
			return key, nil
		}
	}

	if key := os.ExpandEnv(configKey(cfg, p)); key != "" && !strings.HasPrefix(key, "${") {
		return key, nil
	}

	return "", fmt.Errorf("%s: %w", p, ErrNoAPIKey)
}

// MaskAPIKey returns a masked version of the API key for display.
// Shows the first 7 characters and last 4 characters.
func MaskAPIKey(key string) string {
	if key == "" {
		return "(not set)"
	}
	if len(key) <= 15 {
		return "***"
	}
	return key[:7] + "..." + key[len(key)-4:]
}

// KeySource represents where an API key was loaded from.
type KeySource string

const (
	KeySourceEnv    KeySource = "environment"
	KeySourceConfig KeySource = "config_file"
	KeySourceNone   KeySource = "none"
)

// GetAPIKeySource returns where the key for p was sourced from.
func GetAPIKeySource(cfg *Config, p Provider) KeySource {
	if env := p.EnvVar(); env != "" && os.Getenv(env) != "" {
		return KeySourceEnv
	}
	if key := os.ExpandEnv(configKey(cfg, p)); key != "" && !strings.HasPrefix(key, "${") {
		return KeySourceConfig
	}
	return KeySourceNone
}
