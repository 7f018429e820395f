package llm

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/ShayCichocki/crewkit/internal/crewerr"
)

// FactoryConfig carries the credentials and endpoints backends need.
type FactoryConfig struct {
	// DefaultRef is used when an agent names no backend.
	DefaultRef      string
	AnthropicAPIKey string
	AnthropicURL    string
	GeminiAPIKey    string
	OllamaHost      string
	AWSRegion       string
	AWSProfile      string
}

// Factory resolves backend references like "gemini/gemini-2.0-flash" and
// caches one backend per reference.
type Factory struct {
	cfg      FactoryConfig
	mu       sync.Mutex
	backends map[string]Backend
}

// NewFactory creates a backend factory.
func NewFactory(cfg FactoryConfig) *Factory {
	return &Factory{cfg: cfg, backends: make(map[string]Backend)}
}

// Register installs a backend under ref, replacing any cached one.
func (f *Factory) Register(ref string, b Backend) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.backends[ref] = b
}

// ParseRef splits "provider/model". A bare model name is treated as an
// Anthropic model.
func ParseRef(ref string) (provider, model string, err error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return "", "", fmt.Errorf("empty backend reference")
	}
	provider, model, found := strings.Cut(ref, "/")
	if !found {
		return "anthropic", ref, nil
	}
	if provider == "" || model == "" {
		return "", "", fmt.Errorf("malformed backend reference %q", ref)
	}
	return strings.ToLower(provider), model, nil
}

// Get returns the backend for ref, creating it on first use. An empty ref
// resolves to the default.
func (f *Factory) Get(ctx context.Context, ref string) (Backend, error) {
	if ref == "" {
		ref = f.cfg.DefaultRef
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if b, ok := f.backends[ref]; ok {
		return b, nil
	}

	provider, model, err := ParseRef(ref)
	if err != nil {
		return nil, crewerr.New(crewerr.KindConfiguration, "llm", err)
	}

	var b Backend
	switch provider {
	case "anthropic", "bedrock":
		b, err = NewAnthropic(ctx, AnthropicConfig{
			Model:         anthropic.Model(model),
			APIKey:        f.cfg.AnthropicAPIKey,
			BaseURL:       f.cfg.AnthropicURL,
			UseAWSBedrock: provider == "bedrock",
			AWSRegion:     f.cfg.AWSRegion,
			AWSProfile:    f.cfg.AWSProfile,
		})
	case "gemini", "google":
		b, err = NewGemini(ctx, model, f.cfg.GeminiAPIKey)
	case "ollama":
		b, err = NewOllama(model, f.cfg.OllamaHost)
	default:
		return nil, crewerr.Configf("llm", "unknown backend provider %q in %q", provider, ref)
	}
	if err != nil {
		return nil, crewerr.New(crewerr.KindConfiguration, "llm", fmt.Errorf("create backend %s: %w", ref, err))
	}

	f.backends[ref] = b
	return b, nil
}

// Backends returns every backend created so far.
func (f *Factory) Backends() []Backend {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Backend, 0, len(f.backends))
	for _, b := range f.backends {
		out = append(out, b)
	}
	return out
}

// Close releases backends that hold resources.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var firstErr error
	for _, b := range f.backends {
		if c, ok := b.(interface{ Close() error }); ok {
			if err := c.Close(); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
