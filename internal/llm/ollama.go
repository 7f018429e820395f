package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	olla "github.com/ollama/ollama/api"
)

// DefaultOllamaHost is used when no host is configured.
const DefaultOllamaHost = "http://localhost:11434"

// Ollama is a Backend backed by a local Ollama server.
type Ollama struct {
	client  *olla.Client
	model   string
	tracker *TokenTracker
}

// NewOllama creates an Ollama backend for the given model and server.
func NewOllama(model, baseURL string) (*Ollama, error) {
	if baseURL == "" {
		baseURL = DefaultOllamaHost
	}
	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ollama base URL: %w", err)
	}

	hc := &http.Client{Timeout: 120 * time.Second}
	return &Ollama{
		client:  olla.NewClient(parsedURL, hc),
		model:   model,
		tracker: NewTokenTracker(),
	}, nil
}

// Complete runs a non-streaming generate request.
func (o *Ollama) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	stream := false
	req := &olla.GenerateRequest{
		Model:  o.model,
		Prompt: prompt,
		System: opts.System,
		Stream: &stream,
		Options: map[string]any{
			"num_predict": opts.maxTokens(),
		},
	}
	if opts.Temperature != nil {
		req.Options["temperature"] = *opts.Temperature
	}
	if len(opts.Stop) > 0 {
		req.Options["stop"] = opts.Stop
	}

	var result olla.GenerateResponse
	err := o.client.Generate(ctx, req, func(resp olla.GenerateResponse) error {
		result = resp
		return nil
	})
	if err != nil {
		return "", backendError(o.Name(), err)
	}

	o.tracker.Add(int64(result.PromptEvalCount), int64(result.EvalCount))
	return result.Response, nil
}

// Name returns the backend reference.
func (o *Ollama) Name() string { return "ollama/" + o.model }

// Tracker returns the token tracker for this backend.
func (o *Ollama) Tracker() *TokenTracker { return o.tracker }
