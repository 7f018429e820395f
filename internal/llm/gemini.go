package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// ErrNoGeminiKey is returned when no Gemini API key is available.
var ErrNoGeminiKey = errors.New("GEMINI_API_KEY environment variable is not set")

// Gemini is a Backend backed by the Google Generative AI API.
type Gemini struct {
	client  *genai.Client
	model   string
	tracker *TokenTracker
}

// NewGemini creates a Gemini backend for the given model.
func NewGemini(ctx context.Context, model, apiKey string) (*Gemini, error) {
	if apiKey == "" {
		return nil, ErrNoGeminiKey
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, backendError("gemini/"+model, err)
	}
	return &Gemini{client: client, model: model, tracker: NewTokenTracker()}, nil
}

// Complete generates a single-turn response. A fresh model handle is used per
// call so concurrent callers can carry different options.
func (g *Gemini) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	m := g.client.GenerativeModel(g.model)
	m.SetMaxOutputTokens(int32(opts.maxTokens()))
	if opts.Temperature != nil {
		m.SetTemperature(float32(*opts.Temperature))
	}
	if len(opts.Stop) > 0 {
		m.StopSequences = opts.Stop
	}
	if opts.System != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(opts.System)}}
	}

	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", backendError(g.Name(), err)
	}

	if resp.UsageMetadata != nil {
		g.tracker.Add(int64(resp.UsageMetadata.PromptTokenCount), int64(resp.UsageMetadata.CandidatesTokenCount))
	} else {
		g.tracker.Add(0, 0)
	}

	var out strings.Builder
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if txt, ok := part.(genai.Text); ok {
				out.WriteString(string(txt))
			}
		}
		break
	}
	return out.String(), nil
}

// Name returns the backend reference.
func (g *Gemini) Name() string { return "gemini/" + g.model }

// Tracker returns the token tracker for this backend.
func (g *Gemini) Tracker() *TokenTracker { return g.tracker }

// Close releases the underlying client.
func (g *Gemini) Close() error { return g.client.Close() }
