package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// SerpAPIName is the registry name of the web search tool.
const SerpAPIName = "serpapi_search"

// DefaultSerpAPIURL is the SerpApi JSON search endpoint.
const DefaultSerpAPIURL = "https://serpapi.com/search.json"

// ErrNoSerpAPIKey is returned when a search runs without a key.
var ErrNoSerpAPIKey = errors.New("SERPAPI_API_KEY not set")

// SerpAPI searches the web through SerpApi's Google engine.
type SerpAPI struct {
	APIKey  string
	BaseURL string
	// Results caps the number of organic results returned.
	Results int
	Client  *http.Client
}

// NewSerpAPI creates a search tool.
func NewSerpAPI(apiKey string) *SerpAPI {
	return &SerpAPI{APIKey: apiKey, BaseURL: DefaultSerpAPIURL, Results: 10, Client: http.DefaultClient}
}

func (s *SerpAPI) Name() string { return SerpAPIName }

func (s *SerpAPI) Description() string {
	return `Search the internet. Input: {"search_query": "<query>"}. Returns titles, links and snippets.`
}

type serpResponse struct {
	Error          string `json:"error"`
	OrganicResults []struct {
		Position int    `json:"position"`
		Title    string `json:"title"`
		Link     string `json:"link"`
		Snippet  string `json:"snippet"`
	} `json:"organic_results"`
}

func (s *SerpAPI) Invoke(ctx context.Context, input string) (string, error) {
	if s.APIKey == "" {
		return "", ErrNoSerpAPIKey
	}
	query := strings.TrimSpace(argument(input, "search_query", "query", "q"))
	if query == "" {
		return "", errors.New("search_query is required")
	}

	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("api_key", s.APIKey)
	if s.Results > 0 {
		params.Set("num", strconv.Itoa(s.Results))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("search request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var parsed serpResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return "", fmt.Errorf("decode response (status %d): %w", resp.StatusCode, err)
	}
	if parsed.Error != "" {
		return "", fmt.Errorf("serpapi: %s", parsed.Error)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("serpapi: status %d", resp.StatusCode)
	}
	if len(parsed.OrganicResults) == 0 {
		return fmt.Sprintf("No results found for %q.", query), nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Search results for %q:\n", query)
	for i, r := range parsed.OrganicResults {
		if s.Results > 0 && i >= s.Results {
			break
		}
		fmt.Fprintf(&b, "\nTitle: %s\nLink: %s\nSnippet: %s\n---", r.Title, r.Link, r.Snippet)
	}
	return b.String(), nil
}
