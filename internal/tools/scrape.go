package tools

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
)

// ScrapeName is the registry name of the website scraper.
const ScrapeName = "scrape_website"

const (
	maxFetchBytes = 4 << 20
	// DefaultScrapeChars caps the markdown handed back to the agent.
	DefaultScrapeChars = 20000
)

// Scraper fetches a page and returns it as markdown.
type Scraper struct {
	Client   *http.Client
	MaxChars int
}

// NewScraper creates a website scraper.
func NewScraper() *Scraper {
	return &Scraper{Client: http.DefaultClient, MaxChars: DefaultScrapeChars}
}

func (s *Scraper) Name() string { return ScrapeName }

func (s *Scraper) Description() string {
	return `Read a website's content. Input: {"website_url": "<url>"}. Returns the page as markdown.`
}

func (s *Scraper) Invoke(ctx context.Context, input string) (string, error) {
	raw := strings.TrimSpace(argument(input, "website_url", "url"))
	if raw == "" {
		return "", errors.New("website_url is required")
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("invalid url %q", raw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "crewkit/scrape_website")
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch %s: %w", u, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("fetch %s: status %d", u, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return "", fmt.Errorf("read %s: %w", u, err)
	}

	content := string(body)
	if ct := resp.Header.Get("Content-Type"); ct == "" || strings.Contains(ct, "html") {
		md, err := htmltomarkdown.ConvertString(content)
		if err != nil {
			return "", fmt.Errorf("convert %s: %w", u, err)
		}
		content = md
	}
	content = strings.TrimSpace(content)

	if limit := s.MaxChars; limit > 0 && len(content) > limit {
		content = strings.ToValidUTF8(content[:limit], "") + "\n\n[content truncated]"
	}
	return content, nil
}
