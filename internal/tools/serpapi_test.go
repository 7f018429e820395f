package tools

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSerpAPI_Invoke(t *testing.T) {
	var gotQuery, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query().Get("q")
		gotKey = r.URL.Query().Get("api_key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"organic_results": [
			{"position": 1, "title": "Go 1.23 released", "link": "https://go.dev/blog", "snippet": "Iterators arrive."},
			{"position": 2, "title": "Second", "link": "https://example.com", "snippet": "More."}
		]}`))
	}))
	defer srv.Close()

	s := NewSerpAPI("key-123")
	s.BaseURL = srv.URL
	out, err := s.Invoke(context.Background(), `{"search_query": "golang news"}`)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if gotQuery != "golang news" || gotKey != "key-123" {
		t.Errorf("query=%q key=%q", gotQuery, gotKey)
	}
	for _, want := range []string{"Title: Go 1.23 released", "Link: https://go.dev/blog", "Snippet: Iterators arrive.", "Title: Second"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSerpAPI_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		w.Write([]byte(`{"error": "Invalid API key."}`))
	}))
	defer srv.Close()

	tests := []struct {
		name  string
		key   string
		input string
		want  string
	}{
		{"missing key", "", "q", "SERPAPI_API_KEY"},
		{"empty query", "k", `{"search_query": ""}`, "search_query is required"},
		{"api error", "k", "q", "Invalid API key."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewSerpAPI(tt.key)
			s.BaseURL = srv.URL
			_, err := s.Invoke(context.Background(), tt.input)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want containing %q", err, tt.want)
			}
		})
	}

	if _, err := NewSerpAPI("").Invoke(context.Background(), "q"); !errors.Is(err, ErrNoSerpAPIKey) {
		t.Errorf("expected ErrNoSerpAPIKey, got %v", err)
	}
}

func TestSerpAPI_NoResults(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"organic_results": []}`))
	}))
	defer srv.Close()

	s := NewSerpAPI("k")
	s.BaseURL = srv.URL
	out, err := s.Invoke(context.Background(), "nothing")
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if !strings.Contains(out, "No results") {
		t.Errorf("out = %q", out)
	}
}
