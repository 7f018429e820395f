package orchestrator

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/ShayCichocki/crewkit/internal/llm"
)

func TestMetrics_RecordsRun(t *testing.T) {
	m := NewMetrics()
	resolver := newResolver(map[string]llm.Backend{
		"mock/research": llm.NewMockBackend("Final Answer: r"),
		"mock/writer":   llm.NewMockBackend("Final Answer: w"),
	})
	o := mustNew(t, blogCrew(), resolver, nil, WithMetrics(m))

	result := o.Kickoff(context.Background(), map[string]string{"topic": "X"})
	if !result.Succeeded() {
		t.Fatalf("run failed: %s", result.Reason)
	}

	if got := testutil.ToFloat64(m.tasks.WithLabelValues("research_agent", "succeeded")); got != 1 {
		t.Errorf("research tasks = %v", got)
	}
	if got := testutil.ToFloat64(m.llmCalls.WithLabelValues("writer_agent", "ok")); got != 1 {
		t.Errorf("writer llm calls = %v", got)
	}
	if got := testutil.ToFloat64(m.runs.WithLabelValues("completed")); got != 1 {
		t.Errorf("completed runs = %v", got)
	}
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.toolCall("serpapi_search", nil)
	m.delegation("research_agent", "writer_agent")

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	for _, want := range []string{
		`crewkit_tool_calls_total{outcome="ok",tool="serpapi_search"} 1`,
		`crewkit_delegations_total{from="research_agent",to="writer_agent"} 1`,
	} {
		if !strings.Contains(string(body), want) {
			t.Errorf("metrics output missing %s", want)
		}
	}
}

func TestMetrics_NilIsSafe(t *testing.T) {
	var m *Metrics
	m.taskFinished("a", "failed", 0)
	m.llmCall("a", 0, nil)
	m.toolCall("t", nil)
	m.delegation("a", "b")
	m.rateLimitWait("a", 0)
	m.runFinished("completed")
}
