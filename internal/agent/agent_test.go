package agent

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ShayCichocki/crewkit/internal/crewerr"
	"github.com/ShayCichocki/crewkit/internal/delegation"
	"github.com/ShayCichocki/crewkit/internal/llm"
	"github.com/ShayCichocki/crewkit/internal/ratelimit"
	"github.com/ShayCichocki/crewkit/internal/tools"
	"github.com/ShayCichocki/crewkit/pkg/models"
)

func researcher() *models.Agent {
	return &models.Agent{
		ID:            "research_agent",
		Role:          "Senior Researcher",
		Goal:          "Uncover developments in AI",
		Backstory:     "A curious analyst.",
		Tools:         []string{"search"},
		MaxIterations: 5,
	}
}

func searchTool(calls *int32) *tools.Func {
	return &tools.Func{ToolName: "search", Desc: "search the web", Fn: func(_ context.Context, in string) (string, error) {
		atomic.AddInt32(calls, 1)
		return "result for " + in, nil
	}}
}

func newRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	if cfg.Agent == nil {
		cfg.Agent = researcher()
	}
	rt, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return rt
}

const toolReply = "Thought: I should search\nAction: search\nAction Input: {\"search_query\": \"AI\"}"

func TestExecute_FinalAnswer(t *testing.T) {
	backend := llm.NewMockBackend("Thought: I now can give a great answer\nFinal Answer: AI is moving fast.")
	var system string
	inner := backend
	mock := &llm.MockBackend{CompleteFunc: func(ctx context.Context, prompt string, opts llm.Options) (string, error) {
		system = opts.System
		return inner.Complete(ctx, prompt, opts)
	}}
	rt := newRuntime(t, Config{Backend: mock})

	out, err := rt.Execute(context.Background(), Assignment{
		TaskID:         "research_task",
		Instruction:    "Research AI",
		ExpectedOutput: "10 bullet points",
		Context:        "Plan: be thorough",
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "AI is moving fast." {
		t.Errorf("out = %q", out)
	}

	prompt := inner.LastPrompt()
	for _, want := range []string{"Current Task: Research AI", "10 bullet points", "Plan: be thorough", "Begin!"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	for _, want := range []string{"You are Senior Researcher", "Uncover developments in AI", "search: search the web"} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
}

func TestExecute_ToolThenFinal(t *testing.T) {
	var calls int32
	backend := llm.NewMockBackend(toolReply, "Thought: I now know the final answer\nFinal Answer: done")
	rt := newRuntime(t, Config{Backend: backend, Tools: []tools.Adapter{searchTool(&calls)}})

	out, err := rt.Execute(context.Background(), Assignment{TaskID: "t", Instruction: "Research AI"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out != "done" || calls != 1 {
		t.Errorf("out=%q tool calls=%d", out, calls)
	}
	second := backend.Prompts()[1]
	if !strings.Contains(second, `Observation: result for {"search_query": "AI"}`) {
		t.Errorf("second prompt lacks the observation:\n%s", second)
	}
}

func TestExecute_IterationLimit(t *testing.T) {
	var calls int32
	a := researcher()
	a.MaxIterations = 1
	backend := llm.NewMockBackend(toolReply)
	rt := newRuntime(t, Config{Agent: a, Backend: backend, Tools: []tools.Adapter{searchTool(&calls)}})

	_, err := rt.Execute(context.Background(), Assignment{TaskID: "t", Instruction: "Research AI"})
	if crewerr.KindOf(err) != crewerr.KindAgent {
		t.Fatalf("expected AgentError, got %v", err)
	}
	if !errors.Is(err, crewerr.ErrIterationLimitExceeded) {
		t.Errorf("expected ErrIterationLimitExceeded, got %v", err)
	}
	if backend.Calls() != 1 || calls != 1 {
		t.Errorf("backend calls=%d tool calls=%d", backend.Calls(), calls)
	}
}

func TestExecute_LastIterationAsksForFinalAnswer(t *testing.T) {
	var calls int32
	a := researcher()
	a.MaxIterations = 2
	backend := llm.NewMockBackend(toolReply, "Final Answer: done")
	rt := newRuntime(t, Config{Agent: a, Backend: backend, Tools: []tools.Adapter{searchTool(&calls)}})

	if _, err := rt.Execute(context.Background(), Assignment{TaskID: "t", Instruction: "Research AI"}); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	prompts := backend.Prompts()
	if strings.Contains(prompts[0], forceFinalPrompt) {
		t.Error("first iteration should not force a final answer")
	}
	if !strings.Contains(prompts[1], forceFinalPrompt) {
		t.Errorf("last iteration should force a final answer:\n%s", prompts[1])
	}
}

func TestExecute_Observations(t *testing.T) {
	failing := &tools.Func{ToolName: "search", Desc: "search", Fn: func(context.Context, string) (string, error) {
		return "", errors.New("quota exceeded")
	}}

	tests := []struct {
		name    string
		first   string
		tools   []tools.Adapter
		wantObs string
	}{
		{"unknown tool", "Action: teleport\nAction Input: {}", []tools.Adapter{failing}, "Action 'teleport' doesn't exist"},
		{"tool failure", toolReply, []tools.Adapter{failing}, "quota exceeded"},
		{"bad format", "I think the answer is 42", nil, "Invalid Format"},
		{"delegation not allowed", "Action: Delegate work to coworker\nAction Input: {\"coworker\": \"x\", \"task\": \"y\"}", nil, "not available to you"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := llm.NewMockBackend(tt.first, "Final Answer: recovered")
			rt := newRuntime(t, Config{Backend: backend, Tools: tt.tools})
			out, err := rt.Execute(context.Background(), Assignment{TaskID: "t", Instruction: "x"})
			if err != nil {
				t.Fatalf("Execute: %v", err)
			}
			if out != "recovered" {
				t.Errorf("out = %q", out)
			}
			if !strings.Contains(backend.LastPrompt(), tt.wantObs) {
				t.Errorf("last prompt missing %q:\n%s", tt.wantObs, backend.LastPrompt())
			}
		})
	}
}

func TestExecute_BackendErrors(t *testing.T) {
	t.Run("retried within budget", func(t *testing.T) {
		var n int32
		backend := &llm.MockBackend{CompleteFunc: func(context.Context, string, llm.Options) (string, error) {
			if atomic.AddInt32(&n, 1) == 1 {
				return "", crewerr.New(crewerr.KindBackend, "mock", crewerr.ErrBackend)
			}
			return "Final Answer: ok", nil
		}}
		rt := newRuntime(t, Config{Backend: backend})
		out, err := rt.Execute(context.Background(), Assignment{TaskID: "t", Instruction: "x"})
		if err != nil || out != "ok" {
			t.Fatalf("out=%q err=%v", out, err)
		}
	})

	t.Run("exhausted", func(t *testing.T) {
		a := researcher()
		a.MaxIterations = 3
		backend := llm.NewFailingBackend(errors.New("connection refused"))
		rt := newRuntime(t, Config{Agent: a, Backend: backend})
		_, err := rt.Execute(context.Background(), Assignment{TaskID: "t", Instruction: "x"})
		if crewerr.KindOf(err) != crewerr.KindAgent || !errors.Is(err, crewerr.ErrBackend) {
			t.Fatalf("expected AgentError wrapping ErrBackend, got %v", err)
		}
		if backend.Calls() != 3 {
			t.Errorf("calls = %d, want 3", backend.Calls())
		}
	})
}

func TestExecute_RateLimitTimeout(t *testing.T) {
	var calls int32
	limiter := ratelimit.NewWindow(1, time.Millisecond)
	backend := llm.NewMockBackend(toolReply, "Final Answer: never")
	rt := newRuntime(t, Config{Backend: backend, Tools: []tools.Adapter{searchTool(&calls)}, Limiter: limiter})

	_, err := rt.Execute(context.Background(), Assignment{TaskID: "t", Instruction: "x"})
	if crewerr.KindOf(err) != crewerr.KindRateLimitTimeout {
		t.Fatalf("expected RateLimitTimeout, got %v", err)
	}
	if backend.Calls() != 1 {
		t.Errorf("backend calls = %d, want 1", backend.Calls())
	}
}

func TestExecute_CrewLimiterShared(t *testing.T) {
	crewLimiter := ratelimit.NewWindow(1, time.Millisecond)
	first := newRuntime(t, Config{Backend: llm.NewMockBackend("Final Answer: a"), CrewLimiter: crewLimiter})
	second := newRuntime(t, Config{Backend: llm.NewMockBackend("Final Answer: b"), CrewLimiter: crewLimiter})

	if _, err := first.Execute(context.Background(), Assignment{TaskID: "t1", Instruction: "x"}); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := second.Execute(context.Background(), Assignment{TaskID: "t2", Instruction: "x"}); crewerr.KindOf(err) != crewerr.KindRateLimitTimeout {
		t.Fatalf("expected RateLimitTimeout on shared crew limiter, got %v", err)
	}
}

func TestExecute_Cancellation(t *testing.T) {
	t.Run("before start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		backend := llm.NewMockBackend("Final Answer: x")
		rt := newRuntime(t, Config{Backend: backend})
		_, err := rt.Execute(ctx, Assignment{TaskID: "t", Instruction: "x"})
		if crewerr.KindOf(err) != crewerr.KindCancelled {
			t.Fatalf("expected Cancelled, got %v", err)
		}
		if backend.Calls() != 0 {
			t.Errorf("backend should not be called, got %d", backend.Calls())
		}
	})

	t.Run("in-flight tool finishes", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		finished := false
		slow := &tools.Func{ToolName: "search", Fn: func(toolCtx context.Context, _ string) (string, error) {
			cancel()
			select {
			case <-toolCtx.Done():
				return "", toolCtx.Err()
			case <-time.After(20 * time.Millisecond):
			}
			finished = true
			return "partial", nil
		}}
		backend := llm.NewMockBackend(toolReply, "Final Answer: never")
		rt := newRuntime(t, Config{Backend: backend, Tools: []tools.Adapter{slow}})

		_, err := rt.Execute(ctx, Assignment{TaskID: "t", Instruction: "x"})
		if crewerr.KindOf(err) != crewerr.KindCancelled {
			t.Fatalf("expected Cancelled, got %v", err)
		}
		if !finished {
			t.Error("tool call should have run to completion")
		}
		if backend.Calls() != 1 {
			t.Errorf("no iteration should start after cancel, calls = %d", backend.Calls())
		}
	})
}

type recordingDelegator struct {
	req   delegation.Request
	reply string
	err   error
}

func (d *recordingDelegator) Delegate(_ context.Context, req delegation.Request) (string, error) {
	d.req = req
	return d.reply, d.err
}

func TestExecute_Delegation(t *testing.T) {
	writer := &models.Agent{ID: "writer", Role: "Content Writer", Goal: "Write", AllowDelegation: true, MaxIterations: 3}
	coworkers := []*models.Agent{researcher(), writer}
	reply := "Thought: ask the researcher\nAction: Delegate work to coworker\nAction Input: {\"coworker\": \"Senior Researcher\", \"task\": \"Find sources\", \"context\": \"about AI\"}"

	t.Run("answer becomes observation", func(t *testing.T) {
		d := &recordingDelegator{reply: "three sources"}
		backend := llm.NewMockBackend(reply, "Final Answer: post")
		rt := newRuntime(t, Config{Agent: writer, Backend: backend, Coworkers: coworkers, Delegator: d})

		out, err := rt.Execute(context.Background(), Assignment{TaskID: "blog", Instruction: "Write", Depth: 1})
		if err != nil || out != "post" {
			t.Fatalf("out=%q err=%v", out, err)
		}
		got := d.req
		if got.TaskID != "blog" || got.From != "writer" || got.Coworker != "Senior Researcher" ||
			got.Instruction != "Find sources" || got.Context != "about AI" || got.Depth != 2 {
			t.Errorf("unexpected request: %+v", got)
		}
		if len(got.Candidates) != 2 {
			t.Errorf("candidates = %d, want 2", len(got.Candidates))
		}
		if !strings.Contains(backend.LastPrompt(), "Observation: three sources") {
			t.Errorf("observation missing:\n%s", backend.LastPrompt())
		}
	})

	t.Run("delegation error propagates", func(t *testing.T) {
		d := &recordingDelegator{err: crewerr.New(crewerr.KindDelegation, "delegate", crewerr.ErrDepthExceeded)}
		backend := llm.NewMockBackend(reply, "Final Answer: post")
		rt := newRuntime(t, Config{Agent: writer, Backend: backend, Coworkers: coworkers, Delegator: d})

		_, err := rt.Execute(context.Background(), Assignment{TaskID: "blog", Instruction: "Write", Depth: 3})
		if !errors.Is(err, crewerr.ErrDepthExceeded) {
			t.Fatalf("expected depth exceeded, got %v", err)
		}
	})

	t.Run("coworker actions advertised", func(t *testing.T) {
		var system string
		backend := &llm.MockBackend{CompleteFunc: func(_ context.Context, _ string, opts llm.Options) (string, error) {
			system = opts.System
			return "Final Answer: x", nil
		}}
		rt := newRuntime(t, Config{Agent: writer, Backend: backend, Coworkers: coworkers, Delegator: &recordingDelegator{}})
		if _, err := rt.Execute(context.Background(), Assignment{TaskID: "blog", Instruction: "Write"}); err != nil {
			t.Fatal(err)
		}
		if !strings.Contains(system, "Delegate work to coworker") || !strings.Contains(system, "Senior Researcher") {
			t.Errorf("system prompt lacks coworkers:\n%s", system)
		}
		if strings.Contains(system, "coworkers: Senior Researcher, Content Writer") {
			t.Error("agent should not list itself as a coworker")
		}
	})

	t.Run("coworker actions withheld at max depth", func(t *testing.T) {
		tests := []struct {
			depth int
			want  bool
		}{
			{0, true},
			{delegation.MaxDepth - 1, true},
			{delegation.MaxDepth, false},
		}
		for _, tt := range tests {
			var system string
			backend := &llm.MockBackend{CompleteFunc: func(_ context.Context, _ string, opts llm.Options) (string, error) {
				system = opts.System
				return "Final Answer: x", nil
			}}
			rt := newRuntime(t, Config{Agent: writer, Backend: backend, Coworkers: coworkers, Delegator: &recordingDelegator{}})
			if _, err := rt.Execute(context.Background(), Assignment{TaskID: "blog", Instruction: "Write", Depth: tt.depth}); err != nil {
				t.Fatal(err)
			}
			if got := strings.Contains(system, DelegateAction); got != tt.want {
				t.Errorf("depth %d: delegate action offered = %v, want %v", tt.depth, got, tt.want)
			}
			if got := strings.Contains(system, AskAction); got != tt.want {
				t.Errorf("depth %d: ask action offered = %v, want %v", tt.depth, got, tt.want)
			}
		}
	})
}

func TestExecute_InjectDate(t *testing.T) {
	a := researcher()
	a.InjectDate = true
	backend := llm.NewMockBackend("Final Answer: x")
	fixed := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	rt := newRuntime(t, Config{Agent: a, Backend: backend, Now: func() time.Time { return fixed }})

	if _, err := rt.Execute(context.Background(), Assignment{TaskID: "t", Instruction: "x"}); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(backend.LastPrompt(), "Current Date: 2024-05-01") {
		t.Errorf("prompt lacks date:\n%s", backend.LastPrompt())
	}
}

func TestExecute_Reasoning(t *testing.T) {
	a := researcher()
	a.Reasoning = true
	a.MaxIterations = 1
	backend := llm.NewMockBackend("1. search 2. summarize", "Final Answer: x")
	rt := newRuntime(t, Config{Agent: a, Backend: backend})

	out, err := rt.Execute(context.Background(), Assignment{TaskID: "t", Instruction: "Research AI"})
	if err != nil || out != "x" {
		t.Fatalf("out=%q err=%v", out, err)
	}
	prompts := backend.Prompts()
	if len(prompts) != 2 {
		t.Fatalf("calls = %d, want 2", len(prompts))
	}
	if !strings.Contains(prompts[0], "reflect on how you will approach") {
		t.Errorf("first call should be the reasoning pass:\n%s", prompts[0])
	}
	if !strings.Contains(prompts[1], "Your approach:\n1. search 2. summarize") {
		t.Errorf("approach missing from task prompt:\n%s", prompts[1])
	}
}

func TestReprompt(t *testing.T) {
	backend := llm.NewMockBackend("Thought: fixing\nFinal Answer: {\"topic\": \"AI\"}")
	rt := newRuntime(t, Config{Backend: backend})

	out, err := rt.Reprompt(context.Background(), "t", "not json", "Problems: missing topic")
	if err != nil {
		t.Fatal(err)
	}
	if out != `{"topic": "AI"}` {
		t.Errorf("out = %q", out)
	}
	if p := backend.LastPrompt(); !strings.Contains(p, "not json") || !strings.Contains(p, "missing topic") {
		t.Errorf("prompt = %q", p)
	}
}

func TestNew_Validation(t *testing.T) {
	a := researcher()
	a.MaxIterations = 0
	tests := []struct {
		name string
		cfg  Config
	}{
		{"no agent", Config{Backend: llm.NewMockBackend()}},
		{"no backend", Config{Agent: researcher()}},
		{"zero iterations", Config{Agent: a, Backend: llm.NewMockBackend()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.cfg); crewerr.KindOf(err) != crewerr.KindConfiguration {
				t.Errorf("expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestExecute_Hooks(t *testing.T) {
	var calls int32
	var llmCalls, toolCalls int
	backend := llm.NewMockBackend(toolReply, "Final Answer: ok")
	rt := newRuntime(t, Config{
		Backend: backend,
		Tools:   []tools.Adapter{searchTool(&calls)},
		Hooks: Hooks{
			OnLLMCall:  func(string, time.Duration, error) { llmCalls++ },
			OnToolCall: func(_, _, tool string, _ time.Duration, _ error) { toolCalls++ },
		},
	})
	if _, err := rt.Execute(context.Background(), Assignment{TaskID: "t", Instruction: "x"}); err != nil {
		t.Fatal(err)
	}
	if llmCalls != 2 || toolCalls != 1 {
		t.Errorf("llm hooks=%d tool hooks=%d", llmCalls, toolCalls)
	}
}
