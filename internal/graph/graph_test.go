package graph

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/ShayCichocki/crewkit/pkg/models"
)

func pending(id string, deps ...string) *models.Task {
	return &models.Task{ID: id, Status: models.TaskStatusPending, DependsOn: deps}
}

func TestNew(t *testing.T) {
	g := New()
	if g == nil {
		t.Fatal("expected non-nil graph")
	}
	if g.Size() != 0 {
		t.Errorf("expected empty graph, got size %d", g.Size())
	}
}

func TestBuildWithDependencies(t *testing.T) {
	g := New()
	err := g.Build([]*models.Task{
		pending("research_task"),
		pending("outline_task", "research_task"),
		pending("blog_task", "research_task", "outline_task"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"research_task", "outline_task"}
	if got := g.GetDependencies("blog_task"); !reflect.DeepEqual(got, want) {
		t.Errorf("GetDependencies = %v, want %v", got, want)
	}
	if got := g.GetDependencies("research_task"); len(got) != 0 {
		t.Errorf("research_task should have no dependencies, got %v", got)
	}
}

func TestBuildErrors(t *testing.T) {
	tests := []struct {
		name      string
		tasks     []*models.Task
		wantCycle bool
	}{
		{
			name:  "unknown dependency",
			tasks: []*models.Task{pending("a", "ghost")},
		},
		{
			name:  "duplicate id",
			tasks: []*models.Task{pending("a"), pending("a")},
		},
		{
			name:      "self dependency",
			tasks:     []*models.Task{pending("a", "a")},
			wantCycle: true,
		},
		{
			name:      "two node cycle",
			tasks:     []*models.Task{pending("a", "b"), pending("b", "a")},
			wantCycle: true,
		},
		{
			name:      "three node cycle",
			tasks:     []*models.Task{pending("a", "c"), pending("b", "a"), pending("c", "b")},
			wantCycle: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New().Build(tt.tasks)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, ErrCycleDetected); got != tt.wantCycle {
				t.Errorf("errors.Is(ErrCycleDetected) = %v, want %v (err=%v)", got, tt.wantCycle, err)
			}
		})
	}
}

func TestCheckDeclaredOrder(t *testing.T) {
	ok := New()
	if err := ok.Build([]*models.Task{pending("research_task"), pending("blog_task", "research_task")}); err != nil {
		t.Fatal(err)
	}
	if err := ok.CheckDeclaredOrder(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	fwd := New()
	if err := fwd.Build([]*models.Task{pending("blog_task", "research_task"), pending("research_task")}); err != nil {
		t.Fatal(err)
	}
	if err := fwd.CheckDeclaredOrder(); !errors.Is(err, ErrForwardReference) {
		t.Errorf("expected ErrForwardReference, got %v", err)
	}
}

func TestTopologicalSort(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Task{
		pending("blog_task", "research_task"),
		pending("research_task"),
		pending("seo_task", "blog_task"),
	}); err != nil {
		t.Fatal(err)
	}

	got, err := g.TopologicalSort()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"research_task", "blog_task", "seo_task"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("TopologicalSort = %v, want %v", got, want)
	}
}

func TestGetReadyAndMarkComplete(t *testing.T) {
	tasks := []*models.Task{
		pending("a"),
		pending("b"),
		pending("c", "a", "b"),
	}
	g := New()
	if err := g.Build(tasks); err != nil {
		t.Fatal(err)
	}

	if got := g.GetReady(); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("GetReady = %v, want [a b]", got)
	}

	tasks[0].Status = models.TaskStatusSucceeded
	g.MarkComplete("a")
	if got := g.GetReady(); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("GetReady after a = %v, want [b]", got)
	}

	tasks[1].Status = models.TaskStatusSucceeded
	g.MarkComplete("b")
	if got := g.GetReady(); !reflect.DeepEqual(got, []string{"c"}) {
		t.Errorf("GetReady after b = %v, want [c]", got)
	}
	if g.AllComplete() {
		t.Error("AllComplete should be false before c")
	}

	tasks[2].Status = models.TaskStatusSucceeded
	g.MarkComplete("c")
	if !g.AllComplete() {
		t.Error("AllComplete should be true")
	}
	if got := g.GetReady(); len(got) != 0 {
		t.Errorf("GetReady = %v, want none", got)
	}
}

func TestGetReadySkipsRunningAndFailed(t *testing.T) {
	tasks := []*models.Task{pending("a"), pending("b")}
	g := New()
	if err := g.Build(tasks); err != nil {
		t.Fatal(err)
	}

	tasks[0].Status = models.TaskStatusRunning
	tasks[1].Status = models.TaskStatusFailed
	if got := g.GetReady(); len(got) != 0 {
		t.Errorf("GetReady = %v, want none", got)
	}
}

func TestBuildCycleNamesTasks(t *testing.T) {
	err := New().Build([]*models.Task{
		pending("intro"),
		pending("a", "c"),
		pending("b", "a"),
		pending("c", "b"),
	})
	if !errors.Is(err, ErrCycleDetected) {
		t.Fatalf("expected cycle, got %v", err)
	}
	if !strings.Contains(err.Error(), "a, b, c") || strings.Contains(err.Error(), "intro") {
		t.Errorf("error should name only the cyclic tasks: %v", err)
	}
}

func TestMarkCompleteIgnoresUnknownAndRepeats(t *testing.T) {
	g := New()
	if err := g.Build([]*models.Task{pending("a"), pending("b")}); err != nil {
		t.Fatal(err)
	}
	g.MarkComplete("ghost")
	g.MarkComplete("a")
	g.MarkComplete("a")
	if g.AllComplete() {
		t.Error("AllComplete should be false while b is pending")
	}
}
