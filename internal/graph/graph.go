// Package graph provides the task dependency graph used to validate and
// schedule a crew.
package graph

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/ShayCichocki/crewkit/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// ErrForwardReference indicates a task depends on a task declared after it.
var ErrForwardReference = errors.New("forward reference")

// DependencyGraph holds tasks as nodes with "depends on" edges. Node order
// is declaration order, and every listing it returns follows it.
type DependencyGraph struct {
	mu sync.RWMutex

	ids   []string
	index map[string]int
	tasks []*models.Task
	// deps[i] and dependents[i] hold node indexes.
	deps       [][]int
	dependents [][]int
	done       []bool
	doneCount  int

	debugLog func(format string, args ...interface{})
}

// New creates an empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		index:    make(map[string]int),
		debugLog: func(string, ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (g *DependencyGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build loads tasks into the graph. It fails on a repeated task ID, a
// dependency on an unknown task, or a cycle.
func (g *DependencyGraph) Build(tasks []*models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, t := range tasks {
		if _, dup := g.index[t.ID]; dup {
			return fmt.Errorf("duplicate task id %s", t.ID)
		}
		g.index[t.ID] = len(g.ids)
		g.ids = append(g.ids, t.ID)
		g.tasks = append(g.tasks, t)
	}

	n := len(g.ids)
	g.deps = make([][]int, n)
	g.dependents = make([][]int, n)
	g.done = make([]bool, n)
	for i, t := range g.tasks {
		for _, depID := range t.DependsOn {
			j, ok := g.index[depID]
			if !ok {
				return fmt.Errorf("task %s depends on unknown task %s", t.ID, depID)
			}
			if j == i {
				return fmt.Errorf("task %s depends on itself: %w", t.ID, ErrCycleDetected)
			}
			g.deps[i] = append(g.deps[i], j)
			g.dependents[j] = append(g.dependents[j], i)
		}
	}

	if _, stuck := g.kahn(); len(stuck) > 0 {
		return fmt.Errorf("%w between tasks %s", ErrCycleDetected, strings.Join(stuck, ", "))
	}
	g.debugLog("[graph.Build] %d tasks", n)
	return nil
}

// kahn orders nodes so every dependency precedes its dependents, always
// taking the earliest declared node that is free. Nodes left over sit on or
// behind a cycle; their IDs are returned as stuck.
func (g *DependencyGraph) kahn() (order []string, stuck []string) {
	n := len(g.ids)
	pending := make([]int, n)
	for i := range g.deps {
		pending[i] = len(g.deps[i])
	}
	placed := make([]bool, n)

	for len(order) < n {
		next := -1
		for i := 0; i < n; i++ {
			if !placed[i] && pending[i] == 0 {
				next = i
				break
			}
		}
		if next < 0 {
			break
		}
		placed[next] = true
		order = append(order, g.ids[next])
		for _, d := range g.dependents[next] {
			pending[d]--
		}
	}

	for i, ok := range placed {
		if !ok {
			stuck = append(stuck, g.ids[i])
		}
	}
	return order, stuck
}

// CheckDeclaredOrder verifies that every dependency is declared before the
// task that consumes it. Sequential crews require this.
func (g *DependencyGraph) CheckDeclaredOrder() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for i, deps := range g.deps {
		for _, j := range deps {
			if j > i {
				return fmt.Errorf("task %s depends on %s which is declared later: %w", g.ids[i], g.ids[j], ErrForwardReference)
			}
		}
	}
	return nil
}

// TopologicalSort returns task IDs with every dependency before its
// dependents. Independent tasks keep declaration order.
func (g *DependencyGraph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	order, stuck := g.kahn()
	if len(stuck) > 0 {
		return nil, ErrCycleDetected
	}
	return order, nil
}

// GetReady returns, in declaration order, the tasks that are not complete,
// neither running nor terminal, and whose dependencies are all complete.
func (g *DependencyGraph) GetReady() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
next:
	for i, id := range g.ids {
		if g.done[i] {
			continue
		}
		if s := g.tasks[i].Status; s.Terminal() || s == models.TaskStatusRunning {
			continue
		}
		for _, j := range g.deps[i] {
			if !g.done[j] {
				continue next
			}
		}
		ready = append(ready, id)
	}

	g.debugLog("[graph.GetReady] ready=%v", ready)
	return ready
}

// MarkComplete records that a task finished successfully, unblocking its
// dependents. Unknown IDs are ignored.
func (g *DependencyGraph) MarkComplete(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	i, ok := g.index[taskID]
	if !ok || g.done[i] {
		return
	}
	g.done[i] = true
	g.doneCount++
	g.debugLog("[graph.MarkComplete] %s (%d/%d)", taskID, g.doneCount, len(g.ids))
}

// GetTask returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) GetTask(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if i, ok := g.index[taskID]; ok {
		return g.tasks[i]
	}
	return nil
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.ids)
}

// GetDependencies returns the IDs of the tasks taskID depends on.
func (g *DependencyGraph) GetDependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	i, ok := g.index[taskID]
	if !ok {
		return nil
	}
	return g.names(g.deps[i])
}

func (g *DependencyGraph) names(idx []int) []string {
	if len(idx) == 0 {
		return nil
	}
	out := make([]string, len(idx))
	for k, i := range idx {
		out[k] = g.ids[i]
	}
	return out
}

// AllComplete returns true when every task has been marked complete.
func (g *DependencyGraph) AllComplete() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.doneCount == len(g.ids)
}
