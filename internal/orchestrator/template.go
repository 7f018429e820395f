package orchestrator

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/ShayCichocki/crewkit/internal/crewerr"
	"github.com/ShayCichocki/crewkit/pkg/models"
)

// placeholderPattern matches {name}. JSON like {"a": 1} never matches
// because the name must start right after the brace.
var placeholderPattern = regexp.MustCompile(`\{([A-Za-z_][A-Za-z0-9_\-]*)\}`)

// interpolator substitutes kickoff inputs and remembers every name it
// could not resolve.
type interpolator struct {
	inputs     map[string]string
	unresolved map[string][]string
}

func newInterpolator(inputs map[string]string) *interpolator {
	return &interpolator{inputs: inputs, unresolved: make(map[string][]string)}
}

// apply resolves placeholders in s. where names the field for error reports.
func (ip *interpolator) apply(where, s string) string {
	return placeholderPattern.ReplaceAllStringFunc(s, func(m string) string {
		name := m[1 : len(m)-1]
		if v, ok := ip.inputs[name]; ok {
			return v
		}
		ip.unresolved[name] = append(ip.unresolved[name], where)
		return m
	})
}

func (ip *interpolator) err() error {
	if len(ip.unresolved) == 0 {
		return nil
	}
	names := make([]string, 0, len(ip.unresolved))
	for name := range ip.unresolved {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("{%s} in %s", name, strings.Join(ip.unresolved[name], ", ")))
	}
	return crewerr.New(crewerr.KindConfiguration, "interpolate",
		fmt.Errorf("%w: %s", crewerr.ErrUnresolvedPlaceholder, strings.Join(parts, "; ")))
}

// interpolate returns copies of agents and tasks with every placeholder
// resolved from inputs. The originals are left untouched.
func interpolate(agents []*models.Agent, tasks []*models.Task, inputs map[string]string) ([]*models.Agent, []*models.Task, error) {
	ip := newInterpolator(inputs)

	outAgents := make([]*models.Agent, len(agents))
	for i, a := range agents {
		c := *a
		c.Tools = append([]string(nil), a.Tools...)
		c.Role = ip.apply("agent "+a.ID+" role", a.Role)
		c.Goal = ip.apply("agent "+a.ID+" goal", a.Goal)
		c.Backstory = ip.apply("agent "+a.ID+" backstory", a.Backstory)
		outAgents[i] = &c
	}

	outTasks := make([]*models.Task, len(tasks))
	for i, t := range tasks {
		c := t.Clone()
		c.Instruction = ip.apply("task "+t.ID+" description", t.Instruction)
		c.ExpectedOutput = ip.apply("task "+t.ID+" expected_output", t.ExpectedOutput)
		c.Status = models.TaskStatusPending
		c.Result = nil
		c.Error = ""
		c.StartedAt = nil
		c.CompletedAt = nil
		outTasks[i] = c
	}

	if err := ip.err(); err != nil {
		return nil, nil, err
	}
	return outAgents, outTasks, nil
}
