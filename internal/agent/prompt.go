package agent

import (
	"strings"
	"time"

	"github.com/ShayCichocki/crewkit/internal/delegation"
	"github.com/ShayCichocki/crewkit/internal/tools"
	"github.com/ShayCichocki/crewkit/internal/validate"
)

// render replaces {key} markers in tmpl. Unknown markers are left alone.
func render(tmpl string, vars map[string]string) string {
	pairs := make([]string, 0, len(vars)*2)
	for k, v := range vars {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(tmpl)
}

// systemPrompt renders the agent's identity and the response format for an
// execution at depth.
func (r *Runtime) systemPrompt(depth int) string {
	var b strings.Builder
	b.WriteString(render(rolePrompt, map[string]string{
		"role":      r.agent.Role,
		"backstory": r.agent.Backstory,
		"goal":      r.agent.Goal,
	}))
	b.WriteString("\n")

	names, descs := r.actions(depth)
	if len(names) == 0 {
		b.WriteString(noToolsPrompt)
		return b.String()
	}
	b.WriteString(render(toolsPrompt, map[string]string{
		"tools":      descs,
		"tool_names": strings.Join(names, ", "),
	}))
	return b.String()
}

// actions returns every action name available to the agent at depth and
// their rendered descriptions. Coworker actions are withheld once another
// hop would pass delegation.MaxDepth.
func (r *Runtime) actions(depth int) ([]string, string) {
	var names []string
	for _, t := range r.tools {
		names = append(names, t.Name())
	}
	desc := tools.Describe(r.tools)

	if roles := r.coworkerRoles(); r.agent.AllowDelegation && depth < delegation.MaxDepth && len(roles) > 0 {
		vars := map[string]string{"coworkers": strings.Join(roles, ", ")}
		names = append(names, DelegateAction, AskAction)
		extra := DelegateAction + ": " + render(delegateDescription, vars) + "\n" +
			AskAction + ": " + render(askDescription, vars)
		if desc != "" {
			desc += "\n"
		}
		desc += extra
	}
	return names, desc
}

func (r *Runtime) coworkerRoles() []string {
	var roles []string
	for _, c := range r.coworkers {
		if c.ID != r.agent.ID {
			roles = append(roles, c.Role)
		}
	}
	return roles
}

// taskSection renders the assignment without the scratchpad.
func (r *Runtime) taskSection(a Assignment, now time.Time) string {
	var sections []string
	if r.agent.InjectDate {
		sections = append(sections, "Current Date: "+now.Format("2006-01-02"))
	}
	sections = append(sections, render(taskPrompt, map[string]string{"instruction": a.Instruction}))
	if a.ExpectedOutput != "" {
		sections = append(sections, render(expectedOutputPrompt, map[string]string{"expected_output": a.ExpectedOutput}))
	}
	if a.Schema != nil {
		sections = append(sections, validate.Describe(a.Schema))
	}
	if strings.TrimSpace(a.Context) != "" {
		sections = append(sections, render(contextPrompt, map[string]string{"context": a.Context}))
	}
	return strings.Join(sections, "\n\n")
}

// userPrompt renders the full per-iteration prompt.
func (r *Runtime) userPrompt(a Assignment, pad *scratchpad, now time.Time) string {
	var b strings.Builder
	b.WriteString(r.taskSection(a, now))
	b.WriteString("\n\n")
	b.WriteString(beginPrompt)
	if s := pad.String(); s != "" {
		b.WriteString(" ")
		b.WriteString(s)
	}
	return b.String()
}

// scratchpad accumulates the agent's steps and observations within one
// execution.
type scratchpad struct {
	entries []string
}

func (p *scratchpad) add(reply, observation string) {
	p.entries = append(p.entries, strings.TrimSpace(reply)+"\n"+observationMarker+" "+observation)
}

func (p *scratchpad) String() string {
	return strings.Join(p.entries, "\nThought: ")
}

func (p *scratchpad) len() int { return len(p.entries) }
