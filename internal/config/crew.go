package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/crewkit/internal/crewerr"
	"github.com/ShayCichocki/crewkit/pkg/models"
)

// Registry file names inside a crew directory.
const (
	AgentsFile  = "agents.yaml"
	TasksFile   = "tasks.yaml"
	SchemasFile = "schemas.yaml"
	CrewFile    = "crew.yaml"
)

// CrewDefaults fills agent and crew fields the registries leave unset.
type CrewDefaults struct {
	MaxIterations int
	MaxRPM        int
	LLM           string
	Temperature   *float64
	// OrchestrationIterations is the default hierarchical round ceiling.
	OrchestrationIterations int
}

// CrewDefaultsFrom derives registry defaults from the app config.
func CrewDefaultsFrom(cfg *Config) CrewDefaults {
	temp := cfg.LLM.Temperature
	return CrewDefaults{
		MaxIterations:           cfg.Limits.MaxIterations,
		MaxRPM:                  cfg.Limits.MaxRPM,
		LLM:                     cfg.LLM.DefaultModel,
		Temperature:             &temp,
		OrchestrationIterations: cfg.Limits.OrchestrationIterations,
	}
}

// agentEntry is one agents.yaml record.
type agentEntry struct {
	Role            string   `yaml:"role"`
	Goal            string   `yaml:"goal"`
	Backstory       string   `yaml:"backstory"`
	Tools           []string `yaml:"tools"`
	AllowDelegation bool     `yaml:"allow_delegation"`
	MaxIter         int      `yaml:"max_iter"`
	MaxRPM          *int     `yaml:"max_rpm"`
	LLM             string   `yaml:"llm"`
	Temperature     *float64 `yaml:"temperature"`
	InjectDate      bool     `yaml:"inject_date"`
	Reasoning       bool     `yaml:"reasoning"`
}

// taskEntry is one tasks.yaml record. Dependencies may be listed under
// context (CrewAI naming) or depends_on.
type taskEntry struct {
	Description    string   `yaml:"description"`
	ExpectedOutput string   `yaml:"expected_output"`
	Agent          string   `yaml:"agent"`
	Context        []string `yaml:"context"`
	DependsOn      []string `yaml:"depends_on"`
	OutputSchema   string   `yaml:"output_schema"`
}

type schemaEntry struct {
	Fields []models.Field `yaml:"fields"`
}

type crewEntry struct {
	Name                       string `yaml:"name"`
	Process                    string `yaml:"process"`
	Planning                   bool   `yaml:"planning"`
	PlanningLLM                string `yaml:"planning_llm"`
	ManagerAgent               string `yaml:"manager_agent"`
	MaxRPM                     int    `yaml:"max_rpm"`
	MaxOrchestrationIterations int    `yaml:"max_orchestration_iterations"`
}

// LoadCrew reads the crew registries from dir, or from dir/config when the
// files live there. Malformed or dangling entries fail with a
// ConfigurationError.
func LoadCrew(dir string, defaults CrewDefaults) (*models.Crew, error) {
	base := dir
	if _, err := os.Stat(filepath.Join(dir, AgentsFile)); errors.Is(err, os.ErrNotExist) {
		if _, err := os.Stat(filepath.Join(dir, "config", AgentsFile)); err == nil {
			base = filepath.Join(dir, "config")
		}
	}

	agentsData, err := readRegistry(filepath.Join(base, AgentsFile), true)
	if err != nil {
		return nil, err
	}
	tasksData, err := readRegistry(filepath.Join(base, TasksFile), true)
	if err != nil {
		return nil, err
	}
	schemasData, err := readRegistry(filepath.Join(base, SchemasFile), false)
	if err != nil {
		return nil, err
	}
	crewData, err := readRegistry(filepath.Join(base, CrewFile), false)
	if err != nil {
		return nil, err
	}

	return ParseCrew(agentsData, tasksData, schemasData, crewData, defaults)
}

// ParseCrew builds a crew from registry documents. schemasData and crewData
// may be empty.
func ParseCrew(agentsData, tasksData, schemasData, crewData []byte, defaults CrewDefaults) (*models.Crew, error) {
	var agents map[string]agentEntry
	agentOrder, err := decodeOrdered(AgentsFile, agentsData, &agents)
	if err != nil {
		return nil, err
	}
	var tasks map[string]taskEntry
	taskOrder, err := decodeOrdered(TasksFile, tasksData, &tasks)
	if err != nil {
		return nil, err
	}
	var schemas map[string]schemaEntry
	if _, err := decodeOrdered(SchemasFile, schemasData, &schemas); err != nil {
		return nil, err
	}
	var ce crewEntry
	if len(bytes.TrimSpace(crewData)) > 0 {
		dec := yaml.NewDecoder(bytes.NewReader(crewData))
		dec.KnownFields(true)
		if err := dec.Decode(&ce); err != nil && !errors.Is(err, io.EOF) {
			return nil, crewerr.Configf("load", "%s: %v", CrewFile, err)
		}
	}

	if len(agentOrder) == 0 {
		return nil, crewerr.Configf("load", "%s declares no agents", AgentsFile)
	}
	if len(taskOrder) == 0 {
		return nil, crewerr.Configf("load", "%s declares no tasks", TasksFile)
	}

	crew := &models.Crew{
		Name:                       ce.Name,
		Process:                    models.Process(strings.ToLower(ce.Process)),
		Planning:                   ce.Planning,
		PlanningLLM:                ce.PlanningLLM,
		ManagerAgent:               ce.ManagerAgent,
		MaxRPM:                     ce.MaxRPM,
		MaxOrchestrationIterations: ce.MaxOrchestrationIterations,
	}
	if crew.Name == "" {
		crew.Name = "crew"
	}
	if crew.Process == "" {
		crew.Process = models.ProcessSequential
	}
	if !crew.Process.Valid() {
		return nil, crewerr.Configf("load", "%s: unknown process %q", CrewFile, ce.Process)
	}
	if crew.MaxRPM < 0 {
		return nil, crewerr.Configf("load", "%s: max_rpm must not be negative", CrewFile)
	}
	if crew.MaxOrchestrationIterations == 0 {
		crew.MaxOrchestrationIterations = defaults.OrchestrationIterations
	}
	if crew.PlanningLLM == "" {
		crew.PlanningLLM = defaults.LLM
	}

	descriptors := make(map[string]*models.SchemaDescriptor, len(schemas))
	for name, s := range schemas {
		desc, err := buildSchema(name, s)
		if err != nil {
			return nil, err
		}
		descriptors[name] = desc
	}

	for _, id := range agentOrder {
		a, err := buildAgent(id, agents[id], defaults)
		if err != nil {
			return nil, err
		}
		crew.Agents = append(crew.Agents, a)
	}

	for _, id := range taskOrder {
		e := tasks[id]
		if strings.TrimSpace(e.Description) == "" {
			return nil, crewerr.Configf("load", "task %s: description is required", id)
		}
		if e.Agent == "" {
			return nil, crewerr.Configf("load", "task %s: agent is required", id)
		}
		if crew.Agent(e.Agent) == nil {
			return nil, crewerr.Configf("load", "task %s references unknown agent %s", id, e.Agent)
		}
		task := &models.Task{
			ID:             id,
			Instruction:    strings.TrimSpace(e.Description),
			ExpectedOutput: strings.TrimSpace(e.ExpectedOutput),
			AgentID:        e.Agent,
			DependsOn:      dedupe(append(append([]string(nil), e.Context...), e.DependsOn...)),
			Status:         models.TaskStatusPending,
		}
		if e.OutputSchema != "" {
			desc, ok := descriptors[e.OutputSchema]
			if !ok {
				return nil, crewerr.Configf("load", "task %s references unknown schema %s", id, e.OutputSchema)
			}
			task.OutputSchema = desc
		}
		crew.Tasks = append(crew.Tasks, task)
	}

	return crew, nil
}

func buildAgent(id string, e agentEntry, defaults CrewDefaults) (*models.Agent, error) {
	if strings.TrimSpace(e.Role) == "" {
		return nil, crewerr.Configf("load", "agent %s: role is required", id)
	}
	if strings.TrimSpace(e.Goal) == "" {
		return nil, crewerr.Configf("load", "agent %s: goal is required", id)
	}
	if e.MaxIter < 0 {
		return nil, crewerr.Configf("load", "agent %s: max_iter must not be negative", id)
	}

	a := &models.Agent{
		ID:                id,
		Role:              strings.TrimSpace(e.Role),
		Goal:              strings.TrimSpace(e.Goal),
		Backstory:         strings.TrimSpace(e.Backstory),
		Tools:             e.Tools,
		AllowDelegation:   e.AllowDelegation,
		MaxIterations:     e.MaxIter,
		MaxCallsPerMinute: defaults.MaxRPM,
		LLM:               e.LLM,
		Temperature:       e.Temperature,
		InjectDate:        e.InjectDate,
		Reasoning:         e.Reasoning,
	}
	if e.MaxRPM != nil {
		if *e.MaxRPM < 0 {
			return nil, crewerr.Configf("load", "agent %s: max_rpm must not be negative", id)
		}
		a.MaxCallsPerMinute = *e.MaxRPM
	}
	if a.MaxIterations == 0 {
		a.MaxIterations = defaults.MaxIterations
	}
	if a.LLM == "" {
		a.LLM = defaults.LLM
	}
	if a.Temperature == nil {
		a.Temperature = defaults.Temperature
	}
	return a, nil
}

func buildSchema(name string, e schemaEntry) (*models.SchemaDescriptor, error) {
	if len(e.Fields) == 0 {
		return nil, crewerr.Configf("load", "schema %s declares no fields", name)
	}
	seen := make(map[string]bool, len(e.Fields))
	for _, f := range e.Fields {
		if f.Name == "" {
			return nil, crewerr.Configf("load", "schema %s: field without a name", name)
		}
		if seen[f.Name] {
			return nil, crewerr.Configf("load", "schema %s: duplicate field %s", name, f.Name)
		}
		seen[f.Name] = true
		if !f.Type.Valid() {
			return nil, crewerr.Configf("load", "schema %s: field %s has unknown type %q", name, f.Name, f.Type)
		}
		if f.Items != "" && (f.Type != models.FieldArray || !f.Items.Valid()) {
			return nil, crewerr.Configf("load", "schema %s: field %s has invalid items type %q", name, f.Name, f.Items)
		}
	}
	return &models.SchemaDescriptor{Name: name, Fields: e.Fields}, nil
}

// readRegistry reads a registry file and expands ${VAR} references.
func readRegistry(path string, required bool) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && !required {
			return nil, nil
		}
		return nil, crewerr.Configf("load", "read %s: %v", path, err)
	}
	return []byte(expandEnvRefs(string(data))), nil
}

var envRefPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvRefs replaces ${VAR} with its environment value. Bare $VAR and
// {placeholder} text are left alone.
func expandEnvRefs(s string) string {
	return envRefPattern.ReplaceAllStringFunc(s, func(m string) string {
		return os.Getenv(envRefPattern.FindStringSubmatch(m)[1])
	})
}

// decodeOrdered strictly decodes a top-level mapping into out and returns its
// keys in document order.
func decodeOrdered(name string, data []byte, out any) ([]string, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var root yaml.Node
	if err := yaml.Unmarshal(data, &root); err != nil {
		return nil, crewerr.Configf("load", "%s: %v", name, err)
	}
	if len(root.Content) == 0 {
		return nil, nil
	}
	doc := root.Content[0]
	if doc.Kind != yaml.MappingNode {
		return nil, crewerr.Configf("load", "%s: top level must be a mapping", name)
	}

	var order []string
	for i := 0; i+1 < len(doc.Content); i += 2 {
		order = append(order, doc.Content[i].Value)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return nil, crewerr.Configf("load", "%s: %v", name, err)
	}
	return order, nil
}

func dedupe(ids []string) []string {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(ids))
	out := ids[:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// Summary renders a short summary, used by `crew validate`.
func Summary(c *models.Crew) string {
	var b strings.Builder
	fmt.Fprintf(&b, "crew %q (%s): %d agents, %d tasks", c.Name, c.Process, len(c.Agents), len(c.Tasks))
	if c.Planning {
		b.WriteString(", planning on")
	}
	return b.String()
}
