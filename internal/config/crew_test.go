package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ShayCichocki/crewkit/internal/crewerr"
	"github.com/ShayCichocki/crewkit/pkg/models"
)

const blogAgents = `
research_agent:
  role: >
    Senior researcher on {topic}
  goal: Uncover the latest developments in {topic}
  backstory: A curious analyst.
  tools: [serpapi_search]
  max_iter: 5
  max_rpm: 3
writer_agent:
  role: Content writer
  goal: Write an engaging blog post about {topic}
  backstory: A storyteller.
  allow_delegation: true
  llm: ollama/llama3.2
`

const blogTasks = `
research_task:
  description: Research {topic} thoroughly.
  expected_output: A list of 10 bullet points.
  agent: research_agent
blog_task:
  description: Write a blog post about {topic}.
  expected_output: A markdown article.
  agent: writer_agent
  context: [research_task]
  output_schema: Content
`

const blogSchemas = `
Content:
  fields:
    - name: topic
      type: string
      required: true
    - name: tags
      type: array
      items: string
      required: true
    - name: content
      type: string
      required: true
`

func testDefaults() CrewDefaults {
	temp := 0.7
	return CrewDefaults{MaxIterations: 25, MaxRPM: 10, LLM: "gemini/gemini-2.0-flash", Temperature: &temp, OrchestrationIterations: 50}
}

func writeCrewDir(t *testing.T, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, content := range files {
		path := filepath.Join(dir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func TestLoadCrew_Blog(t *testing.T) {
	dir := writeCrewDir(t, map[string]string{
		"agents.yaml":  blogAgents,
		"tasks.yaml":   blogTasks,
		"schemas.yaml": blogSchemas,
		"crew.yaml":    "name: blog\nplanning: true\n",
	})

	crew, err := LoadCrew(dir, testDefaults())
	if err != nil {
		t.Fatalf("LoadCrew: %v", err)
	}

	if crew.Name != "blog" || crew.Process != models.ProcessSequential || !crew.Planning {
		t.Errorf("unexpected crew settings: %+v", crew)
	}
	if crew.PlanningLLM != "gemini/gemini-2.0-flash" {
		t.Errorf("planning llm should default, got %q", crew.PlanningLLM)
	}
	if crew.MaxOrchestrationIterations != 50 {
		t.Errorf("orchestration iterations should default, got %d", crew.MaxOrchestrationIterations)
	}

	if len(crew.Agents) != 2 || crew.Agents[0].ID != "research_agent" || crew.Agents[1].ID != "writer_agent" {
		t.Fatalf("agents out of declaration order: %+v", crew.Agents)
	}
	researcher := crew.Agents[0]
	if researcher.Role != "Senior researcher on {topic}" {
		t.Errorf("role = %q", researcher.Role)
	}
	if researcher.MaxIterations != 5 || researcher.MaxCallsPerMinute != 3 {
		t.Errorf("researcher limits = %d/%d", researcher.MaxIterations, researcher.MaxCallsPerMinute)
	}
	writer := crew.Agents[1]
	if writer.MaxIterations != 25 || writer.MaxCallsPerMinute != 10 {
		t.Errorf("writer should take defaults, got %d/%d", writer.MaxIterations, writer.MaxCallsPerMinute)
	}
	if writer.LLM != "ollama/llama3.2" || researcher.LLM != "gemini/gemini-2.0-flash" {
		t.Errorf("llm refs = %q, %q", writer.LLM, researcher.LLM)
	}

	if len(crew.Tasks) != 2 || crew.Tasks[0].ID != "research_task" {
		t.Fatalf("tasks out of order: %+v", crew.Tasks)
	}
	blog := crew.Tasks[1]
	if len(blog.DependsOn) != 1 || blog.DependsOn[0] != "research_task" {
		t.Errorf("blog deps = %v", blog.DependsOn)
	}
	if blog.OutputSchema == nil || blog.OutputSchema.Name != "Content" || len(blog.OutputSchema.Fields) != 3 {
		t.Errorf("blog schema = %+v", blog.OutputSchema)
	}
	if blog.Status != models.TaskStatusPending {
		t.Errorf("status = %q", blog.Status)
	}
}

func TestLoadCrew_ConfigSubdirectory(t *testing.T) {
	dir := writeCrewDir(t, map[string]string{
		"config/agents.yaml": blogAgents,
		"config/tasks.yaml":  "research_task:\n  description: Research {topic}.\n  agent: research_agent\n",
	})

	crew, err := LoadCrew(dir, testDefaults())
	if err != nil {
		t.Fatalf("LoadCrew: %v", err)
	}
	if len(crew.Tasks) != 1 {
		t.Errorf("expected 1 task, got %d", len(crew.Tasks))
	}
}

func TestLoadCrew_ExpandsEnvRefs(t *testing.T) {
	t.Setenv("CREWKIT_TEST_MODEL", "ollama/mistral")
	dir := writeCrewDir(t, map[string]string{
		"agents.yaml": "a:\n  role: r\n  goal: g\n  llm: ${CREWKIT_TEST_MODEL}\n",
		"tasks.yaml":  "t:\n  description: costs $5 for {topic}\n  agent: a\n",
	})

	crew, err := LoadCrew(dir, testDefaults())
	if err != nil {
		t.Fatalf("LoadCrew: %v", err)
	}
	if crew.Agents[0].LLM != "ollama/mistral" {
		t.Errorf("llm = %q", crew.Agents[0].LLM)
	}
	if crew.Tasks[0].Instruction != "costs $5 for {topic}" {
		t.Errorf("instruction = %q", crew.Tasks[0].Instruction)
	}
}

func TestParseCrew_Errors(t *testing.T) {
	okAgents := "a:\n  role: r\n  goal: g\n"
	okTasks := "t:\n  description: d\n  agent: a\n"

	tests := []struct {
		name    string
		agents  string
		tasks   string
		schemas string
		crew    string
	}{
		{"no agents", "", okTasks, "", ""},
		{"no tasks", okAgents, "", "", ""},
		{"missing role", "a:\n  goal: g\n", okTasks, "", ""},
		{"unknown field", "a:\n  role: r\n  goal: g\n  mood: happy\n", okTasks, "", ""},
		{"negative max_rpm", "a:\n  role: r\n  goal: g\n  max_rpm: -1\n", okTasks, "", ""},
		{"missing description", okAgents, "t:\n  agent: a\n", "", ""},
		{"unknown agent", okAgents, "t:\n  description: d\n  agent: ghost\n", "", ""},
		{"unknown schema", okAgents, "t:\n  description: d\n  agent: a\n  output_schema: Nope\n", "", ""},
		{"bad field type", okAgents, okTasks, "S:\n  fields:\n    - name: x\n      type: date\n", ""},
		{"items on non-array", okAgents, okTasks, "S:\n  fields:\n    - name: x\n      type: string\n      items: string\n", ""},
		{"bad process", okAgents, okTasks, "", "process: parallel\n"},
		{"not a mapping", "- a\n- b\n", okTasks, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCrew([]byte(tt.agents), []byte(tt.tasks), []byte(tt.schemas), []byte(tt.crew), testDefaults())
			if err == nil {
				t.Fatal("expected error")
			}
			if crewerr.KindOf(err) != crewerr.KindConfiguration {
				t.Errorf("expected ConfigurationError, got %v", err)
			}
		})
	}
}

func TestLoadCrew_MissingRegistry(t *testing.T) {
	dir := writeCrewDir(t, map[string]string{"agents.yaml": blogAgents})
	_, err := LoadCrew(dir, testDefaults())
	if crewerr.KindOf(err) != crewerr.KindConfiguration {
		t.Errorf("expected ConfigurationError, got %v", err)
	}
}

func TestSummary(t *testing.T) {
	crew := &models.Crew{Name: "blog", Process: models.ProcessSequential, Planning: true,
		Agents: []*models.Agent{{ID: "a"}}, Tasks: []*models.Task{{ID: "t"}, {ID: "u"}}}
	want := `crew "blog" (sequential): 1 agents, 2 tasks, planning on`
	if got := Summary(crew); got != want {
		t.Errorf("Summary = %q, want %q", got, want)
	}
}

func TestLoadCrew_Examples(t *testing.T) {
	tests := []struct {
		dir     string
		name    string
		process models.Process
		agents  int
		tasks   int
	}{
		{dir: "blog", name: "blog", process: models.ProcessSequential, agents: 2, tasks: 2},
		{dir: "marketing", name: "marketing", process: models.ProcessSequential, agents: 4, tasks: 8},
		{dir: "launch", name: "launch", process: models.ProcessHierarchical, agents: 4, tasks: 4},
	}

	for _, tt := range tests {
		t.Run(tt.dir, func(t *testing.T) {
			crew, err := LoadCrew(filepath.Join("..", "..", "examples", tt.dir), testDefaults())
			if err != nil {
				t.Fatalf("LoadCrew: %v", err)
			}
			if crew.Name != tt.name || crew.Process != tt.process {
				t.Errorf("got crew %q (%s)", crew.Name, crew.Process)
			}
			if len(crew.Agents) != tt.agents || len(crew.Tasks) != tt.tasks {
				t.Errorf("got %d agents, %d tasks", len(crew.Agents), len(crew.Tasks))
			}
		})
	}
}

func TestLoadCrew_MarketingExample(t *testing.T) {
	crew, err := LoadCrew(filepath.Join("..", "..", "examples", "marketing"), testDefaults())
	if err != nil {
		t.Fatalf("LoadCrew: %v", err)
	}
	if !crew.Planning || crew.PlanningLLM != "gemini/gemini-2.0-flash" || crew.MaxRPM != 3 {
		t.Errorf("crew settings: planning=%v planning_llm=%q max_rpm=%d", crew.Planning, crew.PlanningLLM, crew.MaxRPM)
	}

	for _, a := range crew.Agents {
		if !a.InjectDate || !a.AllowDelegation || a.MaxCallsPerMinute != 3 {
			t.Errorf("agent %s: inject_date=%v allow_delegation=%v max_rpm=%d", a.ID, a.InjectDate, a.AllowDelegation, a.MaxCallsPerMinute)
		}
		if a.Reasoning != (a.ID == "head_of_marketing") {
			t.Errorf("agent %s: reasoning=%v", a.ID, a.Reasoning)
		}
		if strings.Join(a.Tools, ",") != "serpapi_search,scrape_website,directory_read,file_write,file_read" {
			t.Errorf("agent %s tools = %v", a.ID, a.Tools)
		}
	}

	var structured []string
	for _, task := range crew.Tasks {
		if task.OutputSchema != nil && task.OutputSchema.Name == "Content" {
			structured = append(structured, task.ID)
		}
	}
	want := "prepare_post_drafts,prepare_scripts_for_reels,draft_blogs,seo_optimization"
	if got := strings.Join(structured, ","); got != want {
		t.Errorf("Content tasks = %s, want %s", got, want)
	}
}
