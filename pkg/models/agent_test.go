package models

import "testing"

func TestProcess_Valid(t *testing.T) {
	tests := []struct {
		process Process
		want    bool
	}{
		{ProcessSequential, true},
		{ProcessHierarchical, true},
		{Process(""), false},
		{Process("parallel"), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.process), func(t *testing.T) {
			if got := tt.process.Valid(); got != tt.want {
				t.Errorf("Process(%q).Valid() = %v, want %v", tt.process, got, tt.want)
			}
		})
	}
}

func TestCrew_Lookup(t *testing.T) {
	crew := &Crew{
		Agents: []*Agent{{ID: "researcher"}, {ID: "writer"}},
		Tasks:  []*Task{{ID: "research_task"}, {ID: "blog_task"}},
	}

	if crew.Agent("writer") == nil {
		t.Error("expected to find writer")
	}
	if crew.Agent("editor") != nil {
		t.Error("did not expect to find editor")
	}
	if crew.Task("blog_task") == nil {
		t.Error("expected to find blog_task")
	}
}

func TestCrewResult_Output(t *testing.T) {
	r := &CrewResult{
		Status:  RunCompleted,
		Outputs: []*Output{{TaskID: "research_task", Raw: "facts"}},
	}

	if !r.Succeeded() {
		t.Error("expected Succeeded")
	}
	if got := r.Output("research_task"); got == nil || got.Raw != "facts" {
		t.Errorf("Output(research_task) = %+v", got)
	}
	if r.Output("missing") != nil {
		t.Error("expected nil for unknown task")
	}
}

func TestSchemaDescriptor_Field(t *testing.T) {
	s := &SchemaDescriptor{
		Name: "Content",
		Fields: []Field{
			{Name: "topic", Type: FieldString, Required: true},
			{Name: "tags", Type: FieldArray, Items: FieldString},
		},
	}

	if f := s.Field("tags"); f == nil || f.Items != FieldString {
		t.Errorf("Field(tags) = %+v", f)
	}
	if s.Field("nope") != nil {
		t.Error("expected nil for unknown field")
	}
	if FieldType("date").Valid() {
		t.Error("date should not be a valid field type")
	}
}
