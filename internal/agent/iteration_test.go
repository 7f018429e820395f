package agent

import (
	"errors"
	"testing"
)

func TestIterationController(t *testing.T) {
	tests := []struct {
		name   string
		budget int
		want   int
	}{
		{"one", 1, 1},
		{"several", 4, 4},
		{"zero treated as one", 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ic := NewIterationController(tt.budget)
			n := 0
			for ic.Next() {
				n++
			}
			if n != tt.want {
				t.Errorf("iterations = %d, want %d", n, tt.want)
			}
			if !ic.IsAtMax() || ic.GetIteration() != tt.want {
				t.Errorf("controller not at max: %d/%d", ic.GetIteration(), ic.GetMaxIterations())
			}
		})
	}
}

func TestIterationController_LastFailure(t *testing.T) {
	ic := NewIterationController(3)
	boom := errors.New("boom")

	ic.Next()
	ic.RecordFailure(boom)
	if !errors.Is(ic.LastFailure(), boom) {
		t.Fatal("failure not recorded")
	}
	ic.Next()
	ic.RecordSuccess()
	if ic.LastFailure() != nil {
		t.Error("success should clear the failure")
	}
}
