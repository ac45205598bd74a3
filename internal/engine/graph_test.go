package engine

import (
	"errors"
	"testing"

	"github.com/shaiso/Hive/internal/domain"
)

func taskStep(id string, deps ...string) domain.StepSpec {
	spec := domain.StepSpec{ID: id, Type: domain.StepTypeTask, Team: "team-a"}
	for _, d := range deps {
		spec.DependsOn = append(spec.DependsOn, domain.DependencyEdge{OnStep: d})
	}
	return spec
}

func TestBuildGraph_Simple(t *testing.T) {
	def := &domain.DefinitionGraph{
		Steps: []domain.StepSpec{
			taskStep("a"),
			taskStep("b", "a"),
			taskStep("c", "b"),
		},
	}

	g, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if g.Size() != 3 {
		t.Errorf("expected 3 nodes, got %d", g.Size())
	}
	if len(g.RootNodes) != 1 || g.RootNodes[0].ID != "a" {
		t.Errorf("expected single root 'a', got %v", g.RootNodes)
	}
	if len(g.Order) != 3 {
		t.Errorf("expected 3 nodes in topological order, got %d", len(g.Order))
	}
	if g.Order[0].ID != "a" {
		t.Errorf("expected 'a' first in order, got %s", g.Order[0].ID)
	}
}

func TestBuildGraph_EmptyGraph(t *testing.T) {
	def := &domain.DefinitionGraph{}

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrEmptyGraph) {
		t.Errorf("expected ErrEmptyGraph, got %v", err)
	}
}

func TestBuildGraph_DuplicateID(t *testing.T) {
	def := &domain.DefinitionGraph{
		Steps: []domain.StepSpec{taskStep("a"), taskStep("a")},
	}

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrDuplicateStepID) {
		t.Errorf("expected ErrDuplicateStepID, got %v", err)
	}
}

func TestBuildGraph_UnknownDependency(t *testing.T) {
	def := &domain.DefinitionGraph{
		Steps: []domain.StepSpec{taskStep("a", "ghost")},
	}

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrMissingDependency) {
		t.Errorf("expected ErrMissingDependency, got %v", err)
	}

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatal("expected ValidationError")
	}
	if vErr.StepID != "a" {
		t.Errorf("expected step 'a' in error, got %s", vErr.StepID)
	}
}

func TestBuildGraph_SelfDependency(t *testing.T) {
	def := &domain.DefinitionGraph{
		Steps: []domain.StepSpec{taskStep("a", "a")},
	}

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrSelfDependency) {
		t.Errorf("expected ErrSelfDependency, got %v", err)
	}
}

func TestBuildGraph_CycleDetected(t *testing.T) {
	def := &domain.DefinitionGraph{
		Steps: []domain.StepSpec{
			taskStep("a", "c"),
			taskStep("b", "a"),
			taskStep("c", "b"),
		},
	}

	_, err := BuildGraph(def)
	if !errors.Is(err, ErrDependencyCycle) {
		t.Errorf("expected ErrDependencyCycle, got %v", err)
	}
}

func TestBuildGraph_Diamond(t *testing.T) {
	def := &domain.DefinitionGraph{
		Steps: []domain.StepSpec{
			taskStep("a"),
			taskStep("b", "a"),
			taskStep("c", "a"),
			taskStep("d", "b", "c"),
		},
	}

	g, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	d := g.GetNode("d")
	if d.InDegree != 2 {
		t.Errorf("expected InDegree=2 for 'd', got %d", d.InDegree)
	}
	if len(g.GetNode("a").Dependents) != 2 {
		t.Errorf("expected 2 dependents for 'a'")
	}
}

func TestBuildGraph_DuplicateEdgeIgnored(t *testing.T) {
	def := &domain.DefinitionGraph{
		Steps: []domain.StepSpec{
			taskStep("a"),
			{
				ID:   "b",
				Type: domain.StepTypeTask,
				DependsOn: []domain.DependencyEdge{
					{OnStep: "a"},
					{OnStep: "a", Type: domain.DepStartToStart},
				},
			},
		},
	}

	g, err := BuildGraph(def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if g.GetNode("b").InDegree != 1 {
		t.Errorf("duplicate edge should not double InDegree, got %d", g.GetNode("b").InDegree)
	}
}

func TestValidateVariant(t *testing.T) {
	tests := []struct {
		name    string
		spec    domain.StepSpec
		wantErr error
	}{
		{
			name:    "unknown type",
			spec:    domain.StepSpec{ID: "s", Type: "TELEPORT"},
			wantErr: ErrUnknownStepType,
		},
		{
			name:    "condition without expression",
			spec:    domain.StepSpec{ID: "s", Type: domain.StepTypeCondition},
			wantErr: ErrInvalidVariant,
		},
		{
			name:    "loop without max_iterations",
			spec:    domain.StepSpec{ID: "s", Type: domain.StepTypeLoop, Loop: &domain.LoopSpec{}},
			wantErr: ErrInvalidVariant,
		},
		{
			name:    "subworkflow without definition",
			spec:    domain.StepSpec{ID: "s", Type: domain.StepTypeSubworkflow, Subworkflow: &domain.SubworkflowSpec{}},
			wantErr: ErrInvalidVariant,
		},
		{
			name:    "approval without min_approvals",
			spec:    domain.StepSpec{ID: "s", Type: domain.StepTypeApproval, Approval: &domain.ApprovalSpec{}},
			wantErr: ErrInvalidVariant,
		},
		{
			name: "valid loop",
			spec: domain.StepSpec{ID: "s", Type: domain.StepTypeLoop,
				Loop: &domain.LoopSpec{MaxIterations: 3}},
			wantErr: nil,
		},
		{
			name: "valid approval",
			spec: domain.StepSpec{ID: "s", Type: domain.StepTypeApproval,
				Approval: &domain.ApprovalSpec{MinApprovals: 2}},
			wantErr: nil,
		},
		{
			name:    "structural parallel",
			spec:    domain.StepSpec{ID: "s", Type: domain.StepTypeParallel},
			wantErr: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := &domain.DefinitionGraph{Steps: []domain.StepSpec{tt.spec}}
			_, err := BuildGraph(def)

			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}
