package engine

import (
	"fmt"

	"github.com/shaiso/Hive/internal/domain"
)

// Node — узел в графе definition.
type Node struct {
	// Spec — спецификация шага из DefinitionGraph.
	Spec *domain.StepSpec

	// ID — идентификатор узла (= Spec.ID).
	ID string

	// InDegree — количество входящих рёбер.
	InDegree int

	// DependsOn — узлы, от которых зависит этот узел.
	DependsOn []*Node

	// Dependents — узлы, которые зависят от этого узла.
	Dependents []*Node
}

// Graph — проверенный граф шагов definition.
type Graph struct {
	// Nodes — все узлы графа (stepID → Node).
	Nodes map[string]*Node

	// RootNodes — узлы без зависимостей (точки входа).
	RootNodes []*Node

	// Order — топологически отсортированный список узлов.
	Order []*Node
}

// BuildGraph строит и валидирует граф из DefinitionGraph.
//
// Проверяет уникальность ID, корректность вариантов, ссылки
// depends_on и отсутствие циклов. Вызывается при создании версии
// definition и при активации — запущенные instances работают
// с уже материализованными рёбрами и сюда не возвращаются.
func BuildGraph(def *domain.DefinitionGraph) (*Graph, error) {
	if len(def.Steps) == 0 {
		return nil, ErrEmptyGraph
	}

	g := &Graph{
		Nodes:     make(map[string]*Node, len(def.Steps)),
		RootNodes: make([]*Node, 0),
	}

	// Первый проход: создаём узлы
	for i := range def.Steps {
		spec := &def.Steps[i]

		if spec.ID == "" {
			return nil, NewValidationError("", "id", "step has empty ID", ErrEmptyStepID)
		}
		if _, exists := g.Nodes[spec.ID]; exists {
			return nil, NewValidationError(spec.ID, "id",
				fmt.Sprintf("duplicate step ID: %s", spec.ID), ErrDuplicateStepID)
		}
		if err := validateVariant(spec); err != nil {
			return nil, err
		}

		g.Nodes[spec.ID] = &Node{
			Spec:       spec,
			ID:         spec.ID,
			DependsOn:  make([]*Node, 0),
			Dependents: make([]*Node, 0),
		}
	}

	// Второй проход: связываем узлы по зависимостям
	for i := range def.Steps {
		spec := &def.Steps[i]
		node := g.Nodes[spec.ID]

		for _, edge := range spec.DependsOn {
			if edge.OnStep == spec.ID {
				return nil, NewValidationError(spec.ID, "depends_on",
					"step depends on itself", ErrSelfDependency)
			}
			dep, exists := g.Nodes[edge.OnStep]
			if !exists {
				return nil, NewValidationError(spec.ID, "depends_on",
					fmt.Sprintf("depends on unknown step: %s", edge.OnStep), ErrMissingDependency)
			}
			g.addEdge(dep, node)
		}
	}

	g.findRootNodes()

	order, err := g.topologicalSort()
	if err != nil {
		return nil, err
	}
	g.Order = order

	return g, nil
}

// Validate проверяет DefinitionGraph без возврата графа.
func Validate(def *domain.DefinitionGraph) error {
	_, err := BuildGraph(def)
	return err
}

// validateVariant проверяет обязательные поля варианта шага.
func validateVariant(spec *domain.StepSpec) error {
	switch spec.Type {
	case domain.StepTypeTask:
		// Team может быть пустой: команду подбирает внешний skill-matcher.

	case domain.StepTypeParallel, domain.StepTypeSequence:
		// Структурные шаги: полей нет.

	case domain.StepTypeCondition:
		if spec.Condition == "" {
			return NewValidationError(spec.ID, "condition",
				"condition step requires an expression", ErrInvalidVariant)
		}

	case domain.StepTypeLoop:
		if spec.Loop == nil || spec.Loop.MaxIterations <= 0 {
			return NewValidationError(spec.ID, "loop",
				"loop step requires max_iterations > 0", ErrInvalidVariant)
		}

	case domain.StepTypeSubworkflow:
		if spec.Subworkflow == nil || spec.Subworkflow.Definition == "" {
			return NewValidationError(spec.ID, "subworkflow",
				"subworkflow step requires a definition name", ErrInvalidVariant)
		}

	case domain.StepTypeApproval:
		if spec.Approval == nil || spec.Approval.MinApprovals <= 0 {
			return NewValidationError(spec.ID, "approval",
				"approval step requires min_approvals > 0", ErrInvalidVariant)
		}

	default:
		return NewValidationError(spec.ID, "type",
			fmt.Sprintf("unknown step type: %s", spec.Type), ErrUnknownStepType)
	}

	return nil
}

// addEdge добавляет ребро между узлами.
// Дубликаты игнорируются, чтобы не удваивать InDegree.
func (g *Graph) addEdge(from, to *Node) {
	for _, dep := range to.DependsOn {
		if dep.ID == from.ID {
			return // уже связаны
		}
	}
	from.Dependents = append(from.Dependents, to)
	to.DependsOn = append(to.DependsOn, from)
	to.InDegree++
}

// findRootNodes находит узлы без входящих рёбер.
func (g *Graph) findRootNodes() {
	g.RootNodes = make([]*Node, 0)
	for _, node := range g.Nodes {
		if node.InDegree == 0 {
			g.RootNodes = append(g.RootNodes, node)
		}
	}
}

// topologicalSort выполняет топологическую сортировку (алгоритм Кана).
// Возвращает ErrDependencyCycle, если обнаружен цикл.
func (g *Graph) topologicalSort() ([]*Node, error) {
	inDegree := make(map[string]int, len(g.Nodes))
	for id, node := range g.Nodes {
		inDegree[id] = node.InDegree
	}

	queue := make([]*Node, len(g.RootNodes))
	copy(queue, g.RootNodes)

	order := make([]*Node, 0, len(g.Nodes))

	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		order = append(order, node)

		for _, dependent := range node.Dependents {
			inDegree[dependent.ID]--
			if inDegree[dependent.ID] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(order) != len(g.Nodes) {
		return nil, ErrDependencyCycle
	}

	return order, nil
}

// GetNode возвращает узел по ID.
func (g *Graph) GetNode(id string) *Node {
	return g.Nodes[id]
}

// Size возвращает количество узлов.
func (g *Graph) Size() int {
	return len(g.Nodes)
}
