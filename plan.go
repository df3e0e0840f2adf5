package paysaga

import (
	"errors"
	"fmt"
	"sort"

	"github.com/fortressi/paysaga/dag"
	"github.com/fortressi/paysaga/set"
	"gonum.org/v1/gonum/graph"
	"gonum.org/v1/gonum/graph/encoding"
	"gonum.org/v1/gonum/graph/topo"
)

// Plan is the dependency graph of a saga's steps. Steps in the same level
// have no dependency on each other and run concurrently.
type Plan struct {
	graph *dag.Graph
	steps map[int64]StepName
	ids   map[StepName]int64
}

// PlanBuilder builds a Plan by appending stages of steps. Each stage depends
// on every step of the stage before it.
type PlanBuilder struct {
	plan *Plan

	// the most recently appended stage (current leaves)
	lastAdded []int64
	names     *set.Set[StepName]
}

// NewPlanBuilder starts an empty plan.
func NewPlanBuilder(name string) *PlanBuilder {
	return &PlanBuilder{
		plan: &Plan{
			graph: dag.New(name),
			steps: make(map[int64]StepName),
			ids:   make(map[StepName]int64),
		},
		names: &set.Set[StepName]{},
	}
}

// Append adds a stage of one step.
func (b *PlanBuilder) Append(step StepName) error {
	return b.AppendParallel(step)
}

// AppendParallel adds a stage of steps that may run concurrently.
func (b *PlanBuilder) AppendParallel(steps ...StepName) error {
	// An empty stage would split the plan in two disconnected parts.
	if len(steps) == 0 {
		return errors.New("empty stage")
	}

	added := make([]int64, 0, len(steps))
	for _, step := range steps {
		if !b.names.Insert(step) {
			return fmt.Errorf("step with name '%s' already exists", step)
		}

		node := b.plan.graph.NewNode(string(step))
		_ = node.SetAttribute(encoding.Attribute{Key: "label", Value: string(step)})
		if len(steps) > 1 {
			_ = node.SetAttribute(encoding.Attribute{Key: "style", Value: "dashed"})
		}
		b.plan.graph.AddNode(node)
		b.plan.steps[node.ID()] = step
		b.plan.ids[step] = node.ID()

		for _, parent := range b.lastAdded {
			if err := b.plan.graph.Connect(parent, node.ID()); err != nil {
				return fmt.Errorf("dependsOnLast: %w", err)
			}
		}
		added = append(added, node.ID())
	}

	b.lastAdded = added
	return nil
}

// Build finalizes the plan. It must end with exactly one step.
func (b *PlanBuilder) Build() (*Plan, error) {
	if b.names.Len() == 0 {
		return nil, errors.New("plan has no steps")
	}
	if len(b.lastAdded) != 1 {
		return nil, errors.New("plan must end with exactly one leaf step")
	}
	return b.plan, nil
}

// NewPaymentPlan returns the step plan for cfg.
func NewPaymentPlan(cfg SagaConfig) (*Plan, error) {
	b := NewPlanBuilder("payment")
	stages := [][]StepName{
		{StepValidate},
		{StepLockRate},
		{StepFraud, StepAML, StepSanctions},
		{StepApproval},
	}
	if cfg.AuthorizeBeforeCapture {
		stages = append(stages, []StepName{StepAuthorize})
	}
	stages = append(stages, []StepName{StepCapture}, []StepName{StepLedger}, []StepName{StepNotify})

	for _, stage := range stages {
		if err := b.AppendParallel(stage...); err != nil {
			return nil, err
		}
	}
	return b.Build()
}

// Order returns the steps in a deterministic topological order.
func (p *Plan) Order() ([]StepName, error) {
	sorted, err := topo.SortStabilized(p.graph, func(nodes []graph.Node) {
		sort.Slice(nodes, func(i, j int) bool {
			return nodes[i].ID() < nodes[j].ID()
		})
	})
	if err != nil {
		return nil, fmt.Errorf("topological sort failed (cycle detected?): %w", err)
	}

	order := make([]StepName, len(sorted))
	for i, node := range sorted {
		order[i] = p.steps[node.ID()]
	}
	return order, nil
}

// Levels groups the steps into stages whose dependencies all lie in earlier
// stages.
func (p *Plan) Levels() ([][]StepName, error) {
	order, err := p.Order()
	if err != nil {
		return nil, err
	}

	depth := make(map[int64]int, len(order))
	maxDepth := 0
	for _, step := range order {
		id := p.ids[step]
		d := 0
		preds := p.graph.To(id)
		for preds.Next() {
			if pd := depth[preds.Node().ID()] + 1; pd > d {
				d = pd
			}
		}
		depth[id] = d
		if d > maxDepth {
			maxDepth = d
		}
	}

	levels := make([][]StepName, maxDepth+1)
	for _, step := range order {
		d := depth[p.ids[step]]
		levels[d] = append(levels[d], step)
	}
	return levels, nil
}

// Contains reports whether step is part of the plan.
func (p *Plan) Contains(step StepName) bool {
	_, ok := p.ids[step]
	return ok
}

// ExportToDot renders the plan in Graphviz format.
func (p *Plan) ExportToDot() (string, error) {
	return p.graph.ExportToDot()
}
