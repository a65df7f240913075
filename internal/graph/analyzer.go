package graph

import (
	"context"
	"fmt"
	"sort"
)

// color marks a task's DFS visitation state during cycle detection.
type color int

const (
	white color = iota
	gray
	black
)

// analyze validates acyclicity and applies checkpoint pruning.
// It must run before the scheduler starts, and only once: nested tasks
// created during execution bypass it entirely and are treated
// as immediately-ready independent goals.
func (g *Graph) analyze() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if len(g.tasks) == 0 {
		g.log.Info("DR: No task in the graph")
		return nil
	}

	goals := make([]*Task, 0)
	for _, t := range g.tasks {
		if len(t.Outputs) == 0 {
			goals = append(goals, t)
		}
	}
	if len(goals) == 0 {
		return &CycleError{Detail: "no goal task: every task has a downstream"}
	}
	// Deterministic iteration order; observable only through log ordering.
	sort.Slice(goals, func(i, j int) bool { return goals[i].ID < goals[j].ID })

	colors := make(map[int]color, len(g.tasks))
	survivors := make(map[int]*Task, len(g.tasks))
	skipped := 0

	var visit func(t *Task) error
	visit = func(t *Task) error {
		switch colors[t.ID] {
		case gray:
			return &CycleError{Detail: fmt.Sprintf("task %s participates in a cycle", t.Name)}
		case black:
			return nil
		}

		if t.Ckpt != "" {
			value, ok, err := g.ckpt.Probe(t.Ckpt)
			if err != nil {
				return wrapCheckpointErr(t.Ckpt, err)
			}
			if ok {
				t.result = value
				t.state = Skipped
				colors[t.ID] = black
				skipped++
				g.metrics.TasksSkipped.Add(context.Background(), 1)
				g.log.Info(fmt.Sprintf("DR: there is a ckpt %s for %s", t.Ckpt, t.Name))
				return nil
			}
		}

		colors[t.ID] = gray
		survivors[t.ID] = t
		for _, in := range t.Inputs {
			if err := visit(in); err != nil {
				return err
			}
		}
		colors[t.ID] = black
		return nil
	}

	for _, goal := range goals {
		if err := visit(goal); err != nil {
			return err
		}
	}

	pruned := len(g.tasks) - len(survivors)
	g.tasks = survivors
	if skipped > 0 {
		g.log.Info(fmt.Sprintf("DR: %d tasks were skipped thanks to ckpts", skipped))
	}
	if pruned > 0 {
		g.log.Debug("analyzer pruned upstream subgraph", "pruned", pruned-skipped, "skipped", skipped)
	}
	return nil
}
