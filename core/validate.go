package core

import (
	"fmt"
	"sort"
)

// ValidationError describes a single problem with a workflow's step graph.
type ValidationError struct {
	StepID  string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("step %s: %s", e.StepID, e.Message)
}

// Validate checks the step graph for unknown dependencies, self-references,
// and cycles. All problems are collected, not just the first one. An empty
// result means the graph is a valid DAG with fully resolved references.
func (w *Workflow) Validate() []error {
	var errs []error

	// Deterministic iteration order for stable error lists
	ids := make([]string, 0, len(w.Steps))
	for id := range w.Steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		for _, dep := range w.Steps[id].DependsOn {
			if dep == id {
				errs = append(errs, &ValidationError{StepID: id, Message: "depends on itself"})
				continue
			}

			if _, ok := w.Steps[dep]; !ok {
				errs = append(errs, &ValidationError{
					StepID:  id,
					Message: fmt.Sprintf("depends on non-existent step %s", dep),
				})
			}
		}
	}

	visited := map[string]bool{}
	stack := map[string]bool{}

	var visit func(id string) bool
	visit = func(id string) bool {
		visited[id] = true
		stack[id] = true

		if step, ok := w.Steps[id]; ok {
			for _, dep := range step.DependsOn {
				if !visited[dep] {
					if visit(dep) {
						return true
					}
				} else if stack[dep] {
					return true
				}
			}
		}

		stack[id] = false

		return false
	}

	// Start a search from every unvisited step; cycles can live in
	// disconnected subgraphs.
	for _, id := range ids {
		if !visited[id] {
			if visit(id) {
				errs = append(errs, &ValidationError{
					StepID:  id,
					Message: "circular dependency detected",
				})
			}
		}
	}

	return errs
}
