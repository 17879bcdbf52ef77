package core

import "time"

// Clone returns a deep copy of the step. Parameter and result maps are
// copied one level deep; values are shared.
func (s *Step) Clone() *Step {
	c := *s
	c.DependsOn = append([]string(nil), s.DependsOn...)
	c.RequiredTools = append([]string(nil), s.RequiredTools...)
	c.Parameters = copyMap(s.Parameters)
	c.Results = copyMap(s.Results)
	c.StartedAt = copyTime(s.StartedAt)
	c.CompletedAt = copyTime(s.CompletedAt)

	return &c
}

// Clone returns a deep copy of the workflow.
func (w *Workflow) Clone() *Workflow {
	c := *w

	c.Steps = make(map[string]*Step, len(w.Steps))
	for id, step := range w.Steps {
		c.Steps[id] = step.Clone()
	}

	c.CompletedStepIDs = copySet(w.CompletedStepIDs)
	c.FailedStepIDs = copySet(w.FailedStepIDs)
	c.Metadata = copyMap(w.Metadata)
	c.Results = copyMap(w.Results)
	c.StartedAt = copyTime(w.StartedAt)
	c.CompletedAt = copyTime(w.CompletedAt)

	return &c
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}

	c := make(map[string]any, len(m))
	for k, v := range m {
		c[k] = v
	}

	return c
}

func copySet(s map[string]bool) map[string]bool {
	if s == nil {
		return nil
	}

	c := make(map[string]bool, len(s))
	for k := range s {
		c[k] = true
	}

	return c
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}

	c := *t
	return &c
}
