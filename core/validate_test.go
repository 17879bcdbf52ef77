package core

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		build   func(w *Workflow)
		wantErr int
	}{
		{
			name: "linear chain",
			build: func(w *Workflow) {
				w.AddStep(newStep("a"))
				w.AddStep(newStep("b", "a"))
				w.AddStep(newStep("c", "b"))
			},
		},
		{
			name: "diamond",
			build: func(w *Workflow) {
				w.AddStep(newStep("a"))
				w.AddStep(newStep("b", "a"))
				w.AddStep(newStep("c", "a"))
				w.AddStep(newStep("d", "b", "c"))
			},
		},
		{
			name: "three step cycle",
			build: func(w *Workflow) {
				w.AddStep(newStep("a", "c"))
				w.AddStep(newStep("b", "a"))
				w.AddStep(newStep("c", "b"))
			},
			wantErr: 1,
		},
		{
			name: "self reference",
			build: func(w *Workflow) {
				w.AddStep(newStep("a", "a"))
			},
			wantErr: 2, // self-reference and cycle
		},
		{
			name: "unknown dependency",
			build: func(w *Workflow) {
				w.AddStep(newStep("a", "ghost"))
			},
			wantErr: 1,
		},
		{
			name: "cycle in disconnected subgraph",
			build: func(w *Workflow) {
				w.AddStep(newStep("a"))
				w.AddStep(newStep("b", "a"))
				w.AddStep(newStep("x", "y"))
				w.AddStep(newStep("y", "x"))
			},
			wantErr: 1,
		},
		{
			name: "collects all errors",
			build: func(w *Workflow) {
				w.AddStep(newStep("a", "ghost"))
				w.AddStep(newStep("b", "phantom"))
				w.AddStep(newStep("x", "y"))
				w.AddStep(newStep("y", "x"))
			},
			wantErr: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewWorkflow("test", "", "")
			tt.build(w)

			errs := w.Validate()
			require.Len(t, errs, tt.wantErr)
		})
	}
}
