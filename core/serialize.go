package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Persisted wire form. Timestamps are RFC3339, durations are seconds, enum
// values are plain strings, and the step id sets are sorted lists. This is
// the shape the backends store and the only form in which workflows cross
// process boundaries.

type stepDoc struct {
	ID                  string         `json:"id"`
	Name                string         `json:"name"`
	Type                string         `json:"step_type"`
	Status              string         `json:"status"`
	DependsOn           []string       `json:"depends_on,omitempty"`
	Condition           string         `json:"condition,omitempty"`
	Parameters          map[string]any `json:"parameters,omitempty"`
	TimeoutSeconds      float64        `json:"timeout,omitempty"`
	RetryCount          int            `json:"retry_count"`
	MaxRetries          int            `json:"max_retries"`
	TaskID              string         `json:"task_id,omitempty"`
	AgentID             string         `json:"agent_id,omitempty"`
	RequiredTools       []string       `json:"required_tools,omitempty"`
	IntegrationID       string         `json:"integration_id,omitempty"`
	IntegrationMethod   string         `json:"integration_method,omitempty"`
	IntegrationEndpoint string         `json:"integration_endpoint,omitempty"`
	Results             map[string]any `json:"results,omitempty"`
	ErrorMessage        string         `json:"error_message,omitempty"`
	StartedAt           *time.Time     `json:"started_at,omitempty"`
	CompletedAt         *time.Time     `json:"completed_at,omitempty"`
	ExecutionSeconds    float64        `json:"execution_time,omitempty"`
}

type workflowDoc struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	Description      string              `json:"description"`
	Status           string              `json:"status"`
	Steps            map[string]*stepDoc `json:"steps"`
	Metadata         map[string]any      `json:"metadata,omitempty"`
	CreatedBy        string              `json:"created_by,omitempty"`
	TimeoutSeconds   float64             `json:"timeout,omitempty"`
	MaxParallelSteps int                 `json:"max_parallel_steps"`
	AutoRetryFailed  bool                `json:"auto_retry_failed"`
	CompletedStepIDs []string            `json:"completed_step_ids"`
	FailedStepIDs    []string            `json:"failed_step_ids"`
	CreatedAt        time.Time           `json:"created_at"`
	StartedAt        *time.Time          `json:"started_at,omitempty"`
	CompletedAt      *time.Time          `json:"completed_at,omitempty"`
	ExecutionSeconds float64             `json:"execution_time,omitempty"`
	Results          map[string]any      `json:"results,omitempty"`
	ErrorMessage     string              `json:"error_message,omitempty"`
}

// Serialize converts the workflow into its persisted JSON form.
func (w *Workflow) Serialize() ([]byte, error) {
	doc := &workflowDoc{
		ID:               w.ID,
		Name:             w.Name,
		Description:      w.Description,
		Status:           string(w.Status),
		Steps:            make(map[string]*stepDoc, len(w.Steps)),
		Metadata:         w.Metadata,
		CreatedBy:        w.CreatedBy,
		TimeoutSeconds:   w.Timeout.Seconds(),
		MaxParallelSteps: w.MaxParallelSteps,
		AutoRetryFailed:  w.AutoRetryFailed,
		CompletedStepIDs: sortedIDs(w.CompletedStepIDs),
		FailedStepIDs:    sortedIDs(w.FailedStepIDs),
		CreatedAt:        w.CreatedAt,
		StartedAt:        w.StartedAt,
		CompletedAt:      w.CompletedAt,
		ExecutionSeconds: w.ExecutionTime.Seconds(),
		Results:          w.Results,
		ErrorMessage:     w.ErrorMessage,
	}

	for id, step := range w.Steps {
		doc.Steps[id] = &stepDoc{
			ID:                  step.ID,
			Name:                step.Name,
			Type:                string(step.Type),
			Status:              string(step.Status),
			DependsOn:           step.DependsOn,
			Condition:           step.Condition,
			Parameters:          step.Parameters,
			TimeoutSeconds:      step.Timeout.Seconds(),
			RetryCount:          step.RetryCount,
			MaxRetries:          step.MaxRetries,
			TaskID:              step.TaskID,
			AgentID:             step.AgentID,
			RequiredTools:       step.RequiredTools,
			IntegrationID:       step.IntegrationID,
			IntegrationMethod:   step.IntegrationMethod,
			IntegrationEndpoint: step.IntegrationEndpoint,
			Results:             step.Results,
			ErrorMessage:        step.ErrorMessage,
			StartedAt:           step.StartedAt,
			CompletedAt:         step.CompletedAt,
			ExecutionSeconds:    step.ExecutionTime.Seconds(),
		}
	}

	return json.Marshal(doc)
}

// DeserializeWorkflow restores a workflow from its persisted JSON form.
func DeserializeWorkflow(data []byte) (*Workflow, error) {
	var doc workflowDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling workflow: %w", err)
	}

	w := &Workflow{
		ID:               doc.ID,
		Name:             doc.Name,
		Description:      doc.Description,
		Status:           WorkflowStatus(doc.Status),
		Steps:            make(map[string]*Step, len(doc.Steps)),
		Metadata:         doc.Metadata,
		CreatedBy:        doc.CreatedBy,
		Timeout:          secondsToDuration(doc.TimeoutSeconds),
		MaxParallelSteps: doc.MaxParallelSteps,
		AutoRetryFailed:  doc.AutoRetryFailed,
		CompletedStepIDs: idSet(doc.CompletedStepIDs),
		FailedStepIDs:    idSet(doc.FailedStepIDs),
		CreatedAt:        doc.CreatedAt,
		StartedAt:        doc.StartedAt,
		CompletedAt:      doc.CompletedAt,
		ExecutionTime:    secondsToDuration(doc.ExecutionSeconds),
		Results:          doc.Results,
		ErrorMessage:     doc.ErrorMessage,
	}

	for id, sd := range doc.Steps {
		w.Steps[id] = &Step{
			ID:                  sd.ID,
			Name:                sd.Name,
			Type:                StepType(sd.Type),
			Status:              StepStatus(sd.Status),
			DependsOn:           sd.DependsOn,
			Condition:           sd.Condition,
			Parameters:          sd.Parameters,
			Timeout:             secondsToDuration(sd.TimeoutSeconds),
			RetryCount:          sd.RetryCount,
			MaxRetries:          sd.MaxRetries,
			TaskID:              sd.TaskID,
			AgentID:             sd.AgentID,
			RequiredTools:       sd.RequiredTools,
			IntegrationID:       sd.IntegrationID,
			IntegrationMethod:   sd.IntegrationMethod,
			IntegrationEndpoint: sd.IntegrationEndpoint,
			Results:             sd.Results,
			ErrorMessage:        sd.ErrorMessage,
			StartedAt:           sd.StartedAt,
			CompletedAt:         sd.CompletedAt,
			ExecutionTime:       secondsToDuration(sd.ExecutionSeconds),
		}
	}

	return w, nil
}

func sortedIDs(set map[string]bool) []string {
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	return ids
}

func idSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}

	return set
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
