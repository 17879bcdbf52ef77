package metrickeys

const (
	Prefix = "stepflow."

	// Workflows
	WorkflowStarted  = Prefix + "workflow.started"
	WorkflowFinished = Prefix + "workflow.finished"
	WorkflowRejected = Prefix + "workflow.rejected"
	ActiveWorkflows  = Prefix + "workflow.active"
	WorkflowDuration = Prefix + "workflow.duration"

	// Steps
	StepDispatched = Prefix + "step.dispatched"
	StepCompleted  = Prefix + "step.completed"
	StepFailed     = Prefix + "step.failed"
	StepRetried    = Prefix + "step.retried"
	StepDuration   = Prefix + "step.duration"

	// Client status cache
	StatusCacheSize = Prefix + "client.status_cache.size"

	// Backend persistence
	WorkflowSaved = Prefix + "backend.workflow_saved"
)

// Tag names
const (
	// Backend being used
	Backend = "backend"

	StepType = "step_type"

	// Final workflow status
	Status = "status"

	// Reason a workflow execution request was rejected
	RejectReason = "reason"
)
