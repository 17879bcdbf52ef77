package log

const (
	NamespaceKey = "stepflow"

	WorkflowIDKey     = NamespaceKey + ".workflow.id"
	WorkflowNameKey   = NamespaceKey + ".workflow.name"
	WorkflowStatusKey = NamespaceKey + ".workflow.status"

	StepIDKey   = NamespaceKey + ".step.id"
	StepNameKey = NamespaceKey + ".step.name"
	StepTypeKey = NamespaceKey + ".step.type"

	TaskIDKey = NamespaceKey + ".task.id"

	EventTypeKey = NamespaceKey + ".event.type"

	AttemptKey  = NamespaceKey + ".attempt"
	DurationKey = NamespaceKey + ".duration_ms"
)
