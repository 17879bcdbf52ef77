package backend

import "time"

type Stats struct {
	// TotalWorkflows is the number of stored workflows.
	TotalWorkflows int64

	// ByStatus counts the stored workflows per status value.
	ByStatus map[string]int64

	// AvgExecutionTime is the average execution time of completed
	// workflows, zero when none completed yet.
	AvgExecutionTime time.Duration
}
