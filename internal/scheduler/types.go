package scheduler

import "time"

// TaskType identifies one maintenance job.
type TaskType string

const (
	TaskPurgeDispatches     TaskType = "purge_dispatches"
	TaskPurgeNotifications  TaskType = "purge_notifications"
	TaskReapStaleDispatches TaskType = "reap_stale_dispatches"
	TaskFailStalePending    TaskType = "fail_stale_pending"
)

// AllTasks is the order the in-process runner executes jobs in. Reaping goes
// first so orphaned rows are closed before retention looks at them.
var AllTasks = []TaskType{
	TaskReapStaleDispatches,
	TaskFailStalePending,
	TaskPurgeDispatches,
	TaskPurgeNotifications,
}

// MaintenancePayload is the event body of a scheduled invocation:
//
//	{
//	  "task": "purge_dispatches",
//	  "reference_time": "2026-03-02T03:00:00Z"  // optional
//	}
type MaintenancePayload struct {
	Task TaskType `json:"task"`
	// ReferenceTime replaces "now" for manual runs and backfills.
	ReferenceTime *time.Time `json:"reference_time,omitempty"`
}
