package models

// Event names published by the coordinator.
const (
	EventWorkerCreated = "worker_created"
	EventWorkerExited  = "worker_exited"
	EventTaskAssigned  = "task_assigned"
	EventTaskCompleted = "task_completed"
	EventTaskFailed    = "task_failed"
	EventTaskProgress  = "task_progress"
	EventJobQueued     = "job_queued"
	EventJobCancelled  = "job_cancelled"
	EventScaleUp       = "scale_up"
	EventScaleDown     = "scale_down"
	EventPoolStatus    = "pool_status"
)

// Event is the cross-instance message shape on the shared channel.
type Event struct {
	Event       string         `json:"event"`
	Data        map[string]any `json:"data"`
	InstanceID  string         `json:"instanceId"`
	TimestampMs int64          `json:"timestampMs"`
}
