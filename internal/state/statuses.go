package state

// JobStatus is the lifecycle state of a job from submission to a terminal state.
type JobStatus string

const (
	StatusQueued      JobStatus = "queued"
	StatusWaitingDeps JobStatus = "waiting_dependencies"
	StatusDelayed     JobStatus = "delayed"
	StatusActive      JobStatus = "active"
	StatusRetrying    JobStatus = "retrying"
	StatusCompleted   JobStatus = "completed"
	StatusFailed      JobStatus = "failed"
	StatusCancelled   JobStatus = "cancelled"
)

func (s JobStatus) String() string {
	return string(s)
}

// Terminal reports whether a job in this status will never run again
// without operator intervention.
func (s JobStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

var AllStatuses = []JobStatus{
	StatusQueued,
	StatusWaitingDeps,
	StatusDelayed,
	StatusActive,
	StatusRetrying,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

type Transition struct {
	From JobStatus
	To   JobStatus
}

var ValidTransitions = []Transition{
	{From: StatusWaitingDeps, To: StatusQueued},
	{From: StatusWaitingDeps, To: StatusCancelled},
	{From: StatusDelayed, To: StatusQueued},
	{From: StatusDelayed, To: StatusCancelled},
	{From: StatusQueued, To: StatusActive},
	{From: StatusQueued, To: StatusCancelled},
	{From: StatusActive, To: StatusCompleted},
	{From: StatusActive, To: StatusRetrying},
	{From: StatusActive, To: StatusFailed},
	{From: StatusActive, To: StatusCancelled},
	// reclaim of a job abandoned by a dead instance
	{From: StatusActive, To: StatusQueued},
	{From: StatusRetrying, To: StatusQueued},
	{From: StatusRetrying, To: StatusCancelled},
	// operator-initiated retry of a permanently failed job
	{From: StatusFailed, To: StatusQueued},
}

func IsValidTransition(from, to JobStatus) bool {
	for _, t := range ValidTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}
