package state

// WorkerState is the lifecycle state of a worker instance in the pool.
type WorkerState string

const (
	WorkerCreated    WorkerState = "created"
	WorkerReady      WorkerState = "ready"
	WorkerAvailable  WorkerState = "available"
	WorkerBusy       WorkerState = "busy"
	WorkerUnhealthy  WorkerState = "unhealthy"
	WorkerTerminated WorkerState = "terminated"
)

func (s WorkerState) String() string {
	return string(s)
}

var ValidWorkerTransitions = []struct {
	From WorkerState
	To   WorkerState
}{
	{From: WorkerCreated, To: WorkerReady},
	{From: WorkerReady, To: WorkerAvailable},
	{From: WorkerReady, To: WorkerTerminated},
	{From: WorkerAvailable, To: WorkerBusy},
	{From: WorkerBusy, To: WorkerAvailable},
	{From: WorkerAvailable, To: WorkerUnhealthy},
	{From: WorkerBusy, To: WorkerUnhealthy},
	{From: WorkerAvailable, To: WorkerTerminated},
	{From: WorkerBusy, To: WorkerTerminated},
	{From: WorkerUnhealthy, To: WorkerTerminated},
}

func IsValidWorkerTransition(from, to WorkerState) bool {
	for _, t := range ValidWorkerTransitions {
		if t.From == from && t.To == to {
			return true
		}
	}
	return false
}
