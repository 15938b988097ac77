package sluice

// State is the lifecycle state of a Dispatcher. Transitions are
// one-way: New → Running → Draining → Stopped. A stopped dispatcher
// cannot be restarted.
type State int32

const (
	// StateNew means the dispatcher was created but not started.
	StateNew State = iota

	// StateRunning means admission is open and workers are processing.
	StateRunning

	// StateDraining means shutdown has begun: admission is closed and
	// already-admitted requests are finishing.
	StateDraining

	// StateStopped means all workers have exited and the statistics
	// snapshot is final.
	StateStopped
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case StateNew:
		return "new"
	case StateRunning:
		return "running"
	case StateDraining:
		return "draining"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
