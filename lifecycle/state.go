package lifecycle

import "fmt"

// State is the engine lifecycle state. Modeling this as an explicit state
// machine (rather than a running flag) makes illegal transitions
// unrepresentable: each command checks the state it requires and fails
// with a LifecycleError otherwise.
type State int32

// Lifecycle states.
const (
	Stopped State = iota
	Starting
	Running
	Stopping
	Restarting
	Reloading
	ForceStopped
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	case Restarting:
		return "restarting"
	case Reloading:
		return "reloading"
	case ForceStopped:
		return "force-stopped"
	}
	return "unknown"
}

// Status is what the console's engine control panel polls.
type Status struct {
	IsRunning      bool   `json:"isRunning"`
	State          string `json:"state"`
	RuleSetVersion int64  `json:"ruleSetVersion,omitempty"`
	RuleCount      int    `json:"ruleCount,omitempty"`
}

// LifecycleError reports a command attempted from a state that does not
// permit it. The console surfaces it as a command rejection.
type LifecycleError struct {
	Op    string
	State State
}

func (e *LifecycleError) Error() string {
	return fmt.Sprintf("cannot %s: engine is %s", e.Op, e.State)
}
