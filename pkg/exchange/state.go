package exchange

// State is the lifecycle of an Exchange
type State int32

// Lifecycle states
const (
	// StateNew accepts no events until Start
	StateNew State = iota
	// StateActive accepts events
	StateActive
	// StateDraining waits for product engines after the last broker shut down
	StateDraining
	// StateDone holds the result
	StateDone
)

// String implements Stringer interface
func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateActive:
		return "ACTIVE"
	case StateDraining:
		return "DRAINING"
	case StateDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}
