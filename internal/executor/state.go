package executor

// State is a step of one execution.
type State int

const (
	StateTriggered State = iota
	StateCheckingOps
	StateExecuting
	StateVerifying
	StateCompleted
	StateFailed
	StateCancelled
)

var stateNames = [...]string{
	StateTriggered:   "triggered",
	StateCheckingOps: "checking_ops",
	StateExecuting:   "executing",
	StateVerifying:   "verifying",
	StateCompleted:   "completed",
	StateFailed:      "failed",
	StateCancelled:   "cancelled",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Terminal reports whether s ends an execution.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
