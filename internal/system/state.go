package system

// State tracks a unit's progress through the run lifecycle. Transitions are
// linear with two optional solve branches, an early exit after setup, and a
// Failed terminal reachable from parsing and setup.
type State int

const (
	Uninitialized State = iota
	Prepared
	Parsed
	Setup
	PowerFlowSolved
	TimeDomainSolved
	EigenSolved
	Done
	ExitEarly
	Failed
)

// String returns the state name for logs.
func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Prepared:
		return "prepared"
	case Parsed:
		return "parsed"
	case Setup:
		return "setup"
	case PowerFlowSolved:
		return "powerflow_solved"
	case TimeDomainSolved:
		return "timedomain_solved"
	case EigenSolved:
		return "eigen_solved"
	case Done:
		return "done"
	case ExitEarly:
		return "exit_early"
	case Failed:
		return "failed"
	default:
		return "invalid"
	}
}
