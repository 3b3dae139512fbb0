package status

import "fmt"

type Status int32

const (
	Unknown Status = iota
	Pending
	Queued
	Connecting
	Running
	Paused
	Completed
	Failed
	Cancelled
)

func (s Status) String() string {
	switch s {
	case Unknown:
		return "Unknown"
	case Pending:
		return "Pending"
	case Queued:
		return "Queued"
	case Connecting:
		return "Connecting"
	case Running:
		return "Running"
	case Paused:
		return "Paused"
	case Completed:
		return "Completed"
	case Failed:
		return "Failed"
	case Cancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("Unknown(%d)", int32(s))
	}
}

// IsTerminal reports whether no further transfer happens without a resubmit.
func (s Status) IsTerminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// IsInterrupt reports whether s is a user-requested stop.
func (s Status) IsInterrupt() bool {
	return s == Paused || s == Cancelled
}
