package request

import "github.com/NamanBalaji/rdm/internal/status"

type Outcome int

const (
	Successful Outcome = iota
	Cancelled
	Paused
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Successful:
		return "successful"
	case Cancelled:
		return "cancelled"
	case Paused:
		return "paused"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Status maps an outcome to the request status it leaves behind.
func (o Outcome) Status() status.Status {
	switch o {
	case Successful:
		return status.Completed
	case Cancelled:
		return status.Cancelled
	case Paused:
		return status.Paused
	default:
		return status.Failed
	}
}

// Response is the terminal result of one run. Err is set only when
// Outcome is Failed.
type Response struct {
	Outcome Outcome
	Err     error
}

func Success() Response { return Response{Outcome: Successful} }
func Cancel() Response { return Response{Outcome: Cancelled} }
func Pause() Response { return Response{Outcome: Paused} }
func Fail(err error) Response {
	return Response{Outcome: Failed, Err: err}
}
