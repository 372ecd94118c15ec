package workflow

import "fmt"

// Status classifies one per-course registration attempt.
type Status int

const (
	StatusSuccess Status = iota
	StatusAlreadyRegistered
	StatusUnavailable
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusAlreadyRegistered:
		return "already_registered"
	case StatusUnavailable:
		return "unavailable"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Outcome is the transient result of one course attempt within a run.
// Reason carries the failing step name (or a short detail) for errors.
type Outcome struct {
	CourseID string
	Status   Status
	Reason   string
}

// Registrable reports whether the outcome should mark the course as
// registered in the account record.
func (o Outcome) Registrable() bool {
	return o.Status == StatusSuccess || o.Status == StatusAlreadyRegistered
}
