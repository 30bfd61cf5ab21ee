package connector

import (
	"errors"
	"fmt"
	"time"
)

// SuspendSignal is returned (as an error) by an action that wants the
// execution parked until an external resume, e.g. a human approval. The
// engine persists the execution as waiting instead of recording a failure.
type SuspendSignal struct {
	// ResumeAt, when set, lets the scheduler re-enter the execution at
	// that time. Nil means "wait for an explicit external resume".
	ResumeAt *time.Time
}

func (s *SuspendSignal) Error() string {
	if s.ResumeAt != nil {
		return fmt.Sprintf("execution suspended until %s", s.ResumeAt.Format(time.RFC3339))
	}

	return "execution suspended pending external resume"
}

// AsSuspend extracts a suspend signal from a node error chain.
func AsSuspend(err error) (*SuspendSignal, bool) {
	var signal *SuspendSignal
	if errors.As(err, &signal) {
		return signal, true
	}

	return nil, false
}
