package runner

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/yairfalse/permitwatch/pkg/types"
)

// State is a position in the runner state machine:
//
//	Idle -> Running -> Succeeded | Failed -> Idle
//	Idle -> Terminated
type State int

const (
	StateIdle State = iota
	StateRunning
	StateSucceeded
	StateFailed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CycleResult is the outcome of one check cycle
type CycleResult struct {
	ID         string
	State      State
	Report     types.DiffReport
	Err        error
	StartedAt  time.Time
	FinishedAt time.Time
}

// Duration is how long the cycle took
func (r CycleResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Status describes the runner between cycles
type Status struct {
	State   State
	Cycles  int
	Failed  int
	Last    *CycleResult
	NextRun time.Time
	// Now is when the status was taken
	Now time.Time
}

func (s Status) String() string {
	line := fmt.Sprintf("%s after %d check(s), %d failed", s.State, s.Cycles, s.Failed)
	if s.Last != nil {
		line += fmt.Sprintf("; last check %s %s",
			s.Last.State, humanize.RelTime(s.Last.FinishedAt, s.Now, "ago", "from now"))
	}
	if !s.NextRun.IsZero() && s.State == StateIdle {
		line += fmt.Sprintf("; next check %s", humanize.RelTime(s.NextRun, s.Now, "ago", "from now"))
	}
	return line
}
