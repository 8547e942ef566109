package launcher

import (
	"fmt"
	"strings"
)

// Outcome discriminates the results of WaitPid.
type Outcome int

const (
	// Reaped means the child changed state and its status was collected.
	Reaped Outcome = iota
	// NoChild means there is no such child: it was already reaped or never
	// existed.
	NoChild
	// WouldBlock is returned by a no-hang wait on a child that is still running.
	WouldBlock
	// Interrupted means the wait was cancelled cooperatively.
	Interrupted
)

func (o Outcome) String() string {
	switch o {
	case Reaped:
		return "reaped"
	case NoChild:
		return "no_child"
	case WouldBlock:
		return "would_block"
	case Interrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// ExitStatus is the result of a wait. At most one of ExitCode, TermSig and
// StopSig is set, and only when Outcome is Reaped.
type ExitStatus struct {
	Pid      int
	Outcome  Outcome
	ExitCode *int
	TermSig  *int
	StopSig  *int
}

// String renders the status for logs and the shell.
func (s ExitStatus) String() string {
	if s.Outcome != Reaped {
		return fmt.Sprintf("pid %d: %s", s.Pid, s.Outcome)
	}
	var parts []string
	if s.ExitCode != nil {
		parts = append(parts, fmt.Sprintf("exit %d", *s.ExitCode))
	}
	if s.TermSig != nil {
		parts = append(parts, fmt.Sprintf("signal %d", *s.TermSig))
	}
	if s.StopSig != nil {
		parts = append(parts, fmt.Sprintf("stopped %d", *s.StopSig))
	}
	return fmt.Sprintf("pid %d: %s", s.Pid, strings.Join(parts, ", "))
}

func intPtr(v int) *int {
	return &v
}
