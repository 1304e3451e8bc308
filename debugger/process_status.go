package debugger

import (
	"fmt"
	"strings"
	"syscall"

	. "github.com/pattyshack/edb/debugger/common"
	"github.com/pattyshack/edb/debugger/loadedelf"
)

// ProcessStatus is the decoded result of the last wait on the process.
type ProcessStatus struct {
	Pid int

	Stopped    bool
	StopSignal syscall.Signal

	Signaled bool
	Signal   syscall.Signal

	Exited     bool
	ExitStatus int

	// Stopped only.  At a break point, the address is the break point's rather
	// than the raw program counter (which is one past the trap).
	loadedelf.Location

	// SIGTRAP stops only.
	TrapKind

	// Break point stops only.
	BreakPoint string
}

func newProcessStatus(pid int, waitStatus syscall.WaitStatus) ProcessStatus {
	status := ProcessStatus{Pid: pid}

	switch {
	case waitStatus.Stopped():
		status.Stopped = true
		status.StopSignal = waitStatus.StopSignal()
	case waitStatus.Signaled():
		status.Signaled = true
		status.Signal = waitStatus.Signal()
	case waitStatus.Exited():
		status.Exited = true
		status.ExitStatus = waitStatus.ExitStatus()
	}

	return status
}

func (status ProcessStatus) Running() bool {
	return !status.Stopped && !status.Terminated()
}

// Terminated is true once the process can no longer be resumed.
func (status ProcessStatus) Terminated() bool {
	return status.Signaled || status.Exited
}

func (status ProcessStatus) describeStop() string {
	builder := strings.Builder{}
	fmt.Fprintf(
		&builder,
		"process %d stopped\n  at: %s\n  with signal: %v",
		status.Pid,
		status.Location,
		status.StopSignal)

	if status.StopSignal != syscall.SIGTRAP || status.TrapKind == UnknownTrap {
		return builder.String()
	}

	fmt.Fprintf(&builder, " (%s)", status.TrapKind)
	if status.BreakPoint != "" {
		fmt.Fprintf(&builder, "\n    break point: %s", status.BreakPoint)
	}

	return builder.String()
}

func (status ProcessStatus) String() string {
	switch {
	case status.Stopped:
		return status.describeStop()
	case status.Signaled:
		return fmt.Sprintf(
			"process %d terminated with signal: %v",
			status.Pid,
			status.Signal)
	case status.Exited:
		return fmt.Sprintf(
			"process %d exited with status: %d",
			status.Pid,
			status.ExitStatus)
	default:
		return fmt.Sprintf("process %d running", status.Pid)
	}
}
