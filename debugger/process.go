package debugger

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"

	. "github.com/pattyshack/edb/debugger/common"
	"github.com/pattyshack/edb/ptrace"
)

// Process is the process control surface consumed by the Debugger.  Resume and
// single step are only available together with their wait so that two control
// requests can never be issued back to back.
type Process interface {
	Pid() int

	// Registers / memory access are only valid while the process is stopped.
	GetRegisters() (*ptrace.UserRegs, error)
	SetRegisters(*ptrace.UserRegs) error

	PeekWord(address VirtualAddress) (uint64, error)
	PokeWord(address VirtualAddress, word uint64) error

	ReadMemory(address VirtualAddress, out []byte) (int, error)

	// Only meaningful when the last stop was a SIGTRAP.
	TrapKind() (TrapKind, error)

	ResumeAndWait() (syscall.WaitStatus, error)
	SingleStepAndWait() (syscall.WaitStatus, error)

	// Close detaches from the process.  A process started by the debugger is
	// also killed.
	Close() error
}

type tracedProcess struct {
	*ptrace.Tracer
	ownsProcess bool
}

// StartProcess starts path under trace and waits for its initial (exec) stop.
func StartProcess(
	path string,
	args ...string,
) (
	Process,
	syscall.WaitStatus,
	error,
) {
	cmd := exec.Command(path, args...)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	tracer, err := ptrace.StartAndAttachToProcess(cmd)
	if err != nil {
		return nil, 0, fmt.Errorf(
			"%w. failed to start %s: %v",
			ErrProcessControl,
			path,
			err)
	}

	proc := &tracedProcess{
		Tracer:      tracer,
		ownsProcess: true,
	}

	status, err := proc.initialize()
	if err != nil {
		return nil, 0, err
	}

	return proc, status, nil
}

// AttachToProcess attaches to a running process and waits for it to stop.
func AttachToProcess(pid int) (Process, syscall.WaitStatus, error) {
	tracer, err := ptrace.AttachToProcess(pid)
	if err != nil {
		return nil, 0, fmt.Errorf(
			"%w. failed to attach to process %d: %v",
			ErrProcessControl,
			pid,
			err)
	}

	proc := &tracedProcess{
		Tracer:      tracer,
		ownsProcess: false,
	}

	status, err := proc.initialize()
	if err != nil {
		return nil, 0, err
	}

	return proc, status, nil
}

func (proc *tracedProcess) initialize() (syscall.WaitStatus, error) {
	status, err := proc.Wait()
	if err != nil {
		_ = proc.Close()
		return 0, fmt.Errorf("%w. %v", ErrWait, err)
	}

	if !status.Stopped() {
		_ = proc.Close()
		return 0, fmt.Errorf(
			"%w. process %d did not stop after attach",
			ErrProcessControl,
			proc.Tracer.Pid)
	}

	if proc.ownsProcess {
		err = proc.SetOptions(ptrace.O_EXITKILL)
		if err != nil {
			_ = proc.Close()
			return 0, fmt.Errorf("%w. %v", ErrProcessControl, err)
		}
	}

	return status, nil
}

func (proc *tracedProcess) Pid() int {
	return proc.Tracer.Pid
}

func (proc *tracedProcess) PeekWord(address VirtualAddress) (uint64, error) {
	return proc.Tracer.PeekWord(uintptr(address))
}

func (proc *tracedProcess) PokeWord(address VirtualAddress, word uint64) error {
	return proc.Tracer.PokeWord(uintptr(address), word)
}

func (proc *tracedProcess) ReadMemory(
	address VirtualAddress,
	out []byte,
) (
	int,
	error,
) {
	return proc.Tracer.ReadMemory(uintptr(address), out)
}

func (proc *tracedProcess) TrapKind() (TrapKind, error) {
	code, err := proc.SigInfoCode()
	if err != nil {
		return UnknownTrap, err
	}

	return TrapCodeToKind(code), nil
}

func (proc *tracedProcess) ResumeAndWait() (syscall.WaitStatus, error) {
	err := proc.Resume(0)
	if err != nil {
		return 0, err
	}

	return proc.Wait()
}

func (proc *tracedProcess) SingleStepAndWait() (syscall.WaitStatus, error) {
	err := proc.SingleStep()
	if err != nil {
		return 0, err
	}

	return proc.Wait()
}

func (proc *tracedProcess) signal(signal syscall.Signal) error {
	err := syscall.Kill(proc.Tracer.Pid, signal)
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		return fmt.Errorf(
			"failed to signal to process %d (%v): %w",
			proc.Tracer.Pid,
			signal,
			err)
	}

	return nil
}

// Close expects the process to be stopped (or gone).  Failures caused by the
// process no longer existing are ignored.
func (proc *tracedProcess) Close() error {
	if proc.Detached() {
		return nil
	}

	err := proc.Detach()
	if err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}

	err = proc.signal(syscall.SIGCONT)
	if err != nil {
		return err
	}

	if proc.ownsProcess {
		err = proc.signal(syscall.SIGKILL)
		if err != nil {
			return err
		}

		// Reap the child.  This fails with ECHILD if the process already exited
		// and was waited on.
		_, _ = proc.Wait()
	}

	return nil
}
